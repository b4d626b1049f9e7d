package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/birddigital/voicebridge/pkg/callstore"
)

// SessionDialer opens the AI-side socket for a relay. *realtime.Dialer
// satisfies it.
type SessionDialer interface {
	Dial(ctx context.Context) (*websocket.Conn, error)
}

// HubConfig configures the bridge hub.
type HubConfig struct {
	Dialer SessionDialer
	Store  callstore.Store
	Events EventRecorder

	// Defaults applied when a call's frozen metadata leaves a field empty.
	DefaultVoice        string
	DefaultInstructions string
	DefaultGreeting     string

	KeepaliveInterval time.Duration
	TurnDebounce      time.Duration
	BootstrapDelay    time.Duration

	Log zerolog.Logger
}

// Hub instantiates one relay per incoming media-stream connection and
// tracks the active set so they can be torn down on shutdown.
type Hub struct {
	cfg HubConfig
	log zerolog.Logger

	mu     sync.Mutex
	relays map[uuid.UUID]*Relay
	closed bool
}

// NewHub creates an empty hub.
func NewHub(cfg HubConfig) *Hub {
	return &Hub{
		cfg:    cfg,
		log:    cfg.Log.With().Str("component", "hub").Logger(),
		relays: make(map[uuid.UUID]*Relay),
	}
}

// Attach takes ownership of an accepted telephony connection for the given
// call, dials the AI session, and runs the relay until the call's media
// stream ends. It blocks for the lifetime of the stream and always leaves
// both sockets closed.
func (h *Hub) Attach(ctx context.Context, callID uuid.UUID, telephonyConn *websocket.Conn) {
	call, err := h.cfg.Store.GetCall(ctx, callID)
	if err != nil {
		h.log.Warn().Err(err).Str("call_id", callID.String()).Msg("media stream for unknown call")
		telephonyConn.Close()
		return
	}

	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	aiConn, err := h.cfg.Dialer.Dial(dialCtx)
	cancel()
	if err != nil {
		h.log.Error().Err(err).Str("call_id", callID.String()).Msg("failed to open session socket")
		if h.cfg.Events != nil {
			h.cfg.Events.RecordEvent(ctx, callID, callstore.EventSessionError,
				map[string]any{"message": err.Error()})
		}
		telephonyConn.Close()
		return
	}

	relay := NewRelay(telephonyConn, aiConn, RelayConfig{
		CallID:            callID,
		Voice:             fallback(call.Metadata.Voice, h.cfg.DefaultVoice),
		Instructions:      fallback(call.Metadata.SystemPrompt, h.cfg.DefaultInstructions),
		Greeting:          fallback(call.Metadata.Greeting, h.cfg.DefaultGreeting),
		BootstrapDelay:    h.cfg.BootstrapDelay,
		KeepaliveInterval: h.cfg.KeepaliveInterval,
		TurnDebounce:      h.cfg.TurnDebounce,
		Events:            h.cfg.Events,
		Log:               h.cfg.Log,
	})

	if !h.register(callID, relay) {
		relay.Close()
		return
	}
	defer h.unregister(callID, relay)

	relay.Run(ctx)
}

func (h *Hub) register(callID uuid.UUID, relay *Relay) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	if existing, ok := h.relays[callID]; ok {
		// A reconnect for the same call supersedes the previous stream.
		existing.Close()
	}
	h.relays[callID] = relay
	return true
}

// unregister removes the relay only if it still owns the map entry. A
// superseded relay's deferred unregister must not evict its replacement.
func (h *Hub) unregister(callID uuid.UUID, relay *Relay) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.relays[callID] == relay {
		delete(h.relays, callID)
	}
}

// ActiveCalls returns the number of relays currently running.
func (h *Hub) ActiveCalls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.relays)
}

// Close tears down all active relays. Used on server shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	relays := make([]*Relay, 0, len(h.relays))
	for _, relay := range h.relays {
		relays = append(relays, relay)
	}
	h.mu.Unlock()

	for _, relay := range relays {
		relay.Close()
	}
}

func fallback(v, def string) string {
	if v != "" {
		return v
	}
	return def
}
