package bridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/birddigital/voicebridge/pkg/callstore"
	"github.com/birddigital/voicebridge/pkg/realtime"
)

// DefaultKeepaliveInterval is how often the AI socket is pinged to prevent
// idle-timeout disconnects.
const DefaultKeepaliveInterval = 30 * time.Second

// EventRecorder persists significant bridge events to the call's event log.
// Recording is best-effort; the relay never blocks or fails on it.
type EventRecorder interface {
	RecordEvent(ctx context.Context, callID uuid.UUID, eventType string, data map[string]any)
}

// RelayConfig configures one relay unit.
type RelayConfig struct {
	CallID       uuid.UUID
	Voice        string
	Instructions string
	Greeting     string

	// BootstrapDelay and BootstrapAttempts default inside the bootstrapper.
	BootstrapDelay    time.Duration
	BootstrapAttempts int

	KeepaliveInterval time.Duration
	TurnDebounce      time.Duration

	Events EventRecorder
	Log    zerolog.Logger
}

// Relay is the per-call media relay unit. It owns exactly two long-lived
// socket connections (telephony edge and AI session) plus one keepalive
// timer, and shares no mutable state with other relays.
//
// The two sockets are independently lived and coupled only at close time:
// closing either closes the other with a normal-closure code.
type Relay struct {
	cfg       RelayConfig
	telephony *websocket.Conn
	ai        *websocket.Conn
	turns     *TurnController
	log       zerolog.Logger

	cancel context.CancelFunc

	// mu guards the readiness flags and stream identity.
	mu             sync.Mutex
	telephonyReady bool
	aiReady        bool
	streamSid      string
	closed         bool

	// Per-connection write locks; both read loops and the timers write to
	// the opposite socket.
	telWriteMu sync.Mutex
	aiWriteMu  sync.Mutex

	framesForwarded atomic.Int64
	framesDropped   atomic.Int64
	deltasForwarded atomic.Int64
	deltasDropped   atomic.Int64
}

// NewRelay creates a relay over an accepted telephony connection and a
// dialed AI session connection.
func NewRelay(telephony, ai *websocket.Conn, cfg RelayConfig) *Relay {
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = DefaultKeepaliveInterval
	}
	r := &Relay{
		cfg:       cfg,
		telephony: telephony,
		ai:        ai,
		log:       cfg.Log.With().Str("component", "bridge").Str("call_id", cfg.CallID.String()).Logger(),
	}
	r.turns = NewTurnController(cfg.TurnDebounce, r.requestResponse)
	return r
}

// Run relays frames until either socket closes, then tears down both. It
// blocks for the lifetime of the call's media stream.
func (r *Relay) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()
	defer cancel()

	go r.bootstrap(ctx)
	go r.keepalive(ctx)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.readTelephony()
		r.teardown()
	}()
	go func() {
		defer wg.Done()
		r.readAI()
		r.teardown()
	}()
	wg.Wait()

	r.log.Info().
		Int64("frames_forwarded", r.framesForwarded.Load()).
		Int64("deltas_forwarded", r.deltasForwarded.Load()).
		Msg("relay finished")
}

// Close tears the relay down from outside, e.g. on server shutdown.
func (r *Relay) Close() {
	r.teardown()
}

// ============================================
// TELEPHONY -> AI
// ============================================

func (r *Relay) readTelephony() {
	for {
		_, data, err := r.telephony.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				r.log.Warn().Err(err).Msg("telephony socket read error")
			}
			return
		}
		r.handleTelephonyFrame(data)
	}
}

func (r *Relay) handleTelephonyFrame(data []byte) {
	var msg StreamMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		// Frame parse failures are dropped; the relay loop never crashes.
		r.log.Warn().Err(err).Msg("unparseable telephony frame dropped")
		return
	}

	switch msg.Event {
	case streamEventConnected:
		r.mu.Lock()
		r.telephonyReady = true
		r.mu.Unlock()
		r.log.Debug().Msg("telephony socket connected")

	case streamEventStart:
		sid := msg.StreamSid
		if msg.Start != nil && msg.Start.StreamSid != "" {
			sid = msg.Start.StreamSid
		}
		r.mu.Lock()
		r.streamSid = sid
		r.telephonyReady = true
		r.mu.Unlock()
		r.log.Info().Str("stream_sid", sid).Msg("media stream started")
		r.recordEvent(callstore.EventStreamStarted, map[string]any{"stream_sid": sid})

	case streamEventMedia:
		if msg.Media == nil || msg.Media.Payload == "" {
			return
		}
		r.mu.Lock()
		ready := r.aiReady
		r.mu.Unlock()
		if !ready {
			// Audio loss during startup is accepted over buffering.
			r.framesDropped.Add(1)
			return
		}
		if err := r.sendAI(realtime.NewInputAudioAppend(msg.Media.Payload)); err != nil {
			r.log.Warn().Err(err).Msg("failed to forward caller audio")
			return
		}
		r.framesForwarded.Add(1)

	case streamEventStop, streamEventDisconnect:
		r.mu.Lock()
		r.streamSid = ""
		r.telephonyReady = false
		r.mu.Unlock()
		r.log.Info().Msg("media stream stopped")
		r.recordEvent(callstore.EventStreamStopped, map[string]any{
			"frames_forwarded": r.framesForwarded.Load(),
			"frames_dropped":   r.framesDropped.Load(),
			"deltas_forwarded": r.deltasForwarded.Load(),
			"deltas_dropped":   r.deltasDropped.Load(),
		})

	case streamEventMark:
		// Playback marker acknowledgements are not used.

	default:
		r.log.Debug().Str("event", msg.Event).Msg("unhandled telephony frame")
	}
}

// ============================================
// AI -> TELEPHONY
// ============================================

func (r *Relay) readAI() {
	for {
		_, data, err := r.ai.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				r.log.Warn().Err(err).Msg("session socket read error")
			}
			return
		}
		r.handleSessionEvent(data)
	}
}

func (r *Relay) handleSessionEvent(data []byte) {
	var event realtime.ServerEvent
	if err := json.Unmarshal(data, &event); err != nil {
		r.log.Warn().Err(err).Msg("unparseable session event dropped")
		return
	}

	switch event.Type {
	case realtime.EventTypeSessionCreated, realtime.EventTypeSessionUpdated:
		r.mu.Lock()
		r.aiReady = true
		r.mu.Unlock()
		r.log.Debug().Str("type", event.Type).Msg("session ready")

	case realtime.EventTypeAudioDelta:
		r.forwardDelta(event.Delta)

	case realtime.EventTypeSpeechStarted:
		r.log.Debug().Msg("caller speech started")
		r.turns.SpeechStarted()

	case realtime.EventTypeSpeechStopped:
		r.log.Debug().Msg("caller speech stopped")
		r.turns.SpeechStopped()

	case realtime.EventTypeError:
		message := ""
		if event.Error != nil {
			message = event.Error.Message
		}
		r.log.Error().Str("message", message).Msg("session error")
		r.recordEvent(callstore.EventSessionError, map[string]any{"message": message})

	default:
		// The session emits many informational events the relay ignores.
	}
}

func (r *Relay) forwardDelta(delta string) {
	if delta == "" {
		return
	}
	// Never propagate malformed audio to the telephony edge.
	if _, err := base64.StdEncoding.DecodeString(delta); err != nil {
		r.log.Warn().Err(err).Msg("malformed audio delta dropped")
		r.deltasDropped.Add(1)
		return
	}

	r.mu.Lock()
	ready := r.telephonyReady
	sid := r.streamSid
	r.mu.Unlock()
	if !ready || sid == "" {
		r.deltasDropped.Add(1)
		return
	}

	if err := r.sendTelephony(NewOutboundMedia(sid, delta)); err != nil {
		r.log.Warn().Err(err).Msg("failed to forward synthesized audio")
		return
	}
	r.deltasForwarded.Add(1)
}

// ============================================
// BOOTSTRAP, TURN-TAKING, KEEPALIVE
// ============================================

func (r *Relay) bootstrap(ctx context.Context) {
	b := &realtime.Bootstrapper{
		Ready:        r.sessionReady,
		Send:         r.sendAI,
		Voice:        r.cfg.Voice,
		Instructions: r.cfg.Instructions,
		Greeting:     r.cfg.Greeting,
		Attempts:     r.cfg.BootstrapAttempts,
		Delay:        r.cfg.BootstrapDelay,
		Log:          r.log,
	}

	err := b.Run(ctx)
	switch {
	case err == nil:
		r.recordEvent(callstore.EventSessionConfigured, map[string]any{"voice": r.cfg.Voice})
	case errors.Is(err, realtime.ErrSessionNotReady):
		// Degrade, don't fail: the call keeps relaying audio without a
		// scripted greeting.
		r.recordEvent(callstore.EventSessionBootstrapFailed, map[string]any{"fatal": true})
	case errors.Is(err, context.Canceled):
		// Relay torn down before bootstrap finished.
	default:
		r.log.Warn().Err(err).Msg("bootstrap send failed")
		r.recordEvent(callstore.EventSessionBootstrapFailed, map[string]any{"error": err.Error()})
	}
}

func (r *Relay) sessionReady() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.aiReady
}

func (r *Relay) requestResponse() {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return
	}
	if err := r.sendAI(realtime.NewResponseCreate()); err != nil {
		r.log.Warn().Err(err).Msg("failed to request response")
	}
}

func (r *Relay) keepalive(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.aiWriteMu.Lock()
			err := r.ai.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			r.aiWriteMu.Unlock()
			if err != nil {
				r.log.Debug().Err(err).Msg("keepalive ping failed")
				return
			}
		}
	}
}

// ============================================
// WRITES & TEARDOWN
// ============================================

func (r *Relay) sendAI(msg any) error {
	r.aiWriteMu.Lock()
	defer r.aiWriteMu.Unlock()
	return r.ai.WriteJSON(msg)
}

func (r *Relay) sendTelephony(msg any) error {
	r.telWriteMu.Lock()
	defer r.telWriteMu.Unlock()
	return r.telephony.WriteJSON(msg)
}

// teardown closes both sockets with a normal-closure code. This is the only
// cross-socket coupling in the relay and is symmetric: whichever side closes
// first drags the other down. Safe to call more than once.
func (r *Relay) teardown() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.telephonyReady = false
	r.aiReady = false
	cancel := r.cancel
	r.mu.Unlock()

	r.turns.Stop()
	if cancel != nil {
		cancel()
	}

	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	deadline := time.Now().Add(time.Second)

	r.telWriteMu.Lock()
	r.telephony.WriteControl(websocket.CloseMessage, closeMsg, deadline)
	r.telephony.Close()
	r.telWriteMu.Unlock()

	r.aiWriteMu.Lock()
	r.ai.WriteControl(websocket.CloseMessage, closeMsg, deadline)
	r.ai.Close()
	r.aiWriteMu.Unlock()

	r.log.Debug().Msg("relay torn down")
}

func (r *Relay) recordEvent(eventType string, data map[string]any) {
	if r.cfg.Events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r.cfg.Events.RecordEvent(ctx, r.cfg.CallID, eventType, data)
}
