package bridge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/birddigital/voicebridge/pkg/callstore"
)

// fakeSessionDialer dials a stub AI endpoint that immediately signals
// session readiness.
type fakeSessionDialer struct {
	url string
}

func newFakeSessionServer(t *testing.T) *fakeSessionDialer {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.WriteJSON(map[string]any{"type": "session.created"})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				conn.Close()
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return &fakeSessionDialer{url: "ws" + strings.TrimPrefix(srv.URL, "http")}
}

func (f *fakeSessionDialer) Dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	return conn, err
}

func newHubUnderTest(t *testing.T, store callstore.Store) (*Hub, *fakeRecorder) {
	t.Helper()
	recorder := &fakeRecorder{}
	hub := NewHub(HubConfig{
		Dialer:         newFakeSessionServer(t),
		Store:          store,
		Events:         recorder,
		DefaultVoice:   "echo",
		BootstrapDelay: 5 * time.Millisecond,
		TurnDebounce:   20 * time.Millisecond,
		Log:            zerolog.Nop(),
	})
	t.Cleanup(hub.Close)
	return hub, recorder
}

// mediaStreamURL exposes hub.Attach behind a WebSocket endpoint the way
// the HTTP layer does. The endpoint accepts any number of connections so
// reconnects can be exercised.
func mediaStreamURL(t *testing.T, hub *Hub, callID uuid.UUID) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Attach(r.Context(), callID, conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dialMediaStream(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func mediaStreamServer(t *testing.T, hub *Hub, callID uuid.UUID) *websocket.Conn {
	t.Helper()
	return dialMediaStream(t, mediaStreamURL(t, hub, callID))
}

func TestHubRunsRelayForKnownCall(t *testing.T) {
	ctx := context.Background()
	store := callstore.NewMemoryStore()
	call := &callstore.VoiceCall{
		ID:              uuid.New(),
		ToPhoneNumber:   "+15551234567",
		FromPhoneNumber: "+15557654321",
		Status:          callstore.StatusInProgress,
		Metadata:        callstore.CallMetadata{Greeting: "Hi there"},
		CreatedAt:       time.Now().UTC(),
		UpdatedAt:       time.Now().UTC(),
	}
	if err := store.CreateCall(ctx, call); err != nil {
		t.Fatalf("CreateCall: %v", err)
	}

	hub, recorder := newHubUnderTest(t, store)
	telephony := mediaStreamServer(t, hub, call.ID)

	sendJSON(t, telephony, map[string]any{
		"event": "start",
		"start": map[string]any{"streamSid": "MZ42"},
	})
	recorder.waitFor(t, callstore.EventStreamStarted, 2*time.Second)
	recorder.waitFor(t, callstore.EventSessionConfigured, 2*time.Second)

	if hub.ActiveCalls() != 1 {
		t.Errorf("expected 1 active call, got %d", hub.ActiveCalls())
	}

	telephony.Close()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ActiveCalls() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("relay not unregistered after stream close")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubReconnectSupersedesRelay(t *testing.T) {
	ctx := context.Background()
	store := callstore.NewMemoryStore()
	call := &callstore.VoiceCall{
		ID:            uuid.New(),
		ToPhoneNumber: "+15551234567",
		Status:        callstore.StatusInProgress,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
	if err := store.CreateCall(ctx, call); err != nil {
		t.Fatalf("CreateCall: %v", err)
	}

	hub, recorder := newHubUnderTest(t, store)
	url := mediaStreamURL(t, hub, call.ID)

	first := dialMediaStream(t, url)
	sendJSON(t, first, map[string]any{
		"event": "start",
		"start": map[string]any{"streamSid": "MZ100"},
	})
	recorder.waitFor(t, callstore.EventStreamStarted, 2*time.Second)
	if hub.ActiveCalls() != 1 {
		t.Fatalf("expected 1 active call, got %d", hub.ActiveCalls())
	}

	// A reconnect for the same call closes the first stream.
	second := dialMediaStream(t, url)
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := first.ReadMessage(); err != nil {
			break
		}
	}

	// The superseding relay stays tracked after the old one unregisters.
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if n := hub.ActiveCalls(); n != 1 {
			t.Fatalf("hub lost track of the live reconnected stream: %d active calls", n)
		}
		time.Sleep(10 * time.Millisecond)
	}

	// The second stream is still live end to end.
	sendJSON(t, second, map[string]any{
		"event": "start",
		"start": map[string]any{"streamSid": "MZ200"},
	})
	waitForStreamSid(t, recorder, "MZ200", 2*time.Second)

	// Shutdown must tear the reconnected stream down too.
	hub.Close()
	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := second.ReadMessage(); err != nil {
			break
		}
	}
	deadline = time.Now().Add(2 * time.Second)
	for hub.ActiveCalls() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("reconnected stream not torn down on close: %d active calls", hub.ActiveCalls())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitForStreamSid(t *testing.T, recorder *fakeRecorder, sid string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		recorder.mu.Lock()
		for _, event := range recorder.events {
			if event.EventType == callstore.EventStreamStarted && event.Data["stream_sid"] == sid {
				recorder.mu.Unlock()
				return
			}
		}
		recorder.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("stream %s never started within %v", sid, timeout)
}

func TestHubRejectsUnknownCall(t *testing.T) {
	store := callstore.NewMemoryStore()
	hub, _ := newHubUnderTest(t, store)
	telephony := mediaStreamServer(t, hub, uuid.New())

	// Hub closes the socket without fabricating a call record.
	telephony.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := telephony.ReadMessage(); err != nil {
			if hub.ActiveCalls() != 0 {
				t.Errorf("expected no active calls, got %d", hub.ActiveCalls())
			}
			return
		}
	}
}
