package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/birddigital/voicebridge/pkg/bridge"
	"github.com/birddigital/voicebridge/pkg/callstore"
	"github.com/birddigital/voicebridge/pkg/orchestrator"
	"github.com/birddigital/voicebridge/pkg/pricing"
	"github.com/birddigital/voicebridge/pkg/twilio"
)

type stubTelephony struct {
	placeErr error
	placed   int
}

func (s *stubTelephony) PlaceCall(ctx context.Context, to, from, mediaStreamURL, statusCallbackURL string) (string, error) {
	if s.placeErr != nil {
		return "", s.placeErr
	}
	s.placed++
	return "CA-http-1", nil
}

func (s *stubTelephony) FetchRecordingURL(ctx context.Context, providerCallID string) (string, error) {
	return "", nil
}

func (s *stubTelephony) ConnectionStatus(ctx context.Context) twilio.ConnectionStatus {
	return twilio.ConnectionStatus{Connected: true, Source: twilio.SourceSettings, PhoneNumber: "+15550001111"}
}

func (s *stubTelephony) Reinitialize() {}

type stubDialer struct{}

func (stubDialer) Dial(ctx context.Context) (*websocket.Conn, error) {
	return nil, errors.New("no session backend in tests")
}

func newTestRouter(t *testing.T, telephony *stubTelephony) (*gin.Engine, *callstore.MemoryStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := callstore.NewMemoryStore()
	orc := orchestrator.New(orchestrator.Config{
		Store:              store,
		Telephony:          telephony,
		Pricer:             pricing.NewCalculator(pricing.DefaultRateCentsPerMinute),
		MediaStreamBaseURL: "wss://bridge.example.com",
		StatusCallbackURL:  "https://bridge.example.com/api/webhooks/telephony/status",
		DefaultVoice:       "alloy",
		Log:                zerolog.Nop(),
	})
	hub := bridge.NewHub(bridge.HubConfig{
		Dialer: stubDialer{},
		Store:  store,
		Log:    zerolog.Nop(),
	})

	r := gin.New()
	New(orc, hub, zerolog.Nop()).RegisterRoutes(r)
	return r, store
}

func postJSON(t *testing.T, r *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func postForm(t *testing.T, r *gin.Engine, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestInitiateCallEndpoint(t *testing.T) {
	telephony := &stubTelephony{}
	r, _ := newTestRouter(t, telephony)

	w := postJSON(t, r, "/api/calls", gin.H{"to_phone_number": "+15551234567"})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var call callstore.VoiceCall
	if err := json.Unmarshal(w.Body.Bytes(), &call); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if call.Status != callstore.StatusInitiated {
		t.Errorf("expected initiated, got %s", call.Status)
	}
	if call.ProviderCallID != "CA-http-1" {
		t.Errorf("provider call id missing: %s", call.ProviderCallID)
	}
	if telephony.placed != 1 {
		t.Errorf("expected one provider call, got %d", telephony.placed)
	}
}

func TestInitiateCallEndpointErrors(t *testing.T) {
	tests := []struct {
		name     string
		body     gin.H
		placeErr error
		want     int
	}{
		{"missing number", gin.H{}, nil, http.StatusBadRequest},
		{"invalid number", gin.H{"to_phone_number": "555-1234"}, nil, http.StatusBadRequest},
		{"provider unavailable", gin.H{"to_phone_number": "+15551234567"}, twilio.ErrUnavailable, http.StatusServiceUnavailable},
		{"provider rejected", gin.H{"to_phone_number": "+15551234567"}, twilio.ErrRejected, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newTestRouter(t, &stubTelephony{placeErr: tt.placeErr})
			w := postJSON(t, r, "/api/calls", tt.body)
			if w.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestStatusWebhook(t *testing.T) {
	r, store := newTestRouter(t, &stubTelephony{})

	w := postJSON(t, r, "/api/calls", gin.H{"to_phone_number": "+15551234567"})
	if w.Code != http.StatusCreated {
		t.Fatalf("setup call failed: %d", w.Code)
	}
	var call callstore.VoiceCall
	if err := json.Unmarshal(w.Body.Bytes(), &call); err != nil {
		t.Fatalf("decode call: %v", err)
	}

	w = postForm(t, r, "/api/webhooks/telephony/status", url.Values{
		"CallSid":    {"CA-http-1"},
		"CallStatus": {"in-progress"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	got, err := store.GetCall(context.Background(), call.ID)
	if err != nil {
		t.Fatalf("GetCall: %v", err)
	}
	if got.Status != callstore.StatusInProgress {
		t.Errorf("status not applied: %s", got.Status)
	}
}

func TestStatusWebhookMissingFields(t *testing.T) {
	r, _ := newTestRouter(t, &stubTelephony{})

	w := postForm(t, r, "/api/webhooks/telephony/status", url.Values{"CallSid": {"CA-1"}})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestStatusWebhookUnknownCallAcknowledged(t *testing.T) {
	r, _ := newTestRouter(t, &stubTelephony{})

	// 200 keeps the provider from retrying forever.
	w := postForm(t, r, "/api/webhooks/telephony/status", url.Values{
		"CallSid":    {"CA-never-seen"},
		"CallStatus": {"completed"},
	})
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestGetCallAndEvents(t *testing.T) {
	r, _ := newTestRouter(t, &stubTelephony{})

	w := postJSON(t, r, "/api/calls", gin.H{"to_phone_number": "+15551234567"})
	var call callstore.VoiceCall
	if err := json.Unmarshal(w.Body.Bytes(), &call); err != nil {
		t.Fatalf("decode call: %v", err)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/calls/"+call.ID.String(), nil))
	if w.Code != http.StatusOK {
		t.Fatalf("get call: expected 200, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/calls/"+call.ID.String()+"/events", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("get events: expected 200, got %d", w.Code)
	}
	var events struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &events); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if events.Count != 1 {
		t.Errorf("expected one initiation event, got %d", events.Count)
	}
}

func TestGetCallNotFound(t *testing.T) {
	r, _ := newTestRouter(t, &stubTelephony{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/calls/5f0c62af-6f98-4c3b-9e6e-0a4f6f1d8a11", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/calls/not-a-uuid", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed id, got %d", w.Code)
	}
}

func TestListCalls(t *testing.T) {
	r, _ := newTestRouter(t, &stubTelephony{})

	for i := 0; i < 3; i++ {
		w := postJSON(t, r, "/api/calls", gin.H{"to_phone_number": "+15551234567"})
		if w.Code != http.StatusCreated {
			t.Fatalf("setup call failed: %d", w.Code)
		}
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/calls?limit=2", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 2 {
		t.Errorf("limit not applied: %d", resp.Count)
	}
}

func TestTelephonyStatusEndpoint(t *testing.T) {
	r, _ := newTestRouter(t, &stubTelephony{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/telephony/status", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var status twilio.ConnectionStatus
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !status.Connected || status.Source != twilio.SourceSettings {
		t.Errorf("unexpected status: %+v", status)
	}
}

func TestMediaStreamRejectsBadID(t *testing.T) {
	r, _ := newTestRouter(t, &stubTelephony{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws/media/not-a-uuid", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestHealth(t *testing.T) {
	r, _ := newTestRouter(t, &stubTelephony{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Status      string `json:"status"`
		ActiveCalls int    `json:"active_calls"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" || resp.ActiveCalls != 0 {
		t.Errorf("unexpected health body: %+v", resp)
	}
}
