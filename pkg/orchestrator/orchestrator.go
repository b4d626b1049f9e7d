package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/birddigital/voicebridge/pkg/callstore"
	"github.com/birddigital/voicebridge/pkg/phone"
	"github.com/birddigital/voicebridge/pkg/pricing"
	"github.com/birddigital/voicebridge/pkg/twilio"
)

var (
	// ErrInvalidPhoneNumber is returned for destinations that are not E.164.
	ErrInvalidPhoneNumber = errors.New("orchestrator: invalid phone number")
	// ErrInsufficientCredits is returned when the organization's balance
	// check fails before any provider call is made.
	ErrInsufficientCredits = errors.New("orchestrator: insufficient credits")
)

// TelephonyClient is the provider adapter consumed by the orchestrator.
// *twilio.Client satisfies it.
type TelephonyClient interface {
	PlaceCall(ctx context.Context, to, from, mediaStreamURL, statusCallbackURL string) (string, error)
	FetchRecordingURL(ctx context.Context, providerCallID string) (string, error)
	ConnectionStatus(ctx context.Context) twilio.ConnectionStatus
	Reinitialize()
}

// BalanceChecker is the credit-check collaborator. Implemented outside this
// module; a nil checker skips the check.
type BalanceChecker interface {
	HasSufficientBalance(ctx context.Context, organizationID string) (bool, error)
}

// Config wires the orchestrator's collaborators.
type Config struct {
	Store     callstore.Store
	Telephony TelephonyClient
	Balance   BalanceChecker
	Pricer    *pricing.Calculator

	// MediaStreamBaseURL is the externally reachable wss:// base; the call
	// id is appended per call.
	MediaStreamBaseURL string
	// StatusCallbackURL receives provider status webhooks.
	StatusCallbackURL string

	DefaultVoice        string
	DefaultGreeting     string
	DefaultSystemPrompt string

	Log zerolog.Logger
}

// Orchestrator is the top-level call lifecycle facade: it initiates calls,
// applies provider webhook transitions, and fetches recordings on
// completion.
type Orchestrator struct {
	cfg Config
	log zerolog.Logger
}

// New creates an orchestrator.
func New(cfg Config) *Orchestrator {
	if cfg.Pricer == nil {
		cfg.Pricer = pricing.NewCalculator(0)
	}
	return &Orchestrator{
		cfg: cfg,
		log: cfg.Log.With().Str("component", "orchestrator").Logger(),
	}
}

// InitiateRequest are the caller-supplied parameters for an outbound call.
// Prompt, voice and greeting are frozen into the call's metadata so a
// bridge instantiated later resumes with identical behavior.
type InitiateRequest struct {
	ToPhoneNumber  string
	OrganizationID string
	SystemPrompt   string
	Voice          string
	Greeting       string
}

// InitiateCall validates the destination, checks credits, places the call
// through the provider and persists the call record with its first event.
func (o *Orchestrator) InitiateCall(ctx context.Context, req InitiateRequest) (*callstore.VoiceCall, error) {
	if !phone.IsValidE164(req.ToPhoneNumber) {
		return nil, ErrInvalidPhoneNumber
	}

	if req.OrganizationID != "" && o.cfg.Balance != nil {
		ok, err := o.cfg.Balance.HasSufficientBalance(ctx, req.OrganizationID)
		if err != nil {
			return nil, fmt.Errorf("balance check: %w", err)
		}
		if !ok {
			return nil, ErrInsufficientCredits
		}
	}

	callID := uuid.New()
	mediaStreamURL := fmt.Sprintf("%s/ws/media/%s", o.cfg.MediaStreamBaseURL, callID)

	providerCallID, err := o.cfg.Telephony.PlaceCall(ctx,
		req.ToPhoneNumber, "", mediaStreamURL, o.cfg.StatusCallbackURL)
	if err != nil {
		return nil, err
	}

	status := o.cfg.Telephony.ConnectionStatus(ctx)
	now := time.Now().UTC()
	call := &callstore.VoiceCall{
		ID:              callID,
		ToPhoneNumber:   req.ToPhoneNumber,
		FromPhoneNumber: status.PhoneNumber,
		OrganizationID:  req.OrganizationID,
		ProviderCallID:  providerCallID,
		Status:          callstore.StatusInitiated,
		Metadata: callstore.CallMetadata{
			SystemPrompt: firstNonEmpty(req.SystemPrompt, o.cfg.DefaultSystemPrompt),
			Voice:        firstNonEmpty(req.Voice, o.cfg.DefaultVoice),
			Greeting:     firstNonEmpty(req.Greeting, o.cfg.DefaultGreeting),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := o.cfg.Store.CreateCall(ctx, call); err != nil {
		return nil, fmt.Errorf("persist call: %w", err)
	}
	o.RecordEvent(ctx, call.ID, callstore.EventCallInitiated, map[string]any{
		"to":               call.ToPhoneNumber,
		"provider_call_id": providerCallID,
	})

	o.log.Info().
		Str("call_id", call.ID.String()).
		Str("provider_call_id", providerCallID).
		Str("to", call.ToPhoneNumber).
		Msg("call initiated")
	return call, nil
}

// StatusWebhook is one provider status callback.
type StatusWebhook struct {
	ProviderCallID  string
	Status          string
	DurationSeconds *int
}

// HandleStatusUpdate applies a provider webhook to the call's state
// machine. Updates for unknown provider call ids are logged and discarded;
// duplicate or stale statuses are no-ops.
func (o *Orchestrator) HandleStatusUpdate(ctx context.Context, webhook StatusWebhook) error {
	status, ok := MapProviderStatus(webhook.Status)
	if !ok {
		o.log.Warn().Str("status", webhook.Status).Msg("unrecognized provider status discarded")
		return nil
	}

	call, err := o.cfg.Store.GetCallByProviderID(ctx, webhook.ProviderCallID)
	if errors.Is(err, callstore.ErrNotFound) {
		// Never fabricate a call record for an unknown provider id.
		o.log.Warn().Str("provider_call_id", webhook.ProviderCallID).Msg("status update for unknown call discarded")
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup call: %w", err)
	}

	update := callstore.StatusUpdate{Status: status}
	if webhook.DurationSeconds != nil {
		cost := o.cfg.Pricer.CostCents(*webhook.DurationSeconds)
		update.DurationSeconds = webhook.DurationSeconds
		update.CostCents = &cost
	}

	applied, err := o.cfg.Store.UpdateStatus(ctx, call.ID, update)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if !applied {
		o.log.Debug().
			Str("call_id", call.ID.String()).
			Str("status", string(status)).
			Msg("duplicate or stale status update ignored")
		return nil
	}

	data := map[string]any{"status": string(status)}
	if update.DurationSeconds != nil {
		data["duration_seconds"] = *update.DurationSeconds
		data["cost_cents"] = *update.CostCents
	}
	o.RecordEvent(ctx, call.ID, callstore.StatusEventType(status), data)

	if status == callstore.StatusCompleted {
		// Best-effort and asynchronous; failure never regresses the status.
		go o.fetchRecording(call.ID, call.ProviderCallID)
	}
	return nil
}

func (o *Orchestrator) fetchRecording(callID uuid.UUID, providerCallID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	url, err := o.cfg.Telephony.FetchRecordingURL(ctx, providerCallID)
	if err != nil {
		o.log.Warn().Err(err).Str("call_id", callID.String()).Msg("recording fetch failed")
		return
	}
	if url == "" {
		o.log.Debug().Str("call_id", callID.String()).Msg("no recording available")
		return
	}

	if err := o.cfg.Store.SetRecordingURL(ctx, callID, url); err != nil {
		o.log.Warn().Err(err).Str("call_id", callID.String()).Msg("failed to store recording url")
		return
	}
	applied, err := o.cfg.Store.UpdateStatus(ctx, callID,
		callstore.StatusUpdate{Status: callstore.StatusRecordingAvailable})
	if err != nil {
		o.log.Warn().Err(err).Str("call_id", callID.String()).Msg("failed to mark recording available")
		return
	}
	if applied {
		o.RecordEvent(ctx, callID, callstore.EventRecordingAvailable, map[string]any{"recording_url": url})
	}
}

// GetCallDetails returns a single call.
func (o *Orchestrator) GetCallDetails(ctx context.Context, id uuid.UUID) (*callstore.VoiceCall, error) {
	return o.cfg.Store.GetCall(ctx, id)
}

// ListCalls returns calls for an organization, newest first.
func (o *Orchestrator) ListCalls(ctx context.Context, organizationID string, limit, offset int) ([]*callstore.VoiceCall, error) {
	return o.cfg.Store.ListCalls(ctx, organizationID, limit, offset)
}

// GetCallEvents returns a call's event log, oldest first.
func (o *Orchestrator) GetCallEvents(ctx context.Context, callID uuid.UUID) ([]*callstore.VoiceCallEvent, error) {
	return o.cfg.Store.ListEvents(ctx, callID)
}

// ConnectionStatus reports the telephony adapter's diagnostics.
func (o *Orchestrator) ConnectionStatus(ctx context.Context) twilio.ConnectionStatus {
	return o.cfg.Telephony.ConnectionStatus(ctx)
}

// ReinitializeTelephony forces credential re-resolution after an admin
// updates the durable settings. Safe while calls are in flight.
func (o *Orchestrator) ReinitializeTelephony() {
	o.cfg.Telephony.Reinitialize()
	o.log.Info().Msg("telephony credentials reinitialized")
}

// RecordEvent appends an event to the call's log. Best-effort: failures
// are logged, never propagated. Also used by the media relay.
func (o *Orchestrator) RecordEvent(ctx context.Context, callID uuid.UUID, eventType string, data map[string]any) {
	event := &callstore.VoiceCallEvent{
		ID:          uuid.New(),
		VoiceCallID: callID,
		EventType:   eventType,
		EventData:   data,
		Timestamp:   time.Now().UTC(),
	}
	if err := o.cfg.Store.AppendEvent(ctx, event); err != nil {
		o.log.Warn().Err(err).Str("event_type", eventType).Msg("failed to append event")
	}
}

// MapProviderStatus translates a provider webhook status into the call
// lifecycle status. Unrecognized values report ok=false.
func MapProviderStatus(providerStatus string) (callstore.CallStatus, bool) {
	switch providerStatus {
	case "queued", "initiated":
		return callstore.StatusInitiated, true
	case "ringing":
		return callstore.StatusRinging, true
	case "in-progress", "answered":
		return callstore.StatusInProgress, true
	case "completed":
		return callstore.StatusCompleted, true
	case "busy", "no-answer", "failed", "canceled":
		return callstore.StatusFailed, true
	}
	return "", false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
