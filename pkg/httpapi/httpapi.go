// Package httpapi exposes the REST and WebSocket surface of the voice
// bridge: call management endpoints, provider webhooks, and the media
// stream upgrade path.
package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/birddigital/voicebridge/pkg/bridge"
	"github.com/birddigital/voicebridge/pkg/callstore"
	"github.com/birddigital/voicebridge/pkg/orchestrator"
	"github.com/birddigital/voicebridge/pkg/twilio"
)

// Handler holds the API's collaborators.
type Handler struct {
	Orchestrator *orchestrator.Orchestrator
	Hub          *bridge.Hub
	Log          zerolog.Logger

	upgrader websocket.Upgrader
}

// New creates a handler. The WebSocket upgrader accepts any origin since
// the telephony provider connects without browser origin headers.
func New(orc *orchestrator.Orchestrator, hub *bridge.Hub, log zerolog.Logger) *Handler {
	return &Handler{
		Orchestrator: orc,
		Hub:          hub,
		Log:          log.With().Str("component", "httpapi").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// RegisterRoutes attaches all endpoints to the router.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api")
	{
		api.POST("/calls", h.InitiateCall)
		api.GET("/calls", h.ListCalls)
		api.GET("/calls/:id", h.GetCall)
		api.GET("/calls/:id/events", h.GetCallEvents)
		api.GET("/telephony/status", h.TelephonyStatus)
		api.POST("/telephony/reinitialize", h.ReinitializeTelephony)
		api.POST("/webhooks/telephony/status", h.StatusWebhook)
	}
	r.GET("/ws/media/:id", h.MediaStream)
	r.GET("/health", h.Health)
}

type initiateCallRequest struct {
	ToPhoneNumber  string `json:"to_phone_number" binding:"required"`
	OrganizationID string `json:"organization_id"`
	SystemPrompt   string `json:"system_prompt"`
	Voice          string `json:"voice"`
	Greeting       string `json:"greeting"`
}

// InitiateCall places an outbound call and returns the persisted record.
func (h *Handler) InitiateCall(c *gin.Context) {
	var req initiateCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	call, err := h.Orchestrator.InitiateCall(c.Request.Context(), orchestrator.InitiateRequest{
		ToPhoneNumber:  req.ToPhoneNumber,
		OrganizationID: req.OrganizationID,
		SystemPrompt:   req.SystemPrompt,
		Voice:          req.Voice,
		Greeting:       req.Greeting,
	})
	switch {
	case errors.Is(err, orchestrator.ErrInvalidPhoneNumber):
		c.JSON(http.StatusBadRequest, gin.H{"error": "phone number must be E.164, e.g. +15551234567"})
		return
	case errors.Is(err, orchestrator.ErrInsufficientCredits):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "insufficient credits"})
		return
	case errors.Is(err, twilio.ErrUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "telephony is not configured"})
		return
	case errors.Is(err, twilio.ErrRejected):
		c.JSON(http.StatusBadGateway, gin.H{"error": "telephony provider rejected the call"})
		return
	case err != nil:
		h.Log.Error().Err(err).Msg("initiate call failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to initiate call"})
		return
	}

	c.JSON(http.StatusCreated, call)
}

// ListCalls returns calls, optionally filtered by organization, newest
// first.
func (h *Handler) ListCalls(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	calls, err := h.Orchestrator.ListCalls(c.Request.Context(), c.Query("organization_id"), limit, offset)
	if err != nil {
		h.Log.Error().Err(err).Msg("list calls failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list calls"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": calls, "count": len(calls)})
}

// GetCall returns a single call by id.
func (h *Handler) GetCall(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid call id"})
		return
	}

	call, err := h.Orchestrator.GetCallDetails(c.Request.Context(), id)
	if errors.Is(err, callstore.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}
	if err != nil {
		h.Log.Error().Err(err).Str("call_id", id.String()).Msg("get call failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load call"})
		return
	}
	c.JSON(http.StatusOK, call)
}

// GetCallEvents returns the call's event log in timestamp order.
func (h *Handler) GetCallEvents(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid call id"})
		return
	}

	events, err := h.Orchestrator.GetCallEvents(c.Request.Context(), id)
	if err != nil {
		h.Log.Error().Err(err).Str("call_id", id.String()).Msg("get call events failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load events"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

// TelephonyStatus reports provider connectivity and credential source
// without exposing secrets.
func (h *Handler) TelephonyStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.Orchestrator.ConnectionStatus(c.Request.Context()))
}

// ReinitializeTelephony drops cached provider credentials so the next
// call re-resolves them.
func (h *Handler) ReinitializeTelephony(c *gin.Context) {
	h.Orchestrator.ReinitializeTelephony()
	c.JSON(http.StatusOK, gin.H{"status": "reinitialized"})
}

// StatusWebhook receives Twilio call status callbacks. The provider posts
// form-encoded fields; unknown call ids are acknowledged with 200 so the
// provider does not retry.
func (h *Handler) StatusWebhook(c *gin.Context) {
	providerCallID := c.PostForm("CallSid")
	status := c.PostForm("CallStatus")
	if providerCallID == "" || status == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing CallSid or CallStatus"})
		return
	}

	webhook := orchestrator.StatusWebhook{
		ProviderCallID: providerCallID,
		Status:         status,
	}
	if raw := c.PostForm("CallDuration"); raw != "" {
		if seconds, err := strconv.Atoi(raw); err == nil {
			webhook.DurationSeconds = &seconds
		}
	}

	if err := h.Orchestrator.HandleStatusUpdate(c.Request.Context(), webhook); err != nil {
		h.Log.Error().Err(err).Str("provider_call_id", providerCallID).Msg("status webhook failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to apply status"})
		return
	}
	c.Status(http.StatusOK)
}

// MediaStream upgrades the provider's media stream connection and hands
// it to the bridge hub. Attach blocks until the call's relay finishes.
func (h *Handler) MediaStream(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid call id"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.Log.Error().Err(err).Str("call_id", id.String()).Msg("media stream upgrade failed")
		return
	}

	h.Hub.Attach(c.Request.Context(), id, conn)
}

// Health is a liveness probe.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"active_calls": h.Hub.ActiveCalls(),
	})
}
