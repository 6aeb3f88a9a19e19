package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"callcenter/internal/audit"
	"callcenter/internal/callcenter"
	"callcenter/internal/calls"
	"callcenter/internal/normalizer"
	"callcenter/internal/reporting"
	"callcenter/internal/telephony"
	"callcenter/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	CallCenter *callcenter.Service
	Reporting  *reporting.Service
	// Tokens is nil when no Twilio API key is configured.
	Tokens *telephony.VoiceTokenIssuer

	Now func() time.Time
}

func (h Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// ClientIP attaches the resolved client IP to the request context for audit events.
func ClientIP() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(audit.WithClientIP(c.Request.Context(), c.ClientIP()))
		c.Next()
	}
}

// writeError maps service errors to status codes. Bodies are always {"error": "..."}.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"

	var pe *telephony.ProviderError
	switch {
	case errors.Is(err, callcenter.ErrValidation),
		errors.Is(err, normalizer.ErrInvalidEvent),
		errors.Is(err, reporting.ErrInvalidRequest):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, calls.ErrUnknownAgent):
		status, msg = http.StatusNotFound, err.Error()
	case errors.Is(err, callcenter.ErrDialLimitReached):
		status, msg = http.StatusTooManyRequests, err.Error()
	case errors.As(err, &pe):
		status, msg = http.StatusBadGateway, pe.Error()
	case errors.Is(err, telephony.ErrProviderUnavailable):
		status, msg = http.StatusBadGateway, err.Error()
	}

	log := logger.FromGin(c)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "status", status, "err", err)
	} else {
		log.Warn("request rejected", "status", status, "err", err)
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg})
}

// bindJSON decodes the body into dst and answers 400 when it is malformed
// or misses a required field.
func bindJSON(c *gin.Context, dst any) bool {
	err := c.ShouldBindJSON(dst)
	if err == nil {
		return true
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		badRequest(c, "invalid json")
		return false
	}
	fe := verrs[0]
	if fe.Tag() == "required" {
		badRequest(c, fmt.Sprintf("%s is required", fe.Field()))
	} else {
		badRequest(c, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
	}
	return false
}

func queryInt(c *gin.Context, key string) (int, bool) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		badRequest(c, key+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}

// Health reports process liveness plus the provider gateway's reachability.
func (h Handlers) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	if err := h.CallCenter.HealthCheck(ctx); err != nil {
		logger.FromGin(c).Warn("gateway health check failed", "err", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "gateway": h.CallCenter.GatewayName(), "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "gateway": h.CallCenter.GatewayName()})
}

// --- Calls ---

func (h Handlers) Dial(c *gin.Context) {
	var req callcenter.DialRequest
	if !bindJSON(c, &req) {
		return
	}
	call, err := h.CallCenter.Dial(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "callSid": call.ID, "call": call})
}

type transferRequest struct {
	TargetAgentID string `json:"targetAgentId" binding:"required"`
}

func (h Handlers) Transfer(c *gin.Context) {
	var req transferRequest
	if !bindJSON(c, &req) {
		return
	}
	call, err := h.CallCenter.Transfer(c.Request.Context(), callcenter.TransferRequest{
		CallID:        c.Param("callSid"),
		TargetAgentID: strings.TrimSpace(req.TargetAgentID),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "call": call})
}

type conferenceRequest struct {
	Participants []string `json:"participants" binding:"required,min=1"`
}

func (h Handlers) Conference(c *gin.Context) {
	var req conferenceRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.CallCenter.CreateConference(c.Request.Context(), callcenter.ConferenceRequest{
		CallID:       c.Param("callSid"),
		Participants: req.Participants,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "conferenceSid": res.ConferenceID, "conference": res})
}

func (h Handlers) Record(c *gin.Context) {
	res, err := h.CallCenter.StartRecording(c.Request.Context(), c.Param("callSid"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "recordingSid": res.RecordingID, "recording": res})
}

// ListCalls returns in-memory records newest first. limit=0 returns all.
func (h Handlers) ListCalls(c *gin.Context) {
	limit, ok := queryInt(c, "limit")
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.CallCenter.Calls(limit))
}

// History proxies the provider's call log.
func (h Handlers) History(c *gin.Context) {
	limit, ok := queryInt(c, "limit")
	if !ok {
		return
	}
	rows, err := h.CallCenter.History(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

// --- Agents ---

func (h Handlers) ListAgents(c *gin.Context) {
	c.JSON(http.StatusOK, h.CallCenter.Agents())
}

type agentStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (h Handlers) SetAgentStatus(c *gin.Context) {
	var req agentStatusRequest
	if !bindJSON(c, &req) {
		return
	}
	status := calls.AgentStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	a, err := h.CallCenter.SetAgentStatus(c.Request.Context(), c.Param("agentId"), status)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// VoiceToken issues a softphone access token for an agent.
func (h Handlers) VoiceToken(c *gin.Context) {
	if h.Tokens == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "voice tokens not configured"})
		return
	}
	a, err := h.CallCenter.Agent(c.Param("agentId"))
	if err != nil {
		writeError(c, err)
		return
	}
	token, exp, err := h.Tokens.Issue(h.now(), a.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":     token,
		"identity":  telephony.ClientIdentity(a.ID),
		"expiresAt": exp.UTC(),
	})
}

// --- Reporting ---

func (h Handlers) Summary(c *gin.Context) {
	var r reporting.TimeRange
	for key, dst := range map[string]*time.Time{"from": &r.From, "to": &r.To} {
		raw := strings.TrimSpace(c.Query(key))
		if raw == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			badRequest(c, key+" must be RFC3339")
			return
		}
		*dst = ts
	}
	out, err := h.Reporting.Summary(c.Request.Context(), reporting.SummaryRequest{Range: r})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}
