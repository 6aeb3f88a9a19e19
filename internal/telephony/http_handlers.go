package telephony

import (
	"context"
	"errors"
	"net/http"
	"time"

	"callcenter/internal/metrics"
	"callcenter/internal/normalizer"
	"callcenter/pkg/logger"

	"github.com/gin-gonic/gin"
)

// WebhookSink receives parsed provider webhooks.
type WebhookSink interface {
	HandleInboundCall(ctx context.Context, ev WebhookEvent) (InboundCallResult, error)
	HandleStatusCallback(ctx context.Context, ev WebhookEvent) error
}

// TwilioWebhookHandler converts Twilio webhooks to internal types, delegates
// to the sink, and writes TwiML. No business logic here.
type TwilioWebhookHandler struct {
	Sink WebhookSink
	Now  func() time.Time
}

func (h TwilioWebhookHandler) now() time.Time {
	if h.Now == nil {
		return time.Now().UTC()
	}
	return h.Now().UTC()
}

func (h TwilioWebhookHandler) HandleInboundCall(c *gin.Context) {
	log := logger.FromGin(c)
	if h.Sink == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "webhook sink not configured"})
		return
	}

	ev, err := ParseTwilioWebhook(c.Request, h.now())
	if err != nil {
		log.Warn("twilio webhook parse failed", "err", err)
		metrics.WebhooksReceived.WithLabelValues("voice", "invalid").Inc()
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}

	res, err := h.Sink.HandleInboundCall(c.Request.Context(), ev)
	if err != nil {
		metrics.WebhooksReceived.WithLabelValues("voice", "error").Inc()
		if errors.Is(err, normalizer.ErrInvalidEvent) {
			log.Warn("inbound call rejected", "call_sid", ev.CallSid, "err", err)
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		log.Error("inbound call handling failed", "call_sid", ev.CallSid, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "inbound call failed"})
		return
	}

	twiml, err := RenderInboundTwiML(res)
	if err != nil {
		log.Error("twiml render failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "twiml failed"})
		return
	}
	metrics.WebhooksReceived.WithLabelValues("voice", "ok").Inc()

	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, twiml)
}

func (h TwilioWebhookHandler) HandleStatusCallback(c *gin.Context) {
	log := logger.FromGin(c)
	if h.Sink == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "webhook sink not configured"})
		return
	}

	ev, err := ParseTwilioWebhook(c.Request, h.now())
	if err != nil {
		log.Warn("twilio status callback parse failed", "err", err)
		metrics.WebhooksReceived.WithLabelValues("status", "invalid").Inc()
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}

	if err := h.Sink.HandleStatusCallback(c.Request.Context(), ev); err != nil {
		metrics.WebhooksReceived.WithLabelValues("status", "error").Inc()
		if errors.Is(err, normalizer.ErrInvalidEvent) {
			log.Warn("status callback rejected", "call_sid", ev.CallSid, "err", err)
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		log.Error("status callback failed", "call_sid", ev.CallSid, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "status update failed"})
		return
	}
	metrics.WebhooksReceived.WithLabelValues("status", "ok").Inc()
	c.Status(http.StatusNoContent)
}
