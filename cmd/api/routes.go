package main

import (
	"net/http"

	"callcenter/internal/callcenter"
	"callcenter/internal/config"
	"callcenter/internal/httpapi"
	"callcenter/internal/metrics"
	"callcenter/internal/relay"
	"callcenter/internal/reporting"
	"callcenter/internal/telephony"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

type routeDeps struct {
	Hub       *relay.Hub
	Service   *callcenter.Service
	Reporting *reporting.Service
	Tokens    *telephony.VoiceTokenIssuer
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, cfg *config.Config, d routeDeps) {
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Request-Id"},
		ExposeHeaders:    []string{"X-Request-Id"},
		AllowCredentials: true,
	}))

	h := httpapi.Handlers{
		CallCenter: d.Service,
		Reporting:  d.Reporting,
		Tokens:     d.Tokens,
	}

	// public
	r.GET("/healthz", h.Health)
	r.GET("/metrics", metrics.Handler())

	// Relay observers.
	ws := relay.WSHandler{
		Hub:            d.Hub,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		BufferSize:     cfg.Relay.BufferSize,
		PingInterval:   cfg.Relay.PingInterval,
	}
	r.GET("/ws", httpapi.ClientIP(), ws.Serve)

	// Provider webhooks.
	hooks := r.Group("/webhook")
	if cfg.Twilio.ValidateWebhooks {
		hooks.Use(telephony.RequireTwilioSignature(cfg.Twilio.AuthToken, cfg.Twilio.BaseURL))
	}
	{
		wh := telephony.TwilioWebhookHandler{Sink: d.Service}
		hooks.POST("/voice", wh.HandleInboundCall)
		hooks.POST("/status", wh.HandleStatusCallback)
	}

	api := r.Group("/api")
	api.Use(httpapi.ClientIP())
	{
		callsGroup := api.Group("/calls")
		callsGroup.GET("", h.ListCalls)
		callsGroup.GET("/history", h.History)
		callsGroup.POST("/dial", h.Dial)
		callsGroup.POST("/:callSid/transfer", h.Transfer)
		callsGroup.POST("/:callSid/conference", h.Conference)
		callsGroup.POST("/:callSid/record", h.Record)

		agents := api.Group("/agents")
		agents.GET("", h.ListAgents)
		agents.PUT("/:agentId/status", h.SetAgentStatus)
		agents.GET("/:agentId/token", h.VoiceToken)

		api.GET("/summary", h.Summary)
	}
}
