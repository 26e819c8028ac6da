package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"alert-service/internal/logging"
)

// RouterConfig carries the credentials the router's middleware checks.
type RouterConfig struct {
	PublicURL   string
	Signatures  SignatureValidator
	TeamsAPIKey string
	Keys        *KeyRing
}

func NewRouter(h *Handler, logger *logging.Logger, cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLoggingMiddleware(logger))

	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.POST("/api/sensorEvent", h.SensorEvent)
	r.POST("/api/heartbeat", h.Heartbeat)

	alert := r.Group("/alert")
	{
		alert.POST("/sms", TwilioSignatureMiddleware(cfg.Signatures, cfg.PublicURL, logger), h.SMSResponse)
		alert.POST("/teams", HeaderKeyMiddleware("X-API-KEY", cfg.TeamsAPIKey, logger), h.CardResponse)
	}

	v1 := r.Group("/api/v1", APIKeyMiddleware(cfg.Keys, logger))
	{
		v1.GET("/sessions/:session_id", h.GetSession)
		v1.GET("/clients/:client_id/sessions", h.ListClientSessions)
		v1.GET("/clients/:client_id/live", h.Live)
	}
	return r
}
