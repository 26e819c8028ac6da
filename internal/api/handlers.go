package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"alert-service/internal/db"
	"alert-service/internal/logging"
	"alert-service/internal/models"
	"alert-service/internal/services"
)

const (
	defaultSessionLimit = 50
	maxSessionLimit     = 500
)

// AlertService is the session orchestrator behind the alert endpoints.
type AlertService interface {
	HandleSensorEvent(ctx context.Context, ev models.SensorEvent) error
	HandleSMSResponse(ctx context.Context, resp services.SMSResponse) error
	HandleCardResponse(ctx context.Context, resp services.CardResponse) error
}

type HeartbeatHandler interface {
	HandleHeartbeat(ctx context.Context, ev models.SensorEvent) error
}

// SessionStore gives the read API non-transactional access to sessions.
type SessionStore interface {
	Store() db.Repository
}

// LiveFeed registers dashboard connections for session updates.
type LiveFeed interface {
	AddConnection(clientID uuid.UUID, conn *websocket.Conn) bool
	RemoveConnection(clientID uuid.UUID, conn *websocket.Conn)
}

type Handler struct {
	alerts   AlertService
	vitals   HeartbeatHandler
	store    SessionStore
	live     LiveFeed
	logger   *logging.Logger
	upgrader websocket.Upgrader
}

func NewHandler(alerts AlertService, vitals HeartbeatHandler, store SessionStore, live LiveFeed, logger *logging.Logger) *Handler {
	return &Handler{
		alerts: alerts,
		vitals: vitals,
		store:  store,
		live:   live,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// SensorEvent answers 200 whatever happens so the sensor cloud does not
// throttle the webhook.
func (h *Handler) SensorEvent(c *gin.Context) {
	var ev models.SensorEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		h.logger.Errorf("Bad request to %s: %v", c.Request.URL.Path, err)
		c.JSON(http.StatusOK, err.Error())
		return
	}
	if err := h.alerts.HandleSensorEvent(c.Request.Context(), ev); err != nil {
		h.logger.Errorf("Error on %s: %v", c.Request.URL.Path, err)
		c.JSON(http.StatusOK, err.Error())
		return
	}
	c.JSON(http.StatusOK, "OK")
}

func (h *Handler) Heartbeat(c *gin.Context) {
	var ev models.SensorEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		h.logger.Errorf("Bad request to %s: %v", c.Request.URL.Path, err)
		c.JSON(http.StatusOK, err.Error())
		return
	}
	if err := h.vitals.HandleHeartbeat(c.Request.Context(), ev); err != nil {
		h.logger.Errorf("Error on %s: %v", c.Request.URL.Path, err)
		c.JSON(http.StatusOK, err.Error())
		return
	}
	c.JSON(http.StatusOK, "OK")
}

// SMSResponse handles a responder's text forwarded by Twilio.
func (h *Handler) SMSResponse(c *gin.Context) {
	resp := services.SMSResponse{
		From: c.PostForm("From"),
		To:   c.PostForm("To"),
		Body: c.PostForm("Body"),
	}
	if err := h.alerts.HandleSMSResponse(c.Request.Context(), resp); err != nil {
		h.logger.Errorf("Error on %s: %v", c.Request.URL.Path, err)
		status := http.StatusInternalServerError
		if errors.Is(err, services.ErrValidation) {
			status = http.StatusBadRequest
		}
		c.JSON(status, err.Error())
		return
	}
	c.JSON(http.StatusOK, "OK")
}

type cardResponseRequest struct {
	TeamsID           string `json:"teamsId"`
	ChannelID         string `json:"channelId"`
	MessageID         string `json:"messageId" binding:"required"`
	SubmittedCardData struct {
		SelectedOption string `json:"selectedOption"`
		UserInput      string `json:"userInput"`
	} `json:"submittedCardData"`
}

// CardResponse handles a submission on a chat card.
func (h *Handler) CardResponse(c *gin.Context) {
	var req cardResponseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Errorf("Bad request to %s: %v", c.Request.URL.Path, err)
		c.JSON(http.StatusBadRequest, err.Error())
		return
	}
	text := req.SubmittedCardData.SelectedOption
	if strings.TrimSpace(text) == "" {
		text = req.SubmittedCardData.UserInput
	}
	err := h.alerts.HandleCardResponse(c.Request.Context(), services.CardResponse{MessageID: req.MessageID, Text: text})
	if err != nil {
		h.logger.Errorf("Error on %s: %v", c.Request.URL.Path, err)
		c.JSON(http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusOK, "OK")
}

func (h *Handler) GetSession(c *gin.Context) {
	ctx := c.Request.Context()
	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Invalid session_id"})
		return
	}

	repo := h.store.Store()
	session, err := repo.GetSession(ctx, sessionID)
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "Session not found"})
		return
	}
	if err != nil {
		h.internalError(c, err)
		return
	}
	device, err := repo.GetDevice(ctx, session.DeviceID)
	if err != nil {
		h.internalError(c, err)
		return
	}
	if !requestKey(c).CanAccess(device.ClientID) {
		c.JSON(http.StatusForbidden, gin.H{"status": "error", "message": "Client access denied for this key"})
		return
	}

	events, err := repo.ListEvents(ctx, session.ID)
	if err != nil {
		h.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SessionWithEvents{Session: session, Events: events})
}

func (h *Handler) ListClientSessions(c *gin.Context) {
	ctx := c.Request.Context()
	clientID, ok := h.clientParam(c)
	if !ok {
		return
	}
	limit := defaultSessionLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Invalid limit"})
			return
		}
		limit = min(n, maxSessionLimit)
	}

	repo := h.store.Store()
	sessions, err := repo.ListSessionsByClient(ctx, clientID, limit)
	if err != nil {
		h.internalError(c, err)
		return
	}
	out := make([]models.SessionWithEvents, 0, len(sessions))
	for _, session := range sessions {
		events, err := repo.ListEvents(ctx, session.ID)
		if err != nil {
			h.internalError(c, err)
			return
		}
		out = append(out, models.SessionWithEvents{Session: session, Events: events})
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": out})
}

// Live upgrades to a WebSocket that receives the client's session updates
// until the dashboard disconnects.
func (h *Handler) Live(c *gin.Context) {
	clientID, ok := h.clientParam(c)
	if !ok {
		return
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Errorf("WebSocket upgrade failed for client %s: %v", clientID, err)
		return
	}
	defer conn.Close()

	if !h.live.AddConnection(clientID, conn) {
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too many connections")
		_ = conn.WriteMessage(websocket.CloseMessage, msg)
		return
	}
	defer h.live.RemoveConnection(clientID, conn)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) clientParam(c *gin.Context) (uuid.UUID, bool) {
	clientID, err := uuid.Parse(c.Param("client_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Invalid client_id"})
		return uuid.Nil, false
	}
	if !requestKey(c).CanAccess(clientID) {
		c.JSON(http.StatusForbidden, gin.H{"status": "error", "message": "Client access denied for this key"})
		return uuid.Nil, false
	}
	return clientID, true
}

func (h *Handler) internalError(c *gin.Context, err error) {
	h.logger.Errorf("Internal server error at %s: %v", c.Request.URL.Path, err)
	c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "Internal Server Error"})
}
