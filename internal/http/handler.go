package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"parking-service/internal/config"
	"parking-service/internal/domain/parking"
	"parking-service/internal/service"
	"parking-service/internal/utils"
)

// Pinger reports database reachability for the health endpoint.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type Handler struct {
	camera   *service.CameraService
	sessions *service.SessionService
	payments *service.PaymentService
	admin    *service.AdminService
	db       Pinger
	config   *config.Config
	log      zerolog.Logger
}

func NewHandler(
	camera *service.CameraService,
	sessions *service.SessionService,
	payments *service.PaymentService,
	admin *service.AdminService,
	db Pinger,
	cfg *config.Config,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		camera:   camera,
		sessions: sessions,
		payments: payments,
		admin:    admin,
		db:       db,
		config:   cfg,
		log:      log,
	}
}

func (h *Handler) Register(r *gin.Engine, authMiddleware gin.HandlerFunc) {
	r.GET("/health", h.health)

	public := r.Group("/api/v1")
	{
		public.POST("/camera/event", h.cameraEvent)
		public.GET("/sessions", h.listSessions)
		public.GET("/sessions/:id", h.getSession)
		public.GET("/tariffs/active", h.activeTariff)

		public.POST("/payments/qr", h.issueQR)
		public.POST("/payments/webhook", h.paymentWebhook)
		public.GET("/payments/:operation_id", h.getPayment)
		public.GET("/payments/:operation_id/status", h.paymentStatus)
	}

	admin := r.Group("/api/v1/admin")
	admin.Use(authMiddleware)
	{
		admin.GET("/parking-mode", h.getMode)
		admin.PUT("/parking-mode", h.setMode)

		admin.GET("/whitelist", h.listWhitelist)
		admin.POST("/whitelist", h.addWhitelist)
		admin.PUT("/whitelist/:id", h.updateWhitelist)
		admin.DELETE("/whitelist/:id", h.removeWhitelist)

		admin.GET("/tariffs", h.listTariffs)
		admin.POST("/tariffs", h.createTariff)
		admin.PUT("/tariffs/:id", h.updateTariff)
		admin.DELETE("/tariffs/:id", h.deleteTariff)
		admin.POST("/tariffs/:id/activate", h.activateTariff)

		admin.POST("/sessions/:id/close", h.closeSession)
		admin.POST("/sessions/cleanup", h.cleanupSessions)

		admin.POST("/barriers/:gate/open", h.gateCommand(service.GateOpen))
		admin.POST("/barriers/:gate/close", h.gateCommand(service.GateClose))
		admin.GET("/barriers/:gate/status", h.gateCommand(service.GateStatus))

		admin.POST("/payments/:operation_id/confirm", h.confirmPayment)
	}
}

func (h *Handler) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if h.db != nil {
		if err := h.db.PingContext(ctx); err != nil {
			h.log.Error().Err(err).Msg("health check failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "database": "down"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "database": "up", "time": time.Now().UTC()})
}

// cameraEvent accepts whatever the camera sends: XML, JSON or multipart text.
func (h *Handler) cameraEvent(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("cannot read body"))
		return
	}
	cameraID := strings.TrimSpace(c.GetHeader("X-Camera-ID"))
	if cameraID == "" {
		cameraID = c.ClientIP()
	}

	result, err := h.camera.Ingest(c.Request.Context(), cameraID, string(body))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) listSessions(c *gin.Context) {
	f := parking.SessionFilter{
		Plate:  strings.TrimSpace(c.Query("plate")),
		Status: parking.SessionStatus(strings.TrimSpace(c.Query("status"))),
		Limit:  50,
	}
	var err error
	if f.From, err = parseTime(c.Query("from")); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("from must be RFC3339"))
		return
	}
	if f.To, err = parseTime(c.Query("to")); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("to must be RFC3339"))
		return
	}
	if l := c.Query("limit"); l != "" {
		if parsed, err := parseInt(l); err == nil && parsed > 0 {
			f.Limit = parsed
		}
	}
	if o := c.Query("offset"); o != "" {
		if parsed, err := parseInt(o); err == nil && parsed >= 0 {
			f.Offset = parsed
		}
	}

	sessions, err := h.sessions.List(c.Request.Context(), f)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(sessionViews(sessions)))
}

func (h *Handler) getSession(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	sess, err := h.sessions.Get(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(newSessionView(*sess)))
}

func (h *Handler) activeTariff(c *gin.Context) {
	c.JSON(http.StatusOK, successResponse(h.admin.ActiveTariff(c.Request.Context())))
}

type qrRequest struct {
	SessionID int64  `json:"session_id"`
	Plate     string `json:"plate"`
}

func (h *Handler) issueQR(c *gin.Context) {
	var req qrRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	ctx := c.Request.Context()

	sessionID := req.SessionID
	if sessionID == 0 {
		plate := utils.NormalizePlate(req.Plate)
		if plate == "" {
			c.JSON(http.StatusBadRequest, errorResponse("session_id or plate is required"))
			return
		}
		sess, err := h.unpaidSession(ctx, plate)
		if err != nil {
			h.handleError(c, err)
			return
		}
		sessionID = sess.ID
	}

	p, err := h.payments.Issue(ctx, sessionID)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(p))
}

// unpaidSession picks the latest closed session of plate that still owes money.
func (h *Handler) unpaidSession(ctx context.Context, plate string) (*parking.Session, error) {
	sessions, err := h.sessions.List(ctx, parking.SessionFilter{Plate: plate, Status: parking.SessionCompleted, Limit: 10})
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		if !sessions[i].PaymentReceived && sessions[i].CostAmount.IsPositive() {
			return &sessions[i], nil
		}
	}
	return nil, service.ErrPaymentNotRequired
}

func (h *Handler) paymentWebhook(c *gin.Context) {
	var payload map[string]interface{}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid JSON"))
		return
	}
	p, err := h.payments.Webhook(c.Request.Context(), payload)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"operation_id":   p.OperationID,
		"payment_status": p.Status,
	})
}

func (h *Handler) paymentStatus(c *gin.Context) {
	p, err := h.payments.Poll(c.Request.Context(), c.Param("operation_id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(gin.H{
		"operation_id":    p.OperationID,
		"status":          p.Status,
		"provider_status": p.ProviderStatus,
		"amount":          p.Amount.StringFixed(2),
		"paid_at":         p.PaidAt,
	}))
}

func (h *Handler) getPayment(c *gin.Context) {
	ctx := c.Request.Context()
	p, err := h.payments.Get(ctx, c.Param("operation_id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	resp := gin.H{"payment": p}
	if sess, err := h.sessions.Get(ctx, p.SessionID); err == nil {
		resp["session"] = newSessionView(*sess)
	} else {
		h.log.Warn().Err(err).Str("operation_id", p.OperationID).Int64("session_id", p.SessionID).Msg("payment without session")
	}
	c.JSON(http.StatusOK, successResponse(resp))
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse(err.Error()))
	case errors.Is(err, service.ErrPaymentNotRequired), errors.Is(err, service.ErrSessionNotActive):
		c.JSON(http.StatusConflict, errorResponse(err.Error()))
	case errors.Is(err, service.ErrPaymentUnavailable):
		c.JSON(http.StatusBadGateway, errorResponse(err.Error()))
	default:
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("handler error")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
	}
}

func successResponse(data interface{}) gin.H {
	return gin.H{
		"data": data,
	}
}

func errorResponse(message string) gin.H {
	return gin.H{
		"error": message,
	}
}

func parseInt(s string) (int, error) {
	return strconv.Atoi(s)
}

func parseTime(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, errorResponse(name+" must be a positive integer"))
		return 0, false
	}
	return id, true
}

// sessionView adds the human readable duration shown on the payment screen.
type sessionView struct {
	parking.Session
	Duration string `json:"duration,omitempty"`
}

func newSessionView(s parking.Session) sessionView {
	v := sessionView{Session: s}
	if s.DurationMinutes != nil {
		v.Duration = utils.FormatDuration(*s.DurationMinutes)
	}
	return v
}

func sessionViews(sessions []parking.Session) []sessionView {
	out := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, newSessionView(s))
	}
	return out
}
