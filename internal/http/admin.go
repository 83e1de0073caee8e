package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"parking-service/internal/domain/parking"
	"parking-service/internal/service"
)

type modeRequest struct {
	Mode string `json:"mode" binding:"required"`
}

func (h *Handler) getMode(c *gin.Context) {
	c.JSON(http.StatusOK, successResponse(gin.H{"mode": h.admin.Mode(c.Request.Context())}))
}

func (h *Handler) setMode(c *gin.Context) {
	var req modeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	mode := parking.Mode(strings.ToLower(strings.TrimSpace(req.Mode)))
	if err := h.admin.SetMode(c.Request.Context(), mode); err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(gin.H{"mode": mode}))
}

type whitelistRequest struct {
	Plate      string     `json:"plate" binding:"required"`
	ValidFrom  *time.Time `json:"valid_from"`
	ValidUntil *time.Time `json:"valid_until"`
	Comment    string     `json:"comment"`
}

func (h *Handler) listWhitelist(c *gin.Context) {
	entries, err := h.admin.ListWhitelist(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(entries))
}

func (h *Handler) addWhitelist(c *gin.Context) {
	var req whitelistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	e, err := h.admin.AddWhitelist(c.Request.Context(), req.Plate, req.ValidFrom, req.ValidUntil, req.Comment)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, successResponse(e))
}

func (h *Handler) updateWhitelist(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req whitelistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	e, err := h.admin.UpdateWhitelist(c.Request.Context(), id, req.Plate, req.ValidFrom, req.ValidUntil, req.Comment)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(e))
}

func (h *Handler) removeWhitelist(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.admin.RemoveWhitelist(c.Request.Context(), id); err != nil {
		h.handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type tariffRequest struct {
	Name        string          `json:"name" binding:"required"`
	HourlyRate  decimal.Decimal `json:"hourly_rate"`
	NightRate   decimal.Decimal `json:"night_rate"`
	FreeMinutes int             `json:"free_minutes"`
	MaxHours    int             `json:"max_hours"`
	IsActive    bool            `json:"is_active"`
	ValidFrom   *time.Time      `json:"valid_from"`
	ValidUntil  *time.Time      `json:"valid_until"`
	Description string          `json:"description"`
}

func (r tariffRequest) tariff() *parking.Tariff {
	maxHours := r.MaxHours
	if maxHours == 0 {
		maxHours = 24
	}
	return &parking.Tariff{
		Name:        strings.TrimSpace(r.Name),
		HourlyRate:  r.HourlyRate,
		NightRate:   r.NightRate,
		FreeMinutes: r.FreeMinutes,
		MaxHours:    maxHours,
		IsActive:    r.IsActive,
		ValidFrom:   r.ValidFrom,
		ValidUntil:  r.ValidUntil,
		Description: r.Description,
	}
}

func (h *Handler) listTariffs(c *gin.Context) {
	tariffs, err := h.admin.ListTariffs(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(tariffs))
}

func (h *Handler) createTariff(c *gin.Context) {
	var req tariffRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	t := req.tariff()
	if err := h.admin.CreateTariff(c.Request.Context(), t); err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, successResponse(t))
}

func (h *Handler) updateTariff(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req tariffRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	t := req.tariff()
	t.ID = id
	if err := h.admin.UpdateTariff(c.Request.Context(), t); err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(t))
}

func (h *Handler) deleteTariff(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.admin.DeleteTariff(c.Request.Context(), id); err != nil {
		h.handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) activateTariff(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.admin.ActivateTariff(c.Request.Context(), id); err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(gin.H{"id": id, "is_active": true}))
}

type closeRequest struct {
	Note string `json:"note"`
}

func (h *Handler) closeSession(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req closeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
			return
		}
	}
	note := strings.TrimSpace(req.Note)
	if note == "" {
		note = "closed by operator " + c.GetString(ctxSubject)
	}
	sess, err := h.sessions.ForceClose(c.Request.Context(), id, strings.TrimSpace(note))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(newSessionView(*sess)))
}

func (h *Handler) cleanupSessions(c *gin.Context) {
	closed, err := h.sessions.SweepTimeouts(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(gin.H{"closed": closed}))
}

func (h *Handler) gateCommand(cmd service.GateCommand) gin.HandlerFunc {
	return func(c *gin.Context) {
		gate := c.Param("gate")
		if _, ok := h.config.Barriers[gate]; !ok {
			c.JSON(http.StatusNotFound, errorResponse("unknown gate "+gate))
			return
		}
		state, ok, err := h.admin.ControlGate(c.Request.Context(), gate, cmd)
		if err != nil {
			h.handleError(c, err)
			return
		}
		status := http.StatusOK
		if !ok {
			status = http.StatusBadGateway
		}
		c.JSON(status, gin.H{"gate": gate, "command": cmd, "success": ok, "state": state})
	}
}

func (h *Handler) confirmPayment(c *gin.Context) {
	by := c.GetString(ctxSubject)
	if by == "" {
		by = "admin"
	}
	p, err := h.payments.Confirm(c.Request.Context(), c.Param("operation_id"), by)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(p))
}
