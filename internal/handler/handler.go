package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"rollcall/internal/attendance"
)

// HealthCheck reports the reachability of one dependency.
type HealthCheck func(ctx context.Context) error

// Handler serves the roster and mark-in routes.
type Handler struct {
	svc    *attendance.Service
	checks map[string]HealthCheck
	logger *slog.Logger
	now    func() time.Time
}

// New creates a handler. checks may be nil.
func New(svc *attendance.Service, checks map[string]HealthCheck, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, checks: checks, logger: logger, now: time.Now}
}

// Register mounts the routes. markMiddleware runs only in front of the mark-in route.
func (h *Handler) Register(r gin.IRouter, markMiddleware ...gin.HandlerFunc) {
	r.GET("/healthz", h.Healthz)
	r.GET("/", h.Roster)
	r.GET("/lista", h.Roster)
	r.POST("/asistir", append(markMiddleware, h.Mark)...)
}

type rowJSON struct {
	Cedula   string              `json:"cedula"`
	Nombre   string              `json:"nombre"`
	Statuses []attendance.Status `json:"statuses"`
}

// Roster renders every student with their statuses for the current period.
func (h *Handler) Roster(c *gin.Context) {
	roster, err := h.svc.ListForDisplay(c.Request.Context(), h.now())
	if err != nil {
		h.logger.ErrorContext(c.Request.Context(), "list students", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error cargando estudiantes"})
		return
	}
	rows := make([]rowJSON, 0, len(roster.Students))
	for _, st := range roster.Students {
		rows = append(rows, rowJSON{Cedula: st.Cedula, Nombre: st.Name, Statuses: st.Statuses})
	}
	c.JSON(http.StatusOK, gin.H{
		"today":       roster.Today,
		"periodDates": roster.PeriodDates,
		"mode":        h.svc.Mode(),
		"students":    rows,
	})
}

type markRequest struct {
	StudentID string `form:"studentId" json:"studentId"`
}

// Mark records attendance for the submitted studentId and translates the
// outcome into a notice for the caller.
func (h *Handler) Mark(c *gin.Context) {
	var req markRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Solicitud inválida"})
		return
	}

	conf, err := h.svc.MarkAttendance(c.Request.Context(), req.StudentID, h.now())
	var already *attendance.AlreadyMarkedError
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{
			"success": conf.StudentName + " marcado como " + label(conf.Status),
			"cedula":  conf.Cedula,
			"date":    conf.Date,
			"status":  conf.Status,
		})
	case errors.Is(err, attendance.ErrStudentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Estudiante no encontrado"})
	case errors.As(err, &already):
		c.JSON(http.StatusConflict, gin.H{
			"error":  already.Name + " ya tiene estado hoy: " + label(already.Status),
			"date":   already.Date,
			"status": already.Status,
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error al actualizar asistencia"})
	}
}

func label(s attendance.Status) string { return strings.ToUpper(string(s)) }

// Healthz reports 503 when any dependency check fails.
func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, check := range h.checks {
		healthy := check(ctx) == nil
		body[name] = healthy
		if !healthy {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}
