// Package handler exposes the leads API over gin.
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"leadflow_backend/internal/automation"
	"leadflow_backend/internal/http/response"
	"leadflow_backend/internal/leads/service"
	"leadflow_backend/internal/leads/transport"
	"leadflow_backend/internal/routing"
	"leadflow_backend/platform/validator"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
)

type Handler struct {
	svc *service.Service
	val *validator.Validator
}

func New(svc *service.Service, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/resolve", h.Resolve)
	rg.GET("/:id", h.GetByID)
	rg.POST("/:id/score", h.RecomputeScore)
	rg.GET("/:id/intent", h.GetIntent)
	rg.POST("/:id/route", h.Route)
	rg.POST("/:id/route/reset", h.ResetRoute)
	rg.POST("/:id/automations/:trigger", h.RunAutomations)
}

// Resolve maps an identifier set onto a lead (creating one when nothing
// matches), records the event, and queues asynchronous processing.
func (h *Handler) Resolve(c *gin.Context) {
	var req transport.IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		response.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	lead, ev, created, err := h.svc.Ingest(c.Request.Context(), req.ToParams())
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.JSON(c, http.StatusAccepted, transport.IngestResponse{
		Lead:        transport.FromLead(lead),
		EventID:     ev.ID,
		LeadCreated: created,
	})
}

func (h *Handler) GetByID(c *gin.Context) {
	id, ok := h.leadID(c)
	if !ok {
		return
	}

	lead, err := h.svc.GetLead(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, transport.FromLead(lead))
}

// RecomputeScore replays the lead's ledger with decay applied and returns the
// refreshed totals.
func (h *Handler) RecomputeScore(c *gin.Context) {
	id, ok := h.leadID(c)
	if !ok {
		return
	}

	lead, err := h.svc.RecomputeScore(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, transport.FromLead(lead))
}

func (h *Handler) GetIntent(c *gin.Context) {
	id, ok := h.leadID(c)
	if !ok {
		return
	}

	view, err := h.svc.GetIntent(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, transport.FromIntentView(view))
}

// Route evaluates routing synchronously. A body with an override routes the
// lead regardless of thresholds.
func (h *Handler) Route(c *gin.Context) {
	id, ok := h.leadID(c)
	if !ok {
		return
	}

	var override *routing.ManualOverride
	if c.Request.ContentLength > 0 {
		var req transport.RouteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
			return
		}
		if req.Override != nil {
			if err := h.val.Struct(req.Override); err != nil {
				response.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
				return
			}
			override = &routing.ManualOverride{
				Pipeline: req.Override.Pipeline,
				Stage:    req.Override.Stage,
				OwnerID:  req.Override.OwnerID,
			}
		}
	}

	decision, err := h.svc.EvaluateRouting(c.Request.Context(), id, override)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, transport.FromDecision(decision))
}

// ResetRoute returns a lead to unrouted so routing can be evaluated fresh.
func (h *Handler) ResetRoute(c *gin.Context) {
	id, ok := h.leadID(c)
	if !ok {
		return
	}

	lead, err := h.svc.ResetRouting(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, transport.FromLead(lead))
}

func (h *Handler) RunAutomations(c *gin.Context) {
	id, ok := h.leadID(c)
	if !ok {
		return
	}

	trigger := automation.TriggerType(c.Param("trigger"))
	switch trigger {
	case automation.TriggerStageEntered, automation.TriggerScoreCrossed,
		automation.TriggerInactivityDays, automation.TriggerManual:
	default:
		response.Error(c, http.StatusBadRequest, "unknown trigger", string(trigger))
		return
	}

	actions, err := h.svc.RunAutomations(c.Request.Context(), id, trigger)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, gin.H{"actions": transport.FromActions(actions)})
}

func (h *Handler) leadID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return uuid.Nil, false
	}
	return id, true
}
