// Package admin exposes operational endpoints: rule set reload and
// dead-letter inspection.
package admin

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	apphttp "leadflow_backend/internal/http"
	"leadflow_backend/internal/http/response"
	"leadflow_backend/internal/rules"
	"leadflow_backend/internal/worker"
	"leadflow_backend/platform/logger"
)

// Module implements http.Module for the admin surface.
type Module struct {
	provider  *rules.FileProvider
	inspector *worker.Inspector
	log       *logger.Logger
}

func NewModule(provider *rules.FileProvider, inspector *worker.Inspector, log *logger.Logger) *Module {
	return &Module{provider: provider, inspector: inspector, log: log}
}

func (m *Module) Name() string {
	return "admin"
}

func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.Admin.POST("/rules/reload", m.reloadRules)
	ctx.Admin.GET("/deadletter", m.listDeadLetters)
}

// reloadRules re-reads the rule file immediately instead of waiting for the
// mtime poll.
func (m *Module) reloadRules(c *gin.Context) {
	if err := m.provider.Reload(); err != nil {
		response.Error(c, http.StatusUnprocessableEntity, "rule reload failed", err.Error())
		return
	}
	set := m.provider.Current()
	response.OK(c, gin.H{"version": set.Version})
}

func (m *Module) listDeadLetters(c *gin.Context) {
	size := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 500 {
			response.Error(c, http.StatusBadRequest, "invalid limit", nil)
			return
		}
		size = parsed
	}

	letters, err := m.inspector.ListDeadLetters(size)
	if err != nil {
		response.Error(c, http.StatusServiceUnavailable, "dead letter inspection failed", err.Error())
		return
	}
	response.OK(c, gin.H{"deadLetters": letters, "count": len(letters)})
}

var _ apphttp.Module = (*Module)(nil)
