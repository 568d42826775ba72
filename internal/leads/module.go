// Package leads provides the lead scoring and routing bounded context.
// This file defines the module that encapsulates setup and route registration.
package leads

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"leadflow_backend/internal/events"
	apphttp "leadflow_backend/internal/http"
	"leadflow_backend/internal/leads/handler"
	"leadflow_backend/internal/leads/repository"
	"leadflow_backend/internal/leads/service"
	"leadflow_backend/internal/rules"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/validator"
)

// Module is the leads bounded context module implementing http.Module.
type Module struct {
	handler *handler.Handler
	service *service.Service
	repo    *repository.Repository
}

// NewModule creates and initializes the leads module with all its dependencies.
func NewModule(pool *pgxpool.Pool, provider rules.Provider, enqueuer service.Enqueuer, eventBus events.Bus, val *validator.Validator, cfg *config.Config, log *logger.Logger) *Module {
	repo := repository.New(pool)
	svc := service.New(repo, provider, enqueuer, eventBus, service.Options{
		DefaultPhoneRegion: cfg.GetDefaultPhoneRegion(),
		DecayWindow:        cfg.GetDecayWindow(),
		DecayBatchSize:     cfg.GetDecaySweepBatchSize(),
	}, log)

	// Routing outcomes are interesting enough to always land in the log.
	eventBus.Subscribe(events.LeadRouted{}.EventName(), events.HandlerFunc(func(ctx context.Context, event events.Event) error {
		e, ok := event.(events.LeadRouted)
		if !ok {
			return nil
		}
		l := log.WithLead(e.LeadID.String())
		if e.OwnerID != nil {
			l.Info("lead routed", "pipeline", e.Pipeline, "stage", e.Stage, "ownerId", e.OwnerID.String())
		} else {
			l.Info("lead routed without owner", "pipeline", e.Pipeline, "stage", e.Stage)
		}
		return nil
	}))

	return &Module{
		handler: handler.New(svc, val),
		service: svc,
		repo:    repo,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "leads"
}

// Service returns the lead service for the worker composition root.
func (m *Module) Service() *service.Service {
	return m.service
}

// Repository returns the shared repository for collaborators that need
// low-level access (the outbound executor's field updates).
func (m *Module) Repository() *repository.Repository {
	return m.repo
}

// RegisterRoutes mounts leads routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.V1.Group("/leads"))
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
