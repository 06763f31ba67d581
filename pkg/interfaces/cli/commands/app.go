package commands

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/vsinha/packflow/pkg/application/services/allocation"
	"github.com/vsinha/packflow/pkg/application/services/commitment"
	"github.com/vsinha/packflow/pkg/application/services/ledger"
	"github.com/vsinha/packflow/pkg/application/services/location"
	"github.com/vsinha/packflow/pkg/application/services/orchestration"
	"github.com/vsinha/packflow/pkg/application/services/reconciliation"
	"github.com/vsinha/packflow/pkg/domain/gateways"
	"github.com/vsinha/packflow/pkg/domain/repositories"
	"github.com/vsinha/packflow/pkg/infrastructure/config"
	"github.com/vsinha/packflow/pkg/infrastructure/erp"
	"github.com/vsinha/packflow/pkg/infrastructure/events"
	"github.com/vsinha/packflow/pkg/infrastructure/repositories/csv"
	"github.com/vsinha/packflow/pkg/infrastructure/repositories/memory"
	"github.com/vsinha/packflow/pkg/infrastructure/repositories/postgres"
	api "github.com/vsinha/packflow/pkg/interfaces/http"
)

// Application holds every wired service of one process
type Application struct {
	Config       *config.Config
	Store        repositories.Store
	ERP          *erp.MemoryERP
	Events       *events.InMemoryEventStore
	Orchestrator *orchestration.Orchestrator
	Services     api.Services
	Logger       *zap.Logger

	closeStore func() error
}

// Build wires storage, the ERP gateway and the application services from cfg
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Application, error) {
	schema, err := cfg.MetadataSchema()
	if err != nil {
		return nil, err
	}

	app := &Application{Config: cfg, Logger: logger, closeStore: func() error { return nil }}

	switch cfg.Database.Driver {
	case "postgres":
		store, err := postgres.Open(cfg.Database.DSN, logger)
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, err
		}
		app.Store = store
		app.closeStore = store.Close
	default:
		app.Store = memory.NewStore()
	}

	app.ERP = erp.NewMemoryERP(logger)
	if cfg.ERP.SeedDir != "" {
		if err := csv.NewLoader().LoadDirectory(cfg.ERP.SeedDir, app.ERP); err != nil {
			app.Close()
			return nil, fmt.Errorf("failed to seed ERP from %s: %w", cfg.ERP.SeedDir, err)
		}
		logger.Info("ERP seeded", zap.String("dir", cfg.ERP.SeedDir))
	}

	app.Events = events.NewInMemoryEventStore(logger)
	if err := app.Events.Subscribe(auditedEvents, &events.HandlerFunc{
		Types: auditedEvents,
		Fn: func(e events.Event) error {
			logger.Debug("event", zap.String("type", e.Type()), zap.String("stream", e.StreamID()))
			return nil
		},
	}); err != nil {
		app.Close()
		return nil, err
	}

	settings := config.NewStaticSettings(cfg.DomainSettings())
	l := ledger.NewLedger(app.Store, settings, app.Events, logger.Named("ledger"))
	c := commitment.NewCoordinator(app.Store, app.Events, logger.Named("commitments"))
	tr := location.NewTracker(app.Store, app.Events, logger.Named("location"))
	rec := reconciliation.NewService(app.Store, app.ERP, app.ERP, settings, l, c, tr, app.Events, logger.Named("reconciliation"))

	app.Orchestrator = orchestration.NewOrchestrator(orchestration.Dependencies{
		Store:          app.Store,
		ERP:            app.ERP,
		Catalog:        app.ERP,
		Settings:       settings,
		Planner:        allocation.NewPlanner(app.ERP, app.Store, settings, logger.Named("allocation")),
		Ledger:         l,
		Commitments:    c,
		Tracker:        tr,
		Reconciliation: rec,
		Events:         app.Events,
		Logger:         logger.Named("orchestration"),
	})
	app.Services = api.Services{
		Ledger:         l,
		Tracker:        tr,
		Orchestrator:   app.Orchestrator,
		Events:         app.Events,
		MetadataSchema: schema,
	}
	return app, nil
}

// Close releases the storage connection
func (a *Application) Close() error {
	return a.closeStore()
}

var auditedEvents = []string{
	gateways.EventPackageCreated,
	gateways.EventPackageActivated,
	gateways.EventPackageLocked,
	gateways.EventPackageUnlocked,
	gateways.EventPackageMoved,
	gateways.EventPackageClosed,
	gateways.EventPackageCancelled,
	gateways.EventCommitmentReserved,
	gateways.EventCommitmentReleased,
	gateways.EventOperationCompleted,
	gateways.EventOperationCancelled,
	gateways.EventReconciliationFault,
}
