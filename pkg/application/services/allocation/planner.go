package allocation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vsinha/packflow/pkg/application/dto"
	"github.com/vsinha/packflow/pkg/application/services/shared"
	"github.com/vsinha/packflow/pkg/domain/entities"
	"github.com/vsinha/packflow/pkg/domain/gateways"
	"github.com/vsinha/packflow/pkg/domain/repositories"
)

// Inputs holds everything the ERP reports for one receipt line.
// It is loaded before the line's transaction starts so no network call runs inside it.
type Inputs struct {
	Candidates []entities.SourceCandidate
	Targets    []entities.TargetCandidate
	Settings   entities.Settings
}

// Planner applies FIFO allocation and priority distribution to receipt lines
type Planner struct {
	erp         gateways.ERPGateway
	allocations repositories.AllocationRepository
	settings    gateways.SettingsProvider
	logger      *zap.Logger
	now         func() time.Time
}

// NewPlanner creates a new allocation planner
func NewPlanner(
	erp gateways.ERPGateway,
	allocations repositories.AllocationRepository,
	settings gateways.SettingsProvider,
	logger *zap.Logger,
) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{
		erp:         erp,
		allocations: allocations,
		settings:    settings,
		logger:      logger,
		now:         time.Now,
	}
}

// LoadInputs queries the ERP for source candidates and, when distribution is enabled, waiting targets
func (p *Planner) LoadInputs(ctx context.Context, demand entities.SourceDemand) (*Inputs, error) {
	settings, err := p.settings.Settings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	candidates, err := p.erp.SourceCandidates(ctx, demand)
	if err != nil {
		return nil, entities.NewExternalSystemError(err, "failed to load source documents for %s", demand.ItemCode)
	}

	inputs := &Inputs{Candidates: candidates, Settings: settings}
	if settings.TargetDistributionEnabled {
		targets, err := p.erp.WaitingTargets(ctx, demand.ItemCode, demand.Warehouse)
		if err != nil {
			return nil, entities.NewExternalSystemError(err, "failed to load waiting documents for %s", demand.ItemCode)
		}
		inputs.Targets = targets
	}

	return inputs, nil
}

// PlanReceiptLine allocates and persists the sources and targets of a receipt line.
// Call it inside the transaction that inserts the line.
func (p *Planner) PlanReceiptLine(
	ctx context.Context,
	receipt entities.SourceOperation,
	lineID int64,
	demand entities.SourceDemand,
	inputs *Inputs,
) (*dto.ReceiptPlan, error) {
	priorSources, err := p.allocations.SourceAllocatedQuantities(ctx, demand.ItemCode)
	if err != nil {
		return nil, fmt.Errorf("failed to load source allocations: %w", err)
	}
	fallback, err := p.allocations.ListSourceAllocationsByItem(ctx, demand.ItemCode)
	if err != nil {
		return nil, fmt.Errorf("failed to load fallback allocations: %w", err)
	}

	sources, err := AllocateFIFO(
		demand,
		inputs.Candidates,
		shared.AllocationMap(priorSources),
		fallback,
		inputs.Settings.FallbackSourcePreference,
	)
	if err != nil {
		return nil, err
	}

	now := p.now()
	for i := range sources {
		sources[i].ID = uuid.New()
		sources[i].Receipt = receipt
		sources[i].LineID = lineID
		sources[i].CreatedAt = now
	}
	if err := p.allocations.SaveSourceAllocations(ctx, sources); err != nil {
		return nil, fmt.Errorf("failed to save source allocations: %w", err)
	}

	// The persisted sources of a line must cover exactly its demand
	total, err := p.AllocatedTotal(ctx, receipt, lineID)
	if err != nil {
		return nil, fmt.Errorf("failed to verify source allocations: %w", err)
	}
	if !total.Equal(demand.Quantity) {
		return nil, entities.NewStateConflictError(entities.CodeAllocationMismatch,
			"line %d of %s: sources sum to %s for a demand of %s", lineID, receipt, total, demand.Quantity)
	}

	plan := &dto.ReceiptPlan{Sources: sources, Unassigned: demand.Quantity}

	if inputs.Settings.TargetDistributionEnabled {
		priorTargets, err := p.allocations.TargetAllocatedQuantities(ctx, demand.ItemCode)
		if err != nil {
			return nil, fmt.Errorf("failed to load target allocations: %w", err)
		}

		targets, leftover := DistributeByPriority(demand.ItemCode, demand.Quantity, inputs.Targets, shared.AllocationMap(priorTargets))
		for i := range targets {
			targets[i].ID = uuid.New()
			targets[i].Receipt = receipt
			targets[i].LineID = lineID
			targets[i].CreatedAt = now
		}
		if err := p.allocations.SaveTargetAllocations(ctx, targets); err != nil {
			return nil, fmt.Errorf("failed to save target allocations: %w", err)
		}
		plan.Targets = targets
		plan.Unassigned = leftover
	}

	p.logger.Debug("receipt line planned",
		zap.String("receipt", receipt.String()),
		zap.Int64("line", lineID),
		zap.String("item", string(demand.ItemCode)),
		zap.Int("sources", len(plan.Sources)),
		zap.Int("targets", len(plan.Targets)),
		zap.String("unassigned", plan.Unassigned.String()),
	)

	return plan, nil
}

// ReleaseReceiptLine deletes the persisted allocations of a receipt line
func (p *Planner) ReleaseReceiptLine(ctx context.Context, receipt entities.SourceOperation, lineID int64) error {
	if err := p.allocations.DeleteSourceAllocations(ctx, receipt, lineID); err != nil {
		return fmt.Errorf("failed to delete source allocations: %w", err)
	}
	if err := p.allocations.DeleteTargetAllocations(ctx, receipt, lineID); err != nil {
		return fmt.Errorf("failed to delete target allocations: %w", err)
	}
	return nil
}

// AllocatedTotal sums the source allocations of a receipt line
func (p *Planner) AllocatedTotal(ctx context.Context, receipt entities.SourceOperation, lineID int64) (decimal.Decimal, error) {
	allocs, err := p.allocations.ListSourceAllocations(ctx, receipt, lineID)
	if err != nil {
		return decimal.Zero, err
	}
	return shared.NewAllocationMapFromSources(allocs).Total(), nil
}
