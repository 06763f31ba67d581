package gateways

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"github.com/vsinha/packflow/pkg/domain/entities"
)

// ErrNothingPending is returned by ProcessPendingPicks when there is no local work to flush
var ErrNothingPending = errors.New("nothing pending")

// ExternalResult is the ERP answer to a process call
type ExternalResult struct {
	Success     bool
	ExternalRef string
	Message     string
}

// PickedQuantity is the ERP's authoritative picked quantity for one pick entry
type PickedQuantity struct {
	PickEntry int64
	ItemCode  entities.ItemCode
	Warehouse string
	BinEntry  string
	Quantity  decimal.Decimal
}

// ERPGateway is the capability contract of the external ERP
type ERPGateway interface {
	OnHand(ctx context.Context, itemCode entities.ItemCode, warehouse, binEntry string) (decimal.Decimal, error)
	// SourceCandidates returns open source document lines for a demand, oldest first
	SourceCandidates(ctx context.Context, demand entities.SourceDemand) ([]entities.SourceCandidate, error)
	WaitingTargets(ctx context.Context, itemCode entities.ItemCode, warehouse string) ([]entities.TargetCandidate, error)
	Process(ctx context.Context, op *entities.Operation, lines []*entities.OperationLine) (ExternalResult, error)
	Cancel(ctx context.Context, source entities.SourceOperation, externalRef string) error
	// ProcessPendingPicks flushes locally pending picks, returning ErrNothingPending when idle
	ProcessPendingPicks(ctx context.Context, pickListID int64) error
	PickedQuantities(ctx context.Context, pickListID int64) ([]PickedQuantity, error)
}

// ItemCatalog provides item and unit conversion metadata
type ItemCatalog interface {
	UnitFactors(ctx context.Context, itemCode entities.ItemCode) (entities.UnitFactors, error)
}

// SettingsProvider provides feature toggles and warehouse configuration
type SettingsProvider interface {
	Settings(ctx context.Context) (entities.Settings, error)
}
