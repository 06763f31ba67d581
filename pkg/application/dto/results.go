package dto

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vsinha/packflow/pkg/domain/entities"
)

// ReceiptPlan contains the persisted allocations of one receipt line
type ReceiptPlan struct {
	Sources []entities.SourceAllocation
	Targets []entities.TargetAllocation
	// Unassigned is received quantity no waiting target needed
	Unassigned decimal.Decimal
}

// PackageView is a package with its optionally loaded associations
type PackageView struct {
	Package     *entities.Package
	Contents    []*entities.PackageContent
	Commitments []*entities.PackageCommitment
	History     []*entities.PackageLocationHistory
}

// LoadOptions selects which associations GetPackage loads eagerly
type LoadOptions struct {
	Contents    bool
	Commitments bool
	History     bool
}

// LineResult is the outcome of adding or editing an operation line
type LineResult struct {
	Line       *entities.OperationLine
	Plan       *ReceiptPlan
	Commitment *entities.PackageCommitment
}

// ProcessResult is the outcome of synchronizing an operation with the ERP
type ProcessResult struct {
	Operation   *entities.Operation
	ExternalRef string
}

// ReconciliationFailure records one package/item that could not be reconciled
type ReconciliationFailure struct {
	PackageID *uuid.UUID
	ItemCode  entities.ItemCode
	Reason    string
}

// CancellationResult is the outcome of a pick-list cancellation
type CancellationResult struct {
	PickList          entities.SourceOperation
	ReversalTransfer  *entities.Operation
	RelocatedPackages []uuid.UUID
	StrippedPackages  []uuid.UUID
	TransferLines     []*entities.TransferLine
	Failures          []ReconciliationFailure
}

// FollowUpLine is a line of an ERP follow-up document closing a pick
type FollowUpLine struct {
	PickEntry int64
	PackageID uuid.UUID
	ItemCode  entities.ItemCode
	Quantity  decimal.Decimal
}

// ClosureResult is the outcome of delayed closure reconciliation
type ClosureResult struct {
	Reduced        map[uuid.UUID]map[entities.ItemCode]decimal.Decimal
	ClosedPackages []uuid.UUID
	Failures       []ReconciliationFailure
}

// SweepResult summarizes one retry sweep
type SweepResult struct {
	Processed int
	Failed    int
}
