package entities

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PackageStatus represents the lifecycle state of a package
type PackageStatus string

const (
	PackageInit      PackageStatus = "Init"
	PackageActive    PackageStatus = "Active"
	PackageLocked    PackageStatus = "Locked"
	PackageClosed    PackageStatus = "Closed"
	PackageCancelled PackageStatus = "Cancelled"
)

// IsTerminal reports whether the status allows no further transitions
func (s PackageStatus) IsTerminal() bool {
	return s == PackageClosed || s == PackageCancelled
}

var packageTransitions = map[PackageStatus][]PackageStatus{
	PackageInit:   {PackageActive, PackageLocked, PackageCancelled},
	PackageActive: {PackageLocked, PackageClosed, PackageCancelled},
	PackageLocked: {PackageInit, PackageActive, PackageCancelled},
}

// CanTransition reports whether the state machine permits from -> to
func CanTransition(from, to PackageStatus) bool {
	for _, next := range packageTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Package is a physical container with its own location and lifecycle
type Package struct {
	ID            uuid.UUID
	Barcode       string
	Status        PackageStatus
	PreLockStatus PackageStatus
	WarehouseCode string
	BinEntry      string
	Source        SourceOperation
	Attributes    map[string]any
	CreatedBy     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ClosedBy      string
	ClosedAt      *time.Time
	CancelledBy   string
	CancelledAt   *time.Time
}

// Transition moves the package to the next status or reports the violated rule
func (p *Package) Transition(to PackageStatus) error {
	if p.Status == to {
		return NewStateConflictError(CodeInvalidTransition, "package %s is already %s", p.Barcode, to)
	}
	if !CanTransition(p.Status, to) {
		switch p.Status {
		case PackageClosed:
			return NewStateConflictError(CodePackageClosed, "package %s is closed", p.Barcode)
		case PackageCancelled:
			return NewStateConflictError(CodePackageCancelled, "package %s is cancelled", p.Barcode)
		}
		return NewStateConflictError(CodeInvalidTransition, "package %s cannot move from %s to %s", p.Barcode, p.Status, to)
	}
	p.Status = to
	return nil
}

// EnsureMutable rejects content changes on locked or terminal packages
func (p *Package) EnsureMutable() error {
	switch p.Status {
	case PackageLocked:
		return NewStateConflictError(CodePackageLocked, "package %s is locked", p.Barcode)
	case PackageClosed:
		return NewStateConflictError(CodePackageClosed, "package %s is closed", p.Barcode)
	case PackageCancelled:
		return NewStateConflictError(CodePackageCancelled, "package %s is cancelled", p.Barcode)
	}
	return nil
}

// PackageContent is one (package, item) row
type PackageContent struct {
	ID                uuid.UUID
	PackageID         uuid.UUID
	ItemCode          ItemCode
	Unit              UnitOfMeasure
	Quantity          decimal.Decimal
	CommittedQuantity decimal.Decimal
	WarehouseCode     string
	BinEntry          string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Available returns the on-hand quantity not claimed by any commitment
func (c *PackageContent) Available() decimal.Decimal {
	return c.Quantity.Sub(c.CommittedQuantity)
}

// CheckInvariant verifies 0 <= committed <= quantity and location mirroring
func (c *PackageContent) CheckInvariant(pkg *Package) error {
	if c.CommittedQuantity.IsNegative() || c.CommittedQuantity.GreaterThan(c.Quantity) {
		return &DomainError{
			Kind:    KindStateConflict,
			Code:    CodeCommitmentInvariant,
			Message: "committed quantity " + c.CommittedQuantity.String() + " outside [0, " + c.Quantity.String() + "] for item " + string(c.ItemCode),
		}
	}
	if pkg != nil && (c.WarehouseCode != pkg.WarehouseCode || c.BinEntry != pkg.BinEntry) {
		return &DomainError{
			Kind:    KindStateConflict,
			Code:    CodeBinMismatch,
			Message: "content location " + c.WarehouseCode + "/" + c.BinEntry + " differs from package location " + pkg.WarehouseCode + "/" + pkg.BinEntry,
		}
	}
	return nil
}

// PackageCommitment is a claim of package quantity by an in-flight operation
type PackageCommitment struct {
	ID              uuid.UUID
	PackageID       uuid.UUID
	ContentID       uuid.UUID
	ItemCode        ItemCode
	Quantity        decimal.Decimal
	Source          SourceOperation
	SourceLineID    int64
	TargetPackageID *uuid.UUID
	CreatedAt       time.Time
}

// MovementType describes why a package location history row was written
type MovementType string

const (
	MovementCreated      MovementType = "Created"
	MovementScanned      MovementType = "Scanned"
	MovementMoved        MovementType = "Moved"
	MovementCancellation MovementType = "Cancellation"
)

// PackageLocationHistory is an append-only movement record
type PackageLocationHistory struct {
	ID            uuid.UUID
	PackageID     uuid.UUID
	FromWarehouse string
	FromBin       string
	ToWarehouse   string
	ToBin         string
	MovementType  MovementType
	Source        SourceOperation
	MovedBy       string
	CreatedAt     time.Time
}
