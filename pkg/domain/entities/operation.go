package entities

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OperationType identifies which business operation a record belongs to
type OperationType string

const (
	OperationPicking           OperationType = "Picking"
	OperationTransfer          OperationType = "Transfer"
	OperationGoodsReceipt      OperationType = "GoodsReceipt"
	OperationInventoryCounting OperationType = "InventoryCounting"
)

// Valid reports whether the operation type is one of the known kinds
func (t OperationType) Valid() bool {
	switch t {
	case OperationPicking, OperationTransfer, OperationGoodsReceipt, OperationInventoryCounting:
		return true
	default:
		return false
	}
}

// SourceOperation is the tagged reference {type, id} to the operation owning a claim
type SourceOperation struct {
	Type OperationType
	ID   int64
}

func (s SourceOperation) String() string {
	return fmt.Sprintf("%s#%d", s.Type, s.ID)
}

// IsZero reports whether the reference is unset
func (s SourceOperation) IsZero() bool {
	return s.Type == "" && s.ID == 0
}

// OperationStatus tracks an operation through local editing and ERP synchronization
type OperationStatus string

const (
	OperationOpen       OperationStatus = "Open"
	OperationPending    OperationStatus = "Pending"
	OperationProcessing OperationStatus = "Processing"
	OperationCompleted  OperationStatus = "Completed"
	OperationCancelled  OperationStatus = "Cancelled"
	OperationFailed     OperationStatus = "Failed"
)

// IsTerminal reports whether no further processing may happen
func (s OperationStatus) IsTerminal() bool {
	return s == OperationCompleted || s == OperationCancelled
}

// Operation is the durable status row of a receipt, pick list, transfer or count
type Operation struct {
	Source      SourceOperation
	Status      OperationStatus
	Warehouse   string
	ExternalRef string
	Attempts    int
	LastError   string
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// AcceptsLines reports whether lines may still be added or edited
func (o *Operation) AcceptsLines() bool {
	return o.Status == OperationOpen || o.Status == OperationFailed
}

// OperationLine is a line of an operation, optionally bound to a package
type OperationLine struct {
	Source    SourceOperation
	LineID    int64
	ItemCode  ItemCode
	Unit      UnitOfMeasure
	Quantity  decimal.Decimal
	BaseQty   decimal.Decimal
	Warehouse string
	BinEntry  string
	PackageID *uuid.UUID
	Closed    bool
	CreatedAt time.Time
}

// TransferLine is a line of a transfer document, used for reversal transfers
type TransferLine struct {
	ID            uuid.UUID
	TransferID    int64
	ItemCode      ItemCode
	Unit          UnitOfMeasure
	Quantity      decimal.Decimal
	FromWarehouse string
	FromBin       string
	ToBin         string
	PackageID     *uuid.UUID
	CreatedAt     time.Time
}

// NewOperationLine creates a validated OperationLine
func NewOperationLine(
	source SourceOperation,
	lineID int64,
	itemCode ItemCode,
	unit UnitOfMeasure,
	quantity decimal.Decimal,
	warehouse, binEntry string,
) (*OperationLine, error) {
	if !source.Type.Valid() {
		return nil, NewValidationError(CodeInvalidInput, "unknown operation type %q", source.Type)
	}
	if string(itemCode) == "" {
		return nil, NewValidationError(CodeInvalidInput, "item code cannot be empty")
	}
	if !quantity.IsPositive() {
		return nil, NewValidationError(CodeInvalidInput, "quantity must be positive, got %s", quantity.String())
	}
	if warehouse == "" {
		return nil, NewValidationError(CodeMissingWarehouse, "warehouse cannot be empty")
	}

	return &OperationLine{
		Source:    source,
		LineID:    lineID,
		ItemCode:  itemCode,
		Unit:      unit,
		Quantity:  quantity,
		Warehouse: warehouse,
		BinEntry:  binEntry,
	}, nil
}
