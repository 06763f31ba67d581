package entities

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DocumentRef identifies one line of an external ERP document
type DocumentRef struct {
	DocType string
	Entry   int64
	LineNum int
}

func (d DocumentRef) String() string {
	return fmt.Sprintf("%s:%d/%d", d.DocType, d.Entry, d.LineNum)
}

// SourceDemand is the requirement of one receipt line, already in base units
type SourceDemand struct {
	ItemCode  ItemCode
	Unit      UnitOfMeasure
	Warehouse string
	Quantity  decimal.Decimal
}

// SourceCandidate is an open source document line reported by the ERP, oldest first
type SourceCandidate struct {
	Document  DocumentRef
	Available decimal.Decimal
	DocDate   time.Time
}

// SourceAllocation is the quantity one receipt line draws from one source document line
type SourceAllocation struct {
	ID        uuid.UUID
	Receipt   SourceOperation
	LineID    int64
	ItemCode  ItemCode
	Document  DocumentRef
	Quantity  decimal.Decimal
	CreatedAt time.Time
}

// TargetCandidate is a downstream document line waiting on received stock
type TargetCandidate struct {
	Document DocumentRef
	Priority int
	Required decimal.Decimal
	DocDate  time.Time
}

// TargetAllocation is the quantity of a receipt line distributed to one waiting document
type TargetAllocation struct {
	ID        uuid.UUID
	Receipt   SourceOperation
	LineID    int64
	ItemCode  ItemCode
	Document  DocumentRef
	Quantity  decimal.Decimal
	CreatedAt time.Time
}
