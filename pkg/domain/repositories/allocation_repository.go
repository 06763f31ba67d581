package repositories

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/vsinha/packflow/pkg/domain/entities"
)

// AllocationRepository persists source and target allocations of receipt lines
type AllocationRepository interface {
	SaveSourceAllocations(ctx context.Context, allocations []entities.SourceAllocation) error
	ListSourceAllocations(ctx context.Context, receipt entities.SourceOperation, lineID int64) ([]entities.SourceAllocation, error)
	ListSourceAllocationsByItem(ctx context.Context, itemCode entities.ItemCode) ([]entities.SourceAllocation, error)
	// SourceAllocatedQuantities sums persisted allocations per source document line for an item
	SourceAllocatedQuantities(ctx context.Context, itemCode entities.ItemCode) (map[entities.DocumentRef]decimal.Decimal, error)
	DeleteSourceAllocations(ctx context.Context, receipt entities.SourceOperation, lineID int64) error

	SaveTargetAllocations(ctx context.Context, allocations []entities.TargetAllocation) error
	ListTargetAllocations(ctx context.Context, receipt entities.SourceOperation, lineID int64) ([]entities.TargetAllocation, error)
	TargetAllocatedQuantities(ctx context.Context, itemCode entities.ItemCode) (map[entities.DocumentRef]decimal.Decimal, error)
	DeleteTargetAllocations(ctx context.Context, receipt entities.SourceOperation, lineID int64) error
}
