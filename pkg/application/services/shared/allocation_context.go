package shared

import (
	"github.com/shopspring/decimal"
	"github.com/vsinha/packflow/pkg/domain/entities"
)

// AllocationMap tracks quantities already claimed per external document line
type AllocationMap map[entities.DocumentRef]decimal.Decimal

// NewAllocationMap creates a new empty allocation map
func NewAllocationMap() AllocationMap {
	return make(AllocationMap)
}

// NewAllocationMapFromSources creates an allocation map from persisted source allocations
func NewAllocationMapFromSources(allocations []entities.SourceAllocation) AllocationMap {
	allocMap := make(AllocationMap)
	for _, alloc := range allocations {
		allocMap.Add(alloc.Document, alloc.Quantity)
	}
	return allocMap
}

// Get returns the claimed quantity for a document line, zero when unmatched
func (am AllocationMap) Get(doc entities.DocumentRef) decimal.Decimal {
	if qty, ok := am[doc]; ok {
		return qty
	}
	return decimal.Zero
}

// Add accumulates a claimed quantity for a document line
func (am AllocationMap) Add(doc entities.DocumentRef, qty decimal.Decimal) {
	am[doc] = am.Get(doc).Add(qty)
}

// Total returns the claimed quantity across all document lines
func (am AllocationMap) Total() decimal.Decimal {
	total := decimal.Zero
	for _, qty := range am {
		total = total.Add(qty)
	}
	return total
}
