package memory

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/vsinha/packflow/pkg/domain/entities"
)

// SaveSourceAllocations appends source allocation rows
func (s *Store) SaveSourceAllocations(ctx context.Context, allocations []entities.SourceAllocation) error {
	return s.view(ctx, func(st *state) error {
		st.sourceAllocs = append(st.sourceAllocs, allocations...)
		return nil
	})
}

// ListSourceAllocations returns the source allocations of a receipt line
func (s *Store) ListSourceAllocations(ctx context.Context, receipt entities.SourceOperation, lineID int64) ([]entities.SourceAllocation, error) {
	var out []entities.SourceAllocation
	err := s.view(ctx, func(st *state) error {
		for _, a := range st.sourceAllocs {
			if a.Receipt == receipt && a.LineID == lineID {
				out = append(out, a)
			}
		}
		return nil
	})
	return out, err
}

// ListSourceAllocationsByItem returns every source allocation of an item
func (s *Store) ListSourceAllocationsByItem(ctx context.Context, itemCode entities.ItemCode) ([]entities.SourceAllocation, error) {
	var out []entities.SourceAllocation
	err := s.view(ctx, func(st *state) error {
		for _, a := range st.sourceAllocs {
			if a.ItemCode == itemCode {
				out = append(out, a)
			}
		}
		return nil
	})
	return out, err
}

// SourceAllocatedQuantities sums source allocations per document line for an item
func (s *Store) SourceAllocatedQuantities(ctx context.Context, itemCode entities.ItemCode) (map[entities.DocumentRef]decimal.Decimal, error) {
	out := make(map[entities.DocumentRef]decimal.Decimal)
	err := s.view(ctx, func(st *state) error {
		for _, a := range st.sourceAllocs {
			if a.ItemCode == itemCode {
				out[a.Document] = out[a.Document].Add(a.Quantity)
			}
		}
		return nil
	})
	return out, err
}

// DeleteSourceAllocations removes the source allocations of a receipt line
func (s *Store) DeleteSourceAllocations(ctx context.Context, receipt entities.SourceOperation, lineID int64) error {
	return s.view(ctx, func(st *state) error {
		kept := st.sourceAllocs[:0]
		for _, a := range st.sourceAllocs {
			if !(a.Receipt == receipt && a.LineID == lineID) {
				kept = append(kept, a)
			}
		}
		st.sourceAllocs = kept
		return nil
	})
}

// SaveTargetAllocations appends target allocation rows
func (s *Store) SaveTargetAllocations(ctx context.Context, allocations []entities.TargetAllocation) error {
	return s.view(ctx, func(st *state) error {
		st.targetAllocs = append(st.targetAllocs, allocations...)
		return nil
	})
}

// ListTargetAllocations returns the target allocations of a receipt line
func (s *Store) ListTargetAllocations(ctx context.Context, receipt entities.SourceOperation, lineID int64) ([]entities.TargetAllocation, error) {
	var out []entities.TargetAllocation
	err := s.view(ctx, func(st *state) error {
		for _, a := range st.targetAllocs {
			if a.Receipt == receipt && a.LineID == lineID {
				out = append(out, a)
			}
		}
		return nil
	})
	return out, err
}

// TargetAllocatedQuantities sums target allocations per document line for an item
func (s *Store) TargetAllocatedQuantities(ctx context.Context, itemCode entities.ItemCode) (map[entities.DocumentRef]decimal.Decimal, error) {
	out := make(map[entities.DocumentRef]decimal.Decimal)
	err := s.view(ctx, func(st *state) error {
		for _, a := range st.targetAllocs {
			if a.ItemCode == itemCode {
				out[a.Document] = out[a.Document].Add(a.Quantity)
			}
		}
		return nil
	})
	return out, err
}

// DeleteTargetAllocations removes the target allocations of a receipt line
func (s *Store) DeleteTargetAllocations(ctx context.Context, receipt entities.SourceOperation, lineID int64) error {
	return s.view(ctx, func(st *state) error {
		kept := st.targetAllocs[:0]
		for _, a := range st.targetAllocs {
			if !(a.Receipt == receipt && a.LineID == lineID) {
				kept = append(kept, a)
			}
		}
		st.targetAllocs = kept
		return nil
	})
}
