package allocation

import (
	"sort"

	"github.com/shopspring/decimal"
	"github.com/vsinha/packflow/pkg/application/services/shared"
	"github.com/vsinha/packflow/pkg/domain/entities"
)

// AllocateFIFO draws a demand from source candidates oldest first.
//
// Prior allocations are subtracted from each candidate and exhausted candidates are
// dropped. When supply runs out the remainder extends the last consumed candidate
// (over-receipt). With no usable candidate at all the remainder goes to the preferred,
// most recent fallback allocation of the item; without one the call fails with
// no_source_documents. The result carries Document, ItemCode and Quantity only.
func AllocateFIFO(
	demand entities.SourceDemand,
	candidates []entities.SourceCandidate,
	prior shared.AllocationMap,
	fallback []entities.SourceAllocation,
	preference []string,
) ([]entities.SourceAllocation, error) {
	if !demand.Quantity.IsPositive() {
		return nil, entities.NewValidationError(entities.CodeInvalidInput,
			"required quantity must be positive, got %s", demand.Quantity.String())
	}

	var allocations []entities.SourceAllocation
	remaining := demand.Quantity

	for _, candidate := range candidates {
		if !remaining.IsPositive() {
			break
		}

		available := candidate.Available.Sub(prior.Get(candidate.Document))
		if !available.IsPositive() {
			continue
		}

		take := decimal.Min(available, remaining)
		allocations = append(allocations, entities.SourceAllocation{
			ItemCode: demand.ItemCode,
			Document: candidate.Document,
			Quantity: take,
		})
		remaining = remaining.Sub(take)
	}

	if !remaining.IsPositive() {
		return allocations, nil
	}

	if len(allocations) > 0 {
		last := &allocations[len(allocations)-1]
		last.Quantity = last.Quantity.Add(remaining)
		return allocations, nil
	}

	doc, ok := selectFallback(demand.ItemCode, fallback, preference)
	if !ok {
		return nil, entities.NewNotFoundError(entities.CodeNoSourceDocuments,
			"no source documents for item %s in warehouse %s", demand.ItemCode, demand.Warehouse)
	}

	return []entities.SourceAllocation{{
		ItemCode: demand.ItemCode,
		Document: doc,
		Quantity: remaining,
	}}, nil
}

// selectFallback picks the existing allocation whose document type ranks best in
// preference, newest first within the same rank
func selectFallback(
	itemCode entities.ItemCode,
	fallback []entities.SourceAllocation,
	preference []string,
) (entities.DocumentRef, bool) {
	rank := make(map[string]int, len(preference))
	for i, docType := range preference {
		if _, seen := rank[docType]; !seen {
			rank[docType] = i
		}
	}
	rankOf := func(docType string) int {
		if r, ok := rank[docType]; ok {
			return r
		}
		return len(preference)
	}

	var candidates []entities.SourceAllocation
	for _, alloc := range fallback {
		if alloc.ItemCode == itemCode {
			candidates = append(candidates, alloc)
		}
	}
	if len(candidates) == 0 {
		return entities.DocumentRef{}, false
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		ri, rj := rankOf(candidates[i].Document.DocType), rankOf(candidates[j].Document.DocType)
		if ri != rj {
			return ri < rj
		}
		return candidates[i].CreatedAt.After(candidates[j].CreatedAt)
	})

	return candidates[0].Document, true
}
