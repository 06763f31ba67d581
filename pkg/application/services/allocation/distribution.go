package allocation

import (
	"sort"

	"github.com/shopspring/decimal"
	"github.com/vsinha/packflow/pkg/application/services/shared"
	"github.com/vsinha/packflow/pkg/domain/entities"
)

// DistributeByPriority hands a received quantity to waiting target documents.
//
// Each target's requirement is reduced by what was already distributed to it; targets
// left with nothing to receive are skipped. The rest are served by priority ascending,
// then document age ascending. Leftover supply is returned unassigned.
func DistributeByPriority(
	itemCode entities.ItemCode,
	quantity decimal.Decimal,
	targets []entities.TargetCandidate,
	prior shared.AllocationMap,
) ([]entities.TargetAllocation, decimal.Decimal) {
	if !quantity.IsPositive() {
		return nil, decimal.Zero
	}

	type waiting struct {
		candidate entities.TargetCandidate
		remaining decimal.Decimal
	}

	open := make([]waiting, 0, len(targets))
	for _, target := range targets {
		remaining := target.Required.Sub(prior.Get(target.Document))
		if remaining.IsPositive() {
			open = append(open, waiting{candidate: target, remaining: remaining})
		}
	}

	sort.SliceStable(open, func(i, j int) bool {
		if open[i].candidate.Priority != open[j].candidate.Priority {
			return open[i].candidate.Priority < open[j].candidate.Priority
		}
		return open[i].candidate.DocDate.Before(open[j].candidate.DocDate)
	})

	supply := quantity
	var allocations []entities.TargetAllocation
	for _, w := range open {
		if !supply.IsPositive() {
			break
		}
		give := decimal.Min(supply, w.remaining)
		allocations = append(allocations, entities.TargetAllocation{
			ItemCode: itemCode,
			Document: w.candidate.Document,
			Quantity: give,
		})
		supply = supply.Sub(give)
	}

	return allocations, supply
}

// RemainingRequirements reports what each target still needs after prior distributions
func RemainingRequirements(
	targets []entities.TargetCandidate,
	prior shared.AllocationMap,
) map[entities.DocumentRef]decimal.Decimal {
	result := make(map[entities.DocumentRef]decimal.Decimal, len(targets))
	for _, target := range targets {
		remaining := target.Required.Sub(prior.Get(target.Document))
		if remaining.IsNegative() {
			remaining = decimal.Zero
		}
		result[target.Document] = remaining
	}
	return result
}
