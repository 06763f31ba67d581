package erp

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vsinha/packflow/pkg/domain/entities"
	"github.com/vsinha/packflow/pkg/domain/gateways"
)

type stockKey struct {
	item      entities.ItemCode
	warehouse string
	bin       string
}

type docKey struct {
	item      entities.ItemCode
	warehouse string
}

// ProcessCall records one Process request for inspection
type ProcessCall struct {
	Source entities.SourceOperation
	Lines  []entities.OperationLine
	Ref    string
}

// MemoryERP is an in-process ERP used for local runs and tests
type MemoryERP struct {
	mu        sync.Mutex
	onHand    map[stockKey]decimal.Decimal
	sources   map[docKey][]entities.SourceCandidate
	targets   map[docKey][]entities.TargetCandidate
	factors   map[entities.ItemCode]entities.UnitFactors
	pending   map[int64]bool
	picked    map[int64][]gateways.PickedQuantity
	failures  map[entities.OperationType]error
	rejects   map[entities.OperationType]string
	cancelErr error
	calls     []ProcessCall
	cancelled []string
	nextRef   int
	logger    *zap.Logger
}

var (
	_ gateways.ERPGateway  = (*MemoryERP)(nil)
	_ gateways.ItemCatalog = (*MemoryERP)(nil)
)

// NewMemoryERP creates an empty in-memory ERP
func NewMemoryERP(logger *zap.Logger) *MemoryERP {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryERP{
		onHand:   make(map[stockKey]decimal.Decimal),
		sources:  make(map[docKey][]entities.SourceCandidate),
		targets:  make(map[docKey][]entities.TargetCandidate),
		factors:  make(map[entities.ItemCode]entities.UnitFactors),
		pending:  make(map[int64]bool),
		picked:   make(map[int64][]gateways.PickedQuantity),
		failures: make(map[entities.OperationType]error),
		rejects:  make(map[entities.OperationType]string),
		logger:   logger,
	}
}

// SetOnHand sets the bin quantity of an item
func (m *MemoryERP) SetOnHand(item entities.ItemCode, warehouse, bin string, qty decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onHand[stockKey{item, warehouse, bin}] = qty
}

// AddSourceCandidate registers an open source document line
func (m *MemoryERP) AddSourceCandidate(item entities.ItemCode, warehouse string, candidate entities.SourceCandidate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := docKey{item, warehouse}
	m.sources[key] = append(m.sources[key], candidate)
}

// AddWaitingTarget registers a downstream document line waiting on an item
func (m *MemoryERP) AddWaitingTarget(item entities.ItemCode, warehouse string, target entities.TargetCandidate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := docKey{item, warehouse}
	m.targets[key] = append(m.targets[key], target)
}

// SetUnitFactors registers the unit conversion factors of an item
func (m *MemoryERP) SetUnitFactors(factors entities.UnitFactors) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.factors[factors.ItemCode] = factors
}

// SetPicked replaces the authoritative picked snapshot of a pick list
func (m *MemoryERP) SetPicked(pickListID int64, picked []gateways.PickedQuantity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.picked[pickListID] = append([]gateways.PickedQuantity(nil), picked...)
}

// MarkPending flags local picks of a pick list as not yet pushed
func (m *MemoryERP) MarkPending(pickListID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[pickListID] = true
}

// FailProcess makes Process of opType return err until cleared with a nil err
func (m *MemoryERP) FailProcess(opType entities.OperationType, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, opType)
		return
	}
	m.failures[opType] = err
}

// RejectProcess makes Process of opType answer with an unsuccessful result carrying a draft reference
func (m *MemoryERP) RejectProcess(opType entities.OperationType, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if message == "" {
		delete(m.rejects, opType)
		return
	}
	m.rejects[opType] = message
}

// FailCancel makes Cancel return err
func (m *MemoryERP) FailCancel(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelErr = err
}

// Calls returns every Process request made so far
func (m *MemoryERP) Calls() []ProcessCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ProcessCall(nil), m.calls...)
}

// Cancelled returns the external references passed to Cancel
func (m *MemoryERP) Cancelled() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.cancelled...)
}

func (m *MemoryERP) OnHand(_ context.Context, itemCode entities.ItemCode, warehouse, binEntry string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.onHand[stockKey{itemCode, warehouse, binEntry}], nil
}

func (m *MemoryERP) SourceCandidates(_ context.Context, demand entities.SourceDemand) ([]entities.SourceCandidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]entities.SourceCandidate(nil), m.sources[docKey{demand.ItemCode, demand.Warehouse}]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].DocDate.Before(out[j].DocDate) })
	return out, nil
}

func (m *MemoryERP) WaitingTargets(_ context.Context, itemCode entities.ItemCode, warehouse string) ([]entities.TargetCandidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]entities.TargetCandidate(nil), m.targets[docKey{itemCode, warehouse}]...), nil
}

// Process books an operation. Receipts add bin stock, picks record picked quantities per line.
func (m *MemoryERP) Process(_ context.Context, op *entities.Operation, lines []*entities.OperationLine) (gateways.ExternalResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failures[op.Source.Type]; err != nil {
		return gateways.ExternalResult{}, err
	}

	m.nextRef++
	ref := fmt.Sprintf("ERP-%s-%d", op.Source.Type, m.nextRef)
	// A rejected document still exists as a draft on the ERP side
	if msg, ok := m.rejects[op.Source.Type]; ok {
		return gateways.ExternalResult{Success: false, ExternalRef: ref, Message: msg}, nil
	}
	call := ProcessCall{Source: op.Source, Ref: ref}
	for _, line := range lines {
		call.Lines = append(call.Lines, *line)
		key := stockKey{line.ItemCode, line.Warehouse, line.BinEntry}
		switch op.Source.Type {
		case entities.OperationGoodsReceipt:
			m.onHand[key] = m.onHand[key].Add(line.BaseQty)
		case entities.OperationPicking:
			m.onHand[key] = m.onHand[key].Sub(line.BaseQty)
			m.picked[op.Source.ID] = append(m.picked[op.Source.ID], gateways.PickedQuantity{
				PickEntry: op.Source.ID,
				ItemCode:  line.ItemCode,
				Warehouse: line.Warehouse,
				BinEntry:  line.BinEntry,
				Quantity:  line.BaseQty,
			})
		}
	}
	m.calls = append(m.calls, call)
	m.logger.Debug("erp processed operation", zap.String("source", op.Source.String()), zap.String("ref", ref))

	return gateways.ExternalResult{Success: true, ExternalRef: ref}, nil
}

func (m *MemoryERP) Cancel(_ context.Context, _ entities.SourceOperation, externalRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancelErr != nil {
		return m.cancelErr
	}
	m.cancelled = append(m.cancelled, externalRef)
	return nil
}

func (m *MemoryERP) ProcessPendingPicks(_ context.Context, pickListID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.pending[pickListID] {
		return gateways.ErrNothingPending
	}
	delete(m.pending, pickListID)
	return nil
}

func (m *MemoryERP) PickedQuantities(_ context.Context, pickListID int64) ([]gateways.PickedQuantity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]gateways.PickedQuantity(nil), m.picked[pickListID]...), nil
}

func (m *MemoryERP) UnitFactors(_ context.Context, itemCode entities.ItemCode) (entities.UnitFactors, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	factors, ok := m.factors[itemCode]
	if !ok {
		return entities.UnitFactors{}, entities.NewNotFoundError(entities.CodeItemNotFound, "item %s not found", itemCode)
	}
	return factors, nil
}
