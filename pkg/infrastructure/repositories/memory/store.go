package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/vsinha/packflow/pkg/domain/entities"
	"github.com/vsinha/packflow/pkg/domain/repositories"
)

type lineKey struct {
	source entities.SourceOperation
	lineID int64
}

// state is the arena holding every row; entities reference each other by id only
type state struct {
	packages      map[uuid.UUID]entities.Package
	barcodes      map[string]uuid.UUID
	contents      map[uuid.UUID]entities.PackageContent
	commitments   map[uuid.UUID]entities.PackageCommitment
	history       []entities.PackageLocationHistory
	sourceAllocs  []entities.SourceAllocation
	targetAllocs  []entities.TargetAllocation
	operations    map[entities.SourceOperation]entities.Operation
	lines         map[lineKey]entities.OperationLine
	transferLines []entities.TransferLine
	nextOpID      int64
	barcodeSeq    int64
	barcodeIssued bool
}

func newState() *state {
	return &state{
		packages:    make(map[uuid.UUID]entities.Package),
		barcodes:    make(map[string]uuid.UUID),
		contents:    make(map[uuid.UUID]entities.PackageContent),
		commitments: make(map[uuid.UUID]entities.PackageCommitment),
		operations:  make(map[entities.SourceOperation]entities.Operation),
		lines:       make(map[lineKey]entities.OperationLine),
	}
}

func (s *state) clone() *state {
	c := &state{
		packages:      make(map[uuid.UUID]entities.Package, len(s.packages)),
		barcodes:      make(map[string]uuid.UUID, len(s.barcodes)),
		contents:      make(map[uuid.UUID]entities.PackageContent, len(s.contents)),
		commitments:   make(map[uuid.UUID]entities.PackageCommitment, len(s.commitments)),
		history:       append([]entities.PackageLocationHistory(nil), s.history...),
		sourceAllocs:  append([]entities.SourceAllocation(nil), s.sourceAllocs...),
		targetAllocs:  append([]entities.TargetAllocation(nil), s.targetAllocs...),
		operations:    make(map[entities.SourceOperation]entities.Operation, len(s.operations)),
		lines:         make(map[lineKey]entities.OperationLine, len(s.lines)),
		transferLines: append([]entities.TransferLine(nil), s.transferLines...),
		nextOpID:      s.nextOpID,
		barcodeSeq:    s.barcodeSeq,
		barcodeIssued: s.barcodeIssued,
	}
	for k, v := range s.packages {
		v.Attributes = copyAttributes(v.Attributes)
		c.packages[k] = v
	}
	for k, v := range s.barcodes {
		c.barcodes[k] = v
	}
	for k, v := range s.contents {
		c.contents[k] = v
	}
	for k, v := range s.commitments {
		c.commitments[k] = v
	}
	for k, v := range s.operations {
		c.operations[k] = v
	}
	for k, v := range s.lines {
		c.lines[k] = v
	}
	return c
}

func copyAttributes(attrs map[string]any) map[string]any {
	if attrs == nil {
		return nil
	}
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}

type txKey struct{}

// memTx is the transaction bound to a context. A finished transaction no longer
// counts as open, so contexts captured by hooks do not bypass the lock.
type memTx struct {
	store *Store
	after []func()
	done  bool
}

// Store is an in-memory implementation of every repository.
// Transactions are serialized and roll back by restoring a snapshot.
type Store struct {
	mu sync.Mutex
	st *state
}

// NewStore creates a new empty in-memory store
func NewStore() *Store {
	return &Store{st: newState()}
}

// Verify interface compliance
var _ repositories.Store = (*Store)(nil)

func (s *Store) tx(ctx context.Context) *memTx {
	if tx, ok := ctx.Value(txKey{}).(*memTx); ok && tx.store == s && !tx.done {
		return tx
	}
	return nil
}

func (s *Store) inTx(ctx context.Context) bool {
	return s.tx(ctx) != nil
}

// RunInTx runs fn atomically; nested calls join the outer transaction.
// After-commit hooks run once the outermost call commits and the lock is released.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}

	tx := &memTx{store: s}
	err := s.runLocked(context.WithValue(ctx, txKey{}, tx), fn)
	tx.done = true
	if err != nil {
		return err
	}
	for _, hook := range tx.after {
		hook()
	}
	return nil
}

func (s *Store) runLocked(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	defer func() {
		if p := recover(); p != nil {
			s.st = snapshot
			panic(p)
		} else if err != nil {
			s.st = snapshot
		}
	}()

	return fn(ctx)
}

// AfterCommit queues fn on the transaction bound to ctx, or runs it now
func (s *Store) AfterCommit(ctx context.Context, fn func()) {
	if tx := s.tx(ctx); tx != nil {
		tx.after = append(tx.after, fn)
		return
	}
	fn()
}

// view runs fn against the state, taking the lock unless ctx already holds it
func (s *Store) view(ctx context.Context, fn func(st *state) error) error {
	if !s.inTx(ctx) {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	return fn(s.st)
}
