package postgres

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/vsinha/packflow/pkg/domain/repositories"
)

type txKey struct{}

// pgTx is the transaction bound to a context; done is set once it commits or rolls back
type pgTx struct {
	db    *gorm.DB
	after []func()
	done  bool
}

func boundTx(ctx context.Context) (*pgTx, bool) {
	tx, ok := ctx.Value(txKey{}).(*pgTx)
	if !ok || tx.done {
		return nil, false
	}
	return tx, true
}

// Store implements every repository on PostgreSQL through gorm
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Verify interface compliance
var _ repositories.Store = (*Store)(nil)

// Open connects to dsn and returns a store. Call Migrate before first use.
func Open(dsn string, logger *zap.Logger) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return NewStore(db, logger), nil
}

// NewStore wraps an existing gorm connection
func NewStore(db *gorm.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger}
}

// Migrate creates or updates every table
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(allModels()...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	s.logger.Info("database migration completed")
	return nil
}

// Close releases the underlying connection pool
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// RunInTx runs fn in a database transaction; nested calls join the outer transaction.
// After-commit hooks run only once the outermost transaction has committed.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := boundTx(ctx); ok {
		return fn(ctx)
	}
	bound := &pgTx{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		bound.db = tx
		return fn(context.WithValue(ctx, txKey{}, bound))
	})
	bound.done = true
	if err != nil {
		return err
	}
	for _, hook := range bound.after {
		hook()
	}
	return nil
}

// AfterCommit queues fn on the transaction bound to ctx, or runs it now
func (s *Store) AfterCommit(ctx context.Context, fn func()) {
	if tx, ok := boundTx(ctx); ok {
		tx.after = append(tx.after, fn)
		return
	}
	fn()
}

// conn returns the transaction bound to ctx, or the pool outside a transaction
func (s *Store) conn(ctx context.Context) *gorm.DB {
	if tx, ok := boundTx(ctx); ok {
		return tx.db.WithContext(ctx)
	}
	return s.db.WithContext(ctx)
}

// locking returns a query that takes row locks when ctx carries a transaction,
// so quantity re-checks inside a transaction serialize with concurrent writers
func (s *Store) locking(ctx context.Context) *gorm.DB {
	if tx, ok := boundTx(ctx); ok {
		return tx.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return s.db.WithContext(ctx)
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

func isDuplicate(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
