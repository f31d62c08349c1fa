// Package persistence implements the outbound repository ports on PostgreSQL via sqlx.
package persistence

import (
	"context"
	"fmt"

	"freight_server/core/port/out"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

var _ out.Store = (*Store)(nil)

// Store is the PostgreSQL out.Store. Every method runs on the transaction carried
// by ctx when there is one.
type Store struct {
	db *sqlx.DB
}

// NewStore creates a new Store.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying pool for health checks.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

type txKey struct{}

// queryer is satisfied by both *sqlx.DB and *sqlx.Tx.
type queryer interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

func (s *Store) conn(ctx context.Context) queryer {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return s.db
}

// RunInTx runs fn in a transaction. Nested calls join the outer transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return fn(ctx)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Lock takes a transaction-scoped advisory lock on the shipment.
func (s *Store) Lock(ctx context.Context, shipmentID uuid.UUID) error {
	_, err := s.conn(ctx).ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, shipmentID.String())
	if err != nil {
		return fmt.Errorf("failed to acquire shipment lock: %w", err)
	}
	return nil
}
