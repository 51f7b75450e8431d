package postgres

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/omnierp/go-erp/es"
)

// Querier is the subset of database/sql shared by *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type txKey struct{}

// WithTx returns a context carrying the transaction.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// QuerierFrom returns the context's transaction when one is carried,
// otherwise the database itself. Stores that read it transparently join
// a surrounding unit of work.
func QuerierFrom(ctx context.Context, db *sql.DB) Querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return db
}

// NewUnitOfWork creates an es.UnitOfWork backed by a database
// transaction. The transaction rides the context so the cursor store and
// read-model stores commit together.
func NewUnitOfWork(db *sql.DB) es.UnitOfWork {
	return &unitOfWork{db: db}
}

type unitOfWork struct {
	db *sql.DB
}

func (u *unitOfWork) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := u.db.BeginTx(ctx, nil)
	if err != nil {
		return es.BackendError(errors.Wrap(err, "begin transaction"))
	}

	if err := fn(WithTx(ctx, tx)); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return es.BackendError(errors.Wrap(err, "commit transaction"))
	}
	return nil
}
