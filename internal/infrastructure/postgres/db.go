// Package postgres persists submissions, test-case results, dead-letter
// entries, and blob references. Mutating flows that must be atomic with
// each other take a pgx.Tx from the caller; everything else runs on the
// pool directly.
package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the query surface shared by pools and transactions.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB is what the stores hold: a Querier that can also open transactions.
// *pgxpool.Pool satisfies it in production; pgxmock satisfies it in tests.
type DB interface {
	Querier
	Begin(ctx context.Context) (pgx.Tx, error)
}
