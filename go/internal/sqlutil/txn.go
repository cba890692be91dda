package sqlutil

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// maxAttempts bounds how often Run re-runs a transaction Postgres aborted.
const maxAttempts = 5

// Run executes fn inside a *sql.Tx.
// If fn returns an error the tx rolls back, else it commits. Transactions
// aborted by a serialization failure or deadlock are retried.
func Run[T any](
	ctx context.Context,
	db *sql.DB,
	newQueries func(*sql.Tx) *T,
	fn func(q *T) error,
) error {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = runOnce(ctx, db, newQueries, fn)
		if err == nil || !Retryable(err) {
			return err
		}
		log.Debug().Err(err).Int("attempt", attempt).Msg("transaction aborted, retrying")
	}
	return err
}

func runOnce[T any](
	ctx context.Context,
	db *sql.DB,
	newQueries func(*sql.Tx) *T,
	fn func(q *T) error,
) error {
	tx, err := db.BeginTx(ctx, nil) // BEGIN
	if err != nil {
		return err
	}
	q := newQueries(tx)
	if err := fn(q); err != nil {
		_ = tx.Rollback() // ROLLBACK
		return err
	}
	return tx.Commit() // COMMIT
}

// Retryable reports whether err is a Postgres serialization failure or
// deadlock, which are safe to retry from the start of the transaction.
func Retryable(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch pqErr.Code {
	case "40001", "40P01":
		return true
	}
	return false
}
