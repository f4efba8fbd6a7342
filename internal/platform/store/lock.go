package store

import "context"

// InKeyLock runs fn in a transaction holding a transaction-scoped advisory lock on key.
// Concurrent callers with the same key queue behind each other; the lock is released
// on commit or rollback
func InKeyLock(ctx context.Context, tx TxRunner, key string, fn func(q RowQuerier) error) error {
	return tx.Tx(ctx, func(q RowQuerier) error {
		if _, err := q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
			return err
		}
		return fn(q)
	})
}
