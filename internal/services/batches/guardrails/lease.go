package guardrails

import (
	"context"
	"errors"
	"time"

	"extractrelay/internal/modkit"
	"extractrelay/internal/platform/store"
)

// ErrLeaseHeld signals another process is running this source's cycle
var ErrLeaseHeld = errors.New("batches: source lease already held")

// Lease runs do while holding the cycle lease for a source
type Lease func(ctx context.Context, source string, do func(context.Context) error) error

// MakeSourceLease returns a Lease backed by the source_leases table.
// A lease is claimable when absent, expired or already held by holder.
// It is released when do returns; a crashed holder's lease lapses after ttl
func MakeSourceLease(deps modkit.Deps, holder string, ttl time.Duration) Lease {
	return func(ctx context.Context, source string, do func(context.Context) error) error {
		var claimed bool
		err := deps.PG.Tx(ctx, func(q store.RowQuerier) error {
			rows, err := q.Query(ctx, `
				INSERT INTO source_leases (source, holder, expires_at)
				VALUES ($1, $2, now() + $3 * interval '1 millisecond')
				ON CONFLICT (source) DO UPDATE
				SET holder = EXCLUDED.holder, expires_at = EXCLUDED.expires_at
				WHERE source_leases.expires_at < now() OR source_leases.holder = EXCLUDED.holder
				RETURNING true
			`, source, holder, ttl.Milliseconds())
			if err != nil {
				return err
			}
			defer rows.Close()
			if rows.Next() {
				claimed = true
			}
			return rows.Err()
		})
		if err != nil {
			return err
		}
		if !claimed {
			return ErrLeaseHeld
		}
		defer func() {
			// release on a fresh context so a cancelled cycle still frees the lease
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			_, _ = deps.PG.Exec(rctx, `DELETE FROM source_leases WHERE source = $1 AND holder = $2`, source, holder)
		}()
		return do(ctx)
	}
}

// NoLease runs do without coordination, for single process deployments and tests
func NoLease(ctx context.Context, _ string, do func(context.Context) error) error { return do(ctx) }
