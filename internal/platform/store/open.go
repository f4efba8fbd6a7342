package store

import (
	"context"
	"fmt"
	"time"

	"extractrelay/internal/platform/logger"
	"extractrelay/internal/platform/store/pg"
)

// openPG opens the pool and pings it with capped exponential backoff until healthy
func openPG(ctx context.Context, cfg PGConfig, log logger.Logger) (*pg.PG, error) {
	var tracer pg.QueryTracer
	if cfg.LogSQL {
		tracer = pg.Tracer(log)
	}
	p, err := pg.Open(ctx, pg.Config{
		URL:      cfg.URL,
		MaxConns: cfg.MaxConns,
		SlowMs:   cfg.SlowQueryMs,
	}, tracer, nil)
	if err != nil {
		return nil, err
	}

	attempts := cfg.ConnectRetries
	if attempts <= 0 {
		attempts = 20
	}
	pingTO := cfg.PingTimeout
	if pingTO <= 0 {
		pingTO = 3 * time.Second
	}

	backoff := 150 * time.Millisecond
	var lastErr error
	for i := 0; i < attempts; i++ {
		pctx, cancel := context.WithTimeout(ctx, pingTO)
		lastErr = p.Pool.Ping(pctx)
		cancel()
		if lastErr == nil {
			return p, nil
		}
		log.Warn().Err(lastErr).Int("attempt", i+1).Dur("retry_in", backoff).Msg("postgres not ready")
		select {
		case <-ctx.Done():
			p.Close()
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, 2*time.Second)
	}
	p.Close()
	return nil, fmt.Errorf("postgres ping failed after %d attempts: %w", attempts, lastErr)
}
