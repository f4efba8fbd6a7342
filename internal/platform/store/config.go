package store

import (
	"time"

	"extractrelay/internal/platform/config"
)

// Config aggregates backend configuration
type Config struct {
	AppName string
	PG      PGConfig
}

// PGConfig configures the Postgres pool
type PGConfig struct {
	Enabled     bool
	URL         string
	MaxConns    int32
	LogSQL      bool
	SlowQueryMs int
	Migrate     bool

	// ConnectRetries bounds the startup ping loop; zero means 20
	ConnectRetries int
	// PingTimeout caps each startup ping; zero means 3s
	PingTimeout time.Duration
}

// FromConfig reads SERVICE_PGSQL_*
func FromConfig(root config.Conf) Config {
	c := root.Prefix("SERVICE_PGSQL_")
	return Config{
		AppName: "extractrelay",
		PG: PGConfig{
			Enabled:        true,
			URL:            c.MustString("DBURL"),
			MaxConns:       int32(c.MayInt("MAX_CONNS", 8)),
			LogSQL:         c.MayBool("LOG_SQL", false),
			SlowQueryMs:    c.MayInt("SLOW_MS", 500),
			Migrate:        c.MayBool("MIGRATE", true),
			ConnectRetries: c.MayInt("CONNECT_RETRIES", 20),
			PingTimeout:    c.MayDuration("PING_TIMEOUT", 3*time.Second),
		},
	}
}
