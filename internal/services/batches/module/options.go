package module

import (
	"time"

	"extractrelay/internal/platform/config"
)

// Options holds configuration options for the batch service
type Options struct {
	TempRoot string
	PermRoot string

	CycleTimeout    time.Duration
	DownloadTimeout time.Duration
	SplitTimeout    time.Duration
	DeliverTimeout  time.Duration
	DownloadRetries int
	RetryBase       time.Duration

	EnableLeases bool
	LeaseTTL     time.Duration
	// LockTimeout bounds row and advisory lock waits inside batch transactions
	LockTimeout time.Duration

	// GCSEndpoint points gcs transports at an emulator
	GCSEndpoint string
}

// FromConfig reads CORE_STORAGE_*, CORE_CYCLE_* and CORE_GCS_* options
func FromConfig(cfg config.Conf) Options {
	st := cfg.Prefix("CORE_STORAGE_")
	cy := cfg.Prefix("CORE_CYCLE_")
	return Options{
		TempRoot:        st.MayString("TEMP_ROOT", "/var/lib/extractrelay/tmp"),
		PermRoot:        st.MayString("PERM_ROOT", "/var/lib/extractrelay/perm"),
		CycleTimeout:    cy.MayDuration("TIMEOUT", 30*time.Minute),
		DownloadTimeout: cy.MayDuration("DOWNLOAD_TIMEOUT", 10*time.Minute),
		SplitTimeout:    cy.MayDuration("SPLIT_TIMEOUT", 0),
		DeliverTimeout:  cy.MayDuration("DELIVER_TIMEOUT", 0),
		DownloadRetries: cy.MayInt("DOWNLOAD_RETRIES", 3),
		RetryBase:       cy.MayDuration("RETRY_BASE", 500*time.Millisecond),
		EnableLeases:    cy.MayBool("LEASES", true),
		LeaseTTL:        cy.MayDuration("LEASE_TTL", time.Hour),
		LockTimeout:     cy.MayDuration("LOCK_TIMEOUT", 5*time.Second),
		GCSEndpoint:     cfg.Prefix("CORE_GCS_").MayString("ENDPOINT", ""),
	}
}
