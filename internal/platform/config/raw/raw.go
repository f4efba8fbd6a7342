// Package raw reads environment variables during bootstrap.
// It must not import the logger package; the logger reads its own settings through it
package raw

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Conf is a prefixed view over the process environment
type Conf struct{ prefix string }

// New returns a view without a prefix
func New() Conf { return Conf{} }

// Prefix returns a narrower view, e.g. raw.New().Prefix("LOG_")
func (c Conf) Prefix(p string) Conf { return Conf{prefix: c.prefix + p} }

func (c Conf) lookup(k string) string { return strings.TrimSpace(os.Getenv(c.prefix + k)) }

// Get returns the value for key or def when unset
func (c Conf) Get(key, def string) string {
	if v := c.lookup(key); v != "" {
		return v
	}
	return def
}

// GetBool accepts 1, true, yes and on (any case); anything else set is false
func (c Conf) GetBool(key string, def bool) bool {
	v := strings.ToLower(c.lookup(key))
	switch v {
	case "":
		return def
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// GetInt returns a non-negative integer or def when unset or malformed
func (c Conf) GetInt(key string, def int) int {
	v := c.lookup(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// GetDuration returns a Go duration or def when unset or malformed
func (c Conf) GetDuration(key string, def time.Duration) time.Duration {
	v := c.lookup(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
