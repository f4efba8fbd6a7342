// Package config exposes prefixed, typed access to environment configuration.
// Missing required values panic through the logger so bootstrap fails loudly
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"extractrelay/internal/platform/logger"
)

// Conf is a prefixed view over environment variables, e.g.
// config.New().Prefix("SERVICE_PGSQL_")
type Conf struct{ prefix string }

// New returns the unprefixed root view
func New() Conf { return Conf{} }

// Prefix returns a child view with p appended to the current prefix
func (c Conf) Prefix(p string) Conf { return Conf{prefix: c.prefix + p} }

func (c Conf) key(k string) string { return c.prefix + k }

func (c Conf) val(k string) string { return strings.TrimSpace(os.Getenv(c.key(k))) }

// MustString returns the value or panics when it is unset
func (c Conf) MustString(key string) string {
	v := c.val(key)
	if v == "" {
		logger.Get().Panic().Str("key", c.key(key)).Msg("missing required env")
	}
	return v
}

// MustInt returns the integer value or panics when unset or malformed
func (c Conf) MustInt(key string) int {
	s := c.MustString(key)
	n, err := strconv.Atoi(s)
	if err != nil {
		logger.Get().Panic().Str("key", c.key(key)).Str("value", s).Msg("invalid int value")
	}
	return n
}

// MustPort returns a listen address like ":8080" for a port in 1..65535
func (c Conf) MustPort(key string) string {
	s := c.MustString(key)
	p, err := strconv.Atoi(s)
	if err != nil || p < 1 || p > 65535 {
		logger.Get().Panic().Str("key", c.key(key)).Str("value", s).Msg("invalid TCP port")
	}
	return ":" + s
}

// MayString returns the value or def
func (c Conf) MayString(key, def string) string {
	if v := c.val(key); v != "" {
		return v
	}
	return def
}

// MayInt returns the value or def; malformed values warn and fall back
func (c Conf) MayInt(key string, def int) int {
	s := c.val(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		logger.Get().Warn().Str("key", c.key(key)).Str("value", s).Int("default", def).Msg("invalid int; using default")
		return def
	}
	return n
}

// MayBool returns the value or def; malformed values warn and fall back
func (c Conf) MayBool(key string, def bool) bool {
	s := c.val(key)
	if s == "" {
		return def
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		logger.Get().Warn().Str("key", c.key(key)).Str("value", s).Bool("default", def).Msg("invalid bool; using default")
		return def
	}
	return b
}

// MayDuration returns the value or def; malformed values warn and fall back
func (c Conf) MayDuration(key string, def time.Duration) time.Duration {
	s := c.val(key)
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		logger.Get().Warn().Str("key", c.key(key)).Str("value", s).Dur("default", def).Msg("invalid duration; using default")
		return def
	}
	return d
}

// MayCSV splits a comma separated value, dropping blanks; def when empty
func (c Conf) MayCSV(key string, def []string) []string {
	s := c.val(key)
	if s == "" {
		return def
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

// MayEnum returns the value when it matches one of allowed (case-insensitive), def when
// unset, and panics otherwise
func (c Conf) MayEnum(key, def string, allowed ...string) string {
	v := c.MayString(key, def)
	for _, a := range allowed {
		if strings.EqualFold(v, a) {
			return strings.ToLower(a)
		}
	}
	if v == def {
		return v
	}
	logger.Get().Panic().Str("key", c.key(key)).Str("value", v).Strs("allowed", allowed).Msg("invalid enum value")
	return ""
}
