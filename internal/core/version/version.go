// Package version reports the build of the relay; delivery envelopes and /healthz carry it
package version

// BuildInfo holds version information about the build
type BuildInfo struct {
	Service string `json:"service"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

// Info returns the build information.
// Set via -ldflags "-X 'extractrelay/internal/core/version.version=v0.1.0' -X ...commit=abcd -X ...date=2025-01-01"
func Info() BuildInfo {
	return BuildInfo{
		Service: "extractrelay",
		Version: version,
		Commit:  commit,
		Date:    date,
	}
}

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)
