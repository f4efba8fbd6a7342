// Package split partitions a batch's files by receiving organisation.
//
// Content splitting streams every record to Split/<org>/<file>, holding at most
// MaxOpen output files open at once. Metadata splitting assigns whole files to an
// organisation derived from the filename or fixed by configuration
package split

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	perr "extractrelay/internal/platform/errors"
)

// Input is one file of the batch
type Input struct {
	Type string
	Name string // output file name, usually the original filename
	Path string
	// Shared inputs carry no organisation column and are copied whole into every partition
	Shared bool
}

// Policy decides what happens to rows whose organisation is not recognised
type Policy string

const (
	PolicyDrop Policy = "drop"
	PolicyFail Policy = "fail"
)

// ParsePolicy maps a configured value to a Policy, defaulting to drop
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(PolicyDrop):
		return PolicyDrop, nil
	case string(PolicyFail):
		return PolicyFail, nil
	default:
		return "", perr.InvalidArgf("unknown organisation policy %q", s)
	}
}

// PartitionDir is where the files for org land under outDir
func PartitionDir(outDir, org string) string { return filepath.Join(outDir, org) }

// validKey rejects values that cannot name a directory
func validKey(k string) bool {
	if k == "" || k == "." || k == ".." {
		return false
	}
	return !strings.ContainsAny(k, `/\`+"\x00")
}

// copyFile copies src to dst, preferring a hard link
func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return perr.Wrapf(err, perr.ErrorCodeIO, "mkdir for %s", dst)
	}
	_ = os.Remove(dst)
	if err := os.Link(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return perr.Wrapf(err, perr.ErrorCodeIO, "open %s", src)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return perr.Wrapf(err, perr.ErrorCodeIO, "create %s", dst)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return perr.Wrapf(err, perr.ErrorCodeIO, "copy %s", src)
	}
	return out.Close()
}
