// Package storage derives local paths for batches and promotes finished stages
package storage

import (
	"errors"
	"os"
	"path/filepath"

	perr "extractrelay/internal/platform/errors"
)

// SplitDirName is the per batch directory holding one folder per organisation
const SplitDirName = "Split"

// Layout places batch files under a temp root while in flight and a perm root once committed
type Layout struct {
	TempRoot string
	PermRoot string
}

// BatchDir is <root>/<source>/<batch>
func BatchDir(root, source, batch string) string {
	return filepath.Join(root, source, batch)
}

// TempBatch is the in-flight directory for a batch
func (l Layout) TempBatch(source, batch string) string { return BatchDir(l.TempRoot, source, batch) }

// PermBatch is the committed directory for a batch
func (l Layout) PermBatch(source, batch string) string { return BatchDir(l.PermRoot, source, batch) }

// TempSplit is the in-flight split directory for a batch
func (l Layout) TempSplit(source, batch string) string {
	return filepath.Join(l.TempBatch(source, batch), SplitDirName)
}

// PermSplit is the committed split directory for a batch
func (l Layout) PermSplit(source, batch string) string {
	return filepath.Join(l.PermBatch(source, batch), SplitDirName)
}

// OrgDir is the committed split folder of one organisation
func (l Layout) OrgDir(source, batch, org string) string {
	return filepath.Join(l.PermSplit(source, batch), org)
}

// Wipe removes a leftover temp directory so a stage restarts clean
func Wipe(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return perr.Wrapf(err, perr.ErrorCodeIO, "wipe %s", dir)
	}
	return nil
}

// Promote moves a finished temp file or directory to its committed place.
// An existing destination is replaced
func Promote(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return perr.Wrapf(err, perr.ErrorCodeIO, "mkdir %s", filepath.Dir(dst))
	}
	if err := os.RemoveAll(dst); err != nil && !errors.Is(err, os.ErrNotExist) {
		return perr.Wrapf(err, perr.ErrorCodeIO, "clear %s", dst)
	}
	if err := os.Rename(src, dst); err != nil {
		return perr.Wrapf(err, perr.ErrorCodeIO, "promote %s", filepath.Base(src))
	}
	return nil
}

// DirSize sums regular file sizes below dir
func DirSize(dir string) (int64, error) {
	var n int64
	err := filepath.WalkDir(dir, func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			fi, err := d.Info()
			if err != nil {
				return err
			}
			n += fi.Size()
		}
		return nil
	})
	if err != nil {
		return 0, perr.Wrapf(err, perr.ErrorCodeIO, "size %s", dir)
	}
	return n, nil
}
