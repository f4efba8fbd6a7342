// Package transport lists and downloads remote extract files. Concrete transports
// live in subpackages; Fetch lands a file in the inbox atomically
package transport

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"time"

	perr "extractrelay/internal/platform/errors"
)

// RemoteFile is one listed object
type RemoteFile struct {
	Name     string // path relative to the transport root, slash separated
	Size     int64
	Modified time.Time
}

// Transport is a remote drop location
type Transport interface {
	List(ctx context.Context) ([]RemoteFile, error)
	Download(ctx context.Context, name string, w io.Writer) (int64, error)
}

// meta is the sidecar written next to every fetched file
type meta struct {
	Size      int64     `json:"size"`
	Modified  time.Time `json:"modified"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Fetch downloads rf to dst unless an identical copy (same size and modification time)
// is already there. It reports whether the file was served from disk
func Fetch(ctx context.Context, t Transport, rf RemoteFile, dst string) (cached bool, err error) {
	metaPath := dst + ".meta"
	if m, err := loadMeta(metaPath); err == nil && m.Size == rf.Size && m.Modified.Equal(rf.Modified) {
		if fi, err := os.Stat(dst); err == nil && fi.Size() == rf.Size {
			return true, nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return false, perr.Wrapf(err, perr.ErrorCodeIO, "mkdir for %s", dst)
	}
	tmp := dst + ".part"
	defer os.Remove(tmp)

	out, err := os.Create(tmp)
	if err != nil {
		return false, perr.Wrapf(err, perr.ErrorCodeIO, "create %s", tmp)
	}
	n, werr := t.Download(ctx, rf.Name, out)
	cerr := out.Close()
	if werr != nil {
		return false, perr.Wrapf(werr, perr.ErrorCodeUnavailable, "download %s", rf.Name)
	}
	if cerr != nil {
		return false, perr.Wrapf(cerr, perr.ErrorCodeIO, "close %s", tmp)
	}
	if rf.Size > 0 && n != rf.Size {
		return false, perr.Newf(perr.ErrorCodeUnavailable, "download %s: got %d bytes, listing said %d", rf.Name, n, rf.Size)
	}
	if err := os.Rename(tmp, dst); err != nil {
		return false, perr.Wrapf(err, perr.ErrorCodeIO, "rename %s", dst)
	}
	_ = saveMeta(metaPath, meta{Size: n, Modified: rf.Modified, FetchedAt: time.Now().UTC()})
	return false, nil
}

func loadMeta(path string) (meta, error) {
	var m meta
	b, err := os.ReadFile(path)
	if err != nil {
		return m, err
	}
	err = json.Unmarshal(b, &m)
	return m, err
}

func saveMeta(path string, m meta) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	tmp := path + ".part"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
