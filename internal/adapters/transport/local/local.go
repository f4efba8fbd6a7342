// Package local is a transport over a drop directory on a mounted filesystem
package local

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"extractrelay/internal/adapters/transport"
	perr "extractrelay/internal/platform/errors"
)

// Dir lists regular files below Root, skipping in-progress uploads
type Dir struct {
	Root string
}

// New returns a transport rooted at root
func New(root string) *Dir { return &Dir{Root: root} }

// List walks Root and returns every regular file
func (d *Dir) List(ctx context.Context) ([]transport.RemoteFile, error) {
	var out []transport.RemoteFile
	err := filepath.WalkDir(d.Root, func(p string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.IsDir() || strings.HasSuffix(e.Name(), ".part") || strings.HasPrefix(e.Name(), ".") {
			return nil
		}
		fi, err := e.Info()
		if err != nil {
			return err
		}
		if !fi.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(d.Root, p)
		if err != nil {
			return err
		}
		out = append(out, transport.RemoteFile{Name: filepath.ToSlash(rel), Size: fi.Size(), Modified: fi.ModTime().UTC()})
		return nil
	})
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeUnavailable, "list %s", d.Root)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Download copies the named file to w
func (d *Dir) Download(ctx context.Context, name string, w io.Writer) (int64, error) {
	p := filepath.Join(d.Root, filepath.FromSlash(name))
	if rel, err := filepath.Rel(d.Root, p); err != nil || strings.HasPrefix(rel, "..") {
		return 0, perr.InvalidArgf("name %q escapes the drop directory", name)
	}
	f, err := os.Open(p)
	if err != nil {
		return 0, perr.Wrapf(err, perr.ErrorCodeUnavailable, "open %s", p)
	}
	defer f.Close()
	return io.Copy(w, ctxReader{ctx: ctx, r: f})
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
