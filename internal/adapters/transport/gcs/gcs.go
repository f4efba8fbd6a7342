// Package gcs is a transport over a Cloud Storage bucket prefix
package gcs

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"

	"extractrelay/internal/adapters/transport"
	perr "extractrelay/internal/platform/errors"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// objectIterator is the part of *storage.ObjectIterator the transport uses
type objectIterator interface {
	Next() (*storage.ObjectAttrs, error)
}

// bucketHandle abstracts *storage.BucketHandle so tests can substitute a fake
type bucketHandle interface {
	Objects(ctx context.Context, q *storage.Query) objectIterator
	NewReader(ctx context.Context, name string) (io.ReadCloser, error)
}

type realBucket struct{ b *storage.BucketHandle }

func (r realBucket) Objects(ctx context.Context, q *storage.Query) objectIterator {
	return r.b.Objects(ctx, q)
}

func (r realBucket) NewReader(ctx context.Context, name string) (io.ReadCloser, error) {
	return r.b.Object(name).NewReader(ctx)
}

// Options configures the bucket connection
type Options struct {
	Bucket string
	Prefix string
	// Endpoint overrides the API endpoint, e.g. an emulator; it disables authentication
	Endpoint string
}

// Bucket lists objects under a prefix
type Bucket struct {
	client *storage.Client
	b      bucketHandle
	prefix string
}

// Open connects to Cloud Storage with application default credentials
func Open(ctx context.Context, o Options) (*Bucket, error) {
	if o.Bucket == "" {
		return nil, perr.InvalidArgf("gcs: bucket is required")
	}
	var opts []option.ClientOption
	if o.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(o.Endpoint), option.WithoutAuthentication())
	}
	c, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeUnavailable, "gcs: new client")
	}
	return &Bucket{client: c, b: realBucket{b: c.Bucket(o.Bucket)}, prefix: normPrefix(o.Prefix)}, nil
}

func normPrefix(p string) string {
	p = strings.TrimPrefix(p, "/")
	if p != "" && !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

// List returns every object under the prefix, names relative to it
func (g *Bucket) List(ctx context.Context) ([]transport.RemoteFile, error) {
	it := g.b.Objects(ctx, &storage.Query{Prefix: g.prefix})
	var out []transport.RemoteFile
	for {
		a, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, perr.Wrapf(err, perr.ErrorCodeUnavailable, "gcs: list %s", g.prefix)
		}
		name := strings.TrimPrefix(a.Name, g.prefix)
		if name == "" || strings.HasSuffix(name, "/") {
			continue
		}
		out = append(out, transport.RemoteFile{Name: name, Size: a.Size, Modified: a.Updated.UTC()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Download streams the object to w
func (g *Bucket) Download(ctx context.Context, name string, w io.Writer) (int64, error) {
	rc, err := g.b.NewReader(ctx, g.prefix+name)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return 0, perr.NotFoundf("gcs: %s not found", name)
		}
		return 0, perr.Wrapf(err, perr.ErrorCodeUnavailable, "gcs: open %s", name)
	}
	defer rc.Close()
	return io.Copy(w, rc)
}

// Close releases the client
func (g *Bucket) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}
