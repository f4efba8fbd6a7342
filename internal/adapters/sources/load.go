package sources

import (
	"bytes"
	"errors"
	"io"
	"os"

	perr "extractrelay/internal/platform/errors"
	"extractrelay/internal/platform/net/http/bind"

	"gopkg.in/yaml.v3"
)

// Registry is the set of configured sources, in file order
type Registry struct {
	list   []Impl
	byName map[string]int
}

// Load reads, validates and builds every source in the definitions file at path
func Load(path string) (*Registry, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeIO, "read source definitions %s", path)
	}
	return Parse(b)
}

// Parse is Load over an in-memory document
func Parse(doc []byte) (*Registry, error) {
	dec := yaml.NewDecoder(bytes.NewReader(doc))
	dec.KnownFields(true)
	var f File
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, perr.Wrap(err, perr.ErrorCodeParse, "decode source definitions")
	}
	if err := bind.Struct(f); err != nil {
		return nil, err
	}

	r := &Registry{byName: map[string]int{}}
	for _, def := range f.Sources {
		if _, dup := r.byName[def.Name]; dup {
			return nil, perr.WithField(perr.InvalidArgf("source %q defined twice", def.Name), "name")
		}
		impl, err := Build(def)
		if err != nil {
			return nil, err
		}
		r.byName[def.Name] = len(r.list)
		r.list = append(r.list, impl)
	}
	return r, nil
}

// NewRegistry builds a registry from definitions already in memory
func NewRegistry(defs ...Definition) (*Registry, error) {
	r := &Registry{byName: map[string]int{}}
	for _, def := range defs {
		if err := bind.Struct(def); err != nil {
			return nil, err
		}
		impl, err := Build(def)
		if err != nil {
			return nil, err
		}
		r.byName[def.Name] = len(r.list)
		r.list = append(r.list, impl)
	}
	return r, nil
}

// All returns every source in definition order
func (r *Registry) All() []Impl { return r.list }

// Get returns the source called name
func (r *Registry) Get(name string) (Impl, bool) {
	i, ok := r.byName[name]
	if !ok {
		return Impl{}, false
	}
	return r.list[i], true
}

// Names lists the configured source names
func (r *Registry) Names() []string {
	out := make([]string, len(r.list))
	for i, s := range r.list {
		out[i] = s.Def.Name
	}
	return out
}
