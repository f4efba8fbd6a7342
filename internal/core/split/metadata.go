package split

import (
	"path/filepath"

	perr "extractrelay/internal/platform/errors"
)

// MetadataOptions configures a metadata split
type MetadataOptions struct {
	OutDir string
	// FixedOrg sends the whole batch to one organisation
	FixedOrg string
	// OrgOf derives the organisation from a filename; false marks a file shared by every partition
	OrgOf func(name string) (string, bool)
}

// Metadata assigns whole files to organisations without reading them
func Metadata(opt MetadataOptions, inputs []Input) ([]string, error) {
	byOrg := map[string][]Input{}
	var shared []Input

	for _, in := range inputs {
		org := opt.FixedOrg
		ok := org != ""
		if !ok && opt.OrgOf != nil && !in.Shared {
			org, ok = opt.OrgOf(in.Name)
		}
		if !ok {
			shared = append(shared, in)
			continue
		}
		if !validKey(org) {
			return nil, perr.Newf(perr.ErrorCodeSplit, "file %s maps to invalid organisation %q", in.Name, org)
		}
		byOrg[org] = append(byOrg[org], in)
	}
	if len(byOrg) == 0 {
		return nil, perr.Newf(perr.ErrorCodeSplit, "no organisation derivable from %d files", len(inputs))
	}

	orgs := make(map[string]struct{}, len(byOrg))
	for org, files := range byOrg {
		orgs[org] = struct{}{}
		dir := PartitionDir(opt.OutDir, org)
		for _, in := range append(files, shared...) {
			if err := copyFile(in.Path, filepath.Join(dir, in.Name)); err != nil {
				return nil, err
			}
		}
	}
	return sortedKeys(orgs), nil
}
