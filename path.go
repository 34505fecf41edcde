package mkfs

import (
	"strings"
)

// Resolved is the result of splitting an absolute two-level path into its
// (dir, name, ext) components. Dir is always present for a non-root path;
// Name and Ext are empty when the path addresses a directory rather than a
// file within it.
type Resolved struct {
	Dir  string
	Name string
	Ext  string
}

// IsRoot reports whether the resolved path is "/".
func (r Resolved) IsRoot() bool {
	return r.Dir == "" && r.Name == ""
}

// HasFile reports whether the resolved path names a file component.
func (r Resolved) HasFile() bool {
	return r.Name != ""
}

// ResolvePath parses an absolute path of the form "/<dir>" or
// "/<dir>/<name>[.<ext>]" into a Resolved triple. Paths deeper than two
// components are rejected with ErrInvalidPath, matching spec.md §4.4's
// "undefined behavior... rejected at the operation surface".
func ResolvePath(path string) (Resolved, error) {
	clean := strings.TrimPrefix(path, "/")
	if clean == "" {
		return Resolved{}, nil
	}

	parts := strings.Split(clean, "/")
	if len(parts) > 2 {
		return Resolved{}, ErrInvalidPath
	}

	r := Resolved{Dir: parts[0]}
	if len(parts) == 1 {
		return r, nil
	}

	file := parts[1]
	if file == "" {
		return Resolved{}, ErrInvalidPath
	}

	if dot := strings.IndexByte(file, '.'); dot >= 0 {
		r.Name = file[:dot]
		r.Ext = file[dot+1:]
	} else {
		r.Name = file
	}
	return r, nil
}
