package mkfs

import "errors"

// Package-specific error variables that can be used with errors.Is() for error handling.
// The operation surface (fs.go) translates these into fuse.Status codes at the
// FUSE boundary; nothing below this package knows about FUSE.
var (
	// ErrNotFound is returned when a directory or file entry does not exist.
	ErrNotFound = errors.New("no such directory or file")

	// ErrExists is returned when mkdir or mknod targets a name that is already in use.
	ErrExists = errors.New("directory or file already exists")

	// ErrNotPermitted is returned for operations the format does not allow,
	// such as mkdir with a file component or a full directory.
	ErrNotPermitted = errors.New("operation not permitted")

	// ErrNotADirectory is returned when a path with a file component is used
	// where a directory is required.
	ErrNotADirectory = errors.New("not a directory")

	// ErrIsADirectory is returned when a bare directory path is used where a
	// file is required.
	ErrIsADirectory = errors.New("is a directory")

	// ErrNameTooLong is returned when a directory or base name exceeds 8
	// characters or an extension exceeds 3 characters.
	ErrNameTooLong = errors.New("name too long")

	// ErrNoSpace is returned when the bitmap allocator cannot find a large
	// enough contiguous run of free blocks.
	ErrNoSpace = errors.New("no space left on device")

	// ErrInvalidPath is returned by the resolver for paths deeper than two
	// components, or that are otherwise malformed.
	ErrInvalidPath = errors.New("invalid path")
)
