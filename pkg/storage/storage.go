// Package storage defines the FileStore interface behind the scene library.
// The controller loads scene and command documents through it and the
// dashboard's editing endpoints write them back, so root confinement and
// path handling live in one place instead of in every caller.
package storage

import "context"

// FileStore is file-oriented storage rooted at a directory.
//
// Names are forward-slash separated, relative to the store root, and must
// stay inside it. Implementations must be safe for concurrent use.
type FileStore interface {
	// ReadFile returns the contents of the named file.
	// If the file does not exist, an error wrapping fs.ErrNotExist is returned.
	ReadFile(ctx context.Context, name string) ([]byte, error)

	// WriteFile replaces the named file.
	// Parent directories are created automatically.
	WriteFile(ctx context.Context, name string, data []byte) error

	// Delete removes the named file.
	// If the file does not exist, Delete returns nil (idempotent).
	Delete(ctx context.Context, name string) error

	// Exists reports whether the named file exists.
	Exists(ctx context.Context, name string) (bool, error)

	// List returns the names of the regular files in the named directory,
	// sorted, without descending into subdirectories. Listing a missing
	// directory returns no names.
	List(ctx context.Context, dir string) ([]string, error)
}
