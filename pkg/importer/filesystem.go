package importer

import (
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// FileSystem is the real-filesystem namespace consulted when the asset
// catalog has no match.
type FileSystem interface {
	// Exists reports whether a regular, readable file exists at p.
	Exists(p string) bool
	// ReadFile returns the content of the file at p.
	ReadFile(p string) ([]byte, error)
}

// OSFileSystem reads from the host filesystem. Relative paths resolve
// against Base, or the working directory when Base is empty.
type OSFileSystem struct {
	Base string
}

var _ FileSystem = OSFileSystem{}

func (o OSFileSystem) native(p string) string {
	p = filepath.FromSlash(p)
	if o.Base == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(o.Base, p)
}

// Exists stats p and reports whether it is a regular file.
func (o OSFileSystem) Exists(p string) bool {
	fi, err := os.Stat(o.native(p))
	return err == nil && fi.Mode().IsRegular()
}

// ReadFile reads the file at p.
func (o OSFileSystem) ReadFile(p string) ([]byte, error) {
	return os.ReadFile(o.native(p))
}

// FSAdapter exposes an fs.FS as a FileSystem. Leading slashes and "./" are
// dropped since fs.FS paths are unrooted.
type FSAdapter struct {
	FS fs.FS
}

var _ FileSystem = FSAdapter{}

func fsPath(p string) string {
	p = path.Clean(strings.TrimLeft(p, "/"))
	if p == "" {
		return "."
	}
	return p
}

// Exists reports whether p names a regular file in the wrapped FS.
func (a FSAdapter) Exists(p string) bool {
	fi, err := fs.Stat(a.FS, fsPath(p))
	return err == nil && fi.Mode().IsRegular()
}

// ReadFile reads p from the wrapped FS.
func (a FSAdapter) ReadFile(p string) ([]byte, error) {
	return fs.ReadFile(a.FS, fsPath(p))
}
