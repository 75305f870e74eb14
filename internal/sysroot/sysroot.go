// Package sysroot builds the isolated directory tree a hermetic build or
// an ephemeral project shell mounts dependencies into.
//
// A Sysroot is a fresh temporary directory. Dependencies and source trees
// are mounted into it by clonefile-style copy-on-write on APFS (darwin),
// falling back to a recursive copy elsewhere or when clonefile can't be
// used (cross-volume sources, non-APFS filesystems). The sysroot is
// deleted in full when the caller is done with it.
package sysroot

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jpmacdonald/apl/internal/log"
	"github.com/jpmacdonald/apl/internal/pkgerr"
)

// Sysroot is a disposable directory tree used as the root filesystem for
// a hermetic build or an ephemeral project shell.
type Sysroot struct {
	root   string
	logger log.Logger
}

// New creates a fresh sysroot under the system temp directory.
func New() (*Sysroot, error) {
	root, err := os.MkdirTemp("", "apl-sysroot-*")
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.KindIO, "", "creating sysroot temp directory", err)
	}
	return &Sysroot{root: root, logger: log.Default().With("component", "sysroot", "root", root)}, nil
}

// Root returns the sysroot's absolute path.
func (s *Sysroot) Root() string { return s.root }

// Path joins rel onto the sysroot root.
func (s *Sysroot) Path(rel string) string {
	return filepath.Join(s.root, rel)
}

// Mount clones src into the sysroot at the path rel, relative to the
// sysroot root. Parent directories are created as needed. On APFS this
// is a near-instant copy-on-write clone; elsewhere, or if the clone
// can't be performed (different volume, non-APFS filesystem), a
// recursive copy is used instead so the operation always succeeds.
func (s *Sysroot) Mount(src, rel string) error {
	dst := s.Path(rel)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return pkgerr.Wrap(pkgerr.KindIO, dst, "creating mount parent directory", err)
	}

	info, err := os.Stat(src)
	if err != nil {
		return pkgerr.Wrap(pkgerr.KindIO, src, "stat'ing mount source", err)
	}

	if err := cloneTree(src, dst, info); err != nil {
		s.logger.Debug("clonefile mount fell back to recursive copy", "src", src, "dst", dst, "reason", err)
		if err := copyTree(src, dst, info); err != nil {
			return pkgerr.Wrap(pkgerr.KindIO, src, fmt.Sprintf("mounting into sysroot at %s", rel), err)
		}
	}
	return nil
}

// MkdirAll creates a directory at rel within the sysroot, for locations
// the caller populates itself (a build's $PREFIX, a scratch dir) rather
// than cloning from an existing source.
func (s *Sysroot) MkdirAll(rel string) (string, error) {
	dst := s.Path(rel)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", pkgerr.Wrap(pkgerr.KindIO, dst, "creating sysroot directory", err)
	}
	return dst, nil
}

// Close removes the sysroot and everything mounted into it. It is safe
// to call more than once.
func (s *Sysroot) Close() error {
	if s.root == "" {
		return nil
	}
	err := os.RemoveAll(s.root)
	s.root = ""
	if err != nil {
		return pkgerr.Wrap(pkgerr.KindIO, s.root, "removing sysroot", err)
	}
	return nil
}
