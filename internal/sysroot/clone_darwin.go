//go:build darwin

package sysroot

import (
	"errors"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// cloneTree attempts an APFS clonefile(2) of src onto dst. clonefile
// clones a whole directory tree in one copy-on-write syscall when src
// and dst share a volume; it fails with EXDEV across volumes and with
// ENOTSUP on non-APFS filesystems, in which case the caller falls back
// to copyTree.
func cloneTree(src, dst string, info os.FileInfo) error {
	if err := unix.Clonefile(src, dst, 0); err != nil {
		if errors.Is(err, syscall.EXDEV) || errors.Is(err, syscall.ENOTSUP) || errors.Is(err, syscall.EEXIST) {
			return err
		}
		return err
	}
	return nil
}
