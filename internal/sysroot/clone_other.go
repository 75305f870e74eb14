//go:build !darwin

package sysroot

import (
	"errors"
	"os"
)

// cloneTree has no copy-on-write equivalent outside APFS; it always
// reports failure so Mount falls through to copyTree.
func cloneTree(src, dst string, info os.FileInfo) error {
	return errors.New("clonefile is darwin-only")
}
