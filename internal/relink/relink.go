// Package relink patches Mach-O load commands so packaged binaries and
// dylibs find their dependencies relative to the store entry they ship in,
// rather than the absolute path they were built against.
//
// Detection reads the file's magic bytes to decide whether it's worth
// touching at all. Mutation shells out to install_name_tool and codesign,
// since neither has a pure-Go equivalent.
package relink

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/jpmacdonald/apl/internal/log"
	"github.com/jpmacdonald/apl/internal/pkgerr"
)

var machOMagics = [][]byte{
	{0xfe, 0xed, 0xfa, 0xce}, // 32-bit
	{0xfe, 0xed, 0xfa, 0xcf}, // 64-bit
	{0xce, 0xfa, 0xed, 0xfe}, // 32-bit, reversed
	{0xcf, 0xfa, 0xed, 0xfe}, // 64-bit, reversed
	{0xca, 0xfe, 0xba, 0xbe}, // fat/universal
}

// FileResult records the outcome of relinking a single file.
type FileResult struct {
	Path string
	Kind string // "binary", "dylib", or "" if skipped
	Err  error
}

// Summary aggregates the outcome of relinking a whole tree.
type Summary struct {
	Results []FileResult
}

// Failed reports whether any file in the tree failed to relink. A single
// file's failure does not abort the walk; this lets a caller decide
// whether partial relinking is acceptable for its use case.
func (s Summary) Failed() bool {
	for _, r := range s.Results {
		if r.Err != nil {
			return true
		}
	}
	return false
}

// RelinkTree walks root and patches every Mach-O file it finds: binaries
// in a bin/ directory (or with any execute bit set) get an
// @executable_path/../lib rpath, and dylibs (.dylib/.so suffix, a lib/
// directory, or a ".so." infix) get their install ID rewritten to
// @rpath/<basename>. Every patched file is re-signed ad-hoc afterward.
//
// Per-file errors are collected in the returned Summary rather than
// aborting the walk, so one malformed or unwritable file doesn't block
// relinking the rest of a package. A missing toolchain is reported as
// soon as it's first needed, with an actionable message.
func RelinkTree(root string) (Summary, error) {
	logger := log.Default().With("component", "relink")
	var summary Summary

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			summary.Results = append(summary.Results, FileResult{Path: path, Err: err})
			return nil
		}

		isMachO, magicErr := hasMachOMagic(path)
		if magicErr != nil {
			summary.Results = append(summary.Results, FileResult{Path: path, Err: magicErr})
			return nil
		}
		if !isMachO {
			return nil
		}

		switch {
		case isExecutableCandidate(path, info):
			if rerr := FixBinary(path); rerr != nil {
				logger.Warn("relink binary failed", "path", path, "error", rerr)
				summary.Results = append(summary.Results, FileResult{Path: path, Kind: "binary", Err: rerr})
				return nil
			}
			summary.Results = append(summary.Results, FileResult{Path: path, Kind: "binary"})
		case isDylibCandidate(path):
			if rerr := FixDylib(path); rerr != nil {
				logger.Warn("relink dylib failed", "path", path, "error", rerr)
				summary.Results = append(summary.Results, FileResult{Path: path, Kind: "dylib", Err: rerr})
				return nil
			}
			summary.Results = append(summary.Results, FileResult{Path: path, Kind: "dylib"})
		}
		return nil
	})
	if err != nil {
		return summary, pkgerr.Wrap(pkgerr.KindIO, root, "walking package tree for relinking", err)
	}
	return summary, nil
}

func isExecutableCandidate(path string, info fs.FileInfo) bool {
	if filepath.Base(filepath.Dir(path)) == "bin" {
		return true
	}
	return info.Mode()&0o111 != 0
}

func isDylibCandidate(path string) bool {
	if filepath.Base(filepath.Dir(path)) == "lib" {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".dylib" || ext == ".so" {
		return true
	}
	return strings.Contains(filepath.Base(path), ".so.")
}

func hasMachOMagic(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, pkgerr.Wrap(pkgerr.KindIO, path, "opening file for Mach-O detection", err)
	}
	defer f.Close()

	magic := make([]byte, 4)
	n, err := io.ReadFull(f, magic)
	if err != nil {
		if n < 4 {
			return false, nil
		}
		return false, pkgerr.Wrap(pkgerr.KindIO, path, "reading magic bytes", err)
	}
	for _, want := range machOMagics {
		if string(magic) == string(want) {
			return true, nil
		}
	}
	return false, nil
}

// FixBinary adds a relative rpath to an executable so it can find
// dylibs installed alongside it in ../lib, then re-signs it.
func FixBinary(path string) error {
	if err := runInstallNameTool(path, "-add_rpath", "@executable_path/../lib"); err != nil {
		return err
	}
	return resign(path)
}

// FixDylib rewrites a dylib's install name to @rpath/<basename> so
// binaries that depend on it resolve it via their own rpath rather than
// the absolute build-time path, then re-signs it.
func FixDylib(path string) error {
	name := filepath.Base(path)
	if name == "" || name == "." || name == string(filepath.Separator) {
		return pkgerr.New(pkgerr.KindValidation, path, "dylib path has no filename")
	}
	newID := "@rpath/" + name
	if err := runInstallNameTool(path, "-id", newID); err != nil {
		return err
	}
	return resign(path)
}

// ChangeDependency rewrites a single load-command reference to a
// dependency, e.g. an absolute /usr/local/lib/libssl.dylib path to
// @rpath/libssl.dylib, then re-signs the file.
func ChangeDependency(path, oldName, newName string) error {
	if err := runInstallNameTool(path, "-change", oldName, newName); err != nil {
		return err
	}
	return resign(path)
}

func runInstallNameTool(path string, args ...string) error {
	fullArgs := append(append([]string{}, args...), path)
	cmd := exec.Command("install_name_tool", fullArgs...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if isNotFound(err) {
			return pkgerr.Wrap(pkgerr.KindBuild, path,
				"install_name_tool not found; install Xcode Command Line Tools with xcode-select --install", err)
		}
		return pkgerr.Wrap(pkgerr.KindBuild, path,
			fmt.Sprintf("install_name_tool failed: %s", strings.TrimSpace(string(out))), err)
	}
	return nil
}

// resign reapplies an ad-hoc signature after a load command mutation
// invalidates the file's existing signature. Entitlements, requirements,
// flags, and runtime metadata are preserved across the resign.
func resign(path string) error {
	cmd := exec.Command("codesign",
		"-s", "-",
		"--force",
		"--preserve-metadata=entitlements,requirements,flags,runtime",
		path,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if isNotFound(err) {
			return pkgerr.Wrap(pkgerr.KindBuild, path,
				"codesign not found; install Xcode Command Line Tools with xcode-select --install", err)
		}
		return pkgerr.Wrap(pkgerr.KindBuild, path,
			fmt.Sprintf("codesign failed: %s", strings.TrimSpace(string(out))), err)
	}
	return nil
}

func isNotFound(err error) bool {
	var execErr *exec.Error
	if eerr, ok := err.(*exec.Error); ok {
		execErr = eerr
	} else if perr, ok := err.(*os.PathError); ok {
		return os.IsNotExist(perr)
	}
	return execErr != nil && (execErr.Err == exec.ErrNotFound || os.IsNotExist(execErr.Err))
}
