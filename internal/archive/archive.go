// Package archive detects and extracts downloaded artifacts: tar.gz,
// zip, dmg, pkg, and bare binaries, detected from the download URL.
// Extraction enforces path-traversal and symlink-escape checks over a
// Format enum, using klauspost/compress for zstd and ulikunitz/xz for xz.
package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"

	"github.com/jpmacdonald/apl/internal/pkgerr"
)

// Format is a recognized archive/package format.
type Format string

const (
	FormatTarGz  Format = "tar.gz"
	FormatTarZst Format = "tar.zst"
	FormatTarXz  Format = "tar.xz"
	FormatZip    Format = "zip"
	FormatDMG    Format = "dmg"
	FormatPKG    Format = "pkg"
	FormatBinary Format = "binary" // passthrough: install the file directly
)

// IsTar reports whether format is extracted by streaming a tar reader
// through a decompressor (the pipelined download path applies only to
// these).
func (f Format) IsTar() bool {
	return f == FormatTarGz || f == FormatTarZst || f == FormatTarXz
}

// DetectFormat infers a Format from a URL or filename's suffix.
func DetectFormat(url string) Format {
	lower := strings.ToLower(url)
	switch {
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return FormatTarGz
	case strings.HasSuffix(lower, ".tar.zst"), strings.HasSuffix(lower, ".tzst"):
		return FormatTarZst
	case strings.HasSuffix(lower, ".tar.xz"), strings.HasSuffix(lower, ".txz"):
		return FormatTarXz
	case strings.HasSuffix(lower, ".zip"):
		return FormatZip
	case strings.HasSuffix(lower, ".dmg"):
		return FormatDMG
	case strings.HasSuffix(lower, ".pkg"):
		return FormatPKG
	default:
		return FormatBinary
	}
}

// NewTarReader wraps r in the decompressor format implies, returning a
// ready-to-read *tar.Reader. Used by the install engine's pipelined
// download path, which tees raw bytes into this chain as they arrive
// rather than waiting for the whole file.
func NewTarReader(r io.Reader, format Format) (*tar.Reader, error) {
	switch format {
	case FormatTarGz:
		gzr, err := gzip.NewReader(r)
		if err != nil {
			return nil, pkgerr.Wrap(pkgerr.KindIO, "", "opening gzip stream", err)
		}
		return tar.NewReader(gzr), nil
	case FormatTarZst:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, pkgerr.Wrap(pkgerr.KindIO, "", "opening zstd stream", err)
		}
		return tar.NewReader(zr), nil
	case FormatTarXz:
		xzr, err := xz.NewReader(r)
		if err != nil {
			return nil, pkgerr.Wrap(pkgerr.KindIO, "", "opening xz stream", err)
		}
		return tar.NewReader(xzr), nil
	default:
		return nil, pkgerr.New(pkgerr.KindValidation, string(format), "not a tar-based format")
	}
}

// ExtractTar reads entries from tr and writes them under destPath,
// rejecting any entry (regular file, directory, or symlink) whose
// resolved path would fall outside destPath.
func ExtractTar(tr *tar.Reader, destPath string) error {
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return pkgerr.Wrap(pkgerr.KindIO, destPath, "reading tar header", err)
		}

		cleanPath := strings.TrimPrefix(header.Name, "./")
		target := filepath.Join(destPath, cleanPath)
		if !isWithin(target, destPath) {
			return pkgerr.New(pkgerr.KindValidation, header.Name, "archive entry escapes destination directory")
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return pkgerr.Wrap(pkgerr.KindIO, target, "creating directory", err)
			}
		case tar.TypeReg:
			if err := writeRegularFile(target, tr, os.FileMode(header.Mode)); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := writeSymlink(header.Linkname, target, destPath); err != nil {
				return err
			}
		}
	}
}

// ExtractZip extracts a zip archive's contents under destPath with the
// same traversal checks as ExtractTar.
func ExtractZip(path, destPath string) error {
	r, err := zip.OpenReader(path)
	if err != nil {
		return pkgerr.Wrap(pkgerr.KindIO, path, "opening zip", err)
	}
	defer r.Close()

	for _, f := range r.File {
		cleanPath := strings.TrimPrefix(f.Name, "./")
		target := filepath.Join(destPath, cleanPath)
		if !isWithin(target, destPath) {
			return pkgerr.New(pkgerr.KindValidation, f.Name, "zip entry escapes destination directory")
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return pkgerr.Wrap(pkgerr.KindIO, target, "creating directory", err)
			}
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return pkgerr.Wrap(pkgerr.KindIO, f.Name, "opening zip entry", err)
		}
		writeErr := writeRegularFile(target, rc, f.Mode())
		rc.Close()
		if writeErr != nil {
			return writeErr
		}
	}
	return nil
}

func writeRegularFile(target string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return pkgerr.Wrap(pkgerr.KindIO, target, "creating parent directory", err)
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_RDWR|os.O_TRUNC, mode)
	if err != nil {
		return pkgerr.Wrap(pkgerr.KindIO, target, "creating file", err)
	}
	_, copyErr := io.Copy(f, r)
	closeErr := f.Close()
	if copyErr != nil {
		return pkgerr.Wrap(pkgerr.KindIO, target, "writing file", copyErr)
	}
	if closeErr != nil {
		return pkgerr.Wrap(pkgerr.KindIO, target, "closing file", closeErr)
	}
	return nil
}

func writeSymlink(linkTarget, linkLocation, destPath string) error {
	if filepath.IsAbs(linkTarget) {
		return pkgerr.New(pkgerr.KindValidation, linkLocation, "absolute symlink targets are not allowed")
	}
	resolved := filepath.Join(filepath.Dir(linkLocation), linkTarget)
	if !isWithin(resolved, destPath) {
		return pkgerr.New(pkgerr.KindValidation, linkLocation, "symlink target escapes destination directory")
	}
	if err := os.MkdirAll(filepath.Dir(linkLocation), 0o755); err != nil {
		return pkgerr.Wrap(pkgerr.KindIO, linkLocation, "creating parent directory", err)
	}
	return atomicSymlink(linkTarget, linkLocation)
}

// atomicSymlink creates linkPath -> target via a temp-name-then-rename so
// a crash mid-creation never leaves a half-written symlink in place.
func atomicSymlink(target, linkPath string) error {
	tmp := linkPath + ".tmp"
	os.Remove(tmp)
	if err := os.Symlink(target, tmp); err != nil {
		return pkgerr.Wrap(pkgerr.KindIO, linkPath, "creating symlink", err)
	}
	if err := os.Rename(tmp, linkPath); err != nil {
		os.Remove(tmp)
		return pkgerr.Wrap(pkgerr.KindIO, linkPath, "renaming symlink into place", err)
	}
	return nil
}

// CreateTarGz walks srcDir and writes its contents as a gzip-compressed
// tar stream to w, with paths relative to srcDir, so hermetic build
// output can be packaged for upload to the CAS the same way a downloaded
// release asset is. Symlinks are preserved as tar symlink entries rather
// than followed.
func CreateTarGz(srcDir string, w io.Writer) error {
	gw := gzip.NewWriter(w)
	tw := tar.NewWriter(gw)

	err := filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		var linkTarget string
		if info.Mode()&os.ModeSymlink != 0 {
			linkTarget, err = os.Readlink(path)
			if err != nil {
				return err
			}
		}

		header, err := tar.FileInfoHeader(info, linkTarget)
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)

		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			_, copyErr := io.Copy(tw, f)
			f.Close()
			if copyErr != nil {
				return copyErr
			}
		}
		return nil
	})
	if err != nil {
		return pkgerr.Wrap(pkgerr.KindIO, srcDir, "packaging build output", err)
	}

	if err := tw.Close(); err != nil {
		return pkgerr.Wrap(pkgerr.KindIO, srcDir, "closing tar writer", err)
	}
	return gw.Close()
}

func isWithin(target, base string) bool {
	absTarget, err := filepath.Abs(target)
	if err != nil {
		return false
	}
	absBase, err := filepath.Abs(base)
	if err != nil {
		return false
	}
	return absTarget == absBase || strings.HasPrefix(absTarget, absBase+string(os.PathSeparator))
}
