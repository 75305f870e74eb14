package archive

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"
)

func TestDetectFormat(t *testing.T) {
	cases := map[string]Format{
		"https://example.com/jq-1.7.1.tar.gz":  FormatTarGz,
		"https://example.com/jq-1.7.1.tgz":     FormatTarGz,
		"https://example.com/jq-1.7.1.tar.zst": FormatTarZst,
		"https://example.com/jq-1.7.1.tar.xz":  FormatTarXz,
		"https://example.com/jq-1.7.1.zip":     FormatZip,
		"https://example.com/jq-1.7.1.dmg":     FormatDMG,
		"https://example.com/jq-1.7.1.pkg":     FormatPKG,
		"https://example.com/jq":               FormatBinary,
	}
	for url, want := range cases {
		if got := DetectFormat(url); got != want {
			t.Errorf("DetectFormat(%q) = %q, want %q", url, got, want)
		}
	}
}

func buildTarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gzw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gzw)
	for name, content := range files {
		if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(content))}); err != nil {
			t.Fatalf("writing header: %v", err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatalf("writing content: %v", err)
		}
	}
	tw.Close()
	gzw.Close()
	return buf.Bytes()
}

func TestExtractTarGzRoundTrip(t *testing.T) {
	data := buildTarGz(t, map[string]string{"bin/jq": "fake binary contents"})
	tr, err := NewTarReader(bytes.NewReader(data), FormatTarGz)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	dest := t.TempDir()
	if err := ExtractTar(tr, dest); err != nil {
		t.Fatalf("extract failed: %v", err)
	}

	content, err := os.ReadFile(filepath.Join(dest, "bin/jq"))
	if err != nil {
		t.Fatalf("expected extracted file: %v", err)
	}
	if string(content) != "fake binary contents" {
		t.Fatalf("unexpected content %q", content)
	}
}

func TestCreateTarGzRoundTrip(t *testing.T) {
	src := t.TempDir()
	if err := os.MkdirAll(filepath.Join(src, "bin"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(src, "bin", "jq"), []byte("built binary"), 0o755); err != nil {
		t.Fatalf("write: %v", err)
	}

	var buf bytes.Buffer
	if err := CreateTarGz(src, &buf); err != nil {
		t.Fatalf("CreateTarGz: %v", err)
	}

	tr, err := NewTarReader(bytes.NewReader(buf.Bytes()), FormatTarGz)
	if err != nil {
		t.Fatalf("NewTarReader: %v", err)
	}
	dest := t.TempDir()
	if err := ExtractTar(tr, dest); err != nil {
		t.Fatalf("ExtractTar: %v", err)
	}

	content, err := os.ReadFile(filepath.Join(dest, "bin", "jq"))
	if err != nil {
		t.Fatalf("expected extracted file: %v", err)
	}
	if string(content) != "built binary" {
		t.Fatalf("unexpected content %q", content)
	}
}

func TestExtractTarRejectsPathTraversal(t *testing.T) {
	var buf bytes.Buffer
	gzw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gzw)
	tw.WriteHeader(&tar.Header{Name: "../../etc/passwd", Mode: 0o644, Size: 4})
	tw.Write([]byte("evil"))
	tw.Close()
	gzw.Close()

	tr, err := NewTarReader(bytes.NewReader(buf.Bytes()), FormatTarGz)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	dest := t.TempDir()
	if err := ExtractTar(tr, dest); err == nil {
		t.Fatalf("expected path traversal to be rejected")
	}
}

func TestExtractTarRejectsAbsoluteSymlink(t *testing.T) {
	var buf bytes.Buffer
	gzw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gzw)
	tw.WriteHeader(&tar.Header{
		Name:     "evil-link",
		Typeflag: tar.TypeSymlink,
		Linkname: "/etc/passwd",
		Mode:     0o777,
	})
	tw.Close()
	gzw.Close()

	tr, err := NewTarReader(bytes.NewReader(buf.Bytes()), FormatTarGz)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	dest := t.TempDir()
	if err := ExtractTar(tr, dest); err == nil {
		t.Fatalf("expected absolute symlink to be rejected")
	}
}
