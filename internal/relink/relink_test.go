package relink

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path string, content []byte, mode os.FileMode) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, content, mode); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestHasMachOMagicDetectsAllVariants(t *testing.T) {
	cases := []struct {
		name  string
		magic []byte
		want  bool
	}{
		{"macho64", []byte{0xfe, 0xed, 0xfa, 0xcf, 0, 0, 0, 0}, true},
		{"macho32", []byte{0xfe, 0xed, 0xfa, 0xce, 0, 0, 0, 0}, true},
		{"macho64-reversed", []byte{0xcf, 0xfa, 0xed, 0xfe, 0, 0, 0, 0}, true},
		{"fat", []byte{0xca, 0xfe, 0xba, 0xbe, 0, 0, 0, 0}, true},
		{"elf", []byte{0x7f, 'E', 'L', 'F', 0, 0, 0, 0}, false},
		{"text", []byte("#!/bin/sh\n"), false},
		{"too-short", []byte{0xfe, 0xed}, false},
		{"empty", []byte{}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "candidate")
			writeFile(t, path, tc.magic, 0o755)

			got, err := hasMachOMagic(path)
			if err != nil {
				t.Fatalf("hasMachOMagic: %v", err)
			}
			if got != tc.want {
				t.Fatalf("hasMachOMagic(%s) = %v, want %v", tc.name, got, tc.want)
			}
		})
	}
}

func TestIsExecutableCandidate(t *testing.T) {
	dir := t.TempDir()

	binPath := filepath.Join(dir, "bin", "tool")
	writeFile(t, binPath, []byte{0xfe, 0xed, 0xfa, 0xcf}, 0o644)
	info, _ := os.Stat(binPath)
	if !isExecutableCandidate(binPath, info) {
		t.Fatalf("expected file under bin/ to be an executable candidate regardless of mode")
	}

	looseExec := filepath.Join(dir, "libexec", "helper")
	writeFile(t, looseExec, []byte{0xfe, 0xed, 0xfa, 0xcf}, 0o755)
	info, _ = os.Stat(looseExec)
	if !isExecutableCandidate(looseExec, info) {
		t.Fatalf("expected executable-mode file outside bin/ to still be a candidate")
	}

	nonExec := filepath.Join(dir, "share", "data")
	writeFile(t, nonExec, []byte{0xfe, 0xed, 0xfa, 0xcf}, 0o644)
	info, _ = os.Stat(nonExec)
	if isExecutableCandidate(nonExec, info) {
		t.Fatalf("expected non-executable file outside bin/ to not be a candidate")
	}
}

func TestIsDylibCandidate(t *testing.T) {
	cases := []struct {
		path string
		want bool
	}{
		{"/store/pkg/lib/helper", true},
		{"/store/pkg/lib/libssl.1.1.dylib", true},
		{"/store/pkg/libexec/libfoo.so", true},
		{"/store/pkg/libexec/libfoo.so.1.2.3", true},
		{"/store/pkg/bin/tool", false},
		{"/store/pkg/share/readme", false},
	}
	for _, tc := range cases {
		if got := isDylibCandidate(tc.path); got != tc.want {
			t.Errorf("isDylibCandidate(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}
}

func TestRelinkTreeSkipsNonMachOFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "bin", "readme.txt"), []byte("not a binary"), 0o644)
	writeFile(t, filepath.Join(dir, "share", "doc.md"), []byte("# docs"), 0o644)

	summary, err := RelinkTree(dir)
	if err != nil {
		t.Fatalf("RelinkTree: %v", err)
	}
	if len(summary.Results) != 0 {
		t.Fatalf("expected no relink attempts on non-Mach-O files, got %+v", summary.Results)
	}
	if summary.Failed() {
		t.Fatalf("expected Failed() false on an empty summary")
	}
}

func TestFixDylibRejectsPathWithoutFilename(t *testing.T) {
	err := FixDylib("/")
	if err == nil {
		t.Fatalf("expected error for a path with no filename")
	}
}
