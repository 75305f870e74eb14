package indexcodec

import (
	"bufio"
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/jpmacdonald/apl/internal/model"
)

func sampleIndex(updatedAt time.Time) *model.PackageIndex {
	return &model.PackageIndex{
		SchemaVersion: 1,
		UpdatedAt:     updatedAt,
		MirrorBaseURL: "https://apl.pub",
		Packages: []model.IndexEntry{
			{
				Name:        "jq",
				Description: "Command-line JSON processor",
				Kind:        model.KindCLI,
				Tags:        []string{"json", "cli"},
				Releases: []model.VersionInfo{
					{
						Version: "1.7.1",
						Binaries: map[model.Arch]model.Artifact{
							model.ArchUniversal: {
								Name: "jq", Version: "1.7.1", Arch: model.ArchUniversal,
								URL:  "https://example.com/jq-1.7.1.tar.gz",
								Hash: model.ContentHash{Algorithm: "sha256", Hex: "abc123"},
							},
						},
						RuntimeDeps: []model.PackageName{"oniguruma"},
						BinList:     []string{"jq"},
					},
				},
			},
		},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	now := time.Unix(1700000000, 0)
	idx := sampleIndex(now)

	raw, err := Encode(idx)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	decoded, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	if len(decoded.Packages) != 1 || decoded.Packages[0].Name != "jq" {
		t.Fatalf("unexpected decoded packages: %+v", decoded.Packages)
	}
	entry := decoded.Packages[0]
	if entry.Releases[0].Version != "1.7.1" {
		t.Fatalf("unexpected release version %q", entry.Releases[0].Version)
	}
	art := entry.Releases[0].Binaries[model.ArchUniversal]
	if art.Hash.Hex != "abc123" {
		t.Fatalf("unexpected artifact hash %q", art.Hash.Hex)
	}
	if len(entry.Releases[0].RuntimeDeps) != 1 || entry.Releases[0].RuntimeDeps[0] != "oniguruma" {
		t.Fatalf("unexpected runtime deps %+v", entry.Releases[0].RuntimeDeps)
	}
}

func TestEncodeDeterministicExceptUpdatedAt(t *testing.T) {
	a := Must(t, Encode(sampleIndex(time.Unix(1, 0))))
	b := Must(t, Encode(sampleIndex(time.Unix(1000000, 0))))

	// Both encodings differ only in the UpdatedAt varint prefix; strip the
	// leading schema_version+timestamp bytes (found via the reader's own
	// primitives) and compare the rest.
	if bytes.Equal(a, b) {
		t.Fatalf("expected different UpdatedAt to change the encoded bytes somewhere")
	}
	if !bytes.Equal(stripPrefix(a), stripPrefix(b)) {
		t.Fatalf("expected identical encoding apart from updated_at")
	}
}

func stripPrefix(data []byte) []byte {
	r := &reader{r: bufio.NewReader(bytes.NewReader(data))}
	r.readUvarint() // schema_version
	r.readInt64()   // updated_at
	rest, _ := io.ReadAll(r.r)
	return rest
}

func TestCompressedRoundTripAndMagicDetection(t *testing.T) {
	idx := sampleIndex(time.Unix(1700000000, 0))
	compressed, err := EncodeCompressed(idx)
	if err != nil {
		t.Fatalf("compress failed: %v", err)
	}
	if !bytes.Equal(compressed[:4], ZstdMagic[:]) {
		t.Fatalf("expected zstd magic header")
	}

	decoded, err := Decode(compressed)
	if err != nil {
		t.Fatalf("decode compressed failed: %v", err)
	}
	if decoded.Packages[0].Name != "jq" {
		t.Fatalf("unexpected decoded package %+v", decoded.Packages[0])
	}
}

func Must[T any](t *testing.T, v T, err error) T {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return v
}
