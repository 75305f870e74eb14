// Package indexcodec implements apl's deterministic binary encoding for a
// PackageIndex: length-prefixed varint records, with an optional zstd
// compression wrapper auto-detected from a 4-byte magic header. Varint
// framing uses encoding/binary directly; compression is
// klauspost/compress/zstd.
package indexcodec

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"sort"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/jpmacdonald/apl/internal/model"
	"github.com/jpmacdonald/apl/internal/pkgerr"
)

// ZstdMagic is the 4-byte header identifying a zstd-compressed index.
var ZstdMagic = [4]byte{0x28, 0xB5, 0x2F, 0xFD}

// Encode serializes idx to apl's deterministic binary form. Given two
// PackageIndex values equal except for UpdatedAt, Encode produces
// byte-identical output for the remaining fields, because Packages and
// each entry's Releases are sorted before any byte is written.
func Encode(idx *model.PackageIndex) ([]byte, error) {
	sorted := sortedCopy(idx)

	var buf bytes.Buffer
	w := &writer{w: &buf}

	w.writeUvarint(uint64(sorted.SchemaVersion))
	w.writeInt64(sorted.UpdatedAt.UnixNano())
	w.writeString(sorted.MirrorBaseURL)

	w.writeUvarint(uint64(len(sorted.Packages)))
	for _, e := range sorted.Packages {
		writeEntry(w, e)
	}

	if w.err != nil {
		return nil, pkgerr.Wrap(pkgerr.KindIO, "", "encoding index", w.err)
	}
	return buf.Bytes(), nil
}

// EncodeCompressed encodes idx and wraps the result in a zstd frame, for
// distribution.
func EncodeCompressed(idx *model.PackageIndex) ([]byte, error) {
	raw, err := Encode(idx)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.KindIO, "", "creating zstd writer", err)
	}
	if _, err := zw.Write(raw); err != nil {
		zw.Close()
		return nil, pkgerr.Wrap(pkgerr.KindIO, "", "compressing index", err)
	}
	if err := zw.Close(); err != nil {
		return nil, pkgerr.Wrap(pkgerr.KindIO, "", "closing zstd writer", err)
	}
	return buf.Bytes(), nil
}

// Decode parses data into a PackageIndex, auto-detecting a leading zstd
// magic header and transparently decompressing when present.
func Decode(data []byte) (*model.PackageIndex, error) {
	if len(data) >= 4 && [4]byte(data[:4]) == ZstdMagic {
		zr, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, pkgerr.Wrap(pkgerr.KindIO, "", "opening zstd index", err)
		}
		defer zr.Close()
		raw, err := io.ReadAll(zr)
		if err != nil {
			return nil, pkgerr.Wrap(pkgerr.KindIO, "", "decompressing index", err)
		}
		data = raw
	}

	r := &reader{r: bufio.NewReader(bytes.NewReader(data))}

	idx := &model.PackageIndex{}
	idx.SchemaVersion = int(r.readUvarint())
	idx.UpdatedAt = time.Unix(0, r.readInt64())
	idx.MirrorBaseURL = r.readString()

	count := int(r.readUvarint())
	idx.Packages = make([]model.IndexEntry, count)
	for i := range idx.Packages {
		idx.Packages[i] = readEntry(r)
	}

	if r.err != nil && r.err != io.EOF {
		return nil, pkgerr.Wrap(pkgerr.KindIO, "", "decoding index", r.err)
	}
	return idx, nil
}

func sortedCopy(idx *model.PackageIndex) *model.PackageIndex {
	out := &model.PackageIndex{
		SchemaVersion: idx.SchemaVersion,
		UpdatedAt:     idx.UpdatedAt,
		MirrorBaseURL: idx.MirrorBaseURL,
		Packages:      make([]model.IndexEntry, len(idx.Packages)),
	}
	copy(out.Packages, idx.Packages)
	sort.Slice(out.Packages, func(i, j int) bool { return out.Packages[i].Name < out.Packages[j].Name })
	for i := range out.Packages {
		releases := make([]model.VersionInfo, len(out.Packages[i].Releases))
		copy(releases, out.Packages[i].Releases)
		sort.SliceStable(releases, func(a, b int) bool { return releases[a].Version > releases[b].Version })
		out.Packages[i].Releases = releases
	}
	return out
}

func writeEntry(w *writer, e model.IndexEntry) {
	w.writeString(string(e.Name))
	w.writeString(e.Description)
	w.writeString(string(e.Kind))

	w.writeUvarint(uint64(len(e.Tags)))
	for _, tag := range e.Tags {
		w.writeString(tag)
	}

	w.writeUvarint(uint64(len(e.Releases)))
	for _, v := range e.Releases {
		writeVersionInfo(w, v)
	}
}

func readEntry(r *reader) model.IndexEntry {
	var e model.IndexEntry
	e.Name = model.PackageName(r.readString())
	e.Description = r.readString()
	e.Kind = model.EntryKind(r.readString())

	tagCount := int(r.readUvarint())
	e.Tags = make([]string, tagCount)
	for i := range e.Tags {
		e.Tags[i] = r.readString()
	}

	relCount := int(r.readUvarint())
	e.Releases = make([]model.VersionInfo, relCount)
	for i := range e.Releases {
		e.Releases[i] = readVersionInfo(r)
	}
	return e
}

func writeVersionInfo(w *writer, v model.VersionInfo) {
	w.writeString(v.Version)

	w.writeUvarint(uint64(len(v.Binaries)))
	arches := make([]string, 0, len(v.Binaries))
	for arch := range v.Binaries {
		arches = append(arches, string(arch))
	}
	sort.Strings(arches)
	for _, arch := range arches {
		w.writeString(arch)
		writeArtifact(w, v.Binaries[model.Arch(arch)])
	}

	if v.Source != nil {
		w.writeByte(1)
		writeArtifact(w, *v.Source)
	} else {
		w.writeByte(0)
	}

	writeNames(w, v.RuntimeDeps)
	writeNames(w, v.BuildDeps)
	w.writeString(v.BuildScript)

	w.writeUvarint(uint64(len(v.BinList)))
	for _, b := range v.BinList {
		w.writeString(b)
	}

	w.writeString(v.PostInstallHints)
	w.writeString(v.AppBundleName)
}

func readVersionInfo(r *reader) model.VersionInfo {
	var v model.VersionInfo
	v.Version = r.readString()

	binCount := int(r.readUvarint())
	if binCount > 0 {
		v.Binaries = make(map[model.Arch]model.Artifact, binCount)
		for i := 0; i < binCount; i++ {
			arch := model.Arch(r.readString())
			v.Binaries[arch] = readArtifact(r)
		}
	}

	if r.readByte() == 1 {
		a := readArtifact(r)
		v.Source = &a
	}

	v.RuntimeDeps = readNames(r)
	v.BuildDeps = readNames(r)
	v.BuildScript = r.readString()

	binListCount := int(r.readUvarint())
	v.BinList = make([]string, binListCount)
	for i := range v.BinList {
		v.BinList[i] = r.readString()
	}

	v.PostInstallHints = r.readString()
	v.AppBundleName = r.readString()
	return v
}

func writeArtifact(w *writer, a model.Artifact) {
	w.writeString(string(a.Name))
	w.writeString(a.Version)
	w.writeString(string(a.Arch))
	w.writeString(a.URL)
	w.writeString(a.Hash.Algorithm)
	w.writeString(a.Hash.Hex)
}

func readArtifact(r *reader) model.Artifact {
	var a model.Artifact
	a.Name = model.PackageName(r.readString())
	a.Version = r.readString()
	a.Arch = model.Arch(r.readString())
	a.URL = r.readString()
	a.Hash.Algorithm = r.readString()
	a.Hash.Hex = r.readString()
	return a
}

func writeNames(w *writer, names []model.PackageName) {
	w.writeUvarint(uint64(len(names)))
	for _, n := range names {
		w.writeString(string(n))
	}
}

func readNames(r *reader) []model.PackageName {
	count := int(r.readUvarint())
	names := make([]model.PackageName, count)
	for i := range names {
		names[i] = model.PackageName(r.readString())
	}
	return names
}

// writer accumulates the first encoding error encountered so call sites
// don't need to check err after every primitive write.
type writer struct {
	w   io.Writer
	err error
}

func (w *writer) writeUvarint(v uint64) {
	if w.err != nil {
		return
	}
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], v)
	_, w.err = w.w.Write(buf[:n])
}

func (w *writer) writeInt64(v int64) {
	w.writeUvarint(uint64(v))
}

func (w *writer) writeByte(b byte) {
	if w.err != nil {
		return
	}
	_, w.err = w.w.Write([]byte{b})
}

func (w *writer) writeString(s string) {
	w.writeUvarint(uint64(len(s)))
	if w.err != nil {
		return
	}
	_, w.err = io.WriteString(w.w, s)
}

type reader struct {
	r   *bufio.Reader
	err error
}

func (r *reader) readUvarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, err := binary.ReadUvarint(r.r)
	if err != nil {
		r.err = err
		return 0
	}
	return v
}

func (r *reader) readInt64() int64 {
	return int64(r.readUvarint())
}

func (r *reader) readByte() byte {
	if r.err != nil {
		return 0
	}
	b, err := r.r.ReadByte()
	if err != nil {
		r.err = err
		return 0
	}
	return b
}

func (r *reader) readString() string {
	n := r.readUvarint()
	if r.err != nil || n == 0 {
		return ""
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		r.err = err
		return ""
	}
	return string(buf)
}
