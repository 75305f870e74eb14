// Package chunk splits a blob into content-defined chunks for
// internal/cas's upload_chunked. Chunk boundaries come from
// go-ipfs-chunker's rabin rolling-hash splitter, so identical byte runs
// anywhere in two different blobs produce identical chunk hashes
// regardless of surrounding content.
package chunk

import (
	"bytes"
	"io"

	chunker "github.com/ipfs/go-ipfs-chunker"
	digest "github.com/opencontainers/go-digest"
)

// Chunk is one content-addressed piece of a chunked blob.
type Chunk struct {
	Hash digest.Digest
	Data []byte
}

// Split partitions data into content-defined chunks using the rabin
// splitter's default min/avg/max window.
func Split(data []byte) ([]Chunk, error) {
	splitter, err := chunker.FromString(bytes.NewReader(data), "rabin")
	if err != nil {
		return nil, err
	}

	var chunks []Chunk
	for {
		buf, err := splitter.NextBytes()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		piece := make([]byte, len(buf))
		copy(piece, buf)
		chunks = append(chunks, Chunk{
			Hash: digest.FromBytes(piece),
			Data: piece,
		})
	}
	return chunks, nil
}

// Reassemble concatenates chunks in order and returns the result, used to
// verify byte-identity after a chunked round trip: reassembly must hash
// back to the original blob's hash.
func Reassemble(chunks []Chunk) []byte {
	var total int
	for _, c := range chunks {
		total += len(c.Data)
	}
	out := make([]byte, 0, total)
	for _, c := range chunks {
		out = append(out, c.Data...)
	}
	return out
}
