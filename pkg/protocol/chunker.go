package protocol

import (
	"errors"
	"iter"
)

const (
	// DefaultFileChunkSize is the slice size used when sending files through
	// the file-share path.
	DefaultFileChunkSize = 64 * 1024

	// DefaultInlineChunkSize is the smaller slice size used by the
	// notes-channel file path, where transfers compete with notes traffic.
	DefaultInlineChunkSize = 16 * 1024
)

// Chunker slices a byte stream into fixed-size fragments for transfer.
// Receivers make no assumption about the sender's chunk size; any positive
// size produces a valid stream.
type Chunker struct {
	size int
}

func NewChunker(size int) (*Chunker, error) {
	if size <= 0 {
		return nil, errors.New("chunk size must be positive")
	}
	return &Chunker{size: size}, nil
}

func (c *Chunker) Size() int {
	return c.size
}

// Chunks yields consecutive slices of data, each at most the configured size.
// The yielded slices alias data and must not be retained across iterations.
func (c *Chunker) Chunks(data []byte) iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		for offset := 0; offset < len(data); offset += c.size {
			end := offset + c.size
			if end > len(data) {
				end = len(data)
			}
			if !yield(data[offset:end]) {
				return
			}
		}
	}
}
