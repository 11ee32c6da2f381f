// Package llm defines the contract between the relay and a remote
// text-generation service: a generator opens one streaming call per prompt
// and the stream yields chunks that either carry text or report that the
// service withheld the fragment.
package llm

import (
	"context"
	"errors"
)

// ErrNoAPIKey is returned by generators that were built without a credential.
var ErrNoAPIKey = errors.New("api key not configured")

// ChunkKind tags the variant held by a Chunk.
type ChunkKind int

const (
	// ChunkText carries a generated text fragment.
	ChunkText ChunkKind = iota
	// ChunkBlocked marks a fragment withheld by the safety policy.
	ChunkBlocked
)

func (k ChunkKind) String() string {
	switch k {
	case ChunkText:
		return "text"
	case ChunkBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// Chunk is one element of a generation stream. The kind is decided once,
// where the remote response is decoded.
type Chunk struct {
	Kind ChunkKind
	// Text is set for ChunkText and may be empty.
	Text string
	// Reason describes why a ChunkBlocked fragment was withheld.
	Reason string
}

// TextChunk returns a chunk carrying text.
func TextChunk(text string) Chunk { return Chunk{Kind: ChunkText, Text: text} }

// BlockedChunk returns a chunk withheld for the given reason.
func BlockedChunk(reason string) Chunk { return Chunk{Kind: ChunkBlocked, Reason: reason} }

// Blocked reports whether the chunk was withheld by the safety policy.
func (c Chunk) Blocked() bool { return c.Kind == ChunkBlocked }

// Stream is a lazy sequence of chunks from one remote call.
//
// Next blocks until the next chunk is available and returns io.EOF once the
// remote side is done. Any other error ends the stream. Close releases the
// call's resources; it is safe to call more than once and must be called on
// every exit path.
type Stream interface {
	Next(ctx context.Context) (Chunk, error)
	Close() error
}

// Generator opens streaming generation calls for single-turn prompts.
type Generator interface {
	Open(ctx context.Context, prompt string) (Stream, error)
}

// FailingGenerator fails every call with Err. It stands in for a backend
// that could not be constructed so failures still surface per request.
type FailingGenerator struct {
	Err error
}

// Open always returns g.Err.
func (g FailingGenerator) Open(context.Context, string) (Stream, error) {
	if g.Err == nil {
		return nil, ErrNoAPIKey
	}
	return nil, g.Err
}
