package api

import (
	"context"
	"io"
	"sync"

	"github.com/gaspardpetit/chatrelay/internal/llm"
)

type step struct {
	chunk llm.Chunk
	err   error
}

type fakeStream struct {
	steps  []step
	pos    int
	closed int
}

func (s *fakeStream) Next(ctx context.Context) (llm.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return llm.Chunk{}, err
	}
	if s.pos >= len(s.steps) {
		return llm.Chunk{}, io.EOF
	}
	st := s.steps[s.pos]
	s.pos++
	return st.chunk, st.err
}

func (s *fakeStream) Close() error {
	s.closed++
	return nil
}

// fakeGenerator hands out a fresh stream built from steps on every call.
type fakeGenerator struct {
	mu      sync.Mutex
	steps   []step
	prompts []string
	streams []*fakeStream
}

func (g *fakeGenerator) Open(ctx context.Context, prompt string) (llm.Stream, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)
	s := &fakeStream{steps: append([]step(nil), g.steps...)}
	g.streams = append(g.streams, s)
	return s, nil
}

func text(s string) step { return step{chunk: llm.TextChunk(s)} }

func blocked() step { return step{chunk: llm.BlockedChunk("candidate: SAFETY")} }
