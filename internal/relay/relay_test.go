package relay

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/gaspardpetit/chatrelay/internal/llm"
)

type step struct {
	chunk llm.Chunk
	err   error
	// wait blocks Next until the context is done.
	wait bool
}

type fakeStream struct {
	steps  []step
	pos    int
	closed int
	events *[]string
}

func (s *fakeStream) Next(ctx context.Context) (llm.Chunk, error) {
	if s.events != nil {
		*s.events = append(*s.events, "next")
	}
	if s.pos >= len(s.steps) {
		return llm.Chunk{}, io.EOF
	}
	st := s.steps[s.pos]
	s.pos++
	if st.wait {
		<-ctx.Done()
		return llm.Chunk{}, ctx.Err()
	}
	return st.chunk, st.err
}

func (s *fakeStream) Close() error {
	s.closed++
	return nil
}

type fakeGenerator struct {
	stream  *fakeStream
	err     error
	prompts []string
}

func (g *fakeGenerator) Open(ctx context.Context, prompt string) (llm.Stream, error) {
	g.prompts = append(g.prompts, prompt)
	if g.err != nil {
		return nil, g.err
	}
	return g.stream, nil
}

type recordSink struct {
	fragments []string
	failAt    int
	events    *[]string
}

func (s *recordSink) WriteFragment(f string) error {
	if s.events != nil {
		*s.events = append(*s.events, "write")
	}
	if s.failAt > 0 && len(s.fragments)+1 == s.failAt {
		return errors.New("broken pipe")
	}
	s.fragments = append(s.fragments, f)
	return nil
}

func texts(ss ...string) []step {
	out := make([]step, 0, len(ss))
	for _, s := range ss {
		out = append(out, step{chunk: llm.TextChunk(s)})
	}
	return out
}

func TestForwardPreservesOrder(t *testing.T) {
	stream := &fakeStream{steps: texts("a", "bb", "ccc", "dddd")}
	sink := &recordSink{}
	res := Forward(context.Background(), stream, sink)
	if res.Outcome != OutcomeCompleted {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	if got := strings.Join(sink.fragments, ""); got != "abbcccdddd" {
		t.Fatalf("concatenation = %q", got)
	}
	if res.Fragments != 4 || res.Bytes != 10 {
		t.Fatalf("counts = %d/%d", res.Fragments, res.Bytes)
	}
	if stream.closed != 1 {
		t.Fatalf("stream closed %d times", stream.closed)
	}
}

func TestForwardSkipsBlockedChunks(t *testing.T) {
	steps := texts("Hi", " there")
	steps = append(steps, step{chunk: llm.BlockedChunk("SAFETY")})
	steps = append(steps, texts("!")...)
	stream := &fakeStream{steps: steps}
	sink := &recordSink{}
	res := Forward(context.Background(), stream, sink)
	want := []string{"Hi", " there", "!"}
	if !reflect.DeepEqual(sink.fragments, want) {
		t.Fatalf("fragments = %q; want %q", sink.fragments, want)
	}
	if res.Outcome != OutcomeCompleted || res.Blocked != 1 {
		t.Fatalf("result = %+v", res)
	}
}

func TestForwardSkipsEmptyText(t *testing.T) {
	stream := &fakeStream{steps: texts("", "x", "")}
	sink := &recordSink{}
	Forward(context.Background(), stream, sink)
	if !reflect.DeepEqual(sink.fragments, []string{"x"}) {
		t.Fatalf("fragments = %q", sink.fragments)
	}
}

func TestForwardUpstreamErrorEndsWithMarker(t *testing.T) {
	steps := texts("one", "two")
	steps = append(steps, step{err: errors.New("quota exceeded")})
	steps = append(steps, texts("never")...)
	stream := &fakeStream{steps: steps}
	sink := &recordSink{}
	res := Forward(context.Background(), stream, sink)
	want := []string{"one", "two", "\n[Errore API: quota exceeded]"}
	if !reflect.DeepEqual(sink.fragments, want) {
		t.Fatalf("fragments = %q; want %q", sink.fragments, want)
	}
	if res.Outcome != OutcomeUpstreamError || res.Err == nil || res.Fragments != 2 {
		t.Fatalf("result = %+v", res)
	}
	if stream.pos != 3 {
		t.Fatalf("stream read past the error: pos=%d", stream.pos)
	}
	if stream.closed != 1 {
		t.Fatalf("stream closed %d times", stream.closed)
	}
}

func TestForwardIsChunkSynchronous(t *testing.T) {
	var events []string
	stream := &fakeStream{steps: texts("a", "b"), events: &events}
	sink := &recordSink{events: &events}
	Forward(context.Background(), stream, sink)
	want := []string{"next", "write", "next", "write", "next"}
	if !reflect.DeepEqual(events, want) {
		t.Fatalf("events = %v; want %v", events, want)
	}
}

func TestForwardStopsWhenClientWriteFails(t *testing.T) {
	stream := &fakeStream{steps: texts("a", "b", "c")}
	sink := &recordSink{failAt: 2}
	res := Forward(context.Background(), stream, sink)
	if res.Outcome != OutcomeClientGone {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	if stream.pos != 2 {
		t.Fatalf("expected 2 reads, got %d", stream.pos)
	}
	if stream.closed != 1 {
		t.Fatalf("stream closed %d times", stream.closed)
	}
}

func TestForwardClientDisconnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	steps := texts("a")
	steps = append(steps, step{wait: true})
	stream := &fakeStream{steps: steps}
	sink := &recordSink{}
	done := make(chan Result, 1)
	go func() { done <- Forward(ctx, stream, sink) }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	var res Result
	select {
	case res = <-done:
	case <-time.After(time.Second):
		t.Fatalf("forward did not stop after cancel")
	}
	if res.Outcome != OutcomeClientGone {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	if !reflect.DeepEqual(sink.fragments, []string{"a"}) {
		t.Fatalf("fragments = %q; no marker expected", sink.fragments)
	}
	if stream.closed != 1 {
		t.Fatalf("stream closed %d times", stream.closed)
	}
}

func TestRelayOpenFailureWritesMarker(t *testing.T) {
	gen := &fakeGenerator{err: llm.ErrNoAPIKey}
	r := &Relayer{Generator: gen}
	sink := &recordSink{}
	res := r.Relay(context.Background(), Request{StreamID: "s1", Prompt: ""}, sink)
	if res.Outcome != OutcomeUpstreamError {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	want := []string{"\n[Errore API: api key not configured]"}
	if !reflect.DeepEqual(sink.fragments, want) {
		t.Fatalf("fragments = %q", sink.fragments)
	}
	if len(gen.prompts) != 1 || gen.prompts[0] != "" {
		t.Fatalf("prompts = %q", gen.prompts)
	}
}

func TestRelayTimeoutSurfacesInBand(t *testing.T) {
	steps := texts("partial")
	steps = append(steps, step{wait: true})
	gen := &fakeGenerator{stream: &fakeStream{steps: steps}}
	r := &Relayer{Generator: gen, Timeout: 20 * time.Millisecond}
	sink := &recordSink{}
	res := r.Relay(context.Background(), Request{Prompt: "slow"}, sink)
	if res.Outcome != OutcomeUpstreamError || !errors.Is(res.Err, context.DeadlineExceeded) {
		t.Fatalf("result = %+v", res)
	}
	if len(sink.fragments) != 2 || sink.fragments[0] != "partial" || !strings.HasPrefix(sink.fragments[1], "\n[Errore API: ") {
		t.Fatalf("fragments = %q", sink.fragments)
	}
}

func TestHTTPSinkFlushes(t *testing.T) {
	rec := httptest.NewRecorder()
	sink := NewHTTPSink(rec)
	if err := sink.WriteFragment("hello"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !rec.Flushed {
		t.Fatalf("expected flush after fragment")
	}
	if rec.Body.String() != "hello" {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestErrorMarker(t *testing.T) {
	if got := ErrorMarker(errors.New("boom")); got != "\n[Errore API: boom]" {
		t.Fatalf("marker = %q", got)
	}
}
