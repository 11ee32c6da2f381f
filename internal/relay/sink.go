package relay

import (
	"io"
	"net/http"
)

// Sink accepts outbound text fragments. WriteFragment returns once the
// fragment has been handed to the transport; an error means the client can
// no longer be reached.
type Sink interface {
	WriteFragment(fragment string) error
}

// HTTPSink writes fragments to an HTTP response body and flushes after each
// one so the client sees them as they arrive.
type HTTPSink struct {
	w       io.Writer
	flusher http.Flusher
}

// NewHTTPSink wraps w. Flushing is skipped when w does not support it.
func NewHTTPSink(w http.ResponseWriter) *HTTPSink {
	f, _ := w.(http.Flusher)
	return &HTTPSink{w: w, flusher: f}
}

func (s *HTTPSink) WriteFragment(fragment string) error {
	if _, err := io.WriteString(s.w, fragment); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(fragment string) error

func (f SinkFunc) WriteFragment(fragment string) error { return f(fragment) }
