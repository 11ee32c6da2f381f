package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/coder/websocket"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/gaspardpetit/chatrelay/internal/inflight"
	"github.com/gaspardpetit/chatrelay/internal/logx"
	"github.com/gaspardpetit/chatrelay/internal/metrics"
	"github.com/gaspardpetit/chatrelay/internal/relay"
)

const (
	transportHTTP = "http"
	transportWS   = "ws"
)

// ChatHandler serves POST /chat and its websocket variant.
type ChatHandler struct {
	Relayer *relay.Relayer
	// Streams counts open streams for drain; inflight.Streams() when nil.
	Streams *inflight.Counter
	// AllowedOrigins are the CORS origins also accepted on the websocket
	// handshake. Same-origin handshakes are always accepted.
	AllowedOrigins []string
}

// decodeMessage extracts "message" from a JSON object. Anything else,
// including a non-string message, yields "".
func decodeMessage(r io.Reader) string {
	var body map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&body); err != nil {
		return ""
	}
	raw, ok := body["message"]
	if !ok {
		return ""
	}
	var msg string
	if err := json.Unmarshal(raw, &msg); err != nil {
		return ""
	}
	return msg
}

// Chat relays one generation call as a chunked text/plain body. The status
// is always 200: upstream failures arrive in-band as an error marker.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	msg := decodeMessage(r.Body)
	streamID := uuid.NewString()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Stream-Id", streamID)
	w.WriteHeader(http.StatusOK)

	req := relay.Request{StreamID: streamID, RequestID: chiMiddleware.GetReqID(r.Context()), Prompt: msg}
	h.serve(r, transportHTTP, req, relay.NewHTTPSink(w))
}

// ChatWS accepts a websocket, reads one JSON message with the same shape as
// the POST body and sends each fragment as a text message.
func (h *ChatHandler) ChatWS(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: originHosts(h.AllowedOrigins)})
	if err != nil {
		logx.Log.Debug().Err(err).Msg("websocket accept")
		return
	}
	defer func() { _ = c.CloseNow() }()

	_, data, err := c.Read(r.Context())
	if err != nil {
		return
	}
	// Any further frame from the client, or its close, cancels ctx.
	ctx := c.CloseRead(r.Context())
	streamID := uuid.NewString()
	sink := relay.SinkFunc(func(fragment string) error {
		return c.Write(ctx, websocket.MessageText, []byte(fragment))
	})
	req := relay.Request{
		StreamID:  streamID,
		RequestID: chiMiddleware.GetReqID(r.Context()),
		Prompt:    decodeMessage(bytes.NewReader(data)),
	}
	res := h.serve(r.WithContext(ctx), transportWS, req, sink)
	if res.Outcome == relay.OutcomeClientGone {
		return
	}
	_ = c.Close(websocket.StatusNormalClosure, "")
}

func (h *ChatHandler) serve(r *http.Request, transport string, req relay.Request, sink relay.Sink) relay.Result {
	streams := h.Streams
	if streams == nil {
		streams = inflight.Streams()
	}
	streams.Inc()
	defer streams.Dec()
	metrics.StreamStart()

	res := h.Relayer.Relay(r.Context(), req, sink)
	metrics.StreamEnd(transport, res)

	ev := logx.Log.Info()
	if res.Outcome == relay.OutcomeUpstreamError {
		ev = logx.Log.Warn()
	}
	ev.Str("request_id", req.RequestID).
		Str("stream_id", req.StreamID).
		Str("transport", transport).
		Str("outcome", string(res.Outcome)).
		Int("prompt_len", len(req.Prompt)).
		Int("fragments", res.Fragments).
		Int("bytes", res.Bytes).
		Int("blocked", res.Blocked).
		Dur("duration", res.Duration).
		Msg("chat stream finished")
	return res
}

// originHosts converts CORS origins into the host patterns the websocket
// handshake matches against.
func originHosts(origins []string) []string {
	var out []string
	for _, o := range origins {
		if o == "*" {
			out = append(out, "*")
			continue
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			out = append(out, u.Host)
			continue
		}
		out = append(out, strings.TrimSuffix(o, "/"))
	}
	return out
}
