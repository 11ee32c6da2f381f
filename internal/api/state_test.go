package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/gaspardpetit/chatrelay/internal/inflight"
	"github.com/gaspardpetit/chatrelay/internal/serverstate"
)

func TestGetState(t *testing.T) {
	serverstate.UseStore(serverstate.NewMemoryStore())
	serverstate.SetState("ready")
	streams := &inflight.Counter{}
	streams.Inc()
	h := &StateHandler{Version: "v1", BuildSHA: "abc", BuildDate: "2024-01-01", Started: time.Now().Add(-time.Minute), Streams: streams}

	rr := httptest.NewRecorder()
	h.GetState(rr, httptest.NewRequest(http.MethodGet, "/api/state", nil))
	var resp StateResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ready" || resp.Draining || resp.Inflight != 1 || resp.Version != "v1" {
		t.Fatalf("bad response %+v", resp)
	}
	if resp.UptimeSeconds < 59 {
		t.Fatalf("uptime = %v", resp.UptimeSeconds)
	}
	if resp.Process.NumGoroutine == 0 {
		t.Fatalf("process stats missing: %+v", resp.Process)
	}
}

func TestHealthz(t *testing.T) {
	serverstate.UseStore(serverstate.NewMemoryStore())
	serverstate.SetState("ready")
	h := &StateHandler{}

	rr := httptest.NewRecorder()
	h.Healthz(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Fatalf("healthz = %d %q", rr.Code, rr.Body.String())
	}

	serverstate.StartDrain()
	defer serverstate.StopDrain()
	rr = httptest.NewRecorder()
	h.Healthz(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusServiceUnavailable || rr.Body.String() != "draining" {
		t.Fatalf("healthz while draining = %d %q", rr.Code, rr.Body.String())
	}
	serverstate.UseStore(serverstate.NewMemoryStore())
}

func TestOpenAPIHandler(t *testing.T) {
	rr := httptest.NewRecorder()
	OpenAPIHandler()(rr, httptest.NewRequest(http.MethodGet, "/api/openapi.json", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	var doc struct {
		OpenAPI string                     `json:"openapi"`
		Paths   map[string]json.RawMessage `json:"paths"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, p := range []string{"/", "/chat", "/chat/ws", "/healthz", "/api/state"} {
		if _, ok := doc.Paths[p]; !ok {
			t.Fatalf("path %s missing from document", p)
		}
	}
}

func TestIndexHandler(t *testing.T) {
	rr := httptest.NewRecorder()
	IndexHandler()(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if ct := rr.Header().Get("Content-Type"); !strings.Contains(ct, "text/html") {
		t.Fatalf("content type = %q", ct)
	}
	if !strings.Contains(rr.Body.String(), "fetch('/chat'") {
		t.Fatal("landing page does not post to /chat")
	}
}

func TestMiddlewareChainSetsRequestIDAndFlushes(t *testing.T) {
	var captured string
	var flushable bool
	var h http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = chiMiddleware.GetReqID(r.Context())
		_, flushable = w.(http.Flusher)
		_, _ = w.Write([]byte("x"))
	})
	chain := MiddlewareChain()
	for i := len(chain) - 1; i >= 0; i-- {
		h = chain[i](h)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if captured == "" {
		t.Fatal("missing request id")
	}
	if !flushable {
		t.Fatal("wrapped writer lost http.Flusher")
	}
}

func TestMiddlewareChainDebugKeepsRequestBody(t *testing.T) {
	prev := zerolog.GlobalLevel()
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	defer zerolog.SetGlobalLevel(prev)

	var got string
	var h http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		got = string(b)
		_, _ = w.Write([]byte("chunk"))
	})
	chain := MiddlewareChain()
	for i := len(chain) - 1; i >= 0; i-- {
		h = chain[i](h)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message":"ciao"}`)))
	if got != `{"message":"ciao"}` {
		t.Fatalf("handler body = %q", got)
	}
	if rr.Body.String() != "chunk" {
		t.Fatalf("response body = %q", rr.Body.String())
	}
}
