package serverstate

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
)

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)

	rs, err := NewRedisStore(context.Background(), mr.Addr())
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	defer func() { _ = rs.Close() }()

	prev := active
	UseStore(rs)
	defer UseStore(prev)
	defer StopDrain()

	if got := GetState(); got != "not_ready" {
		t.Fatalf("initial state = %q; want %q", got, "not_ready")
	}

	SetState("ready")
	StartDrain()
	if !IsDraining() {
		t.Fatalf("IsDraining = false; want true")
	}

	raw, err := mr.Get(RedisKey)
	if err != nil {
		t.Fatalf("key %s: %v", RedisKey, err)
	}
	var st State
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Status != "draining" {
		t.Fatalf("stored state = %+v", st)
	}

	// A second replica sees the persisted state and does not reset it.
	rs2, err := NewRedisStore(context.Background(), "redis://"+mr.Addr()+"/0")
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	defer func() { _ = rs2.Close() }()
	if st := rs2.Load(); st.Status != "draining" {
		t.Fatalf("persisted state = %#v", st)
	}
}

func TestRedisStoreRestartDoesNotInheritDrain(t *testing.T) {
	mr := miniredis.RunT(t)

	prev := active
	defer UseStore(prev)
	defer StopDrain()

	rs, err := NewRedisStore(context.Background(), mr.Addr())
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	UseStore(rs)
	SetState("ready")
	StartDrain()
	_ = rs.Close()

	// A restarted process begins undrained and reconnects to the same key.
	StopDrain()
	rs2, err := NewRedisStore(context.Background(), mr.Addr())
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	defer func() { _ = rs2.Close() }()
	UseStore(rs2)
	if !strings.Contains(mustGet(t, mr, RedisKey), "draining") {
		t.Fatalf("expected previous status to persist before startup")
	}
	SetState("ready")

	if IsDraining() {
		t.Fatalf("IsDraining = true after restart")
	}
	if got := GetState(); got != "ready" {
		t.Fatalf("state = %q; want ready", got)
	}
	raw := mustGet(t, mr, RedisKey)
	var fields map[string]any
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := fields["draining"]; ok {
		t.Fatalf("stored state carries draining flag: %s", raw)
	}
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()
	raw, err := mr.Get(key)
	if err != nil {
		t.Fatalf("key %s: %v", key, err)
	}
	return raw
}

func TestRedisStoreUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	rs, err := NewRedisStore(context.Background(), mr.Addr())
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	defer func() { _ = rs.Close() }()
	mr.Close()
	if st := rs.Load(); st.Status != "unknown" {
		t.Fatalf("state with redis down = %+v", st)
	}
}

func TestNewRedisStoreBadURL(t *testing.T) {
	if _, err := NewRedisStore(context.Background(), "http://localhost:6379"); err == nil {
		t.Fatal("expected error for unsupported scheme")
	}
}

func TestParseRedisURL(t *testing.T) {
	tests := []struct {
		url    string
		addrs  int
		master string
		db     int
		tls    bool
	}{
		{"localhost:6379", 1, "", 0, false},
		{"redis://:pass@localhost:6379/1", 1, "", 1, false},
		{"rediss://host1:6379,host2:6379?db=3", 2, "", 3, true},
		{"redis-sentinel://localhost:26379/mymaster?db=2", 1, "mymaster", 2, false},
	}
	for _, tt := range tests {
		opts, err := parseRedisURL(tt.url)
		if err != nil {
			t.Fatalf("parseRedisURL(%q): %v", tt.url, err)
		}
		if len(opts.Addrs) != tt.addrs {
			t.Fatalf("%q addrs = %d; want %d", tt.url, len(opts.Addrs), tt.addrs)
		}
		if opts.MasterName != tt.master {
			t.Fatalf("%q master = %q; want %q", tt.url, opts.MasterName, tt.master)
		}
		if opts.DB != tt.db {
			t.Fatalf("%q db = %d; want %d", tt.url, opts.DB, tt.db)
		}
		if (opts.TLSConfig != nil) != tt.tls {
			t.Fatalf("%q tls = %v; want %v", tt.url, opts.TLSConfig != nil, tt.tls)
		}
	}
	if _, err := parseRedisURL("redis://localhost:6379/notanumber"); err == nil {
		t.Fatal("expected invalid db error")
	}
}
