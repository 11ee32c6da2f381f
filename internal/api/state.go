package api

import (
	"encoding/json"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/gaspardpetit/chatrelay/internal/inflight"
	"github.com/gaspardpetit/chatrelay/internal/logx"
	"github.com/gaspardpetit/chatrelay/internal/serverstate"
)

// StateResponse is the body of GET /api/state.
type StateResponse struct {
	Status        string       `json:"status"`
	Draining      bool         `json:"draining"`
	Inflight      int64        `json:"inflight"`
	Version       string       `json:"version"`
	BuildSHA      string       `json:"build_sha"`
	BuildDate     string       `json:"build_date"`
	UptimeSeconds float64      `json:"uptime_seconds"`
	Process       ProcessStats `json:"process"`
}

// ProcessStats describes the relay process. RSS and CPU are zero when the
// platform does not expose them.
type ProcessStats struct {
	RSSBytes     uint64  `json:"rss_bytes"`
	CPUPercent   float64 `json:"cpu_percent"`
	NumGoroutine int     `json:"num_goroutine"`
}

// StateHandler serves health and state snapshots.
type StateHandler struct {
	Version   string
	BuildSHA  string
	BuildDate string
	Started   time.Time
	Streams   *inflight.Counter
}

func (h *StateHandler) streams() *inflight.Counter {
	if h.Streams == nil {
		return inflight.Streams()
	}
	return h.Streams
}

// GetState returns a JSON snapshot of the server.
func (h *StateHandler) GetState(w http.ResponseWriter, r *http.Request) {
	resp := StateResponse{
		Status:        serverstate.GetState(),
		Draining:      serverstate.IsDraining(),
		Inflight:      h.streams().Load(),
		Version:       h.Version,
		BuildSHA:      h.BuildSHA,
		BuildDate:     h.BuildDate,
		UptimeSeconds: time.Since(h.Started).Seconds(),
		Process:       processStats(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logx.Log.Error().Err(err).Msg("encode state")
	}
}

// Healthz reports 200 "ok" until the server starts draining.
func (h *StateHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if serverstate.IsDraining() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("draining"))
		return
	}
	_, _ = w.Write([]byte("ok"))
}

func processStats() ProcessStats {
	ps := ProcessStats{NumGoroutine: runtime.NumGoroutine()}
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logx.Log.Debug().Err(err).Msg("process stats")
		return ps
	}
	if mi, err := p.MemoryInfo(); err == nil && mi != nil {
		ps.RSSBytes = mi.RSS
	}
	if cpu, err := p.CPUPercent(); err == nil {
		ps.CPUPercent = cpu
	}
	return ps
}
