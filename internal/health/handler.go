package health

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"runtime/debug"
	"strings"
	"time"

	"fxmargin/internal/httputil"
	"fxmargin/internal/worker"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type LoopReporter interface {
	Statuses() []worker.Status
}

type Handler struct {
	store       Pinger
	loops       LoopReporter
	startedAt   time.Time
	storeKind   string
	httpAddr    string
	internalTok string
}

// NewHandler builds the health endpoints. loops may be nil.
func NewHandler(store Pinger, loops LoopReporter, startedAt time.Time, storeKind, httpAddr, internalToken string) *Handler {
	start := startedAt.UTC()
	if start.IsZero() {
		start = time.Now().UTC()
	}
	return &Handler{
		store:       store,
		loops:       loops,
		startedAt:   start,
		storeKind:   strings.TrimSpace(storeKind),
		httpAddr:    strings.TrimSpace(httpAddr),
		internalTok: strings.TrimSpace(internalToken),
	}
}

type liveResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	UptimeSec int64  `json:"uptime_sec"`
	Uptime    string `json:"uptime"`
}

type storeStat struct {
	Kind       string `json:"kind"`
	Reachable  bool   `json:"reachable"`
	PingMs     int64  `json:"ping_ms"`
	Error      string `json:"error,omitempty"`
	CheckedAt  string `json:"checked_at"`
	TimeoutSec int    `json:"timeout_sec"`
}

type readinessResponse struct {
	Status    string          `json:"status"`
	Timestamp string          `json:"timestamp"`
	UptimeSec int64           `json:"uptime_sec"`
	Uptime    string          `json:"uptime"`
	Store     storeStat       `json:"store"`
	Loops     []worker.Status `json:"loops"`
}

type fullResponse struct {
	readinessResponse
	HTTPAddr string       `json:"http_addr"`
	Process  processStats `json:"process"`
	Runtime  runtimeStats `json:"runtime"`
	Build    buildStats   `json:"build"`
}

type processStats struct {
	PID      int    `json:"pid"`
	Hostname string `json:"hostname"`
	GoOS     string `json:"go_os"`
	GoArch   string `json:"go_arch"`
}

type runtimeStats struct {
	GoVersion      string `json:"go_version"`
	Goroutines     int    `json:"goroutines"`
	GoMaxProcs     int    `json:"gomaxprocs"`
	NumGC          uint32 `json:"num_gc"`
	HeapAllocBytes uint64 `json:"heap_alloc_bytes"`
	SysBytes       uint64 `json:"sys_bytes"`
}

type buildStats struct {
	MainPath string `json:"main_path"`
	Version  string `json:"version"`
}

func (h *Handler) uptime(now time.Time) time.Duration {
	uptime := now.Sub(h.startedAt)
	if uptime < 0 {
		return 0
	}
	return uptime
}

func secureTokenEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (h *Handler) requireInternalToken(w http.ResponseWriter, r *http.Request) bool {
	if h.internalTok == "" {
		httputil.WriteJSON(w, http.StatusServiceUnavailable, httputil.ErrorResponse{Error: "internal token is not configured"})
		return false
	}
	provided := strings.TrimSpace(r.Header.Get("X-Internal-Token"))
	if !secureTokenEqual(provided, h.internalTok) {
		httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "invalid internal token"})
		return false
	}
	return true
}

func (h *Handler) checkStore(ctx context.Context) storeStat {
	const timeoutSec = 1
	st := storeStat{Kind: h.storeKind, TimeoutSec: timeoutSec}
	if h.store == nil {
		st.Error = "store is not configured"
		st.CheckedAt = time.Now().UTC().Format(time.RFC3339)
		return st
	}
	start := time.Now()
	pingCtx, cancel := context.WithTimeout(ctx, timeoutSec*time.Second)
	err := h.store.Ping(pingCtx)
	cancel()
	st.PingMs = time.Since(start).Milliseconds()
	st.CheckedAt = time.Now().UTC().Format(time.RFC3339)
	if err != nil {
		st.Error = err.Error()
	} else {
		st.Reachable = true
	}
	return st
}

func (h *Handler) loopStatuses() []worker.Status {
	if h.loops == nil {
		return []worker.Status{}
	}
	return h.loops.Statuses()
}

func (h *Handler) readiness(ctx context.Context) (readinessResponse, int) {
	now := time.Now().UTC()
	uptime := h.uptime(now)
	resp := readinessResponse{
		Status:    "ok",
		Timestamp: now.Format(time.RFC3339),
		UptimeSec: int64(uptime.Seconds()),
		Uptime:    uptime.String(),
		Store:     h.checkStore(ctx),
		Loops:     h.loopStatuses(),
	}
	if !resp.Store.Reachable {
		resp.Status = "degraded"
		return resp, http.StatusServiceUnavailable
	}
	return resp, http.StatusOK
}

// Live does not touch the store.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	uptime := h.uptime(now)
	httputil.WriteJSON(w, http.StatusOK, liveResponse{
		Status:    "ok",
		Timestamp: now.Format(time.RFC3339),
		UptimeSec: int64(uptime.Seconds()),
		Uptime:    uptime.String(),
	})
}

// Ready returns 503 when the store does not answer a ping.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	resp, status := h.readiness(r.Context())
	httputil.WriteJSON(w, status, resp)
}

// Full returns process diagnostics and is protected by X-Internal-Token.
func (h *Handler) Full(w http.ResponseWriter, r *http.Request) {
	if !h.requireInternalToken(w, r) {
		return
	}
	ready, status := h.readiness(r.Context())

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	build := buildStats{}
	if info, ok := debug.ReadBuildInfo(); ok && info != nil {
		build.MainPath = strings.TrimSpace(info.Main.Path)
		build.Version = strings.TrimSpace(info.Main.Version)
	}
	host, _ := os.Hostname()

	httputil.WriteJSON(w, status, fullResponse{
		readinessResponse: ready,
		HTTPAddr:          h.httpAddr,
		Process: processStats{
			PID:      os.Getpid(),
			Hostname: host,
			GoOS:     runtime.GOOS,
			GoArch:   runtime.GOARCH,
		},
		Runtime: runtimeStats{
			GoVersion:      runtime.Version(),
			Goroutines:     runtime.NumGoroutine(),
			GoMaxProcs:     runtime.GOMAXPROCS(0),
			NumGC:          mem.NumGC,
			HeapAllocBytes: mem.HeapAlloc,
			SysBytes:       mem.Sys,
		},
		Build: build,
	})
}

// Metrics writes Prometheus text format and is protected by X-Internal-Token.
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	if !h.requireInternalToken(w, r) {
		return
	}
	now := time.Now().UTC()
	st := h.checkStore(r.Context())
	storeUp := 0
	if st.Reachable {
		storeUp = 1
	}
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "# HELP fxmargin_up Service process is running.\n")
	_, _ = fmt.Fprintf(w, "# TYPE fxmargin_up gauge\n")
	_, _ = fmt.Fprintf(w, "fxmargin_up 1\n")
	_, _ = fmt.Fprintf(w, "fxmargin_uptime_seconds %d\n", int64(h.uptime(now).Seconds()))
	_, _ = fmt.Fprintf(w, "# HELP fxmargin_store_up Store ping status (1=ok,0=down).\n")
	_, _ = fmt.Fprintf(w, "# TYPE fxmargin_store_up gauge\n")
	_, _ = fmt.Fprintf(w, "fxmargin_store_up %d\n", storeUp)
	_, _ = fmt.Fprintf(w, "fxmargin_store_ping_milliseconds %d\n", st.PingMs)
	_, _ = fmt.Fprintf(w, "fxmargin_go_goroutines %d\n", runtime.NumGoroutine())
	_, _ = fmt.Fprintf(w, "fxmargin_go_mem_heap_alloc_bytes %d\n", mem.HeapAlloc)

	_, _ = fmt.Fprintf(w, "# HELP fxmargin_loop_runs_total Completed ticks per engine loop.\n")
	_, _ = fmt.Fprintf(w, "# TYPE fxmargin_loop_runs_total counter\n")
	for _, l := range h.loopStatuses() {
		failing := 0
		if l.LastErr != "" {
			failing = 1
		}
		_, _ = fmt.Fprintf(w, "fxmargin_loop_runs_total{loop=%q} %d\n", l.Name, l.Runs)
		_, _ = fmt.Fprintf(w, "fxmargin_loop_failing{loop=%q} %d\n", l.Name, failing)
	}
}
