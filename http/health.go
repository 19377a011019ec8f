package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

const checkTimeout = 2 * time.Second

// HealthStatus is the body of both probes.
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"protocol_version,omitempty"`
	Uptime    int64             `json:"uptime_seconds,omitempty"`
	Sessions  int               `json:"sessions"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// Check probes one dependency, such as the channel log or the binder store.
type Check func(ctx context.Context) error

type namedCheck struct {
	name  string
	check Check
}

type HealthChecker struct {
	ready     atomic.Bool
	live      atomic.Bool
	startTime time.Time
	version   string
	sessions  func() int
	logger    *slog.Logger

	mu     sync.Mutex
	checks []namedCheck
}

// NewHealthChecker starts live and not ready. sessions reports the number of
// open broker sessions.
func NewHealthChecker(logger *slog.Logger, version string, sessions func() int) *HealthChecker {
	hc := &HealthChecker{
		startTime: time.Now(),
		version:   version,
		sessions:  sessions,
		logger:    logger,
	}
	hc.live.Store(true)
	return hc
}

// AddCheck registers a dependency probe run on every readiness request.
func (hc *HealthChecker) AddCheck(name string, check Check) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks = append(hc.checks, namedCheck{name: name, check: check})
	sort.Slice(hc.checks, func(i, j int) bool { return hc.checks[i].name < hc.checks[j].name })
}

func (hc *HealthChecker) SetReady(ready bool) {
	hc.ready.Store(ready)
	if ready {
		hc.logger.Info("Broker marked as ready")
	} else {
		hc.logger.Warn("Broker marked as not ready")
	}
}

func (hc *HealthChecker) SetLive(live bool) {
	hc.live.Store(live)
	if !live {
		hc.logger.Error("Broker marked as not alive")
	}
}

func (hc *HealthChecker) IsReady() bool {
	return hc.ready.Load()
}

func (hc *HealthChecker) IsLive() bool {
	return hc.live.Load()
}

// runChecks returns each check's outcome and whether all passed.
func (hc *HealthChecker) runChecks(ctx context.Context) (map[string]string, bool) {
	hc.mu.Lock()
	checks := append([]namedCheck(nil), hc.checks...)
	hc.mu.Unlock()
	if len(checks) == 0 {
		return nil, true
	}

	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	results := make(map[string]string, len(checks))
	ok := true
	for _, c := range checks {
		if err := c.check(ctx); err != nil {
			results[c.name] = err.Error()
			ok = false
			hc.logger.WarnContext(ctx, "readiness check failed", "check", c.name, "error", err)
			continue
		}
		results[c.name] = "ok"
	}
	return results, ok
}

func (hc *HealthChecker) status(status string) HealthStatus {
	s := HealthStatus{
		Status:    status,
		Timestamp: time.Now(),
		Version:   hc.version,
		Uptime:    int64(time.Since(hc.startTime).Seconds()),
	}
	if hc.sessions != nil {
		s.Sessions = hc.sessions()
	}
	return s
}

func writeStatus(w http.ResponseWriter, code int, s HealthStatus) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(s)
}

// ReadinessHandler answers 200 once the broker is serving and every check
// passes.
func (hc *HealthChecker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !hc.IsReady() {
			writeStatus(w, http.StatusServiceUnavailable, hc.status("not_ready"))
			return
		}
		results, ok := hc.runChecks(r.Context())
		if !ok {
			s := hc.status("degraded")
			s.Checks = results
			writeStatus(w, http.StatusServiceUnavailable, s)
			return
		}
		s := hc.status("ready")
		s.Checks = results
		writeStatus(w, http.StatusOK, s)
	}
}

func (hc *HealthChecker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !hc.IsLive() {
			writeStatus(w, http.StatusServiceUnavailable, hc.status("not_alive"))
			return
		}
		writeStatus(w, http.StatusOK, hc.status("alive"))
	}
}
