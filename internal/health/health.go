// Package health serves the liveness and readiness endpoints.
//
//   - /healthz reports liveness and always returns 200 while the process
//     can serve HTTP.
//   - /readyz returns 200 only when every registered [Checker] passes. It
//     also reports the registered [Stat] values, such as the number of
//     connected devices.
//
// Responses are JSON objects with a "status" field ("ok" or "fail"), a
// "checks" map and an optional "stats" map.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named dependency probe. Check returns nil when the dependency
// is healthy and must respect context cancellation.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Stat is a named value reported by /readyz. It never affects readiness.
type Stat struct {
	Name  string
	Value func() any
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
	Stats  map[string]any    `json:"stats,omitempty"`
}

// Handler serves /healthz and /readyz. The checker and stat lists are fixed
// at construction.
type Handler struct {
	checkers []Checker
	stats    []Stat
}

// Option configures a [Handler].
type Option func(*Handler)

// WithChecker adds a readiness check.
func WithChecker(name string, check func(ctx context.Context) error) Option {
	return func(h *Handler) { h.checkers = append(h.checkers, Checker{Name: name, Check: check}) }
}

// WithStat adds a value reported alongside the checks.
func WithStat(name string, value func() any) Option {
	return func(h *Handler) { h.stats = append(h.stats, Stat{Name: name, Value: value}) }
}

// New creates a [Handler].
func New(opts ...Option) *Handler {
	h := &Handler{}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Healthz always returns 200 OK.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz runs every checker concurrently, each bounded by [checkTimeout],
// and returns 503 if any fails.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	var (
		mu     sync.Mutex
		checks = make(map[string]string, len(h.checkers))
		allOK  = true
	)
	var g errgroup.Group
	for _, c := range h.checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			err := c.Check(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				checks[c.Name] = "fail: " + err.Error()
				allOK = false
			} else {
				checks[c.Name] = "ok"
			}
			return nil
		})
	}
	_ = g.Wait()

	res := result{Status: "ok", Checks: checks}
	if len(h.stats) > 0 {
		res.Stats = make(map[string]any, len(h.stats))
		for _, s := range h.stats {
			res.Stats[s.Name] = s.Value()
		}
	}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
