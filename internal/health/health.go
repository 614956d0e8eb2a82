// Package health serves the liveness and readiness endpoints of the bridge.
//
//   - GET /healthz: liveness; 200 while the process can serve HTTP.
//   - GET /health: the same probe in the shape existing load balancers
//     expect ({"status":"healthy"}).
//   - GET /readyz: 200 only when every registered [Checker] passes.
//
// Liveness bodies carry the number of calls in progress when a counter is
// configured with [WithActiveCalls].
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness probe. Check returns nil when the dependency
// is usable and must honour ctx.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Pinger is implemented by dependencies that can verify their connection,
// such as the postgres turn log.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker reports p as ready when Ping succeeds.
func PingChecker(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}

// ProvidersChecker fails when any required provider slot is unset. The map
// goes from slot name ("stt", "llm", "tts") to the configured provider name.
func ProvidersChecker(configured map[string]string) Checker {
	return Checker{
		Name: "providers",
		Check: func(context.Context) error {
			var missing []string
			for kind, name := range configured {
				if name == "" {
					missing = append(missing, kind)
				}
			}
			if len(missing) > 0 {
				sort.Strings(missing)
				return errors.New("not configured: " + strings.Join(missing, ", "))
			}
			return nil
		},
	}
}

type result struct {
	Status      string            `json:"status"`
	ActiveCalls *int64            `json:"active_calls,omitempty"`
	Checks      map[string]string `json:"checks,omitempty"`
}

// Handler serves the health endpoints. The checker list is fixed at
// construction; Handler is safe for concurrent use.
type Handler struct {
	checkers    []Checker
	activeCalls func() int64
}

// Option configures a [Handler].
type Option func(*Handler)

// WithCheckers adds readiness checkers.
func WithCheckers(checkers ...Checker) Option {
	return func(h *Handler) { h.checkers = append(h.checkers, checkers...) }
}

// WithActiveCalls reports fn() as "active_calls" in liveness responses.
func WithActiveCalls(fn func() int64) Option {
	return func(h *Handler) { h.activeCalls = fn }
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
	writeJSON(w, http.StatusOK, h.liveness("ok"))
}

// Health is the legacy liveness probe.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.liveness("healthy"))
}

func (h *Handler) liveness(status string) result {
	res := result{Status: status}
	if h.activeCalls != nil {
		n := h.activeCalls()
		res.ActiveCalls = &n
	}
	return res
}

// Readyz runs every checker concurrently, each bounded by checkTimeout, and
// returns 200 only if all of them pass.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	errs := make([]error, len(h.checkers))
	var g errgroup.Group
	for i, c := range h.checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			errs[i] = c.Check(ctx)
			return nil
		})
	}
	_ = g.Wait()

	res := result{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	status := http.StatusOK
	for i, c := range h.checkers {
		if errs[i] != nil {
			res.Checks[c.Name] = "fail: " + errs[i].Error()
			res.Status = "fail"
			status = http.StatusServiceUnavailable
			continue
		}
		res.Checks[c.Name] = "ok"
	}
	writeJSON(w, status, res)
}

// Register adds the health routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}
