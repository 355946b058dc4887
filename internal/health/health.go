// Package health serves the liveness and readiness endpoints.
//
//   - /healthz: always 200 while the process can serve HTTP.
//   - /readyz: 200 only when the server is not draining and every registered
//     [Checker] passes.
//
// Bodies are JSON with a top-level "status" ("ok" or "fail") and a "checks"
// map holding each checker's result.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// ErrDraining is reported by /readyz after [Handler.SetDraining] was called.
var ErrDraining = errors.New("server is draining")

// Checker is a named readiness check. Check returns nil when healthy.
type Checker struct {
	// Name keys this check in the JSON response (e.g. "vad", "codec").
	Name string

	// Check tests the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction time.
type Handler struct {
	checkers []Checker
	draining atomic.Bool
}

// New creates a [Handler]. Checkers run concurrently on each /readyz request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// SetDraining marks the server as shutting down so load balancers stop
// routing new streams to it. Liveness is unaffected.
func (h *Handler) SetDraining(v bool) {
	h.draining.Store(v)
}

// Healthz is the liveness endpoint.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz is the readiness endpoint. Each checker gets a [checkTimeout] deadline
// derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	res := result{Status: "ok", Checks: make(map[string]string, len(h.checkers)+1)}
	if h.draining.Load() {
		res.Checks["server"] = "fail: " + ErrDraining.Error()
	}

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(r.Context())
	for _, c := range h.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			status := "ok"
			if err := c.Check(cctx); err != nil {
				status = "fail: " + err.Error()
			}
			mu.Lock()
			res.Checks[c.Name] = status
			mu.Unlock()
			// Failures are reported per check, not through the group.
			return nil
		})
	}
	_ = g.Wait()

	status := http.StatusOK
	for _, v := range res.Checks {
		if v != "ok" {
			res.Status = "fail"
			status = http.StatusServiceUnavailable
			break
		}
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
