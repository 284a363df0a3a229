package routes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"wikimoves/internal/reconcile"
)

// Prober is the health-check side of a wiki client.
type Prober interface {
	Name() string
	Probe(ctx context.Context) (int, error)
}

type Handlers struct {
	svc   reconcile.Service
	wikis []Prober
	log   *zap.Logger
	now   func() time.Time
}

func NewHandlers(svc reconcile.Service, wikis []Prober, log *zap.Logger) *Handlers {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handlers{svc: svc, wikis: wikis, log: log, now: time.Now}
}

type serviceHealth struct {
	OK        bool   `json:"ok"`
	Status    int    `json:"status"`
	LatencyMs int64  `json:"latencyMs"`
	Error     string `json:"error,omitempty"`
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	ok := true
	services := make(map[string]serviceHealth, len(h.wikis))
	for _, wiki := range h.wikis {
		start := time.Now()
		status, err := wiki.Probe(ctx)
		res := serviceHealth{
			OK:        err == nil && status >= 200 && status < 300,
			Status:    status,
			LatencyMs: time.Since(start).Milliseconds(),
		}
		if err != nil {
			res.Error = err.Error()
		}
		ok = ok && res.OK
		services[wiki.Name()] = res
	}

	code := http.StatusOK
	if !ok {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"ok":        ok,
		"timestamp": h.now().Format(time.RFC3339),
		"services":  services,
	})
}

func (h *Handlers) Runs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"runs": h.svc.Runs(),
	})
}

// Run performs a full run and answers with the namespace summaries it
// produced. The run outlives a disconnected caller.
func (h *Handlers) Run(w http.ResponseWriter, r *http.Request) {
	start := h.now()
	err := h.svc.Run(context.WithoutCancel(r.Context()))
	switch {
	case errors.Is(err, reconcile.ErrRunInProgress):
		httpError(w, http.StatusConflict, err)
		return
	case errors.Is(err, reconcile.ErrLogin):
		h.log.Warn("run via http aborted", zap.Error(err))
		httpError(w, http.StatusBadGateway, err)
		return
	case err != nil:
		httpError(w, http.StatusInternalServerError, err)
		return
	}

	runs := make([]reconcile.RunSummary, 0, 3)
	for _, s := range h.svc.Runs() {
		if !s.StartedAt.Before(start) {
			runs = append(runs, s)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"runs": runs,
	})
}

func httpError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]any{
		"error": err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
