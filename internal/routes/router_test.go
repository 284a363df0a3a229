package routes_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wikimoves/internal/mediawiki"
	"wikimoves/internal/mediawiki/mediawikitest"
	"wikimoves/internal/metrics"
	"wikimoves/internal/reconcile"
	"wikimoves/internal/routes"
)

type fakeService struct {
	mu      sync.Mutex
	err     error
	history []reconcile.RunSummary
	calls   int
}

func (f *fakeService) Run(ctx context.Context) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	for _, ns := range reconcile.DefaultNamespaces {
		if _, err := f.RunNamespace(ctx, ns); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeService) RunNamespace(_ context.Context, ns int) (reconcile.RunSummary, error) {
	now := time.Now()
	s := reconcile.RunSummary{Namespace: ns, Posted: true, EditResult: "Success", StartedAt: now, FinishedAt: now}
	f.mu.Lock()
	f.history = append(f.history, s)
	f.mu.Unlock()
	return s, nil
}

func (f *fakeService) Runs() []reconcile.RunSummary {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]reconcile.RunSummary(nil), f.history...)
}

type stubProbe struct {
	name   string
	status int
	err    error
}

func (s stubProbe) Name() string { return s.name }

func (s stubProbe) Probe(context.Context) (int, error) { return s.status, s.err }

func do(t *testing.T, h http.Handler, method, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	var body map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestHealth_AllWikisUp(t *testing.T) {
	primary := mediawikitest.NewServer()
	defer primary.Close()
	mirror := mediawikitest.NewServer()
	defer mirror.Close()

	var wikis []routes.Prober
	for name, srv := range map[string]*mediawikitest.Server{"primary": primary, "mirror": mirror} {
		c, err := mediawiki.NewClient(srv.APIURL(), mediawiki.WithName(name))
		require.NoError(t, err)
		wikis = append(wikis, c)
	}
	h := routes.NewRouter(routes.Deps{Service: &fakeService{}, Wikis: wikis})

	rec, body := do(t, h, http.MethodGet, "/health")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["ok"])
	services := body["services"].(map[string]any)
	assert.Contains(t, services, "primary")
	assert.Contains(t, services, "mirror")
}

func TestHealth_OneWikiDown(t *testing.T) {
	h := routes.NewRouter(routes.Deps{
		Service: &fakeService{},
		Wikis: []routes.Prober{
			stubProbe{name: "primary", status: http.StatusOK},
			stubProbe{name: "mirror", status: http.StatusBadGateway, err: errors.New("bad gateway")},
		},
	})

	rec, body := do(t, h, http.MethodGet, "/health")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, false, body["ok"])
	mirror := body["services"].(map[string]any)["mirror"].(map[string]any)
	assert.Equal(t, "bad gateway", mirror["error"])
}

func TestRun_ReturnsSummariesOfThisRun(t *testing.T) {
	svc := &fakeService{history: []reconcile.RunSummary{{Namespace: 0, StartedAt: time.Now().Add(-time.Hour)}}}
	h := routes.NewRouter(routes.Deps{Service: svc})

	rec, body := do(t, h, http.MethodPost, "/run")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["runs"], 3)

	_, body = do(t, h, http.MethodGet, "/runs")
	assert.Len(t, body["runs"], 4)
}

func TestRun_ConflictWhileRunning(t *testing.T) {
	h := routes.NewRouter(routes.Deps{Service: &fakeService{err: reconcile.ErrRunInProgress}})

	rec, body := do(t, h, http.MethodPost, "/run")

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, reconcile.ErrRunInProgress.Error(), body["error"])
}

func TestRun_LoginFailureIsBadGateway(t *testing.T) {
	err := fmt.Errorf("%w: mirror: %w", reconcile.ErrLogin, mediawiki.ErrLoginRejected)
	h := routes.NewRouter(routes.Deps{Service: &fakeService{err: err}})

	rec, _ := do(t, h, http.MethodPost, "/run")

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestRun_GetNotAllowed(t *testing.T) {
	svc := &fakeService{}
	h := routes.NewRouter(routes.Deps{Service: svc})

	rec, _ := do(t, h, http.MethodGet, "/run")

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Zero(t, svc.calls)
}

func TestMetrics_Exposed(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.Edits.WithLabelValues("0", "Success").Inc()
	h := routes.NewRouter(routes.Deps{Service: &fakeService{}, Gatherer: reg})

	rec, _ := do(t, h, http.MethodGet, "/metrics")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `wikimoves_edits_total{ns="0",result="Success"} 1`)
}

func TestMetrics_AbsentWithoutGatherer(t *testing.T) {
	h := routes.NewRouter(routes.Deps{Service: &fakeService{}})

	rec, _ := do(t, h, http.MethodGet, "/metrics")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
