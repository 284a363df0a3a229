package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wikimoves/internal/metrics"
)

func TestObserver_CountsRequests(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	observe := m.Observer()
	observe("primary", "query", "ok")
	observe("primary", "query", "ok")
	observe("mirror", "edit", "error")

	families, err := reg.Gather()
	require.NoError(t, err)

	got := map[string]float64{}
	for _, fam := range families {
		if fam.GetName() != "wikimoves_api_requests_total" {
			continue
		}
		for _, metric := range fam.GetMetric() {
			key := ""
			for _, lp := range metric.GetLabel() {
				key += lp.GetValue() + "/"
			}
			got[key] = metric.GetCounter().GetValue()
		}
	}
	assert.Equal(t, map[string]float64{
		"query/ok/primary/":  2,
		"edit/error/mirror/": 1,
	}, got)
}

func TestNew_RegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics.New(reg)
	assert.Panics(t, func() { metrics.New(reg) })
}
