//go:build linux

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/momentics/hioload-xfer/control"
)

func TestBatchRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		fmt.Fprintf(w, "%s %s %s", r.Method, r.URL.Path, b)
	}))
	defer srv.Close()

	reg := prometheus.NewRegistry()
	metrics, err := control.NewMetrics(reg)
	require.NoError(t, err)

	cfg := defaultConfig()
	cfg.Workers = 2
	cfg.PinWorkers = true
	cfg.OutputDir = filepath.Join(t.TempDir(), "out")
	cfg.Jobs = []Job{
		{URL: srv.URL + "/one", Output: "one.txt"},
		{URL: srv.URL + "/two", Method: "POST", Body: []byte("payload"), Output: "two.txt"},
		{URL: srv.URL + "/three", Method: "HEAD"},
		{URL: "https://unsupported.test/"},
	}
	b := newBatch(cfg, zaptest.NewLogger(t), metrics)
	require.NoError(t, b.run(context.Background()))

	assert.Equal(t, int64(4), b.done.Load())
	assert.Equal(t, int64(1), b.failed.Load())

	one, err := os.ReadFile(filepath.Join(cfg.OutputDir, "one.txt"))
	require.NoError(t, err)
	assert.Equal(t, "GET /one ", string(one))
	two, err := os.ReadFile(filepath.Join(cfg.OutputDir, "two.txt"))
	require.NoError(t, err)
	assert.Equal(t, "POST /two payload", string(two))

	assert.Equal(t, 2, testutil.CollectAndCount(reg, "xfer_transfers_added_total"))
	assert.Equal(t, float64(2), counterValue(t, reg, "xfer_transfers_added_total", "worker-0"))
}

// counterValue reads one labelled sample of a gathered counter family.
func counterValue(t *testing.T, reg *prometheus.Registry, name, session string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "session" && l.GetValue() == session {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	t.Fatalf("no %s sample for %s", name, session)
	return 0
}
