package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/glennswest/leafroute/pkg/fabric"
	"github.com/glennswest/leafroute/pkg/fabric/protocol"
)

func convergedRun(t *testing.T) (*RunResult, *protocol.Plan) {
	t.Helper()
	res, plan, err := NewRunner(testConfig(fabric.ProtocolEBGP, fiveNames...), fiveLeaves(t), nil, nopLog()).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, MessageSuccess, res.Message)
	return res, plan
}

func TestRenderReport(t *testing.T) {
	res, _ := convergedRun(t)

	var text bytes.Buffer
	require.NoError(t, RenderReport(&text, res, FormatText))
	out := text.String()
	assert.True(t, strings.HasPrefix(out, "run "+res.RunID+" (ebgp): success"))
	assert.Contains(t, out, "bgp-as set to 65001")
	assert.Contains(t, out, "L5")

	var js bytes.Buffer
	require.NoError(t, RenderReport(&js, res, FormatJSON))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(js.Bytes(), &decoded))
	assert.Equal(t, "success", decoded["message"])

	var ym bytes.Buffer
	require.NoError(t, RenderReport(&ym, res, FormatYAML))
	var back RunResult
	require.NoError(t, yaml.Unmarshal(ym.Bytes(), &back))
	assert.Equal(t, res.RunID, back.RunID)
	assert.Len(t, back.Switches, 5)

	assert.Error(t, RenderReport(&text, res, "xml"))
}

func TestRenderPlan(t *testing.T) {
	_, plan := convergedRun(t)

	var text bytes.Buffer
	require.NoError(t, RenderPlan(&text, plan, FormatText))
	out := text.String()
	assert.Contains(t, out, "L1-to-L2-cluster")
	assert.Contains(t, out, "75.75.75.0/30 (75.75.75.1, 75.75.75.2)")
	assert.Contains(t, out, "65003")
}

func TestStoreRoundTrip(t *testing.T) {
	res, plan := convergedRun(t)
	path := filepath.Join(t.TempDir(), "report.yaml")

	s := NewStore(path)
	require.NoError(t, s.Load(), "missing file is fine")
	assert.Nil(t, s.Last())

	require.NoError(t, s.Save(res, plan))

	loaded := NewStore(path)
	require.NoError(t, loaded.Load())
	require.NotNil(t, loaded.Last())
	assert.Equal(t, res.RunID, loaded.Last().RunID)
	assert.Equal(t, res.Message, loaded.Last().Message)
	assert.Equal(t, plan.Identifiers.ByLeaf, loaded.Plan().Identifiers.ByLeaf)
	assert.Equal(t, plan.Links, loaded.Plan().Links)

	l1, ok := loaded.Last().Switch("L1")
	require.True(t, ok)
	assert.True(t, l1.Changed)
}

func TestAPI(t *testing.T) {
	store := NewStore("")
	m := NewMetrics()
	srv := httptest.NewServer(Routes(store, m))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/report")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	res, plan := convergedRun(t)
	require.NoError(t, store.Save(res, plan))
	m.run(res.Message, time.Second)

	resp, err = http.Get(srv.URL + "/api/v1/report")
	require.NoError(t, err)
	var got RunResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	resp.Body.Close()
	assert.Equal(t, res.RunID, got.RunID)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	resp, err = http.Get(srv.URL + "/api/v1/clusters")
	require.NoError(t, err)
	var gotPlan protocol.Plan
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&gotPlan))
	resp.Body.Close()
	assert.Len(t, gotPlan.Clusters, 2)

	resp, err = http.Post(srv.URL+"/api/v1/report", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	var body bytes.Buffer
	_, _ = body.ReadFrom(resp.Body)
	resp.Body.Close()
	assert.Contains(t, body.String(), `leafroute_runs_total{message="success"} 1`)

	resp, err = http.Get(srv.URL + "/ping")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRunPeriodicStoresReport(t *testing.T) {
	f := fiveLeaves(t)
	store := NewStore("")
	runner := NewRunner(testConfig(fabric.ProtocolEBGP, fiveNames...), f, nil, nopLog())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		runner.RunPeriodic(ctx, store, PeriodicOpts{Interval: time.Hour})
		close(done)
	}()

	require.Eventually(t, func() bool { return store.Last() != nil }, 5*time.Second, 10*time.Millisecond)
	cancel()
	<-done
	assert.Equal(t, MessageSuccess, store.Last().Message)
}
