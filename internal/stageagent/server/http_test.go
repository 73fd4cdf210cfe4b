package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aefi-io/aefi/internal/stageagent/core"
	"github.com/aefi-io/aefi/internal/stageagent/hal"
	"github.com/aefi-io/aefi/internal/stageagent/motion"
	"github.com/aefi-io/aefi/pkg/options"
)

type fakeLinker struct{}

func (fakeLinker) URL(_ context.Context, id string, _ time.Duration) (string, error) {
	return "https://s3.local/scans/" + id + ".json?sig=x", nil
}

type apiHarness struct {
	sched *motion.Scheduler
	srv   *httptest.Server
}

func newAPI(t *testing.T, archive ArchiveLinker, run bool) *apiHarness {
	t.Helper()

	stage := hal.NewSimStage(hal.SimConfig{Speed: 1e6})
	adc := hal.NewSimADC(stage, hal.ADCConfig{Channels: 2})
	sched := motion.New(stage, adc, nil,
		motion.WithPollInterval(5*time.Millisecond),
		motion.WithSettleDelay(0),
		motion.WithScanDefaults(0, 1),
	)

	handler := NewHTTPServer(options.NewHttpOptions(), sched, archive).Router(time.Second)
	h := &apiHarness{sched: sched, srv: httptest.NewServer(handler)}
	t.Cleanup(h.srv.Close)

	if run {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			_ = sched.Run(ctx)
			close(done)
		}()
		t.Cleanup(func() {
			cancel()
			<-done
		})
		require.Eventually(t, sched.Running, time.Second, time.Millisecond)
	}
	return h
}

func (h *apiHarness) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()

	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, h.srv.URL+path, rd)
	require.NoError(t, err)
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, out
}

func ptr(f float64) *float64 { return &f }

func TestHealthAndReadiness(t *testing.T) {
	h := newAPI(t, nil, false)

	resp, body := h.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))

	resp, _ = h.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	running := newAPI(t, nil, true)
	resp, _ = running.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPostMoveCommand(t *testing.T) {
	h := newAPI(t, nil, true)

	resp, body := h.do(t, http.MethodPost, "/v1/commands", CommandRequest{Kind: "move_to", X: ptr(1.25), Y: ptr(-3)})
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))

	var ack CommandResponse
	require.NoError(t, json.Unmarshal(body, &ack))
	assert.NotEmpty(t, ack.ID)
	assert.Equal(t, core.KindMoveTo, ack.Kind)

	require.Eventually(t, func() bool {
		_, body := h.do(t, http.MethodGet, "/v1/position", nil)
		var p core.Position
		return json.Unmarshal(body, &p) == nil && p.X == 1.25 && p.Y == -3
	}, 2*time.Second, 5*time.Millisecond)
}

func TestPostCommandBadRequests(t *testing.T) {
	h := newAPI(t, nil, true)

	tests := []struct {
		name string
		body any
	}{
		{"malformed json", `{"kind":`},
		{"unknown field", `{"kind":"home","bogus":1}`},
		{"unknown kind", CommandRequest{Kind: "teleport"}},
		{"move without y", CommandRequest{Kind: "move_to", X: ptr(1)}},
		{"bad axis", CommandRequest{Kind: "home", Axis: "z"}},
		{"segment", CommandRequest{Kind: "scan_segment"}},
		{"negative speed", CommandRequest{Kind: "configure", Speed: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := h.do(t, http.MethodPost, "/v1/commands", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

			var e ErrorResponse
			require.NoError(t, json.Unmarshal(body, &e))
			assert.NotEmpty(t, e.Error)
		})
	}
}

func TestStopThenRejectedUntilReset(t *testing.T) {
	h := newAPI(t, nil, true)

	resp, _ := h.do(t, http.MethodPost, "/v1/stop", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool {
		_, body := h.do(t, http.MethodGet, "/v1/state", nil)
		var st StateResponse
		return json.Unmarshal(body, &st) == nil && st.State == core.StateStopped
	}, 2*time.Second, 5*time.Millisecond)

	resp, _ = h.do(t, http.MethodPost, "/v1/commands", CommandRequest{Kind: "home", Axis: "all"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = h.do(t, http.MethodPost, "/v1/scans", ScanRequest{XMax: 1, YMax: 1, XPoints: 2, YPoints: 2})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = h.do(t, http.MethodPost, "/v1/commands", CommandRequest{Kind: "reset"})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Eventually(t, func() bool { return h.sched.CurrentState() == core.StateIdle }, 2*time.Second, time.Millisecond)
}

func TestScanLifecycle(t *testing.T) {
	h := newAPI(t, fakeLinker{}, true)

	resp, body := h.do(t, http.MethodPost, "/v1/scans", ScanRequest{
		XMin: 0, XMax: 2, YMin: 0, YMax: 2, XPoints: 3, YPoints: 3,
		Pattern: core.Raster, StabilizationDelayMs: 1,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var st motion.ScanStatus
	require.NoError(t, json.Unmarshal(body, &st))
	assert.Equal(t, 9, st.Total)
	assert.Equal(t, core.Raster, st.Config.Pattern)
	assert.Equal(t, time.Millisecond, st.Config.StabilizationDelay)
	assert.Equal(t, "/v1/scans/"+st.ID, resp.Header.Get("Location"))

	require.Eventually(t, func() bool {
		_, body := h.do(t, http.MethodGet, "/v1/scans/"+st.ID, nil)
		var got motion.ScanStatus
		return json.Unmarshal(body, &got) == nil && got.Phase == motion.ScanCompleted && got.Progress == 9
	}, 2*time.Second, 5*time.Millisecond)

	_, body = h.do(t, http.MethodGet, "/v1/scans", nil)
	var list []motion.ScanStatus
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list, 1)
	assert.Equal(t, st.ID, list[0].ID)

	resp, _ = h.do(t, http.MethodGet, "/v1/scans/"+st.ID+"/archive", nil)
	assert.Equal(t, http.StatusTemporaryRedirect, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Location"), "scans/"+st.ID+".json")

	resp, _ = h.do(t, http.MethodGet, "/v1/scans/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPostScanInvalidConfig(t *testing.T) {
	h := newAPI(t, nil, true)

	resp, body := h.do(t, http.MethodPost, "/v1/scans", ScanRequest{XPoints: 1, YPoints: 5})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "x_nb_points")

	resp, _ = h.do(t, http.MethodPost, "/v1/scans", ScanRequest{
		XMax: 1, YMax: 1, XPoints: 2, YPoints: 2,
		Mode: core.FlyScan, Speed: 10, MaxSpatialGap: 0.1, AcquisitionRateHz: 50,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "100 Hz needed")

	resp, body = h.do(t, http.MethodPost, "/v1/scans", ScanRequest{XMax: 1, YMax: 1, XPoints: 30000, YPoints: 30000})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "exceeds the limit")
}

func TestArchiveDisabled(t *testing.T) {
	h := newAPI(t, nil, false)
	resp, _ := h.do(t, http.MethodGet, "/v1/scans/any/archive", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStateBeforeRun(t *testing.T) {
	h := newAPI(t, nil, false)

	_, body := h.do(t, http.MethodGet, "/v1/state", nil)
	var st StateResponse
	require.NoError(t, json.Unmarshal(body, &st))
	assert.Equal(t, core.StateIdle, st.State)
	assert.False(t, st.Running)
	assert.Equal(t, int64(5), st.PollIntervalMs)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newAPI(t, nil, true)

	resp, body := h.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "aefi_worker_state")
}

func TestSubmitStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, submitStatus(&core.ConfigError{Field: "x"}))
	assert.Equal(t, http.StatusServiceUnavailable, submitStatus(core.ErrClosed))
	assert.Equal(t, http.StatusConflict, submitStatus(core.ErrStopped))
	assert.Equal(t, http.StatusConflict, submitStatus(fmt.Errorf("wrapped: %w", core.ErrRejected)))
	assert.Equal(t, http.StatusInternalServerError, submitStatus(errors.New("other")))
}

type stubServer struct {
	err     error
	started chan struct{}
}

func (s *stubServer) Start(ctx context.Context) error {
	close(s.started)
	if s.err != nil {
		return s.err
	}
	<-ctx.Done()
	return nil
}

func TestManagerStopsAllOnFailure(t *testing.T) {
	m := NewManager()
	ok := &stubServer{started: make(chan struct{})}
	bad := &stubServer{err: errors.New("bind failed"), started: make(chan struct{})}
	m.Add("ok", ok)
	m.Add("bad", bad)

	err := m.Start(context.Background())
	require.EqualError(t, err, "bind failed")
	<-ok.started
}

func TestHTTPServerStartAndShutdown(t *testing.T) {
	opts := options.NewHttpOptions()
	opts.Addr = "127.0.0.1:0"
	srv := NewHTTPServer(opts, motion.New(hal.NewSimStage(hal.SimConfig{}), nil, nil), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down")
	}
}
