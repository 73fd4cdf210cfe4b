package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aefi-io/aefi/internal/stageagent/core"
	"github.com/aefi-io/aefi/internal/stageagent/hal"
	"github.com/aefi-io/aefi/internal/stageagent/motion"
	"github.com/aefi-io/aefi/internal/stageagent/server"
	"github.com/aefi-io/aefi/pkg/options"
)

func startAgent(t *testing.T) (*motion.Scheduler, string) {
	t.Helper()

	stage := hal.NewSimStage(hal.SimConfig{Speed: 1e6})
	sched := motion.New(stage, hal.NewSimADC(stage, hal.ADCConfig{Channels: 1}), nil,
		motion.WithPollInterval(5*time.Millisecond),
		motion.WithSettleDelay(0),
		motion.WithScanDefaults(0, 1),
	)
	srv := httptest.NewServer(server.NewHTTPServer(options.NewHttpOptions(), sched, nil).Router(time.Second))
	t.Cleanup(srv.Close)

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
	return sched, srv.URL
}

func runCLI(t *testing.T, url string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--server", url}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestMoveAndStatus(t *testing.T) {
	sched, url := startAgent(t)

	out, err := runCLI(t, url, "move", "1.5", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "move_to queued as")

	require.Eventually(t, func() bool {
		p := sched.CurrentPosition()
		return p.X == 1.5 && p.Y == 2
	}, 2*time.Second, time.Millisecond)

	out, err = runCLI(t, url, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "idle")
	assert.Contains(t, out, "x=1.5000 y=2.0000")
}

func TestStopRejectsUntilReset(t *testing.T) {
	sched, url := startAgent(t)

	_, err := runCLI(t, url, "stop")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return sched.CurrentState() == core.StateStopped }, 2*time.Second, time.Millisecond)

	_, err = runCLI(t, url, "home", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")

	_, err = runCLI(t, url, "reset")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return sched.CurrentState() == core.StateIdle }, 2*time.Second, time.Millisecond)
}

func TestScanRunWaitAndList(t *testing.T) {
	_, url := startAgent(t)

	out, err := runCLI(t, url, "--json", "scan", "run", "--x-max", "1", "--y-max", "1", "--x-points", "3", "--y-points", "2", "--wait")
	require.NoError(t, err)

	var st motion.ScanStatus
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, motion.ScanCompleted, st.Phase)
	assert.Equal(t, 6, st.Progress)

	out, err = runCLI(t, url, "scan", "list")
	require.NoError(t, err)
	assert.Contains(t, out, st.ID)
	assert.Contains(t, out, "6/6")

	_, err = runCLI(t, url, "scan", "archive", st.ID)
	assert.Error(t, err, "archive is disabled")
}

func TestBadInput(t *testing.T) {
	_, url := startAgent(t)

	_, err := runCLI(t, url, "move", "one", "2")
	assert.Error(t, err)

	_, err = runCLI(t, url, "home", "z")
	assert.Error(t, err)

	_, err = runCLI(t, url, "scan", "run", "--x-points", "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "x_nb_points")

	_, err = runCLI(t, url, "scan", "get", "missing")
	assert.Error(t, err)
}

func TestFormatEvent(t *testing.T) {
	payload, err := json.Marshal(core.Event{
		Seq:    7,
		Type:   core.EventPointAcquired,
		ScanID: "abc",
		Point:  &core.GridPoint{Index: 3, X: 1, Y: 0.5},
		Sample: &core.Sample{Values: []float64{0.25}},
	})
	require.NoError(t, err)

	line, err := formatEvent("aefi/v1/events/scan/stage-1", payload, false)
	require.NoError(t, err)
	assert.Contains(t, line, "stage-1 #7")
	assert.Contains(t, line, "scan=abc point=3 (1.0000, 0.5000) values=[0.25]")

	line, err = formatEvent("aefi/v1/events/scan/stage-1", payload, true)
	require.NoError(t, err)
	assert.Equal(t, "stage-1 "+string(payload), line)

	_, err = formatEvent("t/x", []byte("{"), false)
	assert.Error(t, err)
}
