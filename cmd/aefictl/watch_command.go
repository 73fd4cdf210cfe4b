package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/aefi-io/aefi/internal/pkg/mqtt/paths"
	"github.com/aefi-io/aefi/internal/stageagent/core"
	"github.com/aefi-io/aefi/pkg/mqtt"
	mqtttopic "github.com/aefi-io/aefi/pkg/mqtt/topic"
)

type watchFlags struct {
	broker    string
	username  string
	password  string
	topicRoot string
	axis      string
	scansOnly bool
}

func newWatchCommand(ctx *commandContext) *cobra.Command {
	wf := &watchFlags{}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream agent events from the MQTT broker until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWatch(sigCtx, cmd.OutOrStdout(), ctx.json, wf)
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&wf.broker, "broker", "tcp://localhost:1883", "MQTT broker the agents publish to")
	fs.StringVar(&wf.username, "username", "", "MQTT username")
	fs.StringVar(&wf.password, "password", "", "MQTT password")
	fs.StringVar(&wf.topicRoot, "topic-root", "aefi/v1", "Topic namespace of the agents")
	fs.StringVar(&wf.axis, "axis", mqtttopic.Wildcard, "Only show events of this axis")
	fs.BoolVar(&wf.scansOnly, "scans-only", false, "Skip motion events")
	return cmd
}

func runWatch(ctx context.Context, w io.Writer, raw bool, wf *watchFlags) error {
	client, err := mqtt.NewClient(&mqtt.ClientConfig{
		BrokerURL: wf.broker,
		ClientID:  "aefictl-" + uuid.NewString()[:8],
		Username:  wf.username,
		Password:  wf.password,
	})
	if err != nil {
		return err
	}
	if err := client.Start(ctx); err != nil {
		return err
	}
	defer func() {
		dctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		client.Disconnect(dctx)
	}()

	if err := client.AwaitConnection(ctx); err != nil {
		return fmt.Errorf("connect %s: %w", wf.broker, err)
	}

	topics := mqtttopic.NewBuilder(wf.topicRoot)
	segments := []string{paths.ScanEvents}
	if !wf.scansOnly {
		segments = append(segments, paths.MotionEvents)
	}

	lines := make(chan string, 64)
	handler := func(_ context.Context, topic string, payload []byte) {
		line, err := formatEvent(topic, payload, raw)
		if err != nil {
			line = fmt.Sprintf("%s: undecodable payload: %v", topic, err)
		}
		select {
		case lines <- line:
		default:
		}
	}
	for _, seg := range segments {
		if err := client.Subscribe(ctx, topics.Build(seg, wf.axis), 1, handler); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case line := <-lines:
			fmt.Fprintln(w, line)
		}
	}
}

// formatEvent renders one event as a single line, prefixed by the axis the
// topic belongs to.
func formatEvent(topic string, payload []byte, raw bool) (string, error) {
	axis := topic[strings.LastIndex(topic, "/")+1:]
	if raw {
		return axis + " " + string(payload), nil
	}

	var e core.Event
	if err := json.Unmarshal(payload, &e); err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s #%d %s", e.Time.Local().Format("15:04:05.000"), axis, e.Seq, e.Type)
	if e.ScanID != "" {
		fmt.Fprintf(&b, " scan=%s", e.ScanID)
	}
	if e.Point != nil {
		fmt.Fprintf(&b, " point=%d (%s, %s)", e.Point.Index, formatMM(e.Point.X), formatMM(e.Point.Y))
	}
	if e.Sample != nil {
		fmt.Fprintf(&b, " values=%v", e.Sample.Values)
	}
	if e.Total > 0 {
		fmt.Fprintf(&b, " total=%d", e.Total)
	}
	if e.Count > 0 {
		fmt.Fprintf(&b, " count=%d", e.Count)
	}
	if e.Reason != "" {
		fmt.Fprintf(&b, " reason=%q", e.Reason)
	}
	return b.String(), nil
}
