package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/aefi-io/aefi/internal/stageagent/core"
	"github.com/aefi-io/aefi/internal/stageagent/server"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show worker state, queue depths and stage position",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := ctx.client()

			var st server.StateResponse
			if err := c.do(cmd.Context(), http.MethodGet, "/v1/state", nil, &st); err != nil {
				return err
			}
			var pos core.Position
			if err := c.do(cmd.Context(), http.MethodGet, "/v1/position", nil, &pos); err != nil {
				return err
			}

			if ctx.json {
				return writeJSON(cmd, struct {
					server.StateResponse
					Position core.Position `json:"position"`
				}{st, pos})
			}

			active := st.ActiveScan
			if active == "" {
				active = "-"
			}

			t := newTable()
			t.AddRow("STATE:", st.State)
			t.AddRow("GATE:", st.Gate)
			t.AddRow("RUNNING:", st.Running)
			t.AddRow("POSITION:", fmt.Sprintf("x=%s y=%s", formatMM(pos.X), formatMM(pos.Y)))
			t.AddRow("QUEUED:", fmt.Sprintf("priority=%d normal=%d", st.PriorityDepth, st.NormalDepth))
			t.AddRow("ACTIVE SCAN:", active)
			t.AddRow("POLL INTERVAL:", time.Duration(st.PollIntervalMs)*time.Millisecond)
			printTable(cmd, t)
			return nil
		},
	}
}
