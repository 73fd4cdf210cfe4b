package main

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/aefi-io/aefi/internal/stageagent/core"
	"github.com/aefi-io/aefi/internal/stageagent/motion"
	"github.com/aefi-io/aefi/internal/stageagent/server"
)

const waitPollInterval = 200 * time.Millisecond

func newScanCommand(ctx *commandContext) *cobra.Command {
	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Run and inspect grid scans",
	}
	scanCmd.AddCommand(newScanRunCommand(ctx))
	scanCmd.AddCommand(newScanListCommand(ctx))
	scanCmd.AddCommand(newScanGetCommand(ctx))
	scanCmd.AddCommand(newScanArchiveCommand(ctx))
	return scanCmd
}

func newScanRunCommand(ctx *commandContext) *cobra.Command {
	var (
		req     server.ScanRequest
		pattern string
		acquire string
		mode    string
		wait    bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Submit a grid scan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Pattern = core.Pattern(pattern)
			req.AcquireMode = core.AcquireMode(acquire)
			req.Mode = core.ScanMode(mode)

			var st motion.ScanStatus
			if err := ctx.client().do(cmd.Context(), http.MethodPost, "/v1/scans", req, &st); err != nil {
				return err
			}
			if !wait {
				return printScan(cmd, ctx, st)
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "scan %s submitted, %d points\n", st.ID, st.Total)
			final, err := waitScan(cmd, ctx, st.ID)
			if err != nil {
				return err
			}
			if err := printScan(cmd, ctx, final); err != nil {
				return err
			}
			if final.Phase != motion.ScanCompleted {
				return fmt.Errorf("scan %s %s: %s", final.ID, final.Phase, final.Error)
			}
			return nil
		},
	}

	fs := cmd.Flags()
	fs.Float64Var(&req.XMin, "x-min", 0, "First column, mm")
	fs.Float64Var(&req.XMax, "x-max", 0, "Last column, mm")
	fs.Float64Var(&req.YMin, "y-min", 0, "First row, mm")
	fs.Float64Var(&req.YMax, "y-max", 0, "Last row, mm")
	fs.IntVar(&req.XPoints, "x-points", 2, "Columns in the grid, at least 2")
	fs.IntVar(&req.YPoints, "y-points", 2, "Rows in the grid, at least 2")
	fs.StringVar(&pattern, "pattern", "", "serpentine or raster (default serpentine)")
	fs.StringVar(&acquire, "acquire", "", "bidirectional or unidirectional (default bidirectional)")
	fs.StringVar(&mode, "mode", "", "step or fly (default step)")
	fs.Float64Var(&req.StabilizationDelayMs, "stabilization-ms", 0, "Step scan dwell before each acquisition, ms")
	fs.IntVar(&req.Averaging, "averaging", 0, "Step scan samples averaged per point")
	fs.Float64Var(&req.Speed, "speed", 0, "Fly scan speed, mm/s")
	fs.Float64Var(&req.AcquisitionRateHz, "rate", 0, "Fly scan acquisition rate, Hz")
	fs.Float64Var(&req.MaxSpatialGap, "max-gap", 0, "Fly scan largest allowed distance between samples, mm")
	fs.BoolVarP(&wait, "wait", "w", false, "Follow the scan until it finishes")

	return cmd
}

func waitScan(cmd *cobra.Command, ctx *commandContext, id string) (motion.ScanStatus, error) {
	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()

	last := -1
	for {
		var st motion.ScanStatus
		if err := ctx.client().do(cmd.Context(), http.MethodGet, "/v1/scans/"+id, nil, &st); err != nil {
			return st, err
		}
		if st.Progress != last {
			fmt.Fprintf(cmd.ErrOrStderr(), "  %d/%d\n", st.Progress, st.Total)
			last = st.Progress
		}
		switch st.Phase {
		case motion.ScanCompleted, motion.ScanCancelled, motion.ScanFailed:
			return st, nil
		}

		select {
		case <-cmd.Context().Done():
			return st, cmd.Context().Err()
		case <-ticker.C:
		}
	}
}

func newScanListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the scans the agent still remembers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var list []motion.ScanStatus
			if err := ctx.client().do(cmd.Context(), http.MethodGet, "/v1/scans", nil, &list); err != nil {
				return err
			}
			if ctx.json {
				return writeJSON(cmd, list)
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No scans")
				return nil
			}

			t := newTable()
			t.AddRow("ID", "PHASE", "PROGRESS", "SUBMITTED")
			for _, st := range list {
				t.AddRow(st.ID, st.Phase, fmt.Sprintf("%d/%d", st.Progress, st.Total), st.Submitted.Local().Format(time.DateTime))
			}
			printTable(cmd, t)
			return nil
		},
	}
}

func newScanGetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "get ID",
		Short: "Show the status of one scan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var st motion.ScanStatus
			if err := ctx.client().do(cmd.Context(), http.MethodGet, "/v1/scans/"+args[0], nil, &st); err != nil {
				return err
			}
			return printScan(cmd, ctx, st)
		},
	}
}

func newScanArchiveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "archive ID",
		Short: "Print a download link for an archived scan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := ctx.client()
			c.http.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }

			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, c.base+"/v1/scans/"+args[0]+"/archive", nil)
			if err != nil {
				return err
			}
			resp, err := c.http.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			loc := resp.Header.Get("Location")
			if resp.StatusCode != http.StatusTemporaryRedirect || loc == "" {
				return errors.New("no archive link: " + resp.Status)
			}
			fmt.Fprintln(cmd.OutOrStdout(), loc)
			return nil
		},
	}
}

func printScan(cmd *cobra.Command, ctx *commandContext, st motion.ScanStatus) error {
	if ctx.json {
		return writeJSON(cmd, st)
	}

	t := newTable()
	t.AddRow("ID:", st.ID)
	t.AddRow("PHASE:", st.Phase)
	t.AddRow("PROGRESS:", fmt.Sprintf("%d/%d", st.Progress, st.Total))
	t.AddRow("GRID:", fmt.Sprintf("x %s..%s (%d) y %s..%s (%d)",
		formatMM(st.Config.XMin), formatMM(st.Config.XMax), st.Config.XPoints,
		formatMM(st.Config.YMin), formatMM(st.Config.YMax), st.Config.YPoints))
	t.AddRow("MODE:", fmt.Sprintf("%s %s %s", st.Config.Mode, st.Config.Pattern, st.Config.AcquireMode))
	if st.Error != "" {
		t.AddRow("ERROR:", st.Error)
	}
	printTable(cmd, t)
	return nil
}
