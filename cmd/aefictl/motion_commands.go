package main

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/aefi-io/aefi/internal/stageagent/server"
)

func newMotionCommands(ctx *commandContext) []*cobra.Command {
	move := &cobra.Command{
		Use:   "move X Y",
		Short: "Queue an absolute move, in mm",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			x, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return fmt.Errorf("x: %w", err)
			}
			y, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("y: %w", err)
			}
			return submit(cmd, ctx, server.CommandRequest{Kind: "move_to", X: &x, Y: &y})
		},
	}

	home := &cobra.Command{
		Use:       "home [x|y|all]",
		Short:     "Queue a homing sequence",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"x", "y", "all"},
		RunE: func(cmd *cobra.Command, args []string) error {
			axis := "all"
			if len(args) == 1 {
				axis = args[0]
			}
			return submit(cmd, ctx, server.CommandRequest{Kind: "home", Axis: axis})
		},
	}

	stop := &cobra.Command{
		Use:   "stop",
		Short: "Halt the stage now and drop every queued command",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var ack server.CommandResponse
			if err := ctx.client().do(cmd.Context(), http.MethodPost, "/v1/stop", nil, &ack); err != nil {
				return err
			}
			return printAck(cmd, ctx, ack)
		},
	}

	reset := &cobra.Command{
		Use:   "reset",
		Short: "Leave the stopped state so commands are accepted again",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return submit(cmd, ctx, server.CommandRequest{Kind: "reset"})
		},
	}

	var speed float64
	configure := &cobra.Command{
		Use:   "configure",
		Short: "Change the stage motion settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return submit(cmd, ctx, server.CommandRequest{Kind: "configure", Speed: speed})
		},
	}
	configure.Flags().Float64Var(&speed, "speed", 0, "Stage speed in mm/s")
	_ = configure.MarkFlagRequired("speed")

	return []*cobra.Command{move, home, stop, reset, configure}
}

func submit(cmd *cobra.Command, ctx *commandContext, req server.CommandRequest) error {
	var ack server.CommandResponse
	if err := ctx.client().do(cmd.Context(), http.MethodPost, "/v1/commands", req, &ack); err != nil {
		return err
	}
	return printAck(cmd, ctx, ack)
}

func printAck(cmd *cobra.Command, ctx *commandContext, ack server.CommandResponse) error {
	if ctx.json {
		return writeJSON(cmd, ack)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s queued as %s\n", ack.Kind, ack.ID)
	return nil
}
