package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tollgate/internal/breaker"
	"tollgate/internal/governor"
)

type breakerView struct {
	Resource string        `json:"resource"`
	State    breaker.State `json:"state"`
	Failures int           `json:"failures"`
	OpenedAt *time.Time    `json:"opened_at,omitempty"`
	RetryAt  *time.Time    `json:"retry_at,omitempty"`
}

func newBreakerView(health governor.Health) breakerView {
	view := breakerView{
		Resource: governor.ResourceName(health.Channel),
		State:    health.Breaker.State,
		Failures: health.Breaker.Failures,
	}
	if !health.Breaker.OpenedAt.IsZero() {
		opened := health.Breaker.OpenedAt
		view.OpenedAt = &opened
	}
	if !health.RetryAt.IsZero() {
		retryAt := health.RetryAt
		view.RetryAt = &retryAt
	}
	return view
}

func breakerLines(view breakerView, loc *time.Location, colorize bool) []string {
	message := formatBreakerState(view.State)
	if view.Failures > 0 {
		message += fmt.Sprintf(" (%d consecutive failures)", view.Failures)
	}
	lines := []string{renderStatusLine("Breaker", breakerKind(view.State), message, colorize)}
	if view.RetryAt != nil {
		lines = append(lines, renderStatusLine("Probe allowed at", statusInfo, formatTime(*view.RetryAt, loc), colorize))
	}
	return lines
}

func newBreakerCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "breaker",
		Short: "Inspect or reset the publishing circuit breaker",
	}
	cmd.AddCommand(newBreakerStatusCommand(ctx))
	cmd.AddCommand(newBreakerResetCommand(ctx))
	return cmd
}

func newBreakerStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show breaker state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withGovernor(cmd, false, func(runCtx context.Context, g *governor.Governor) error {
				health, err := g.Snapshot(runCtx)
				if err != nil {
					return err
				}
				view := newBreakerView(health)
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), view)
				}
				out := cmd.OutOrStdout()
				lines := breakerLines(view, g.Ledger().Settings().Location, shouldColorize(out))
				fmt.Fprintln(out, strings.Join(lines, "\n"))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit JSON instead of text")
	return cmd
}

func newBreakerResetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Force the breaker closed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withGovernor(cmd, true, func(runCtx context.Context, g *governor.Governor) error {
				before := g.Breaker().Snapshot()
				if err := g.Breaker().Reset(runCtx); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Breaker %s reset (was %s)\n",
					g.Breaker().Resource(), formatBreakerState(before.State))
				return nil
			})
		},
	}
}
