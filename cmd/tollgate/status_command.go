package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"tollgate/internal/governor"
	"tollgate/internal/preflight"
)

type statusReport struct {
	Channel string           `json:"channel"`
	Quota   quotaView        `json:"quota"`
	Breaker breakerView      `json:"breaker"`
	Checks  []preflightCheck `json:"checks"`
}

type preflightCheck struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show quota, breaker and environment status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			var report statusReport
			err = ctx.withGovernor(cmd, false, func(runCtx context.Context, g *governor.Governor) error {
				health, err := g.Snapshot(runCtx)
				if err != nil {
					return err
				}
				report.Channel = health.Channel
				report.Quota = newQuotaView(health.Quota)
				report.Breaker = newBreakerView(health)
				return nil
			})
			if err != nil {
				return err
			}
			for _, result := range preflight.RunAll(cmd.Context(), cfg) {
				report.Checks = append(report.Checks, preflightCheck{
					Name:   result.Name,
					Passed: result.Passed,
					Detail: result.Detail,
				})
			}

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), report)
			}

			loc, _ := cfg.Location()
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			var lines []string
			lines = append(lines, renderSectionHeader("Channel "+report.Channel, colorize)...)
			lines = append(lines, quotaLines(report.Quota, loc, colorize)...)
			lines = append(lines, breakerLines(report.Breaker, loc, colorize)...)
			lines = append(lines, "")
			lines = append(lines, renderSectionHeader("Environment", colorize)...)
			for _, check := range report.Checks {
				kind := statusOK
				if !check.Passed {
					kind = statusError
				}
				lines = append(lines, renderStatusLine(check.Name, kind, check.Detail, colorize))
			}
			fmt.Fprintln(out, strings.Join(lines, "\n"))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit JSON instead of text")
	return cmd
}
