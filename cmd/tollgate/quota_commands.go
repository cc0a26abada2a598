package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tollgate/internal/governor"
	"tollgate/internal/quota"
)

type quotaView struct {
	Channel     string    `json:"channel"`
	Cap         int64     `json:"cap"`
	Used        int64     `json:"used"`
	Remaining   int64     `json:"remaining"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	ResetIn     string    `json:"reset_in"`
}

func newQuotaView(status quota.Status) quotaView {
	return quotaView{
		Channel:     status.Channel,
		Cap:         status.Cap,
		Used:        status.Used,
		Remaining:   status.Remaining,
		WindowStart: status.WindowStart,
		WindowEnd:   status.WindowEnd,
		ResetIn:     status.ResetIn.Round(time.Second).String(),
	}
}

func quotaLines(view quotaView, loc *time.Location, colorize bool) []string {
	usage := fmt.Sprintf("%s %s / %s units", renderUsageBar(view.Used, view.Cap), formatUnits(view.Used), formatUnits(view.Cap))
	return []string{
		renderStatusLine("Quota used", usageKind(view.Used, view.Cap), usage, colorize),
		renderStatusLine("Quota remaining", statusInfo, formatUnits(view.Remaining)+" units", colorize),
		renderStatusLine("Window", statusInfo, formatTime(view.WindowStart, loc)+" to "+formatTime(view.WindowEnd, loc), colorize),
	}
}

func newQuotaCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quota",
		Short: "Inspect and manage the daily quota ledger",
	}
	cmd.AddCommand(newQuotaStatusCommand(ctx))
	cmd.AddCommand(newQuotaHistoryCommand(ctx))
	cmd.AddCommand(newQuotaConsumeCommand(ctx))
	cmd.AddCommand(newQuotaPruneCommand(ctx))
	return cmd
}

func newQuotaStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the active quota window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withGovernor(cmd, false, func(runCtx context.Context, g *governor.Governor) error {
				status, err := g.Ledger().Peek(runCtx)
				if err != nil {
					return err
				}
				view := newQuotaView(status)
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), view)
				}
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				lines := quotaLines(view, g.Ledger().Settings().Location, colorize)
				lines = append(lines, renderStatusLine("Resets in", statusInfo, formatDuration(status.ResetIn), colorize))
				fmt.Fprintln(out, strings.Join(lines, "\n"))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit JSON instead of text")
	return cmd
}

func newQuotaHistoryCommand(ctx *commandContext) *cobra.Command {
	var days int
	var showRecords bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show per-window quota usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			if days <= 0 {
				return fmt.Errorf("--days must be positive")
			}
			return ctx.withGovernor(cmd, false, func(runCtx context.Context, g *governor.Governor) error {
				ledger := g.Ledger()
				usage, err := ledger.DailyUsage(runCtx, days)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				rows := make([][]string, 0, len(usage))
				for _, day := range usage {
					rows = append(rows, []string{
						day.Date,
						formatUnits(day.Used),
						formatUnits(day.Cap),
						strconv.Itoa(day.Operations),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]column{label("Window"), num("Used"), num("Cap"), num("Operations")},
					rows,
				))
				if !showRecords {
					return nil
				}

				start, _ := ledger.Window()
				records, err := ledger.History(runCtx, start.AddDate(0, 0, -(days-1)))
				if err != nil {
					return err
				}
				if len(records) == 0 {
					fmt.Fprintln(out, "No ledger records")
					return nil
				}
				loc := ledger.Settings().Location
				recordRows := make([][]string, 0, len(records))
				for _, rec := range records {
					note := ""
					if rec.RefID != "" {
						note = "refund of " + shortID(rec.RefID)
					}
					recordRows = append(recordRows, []string{
						formatTime(rec.RecordedAt, loc),
						rec.Operation,
						formatUnits(rec.Cost),
						shortID(rec.ID),
						note,
					})
				}
				fmt.Fprintln(out, renderTable(
					[]column{label("Recorded"), label("Operation"), num("Cost"), label("ID"), label("Note")},
					recordRows,
				))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "Number of windows to show")
	cmd.Flags().BoolVar(&showRecords, "records", false, "Also list individual ledger records")
	return cmd
}

func newQuotaConsumeCommand(ctx *commandContext) *cobra.Command {
	var operation string
	var cost int64

	cmd := &cobra.Command{
		Use:   "consume",
		Short: "Record a charge made outside the governor",
		Long: "Record quota spent by a tool that talks to the publishing API directly.\n" +
			"The configured cost for --op is used unless --cost is given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(operation) == "" {
				return fmt.Errorf("--op is required")
			}
			return ctx.withGovernor(cmd, true, func(runCtx context.Context, g *governor.Governor) error {
				ledger := g.Ledger()
				charge := ledger.Cost(operation)
				if cmd.Flags().Changed("cost") {
					charge = cost
				}
				rec, err := ledger.Consume(runCtx, operation, charge)
				if exceeded, ok := quota.IsExceeded(err); ok {
					return fmt.Errorf("%w (remaining %s, resets %s)", err,
						formatUnits(exceeded.Remaining()), formatTime(exceeded.ResetAt, ledger.Settings().Location))
				}
				if err != nil {
					return err
				}
				status, err := ledger.Peek(runCtx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Recorded %s units for %s (record %s); %s remaining\n",
					formatUnits(rec.Cost), rec.Operation, shortID(rec.ID), formatUnits(status.Remaining))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&operation, "op", "", "Operation kind (upload, update, comment, ...)")
	cmd.Flags().Int64Var(&cost, "cost", 0, "Override the configured cost")
	return cmd
}

func newQuotaPruneCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Delete ledger records older than quota.retention_days",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withGovernor(cmd, true, func(runCtx context.Context, g *governor.Governor) error {
				removed, err := g.Ledger().Prune(runCtx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d ledger records\n", removed)
				return nil
			})
		},
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
