package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tollgate/internal/governor"
	"tollgate/internal/maintenance"
)

func newMaintainCommand(ctx *commandContext) *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "maintain",
		Short: "Prune the ledger and old logs on quota.prune_schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return ctx.withGovernor(cmd, true, func(runCtx context.Context, g *governor.Governor) error {
				svc, err := maintenance.New(cfg, g.Ledger(), ctx.loggerFor(cfg), maintenance.WithUsageHistory(g.History()))
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if once {
					summary, err := svc.RunOnce(runCtx)
					fmt.Fprintf(out, "Pruned %d ledger records and %d asset usage rows, removed %d log files\n",
						summary.RecordsPruned, summary.UsagePruned, summary.LogsRemoved)
					return err
				}

				signalCtx, stop := signal.NotifyContext(runCtx, syscall.SIGINT, syscall.SIGTERM)
				defer stop()
				if err := svc.Start(signalCtx); err != nil {
					return err
				}
				loc, _ := cfg.Location()
				fmt.Fprintf(out, "Maintenance scheduled (%s); next run %s\n",
					cfg.Quota.PruneSchedule, formatTime(svc.Next(time.Now()), loc))
				<-signalCtx.Done()
				svc.Stop()
				fmt.Fprintln(out, "Maintenance stopped")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "Run a single pass and exit")
	return cmd
}
