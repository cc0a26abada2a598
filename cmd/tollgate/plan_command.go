package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"tollgate/internal/assets"
	"tollgate/internal/governor"
	"tollgate/internal/logging"
	"tollgate/internal/notifications"
	"tollgate/internal/preflight"
)

type planOutput struct {
	Passed         bool             `json:"passed"`
	InputSegments  int              `json:"input_segments"`
	Segments       int              `json:"segments"`
	KeyRequired    int              `json:"key_required"`
	FillerRequired int              `json:"filler_required"`
	Recommended    int              `json:"recommended"`
	Duration       float64          `json:"duration_seconds"`
	PacingIssues   []string         `json:"pacing_issues,omitempty"`
	Shortfall      int              `json:"shortfall,omitempty"`
	ExcludedRecent int              `json:"excluded_recent,omitempty"`
	RunID          string           `json:"run_id,omitempty"`
	Error          string           `json:"error,omitempty"`
	Timeline       []planAssignment `json:"timeline,omitempty"`
}

type planAssignment struct {
	Segment  int     `json:"segment"`
	AssetID  string  `json:"asset_id"`
	Category string  `json:"category"`
	Start    float64 `json:"start_seconds"`
	Duration float64 `json:"duration_seconds"`
}

func newPlanCommand(ctx *commandContext) *cobra.Command {
	var (
		jsonOutput bool
		record     bool
		allowReuse bool
	)

	cmd := &cobra.Command{
		Use:   "plan <manifest>",
		Short: "Run the pre-flight gate on a segment manifest",
		Long: "Optimize segment pacing, size the asset budget, and allocate the\n" +
			"manifest's asset pool. Assets used by earlier recorded runs inside\n" +
			"scenes.reuse_horizon_days are left out of the pool unless --allow-reuse\n" +
			"is given. Exits non-zero when the pool is insufficient.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			plan, err := preflight.LoadManifest(args[0])
			if err != nil {
				return err
			}

			return ctx.withGovernor(cmd, record, func(runCtx context.Context, g *governor.Governor) error {
				history := g.History()
				if !allowReuse {
					if plan.RecentlyUsed, err = history.Recent(runCtx); err != nil {
						return err
					}
				}

				report, runErr := preflight.Run(runCtx, plan, preflight.SettingsFromConfig(cfg), ctx.loggerFor(cfg))
				var insufficient *assets.InsufficientError
				if runErr != nil && !errors.As(runErr, &insufficient) {
					return runErr
				}
				if insufficient != nil {
					notifyShortfall(cmd, ctx, insufficient)
				}

				output := newPlanOutput(report, runErr, insufficient)
				if runErr == nil && record && history.Enabled() {
					output.RunID = uuid.NewString()
					if err := history.Record(runCtx, output.RunID, report.Timeline); err != nil {
						return err
					}
				}
				if jsonOutput {
					if err := printJSON(cmd.OutOrStdout(), output); err != nil {
						return err
					}
				} else {
					renderPlan(cmd, output)
				}
				return runErr
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit JSON instead of text")
	cmd.Flags().BoolVar(&record, "record", false, "Remember the allocated assets so later runs avoid them")
	cmd.Flags().BoolVar(&allowReuse, "allow-reuse", false, "Ignore asset usage history")
	return cmd
}

func notifyShortfall(cmd *cobra.Command, ctx *commandContext, insufficient *assets.InsufficientError) {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return
	}
	err = notifications.NewService(cfg).Publish(cmd.Context(), notifications.EventAssetsInsufficient, notifications.Payload{
		"channel":   cfg.Channel.Name,
		"required":  insufficient.Required(),
		"available": insufficient.Available(),
		"shortfall": insufficient.Shortfall(),
	})
	if err != nil {
		logging.WarnWithContext(ctx.loggerFor(cfg), "notification failed", "notification_failed",
			logging.String("event", string(notifications.EventAssetsInsufficient)),
			logging.Error(err),
			logging.String(logging.FieldImpact, "operator was not alerted"),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
		)
	}
}

func newPlanOutput(report preflight.Report, runErr error, insufficient *assets.InsufficientError) planOutput {
	output := planOutput{
		Passed:         runErr == nil,
		InputSegments:  report.InputSegments,
		Segments:       len(report.Segments),
		KeyRequired:    report.Requirement.Key,
		FillerRequired: report.Requirement.Filler,
		Recommended:    report.Recommended,
		Duration:       report.Pacing.Total.Seconds(),
		PacingIssues:   report.Pacing.Issues,
		ExcludedRecent: report.Excluded,
	}
	if runErr != nil {
		output.Error = runErr.Error()
	}
	if insufficient != nil {
		output.Shortfall = insufficient.Shortfall()
	}
	for _, a := range report.Timeline.Assignments {
		output.Timeline = append(output.Timeline, planAssignment{
			Segment:  a.SegmentIndex,
			AssetID:  a.AssetID,
			Category: string(a.Category),
			Start:    a.Start.Seconds(),
			Duration: a.Duration.Seconds(),
		})
	}
	return output
}

func renderPlan(cmd *cobra.Command, output planOutput) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)
	var lines []string
	lines = append(lines, renderSectionHeader("Pre-flight", colorize)...)
	lines = append(lines,
		renderStatusLine("Segments", statusInfo, fmt.Sprintf("%d in, %d after pacing", output.InputSegments, output.Segments), colorize),
		renderStatusLine("Required", statusInfo, fmt.Sprintf("%d key, %d filler", output.KeyRequired, output.FillerRequired), colorize),
		renderStatusLine("Recommended", statusInfo, fmt.Sprintf("%d assets", output.Recommended), colorize),
	)
	if len(output.PacingIssues) == 0 {
		lines = append(lines, renderStatusLine("Pacing", statusOK, "", colorize))
	}
	for _, issue := range output.PacingIssues {
		lines = append(lines, renderStatusLine("Pacing", statusWarn, issue, colorize))
	}
	if output.ExcludedRecent > 0 {
		lines = append(lines, renderStatusLine("History", statusInfo, fmt.Sprintf("%d recently used assets excluded", output.ExcludedRecent), colorize))
	}
	if !output.Passed {
		lines = append(lines, renderStatusLine("Assets", statusError, output.Error, colorize))
		fmt.Fprintln(out, strings.Join(lines, "\n"))
		return
	}
	lines = append(lines, renderStatusLine("Assets", statusOK, "timeline "+formatSeconds(time.Duration(output.Duration*float64(time.Second))), colorize))
	if output.RunID != "" {
		lines = append(lines, renderStatusLine("Recorded", statusInfo, "usage saved as run "+shortID(output.RunID), colorize))
	}
	fmt.Fprintln(out, strings.Join(lines, "\n"))

	rows := make([][]string, 0, len(output.Timeline))
	for _, a := range output.Timeline {
		rows = append(rows, []string{
			strconv.Itoa(a.Segment),
			a.AssetID,
			a.Category,
			fmt.Sprintf("%.3f", a.Start),
			fmt.Sprintf("%.3f", a.Duration),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]column{num("#"), label("Asset"), label("Category"), num("Start"), num("Duration")},
		rows,
	))
}
