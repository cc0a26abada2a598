package preflight

import (
	"context"
	"log/slog"
	"time"

	"tollgate/internal/assets"
	"tollgate/internal/config"
	"tollgate/internal/logging"
	"tollgate/internal/scenes"
	"tollgate/internal/services"
)

// Result reports the outcome of a single environment check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable environment checks for the given config.
// The publisher check is skipped when no endpoint is configured.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
	}
	if cfg.Paths.StagingDir != "" {
		results = append(results,
			CheckDirectoryAccess("Staging directory", cfg.Paths.StagingDir),
			CheckFreeSpace("Staging free space", cfg.Paths.StagingDir, cfg.Preflight.MinFreeGB),
		)
	}
	if cfg.Publisher.BaseURL != "" {
		results = append(results, CheckPublisher(ctx, cfg))
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}

// Plan is one pipeline run's pre-flight input.
type Plan struct {
	Segments []scenes.Segment
	Pool     assets.Pool
	// RecentlyUsed holds asset ids earlier runs placed on screen. They are
	// removed from Pool before the budget check.
	RecentlyUsed map[string]struct{}
}

// Settings holds the pacing and allocation knobs.
type Settings struct {
	MaxHold      time.Duration
	Selection    assets.KeySelection
	MinGap       int
	SafetyBuffer float64
}

// SettingsFromConfig reads the [scenes] section.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		MaxHold:      cfg.MaxHold(),
		Selection:    assets.SelectionFromConfig(cfg),
		MinGap:       cfg.Scenes.MinReuseGap,
		SafetyBuffer: cfg.Scenes.SafetyBuffer,
	}
}

// Report is what the gate learned about a plan. Requirement and Pacing are
// filled even when allocation fails so callers can print the shortfall.
type Report struct {
	InputSegments int
	Segments      []scenes.Segment
	Requirement   assets.Requirement
	// Recommended is the buffered asset count to request from content
	// services when the pool has to be regenerated.
	Recommended int
	Pacing      scenes.PacingReport
	// Excluded counts distinct pool ids dropped as recently used.
	Excluded int
	Timeline assets.Timeline
}

// Run optimizes the plan's segments, sizes the asset budget against the
// optimized count, and allocates the pool.
func Run(ctx context.Context, plan Plan, settings Settings, logger *slog.Logger) (Report, error) {
	logger = logging.WithContext(ctx, logging.NewComponentLogger(logger, "preflight"))
	if err := ctx.Err(); err != nil {
		return Report{}, services.Wrap(services.ErrCancelled, "preflight", "run", "aborted", err)
	}

	optimized, err := scenes.Optimize(plan.Segments, settings.MaxHold)
	if err != nil {
		return Report{}, err
	}
	report := Report{
		InputSegments: len(plan.Segments),
		Segments:      optimized,
		Requirement:   assets.Required(len(optimized), settings.Selection),
		Pacing:        scenes.AnalyzePacing(optimized, settings.MaxHold),
	}
	report.Recommended = report.Requirement.Buffered(settings.SafetyBuffer)
	for _, issue := range report.Pacing.Issues {
		logger.Debug("pacing issue", logging.String("issue", issue))
	}

	pool := plan.Pool.Without(plan.RecentlyUsed)
	report.Excluded = poolSize(plan.Pool) - poolSize(pool)
	if report.Excluded > 0 {
		logger.Debug("recently used assets excluded", logging.Int("excluded", report.Excluded))
	}

	timeline, err := assets.Allocate(optimized, pool, settings.MinGap, settings.Selection)
	if err != nil {
		logging.WarnWithContext(logger, "pre-flight allocation failed", "preflight_insufficient_assets",
			logging.Int("segments", len(optimized)),
			logging.Int("key_required", report.Requirement.Key),
			logging.Int("filler_required", report.Requirement.Filler),
			logging.Int("recommended", report.Recommended),
			logging.Int("excluded_recent", report.Excluded),
			logging.Error(err),
			logging.String(logging.FieldImpact, "rendering skipped for this run"),
			logging.String(logging.FieldErrorHint, "generate more assets or lower scenes.min_reuse_gap"),
		)
		return report, err
	}
	report.Timeline = timeline
	logger.Info("pre-flight passed",
		logging.String(logging.FieldEventType, "preflight_passed"),
		logging.Int("input_segments", report.InputSegments),
		logging.Int("segments", len(optimized)),
		logging.Int("key_required", report.Requirement.Key),
		logging.Int("filler_required", report.Requirement.Filler),
		logging.Duration("duration", timeline.Duration()),
	)
	return report, nil
}

func poolSize(p assets.Pool) int {
	key, filler := p.Available()
	return len(key) + len(filler)
}
