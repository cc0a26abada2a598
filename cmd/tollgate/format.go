package main

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"tollgate/internal/breaker"
)

var (
	unitPrinter = message.NewPrinter(language.English)
	titleCaser  = cases.Title(language.Und)
)

// formatUnits renders a quota amount with thousands separators.
func formatUnits(value int64) string {
	return unitPrinter.Sprintf("%d", value)
}

func formatBreakerState(state breaker.State) string {
	return titleCaser.String(strings.ReplaceAll(string(state), "_", " "))
}

func breakerKind(state breaker.State) statusKind {
	switch state {
	case breaker.Open:
		return statusError
	case breaker.HalfOpen:
		return statusWarn
	default:
		return statusOK
	}
}

func formatTime(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return "-"
	}
	if loc != nil {
		t = t.In(loc)
	}
	return t.Format("2006-01-02 15:04:05 MST")
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	if d < time.Minute {
		return d.Round(time.Millisecond).String()
	}
	d = d.Round(time.Second)
	hours := int(d / time.Hour)
	minutes := int(d % time.Hour / time.Minute)
	seconds := int(d % time.Minute / time.Second)
	if hours > 0 {
		return fmt.Sprintf("%dh%02dm", hours, minutes)
	}
	return fmt.Sprintf("%dm%02ds", minutes, seconds)
}

// formatSeconds renders a media duration as seconds with millisecond precision.
func formatSeconds(d time.Duration) string {
	return fmt.Sprintf("%.3fs", d.Seconds())
}
