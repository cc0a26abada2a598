// Package assets sizes and assigns the visual asset pool for a timeline.
//
// Required marks the leading, middle and trailing windows of an optimized
// segment sequence as key segments and the rest as filler. Allocate checks the
// pool against that requirement and then assigns assets in index order,
// round-robin per category, never reusing an asset within the minimum reuse
// gap. Allocate either returns a complete Timeline or an *InsufficientError;
// partial assignments are never returned.
package assets
