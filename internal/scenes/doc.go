// Package scenes enforces the maximum on-screen hold for a single visual.
//
// Durations are time.Duration values so splitting is exact integer
// arithmetic: a long segment becomes ceil(d/maxHold) parts whose lengths
// differ by at most one nanosecond and sum to d.
package scenes
