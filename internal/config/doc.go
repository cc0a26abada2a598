// Package config loads, normalizes, and validates tollgate configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// TOLLGATE_PUBLISHER_API_KEY. The Config type centralizes every governance
// knob (quota cap and reset anchor, breaker threshold, retry policy, scene
// pacing and asset reuse gap) so the ledger, breaker, and pre-flight gate are
// tuned from one place.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
