// Package preflight is the gate a pipeline run passes before it commits to
// rendering.
//
// Run takes the raw segment list and the asset pool for one run and executes
// the scene optimizer, the asset budget calculator and the allocation
// validator in that order. Either a complete timeline comes back or the run
// fails with an InsufficientAssets error before any rendering cost is paid.
//
// RunAll covers the environment: the data and staging directories must be
// writable, the staging volume needs the configured free space, and the
// publishing API must accept the configured key. The CLI "tollgate status"
// command uses the individual check functions to display health.
package preflight
