// Package maintenance runs the housekeeping jobs that keep the governance
// database and log directory bounded: ledger records older than the quota
// retention are pruned, and log files past the logging retention are removed.
//
// Jobs run on the cron schedule from quota.prune_schedule, evaluated in the
// quota timezone. RunOnce performs the same work synchronously for the CLI.
package maintenance
