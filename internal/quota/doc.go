// Package quota keeps durable accounting of publishing API quota.
//
// A Ledger charges operations against a daily cap that resets at a configured
// time of day in a configured timezone. Consumption is append-only: the
// budget is always derived from the records inside the active window, so a
// restart loses nothing and a rejected call leaves no trace. Consume performs
// the check and the append as a single conditional statement, serialized
// behind the ledger's mutex.
package quota
