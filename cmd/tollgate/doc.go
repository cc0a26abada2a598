// Command tollgate inspects and operates the resource governance state of a
// publishing channel.
//
// Commands:
//
//	tollgate status                    quota, breaker and environment summary
//	tollgate quota status|history      read the quota ledger
//	tollgate quota consume --op KIND   record a charge made outside the governor
//	tollgate quota prune               drop ledger records past retention
//	tollgate breaker status|reset      inspect or force-close the circuit
//	tollgate publish --op KIND         send one governed operation
//	tollgate plan MANIFEST             run the pre-flight gate on a plan
//	tollgate maintain                  run scheduled maintenance until stopped
//	tollgate config init|validate      configuration utilities
//	tollgate test-notify               send a test ntfy alert
//
// Read-only commands do not take the channel lock, so they can run while a
// pipeline is publishing. Commands that write ledger or breaker state do.
package main
