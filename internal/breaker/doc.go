// Package breaker isolates the pipeline from an unhealthy publishing API.
//
// The state machine is an explicit tagged value (Closed, Open, HalfOpen)
// advanced by two pure functions: Admit decides whether a call may proceed
// and Record folds a call's outcome into the next state. Breaker wraps them
// with a mutex, persistence and logging. Outcomes are classified as success,
// failure or ignore; cancelled runs, quota deferrals and permanent request
// errors say nothing about the resource's health and never move the state.
package breaker
