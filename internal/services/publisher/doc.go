// Package publisher talks to the rate-limited publishing platform over HTTP.
//
// The client reports each operation's quota cost from the configured cost
// table and classifies every failure with the services markers: request
// timeouts, 429 and 5xx responses, and transport errors are transient;
// other 4xx responses are permanent. A Retry-After header is surfaced through
// StatusError.RetryAfter so the retry governor can honour it.
//
// The client performs exactly one HTTP request per Publish call. Retrying,
// circuit breaking, and quota accounting are layered on top by the governor.
package publisher
