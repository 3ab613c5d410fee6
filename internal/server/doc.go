// Package server assembles the moddepot API behind a single HTTP server.
//
// The server builds a consistent middleware chain of request IDs, logging,
// metrics, rate limiting, and session resolution so handlers all share common
// protections and instrumentation. Read endpoints tolerate anonymous
// requests; handlers enforce authentication where an operation demands it.
package server
