// Package control
// Author: momentics <momentics@gmail.com>
//
// Runtime metrics and debug introspection for transfer sessions.
//
// Provides:
//   - Prometheus collectors labelled by session name
//   - Named debug probes returning state snapshots
//
// Every Metrics method accepts a nil receiver, so callers that do not export
// metrics pass nothing.
package control
