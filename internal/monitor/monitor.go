// Package monitor implements the /monitor dispatch hook (spec.md §4.9):
// remote-host metrics collection itself is out of core scope, so this
// package only forwards monitoring subscriptions to a pluggable Collector
// and ships one concrete, optional implementation of it.
package monitor

import "context"

// Metric is one data point a Collector reports back for a subscription.
type Metric struct {
	PID    int     `json:"pid"`
	CPU    float64 `json:"cpu"`    // percent, normalized to one core = 100
	Memory int64   `json:"memory"` // RSS in bytes
}

// Collector answers a monitoring subscription's "give me current resource
// usage for these PIDs" request. Implementations may reach out to a remote
// host, a local /proc sampler, or nothing at all (a no-op Collector is
// valid: spec.md keeps actual collection optional).
type Collector interface {
	Collect(ctx context.Context, pids []int) map[int]Metric
}
