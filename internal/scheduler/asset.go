package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/brgmlab/hydropipe/internal/faults"
	"github.com/brgmlab/hydropipe/internal/logging"
)

// Result is what a producer reports about one materialization.
type Result struct {
	Records int
	Bytes   int
	Details map[string]interface{}
}

// Producer materializes one partition of an asset.
type Producer func(ctx context.Context, run *RunContext) (Result, error)

// Check is a named predicate evaluated over a successful Result. A failing
// check marks the run degraded without failing it.
type Check struct {
	Name string
	Eval func(Result) error
}

// MinRecords fails when a run produced fewer than n records.
func MinRecords(n int) Check {
	return Check{
		Name: fmt.Sprintf("min_records_%d", n),
		Eval: func(r Result) error {
			if r.Records < n {
				return fmt.Errorf("expected at least %d records, got %d", n, r.Records)
			}
			return nil
		},
	}
}

// FreshnessPolicy declares how stale an asset may get before the freshness
// sensor requests a run.
type FreshnessPolicy struct {
	MaximumLag time.Duration
}

// Asset is one node of the materialization DAG.
type Asset struct {
	Name       string
	Deps       []string
	Partitions *PartitionSpec
	Resources  []string
	Freshness  *FreshnessPolicy
	Checks     []Check
	Timeout    time.Duration
	Producer   Producer
}

// PartitionKey maps a job partition key onto this asset's cadence.
// Unpartitioned assets always use the job key as-is.
func (a *Asset) PartitionKey(key string) (string, error) {
	if a.Partitions == nil {
		return key, nil
	}
	return a.Partitions.Bucket(key)
}

// ResourceProvider hands out shared handles by name.
type ResourceProvider interface {
	Resource(name string) (interface{}, bool)
}

// RunContext is passed to a producer for one materialization.
type RunContext struct {
	Asset     string
	Partition string
	RunID     string
	Logger    *logging.Logger

	declared  []string
	resources ResourceProvider
}

// Resource returns a shared handle. The asset must have declared the name
// and the provider must have it configured; anything else fails fast.
func (rc *RunContext) Resource(name string) (interface{}, error) {
	declared := false
	for _, d := range rc.declared {
		if d == name {
			declared = true
			break
		}
	}
	if !declared {
		return nil, faults.Config("asset %s did not declare resource %q", rc.Asset, name)
	}
	if rc.resources == nil {
		return nil, faults.Config("no resource provider wired for asset %s", rc.Asset)
	}
	handle, ok := rc.resources.Resource(name)
	if !ok {
		return nil, faults.Config("resource %q is not configured", name)
	}
	return handle, nil
}
