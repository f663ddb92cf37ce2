// Package harvest fetches paginated JSON endpoints and single-shot WFS
// datasets as declared by the registry. Given (descriptor, endpoint,
// partition day) it returns the finite, deduplicated record sequence the
// partition is expected to contain, or a typed failure.
package harvest

import (
	"github.com/brgmlab/hydropipe/internal/faults"
)

// Record is one raw JSON object from an upstream data array.
type Record = map[string]interface{}

// Status summarizes one endpoint fetch.
type Status string

const (
	// StatusSuccess means at least one record came back.
	StatusSuccess Status = "success"
	// StatusNoData means the endpoint answered but the partition is empty.
	// Not a failure.
	StatusNoData Status = "no_data"
	// StatusFailed means the endpoint fetch ended in a typed error.
	StatusFailed Status = "failed"
)

// EndpointResult records the outcome of one endpoint fetch.
type EndpointResult struct {
	Endpoint   string
	Status     Status
	Records    int
	Pages      int
	Dropped    int
	ErrorClass string
	Err        error
}

// Report collects per-endpoint results for one (api, partition) harvest.
// A failure on one endpoint never aborts its siblings.
type Report struct {
	API       string
	Partition string
	Endpoints []EndpointResult
}

// Succeeded counts endpoints that returned data.
func (r *Report) Succeeded() int {
	n := 0
	for _, er := range r.Endpoints {
		if er.Status == StatusSuccess {
			n++
		}
	}
	return n
}

// Failed counts endpoints that ended in error.
func (r *Report) Failed() int {
	n := 0
	for _, er := range r.Endpoints {
		if er.Status == StatusFailed {
			n++
		}
	}
	return n
}

// TotalRecords sums records across endpoints.
func (r *Report) TotalRecords() int {
	n := 0
	for _, er := range r.Endpoints {
		n += er.Records
	}
	return n
}

// Outcome folds the per-endpoint statuses into an asset-level verdict:
// "success" when nothing failed, "partial_success" when at least one
// endpoint delivered despite failures, "failed" otherwise.
func (r *Report) Outcome() string {
	failed := r.Failed()
	if failed == 0 {
		return "success"
	}
	if r.Succeeded() > 0 {
		return "partial_success"
	}
	return "failed"
}

func endpointResult(name string, records, pages, dropped int, err error) EndpointResult {
	er := EndpointResult{
		Endpoint: name,
		Records:  records,
		Pages:    pages,
		Dropped:  dropped,
	}
	switch {
	case err != nil:
		er.Status = StatusFailed
		er.Err = err
		er.ErrorClass = faults.Classify(err)
	case records == 0:
		er.Status = StatusNoData
	default:
		er.Status = StatusSuccess
	}
	return er
}
