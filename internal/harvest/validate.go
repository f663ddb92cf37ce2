package harvest

import (
	"github.com/brgmlab/hydropipe/internal/faults"
	"github.com/brgmlab/hydropipe/internal/registry"
)

// validateSample asserts the declared required fields on the first record
// of a page. A missing field is a validation fault and never retried.
func validateSample(data []Record, api, endpoint string) error {
	if len(data) == 0 {
		return nil
	}
	sample := data[0]
	for _, field := range registry.RequiredFields(api, endpoint) {
		if _, ok := sample[field]; !ok {
			return faults.Validation("missing required field %q in %s/%s data", field, api, endpoint)
		}
	}
	return nil
}
