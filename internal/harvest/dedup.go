package harvest

import (
	"fmt"
	"strings"

	"github.com/brgmlab/hydropipe/internal/registry"
)

// Deduplicate keeps the first occurrence of each (group keys, date) tuple.
// Input is in ascending date order, so "first" is the earliest observation.
// When TruncateToDay is set, the date value is cut at the 'T' separator so
// sub-daily observations collapse to one per day. Records missing the date
// field or any group key are dropped.
func Deduplicate(records []Record, rule *registry.DedupRule) []Record {
	if rule == nil || len(records) == 0 {
		return records
	}

	seen := make(map[string]bool, len(records))
	out := records[:0]
	for _, rec := range records {
		key, ok := dedupKey(rec, rule)
		if !ok {
			continue
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, rec)
	}
	return out
}

func dedupKey(rec Record, rule *registry.DedupRule) (string, bool) {
	dateRaw, ok := rec[rule.DateField]
	if !ok {
		return "", false
	}
	dateValue := fmt.Sprintf("%v", dateRaw)
	if rule.TruncateToDay {
		if idx := strings.IndexByte(dateValue, 'T'); idx >= 0 {
			dateValue = dateValue[:idx]
		}
	}

	parts := make([]string, 0, len(rule.GroupKeys)+1)
	for _, gk := range rule.GroupKeys {
		v, ok := rec[gk]
		if !ok {
			return "", false
		}
		parts = append(parts, fmt.Sprintf("%v", v))
	}
	parts = append(parts, dateValue)
	return strings.Join(parts, "::"), true
}
