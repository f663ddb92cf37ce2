// Package scheduler materializes partitioned assets in dependency order,
// tracks run state, and drives schedules and sensors.
package scheduler

import (
	"fmt"
	"time"
)

// Cadence is the partitioning granularity of an asset.
type Cadence int

const (
	// CadenceDaily partitions by day, key 2024-10-02.
	CadenceDaily Cadence = iota
	// CadenceWeekly partitions by ISO week, key 2024-W40.
	CadenceWeekly
	// CadenceMonthly partitions by month, key 2024-10.
	CadenceMonthly
)

func (c Cadence) String() string {
	switch c {
	case CadenceDaily:
		return "daily"
	case CadenceWeekly:
		return "weekly"
	case CadenceMonthly:
		return "monthly"
	default:
		return fmt.Sprintf("cadence(%d)", int(c))
	}
}

// Key formats the partition key containing t.
func (c Cadence) Key(t time.Time) string {
	switch c {
	case CadenceWeekly:
		year, week := t.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", year, week)
	case CadenceMonthly:
		return t.Format("2006-01")
	default:
		return t.Format("2006-01-02")
	}
}

// Validate checks that key is well formed for this cadence.
func (c Cadence) Validate(key string) error {
	switch c {
	case CadenceWeekly:
		var year, week int
		if _, err := fmt.Sscanf(key, "%4d-W%2d", &year, &week); err != nil || week < 1 || week > 53 || len(key) != 8 {
			return fmt.Errorf("invalid weekly partition key %q, want YYYY-Www", key)
		}
		return nil
	case CadenceMonthly:
		if _, err := time.Parse("2006-01", key); err != nil {
			return fmt.Errorf("invalid monthly partition key %q, want YYYY-MM", key)
		}
		return nil
	default:
		if _, err := time.Parse("2006-01-02", key); err != nil {
			return fmt.Errorf("invalid daily partition key %q, want YYYY-MM-DD", key)
		}
		return nil
	}
}

// ValidatePartitionKey accepts a key in any supported cadence format.
func ValidatePartitionKey(key string) error {
	for _, c := range []Cadence{CadenceDaily, CadenceWeekly, CadenceMonthly} {
		if c.Validate(key) == nil {
			return nil
		}
	}
	return fmt.Errorf("invalid partition key %q", key)
}

// PartitionSpec declares the partition range of an asset.
type PartitionSpec struct {
	Start   time.Time
	Cadence Cadence
}

// Keys enumerates every partition key from Start up to and including now.
func (p PartitionSpec) Keys(now time.Time) []string {
	if now.Before(p.Start) {
		return nil
	}

	var keys []string
	seen := make(map[string]struct{})

	step := func(t time.Time) time.Time {
		switch p.Cadence {
		case CadenceWeekly:
			return t.AddDate(0, 0, 7)
		case CadenceMonthly:
			return t.AddDate(0, 1, 0)
		default:
			return t.AddDate(0, 0, 1)
		}
	}

	for t := p.Start; !t.After(now); t = step(t) {
		key := p.Cadence.Key(t)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	return keys
}

// Latest returns the most recent complete partition key as of now. The
// period containing now is still open, so it never qualifies.
func (p PartitionSpec) Latest(now time.Time) string {
	switch p.Cadence {
	case CadenceWeekly:
		return p.Cadence.Key(now.AddDate(0, 0, -7))
	case CadenceMonthly:
		return p.Cadence.Key(now.AddDate(0, -1, 0))
	default:
		return p.Cadence.Key(now.AddDate(0, 0, -1))
	}
}

// Contains checks that key falls between the declared start and the latest
// complete period. All key formats order lexically within a cadence.
func (p PartitionSpec) Contains(key string, now time.Time) error {
	if err := p.Cadence.Validate(key); err != nil {
		return err
	}
	if !p.Start.IsZero() {
		if first := p.Cadence.Key(p.Start); key < first {
			return fmt.Errorf("partition %s precedes the first partition %s", key, first)
		}
	}
	if latest := p.Latest(now); key > latest {
		return fmt.Errorf("partition %s is not complete yet, latest complete is %s", key, latest)
	}
	return nil
}

// Bucket maps a daily partition key onto this cadence, so a weekly or
// monthly parent asset materializes for the bucket containing the child
// day. Keys already at this cadence pass through unchanged.
func (p PartitionSpec) Bucket(key string) (string, error) {
	if p.Cadence.Validate(key) == nil {
		return key, nil
	}
	day, err := time.Parse("2006-01-02", key)
	if err != nil {
		return "", fmt.Errorf("partition key %q fits neither %s nor daily", key, p.Cadence)
	}
	return p.Cadence.Key(day), nil
}
