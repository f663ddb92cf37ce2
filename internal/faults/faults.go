// Package faults defines the typed error taxonomy shared by the harvester,
// loaders, and scheduler. Every failure that crosses a component boundary is
// wrapped in a *Fault so the scheduler can classify it in run records and
// the retry loop can decide whether another attempt makes sense.
package faults

import (
	"context"
	"errors"
	"fmt"
)

// Kind discriminates fault categories.
type Kind int

const (
	// KindTransientSource covers 429, 5xx, timeouts, and connection errors.
	// Recovered by retry; only surfaced when the retry budget is exhausted.
	KindTransientSource Kind = iota
	// KindPermanentSource covers 4xx (other than 429), malformed bodies,
	// and schema violations. Never retried.
	KindPermanentSource
	// KindValidation covers a missing required field in the sampled record.
	KindValidation
	// KindStoreWrite covers object-store errors after retries.
	KindStoreWrite
	// KindWarehouseWrite covers SQL errors after retries.
	KindWarehouseWrite
	// KindGraphWrite covers graph merge errors. Logged, never fatal to a pass.
	KindGraphWrite
	// KindCancelled covers context cancellation and deadline expiry.
	KindCancelled
	// KindConfig covers invalid configuration. Fails process startup.
	KindConfig
)

// Classification labels recorded with failed runs.
const (
	ClassTransient       = "transient"
	ClassNonRetriable    = "non_retriable_source"
	ClassValidation      = "validation"
	ClassDownstreamStore = "downstream_store"
	ClassGraphWrite      = "graph_write"
	ClassCancelled       = "cancelled"
	ClassConfig          = "config"
)

// Fault is a classified error. It wraps the underlying cause so errors.Is
// and errors.As keep working through it.
type Fault struct {
	Kind Kind
	Msg  string
	Err  error
}

func (f *Fault) Error() string {
	if f.Err != nil {
		if f.Msg != "" {
			return fmt.Sprintf("%s: %v", f.Msg, f.Err)
		}
		return f.Err.Error()
	}
	return f.Msg
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// Is matches against another *Fault by Kind, so
// errors.Is(err, &Fault{Kind: KindValidation}) works as a kind check.
func (f *Fault) Is(target error) bool {
	t, ok := target.(*Fault)
	if !ok {
		return false
	}
	return f.Kind == t.Kind
}

// Class returns the classification label recorded in run state.
func (f *Fault) Class() string {
	switch f.Kind {
	case KindTransientSource:
		return ClassTransient
	case KindPermanentSource:
		return ClassNonRetriable
	case KindValidation:
		return ClassValidation
	case KindStoreWrite, KindWarehouseWrite:
		return ClassDownstreamStore
	case KindGraphWrite:
		return ClassGraphWrite
	case KindCancelled:
		return ClassCancelled
	case KindConfig:
		return ClassConfig
	default:
		return ClassNonRetriable
	}
}

// Retriable reports whether another attempt can succeed.
func (f *Fault) Retriable() bool {
	switch f.Kind {
	case KindTransientSource, KindStoreWrite, KindWarehouseWrite:
		return true
	default:
		return false
	}
}

// Transient wraps err as a transient source failure.
func Transient(err error, format string, args ...interface{}) *Fault {
	return &Fault{Kind: KindTransientSource, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Permanent wraps err as a non-retriable source failure.
func Permanent(err error, format string, args ...interface{}) *Fault {
	return &Fault{Kind: KindPermanentSource, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Validation builds a validation failure for a structural check.
func Validation(format string, args ...interface{}) *Fault {
	return &Fault{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

// StoreWrite wraps err as an object-store write failure.
func StoreWrite(err error, format string, args ...interface{}) *Fault {
	return &Fault{Kind: KindStoreWrite, Msg: fmt.Sprintf(format, args...), Err: err}
}

// WarehouseWrite wraps err as a warehouse write failure.
func WarehouseWrite(err error, format string, args ...interface{}) *Fault {
	return &Fault{Kind: KindWarehouseWrite, Msg: fmt.Sprintf(format, args...), Err: err}
}

// GraphWrite wraps err as a graph merge failure.
func GraphWrite(err error, format string, args ...interface{}) *Fault {
	return &Fault{Kind: KindGraphWrite, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Cancelled wraps err as a cancellation. The underlying context error is
// preserved so errors.Is(err, context.Canceled) still holds.
func Cancelled(err error) *Fault {
	return &Fault{Kind: KindCancelled, Msg: "cancelled", Err: err}
}

// Config builds a configuration failure.
func Config(format string, args ...interface{}) *Fault {
	return &Fault{Kind: KindConfig, Msg: fmt.Sprintf(format, args...)}
}

// IsKind reports whether err is (or wraps) a Fault of the given kind.
func IsKind(err error, kind Kind) bool {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind == kind
	}
	return false
}

// Classify maps an arbitrary error to its classification label.
// Plain context errors classify as cancelled; anything else untyped is
// treated as non-retriable.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	var f *Fault
	if errors.As(err, &f) {
		return f.Class()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ClassCancelled
	}
	return ClassNonRetriable
}

// Retriable reports whether err warrants another attempt.
func Retriable(err error) bool {
	var f *Fault
	if errors.As(err, &f) {
		return f.Retriable()
	}
	return false
}
