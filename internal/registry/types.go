// Package registry declares every remote source the pipeline harvests from.
// A descriptor is the single source of truth about how to fetch, paginate,
// filter, and deduplicate one endpoint; the harvester contains no
// per-endpoint branching beyond what the descriptor selects.
package registry

import (
	"fmt"
	"time"

	"github.com/brgmlab/hydropipe/internal/faults"
)

// DefaultDateFormat is the Go layout used for temporal filter parameters
// unless an endpoint overrides it (e.g. annual series use "2006").
const DefaultDateFormat = "2006-01-02"

// DedupRule declares per-endpoint record deduplication. Records are grouped
// by (GroupKeys..., DateField truncated to day when TruncateToDay) and the
// first occurrence wins; the harvester sorts ascending by date so this is
// deterministic.
type DedupRule struct {
	DateField     string
	GroupKeys     []string
	TruncateToDay bool
}

// Endpoint describes one paginated JSON endpoint of an API.
type Endpoint struct {
	// Path is relative to the API base URL. May contain slashes
	// ("referentiel/stations").
	Path string
	// Params are static query parameters sent on every call.
	Params map[string]string
	// ApplyTemporalFilter enables the [partition-lookback, partition]
	// window injected under TemporalKeys.
	ApplyTemporalFilter bool
	// TemporalKeys holds the start and end query parameter names.
	TemporalKeys [2]string
	// LookbackDays overrides the API default when > 0.
	LookbackDays int
	// DateFormat is the Go layout for temporal parameters.
	// Empty means DefaultDateFormat.
	DateFormat string
	// PageSize is the page size requested per call.
	PageSize int
	// Dedup, when set, enables first-wins deduplication.
	Dedup *DedupRule
}

// EffectiveDateFormat returns the layout used for temporal parameters.
func (e Endpoint) EffectiveDateFormat() string {
	if e.DateFormat != "" {
		return e.DateFormat
	}
	return DefaultDateFormat
}

// API describes one remote JSON API family.
type API struct {
	Name                string
	BaseURL             string
	DefaultLookbackDays int
	Timeout             time.Duration
	RetryBudget         int
	RateLimitDelay      time.Duration
	Endpoints           map[string]Endpoint
}

// Endpoint looks up a named endpoint descriptor.
func (a API) Endpoint(name string) (Endpoint, error) {
	ep, ok := a.Endpoints[name]
	if !ok {
		return Endpoint{}, faults.Config("api %q has no endpoint %q", a.Name, name)
	}
	return ep, nil
}

// Lookback resolves the effective lookback window for an endpoint.
func (a API) Lookback(ep Endpoint) int {
	if ep.LookbackDays > 0 {
		return ep.LookbackDays
	}
	return a.DefaultLookbackDays
}

// Validate checks internal consistency of the descriptor.
func (a API) Validate() error {
	if a.Name == "" {
		return faults.Config("api name is empty")
	}
	if a.BaseURL == "" {
		return faults.Config("api %q: base URL is empty", a.Name)
	}
	if a.RetryBudget < 1 {
		return faults.Config("api %q: retry budget must be >= 1", a.Name)
	}
	if len(a.Endpoints) == 0 {
		return faults.Config("api %q: no endpoints declared", a.Name)
	}
	for name, ep := range a.Endpoints {
		if ep.Path == "" {
			return faults.Config("api %q endpoint %q: path is empty", a.Name, name)
		}
		if ep.PageSize < 1 {
			return faults.Config("api %q endpoint %q: page size must be >= 1", a.Name, name)
		}
		if ep.ApplyTemporalFilter && (ep.TemporalKeys[0] == "" || ep.TemporalKeys[1] == "") {
			return faults.Config("api %q endpoint %q: temporal filter without parameter keys", a.Name, name)
		}
		if ep.Dedup != nil {
			if ep.Dedup.DateField == "" {
				return faults.Config("api %q endpoint %q: dedup rule without date field", a.Name, name)
			}
			if len(ep.Dedup.GroupKeys) == 0 {
				return faults.Config("api %q endpoint %q: dedup rule without group keys", a.Name, name)
			}
		}
	}
	return nil
}

// WFSDataset is one feature type fetched from a WFS source.
type WFSDataset struct {
	Name     string
	TypeName string
}

// WFSSource describes a WFS/GML family: single-shot GetFeature calls with a
// feature cap, no pagination.
type WFSSource struct {
	Name         string
	BaseURL      string
	Version      string
	OutputFormat string
	SRSName      string
	MaxFeatures  int
	Timeout      time.Duration
	RetryBudget  int
	Datasets     []WFSDataset
}

// Dataset looks up a named dataset.
func (w WFSSource) Dataset(name string) (WFSDataset, error) {
	for _, ds := range w.Datasets {
		if ds.Name == name {
			return ds, nil
		}
	}
	return WFSDataset{}, faults.Config("wfs source %q has no dataset %q", w.Name, name)
}

// Validate checks internal consistency of the WFS descriptor.
func (w WFSSource) Validate() error {
	if w.Name == "" || w.BaseURL == "" {
		return faults.Config("wfs source %q: name and base URL are required", w.Name)
	}
	if w.MaxFeatures < 1 {
		return faults.Config("wfs source %q: max features must be >= 1", w.Name)
	}
	if len(w.Datasets) == 0 {
		return faults.Config("wfs source %q: no datasets declared", w.Name)
	}
	for _, ds := range w.Datasets {
		if ds.Name == "" || ds.TypeName == "" {
			return faults.Config("wfs source %q: dataset name and type name are required", w.Name)
		}
	}
	return nil
}

// endpointFields is the closed set of keys accepted when an endpoint is
// overridden from configuration. Unknown keys are a load-time error.
var endpointFields = map[string]bool{
	"path":                  true,
	"params":                true,
	"apply_temporal_filter": true,
	"temporal_param_keys":   true,
	"lookback_days":         true,
	"date_format":           true,
	"page_size":             true,
	"dedup_rule":            true,
}

var dedupFields = map[string]bool{
	"date_field":      true,
	"group_keys":      true,
	"truncate_to_day": true,
}

// CheckEndpointKeys rejects unknown endpoint configuration keys.
func CheckEndpointKeys(raw map[string]interface{}) error {
	for key := range raw {
		if !endpointFields[key] {
			return faults.Config("unknown endpoint field %q", key)
		}
	}
	if rule, ok := raw["dedup_rule"].(map[string]interface{}); ok {
		for key := range rule {
			if !dedupFields[key] {
				return faults.Config("unknown dedup rule field %q", key)
			}
		}
	}
	return nil
}

// Registry bundles every declared source.
type Registry struct {
	APIs map[string]API
	WFS  map[string]WFSSource
}

// Default returns the full registry of shipped sources.
func Default() *Registry {
	apis := map[string]API{}
	for _, a := range []API{
		Piezo(), Hydro(), QualitySurface(), QualityGroundwater(),
		Temperature(), Prelevements(), Onde(), Sandre(), Meteo(),
	} {
		apis[a.Name] = a
	}
	return &Registry{
		APIs: apis,
		WFS:  map[string]WFSSource{BDLisa().Name: BDLisa()},
	}
}

// API looks up a named API descriptor.
func (r *Registry) API(name string) (API, error) {
	a, ok := r.APIs[name]
	if !ok {
		return API{}, faults.Config("unknown api %q", name)
	}
	return a, nil
}

// Validate validates every declared source.
func (r *Registry) Validate() error {
	for name, a := range r.APIs {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("api %s: %w", name, err)
		}
	}
	for name, w := range r.WFS {
		if err := w.Validate(); err != nil {
			return fmt.Errorf("wfs %s: %w", name, err)
		}
	}
	return nil
}
