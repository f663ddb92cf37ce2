package harvest

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/brgmlab/hydropipe/internal/logging"
	"github.com/brgmlab/hydropipe/internal/registry"
)

const (
	// maxPages caps the pagination loop against runaway endpoints.
	maxPages = 1000
	// defaultBackoffFactor is the base of the exponential backoff.
	defaultBackoffFactor = 2.0
	// defaultEndpointConcurrency bounds concurrent endpoint fetches within
	// one API. Pages within an endpoint stay strictly sequential so that
	// first-wins dedup is deterministic.
	defaultEndpointConcurrency = 4
)

// Config tunes the harvester. Zero values select the defaults above.
type Config struct {
	BackoffFactor       float64
	EndpointConcurrency int
}

// Harvester pulls records from registered sources. Safe for concurrent use.
type Harvester struct {
	client        *http.Client
	logger        *logging.Logger
	backoffFactor float64
	concurrency   int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	// sleep is replaced in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds a Harvester around a shared HTTP client.
func New(client *http.Client, cfg Config) *Harvester {
	if cfg.BackoffFactor <= 1 {
		cfg.BackoffFactor = defaultBackoffFactor
	}
	if cfg.EndpointConcurrency < 1 {
		cfg.EndpointConcurrency = defaultEndpointConcurrency
	}
	return &Harvester{
		client:        client,
		logger:        logging.GetLogger("harvest"),
		backoffFactor: cfg.BackoffFactor,
		concurrency:   cfg.EndpointConcurrency,
		limiters:      make(map[string]*rate.Limiter),
		sleep:         sleepContext,
	}
}

// limiter returns the per-API rate limiter, one token per RateLimitDelay.
func (h *Harvester) limiter(api registry.API) *rate.Limiter {
	h.mu.Lock()
	defer h.mu.Unlock()
	if lim, ok := h.limiters[api.Name]; ok {
		return lim
	}
	var lim *rate.Limiter
	if api.RateLimitDelay > 0 {
		lim = rate.NewLimiter(rate.Every(api.RateLimitDelay), 1)
	} else {
		lim = rate.NewLimiter(rate.Inf, 1)
	}
	h.limiters[api.Name] = lim
	return lim
}

// FetchEndpoint pulls every page of one endpoint for a partition day,
// applies the endpoint's dedup rule, and reports the outcome. The returned
// records preserve upstream page order.
func (h *Harvester) FetchEndpoint(ctx context.Context, api registry.API, name string, partition time.Time) ([]Record, EndpointResult) {
	ep, err := api.Endpoint(name)
	if err != nil {
		return nil, endpointResult(name, 0, 0, 0, err)
	}

	params := h.buildParams(api, ep, partition)
	logger := h.logger.WithFields(
		logging.Field("api", api.Name),
		logging.Field("endpoint", name),
	)

	var all []Record
	pages := 0
	for page := 1; page <= maxPages; page++ {
		pageParams := cloneParams(params)
		pageParams["page"] = itoa(page)
		pageParams["size"] = itoa(ep.PageSize)

		env, err := h.callWithRetry(ctx, api, ep, name, pageParams)
		if err != nil {
			return nil, endpointResult(name, 0, pages, 0, err)
		}
		pages++

		if len(env.Data) == 0 {
			break
		}
		all = append(all, env.Data...)
		logger.Debug("page %d: %d records (total %d)", page, len(env.Data), len(all))

		if len(env.Data) < ep.PageSize {
			break
		}
		if page == maxPages {
			logger.WarnWithFields("pagination safety cap reached",
				logging.Field("pages", maxPages),
				logging.Field("records", len(all)),
			)
		}
	}

	dropped := 0
	if ep.Dedup != nil {
		before := len(all)
		all = Deduplicate(all, ep.Dedup)
		dropped = before - len(all)
		if dropped > 0 {
			logger.DebugWithFields("deduplicated records",
				logging.Field("before", before),
				logging.Field("after", len(all)),
			)
		}
	}

	return all, endpointResult(name, len(all), pages, dropped, nil)
}

// FetchAPI fetches every endpoint of an API for one partition day.
// Endpoints run concurrently up to the configured cap; one endpoint's
// failure is recorded and does not stop the others.
func (h *Harvester) FetchAPI(ctx context.Context, api registry.API, partition time.Time) (map[string][]Record, *Report) {
	names := make([]string, 0, len(api.Endpoints))
	for name := range api.Endpoints {
		names = append(names, name)
	}
	sort.Strings(names)

	report := &Report{
		API:       api.Name,
		Partition: partition.Format(registry.DefaultDateFormat),
		Endpoints: make([]EndpointResult, len(names)),
	}
	records := make(map[string][]Record, len(names))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.concurrency)
	for i, name := range names {
		g.Go(func() error {
			recs, er := h.FetchEndpoint(gctx, api, name, partition)
			mu.Lock()
			report.Endpoints[i] = er
			if er.Status == StatusSuccess {
				records[name] = recs
			}
			mu.Unlock()
			// Endpoint errors are carried in the report, not returned,
			// so siblings keep running.
			return nil
		})
	}
	_ = g.Wait()

	return records, report
}

// buildParams assembles static and temporal query parameters for one
// endpoint fetch. The window is [partition-lookback, partition], closed on
// both ends. Endpoints with a dedup rule are forced to ascending date order
// so first-wins picks the earliest observation of the day.
func (h *Harvester) buildParams(api registry.API, ep registry.Endpoint, partition time.Time) map[string]string {
	params := cloneParams(stringParams(ep.Params))

	if ep.ApplyTemporalFilter {
		layout := ep.EffectiveDateFormat()
		lookback := api.Lookback(ep)
		start := partition.AddDate(0, 0, -lookback)
		params[ep.TemporalKeys[0]] = start.Format(layout)
		params[ep.TemporalKeys[1]] = partition.Format(layout)
	}
	if ep.Dedup != nil {
		params["sort"] = "asc"
	}
	return params
}

func stringParams(src map[string]string) map[string]string {
	if src == nil {
		return map[string]string{}
	}
	return src
}

func cloneParams(src map[string]string) map[string]string {
	dst := make(map[string]string, len(src)+3)
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
