package harvest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/brgmlab/hydropipe/internal/faults"
	"github.com/brgmlab/hydropipe/internal/logging"
	"github.com/brgmlab/hydropipe/internal/registry"
)

// rateLimitWaitCap bounds the 429 backoff. Upstream asks for minute-scale
// waits; anything beyond five minutes is better served by failing the run
// and letting the scheduler retry the partition.
const rateLimitWaitCap = 5 * time.Minute

// envelope is the upstream response shape {count, data[], totalPages?}.
type envelope struct {
	Count      int      `json:"count"`
	TotalPages int      `json:"totalPages"`
	Data       []Record `json:"data"`
}

// callWithRetry performs one paginated call with the API's retry budget.
// 429 and 5xx and transport errors back off and retry; any other failure is
// returned immediately as a typed fault.
func (h *Harvester) callWithRetry(ctx context.Context, api registry.API, ep registry.Endpoint, name string, params map[string]string) (*envelope, error) {
	endpointURL := strings.TrimRight(api.BaseURL, "/") + "/" + ep.Path

	var lastErr error
	for attempt := 0; attempt < api.RetryBudget; attempt++ {
		if err := h.limiter(api).Wait(ctx); err != nil {
			return nil, faults.Cancelled(err)
		}

		env, retryIn, err := h.doCall(ctx, api, endpointURL, params, attempt)
		if err == nil {
			if env.Data == nil {
				return nil, faults.Permanent(nil, "response from %s has no data array", endpointURL)
			}
			if verr := validateSample(env.Data, api.Name, name); verr != nil {
				return nil, verr
			}
			return env, nil
		}
		if !faults.Retriable(err) {
			return nil, err
		}

		lastErr = err
		h.logger.WarnWithFields("retrying endpoint call",
			logging.Field("api", api.Name),
			logging.Field("endpoint", name),
			logging.Field("attempt", attempt+1),
			logging.Field("budget", api.RetryBudget),
			logging.Field("wait", retryIn.String()),
			logging.Field("error", err.Error()),
		)
		if attempt+1 < api.RetryBudget {
			if serr := h.sleep(ctx, retryIn); serr != nil {
				return nil, serr
			}
		}
	}
	return nil, fmt.Errorf("retry budget exhausted after %d attempts: %w", api.RetryBudget, lastErr)
}

// doCall performs a single HTTP request and classifies the outcome.
// The returned duration is the backoff to apply before the next attempt
// when the error is retriable.
func (h *Harvester) doCall(ctx context.Context, api registry.API, endpointURL string, params map[string]string, attempt int) (*envelope, time.Duration, error) {
	reqCtx := ctx
	if api.Timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, api.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpointURL, nil)
	if err != nil {
		return nil, 0, faults.Permanent(err, "build request for %s", endpointURL)
	}
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "hydropipe/1.0")

	resp, err := h.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, faults.Cancelled(ctx.Err())
		}
		// Timeouts and connection errors back off like a 5xx.
		return nil, h.backoff(attempt), faults.Transient(err, "request %s", endpointURL)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusPartialContent:
		var env envelope
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, h.backoff(attempt), faults.Transient(err, "read body from %s", endpointURL)
		}
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, 0, faults.Permanent(err, "malformed JSON from %s", endpointURL)
		}
		return &env, 0, nil

	case resp.StatusCode == http.StatusTooManyRequests:
		wait := h.rateLimitBackoff(attempt, resp.Header.Get("Retry-After"))
		return nil, wait, faults.Transient(fmt.Errorf("status 429"), "rate limited by %s", endpointURL)

	case resp.StatusCode >= 500:
		return nil, h.backoff(attempt), faults.Transient(fmt.Errorf("status %d", resp.StatusCode), "server error from %s", endpointURL)

	default:
		return nil, 0, faults.Permanent(fmt.Errorf("status %d", resp.StatusCode), "unexpected status from %s", endpointURL)
	}
}

// backoff computes backoffFactor^attempt seconds.
func (h *Harvester) backoff(attempt int) time.Duration {
	return time.Duration(math.Pow(h.backoffFactor, float64(attempt)) * float64(time.Second))
}

// rateLimitBackoff scales the regular backoff by 60 for 429 responses,
// capped, and honors a larger Retry-After (seconds form) when present.
func (h *Harvester) rateLimitBackoff(attempt int, retryAfter string) time.Duration {
	wait := h.backoff(attempt) * 60
	if wait > rateLimitWaitCap {
		wait = rateLimitWaitCap
	}
	if retryAfter != "" {
		if secs, err := strconv.Atoi(retryAfter); err == nil {
			if d := time.Duration(secs) * time.Second; d > wait {
				wait = d
			}
		}
	}
	return wait
}

// sleepContext waits for d or until the context is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return faults.Cancelled(ctx.Err())
	case <-timer.C:
		return nil
	}
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
