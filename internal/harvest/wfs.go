package harvest

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/brgmlab/hydropipe/internal/faults"
	"github.com/brgmlab/hydropipe/internal/logging"
	"github.com/brgmlab/hydropipe/internal/registry"
)

// FetchWFS performs a single GetFeature call for one dataset and returns
// the raw GML bytes. No pagination; the feature cap bounds the response.
func (h *Harvester) FetchWFS(ctx context.Context, src registry.WFSSource, dataset string) ([]byte, error) {
	ds, err := src.Dataset(dataset)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("service", "WFS")
	q.Set("version", src.Version)
	q.Set("request", "GetFeature")
	q.Set("typename", ds.TypeName)
	q.Set("outputFormat", src.OutputFormat)
	q.Set("srsName", src.SRSName)
	q.Set("maxFeatures", strconv.Itoa(src.MaxFeatures))

	var lastErr error
	for attempt := 0; attempt < src.RetryBudget; attempt++ {
		body, retryIn, err := h.doWFSCall(ctx, src, q)
		if err == nil {
			h.logger.InfoWithFields("wfs dataset fetched",
				logging.Field("source", src.Name),
				logging.Field("dataset", dataset),
				logging.Field("bytes", len(body)),
			)
			return body, nil
		}
		if !faults.Retriable(err) {
			return nil, err
		}
		lastErr = err
		if attempt+1 < src.RetryBudget {
			if serr := h.sleep(ctx, retryIn); serr != nil {
				return nil, serr
			}
		}
	}
	return nil, fmt.Errorf("retry budget exhausted after %d attempts: %w", src.RetryBudget, lastErr)
}

func (h *Harvester) doWFSCall(ctx context.Context, src registry.WFSSource, q url.Values) ([]byte, time.Duration, error) {
	reqCtx := ctx
	if src.Timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, src.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, src.BaseURL, nil)
	if err != nil {
		return nil, 0, faults.Permanent(err, "build WFS request for %s", src.BaseURL)
	}
	req.URL.RawQuery = q.Encode()

	resp, err := h.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, faults.Cancelled(ctx.Err())
		}
		return nil, h.backoff(0), faults.Transient(err, "WFS request %s", src.BaseURL)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, h.backoff(0), faults.Transient(err, "read WFS body from %s", src.BaseURL)
		}
		if err := validateGML(body); err != nil {
			return nil, 0, err
		}
		return body, 0, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, h.rateLimitBackoff(0, resp.Header.Get("Retry-After")), faults.Transient(fmt.Errorf("status 429"), "rate limited by %s", src.BaseURL)
	case resp.StatusCode >= 500:
		return nil, h.backoff(0), faults.Transient(fmt.Errorf("status %d", resp.StatusCode), "server error from %s", src.BaseURL)
	default:
		return nil, 0, faults.Permanent(fmt.Errorf("status %d", resp.StatusCode), "unexpected status from %s", src.BaseURL)
	}
}

// validateGML checks the root element: a FeatureCollection is good, an OGC
// ExceptionReport (served with status 200 by some endpoints) is a permanent
// failure, anything else is malformed.
func validateGML(body []byte) error {
	root, err := rootElement(body)
	if err != nil {
		return faults.Permanent(err, "malformed WFS response")
	}
	switch root {
	case "FeatureCollection":
		return nil
	case "ExceptionReport", "ServiceExceptionReport":
		return faults.Permanent(nil, "WFS returned an exception report")
	default:
		return faults.Validation("unexpected WFS root element %q", root)
	}
}

// rootElement sniffs the first start element; the prologue never needs
// more than a few KB.
func rootElement(body []byte) (string, error) {
	if len(body) > 64*1024 {
		body = body[:64*1024]
	}
	dec := xml.NewDecoder(bytes.NewReader(body))
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", err
		}
		if start, ok := tok.(xml.StartElement); ok {
			return start.Name.Local, nil
		}
	}
}
