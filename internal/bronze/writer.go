package bronze

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/brgmlab/hydropipe/internal/faults"
	"github.com/brgmlab/hydropipe/internal/logging"
)

const (
	// writeRetries mirrors the HTTP retry budget for store-side errors.
	writeRetries = 3
	// writeBackoffFactor is the base of the exponential backoff between
	// store write attempts.
	writeBackoffFactor = 2.0
)

// JSONKey builds the canonical bronze key for a paginated JSON endpoint.
// Endpoint paths keep their slashes, so "referentiel/stations" nests.
func JSONKey(api, partition, endpointPath string) string {
	return fmt.Sprintf("%s/%s/%s.json", api, partition, endpointPath)
}

// GMLKey builds the canonical bronze key for a WFS dataset.
func GMLKey(dataset string) string {
	return fmt.Sprintf("wfs/%s.gml", dataset)
}

// Writer serializes harvested payloads into the object store.
type Writer struct {
	store  ObjectStore
	bucket string
	logger *logging.Logger

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewWriter builds a Writer over a store and target bucket.
func NewWriter(store ObjectStore, bucket string) *Writer {
	return &Writer{
		store:  store,
		bucket: bucket,
		logger: logging.GetLogger("bronze"),
		sleep:  sleepContext,
	}
}

// EnsureBucket creates the target bucket when absent.
func (w *Writer) EnsureBucket(ctx context.Context) error {
	return w.store.EnsureBucket(ctx, w.bucket)
}

// PutJSON writes a record page set under the canonical JSON key and
// returns the byte count. Serialization is canonical: two-space indent,
// HTML escaping off, non-ASCII preserved, so a frozen upstream yields
// byte-identical bronze across runs.
func (w *Writer) PutJSON(ctx context.Context, key string, payload interface{}) (int, error) {
	body, err := MarshalCanonical(payload)
	if err != nil {
		return 0, faults.Permanent(err, "serialize payload for %s", key)
	}
	if err := w.putWithRetry(ctx, key, body, ContentTypeJSON); err != nil {
		return 0, err
	}
	w.logger.InfoWithFields("bronze object written",
		logging.Field("key", key),
		logging.Field("bytes", len(body)),
	)
	return len(body), nil
}

// PutGML writes raw GML bytes under the canonical WFS key.
func (w *Writer) PutGML(ctx context.Context, dataset string, body []byte) (int, error) {
	key := GMLKey(dataset)
	if err := w.putWithRetry(ctx, key, body, ContentTypeGML); err != nil {
		return 0, err
	}
	w.logger.InfoWithFields("bronze object written",
		logging.Field("key", key),
		logging.Field("bytes", len(body)),
	)
	return len(body), nil
}

// putWithRetry applies the same retry envelope to store errors as the
// harvester does to HTTP. Exhausted retries fail the endpoint write.
func (w *Writer) putWithRetry(ctx context.Context, key string, body []byte, contentType string) error {
	var lastErr error
	for attempt := 0; attempt < writeRetries; attempt++ {
		err := w.store.Put(ctx, w.bucket, key, body, contentType)
		if err == nil {
			return nil
		}
		if faults.IsKind(err, faults.KindCancelled) {
			return err
		}
		lastErr = err
		if attempt+1 < writeRetries {
			backoff := time.Duration(math.Pow(writeBackoffFactor, float64(attempt)) * float64(time.Second))
			w.logger.WarnWithFields("retrying bronze write",
				logging.Field("key", key),
				logging.Field("attempt", attempt+1),
				logging.Field("error", err.Error()),
			)
			if serr := w.sleep(ctx, backoff); serr != nil {
				return serr
			}
		}
	}
	return faults.StoreWrite(lastErr, "bronze write %s exhausted %d attempts", key, writeRetries)
}

// MarshalCanonical is the canonical bronze JSON serialization.
func MarshalCanonical(payload interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(payload); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

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
