package harvest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brgmlab/hydropipe/internal/faults"
	"github.com/brgmlab/hydropipe/internal/registry"
)

func testAPI(baseURL string) registry.API {
	return registry.API{
		Name:                "piezo",
		BaseURL:             baseURL,
		DefaultLookbackDays: 30,
		RetryBudget:         3,
		RateLimitDelay:      0,
		Endpoints: map[string]registry.Endpoint{
			"stations": {
				Path:     "stations",
				PageSize: 5000,
			},
			"chroniques_tr": {
				Path:                "chroniques_tr",
				ApplyTemporalFilter: true,
				TemporalKeys:        [2]string{"date_debut_mesure", "date_fin_mesure"},
				LookbackDays:        30,
				PageSize:            2,
				Dedup: &registry.DedupRule{
					DateField:     "date_mesure",
					GroupKeys:     []string{"code_bss"},
					TruncateToDay: true,
				},
			},
		},
	}
}

// newTestHarvester swaps the sleep func for a recorder so backoffs do not
// slow the suite down.
func newTestHarvester(t *testing.T) (*Harvester, *[]time.Duration) {
	t.Helper()
	h := New(http.DefaultClient, Config{})
	var slept []time.Duration
	h.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return h, &slept
}

func writeEnvelope(w http.ResponseWriter, status int, records []Record) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"count": len(records),
		"data":  records,
	})
}

func partitionDay(t *testing.T) time.Time {
	t.Helper()
	day, err := time.Parse("2006-01-02", "2024-10-02")
	require.NoError(t, err)
	return day
}

func TestPaginationTerminatesOnShortPage(t *testing.T) {
	// 3 pages of 2/2/1 records; two records share station and day.
	pages := [][]Record{
		{
			{"code_bss": "BSS001", "date_mesure": "2024-10-02T04:00:00", "niveau_nappe_eau": 12.1},
			{"code_bss": "BSS001", "date_mesure": "2024-10-02T16:00:00", "niveau_nappe_eau": 12.3},
		},
		{
			{"code_bss": "BSS002", "date_mesure": "2024-10-02T04:00:00", "niveau_nappe_eau": 7.0},
			{"code_bss": "BSS001", "date_mesure": "2024-10-01T04:00:00", "niveau_nappe_eau": 12.0},
		},
		{
			{"code_bss": "BSS002", "date_mesure": "2024-10-02T18:00:00", "niveau_nappe_eau": 7.2},
		},
	}
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		page := r.URL.Query().Get("page")
		assert.Equal(t, "2", r.URL.Query().Get("size"))
		assert.Equal(t, "asc", r.URL.Query().Get("sort"))
		switch page {
		case "1":
			writeEnvelope(w, http.StatusPartialContent, pages[0])
		case "2":
			writeEnvelope(w, http.StatusPartialContent, pages[1])
		case "3":
			writeEnvelope(w, http.StatusOK, pages[2])
		default:
			t.Errorf("unexpected page %s", page)
		}
	}))
	defer srv.Close()

	h, _ := newTestHarvester(t)
	records, result := h.FetchEndpoint(context.Background(), testAPI(srv.URL), "chroniques_tr", partitionDay(t))

	// 5 raw records, minus BSS001@2024-10-02 dup and BSS002@2024-10-02 dup.
	assert.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, 3, result.Pages)
	assert.Equal(t, 3, result.Records)
	assert.Equal(t, 2, result.Dropped)
	require.Len(t, records, 3)
	// First occurrence wins: the 04:00 observations survive.
	assert.Equal(t, "2024-10-02T04:00:00", records[0]["date_mesure"])
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestTemporalWindowParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2024-09-02", r.URL.Query().Get("date_debut_mesure"))
		assert.Equal(t, "2024-10-02", r.URL.Query().Get("date_fin_mesure"))
		writeEnvelope(w, http.StatusOK, nil)
	}))
	defer srv.Close()

	h, _ := newTestHarvester(t)
	_, result := h.FetchEndpoint(context.Background(), testAPI(srv.URL), "chroniques_tr", partitionDay(t))
	assert.Equal(t, StatusNoData, result.Status)
}

func TestEmptyFirstPageIsNoData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, nil)
	}))
	defer srv.Close()

	h, _ := newTestHarvester(t)
	records, result := h.FetchEndpoint(context.Background(), testAPI(srv.URL), "stations", partitionDay(t))

	assert.Empty(t, records)
	assert.Equal(t, StatusNoData, result.Status)
	assert.Equal(t, 0, result.Records)
	assert.NoError(t, result.Err)
}

func TestRateLimitRetryAfter(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n <= 2 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeEnvelope(w, http.StatusOK, []Record{
			{"code_bss": "BSS001"},
		})
	}))
	defer srv.Close()

	h, slept := newTestHarvester(t)
	records, result := h.FetchEndpoint(context.Background(), testAPI(srv.URL), "stations", partitionDay(t))

	assert.Equal(t, StatusSuccess, result.Status)
	require.Len(t, records, 1)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
	// Each 429 must delay by at least the advertised Retry-After.
	require.Len(t, *slept, 2)
	for _, d := range *slept {
		assert.GreaterOrEqual(t, d, 2*time.Second)
	}
}

func TestRetryAfterOverridesShortBackoff(t *testing.T) {
	h := New(http.DefaultClient, Config{})
	// attempt 0: base backoff 1s * 60 = 60s > Retry-After 2s.
	assert.Equal(t, time.Minute, h.rateLimitBackoff(0, "2"))
	// Retry-After wins when larger.
	assert.Equal(t, 90*time.Second, h.rateLimitBackoff(0, "90"))
	// Capped without Retry-After.
	assert.Equal(t, 5*time.Minute, h.rateLimitBackoff(5, ""))
}

func TestServerErrorExhaustsBudget(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	h, slept := newTestHarvester(t)
	_, result := h.FetchEndpoint(context.Background(), testAPI(srv.URL), "stations", partitionDay(t))

	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, faults.ClassTransient, result.ErrorClass)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
	// backoff^0, backoff^1 between the three attempts.
	require.Len(t, *slept, 2)
	assert.Equal(t, time.Second, (*slept)[0])
	assert.Equal(t, 2*time.Second, (*slept)[1])
}

func TestNotFoundIsPermanent(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	h, _ := newTestHarvester(t)
	_, result := h.FetchEndpoint(context.Background(), testAPI(srv.URL), "stations", partitionDay(t))

	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, faults.ClassNonRetriable, result.ErrorClass)
	// No retry on 404.
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestMissingRequiredFieldIsValidation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, []Record{
			{"wrong_field": 1},
		})
	}))
	defer srv.Close()

	h, _ := newTestHarvester(t)
	records, result := h.FetchEndpoint(context.Background(), testAPI(srv.URL), "stations", partitionDay(t))

	assert.Nil(t, records)
	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, faults.ClassValidation, result.ErrorClass)
	assert.True(t, faults.IsKind(result.Err, faults.KindValidation))
}

func TestMalformedBodyIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>not json</html>")
	}))
	defer srv.Close()

	h, _ := newTestHarvester(t)
	_, result := h.FetchEndpoint(context.Background(), testAPI(srv.URL), "stations", partitionDay(t))

	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, faults.ClassNonRetriable, result.ErrorClass)
}

func TestMissingDataArrayIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"ok"}`)
	}))
	defer srv.Close()

	h, _ := newTestHarvester(t)
	_, result := h.FetchEndpoint(context.Background(), testAPI(srv.URL), "stations", partitionDay(t))

	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, faults.ClassNonRetriable, result.ErrorClass)
}

func TestFetchAPISiblingSurvivesFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/stations" {
			writeEnvelope(w, http.StatusOK, []Record{
				{"wrong_field": 1},
			})
			return
		}
		writeEnvelope(w, http.StatusOK, []Record{
			{"code_bss": "BSS001", "date_mesure": "2024-10-02T04:00:00"},
		})
	}))
	defer srv.Close()

	h, _ := newTestHarvester(t)
	records, report := h.FetchAPI(context.Background(), testAPI(srv.URL), partitionDay(t))

	assert.Equal(t, "partial_success", report.Outcome())
	assert.Equal(t, 1, report.Failed())
	assert.Equal(t, 1, report.Succeeded())
	assert.Contains(t, records, "chroniques_tr")
	assert.NotContains(t, records, "stations")

	for _, er := range report.Endpoints {
		if er.Endpoint == "stations" {
			assert.Equal(t, faults.ClassValidation, er.ErrorClass)
		}
	}
}

func TestCancellationBubbles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	h, _ := newTestHarvester(t)
	_, result := h.FetchEndpoint(ctx, testAPI(srv.URL), "stations", partitionDay(t))

	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, faults.ClassCancelled, result.ErrorClass)
}

func TestDeduplicateFirstWins(t *testing.T) {
	rule := &registry.DedupRule{
		DateField:     "date_mesure",
		GroupKeys:     []string{"code_bss"},
		TruncateToDay: true,
	}
	records := []Record{
		{"code_bss": "A", "date_mesure": "2024-10-02T04:00:00", "v": 1},
		{"code_bss": "A", "date_mesure": "2024-10-02T16:00:00", "v": 2},
		{"code_bss": "A", "date_mesure": "2024-10-03T04:00:00", "v": 3},
		{"code_bss": "B", "date_mesure": "2024-10-02T04:00:00", "v": 4},
		{"date_mesure": "2024-10-02T04:00:00", "v": 5}, // missing group key
	}

	out := Deduplicate(records, rule)
	require.Len(t, out, 3)
	assert.Equal(t, 1, out[0]["v"])
	assert.Equal(t, 3, out[1]["v"])
	assert.Equal(t, 4, out[2]["v"])
}

func TestDeduplicateWithoutTruncation(t *testing.T) {
	rule := &registry.DedupRule{
		DateField:     "annee",
		GroupKeys:     []string{"code_point_prelevement"},
		TruncateToDay: false,
	}
	records := []Record{
		{"code_point_prelevement": "P1", "annee": 2022, "volume": 100},
		{"code_point_prelevement": "P1", "annee": 2022, "volume": 200},
		{"code_point_prelevement": "P1", "annee": 2023, "volume": 300},
	}

	out := Deduplicate(records, rule)
	require.Len(t, out, 2)
	assert.Equal(t, 100, out[0]["volume"])
	assert.Equal(t, 300, out[1]["volume"])
}
