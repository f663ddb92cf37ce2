package gold

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brgmlab/hydropipe/internal/logging"
)

func testLogger() *logging.Logger {
	return logging.GetLogger("gold.test")
}

func TestCanonicalPair(t *testing.T) {
	a, b := CanonicalPair("B", "A")
	assert.Equal(t, "A", a)
	assert.Equal(t, "B", b)

	a, b = CanonicalPair("A", "B")
	assert.Equal(t, "A", a)
	assert.Equal(t, "B", b)
}

func TestQueryOptionsTimeoutInMilliseconds(t *testing.T) {
	assert.Nil(t, queryOptions(0))
	assert.Equal(t, 1500, queryOptions(1500*time.Millisecond).GetTimeout())
}

func TestMergeStationIsIdempotentUpsert(t *testing.T) {
	q := MergeStation("BSS001", "Forage", "piezo")
	assert.Contains(t, q.Query, "MERGE (s:Station {code: $code})")
	assert.Contains(t, q.Query, "ON CREATE SET")
	assert.Contains(t, q.Query, "ON MATCH SET")
	assert.Equal(t, "BSS001", q.Parameters["code"])
}

func TestMergeNearParameters(t *testing.T) {
	q := MergeNear("A", "B", 1.4)
	assert.Contains(t, q.Query, "MERGE (a)-[r:NEAR]->(b)")
	assert.Equal(t, 1.4, q.Parameters["distance_km"])
}

func TestRelationMergesMatchEndpoints(t *testing.T) {
	// Relations must MATCH both endpoints rather than create them.
	for _, q := range []GraphQuery{
		MergeLocatedIn("S", "60176"),
		MergeInMasse("S", "121AA01"),
		MergeBelongsTo("S", "RES1"),
		MergeHasParam("S", "1340"),
		MergeNear("A", "B", 1.0),
		MergeCorrelated("A", "B", 0.9, 90),
		MergeCorrelatedWith("A", "B", 3, 1.5),
		MergeNearestGrid("S", 7, 12.5),
	} {
		assert.Contains(t, q.Query, "MATCH (")
		assert.Contains(t, q.Query, "MERGE (")
	}
}

// fakeClient records executed statements and optionally fails some of them.
type fakeClient struct {
	queries   []GraphQuery
	failNext  int
	nodeCount int
}

func (f *fakeClient) Connect(ctx context.Context) error          { return nil }
func (f *fakeClient) Close() error                               { return nil }
func (f *fakeClient) Ping(ctx context.Context) error             { return nil }
func (f *fakeClient) InitializeSchema(ctx context.Context) error { return nil }

func (f *fakeClient) ExecuteQuery(ctx context.Context, query GraphQuery) (*QueryResult, error) {
	f.queries = append(f.queries, query)
	if f.failNext > 0 {
		f.failNext--
		return nil, assert.AnError
	}
	return &QueryResult{Stats: QueryStats{NodesDeleted: f.nodeCount}}, nil
}

func TestSyncPassContinuesAfterMergeFailure(t *testing.T) {
	client := &fakeClient{failNext: 1}
	s := &Synchronizer{client: client, radiusKm: DefaultNearRadiusKm}
	s.logger = testLogger()

	stations := []stationEntity{
		{Code: "A", Insee: "60176"},
		{Code: "B", Insee: "60176"},
	}

	report := &SyncReport{}
	s.mergeStationNodes(context.Background(), stations, report)

	// First merge failed, the rest went through: station B + shared commune.
	assert.Equal(t, 1, report.Errors)
	assert.Equal(t, 2, report.Nodes)
	assert.Len(t, client.queries, 3)
}

func TestMergeNearSkipsStationsWithoutGeometry(t *testing.T) {
	client := &fakeClient{}
	s := &Synchronizer{client: client, radiusKm: DefaultNearRadiusKm}
	s.logger = testLogger()

	lonA, latA := 2.35, 48.85
	lonB, latB := 2.36, 48.86

	stations := []stationEntity{
		{Code: "A", Lon: &lonA, Lat: &latA},
		{Code: "B", Lon: &lonB, Lat: &latB},
		{Code: "C"},
	}

	report := &SyncReport{}
	s.mergeNear(context.Background(), stations, report)

	require.Len(t, client.queries, 1)
	assert.Equal(t, 1, report.Edges)
	assert.Equal(t, "A", client.queries[0].Parameters["code1"])
	assert.Equal(t, "B", client.queries[0].Parameters["code2"])
}
