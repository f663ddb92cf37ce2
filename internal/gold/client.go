// Package gold synchronizes the silver warehouse into the FalkorDB property
// graph. Every merge is idempotent, so a failed pass leaves a prefix of the
// graph applied and the next pass completes the rest.
package gold

import (
	"context"
	"fmt"
	"time"

	"github.com/FalkorDB/falkordb-go/v2"

	"github.com/brgmlab/hydropipe/internal/faults"
	"github.com/brgmlab/hydropipe/internal/logging"
)

// NodeType labels a graph node.
type NodeType string

// EdgeType labels a graph relation.
type EdgeType string

// Graph node and edge types.
const (
	NodeStation   NodeType = "Station"
	NodeCommune   NodeType = "Commune"
	NodeMasseEau  NodeType = "MasseEau"
	NodeParametre NodeType = "Parametre"
	NodeReseau    NodeType = "Reseau"
	NodeMeteoGrid NodeType = "MeteoGrid"

	EdgeLocatedIn      EdgeType = "LOCATED_IN"
	EdgeInMasse        EdgeType = "IN_MASSE"
	EdgeBelongsTo      EdgeType = "BELONGS_TO"
	EdgeHasParam       EdgeType = "HAS_PARAM"
	EdgeNear           EdgeType = "NEAR"
	EdgeCorrelated     EdgeType = "CORRELATED"
	EdgeCorrelatedWith EdgeType = "CORRELATED_WITH"
	EdgeNearestGrid    EdgeType = "NEAREST_GRID"
)

// GraphQuery is one parameterized Cypher statement.
type GraphQuery struct {
	Query      string
	Parameters map[string]interface{}
	Timeout    time.Duration
}

// QueryStats carries the write counters FalkorDB reports per statement.
type QueryStats struct {
	NodesCreated         int
	NodesDeleted         int
	RelationshipsCreated int
	RelationshipsDeleted int
	PropertiesSet        int
	ExecutionTime        time.Duration
}

// QueryResult is a parsed statement result.
type QueryResult struct {
	Columns []string
	Rows    [][]interface{}
	Stats   QueryStats
}

// Client is the graph store interface the synchronizer runs against.
type Client interface {
	Connect(ctx context.Context) error
	Close() error
	Ping(ctx context.Context) error
	ExecuteQuery(ctx context.Context, query GraphQuery) (*QueryResult, error)
	InitializeSchema(ctx context.Context) error
}

// ClientConfig holds connection settings for the FalkorDB client.
type ClientConfig struct {
	Host         string
	Port         int
	Password     string
	GraphName    string
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
}

// DefaultClientConfig returns the default connection settings.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Host:         "localhost",
		Port:         6379,
		GraphName:    "hydropipe",
		MaxRetries:   3,
		DialTimeout:  30 * time.Second,
		ReadTimeout:  120 * time.Second,
		WriteTimeout: 120 * time.Second,
		PoolSize:     10,
	}
}

type falkorClient struct {
	config ClientConfig
	logger *logging.Logger
	db     *falkordb.FalkorDB
	graph  *falkordb.Graph
}

// NewClient creates a FalkorDB-backed graph client.
func NewClient(config ClientConfig) Client {
	return &falkorClient{
		config: config,
		logger: logging.GetLogger("gold.client"),
	}
}

func (c *falkorClient) Connect(ctx context.Context) error {
	c.logger.Info("Connecting to FalkorDB at %s:%d (graph: %s)", c.config.Host, c.config.Port, c.config.GraphName)

	// falkordb.ConnectionOption is an alias for redis.Options.
	connOpts := &falkordb.ConnectionOption{
		Addr:         fmt.Sprintf("%s:%d", c.config.Host, c.config.Port),
		Password:     c.config.Password,
		DialTimeout:  c.config.DialTimeout,
		ReadTimeout:  c.config.ReadTimeout,
		WriteTimeout: c.config.WriteTimeout,
		PoolSize:     c.config.PoolSize,
		MaxRetries:   c.config.MaxRetries,
	}

	db, err := falkordb.FalkorDBNew(connOpts)
	if err != nil {
		return faults.GraphWrite(err, "connect to FalkorDB")
	}
	c.db = db
	c.graph = db.SelectGraph(c.config.GraphName)
	return nil
}

func (c *falkorClient) Close() error {
	if c.db != nil && c.db.Conn != nil {
		return c.db.Conn.Close()
	}
	return nil
}

func (c *falkorClient) Ping(ctx context.Context) error {
	if c.graph == nil {
		return faults.GraphWrite(nil, "client not connected")
	}
	_, err := c.graph.Query("RETURN 1", nil, nil)
	if err != nil {
		return faults.GraphWrite(err, "ping graph")
	}
	return nil
}

func (c *falkorClient) ExecuteQuery(ctx context.Context, query GraphQuery) (*QueryResult, error) {
	if c.graph == nil {
		return nil, faults.GraphWrite(nil, "client not connected")
	}

	startTime := time.Now()
	result, err := c.graph.Query(query.Query, query.Parameters, queryOptions(query.Timeout))
	if err != nil {
		return nil, faults.GraphWrite(err, "execute graph query")
	}

	queryResult := convertFalkorDBResult(result)
	queryResult.Stats.ExecutionTime = time.Since(startTime)
	return queryResult, nil
}

// queryOptions converts a statement timeout into falkordb options. The
// server-side TIMEOUT is expressed in milliseconds.
func queryOptions(timeout time.Duration) *falkordb.QueryOptions {
	if timeout <= 0 {
		return nil
	}
	return falkordb.NewQueryOptions().SetTimeout(int(timeout / time.Millisecond))
}

// convertFalkorDBResult maps a falkordb result onto QueryResult. Column
// names come from the first record.
func convertFalkorDBResult(result *falkordb.QueryResult) *QueryResult {
	qr := &QueryResult{
		Columns: []string{},
		Rows:    [][]interface{}{},
	}

	firstRow := true
	for result.Next() {
		record := result.Record()
		if firstRow {
			qr.Columns = record.Keys()
			firstRow = false
		}
		qr.Rows = append(qr.Rows, record.Values())
	}

	qr.Stats.NodesCreated = result.NodesCreated()
	qr.Stats.NodesDeleted = result.NodesDeleted()
	qr.Stats.RelationshipsCreated = result.RelationshipsCreated()
	qr.Stats.RelationshipsDeleted = result.RelationshipsDeleted()
	qr.Stats.PropertiesSet = result.PropertiesSet()

	return qr
}

// schemaIndexes are created on every start. FalkorDB errors when an index
// already exists, so failures are logged and skipped.
var schemaIndexes = []string{
	"CREATE INDEX FOR (n:Station) ON (n.code)",
	"CREATE INDEX FOR (n:Station) ON (n.type)",
	"CREATE INDEX FOR (n:Commune) ON (n.insee)",
	"CREATE INDEX FOR (n:MasseEau) ON (n.code)",
	"CREATE INDEX FOR (n:Parametre) ON (n.code)",
	"CREATE INDEX FOR (n:Reseau) ON (n.code)",
	"CREATE INDEX FOR (n:MeteoGrid) ON (n.grid_id)",
}

func (c *falkorClient) InitializeSchema(ctx context.Context) error {
	c.logger.Info("Initializing graph schema for graph: %s", c.config.GraphName)

	for _, indexQuery := range schemaIndexes {
		if _, err := c.ExecuteQuery(ctx, GraphQuery{Query: indexQuery}); err != nil {
			c.logger.Warn("Failed to create index (may already exist): %v", err)
		}
	}
	return nil
}
