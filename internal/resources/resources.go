// Package resources owns the shared external connections of the process:
// the HTTP client, the bronze object store, the warehouse pool, the graph
// client and the run-state cache. Assets reach them by name through the
// scheduler's resource provider contract.
package resources

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/brgmlab/hydropipe/internal/bronze"
	"github.com/brgmlab/hydropipe/internal/config"
	"github.com/brgmlab/hydropipe/internal/faults"
	"github.com/brgmlab/hydropipe/internal/gold"
	"github.com/brgmlab/hydropipe/internal/logging"
	"github.com/brgmlab/hydropipe/internal/silver"
)

// Resource names assets declare in their Resources list.
const (
	NameHTTP        = "http"
	NameObjectStore = "object_store"
	NameWarehouse   = "warehouse"
	NameGraph       = "graph"
	NameCache       = "cache"
)

const defaultHTTPTimeout = 60 * time.Second

// Resources holds the shared connection handles. Construct with New, then
// register with the lifecycle manager so Start establishes the connections
// before any asset runs.
type Resources struct {
	cfg    *config.Config
	logger *logging.Logger

	httpClient *http.Client
	store      bronze.ObjectStore
	pool       *pgxpool.Pool
	graph      gold.Client
	cache      *redis.Client
}

// New prepares the resource set. The HTTP and cache clients are built
// immediately (go-redis connects lazily); everything else connects in Start.
func New(cfg *config.Config) (*Resources, error) {
	cacheOpts, err := redis.ParseURL(cfg.Cache.URI)
	if err != nil {
		return nil, faults.Config("invalid cache.uri %q: %v", cfg.Cache.URI, err)
	}
	return &Resources{
		cfg:    cfg,
		logger: logging.GetLogger("resources"),
		httpClient: &http.Client{
			Timeout: defaultHTTPTimeout,
		},
		cache: redis.NewClient(cacheOpts),
	}, nil
}

// Start establishes all external connections and verifies each one. It also
// ensures the bronze buckets exist and the warehouse schema is bootstrapped,
// so asset producers can assume both.
func (r *Resources) Start(ctx context.Context) error {
	store, err := bronze.NewMinioStore(bronze.MinioConfig{
		Endpoint:  r.cfg.Object.Endpoint,
		AccessKey: r.cfg.Object.AccessKey,
		SecretKey: r.cfg.Object.SecretKey,
		UseSSL:    r.cfg.Object.UseSSL,
	})
	if err != nil {
		return err
	}
	for _, bucket := range r.cfg.Object.Buckets {
		if err := store.EnsureBucket(ctx, bucket); err != nil {
			return err
		}
	}
	r.store = store
	r.logger.Info("Object store ready at %s (%d buckets)", r.cfg.Object.Endpoint, len(r.cfg.Object.Buckets))

	pool, err := pgxpool.New(ctx, r.cfg.Warehouse.DSN)
	if err != nil {
		return faults.Config("warehouse pool: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return faults.WarehouseWrite(err, "ping warehouse")
	}
	if err := silver.Bootstrap(ctx, pool); err != nil {
		pool.Close()
		return err
	}
	r.pool = pool
	r.logger.Info("Warehouse ready, schema bootstrapped")

	graph := gold.NewClient(gold.ClientConfig{
		Host:         r.cfg.Graph.Host,
		Port:         r.cfg.Graph.Port,
		Password:     r.cfg.Graph.Password,
		GraphName:    r.cfg.Graph.GraphName,
		MaxRetries:   gold.DefaultClientConfig().MaxRetries,
		DialTimeout:  gold.DefaultClientConfig().DialTimeout,
		ReadTimeout:  gold.DefaultClientConfig().ReadTimeout,
		WriteTimeout: gold.DefaultClientConfig().WriteTimeout,
		PoolSize:     gold.DefaultClientConfig().PoolSize,
	})
	if err := graph.Connect(ctx); err != nil {
		r.closeStarted()
		return err
	}
	if err := graph.InitializeSchema(ctx); err != nil {
		r.closeStarted()
		return err
	}
	r.graph = graph
	r.logger.Info("Graph ready at %s:%d (graph: %s)", r.cfg.Graph.Host, r.cfg.Graph.Port, r.cfg.Graph.GraphName)

	if err := r.cache.Ping(ctx).Err(); err != nil {
		r.closeStarted()
		return faults.Transient(err, "ping cache")
	}
	r.logger.Info("Run-state cache ready")

	return nil
}

// Stop closes all connections in reverse acquisition order.
func (r *Resources) Stop(ctx context.Context) error {
	r.closeStarted()
	r.logger.Info("All resources closed")
	return nil
}

func (r *Resources) closeStarted() {
	if r.cache != nil {
		if err := r.cache.Close(); err != nil {
			r.logger.Warn("Error closing cache: %v", err)
		}
		r.cache = nil
	}
	if r.graph != nil {
		if err := r.graph.Close(); err != nil {
			r.logger.Warn("Error closing graph client: %v", err)
		}
		r.graph = nil
	}
	if r.pool != nil {
		r.pool.Close()
		r.pool = nil
	}
	r.store = nil
}

// Name implements lifecycle.Component.
func (r *Resources) Name() string {
	return "resources"
}

// Resource resolves a handle by name for asset producers.
func (r *Resources) Resource(name string) (interface{}, bool) {
	switch name {
	case NameHTTP:
		return r.httpClient, r.httpClient != nil
	case NameObjectStore:
		return r.store, r.store != nil
	case NameWarehouse:
		return r.pool, r.pool != nil
	case NameGraph:
		return r.graph, r.graph != nil
	case NameCache:
		return r.cache, r.cache != nil
	default:
		return nil, false
	}
}

// HTTP returns the shared HTTP client used by the harvester.
func (r *Resources) HTTP() *http.Client { return r.httpClient }

// ObjectStore returns the bronze object store.
func (r *Resources) ObjectStore() bronze.ObjectStore { return r.store }

// Warehouse returns the silver warehouse pool.
func (r *Resources) Warehouse() *pgxpool.Pool { return r.pool }

// Graph returns the gold graph client.
func (r *Resources) Graph() gold.Client { return r.graph }

// Cache returns the redis client backing run state and sensor cursors.
func (r *Resources) Cache() *redis.Client { return r.cache }
