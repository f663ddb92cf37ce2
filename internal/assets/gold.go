package assets

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brgmlab/hydropipe/internal/faults"
	"github.com/brgmlab/hydropipe/internal/gold"
	"github.com/brgmlab/hydropipe/internal/resources"
	"github.com/brgmlab/hydropipe/internal/scheduler"
)

// goldSyncAsset rebuilds the property graph from the current silver state.
// It runs after every silver load of the partition; merges are idempotent
// so re-running is safe.
func (b *Builder) goldSyncAsset() *scheduler.Asset {
	return &scheduler.Asset{
		Name: GoldSync,
		Deps: []string{
			SilverPiezo, SilverHydro, SilverTemperature,
			SilverQualitySurface, SilverQualityGroundwater,
			SilverPrelevements, SilverOnde, SilverMeteo, SilverSandre,
		},
		Partitions: b.spec(scheduler.CadenceDaily),
		Resources:  []string{resources.NameWarehouse, resources.NameGraph},
		Producer: func(ctx context.Context, run *scheduler.RunContext) (scheduler.Result, error) {
			synchronizer, err := b.synchronizer(run)
			if err != nil {
				return scheduler.Result{}, err
			}
			report, err := synchronizer.Sync(ctx)
			if err != nil {
				return scheduler.Result{}, err
			}
			return scheduler.Result{
				Records: report.Nodes + report.Edges,
				Details: map[string]interface{}{
					"nodes":  report.Nodes,
					"edges":  report.Edges,
					"errors": report.Errors,
				},
			}, nil
		},
	}
}

// goldReconcileAsset removes graph stations no longer present in silver.
func (b *Builder) goldReconcileAsset() *scheduler.Asset {
	return &scheduler.Asset{
		Name:       GoldReconcile,
		Deps:       []string{GoldSync},
		Partitions: b.spec(scheduler.CadenceDaily),
		Resources:  []string{resources.NameWarehouse, resources.NameGraph},
		Producer: func(ctx context.Context, run *scheduler.RunContext) (scheduler.Result, error) {
			synchronizer, err := b.synchronizer(run)
			if err != nil {
				return scheduler.Result{}, err
			}
			deleted, err := synchronizer.Reconcile(ctx)
			if err != nil {
				return scheduler.Result{}, err
			}
			return scheduler.Result{
				Records: deleted,
				Details: map[string]interface{}{"deleted": deleted},
			}, nil
		},
	}
}

// synchronizer resolves the warehouse pool and graph client into a
// gold synchronizer.
func (b *Builder) synchronizer(run *scheduler.RunContext) (*gold.Synchronizer, error) {
	poolHandle, err := run.Resource(resources.NameWarehouse)
	if err != nil {
		return nil, err
	}
	pool, ok := poolHandle.(*pgxpool.Pool)
	if !ok {
		return nil, faults.Config("resource %q is not a warehouse pool", resources.NameWarehouse)
	}
	graphHandle, err := run.Resource(resources.NameGraph)
	if err != nil {
		return nil, err
	}
	client, ok := graphHandle.(gold.Client)
	if !ok {
		return nil, faults.Config("resource %q is not a graph client", resources.NameGraph)
	}
	return gold.NewSynchronizer(pool, client), nil
}
