package scheduler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopProducer(ctx context.Context, run *RunContext) (Result, error) {
	return Result{}, nil
}

func testAsset(name string, deps ...string) *Asset {
	return &Asset{Name: name, Deps: deps, Producer: noopProducer}
}

func TestRegisterValidation(t *testing.T) {
	r := NewRegistry()

	assert.Error(t, r.Register(nil))
	assert.Error(t, r.Register(&Asset{Producer: noopProducer}))
	assert.Error(t, r.Register(&Asset{Name: "no-producer"}))

	require.NoError(t, r.Register(testAsset("bronze")))
	assert.Error(t, r.Register(testAsset("bronze")))

	// Dependency must exist before the dependent.
	assert.Error(t, r.Register(testAsset("gold", "silver")))
	require.NoError(t, r.Register(testAsset("silver", "bronze")))
	require.NoError(t, r.Register(testAsset("gold", "silver")))
}

func TestRegisterRejectsCycle(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(testAsset("a")))
	require.NoError(t, r.Register(testAsset("b", "a")))

	assert.Error(t, r.Register(testAsset("a", "b")))
}

func TestExpandClosure(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(testAsset("bronze")))
	require.NoError(t, r.Register(testAsset("silver", "bronze")))
	require.NoError(t, r.Register(testAsset("gold", "silver")))
	require.NoError(t, r.Register(testAsset("unrelated")))

	closure, err := r.Expand([]string{"gold"})
	require.NoError(t, err)
	assert.Equal(t, []string{"bronze", "gold", "silver"}, closure)

	_, err = r.Expand([]string{"missing"})
	assert.Error(t, err)
}

func TestWavesTopologicalLevels(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(testAsset("piezo_bronze")))
	require.NoError(t, r.Register(testAsset("hydro_bronze")))
	require.NoError(t, r.Register(testAsset("piezo_silver", "piezo_bronze")))
	require.NoError(t, r.Register(testAsset("hydro_silver", "hydro_bronze")))
	require.NoError(t, r.Register(testAsset("graph", "piezo_silver", "hydro_silver")))

	waves, err := r.Waves([]string{"graph"})
	require.NoError(t, err)
	require.Len(t, waves, 3)
	assert.Equal(t, []string{"hydro_bronze", "piezo_bronze"}, waves[0])
	assert.Equal(t, []string{"hydro_silver", "piezo_silver"}, waves[1])
	assert.Equal(t, []string{"graph"}, waves[2])
}

func TestWavesIgnoreDepsOutsideClosure(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(testAsset("bronze")))
	require.NoError(t, r.Register(testAsset("silver", "bronze")))

	// Materializing only silver still yields a single wave.
	waves, err := r.Waves([]string{"silver"})
	require.NoError(t, err)
	require.Len(t, waves, 2)
	assert.Equal(t, []string{"bronze"}, waves[0])
	assert.Equal(t, []string{"silver"}, waves[1])
}
