package lifecycle

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeComponent struct {
	name     string
	startErr error
	log      *[]string
}

func (f *fakeComponent) Name() string { return f.name }

func (f *fakeComponent) Start(ctx context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	*f.log = append(*f.log, "start:"+f.name)
	return nil
}

func (f *fakeComponent) Stop(ctx context.Context) error {
	*f.log = append(*f.log, "stop:"+f.name)
	return nil
}

func TestStartStopOrder(t *testing.T) {
	var log []string
	resources := &fakeComponent{name: "resources", log: &log}
	state := &fakeComponent{name: "state", log: &log}
	sched := &fakeComponent{name: "scheduler", log: &log}

	m := NewManager()
	require.NoError(t, m.Register(resources))
	require.NoError(t, m.Register(state, resources))
	require.NoError(t, m.Register(sched, state))

	ctx := context.Background()
	require.NoError(t, m.Start(ctx))
	assert.Equal(t, []string{"start:resources", "start:state", "start:scheduler"}, log)
	assert.True(t, m.IsRunning(sched))

	require.NoError(t, m.Stop(ctx))
	assert.Equal(t, []string{
		"start:resources", "start:state", "start:scheduler",
		"stop:scheduler", "stop:state", "stop:resources",
	}, log)
	assert.False(t, m.IsRunning(resources))
}

func TestStartFailureRollsBack(t *testing.T) {
	var log []string
	resources := &fakeComponent{name: "resources", log: &log}
	broken := &fakeComponent{name: "scheduler", startErr: errors.New("no redis"), log: &log}

	m := NewManager()
	require.NoError(t, m.Register(resources))
	require.NoError(t, m.Register(broken, resources))

	err := m.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheduler")
	// Started components stop in reverse during rollback.
	assert.Equal(t, []string{"start:resources", "stop:resources"}, log)
}

func TestRegisterValidation(t *testing.T) {
	var log []string
	a := &fakeComponent{name: "a", log: &log}
	b := &fakeComponent{name: "b", log: &log}
	unregistered := &fakeComponent{name: "ghost", log: &log}

	m := NewManager()
	assert.Error(t, m.Register(nil))
	assert.Error(t, m.Register(&fakeComponent{name: "", log: &log}))

	require.NoError(t, m.Register(a))
	assert.Error(t, m.Register(a))
	assert.Error(t, m.Register(b, unregistered))
	require.NoError(t, m.Register(b, a))
}
