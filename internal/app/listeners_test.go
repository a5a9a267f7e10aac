package app

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idylle/internal/config"
)

func noopState(context.Context, *Application) error { return nil }

func TestStageNames(t *testing.T) {
	stages := Stages()
	require.Len(t, stages, 12)
	assert.Equal(t, StageDependencies, stages[0])
	assert.Equal(t, StageClean, stages[len(stages)-1])
	for i := 1; i < len(stages); i++ {
		assert.Less(t, stages[i-1], stages[i])
	}

	registrable := []string{
		"init.dependencies", "init.transport", "init.settings", "init.middlewares",
		"init.models", "init.cache", "init.actions", "init.routes", "booting", "started",
	}
	for _, name := range registrable {
		s, err := ParseStage(name)
		require.NoError(t, err, name)
		assert.Equal(t, name, s.String())
		assert.True(t, s.Registrable())
	}

	for _, name := range []string{"start", "clean", "init.bogus", ""} {
		_, err := ParseStage(name)
		assert.ErrorIs(t, err, ErrUnknownStage, name)
	}
	assert.Equal(t, "stage(42)", Stage(42).String())
}

func TestListenersRegister(t *testing.T) {
	l := NewListeners()

	got, err := l.Register(StageModels, StateListener(noopState))
	require.NoError(t, err)
	assert.Same(t, l, got)

	_, err = l.Register(StageSettings, StateListener(noopState))
	assert.ErrorIs(t, err, ErrListenerMismatch)

	_, err = l.Register(StageModels, SettingsListener(func(context.Context, *config.Settings) error { return nil }))
	assert.ErrorIs(t, err, ErrListenerMismatch)

	_, err = l.Register(StageModels, StateListener(nil))
	assert.ErrorIs(t, err, ErrNilListener)

	_, err = l.Register(StageModels, nil)
	assert.ErrorIs(t, err, ErrNilListener)

	_, err = l.Register(StageStart, StateListener(noopState))
	assert.ErrorIs(t, err, ErrUnknownStage)

	_, err = l.Register(StageClean, StateListener(noopState))
	assert.ErrorIs(t, err, ErrUnknownStage)

	_, err = l.Register(StageTransport, TransportListener(func(context.Context) (Transport, error) { return nil, nil }))
	require.NoError(t, err)
	_, err = l.Register(StageDependencies, DependenciesListener(func(context.Context) (*Dependencies, error) { return nil, nil }))
	require.NoError(t, err)

	assert.Len(t, l.For(StageModels), 1)
	assert.Equal(t, 3, l.Len())

	l.close()
	_, err = l.Register(StageModels, StateListener(noopState))
	assert.ErrorIs(t, err, ErrRegistryClosed)

	l.Clear()
	l.Clear()
	assert.Zero(t, l.Len())
	assert.Empty(t, l.For(StageModels))
}

func TestListenersKeepRegistrationOrder(t *testing.T) {
	l := NewListeners()
	var order []int
	for i := 0; i < 3; i++ {
		_, err := l.Register(StageBooting, StateListener(func(context.Context, *Application) error {
			order = append(order, i)
			return nil
		}))
		require.NoError(t, err)
	}

	for _, fn := range l.For(StageBooting) {
		require.NoError(t, fn.(StateListener)(context.Background(), nil))
	}
	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestResolve(t *testing.T) {
	l := NewListeners()

	res := Resolve(l, StageActions)
	assert.True(t, res.IsDefault())
	assert.Empty(t, res.Listeners())

	_, err := l.Register(StageActions, StateListener(noopState))
	require.NoError(t, err)
	res = Resolve(l, StageActions)
	assert.False(t, res.IsDefault())
	assert.Len(t, res.Listeners(), 1)

	// other stages are unaffected
	assert.True(t, Resolve(l, StageModels).IsDefault())

	assert.True(t, UseListeners(nil).IsDefault())
	assert.True(t, UseDefault().IsDefault())
}

func TestRegistry(t *testing.T) {
	r := NewRegistry[int]("model")

	require.NoError(t, r.Register("b", 2))
	require.NoError(t, r.Register("a", 1))

	err := r.Register("a", 3)
	assert.ErrorIs(t, err, ErrDuplicateName)
	assert.Contains(t, err.Error(), `model "a"`)
	assert.ErrorIs(t, r.Register("", 0), ErrEmptyName)

	v, ok := r.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	_, ok = r.Get("missing")
	assert.False(t, ok)

	assert.Equal(t, []string{"a", "b"}, r.Names())
	assert.Equal(t, 2, r.Len())

	var seen []string
	r.Each(func(name string, v int) { seen = append(seen, fmt.Sprintf("%s=%d", name, v)) })
	assert.Equal(t, []string{"a=1", "b=2"}, seen)

	r.freeze()
	assert.True(t, r.Frozen())
	assert.ErrorIs(t, r.Register("c", 3), ErrRegistryFrozen)
}

func TestRegistryRegisterAll(t *testing.T) {
	r := NewRegistry[string]("action")
	require.NoError(t, r.Register("m", "existing"))

	// entries are applied in name order, so the collision is always "m"
	err := r.RegisterAll(map[string]string{"z": "z", "m": "m", "a": "a"})
	require.ErrorIs(t, err, ErrDuplicateName)
	assert.Contains(t, err.Error(), `"m"`)
	assert.Equal(t, []string{"a", "m"}, r.Names())
}

func TestRegistryConcurrentRegistration(t *testing.T) {
	r := NewRegistry[int]("action")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, r.Register(fmt.Sprintf("action.%02d", i), i))
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, r.Len())
	v, ok := r.Get("action.07")
	require.True(t, ok)
	assert.Equal(t, 7, v)
}
