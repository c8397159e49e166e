package hooks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/superdisco-agents/moai-flow-sub007/pkg/config"
	"github.com/superdisco-agents/moai-flow-sub007/pkg/swarmerr"
	"github.com/superdisco-agents/moai-flow-sub007/pkg/types"
)

func noop(context.Context, *types.HookContext) error { return nil }

func TestRegisterHookDuplicateNameFails(t *testing.T) {
	s := New(config.DefaultHookConfig())
	require.NoError(t, s.RegisterHook(&Hook{Name: "a", EventType: types.EventTaskStart, Fn: noop}))
	err := s.RegisterHook(&Hook{Name: "a", EventType: types.EventTaskStart, Fn: noop})
	require.ErrorIs(t, err, swarmerr.ErrDuplicateHook)
}

func TestRegisterHookSelfDependencyFails(t *testing.T) {
	s := New(config.DefaultHookConfig())
	err := s.RegisterHook(&Hook{Name: "a", EventType: types.EventTaskStart, Fn: noop, Dependencies: []string{"a"}})
	require.Error(t, err)
	var depErr *swarmerr.HookDependencyError
	require.ErrorAs(t, err, &depErr)
}

func TestRegisterHookCycleFails(t *testing.T) {
	s := New(config.DefaultHookConfig())
	require.NoError(t, s.RegisterHook(&Hook{Name: "a", EventType: types.EventTaskStart, Fn: noop, Dependencies: []string{"b"}}))
	err := s.RegisterHook(&Hook{Name: "b", EventType: types.EventTaskStart, Fn: noop, Dependencies: []string{"a"}})
	require.ErrorIs(t, err, swarmerr.ErrHookCycle)

	// the cycle attempt must not leave "b" half-registered
	require.NoError(t, s.RegisterHook(&Hook{Name: "b", EventType: types.EventTaskStart, Fn: noop}))
}

func TestUnregisterHookIsIdempotent(t *testing.T) {
	s := New(config.DefaultHookConfig())
	assert.False(t, s.UnregisterHook("ghost"))

	require.NoError(t, s.RegisterHook(&Hook{Name: "a", EventType: types.EventTaskStart, Fn: noop}))
	assert.True(t, s.UnregisterHook("a"))
	assert.False(t, s.UnregisterHook("a"))
}

func TestFireDispatchesInDependencyAndPriorityOrder(t *testing.T) {
	s := New(config.DefaultHookConfig())
	var order []string
	var mu sync.Mutex
	record := func(name string) Callable {
		return func(context.Context, *types.HookContext) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	require.NoError(t, s.RegisterHook(&Hook{Name: "low", EventType: types.EventTaskStart, Fn: record("low"), Priority: types.PriorityNormal}))
	require.NoError(t, s.RegisterHook(&Hook{Name: "high", EventType: types.EventTaskStart, Fn: record("high"), Priority: types.PriorityCritical}))
	require.NoError(t, s.RegisterHook(&Hook{Name: "after-high", EventType: types.EventTaskStart, Fn: record("after-high"), Dependencies: []string{"high"}}))

	_, err := s.Fire(context.Background(), types.EventTaskStart, &types.HookContext{EventType: types.EventTaskStart})
	require.NoError(t, err)

	assert.Equal(t, []string{"high", "after-high", "low"}, order)
}

func TestFireSkipsHooksWhosePredicateFails(t *testing.T) {
	s := New(config.DefaultHookConfig())
	ran := false
	require.NoError(t, s.RegisterHook(&Hook{
		Name:       "conditional",
		EventType:  types.EventTaskStart,
		Fn:         func(context.Context, *types.HookContext) error { ran = true; return nil },
		Predicates: []Predicate{func(*types.HookContext) bool { return false }},
	}))

	_, err := s.Fire(context.Background(), types.EventTaskStart, &types.HookContext{EventType: types.EventTaskStart})
	require.NoError(t, err)
	assert.False(t, ran)
}

func TestFireHaltsOnFailureWithoutGracefulDegradation(t *testing.T) {
	cfg := config.DefaultHookConfig()
	cfg.GracefulDegradation = false
	cfg.DefaultSyncTimeout = 50 * time.Millisecond
	s := New(cfg)

	secondRan := false
	require.NoError(t, s.RegisterHook(&Hook{
		Name:      "failing",
		EventType: types.EventTaskStart,
		Priority:  types.PriorityCritical,
		Fn:        func(context.Context, *types.HookContext) error { return errors.New("boom") },
	}))
	require.NoError(t, s.RegisterHook(&Hook{
		Name:      "never",
		EventType: types.EventTaskStart,
		Priority:  types.PriorityDeferred,
		Fn:        func(context.Context, *types.HookContext) error { secondRan = true; return nil },
	}))

	_, err := s.Fire(context.Background(), types.EventTaskStart, &types.HookContext{EventType: types.EventTaskStart})
	require.Error(t, err)
	assert.False(t, secondRan)
}

func TestFireContinuesOnFailureWithGracefulDegradation(t *testing.T) {
	cfg := config.DefaultHookConfig()
	cfg.GracefulDegradation = true
	cfg.DefaultSyncTimeout = 50 * time.Millisecond
	cfg.MaxRetries = 0
	s := New(cfg)

	secondRan := false
	require.NoError(t, s.RegisterHook(&Hook{
		Name:      "failing",
		EventType: types.EventTaskStart,
		Priority:  types.PriorityCritical,
		Fn:        func(context.Context, *types.HookContext) error { return errors.New("boom") },
	}))
	require.NoError(t, s.RegisterHook(&Hook{
		Name:      "next",
		EventType: types.EventTaskStart,
		Priority:  types.PriorityDeferred,
		Fn:        func(context.Context, *types.HookContext) error { secondRan = true; return nil },
	}))

	results, err := s.Fire(context.Background(), types.EventTaskStart, &types.HookContext{EventType: types.EventTaskStart})
	require.NoError(t, err)
	assert.True(t, secondRan)
	require.Len(t, results, 2)
	assert.False(t, results[0].Success)
	assert.True(t, results[1].Success)
}

func TestFireAsyncHookDoesNotBlockCaller(t *testing.T) {
	cfg := config.DefaultHookConfig()
	cfg.AsyncConcurrency = 2
	s := New(cfg)

	release := make(chan struct{})
	done := make(chan struct{})
	require.NoError(t, s.RegisterHook(&Hook{
		Name:      "slow-async",
		EventType: types.EventTaskComplete,
		Executor:  types.ExecutorAsync,
		Fn: func(context.Context, *types.HookContext) error {
			<-release
			close(done)
			return nil
		},
	}))

	start := time.Now()
	results, err := s.Fire(context.Background(), types.EventTaskComplete, &types.HookContext{EventType: types.EventTaskComplete})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 20*time.Millisecond)
	assert.Empty(t, results)

	close(release)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("async hook never ran")
	}
}

func TestFireRetriesSyncHookUntilSuccess(t *testing.T) {
	cfg := config.DefaultHookConfig()
	cfg.MaxRetries = 2
	cfg.DefaultSyncTimeout = time.Second
	s := New(cfg)

	attempts := 0
	require.NoError(t, s.RegisterHook(&Hook{
		Name:      "flaky",
		EventType: types.EventTaskStart,
		MaxRetries: 2,
		Fn: func(context.Context, *types.HookContext) error {
			attempts++
			if attempts < 3 {
				return errors.New("transient")
			}
			return nil
		},
	}))

	results, err := s.Fire(context.Background(), types.EventTaskStart, &types.HookContext{EventType: types.EventTaskStart})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Equal(t, 3, attempts)
}

func TestFireUnknownDependencyFailsAtDispatch(t *testing.T) {
	s := New(config.DefaultHookConfig())
	require.NoError(t, s.RegisterHook(&Hook{Name: "a", EventType: types.EventTaskStart, Fn: noop, Dependencies: []string{"missing"}}))

	_, err := s.Fire(context.Background(), types.EventTaskStart, &types.HookContext{EventType: types.EventTaskStart})
	require.Error(t, err)
	var depErr *swarmerr.HookDependencyError
	require.ErrorAs(t, err, &depErr)
}
