// Package hooks implements the lifecycle hook system: named callbacks with
// priority and dependency ordering, predicate filtering, and sync/async
// execution with timeout, retry, and graceful degradation.
package hooks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/superdisco-agents/moai-flow-sub007/pkg/config"
	"github.com/superdisco-agents/moai-flow-sub007/pkg/log"
	"github.com/superdisco-agents/moai-flow-sub007/pkg/swarmerr"
	"github.com/superdisco-agents/moai-flow-sub007/pkg/types"
)

// Callable is a registered hook's body. It returns an error to signal
// failure; the HookContext carries the event payload and mutable metadata.
type Callable func(ctx context.Context, hctx *types.HookContext) error

// Predicate decides whether a hook should run for a given context.
type Predicate func(hctx *types.HookContext) bool

// Hook is a registered callback bound to an event type.
type Hook struct {
	Name         string
	EventType    types.EventType
	Fn           Callable
	Priority     types.HookPriority
	Predicates   []Predicate
	Dependencies []string
	Executor     types.ExecutorKind
	Timeout      time.Duration
	MaxRetries   int

	insertionSeq int
}

// System is the in-memory hook registry and dispatcher.
type System struct {
	mu    sync.RWMutex
	hooks map[string]*Hook

	// per-event cached dispatch order, invalidated on register/unregister.
	orderCache map[types.EventType][]*Hook

	cfg    config.HookConfig
	logger zerolog.Logger
	seq    int

	asyncSem chan struct{}
}

func New(cfg config.HookConfig) *System {
	return &System{
		hooks:      make(map[string]*Hook),
		orderCache: make(map[types.EventType][]*Hook),
		cfg:        cfg,
		logger:     log.WithComponent("hooks"),
		asyncSem:   make(chan struct{}, cfg.AsyncConcurrency),
	}
}

// RegisterHook adds a hook to the registry. Fails on name collision, on a
// self-dependency, or if adding it would create a dependency cycle. A
// prerequisite that names no registered hook is not rejected here; Fire
// rejects it with a HookDependencyError when the event is dispatched.
func (s *System) RegisterHook(h *Hook) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.hooks[h.Name]; exists {
		return fmt.Errorf("%w: %s", swarmerr.ErrDuplicateHook, h.Name)
	}
	for _, dep := range h.Dependencies {
		if dep == h.Name {
			return &swarmerr.HookDependencyError{Hook: h.Name, Missing: dep}
		}
	}

	if h.Timeout == 0 {
		if h.Executor == types.ExecutorAsync {
			h.Timeout = s.cfg.DefaultAsyncTimeout
		} else {
			h.Timeout = s.cfg.DefaultSyncTimeout
		}
	}
	if h.Executor == "" {
		h.Executor = types.ExecutorSync
	}
	if h.MaxRetries == 0 {
		h.MaxRetries = s.cfg.MaxRetries
	}
	if h.MaxRetries > 3 {
		h.MaxRetries = 3
	}

	h.insertionSeq = s.seq
	s.seq++
	s.hooks[h.Name] = h

	// Check that the dependency graph (including this hook) remains acyclic.
	// Prerequisites that name no registered hook are not checked here, so a
	// hook may name one that is registered later; a genuine cycle among
	// already-known hooks fails immediately.
	if err := s.detectCycle(); err != nil {
		delete(s.hooks, h.Name)
		s.seq--
		return err
	}

	s.invalidateCache(h.EventType)
	return nil
}

// UnregisterHook removes a hook by name. Returns false without error if the
// hook was never registered (idempotent per SPEC_FULL.md 4.G).
func (s *System) UnregisterHook(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, exists := s.hooks[name]
	if !exists {
		return false
	}
	delete(s.hooks, name)
	s.invalidateCache(h.EventType)
	return true
}

func (s *System) invalidateCache(eventType types.EventType) {
	delete(s.orderCache, eventType)
}

// detectCycle runs Kahn's algorithm over the full dependency graph of
// currently-registered hooks (ignoring hooks not yet registered, which are
// resolved lazily at dispatch time). A residual node after the sort means a
// cycle.
func (s *System) detectCycle() error {
	inDegree := make(map[string]int, len(s.hooks))
	adjacency := make(map[string][]string, len(s.hooks))

	for name := range s.hooks {
		inDegree[name] = 0
	}
	for name, h := range s.hooks {
		for _, dep := range h.Dependencies {
			if _, known := s.hooks[dep]; !known {
				continue // forward reference, resolved at dispatch time
			}
			inDegree[name]++
			adjacency[dep] = append(adjacency[dep], name)
		}
	}

	queue := make([]string, 0, len(inDegree))
	for name, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, name)
		}
	}

	visited := 0
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range adjacency[name] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if visited != len(s.hooks) {
		return swarmerr.ErrHookCycle
	}
	return nil
}

// dispatchOrder returns the total order for an event type: topological sort
// of the dependency DAG, tie-broken by priority (CRITICAL first), then by
// insertion order. Missing prerequisites are rejected here since, by
// dispatch time, every hook that will ever run for this call is known.
func (s *System) dispatchOrder(eventType types.EventType) ([]*Hook, error) {
	if cached, ok := s.orderCache[eventType]; ok {
		return cached, nil
	}

	var candidates []*Hook
	for _, h := range s.hooks {
		if h.EventType == eventType {
			candidates = append(candidates, h)
		}
	}

	byName := make(map[string]*Hook, len(candidates))
	for _, h := range candidates {
		byName[h.Name] = h
	}

	inDegree := make(map[string]int, len(candidates))
	adjacency := make(map[string][]string, len(candidates))
	for _, h := range candidates {
		inDegree[h.Name] = 0
	}
	for _, h := range candidates {
		for _, dep := range h.Dependencies {
			if _, known := byName[dep]; !known {
				return nil, &swarmerr.HookDependencyError{Hook: h.Name, Missing: dep}
			}
			inDegree[h.Name]++
			adjacency[dep] = append(adjacency[dep], h.Name)
		}
	}

	// Kahn's algorithm with a priority-then-insertion-order tie-break on the
	// ready queue, so the result is deterministic even among independent
	// hooks (SPEC_FULL.md 4.B).
	var ready []*Hook
	for _, h := range candidates {
		if inDegree[h.Name] == 0 {
			ready = append(ready, h)
		}
	}

	var order []*Hook
	for len(ready) > 0 {
		next := pickNext(ready)
		order = append(order, next)
		ready = removeHook(ready, next)

		for _, name := range adjacency[next.Name] {
			inDegree[name]--
			if inDegree[name] == 0 {
				ready = append(ready, byName[name])
			}
		}
	}

	if len(order) != len(candidates) {
		return nil, swarmerr.ErrHookCycle
	}

	s.orderCache[eventType] = order
	return order, nil
}

func pickNext(ready []*Hook) *Hook {
	best := ready[0]
	for _, h := range ready[1:] {
		if h.Priority < best.Priority ||
			(h.Priority == best.Priority && h.insertionSeq < best.insertionSeq) {
			best = h
		}
	}
	return best
}

func removeHook(hooks []*Hook, target *Hook) []*Hook {
	out := make([]*Hook, 0, len(hooks)-1)
	for _, h := range hooks {
		if h != target {
			out = append(out, h)
		}
	}
	return out
}

// Fire dispatches all hooks registered for eventType whose predicates pass,
// in dispatch order, synchronously from the caller's perspective: async
// hooks are scheduled on the shared pool but Fire does not wait for them.
func (s *System) Fire(ctx context.Context, eventType types.EventType, hctx *types.HookContext) ([]types.HookResult, error) {
	s.mu.RLock()
	order, err := s.dispatchOrder(eventType)
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	results := make([]types.HookResult, 0, len(order))
	for _, h := range order {
		if !predicatesPass(h, hctx) {
			continue
		}

		if h.Executor == types.ExecutorAsync {
			s.runAsync(h, hctx)
			continue
		}

		result := s.runSync(ctx, h, hctx)
		results = append(results, result)

		if !result.Success && !s.cfg.GracefulDegradation {
			return results, result.Error
		}
	}
	return results, nil
}

func predicatesPass(h *Hook, hctx *types.HookContext) bool {
	for _, p := range h.Predicates {
		if !p(hctx) {
			return false
		}
	}
	return true
}

// runSync executes one hook inline, honoring its timeout and retry budget.
// Retries are exhausted before the outcome is recorded: each attempt is
// tried up to 1+MaxRetries times with a fixed backoff, and only the final
// attempt's result becomes the reported HookResult (SPEC_FULL.md 4.B).
func (s *System) runSync(ctx context.Context, h *Hook, hctx *types.HookContext) types.HookResult {
	start := time.Now()
	var lastErr error

	attempts := 1 + h.MaxRetries
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			time.Sleep(50 * time.Millisecond)
		}
		lastErr = s.runOnce(ctx, h, hctx)
		if lastErr == nil {
			break
		}
	}

	duration := time.Since(start)
	if lastErr != nil {
		s.logger.Warn().Str("hook", h.Name).Err(lastErr).Msg("hook failed after retries")
	}
	return types.HookResult{
		Hook:       h.Name,
		Success:    lastErr == nil,
		Error:      lastErr,
		DurationMs: float64(duration.Microseconds()) / 1000.0,
	}
}

func (s *System) runOnce(ctx context.Context, h *Hook, hctx *types.HookContext) error {
	runCtx, cancel := context.WithTimeout(ctx, h.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("hook panicked: %v", r)
			}
		}()
		done <- h.Fn(runCtx, hctx)
	}()

	select {
	case err := <-done:
		return err
	case <-runCtx.Done():
		return &swarmerr.HookTimeoutError{Hook: h.Name, TimeoutMs: int(h.Timeout.Milliseconds())}
	}
}

// runAsync schedules a hook on the shared bounded concurrency pool. Results
// are logged, not returned, matching the fire-and-forget async contract.
func (s *System) runAsync(h *Hook, hctx *types.HookContext) {
	s.asyncSem <- struct{}{}
	go func() {
		defer func() { <-s.asyncSem }()
		result := s.runSync(context.Background(), h, hctx)
		if !result.Success {
			s.logger.Error().Str("hook", h.Name).Err(result.Error).Msg("async hook failed")
		}
	}()
}
