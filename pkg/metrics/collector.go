package metrics

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/superdisco-agents/moai-flow-sub007/pkg/config"
	"github.com/superdisco-agents/moai-flow-sub007/pkg/log"
	"github.com/superdisco-agents/moai-flow-sub007/pkg/storage"
	"github.com/superdisco-agents/moai-flow-sub007/pkg/types"
)

type submissionKind int

const (
	submitTask submissionKind = iota
	submitAgent
	submitSwarm
)

type submission struct {
	kind  submissionKind
	task  *types.TaskMetric
	agent *types.AgentMetric
	swarm *types.SwarmMetric
}

// TaskStats summarizes completed task metrics, optionally scoped to one
// agent and a time range.
type TaskStats struct {
	Count        int
	SuccessRate  float64
	AvgDuration  float64
	P50          float64
	P95          float64
	P99          float64
	TotalTokens  int
}

// AgentPerformance summarizes one agent's task history.
type AgentPerformance struct {
	AvgDurationMs float64
	SuccessRate   float64
	ErrorRate     float64
	TaskCount     int
}

// Collector accepts task/agent/swarm metric submissions with sub-millisecond
// producer-side overhead (async mode, the default), batches them to the
// store, and serves percentile/performance queries from the task metrics it
// holds in memory (SPEC_FULL.md 4.E.1). Those per-agent task lists grow
// without bound; the per-agent duration reservoirs are bounded but are not
// read by the queries.
type Collector struct {
	cfg    config.MetricsConfig
	store  storage.Store // optional; nil disables persistence
	logger zerolog.Logger

	queue chan submission

	mu         sync.Mutex
	taskSample map[string]*reservoir // key: agentID or "" for swarm-wide
	taskByType map[string][]*types.TaskMetric
	agentLast  map[string][]*types.AgentMetric

	dropped uint64

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Collector. If store is non-nil, batches are persisted;
// the reservoirs and queries work in-memory regardless.
func New(cfg config.MetricsConfig, store storage.Store) *Collector {
	c := &Collector{
		cfg:        cfg,
		store:      store,
		logger:     log.WithComponent("metrics"),
		queue:      make(chan submission, cfg.QueueCapacity),
		taskSample: make(map[string]*reservoir),
		taskByType: make(map[string][]*types.TaskMetric),
		agentLast:  make(map[string][]*types.AgentMetric),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	if cfg.AsyncMode {
		go c.drainLoop()
	}
	return c
}

func (c *Collector) RecordTaskMetric(taskID, agentID string, startedAt, endedAt time.Time, durationMs float64, result types.TaskResult, tokens, files int, tags map[string]string) {
	m := &types.TaskMetric{
		ID:          uuid.NewString(),
		TaskID:      taskID,
		AgentID:     agentID,
		StartedAt:   startedAt,
		EndedAt:     endedAt,
		DurationMs:  durationMs,
		Result:      result,
		Tokens:      tokens,
		FilesChange: files,
		Tags:        tags,
	}
	TaskDuration.Observe(durationMs / 1000.0)
	TasksTotal.WithLabelValues(string(result)).Inc()
	c.submit(submission{kind: submitTask, task: m})
}

func (c *Collector) RecordAgentMetric(agentID, metricType string, value float64) {
	m := &types.AgentMetric{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		Metric:    metricType,
		Value:     value,
		Timestamp: time.Now(),
	}
	c.submit(submission{kind: submitAgent, agent: m})
}

func (c *Collector) RecordSwarmMetric(swarmID, metricType string, value float64) {
	m := &types.SwarmMetric{
		ID:        uuid.NewString(),
		SwarmID:   swarmID,
		Metric:    metricType,
		Value:     value,
		Timestamp: time.Now(),
	}
	c.submit(submission{kind: submitSwarm, swarm: m})
}

func (c *Collector) submit(s submission) {
	if !c.cfg.AsyncMode {
		c.apply(s)
		return
	}
	select {
	case c.queue <- s:
		MetricsQueueDepth.Set(float64(len(c.queue)))
	default:
		c.mu.Lock()
		c.dropped++
		c.mu.Unlock()
		MetricsDroppedTotal.Inc()
	}
}

// drainLoop batches queued submissions by size (cfg.BatchSize) or timeout
// (cfg.BatchTimeout), whichever triggers first.
func (c *Collector) drainLoop() {
	defer close(c.doneCh)
	ticker := time.NewTicker(c.cfg.BatchTimeout)
	defer ticker.Stop()

	batch := make([]submission, 0, c.cfg.BatchSize)
	flush := func() {
		for _, s := range batch {
			c.apply(s)
		}
		batch = batch[:0]
	}

	for {
		select {
		case s := <-c.queue:
			batch = append(batch, s)
			if len(batch) >= c.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			if len(batch) > 0 {
				flush()
			}
		case <-c.stopCh:
			c.drainRemaining(&batch)
			flush()
			return
		}
	}
}

// drainRemaining pulls whatever is still queued, for at most a fixed
// 5-second grace period, so Shutdown doesn't silently lose in-flight metrics.
func (c *Collector) drainRemaining(batch *[]submission) {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case s := <-c.queue:
			*batch = append(*batch, s)
		default:
			return
		}
	}
}

func (c *Collector) apply(s submission) {
	c.mu.Lock()
	switch s.kind {
	case submitTask:
		m := s.task
		c.taskByType[m.AgentID] = append(c.taskByType[m.AgentID], m)
		c.taskByType[""] = append(c.taskByType[""], m)
		c.reservoirFor(m.AgentID).add(m.DurationMs)
		c.reservoirFor("").add(m.DurationMs)
	case submitAgent:
		m := s.agent
		c.agentLast[m.AgentID] = append(c.agentLast[m.AgentID], m)
	case submitSwarm:
		// swarm metrics are persisted but not queried via reservoirs here.
	}
	c.mu.Unlock()

	if c.store == nil {
		return
	}
	var err error
	switch s.kind {
	case submitTask:
		err = c.store.InsertTaskMetric(s.task)
	case submitAgent:
		err = c.store.InsertAgentMetric(s.agent)
	case submitSwarm:
		err = c.store.InsertSwarmMetric(s.swarm)
	}
	if err != nil {
		c.logger.Error().Err(err).Msg("metrics store write failed")
	}
}

func (c *Collector) reservoirFor(key string) *reservoir {
	r, exists := c.taskSample[key]
	if !exists {
		r = newReservoir(c.cfg.ReservoirSize)
		c.taskSample[key] = r
	}
	return r
}

// GetTaskStats computes count/success-rate/percentiles over every task
// metric recorded in memory, scoped to agentID ("" for swarm-wide) and
// optionally filtered to tasks ended at or after since. Stored rows are not
// consulted.
func (c *Collector) GetTaskStats(agentID string, since time.Time) TaskStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	metrics := c.taskByType[agentID]
	var filtered []*types.TaskMetric
	for _, m := range metrics {
		if !since.IsZero() && m.EndedAt.Before(since) {
			continue
		}
		filtered = append(filtered, m)
	}
	if len(filtered) == 0 {
		return TaskStats{}
	}

	durations := make([]float64, 0, len(filtered))
	successes := 0
	totalTokens := 0
	for _, m := range filtered {
		durations = append(durations, m.DurationMs)
		if m.Result == types.TaskSuccess {
			successes++
		}
		totalTokens += m.Tokens
	}

	return TaskStats{
		Count:       len(filtered),
		SuccessRate: float64(successes) / float64(len(filtered)),
		AvgDuration: mean(durations),
		P50:         percentile(durations, 50),
		P95:         percentile(durations, 95),
		P99:         percentile(durations, 99),
		TotalTokens: totalTokens,
	}
}

func (c *Collector) GetAgentPerformance(agentID string) AgentPerformance {
	c.mu.Lock()
	defer c.mu.Unlock()

	metrics := c.taskByType[agentID]
	if len(metrics) == 0 {
		return AgentPerformance{}
	}

	durations := make([]float64, 0, len(metrics))
	successes, failures := 0, 0
	for _, m := range metrics {
		durations = append(durations, m.DurationMs)
		switch m.Result {
		case types.TaskSuccess:
			successes++
		case types.TaskFailure, types.TaskTimeout:
			failures++
		}
	}

	return AgentPerformance{
		AvgDurationMs: mean(durations),
		SuccessRate:   float64(successes) / float64(len(metrics)),
		ErrorRate:     float64(failures) / float64(len(metrics)),
		TaskCount:     len(metrics),
	}
}

// GetAgentMetricSeries returns the recorded values for one agent/metric
// pair, in recording order, optionally filtered to samples at or after
// since. Used by the Bottleneck Detector's consensus-timeout rule to read
// the Consensus Engine's own round_trip_ms/outcome series.
func (c *Collector) GetAgentMetricSeries(agentID, metricType string, since time.Time) []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []float64
	for _, m := range c.agentLast[agentID] {
		if m.Metric != metricType {
			continue
		}
		if !since.IsZero() && m.Timestamp.Before(since) {
			continue
		}
		out = append(out, m.Value)
	}
	return out
}

// KnownAgentIDs returns every agent ID that has recorded at least one task
// metric, for callers (e.g. the Bottleneck Detector) that need to iterate
// per-agent performance without a separate registry dependency.
func (c *Collector) KnownAgentIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.taskByType))
	for id := range c.taskByType {
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}

// DroppedCount reports how many submissions were discarded because the
// async queue was full.
func (c *Collector) DroppedCount() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Shutdown drains the async queue (up to its grace period) before returning.
func (c *Collector) Shutdown() {
	if !c.cfg.AsyncMode {
		return
	}
	select {
	case <-c.stopCh:
	default:
		close(c.stopCh)
	}
	<-c.doneCh
}
