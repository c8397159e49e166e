// Package config holds the default-populated configuration surface for every
// swarm-core subsystem, mirroring the flat struct-with-defaults style of the
// teacher's manager configuration.
package config

import "time"

import "github.com/superdisco-agents/moai-flow-sub007/pkg/types"

// TopologyConfig controls the Topology Manager's initial kind and the
// Adaptive variant's switching thresholds.
type TopologyConfig struct {
	InitialKind types.TopologyKind

	// Adaptive switching thresholds (SPEC_FULL.md 4.C).
	FailedRatioThreshold float64
	LargeSwarmSize       int
	HubTrafficRatio      float64
	PipelineRatio        float64
	EvaluationWindow     time.Duration
}

func DefaultTopologyConfig() TopologyConfig {
	return TopologyConfig{
		InitialKind:          types.TopologyMesh,
		FailedRatioThreshold: 0.30,
		LargeSwarmSize:       10,
		HubTrafficRatio:      0.80,
		PipelineRatio:        0.70,
		EvaluationWindow:     time.Minute,
	}
}

// ConsensusEngineKind selects the pluggable Consensus Engine implementation.
type ConsensusEngineKind string

const (
	ConsensusEngineRaft   ConsensusEngineKind = "raft"
	ConsensusEngineQuorum ConsensusEngineKind = "quorum"
)

// ConsensusConfig controls the Consensus Engine.
type ConsensusConfig struct {
	Engine              ConsensusEngineKind
	Threshold            float64
	ElectionTimeoutMs    int
	HeartbeatIntervalMs  int
}

func DefaultConsensusConfig() ConsensusConfig {
	return ConsensusConfig{
		Engine:              ConsensusEngineRaft,
		Threshold:           0.5,
		ElectionTimeoutMs:   5000,
		HeartbeatIntervalMs: 1000,
	}
}

// HeartbeatConfig controls the Heartbeat Monitor.
type HeartbeatConfig struct {
	IntervalMs       int
	FailureThreshold int
	HistorySize      int
	CheckIntervalMs  int
}

func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		IntervalMs:       5000,
		FailureThreshold: 3,
		HistorySize:      100,
		CheckIntervalMs:  1000,
	}
}

// MetricsConfig controls the Metrics Collector.
type MetricsConfig struct {
	AsyncMode     bool
	QueueCapacity int
	BatchSize     int
	BatchTimeout  time.Duration
	ReservoirSize int
}

func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		AsyncMode:     true,
		QueueCapacity: 10000,
		BatchSize:     64,
		BatchTimeout:  50 * time.Millisecond,
		ReservoirSize: 1000,
	}
}

// BottleneckConfig controls the Bottleneck Detector.
type BottleneckConfig struct {
	DetectionWindow time.Duration
	MonitorInterval time.Duration
	TrendWindow     int
	TrendThreshold  float64
}

func DefaultBottleneckConfig() BottleneckConfig {
	return BottleneckConfig{
		DetectionWindow: 60 * time.Second,
		MonitorInterval: 30 * time.Second,
		TrendWindow:     10,
		TrendThreshold:  0.05,
	}
}

// HookConfig controls the Hook System's default timeouts and degradation
// policy.
type HookConfig struct {
	DefaultSyncTimeout  time.Duration
	DefaultAsyncTimeout time.Duration
	AsyncConcurrency    int
	GracefulDegradation bool
	MaxRetries          int
}

func DefaultHookConfig() HookConfig {
	return HookConfig{
		DefaultSyncTimeout:  2000 * time.Millisecond,
		DefaultAsyncTimeout: 5000 * time.Millisecond,
		AsyncConcurrency:    10,
		GracefulDegradation: true,
		MaxRetries:          2,
	}
}

// StorageConfig controls the Persistent Store Adapter.
type StorageConfig struct {
	DataDir string
}

func DefaultStorageConfig() StorageConfig {
	return StorageConfig{DataDir: "./data"}
}

// Config is the full coordinator configuration tree.
type Config struct {
	Topology   TopologyConfig
	Consensus  ConsensusConfig
	Heartbeat  HeartbeatConfig
	Metrics    MetricsConfig
	Bottleneck BottleneckConfig
	Hooks      HookConfig
	Storage    StorageConfig
}

// Default returns the full configuration tree populated with SPEC_FULL.md's
// documented defaults.
func Default() Config {
	return Config{
		Topology:   DefaultTopologyConfig(),
		Consensus:  DefaultConsensusConfig(),
		Heartbeat:  DefaultHeartbeatConfig(),
		Metrics:    DefaultMetricsConfig(),
		Bottleneck: DefaultBottleneckConfig(),
		Hooks:      DefaultHookConfig(),
		Storage:    DefaultStorageConfig(),
	}
}
