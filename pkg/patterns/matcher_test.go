package patterns

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/superdisco-agents/moai-flow-sub007/pkg/types"
)

func samplePattern() *types.Pattern {
	return &types.Pattern{
		ID:         "p1",
		Sequence:   []types.EventType{"task_assigned", "task_started", "task_completed"},
		Occurrence: 10,
		Confidence: 0.9,
		Metadata:   map[string]any{"avg_interval_ms": 100.0, "priority": "high"},
	}
}

func TestSequenceSimilarityExactMatch(t *testing.T) {
	a := []types.EventType{"x", "y", "z"}
	assert.Equal(t, 1.0, sequenceSimilarity(a, a))
}

func TestSequenceSimilarityPartialMatch(t *testing.T) {
	a := []types.EventType{"x", "y", "z"}
	b := []types.EventType{"x", "q", "z"}
	assert.InDelta(t, 2.0/3.0, sequenceSimilarity(a, b), 1e-9)
}

func TestSequenceSimilarityEmptyIsZero(t *testing.T) {
	assert.Equal(t, 0.0, sequenceSimilarity(nil, []types.EventType{"x"}))
}

func TestMetadataSimilarityStringsAndNumerics(t *testing.T) {
	a := map[string]any{"kind": "alpha", "score": 10.0}
	b := map[string]any{"kind": "alpha", "score": 12.0}
	sim := metadataSimilarity(a, b)
	// kind matches exactly (1.0); score proximity = 1 - 2/12
	want := (1.0 + (1 - 2.0/12.0)) / 2
	assert.InDelta(t, want, sim, 1e-9)
}

func TestTemporalSimilarityWithinTolerance(t *testing.T) {
	assert.InDelta(t, 1.0, temporalSimilarity(100, 100), 1e-9)
	assert.InDelta(t, 0.5, temporalSimilarity(150, 100), 1e-9)
	assert.Equal(t, 0.0, temporalSimilarity(300, 100))
}

func TestTemporalSimilarityNoPatternIntervalIsNeutral(t *testing.T) {
	assert.Equal(t, 1.0, temporalSimilarity(500, 0))
}

func TestProcessEventMatchesAboveThreshold(t *testing.T) {
	m := New(10, 0.5)
	m.LoadPatterns([]*types.Pattern{samplePattern()})

	base := time.Now()
	m.ProcessEvent(ObservedEvent{EventType: "task_assigned", Timestamp: base})
	m.ProcessEvent(ObservedEvent{EventType: "task_started", Timestamp: base.Add(100 * time.Millisecond)})
	matches, predictions := m.ProcessEvent(ObservedEvent{
		EventType: "task_completed",
		Timestamp: base.Add(200 * time.Millisecond),
		Metadata:  map[string]any{"priority": "high"},
	})

	require.Len(t, matches, 1)
	assert.Equal(t, "p1", matches[0].ID)
	assert.Empty(t, predictions) // fully matched sequence has no "next" element
}

func TestProcessEventPredictsNextFromPartialMatch(t *testing.T) {
	m := New(10, 0.99) // threshold unreachable so we only inspect predictions
	m.LoadPatterns([]*types.Pattern{samplePattern()})

	base := time.Now()
	m.ProcessEvent(ObservedEvent{EventType: "task_assigned", Timestamp: base})
	_, predictions := m.ProcessEvent(ObservedEvent{EventType: "task_started", Timestamp: base.Add(100 * time.Millisecond)})

	require.NotEmpty(t, predictions)
	assert.Equal(t, types.EventType("task_completed"), predictions[0].EventType)
}

func TestWindowIsBoundedAndEvicts(t *testing.T) {
	m := New(2, 0.8)
	m.LoadPatterns(nil)
	base := time.Now()
	for i := 0; i < 5; i++ {
		m.ProcessEvent(ObservedEvent{EventType: types.EventType("e"), Timestamp: base.Add(time.Duration(i) * time.Second)})
	}
	assert.Len(t, m.window, 2)
}

func TestPredictNextSortedDescending(t *testing.T) {
	m := New(10, 0.8)
	strong := &types.Pattern{ID: "strong", Sequence: []types.EventType{"a", "b", "c"}, Occurrence: 10, Confidence: 0.95}
	weak := &types.Pattern{ID: "weak", Sequence: []types.EventType{"a", "x", "c"}, Occurrence: 1, Confidence: 0.2}
	m.LoadPatterns([]*types.Pattern{strong, weak})

	predictions := m.PredictNext([]types.EventType{"a", "b"})
	require.Len(t, predictions, 1) // "weak" doesn't share a matching suffix with "a","b"
	assert.Equal(t, "strong", predictions[0].PatternID)
}

func TestDefaultsAppliedForInvalidConstructorArgs(t *testing.T) {
	m := New(0, 0)
	assert.Equal(t, 10, m.windowSize)
	assert.Equal(t, 0.8, m.threshold)
}
