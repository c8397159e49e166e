// Package patterns implements the Pattern Matcher: it compares a live
// sliding window of observed events against learned Pattern records to
// surface matches and predict likely next events (SPEC_FULL.md 4.E.3). All
// scoring is statistical — nothing here is machine-learned or trained.
package patterns

import (
	"sort"
	"sync"
	"time"

	"github.com/superdisco-agents/moai-flow-sub007/pkg/types"
)

// ObservedEvent is one entry in the sliding window fed to ProcessEvent.
type ObservedEvent struct {
	EventType types.EventType
	Timestamp time.Time
	Metadata  map[string]any
}

// Prediction ranks one candidate next event type by probability.
type Prediction struct {
	PatternID  string
	EventType  types.EventType
	Probability float64
}

// Matcher holds the learned pattern set and the current observation window.
type Matcher struct {
	mu sync.Mutex

	patterns   []*types.Pattern
	window     []ObservedEvent
	windowSize int
	threshold  float64
}

// New constructs a Matcher with the given sliding-window capacity (default
// 10 per SPEC_FULL.md 4.E.3) and match threshold (default 0.8).
func New(windowSize int, matchThreshold float64) *Matcher {
	if windowSize <= 0 {
		windowSize = 10
	}
	if matchThreshold <= 0 {
		matchThreshold = 0.8
	}
	return &Matcher{windowSize: windowSize, threshold: matchThreshold}
}

// LoadPatterns replaces the learned pattern set.
func (m *Matcher) LoadPatterns(patterns []*types.Pattern) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patterns = patterns
}

// ProcessEvent appends ev to the sliding window (evicting the oldest entry
// once full), then returns every pattern whose combined score against the
// current window meets the match threshold, plus ranked next-event
// predictions.
func (m *Matcher) ProcessEvent(ev ObservedEvent) (matches []*types.Pattern, predictions []Prediction) {
	m.mu.Lock()
	m.window = append(m.window, ev)
	if len(m.window) > m.windowSize {
		m.window = m.window[len(m.window)-m.windowSize:]
	}
	window := append([]ObservedEvent(nil), m.window...)
	patterns := append([]*types.Pattern(nil), m.patterns...)
	threshold := m.threshold
	m.mu.Unlock()

	windowTypes := eventTypes(window)
	observedIntervalMs := averageIntervalMs(window)

	maxOccurrence := 0
	for _, p := range patterns {
		if p.Occurrence > maxOccurrence {
			maxOccurrence = p.Occurrence
		}
	}

	for _, p := range patterns {
		score := combinedScore(windowTypes, observedIntervalMs, p)
		if score >= threshold {
			matches = append(matches, p)
		}

		quality := matchQuality(score, metadataSimilarity(ev.Metadata, p.Metadata))
		prob := predictionProbability(p, quality, maxOccurrence)
		if next, ok := nextEventType(windowTypes, p); ok {
			predictions = append(predictions, Prediction{PatternID: p.ID, EventType: next, Probability: prob})
		}
	}

	sort.Slice(predictions, func(i, j int) bool {
		return predictions[i].Probability > predictions[j].Probability
	})
	return matches, predictions
}

// PredictNext ranks predictions for an arbitrary event-type sequence
// without mutating the matcher's own sliding window.
func (m *Matcher) PredictNext(currentEvents []types.EventType) []Prediction {
	m.mu.Lock()
	patterns := append([]*types.Pattern(nil), m.patterns...)
	m.mu.Unlock()

	maxOccurrence := 0
	for _, p := range patterns {
		if p.Occurrence > maxOccurrence {
			maxOccurrence = p.Occurrence
		}
	}

	var predictions []Prediction
	for _, p := range patterns {
		score := sequenceSimilarity(currentEvents, p.Sequence)
		prob := predictionProbability(p, score, maxOccurrence)
		if next, ok := nextEventType(currentEvents, p); ok {
			predictions = append(predictions, Prediction{PatternID: p.ID, EventType: next, Probability: prob})
		}
	}

	sort.Slice(predictions, func(i, j int) bool {
		return predictions[i].Probability > predictions[j].Probability
	})
	return predictions
}

func eventTypes(window []ObservedEvent) []types.EventType {
	out := make([]types.EventType, len(window))
	for i, ev := range window {
		out[i] = ev.EventType
	}
	return out
}

// combinedScore mixes the ordered longest-common-subsequence similarity
// (0.5 weight) with a set-overlap "event-type" similarity (0.3) and the
// temporal proximity of the observed inter-event interval to the pattern's
// recorded one (0.2). Metadata similarity informs match quality for
// individual events but does not participate directly in this sequence-
// level combined score.
func combinedScore(windowTypes []types.EventType, observedIntervalMs float64, p *types.Pattern) float64 {
	seqSim := sequenceSimilarity(windowTypes, p.Sequence)
	typeSim := eventTypeSimilarity(windowTypes, p.Sequence)
	temporalSim := temporalSimilarity(observedIntervalMs, patternIntervalMs(p))
	return 0.5*seqSim + 0.3*typeSim + 0.2*temporalSim
}

// sequenceSimilarity is LCS length over max(len1, len2), computed by the
// standard O(m*n) dynamic program.
func sequenceSimilarity(a, b []types.EventType) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	dp := make([][]int, len(a)+1)
	for i := range dp {
		dp[i] = make([]int, len(b)+1)
	}
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				dp[i][j] = dp[i-1][j-1] + 1
			} else if dp[i-1][j] > dp[i][j-1] {
				dp[i][j] = dp[i-1][j]
			} else {
				dp[i][j] = dp[i][j-1]
			}
		}
	}
	lcs := dp[len(a)][len(b)]
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	return float64(lcs) / float64(maxLen)
}

// eventTypeSimilarity is the set-overlap ratio of distinct event types
// shared between the window and the pattern's sequence.
func eventTypeSimilarity(a, b []types.EventType) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := make(map[types.EventType]bool, len(a))
	for _, t := range a {
		setA[t] = true
	}
	setB := make(map[types.EventType]bool, len(b))
	for _, t := range b {
		setB[t] = true
	}
	shared := 0
	for t := range setA {
		if setB[t] {
			shared++
		}
	}
	union := len(setA)
	for t := range setB {
		if !setA[t] {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(shared) / float64(union)
}

// metadataSimilarity averages per-key comparisons over keys present in
// both maps: exact match for strings, normalized proximity for numerics.
func metadataSimilarity(a, b map[string]any) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	var total float64
	var count int
	for k, av := range a {
		bv, exists := b[k]
		if !exists {
			continue
		}
		count++
		total += valueSimilarity(av, bv)
	}
	if count == 0 {
		return 0
	}
	return total / float64(count)
}

func valueSimilarity(a, b any) float64 {
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		if as == bs {
			return 1
		}
		return 0
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		denom := maxAbs(af, bf, 1)
		return 1 - absFloat(af-bf)/denom
	}
	return 0
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func maxAbs(a, b, floor float64) float64 {
	m := absFloat(a)
	if absFloat(b) > m {
		m = absFloat(b)
	}
	if m < floor {
		m = floor
	}
	return m
}

// temporalSimilarity applies a 50% tolerance band around the pattern's
// recorded interval.
func temporalSimilarity(observedMs, patternMs float64) float64 {
	if patternMs <= 0 {
		return 1 // no recorded interval: treat as neutral, not penalizing
	}
	delta := absFloat(observedMs-patternMs) / patternMs
	if delta > 1 {
		delta = 1
	}
	return 1 - delta
}

func patternIntervalMs(p *types.Pattern) float64 {
	if p.Metadata == nil {
		return 0
	}
	if v, ok := p.Metadata["avg_interval_ms"]; ok {
		if f, ok := toFloat(v); ok {
			return f
		}
	}
	return 0
}

func averageIntervalMs(window []ObservedEvent) float64 {
	if len(window) < 2 {
		return 0
	}
	var total float64
	for i := 1; i < len(window); i++ {
		total += float64(window[i].Timestamp.Sub(window[i-1].Timestamp).Milliseconds())
	}
	return total / float64(len(window)-1)
}

// predictionProbability combines pattern confidence, match quality, and
// normalized occurrence count.
func predictionProbability(p *types.Pattern, quality float64, maxOccurrence int) float64 {
	normalizedOccurrence := 0.0
	if maxOccurrence > 0 {
		normalizedOccurrence = float64(p.Occurrence) / float64(maxOccurrence)
	}
	return 0.4*p.Confidence + 0.4*quality + 0.2*normalizedOccurrence
}

// matchQuality folds the sequence/event-type/temporal combined score
// together with per-key metadata similarity, so a pattern whose metadata
// (e.g. task tags, resource hints) closely resembles the triggering event
// ranks above one that only matches structurally.
func matchQuality(combined, metadataSim float64) float64 {
	return 0.6*combined + 0.4*metadataSim
}

// nextEventType finds the longest suffix of windowTypes that matches a
// prefix of the pattern's sequence, then returns the pattern event that
// immediately follows that prefix — i.e. what SHOULD happen next if the
// window is in the middle of living out this pattern.
func nextEventType(windowTypes []types.EventType, p *types.Pattern) (types.EventType, bool) {
	maxK := len(p.Sequence)
	if len(windowTypes) < maxK {
		maxK = len(windowTypes)
	}
	for k := maxK; k > 0; k-- {
		if prefixMatches(windowTypes[len(windowTypes)-k:], p.Sequence[:k]) {
			if k >= len(p.Sequence) {
				return "", false
			}
			return p.Sequence[k], true
		}
	}
	return "", false
}

func prefixMatches(a, b []types.EventType) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
