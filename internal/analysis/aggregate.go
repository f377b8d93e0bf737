package analysis

import (
	"math"
	"sort"
)

// DefaultMaxRecommendations caps the merged recommendation list when no
// deployment override is supplied.
const DefaultMaxRecommendations = 50

// Aggregate combines per-engine outcomes into one AggregateResult.
// It is pure: no I/O, no failure mode. Every requested engine contributes
// exactly one outcome; an engine missing from outcomes is recorded as
// skipped so nothing is silently dropped. OverallScore is the mean of
// successful engines' scores rounded to nearest, nil when none succeeded.
func Aggregate(requested []EngineName, outcomes map[EngineName]EngineOutcome, maxRecommendations int) AggregateResult {
	if maxRecommendations <= 0 {
		maxRecommendations = DefaultMaxRecommendations
	}

	perEngine := make(map[EngineName]EngineOutcome, len(requested))
	var (
		scoreSum  int
		succeeded int
		merged    []Recommendation
	)
	for _, name := range requested {
		outcome, ok := outcomes[name]
		if !ok {
			outcome = EngineOutcome{Engine: name, Status: OutcomeSkipped}
		}
		perEngine[name] = outcome
		if outcome.Status != OutcomeSuccess {
			continue
		}
		scoreSum += outcome.Score
		succeeded++
		merged = append(merged, outcome.Recommendations...)
	}

	result := AggregateResult{
		PerEngine:       perEngine,
		Recommendations: sortRecommendations(merged, maxRecommendations),
		Degraded:        succeeded < len(requested),
	}
	if succeeded > 0 {
		score := int(math.Round(float64(scoreSum) / float64(succeeded)))
		result.OverallScore = &score
	}
	return result
}

// sortRecommendations orders by priority (high first) with a stable sort so
// per-engine ordering survives for ties, drops exact (issue, category)
// duplicates, and caps the list.
func sortRecommendations(recs []Recommendation, limit int) []Recommendation {
	type key struct {
		issue    string
		category EngineName
	}
	seen := make(map[key]struct{}, len(recs))
	deduped := make([]Recommendation, 0, len(recs))
	for _, rec := range recs {
		k := key{issue: rec.Issue, category: rec.Category}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		deduped = append(deduped, rec)
	}

	sort.SliceStable(deduped, func(i, j int) bool {
		return deduped[i].Priority.Rank() < deduped[j].Priority.Rank()
	})

	if len(deduped) > limit {
		deduped = deduped[:limit]
	}
	return deduped
}

// StateForResult derives the terminal job state from an aggregate result.
func StateForResult(result AggregateResult) JobState {
	if result.OverallScore == nil {
		return JobStateFailed
	}
	if result.Degraded {
		return JobStatePartial
	}
	return JobStateCompleted
}
