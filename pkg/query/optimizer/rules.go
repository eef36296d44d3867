package optimizer

import (
	"github.com/pipewright/pipewright/pkg/query/stage"
)

// ScoreFields are sort keys produced by search. A Sort holding one of them
// becomes the base of the merged sort, so the score ordering comes first.
var ScoreFields = []string{"relevance", "score"}

// SortConsolidationRule merges every Sort into one, placed after the other
// stages. Later keys overwrite earlier ones.
type SortConsolidationRule struct {
	BaseRule
}

func NewSortConsolidationRule() *SortConsolidationRule {
	return &SortConsolidationRule{
		BaseRule: BaseRule{
			name:     "SortConsolidation",
			priority: 300,
		},
	}
}

func (r *SortConsolidationRule) Apply(stages []stage.Stage) ([]stage.Stage, bool) {
	sorts, rest := partition(stages, stage.KindSort)
	if len(sorts) == 0 {
		return stages, false
	}

	base := -1
	for i, s := range sorts {
		if hasScoreField(s.(stage.Sort)) {
			base = i
			break
		}
	}

	var merged stage.Sort
	if base >= 0 {
		merged = sorts[base].(stage.Sort)
	}
	for i, s := range sorts {
		if i != base {
			merged = merged.Merge(s.(stage.Sort))
		}
	}

	if len(merged.Keys) > 0 {
		rest = append(rest, merged)
	}
	return rest, true
}

func hasScoreField(s stage.Sort) bool {
	for _, f := range ScoreFields {
		if s.Has(f) {
			return true
		}
	}
	return false
}

// PaginationProjectionRelocationRule moves Skip and Limit to the end when
// both are present, then moves the projection after them. Projections are
// merged into one.
type PaginationProjectionRelocationRule struct {
	BaseRule
}

func NewPaginationProjectionRelocationRule() *PaginationProjectionRelocationRule {
	return &PaginationProjectionRelocationRule{
		BaseRule: BaseRule{
			name:     "PaginationProjectionRelocation",
			priority: 200,
		},
	}
}

func (r *PaginationProjectionRelocationRule) Apply(stages []stage.Stage) ([]stage.Stage, bool) {
	out := stages
	changed := false

	skips, withoutSkips := partition(out, stage.KindSkip)
	limits, rest := partition(withoutSkips, stage.KindLimit)
	if len(skips) > 0 && len(limits) > 0 {
		out = append(rest, skips[0], limits[0])
		changed = true
	}

	projects, rest := partition(out, stage.KindProject)
	if len(projects) > 0 {
		var merged stage.Project
		for _, p := range projects {
			merged = merged.Merge(p.(stage.Project))
		}
		out = append(rest, merged)
		changed = true
	}

	return out, changed
}

// MatchHoistRule merges every Match into one and moves it to the front.
// Later criteria on the same key overwrite earlier ones.
type MatchHoistRule struct {
	BaseRule
}

func NewMatchHoistRule() *MatchHoistRule {
	return &MatchHoistRule{
		BaseRule: BaseRule{
			name:     "MatchHoist",
			priority: 100,
		},
	}
}

func (r *MatchHoistRule) Apply(stages []stage.Stage) ([]stage.Stage, bool) {
	matches, rest := partition(stages, stage.KindMatch)
	if len(matches) == 0 {
		return stages, false
	}

	var merged stage.Match
	for _, m := range matches {
		merged = merged.Merge(m.(stage.Match))
	}
	if len(merged.Criteria) == 0 {
		return rest, true
	}

	out := make([]stage.Stage, 0, len(rest)+1)
	out = append(out, merged)
	return append(out, rest...), true
}
