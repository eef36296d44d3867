// Package optimizer rewrites a stage sequence into canonical order:
//
//	[Match] [AddFields, Lookup, ... in original order] [Sort] [Skip, Limit] [Project]
//
// Rewriting is deterministic and idempotent, and never modifies its input.
package optimizer

import (
	"sort"

	"github.com/pipewright/pipewright/pkg/query/stage"
)

// Rule rewrites a stage sequence
type Rule interface {
	// Name returns the rule name
	Name() string

	// Apply returns the rewritten sequence and whether anything changed.
	// It must not modify stages.
	Apply(stages []stage.Stage) ([]stage.Stage, bool)

	// Priority returns the rule priority (higher = applied first)
	Priority() int
}

// RuleSet represents a collection of rewrite rules
type RuleSet struct {
	Rules []Rule
}

// NewRuleSet creates a new rule set with the given rules
func NewRuleSet(rules ...Rule) *RuleSet {
	rs := &RuleSet{}
	for _, r := range rules {
		rs.AddRule(r)
	}
	return rs
}

// AddRule adds a rule, keeping the set ordered by priority
func (rs *RuleSet) AddRule(rule Rule) {
	rs.Rules = append(rs.Rules, rule)
	sort.SliceStable(rs.Rules, func(i, j int) bool {
		return rs.Rules[i].Priority() > rs.Rules[j].Priority()
	})
}

// Optimizer applies each rule of its set once, in priority order
type Optimizer struct {
	RuleSet *RuleSet
}

// NewOptimizer creates an optimizer with the default rules
func NewOptimizer() *Optimizer {
	return &Optimizer{RuleSet: NewRuleSet(GetDefaultRules()...)}
}

// Optimize runs every rule over stages and returns the result
func (o *Optimizer) Optimize(stages []stage.Stage) []stage.Stage {
	current := make([]stage.Stage, len(stages))
	copy(current, stages)
	for _, rule := range o.RuleSet.Rules {
		if next, changed := rule.Apply(current); changed {
			current = next
		}
	}
	return current
}

var defaultOptimizer = NewOptimizer()

// Reorder puts stages into canonical order using the default rules
func Reorder(stages []stage.Stage) []stage.Stage {
	return defaultOptimizer.Optimize(stages)
}

// GetDefaultRules returns the default set of rewrite rules
func GetDefaultRules() []Rule {
	return []Rule{
		NewSortConsolidationRule(),
		NewPaginationProjectionRelocationRule(),
		NewMatchHoistRule(),
	}
}

// BaseRule provides common functionality for rules
type BaseRule struct {
	name     string
	priority int
}

func (r *BaseRule) Name() string  { return r.name }
func (r *BaseRule) Priority() int { return r.priority }

// partition splits stages into those of kind k and the rest, keeping order
func partition(stages []stage.Stage, k stage.Kind) (matched, rest []stage.Stage) {
	for _, s := range stages {
		if s.Kind() == k {
			matched = append(matched, s)
		} else {
			rest = append(rest, s)
		}
	}
	return matched, rest
}
