package gate

import (
	"fmt"
	"sort"

	"github.com/AGENTFABRIC/internal/types"
)

// RuleContext is the evaluation input handed to each predicate
type RuleContext struct {
	UserInput     string
	Actions       []types.ProposedAction
	Criticality   types.Criticality
	EstimatedCost float64
	RequestedBy   string
	ProjectID     string
}

// Predicate decides whether the context is acceptable. Returning false
// rejects; the string carries the reason.
type Predicate func(ctx RuleContext) (bool, string)

// Rule is one link of the approval chain
type Rule struct {
	Name      string
	Priority  types.Criticality
	Enabled   bool
	Predicate Predicate
}

// Chain is a priority-ordered list of rules
type Chain struct {
	rules []Rule
}

// NewChain builds a chain, ordering rules Critical first. Order among equal
// priorities follows insertion order (stable sort).
func NewChain(rules ...Rule) *Chain {
	c := &Chain{rules: append([]Rule(nil), rules...)}
	sort.SliceStable(c.rules, func(i, j int) bool {
		return c.rules[i].Priority.Rank() > c.rules[j].Priority.Rank()
	})
	return c
}

// Verdict is the outcome of evaluating the full chain
type Verdict struct {
	Approved bool
	Reason   string
	Trace    []types.RuleResult
}

// Evaluate runs the chain over the context. A disabled rule approves. A
// Critical rule that rejects short-circuits the chain. A predicate that
// panics rejects the whole decision (fail-closed).
func (c *Chain) Evaluate(ctx RuleContext) Verdict {
	verdict := Verdict{Approved: true}

	for _, rule := range c.rules {
		result := types.RuleResult{
			Rule:     rule.Name,
			Priority: string(rule.Priority),
			Approved: true,
		}
		if !rule.Enabled {
			result.Reason = "disabled"
			verdict.Trace = append(verdict.Trace, result)
			continue
		}

		approved, reason := evalPredicate(rule, ctx)
		result.Approved = approved
		result.Reason = reason
		verdict.Trace = append(verdict.Trace, result)

		if !approved {
			verdict.Approved = false
			if verdict.Reason == "" {
				verdict.Reason = fmt.Sprintf("%s: %s", rule.Name, reason)
			}
			if rule.Priority == types.CriticalityCritical {
				// Critical rejects short-circuit the rest of the chain.
				return verdict
			}
		}
	}
	return verdict
}

// evalPredicate runs one predicate, converting a panic into a reject
func evalPredicate(rule Rule, ctx RuleContext) (approved bool, reason string) {
	defer func() {
		if r := recover(); r != nil {
			approved = false
			reason = fmt.Sprintf("rule panicked: %v", r)
		}
	}()
	return rule.Predicate(ctx)
}

// DefaultChain returns the built-in rule set
func DefaultChain() *Chain {
	return NewChain(
		Rule{
			Name:     "irreversible-deletion-guard",
			Priority: types.CriticalityCritical,
			Enabled:  true,
			Predicate: func(ctx RuleContext) (bool, string) {
				for _, a := range ctx.Actions {
					if a.Type != types.ActionDataDeletion {
						continue
					}
					if v, ok := a.Params["irreversible"].(bool); ok && v {
						return false, "irreversible data deletion is never auto-approvable"
					}
				}
				return true, ""
			},
		},
		Rule{
			Name:     "cost-ceiling",
			Priority: types.CriticalityHigh,
			Enabled:  true,
			Predicate: func(ctx RuleContext) (bool, string) {
				const ceiling = 10.0
				if ctx.EstimatedCost > ceiling {
					return false, fmt.Sprintf("estimated cost %.2f exceeds ceiling %.2f", ctx.EstimatedCost, ceiling)
				}
				return true, ""
			},
		},
		Rule{
			Name:     "action-volume",
			Priority: types.CriticalityMedium,
			Enabled:  true,
			Predicate: func(ctx RuleContext) (bool, string) {
				const maxActions = 50
				if len(ctx.Actions) > maxActions {
					return false, fmt.Sprintf("%d actions exceed limit %d", len(ctx.Actions), maxActions)
				}
				return true, ""
			},
		},
	)
}
