// Package governance holds the read-only decision machinery: the rule
// evaluator and the conflict detector. Both are side-effect-free and safe
// for unlimited concurrent use against a consistent policy snapshot.
package governance

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/citygrid-labs/aegis/pkg/contracts"
)

// overridePriority is the effective priority of override rules: they
// always sort ahead of any operator-authored rule.
const overridePriority = 1 << 30

// Evaluator evaluates CEL rule conditions and threshold comparisons
// against telemetry snapshots. Compiled programs are cached per condition
// source.
type Evaluator struct {
	env      *cel.Env
	mu       sync.RWMutex
	prgCache map[string]cel.Program
	clock    func() time.Time
}

// NewEvaluator creates an evaluator whose conditions see a single
// `snapshot` map variable.
func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("snapshot", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &Evaluator{
		env:      env,
		prgCache: make(map[string]cel.Program),
		clock:    time.Now,
	}, nil
}

// WithClock overrides the clock for deterministic testing.
func (e *Evaluator) WithClock(clock func() time.Time) *Evaluator {
	e.clock = clock
	return e
}

// candidate pairs a rule with its owning policy and effective priority.
type candidate struct {
	policyID     string
	rule         contracts.Rule
	priority     int
	fromOverride bool
}

// Evaluate runs one full decision pass: gather enabled rules,
// substitute override rules for superseded policies,
// sort (priority desc, rule id asc), evaluate conditions in order, and
// independently evaluate thresholds. Identical inputs always yield an
// identical match ordering.
func (e *Evaluator) Evaluate(
	ctx context.Context,
	policies []contracts.Policy,
	overrides []contracts.EmergencyOverride,
	snapshot contracts.Snapshot,
) (*contracts.EvaluationResult, error) {
	result := &contracts.EvaluationResult{EvaluatedAt: e.clock().UTC()}

	activeByPolicy := make(map[string]*contracts.EmergencyOverride)
	seenOverride := make(map[string]bool)
	for i := range overrides {
		o := &overrides[i]
		if !o.IsActive {
			continue
		}
		for _, p := range policies {
			if o.Affects(p.ID) {
				activeByPolicy[p.ID] = o
				if !seenOverride[o.ID] {
					seenOverride[o.ID] = true
					result.ActiveOverrides = append(result.ActiveOverrides, o.ID)
				}
			}
		}
	}

	var candidates []candidate
	for _, p := range policies {
		result.PolicyIDs = append(result.PolicyIDs, p.ID)
		if o := activeByPolicy[p.ID]; o != nil {
			// Normal rules suppressed: only override rules evaluate for
			// this policy's scope, at maximum priority.
			for _, r := range o.OverrideRules {
				candidates = append(candidates, candidate{
					policyID:     p.ID,
					rule:         r,
					priority:     overridePriority,
					fromOverride: true,
				})
			}
			continue
		}
		for _, r := range p.Rules {
			if !r.Enabled {
				continue
			}
			candidates = append(candidates, candidate{policyID: p.ID, rule: r, priority: r.Priority})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].priority != candidates[j].priority {
			return candidates[i].priority > candidates[j].priority
		}
		return candidates[i].rule.ID < candidates[j].rule.ID
	})

	input := map[string]any{"snapshot": map[string]any(snapshot)}
	for _, c := range candidates {
		matched, err := e.evalCondition(ctx, c.rule.Condition, input)
		if err != nil {
			evalErr := &EvaluationError{RuleID: c.rule.ID, Err: err}
			result.SkippedRules = append(result.SkippedRules, contracts.RuleSkip{
				PolicyID: c.policyID,
				RuleID:   c.rule.ID,
				Reason:   evalErr.Error(),
			})
			continue
		}
		if matched {
			result.MatchedRules = append(result.MatchedRules, contracts.RuleMatch{
				PolicyID:     c.policyID,
				RuleID:       c.rule.ID,
				Effect:       c.rule.Effect,
				Priority:     c.rule.Priority,
				FromOverride: c.fromOverride,
			})
		}
	}

	for _, p := range policies {
		for _, t := range p.Thresholds {
			observed, ok := numericValue(snapshot[t.Metric])
			if !ok {
				continue
			}
			if breached(t.Operator, observed, t.Value) {
				result.BreachedThresholds = append(result.BreachedThresholds, contracts.ThresholdBreach{
					PolicyID:       p.ID,
					ThresholdID:    t.ID,
					Metric:         t.Metric,
					Observed:       observed,
					Limit:          t.Value,
					ActionOnBreach: t.ActionOnBreach,
				})
			}
		}
	}

	return result, nil
}

// evalCondition compiles (or reuses) and runs one CEL condition.
func (e *Evaluator) evalCondition(ctx context.Context, expr string, input map[string]any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	e.mu.RLock()
	prg, hit := e.prgCache[expr]
	e.mu.RUnlock()

	if !hit {
		e.mu.Lock()
		if prg, hit = e.prgCache[expr]; !hit {
			ast, issues := e.env.Compile(expr)
			if issues != nil && issues.Err() != nil {
				e.mu.Unlock()
				return false, fmt.Errorf("compile: %w", issues.Err())
			}
			p, err := e.env.Program(ast,
				cel.InterruptCheckFrequency(100),
				cel.CostLimit(10000), // operator-authored conditions stay cheap
			)
			if err != nil {
				e.mu.Unlock()
				return false, fmt.Errorf("program: %w", err)
			}
			e.prgCache[expr] = p
			prg = p
		}
		e.mu.Unlock()
	}

	out, _, err := prg.Eval(input)
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("condition result is %T, not bool", out.Value())
	}
	return val, nil
}

func numericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func breached(op contracts.ThresholdOperator, observed, limit float64) bool {
	switch op {
	case contracts.OpGreaterThan:
		return observed > limit
	case contracts.OpGreaterOrEqual:
		return observed >= limit
	case contracts.OpLessThan:
		return observed < limit
	case contracts.OpLessOrEqual:
		return observed <= limit
	case contracts.OpEqual:
		return observed == limit
	}
	return false
}
