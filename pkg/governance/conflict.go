package governance

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"

	"github.com/citygrid-labs/aegis/pkg/contracts"
)

// ConflictDetector statically scans a policy set for rule pairs whose
// trigger conditions can hold at the same time while their effects cannot
// both execute. It is advisory only: it never blocks evaluation and never
// mutates policy state, and repeated scans of the same set yield the same
// findings.
type ConflictDetector struct {
	registry *EffectRegistry
}

// NewConflictDetector creates a detector over the given effect registry.
func NewConflictDetector(registry *EffectRegistry) *ConflictDetector {
	return &ConflictDetector{registry: registry}
}

// interval is a numeric trigger window for one metric.
type interval struct {
	lo, hi float64
}

func fullInterval() interval {
	return interval{lo: math.Inf(-1), hi: math.Inf(1)}
}

func (iv interval) intersects(other interval) bool {
	return iv.lo <= other.hi && other.lo <= iv.hi
}

// comparisonPattern matches `snapshot.<metric> <op> <number>` fragments of
// a CEL condition. This is a deliberately conservative approximation of
// satisfiability: only numeric windows over the same metric are compared.
var comparisonPattern = regexp.MustCompile(`snapshot\.([A-Za-z_][A-Za-z0-9_]*)\s*(>=|<=|==|>|<)\s*(-?[0-9]+(?:\.[0-9]+)?)`)

// windows extracts the per-metric trigger windows of a condition.
func windows(condition string) map[string]interval {
	out := make(map[string]interval)
	for _, m := range comparisonPattern.FindAllStringSubmatch(condition, -1) {
		metric, op := m[1], m[2]
		bound, err := strconv.ParseFloat(m[3], 64)
		if err != nil {
			continue
		}
		iv, ok := out[metric]
		if !ok {
			iv = fullInterval()
		}
		switch op {
		case ">", ">=":
			if bound > iv.lo {
				iv.lo = bound
			}
		case "<", "<=":
			if bound < iv.hi {
				iv.hi = bound
			}
		case "==":
			if bound > iv.lo {
				iv.lo = bound
			}
			if bound < iv.hi {
				iv.hi = bound
			}
		}
		out[metric] = iv
	}
	return out
}

// overlap reports whether two conditions can plausibly hold together:
// they must share at least one metric, and every shared metric's windows
// must intersect.
func overlap(a, b map[string]interval) bool {
	shared := false
	for metric, ia := range a {
		ib, ok := b[metric]
		if !ok {
			continue
		}
		shared = true
		if !ia.intersects(ib) {
			return false
		}
	}
	return shared
}

// scanRule is one enabled rule with its owning policy and parsed windows.
type scanRule struct {
	policyID string
	rule     contracts.Rule
	windows  map[string]interval
}

// Detect runs the pairwise scan over all enabled rules of the given
// active policies. O(n²) over operator-authored content, which stays
// small.
func (d *ConflictDetector) Detect(policies []contracts.Policy) []contracts.ConflictFinding {
	var rules []scanRule
	for _, p := range policies {
		if p.Status != contracts.PolicyActive {
			continue
		}
		for _, r := range p.Rules {
			if !r.Enabled {
				continue
			}
			rules = append(rules, scanRule{policyID: p.ID, rule: r, windows: windows(r.Condition)})
		}
	}
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].policyID != rules[j].policyID {
			return rules[i].policyID < rules[j].policyID
		}
		return rules[i].rule.ID < rules[j].rule.ID
	})

	var findings []contracts.ConflictFinding
	for i := 0; i < len(rules); i++ {
		for j := i + 1; j < len(rules); j++ {
			a, b := rules[i], rules[j]
			if !overlap(a.windows, b.windows) {
				continue
			}
			switch {
			case d.registry.Exclusive(a.rule.Effect, b.rule.Effect):
				findings = append(findings, contracts.ConflictFinding{
					PolicyA:      a.policyID,
					PolicyB:      b.policyID,
					RuleA:        a.rule.ID,
					RuleB:        b.rule.ID,
					ConflictType: contracts.ConflictExclusiveEffects,
					Severity:     contracts.SeverityHigh,
					ResolutionSuggestion: fmt.Sprintf(
						"effects %q and %q are mutually exclusive; narrow one rule's trigger window or disable it",
						a.rule.Effect, b.rule.Effect),
				})
			case a.policyID != b.policyID && a.rule.Effect == b.rule.Effect:
				findings = append(findings, contracts.ConflictFinding{
					PolicyA:      a.policyID,
					PolicyB:      b.policyID,
					RuleA:        a.rule.ID,
					RuleB:        b.rule.ID,
					ConflictType: contracts.ConflictDuplicateEffect,
					Severity:     contracts.SeverityWarning,
					ResolutionSuggestion: fmt.Sprintf(
						"both policies can trigger %q on overlapping conditions; let a single policy own the effect",
						a.rule.Effect),
				})
			}
		}
	}
	return findings
}
