package policy

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/citygrid-labs/aegis/pkg/contracts"
)

// Pack is an operator-authored YAML bundle used to seed a deployment:
// policies, emergency overrides, and the effect registry the conflict
// detector consults.
type Pack struct {
	Policies  []PackPolicy   `yaml:"policies"`
	Overrides []PackOverride `yaml:"overrides"`
	Effects   []PackEffect   `yaml:"effects"`
}

// PackPolicy mirrors contracts.Policy in YAML form.
type PackPolicy struct {
	ID         string          `yaml:"id"`
	Name       string          `yaml:"name"`
	Scope      string          `yaml:"scope"`
	ScopeID    string          `yaml:"scope_id"`
	Status     string          `yaml:"status"`
	Rules      []PackRule      `yaml:"rules"`
	Thresholds []PackThreshold `yaml:"thresholds"`
}

type PackRule struct {
	ID        string `yaml:"id"`
	Condition string `yaml:"condition"`
	Effect    string `yaml:"effect"`
	Priority  int    `yaml:"priority"`
	Enabled   *bool  `yaml:"enabled"`
}

type PackThreshold struct {
	ID             string  `yaml:"id"`
	Metric         string  `yaml:"metric"`
	Operator       string  `yaml:"operator"`
	Value          float64 `yaml:"value"`
	Unit           string  `yaml:"unit"`
	ActionOnBreach string  `yaml:"action_on_breach"`
}

type PackOverride struct {
	ID               string     `yaml:"id"`
	Name             string     `yaml:"name"`
	EmergencyType    string     `yaml:"emergency_type"`
	AffectedPolicies []string   `yaml:"affected_policies"`
	OverrideRules    []PackRule `yaml:"override_rules"`
}

// PackEffect declares an effect identifier and the effects it cannot
// coexist with.
type PackEffect struct {
	ID            string   `yaml:"id"`
	Description   string   `yaml:"description"`
	ExclusiveWith []string `yaml:"exclusive_with"`
}

// LoadPack reads and parses a YAML policy pack from disk.
func LoadPack(path string) (*Pack, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // operator-configured path
	if err != nil {
		return nil, fmt.Errorf("failed to read policy pack %s: %w", path, err)
	}
	var pack Pack
	if err := yaml.Unmarshal(raw, &pack); err != nil {
		return nil, fmt.Errorf("failed to parse policy pack %s: %w", path, err)
	}
	return &pack, nil
}

// Policy converts the YAML form to the contract type. Rules default to
// enabled unless explicitly disabled.
func (p PackPolicy) Policy() *contracts.Policy {
	out := &contracts.Policy{
		ID:      p.ID,
		Name:    p.Name,
		Scope:   contracts.PolicyScope(p.Scope),
		ScopeID: p.ScopeID,
		Status:  contracts.PolicyStatus(p.Status),
	}
	for _, r := range p.Rules {
		out.Rules = append(out.Rules, r.Rule())
	}
	for _, t := range p.Thresholds {
		out.Thresholds = append(out.Thresholds, contracts.Threshold{
			ID:             t.ID,
			Metric:         t.Metric,
			Operator:       contracts.ThresholdOperator(t.Operator),
			Value:          t.Value,
			Unit:           t.Unit,
			ActionOnBreach: t.ActionOnBreach,
		})
	}
	return out
}

func (r PackRule) Rule() contracts.Rule {
	enabled := true
	if r.Enabled != nil {
		enabled = *r.Enabled
	}
	return contracts.Rule{
		ID:        r.ID,
		Condition: r.Condition,
		Effect:    r.Effect,
		Priority:  r.Priority,
		Enabled:   enabled,
	}
}

// Override converts the YAML form to the contract type.
func (o PackOverride) Override() *contracts.EmergencyOverride {
	out := &contracts.EmergencyOverride{
		ID:               o.ID,
		Name:             o.Name,
		EmergencyType:    o.EmergencyType,
		AffectedPolicies: o.AffectedPolicies,
	}
	for _, r := range o.OverrideRules {
		out.OverrideRules = append(out.OverrideRules, r.Rule())
	}
	return out
}

// Seed submits every pack policy that does not already exist in the store.
func (s *Store) Seed(ctx context.Context, pack *Pack, actor contracts.Actor) error {
	for _, pp := range pack.Policies {
		_, err := s.repo.Get(ctx, pp.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("seeding policy %s: %w", pp.ID, err)
		}
		if _, err := s.Submit(ctx, pp.Policy(), actor); err != nil {
			return fmt.Errorf("seeding policy %s: %w", pp.ID, err)
		}
	}
	return nil
}
