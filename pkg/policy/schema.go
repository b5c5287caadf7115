package policy

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/citygrid-labs/aegis/pkg/contracts"
)

// policySchema constrains operator-submitted policy documents before they
// enter the store. CEL condition sources are compiled (and rejected or
// skipped) by the evaluator; the schema only guards structure.
const policySchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["id", "name", "scope", "rules"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "name": {"type": "string", "minLength": 1},
    "scope": {"enum": ["global", "city", "department", "scenario"]},
    "scope_id": {"type": "string"},
    "status": {"enum": ["draft", "testing", "active", "deprecated"]},
    "rules": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "condition", "effect"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "condition": {"type": "string", "minLength": 1},
          "effect": {"type": "string", "minLength": 1},
          "priority": {"type": "integer", "minimum": 0, "maximum": 100},
          "enabled": {"type": "boolean"}
        }
      }
    },
    "thresholds": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "metric", "operator", "value", "action_on_breach"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "metric": {"type": "string", "minLength": 1},
          "operator": {"enum": ["gt", "gte", "lt", "lte", "eq"]},
          "value": {"type": "number"},
          "unit": {"type": "string"},
          "action_on_breach": {"type": "string", "minLength": 1}
        }
      }
    }
  }
}`

// Validator checks policy documents against the embedded JSON Schema.
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles the embedded schema.
func NewValidator() *Validator {
	return &Validator{
		schema: jsonschema.MustCompileString("aegis://schemas/policy.json", policySchema),
	}
}

// Validate rejects structurally invalid policies. Scoped policies below
// global must name the scope they apply to.
func (v *Validator) Validate(p *contracts.Policy) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("policy %s: encoding for validation: %w", p.ID, err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("policy %s: decoding for validation: %w", p.ID, err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return fmt.Errorf("policy %s: schema validation failed: %w", p.ID, err)
	}
	if p.Scope != contracts.ScopeGlobal && p.ScopeID == "" {
		return fmt.Errorf("policy %s: scope %s requires scope_id", p.ID, p.Scope)
	}
	seen := make(map[string]bool, len(p.Rules))
	for _, r := range p.Rules {
		if seen[r.ID] {
			return fmt.Errorf("policy %s: duplicate rule id %s", p.ID, r.ID)
		}
		seen[r.ID] = true
	}
	return nil
}
