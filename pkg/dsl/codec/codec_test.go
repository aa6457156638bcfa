package codec

import (
	"errors"
	"reflect"
	"testing"

	"cobalt-hq/saturn/pkg/dsl/ast"
)

const ruleSetJSON = `{
  "institution_id": "acme_mutual",
  "name": "claims_triage",
  "version": 2,
  "stop_on_first_match": true,
  "rules": [
    {
      "conditions": {
        "group": {
          "combinator": "AND",
          "children": [
            {"predicate": {"path": "claim.amount", "op": "lessThan", "value": 500}},
            {"predicate": {"path": "ai.fraud_score", "op": "lessThan", "value": 0.3}}
          ]
        }
      },
      "actions": [
        {"kind": "setStatus", "params": {"status": "auto_approved"}},
        {"kind": "triggerEvent", "params": {"name": "claim.auto_approved"}}
      ]
    }
  ]
}`

const ruleSetYAML = `
institution_id: acme_mutual
name: claims_triage
version: 2
stop_on_first_match: true
rules:
  - conditions:
      group:
        combinator: AND
        children:
          - predicate: {path: claim.amount, op: lessThan, value: 500}
          - predicate: {path: ai.fraud_score, op: lessThan, value: 0.3}
    actions:
      - kind: setStatus
        params: {status: auto_approved}
      - kind: triggerEvent
        params: {name: claim.auto_approved}
`

func TestDecodeRuleSetJSON(t *testing.T) {
	rs, err := DecodeRuleSet([]byte(ruleSetJSON), FormatJSON)
	if err != nil {
		t.Fatalf("DecodeRuleSet: %v", err)
	}

	if rs.Institution != "acme_mutual" || rs.Name != "claims_triage" || rs.Version != 2 {
		t.Errorf("header = %s/%s v%d", rs.Institution, rs.Name, rs.Version)
	}
	if !rs.StopOnFirstMatch {
		t.Error("stop_on_first_match not decoded")
	}
	if len(rs.Rules) != 1 || len(rs.Rules[0].Actions) != 2 {
		t.Fatalf("rules/actions shape wrong: %+v", rs.Rules)
	}

	group := rs.Rules[0].Conditions.Group
	if group == nil || group.Combinator != ast.CombinatorAnd || len(group.Children) != 2 {
		t.Fatalf("condition group shape wrong: %+v", group)
	}
	if group.Children[0].Predicate.Op != ast.OperatorLessThan {
		t.Errorf("operator = %q", group.Children[0].Predicate.Op)
	}
}

func TestDecodeRuleSetYAMLMatchesJSON(t *testing.T) {
	fromJSON, err := DecodeRuleSet([]byte(ruleSetJSON), FormatJSON)
	if err != nil {
		t.Fatalf("json decode: %v", err)
	}
	fromYAML, err := DecodeRuleSet([]byte(ruleSetYAML), FormatYAML)
	if err != nil {
		t.Fatalf("yaml decode: %v", err)
	}

	// YAML decodes whole numbers as int; compare through the canonical JSON
	// encoding, which both forms share.
	jsonBytes, err := EncodeRuleSet(fromJSON)
	if err != nil {
		t.Fatalf("encode json form: %v", err)
	}
	yamlBytes, err := EncodeRuleSet(fromYAML)
	if err != nil {
		t.Fatalf("encode yaml form: %v", err)
	}

	a, err := DecodeRuleSet(jsonBytes, FormatJSON)
	if err != nil {
		t.Fatalf("re-decode: %v", err)
	}
	b, err := DecodeRuleSet(yamlBytes, FormatJSON)
	if err != nil {
		t.Fatalf("re-decode: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Error("YAML and JSON payloads decoded to different definitions")
	}
}

func TestRuleSetRoundTrip(t *testing.T) {
	original, err := DecodeRuleSet([]byte(ruleSetJSON), FormatJSON)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	encoded, err := EncodeRuleSet(original)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	decoded, err := DecodeRuleSet(encoded, FormatJSON)
	if err != nil {
		t.Fatalf("re-decode: %v", err)
	}

	if !reflect.DeepEqual(original, decoded) {
		t.Errorf("round trip mismatch:\noriginal: %+v\ndecoded:  %+v", original, decoded)
	}
}

const workflowJSON = `{
  "institution_id": "acme_mutual",
  "name": "claims_flow",
  "version": 1,
  "initial_state": "Intake",
  "states": {
    "Intake": {},
    "Review": {"entry_actions": [{"kind": "ruleset", "ref": "claims_triage"}]},
    "Approved": {},
    "Escalated": {}
  },
  "transitions": [
    {"from": "Intake", "to": "Review", "priority": 1},
    {"from": "Review", "to": "Approved", "priority": 1,
     "condition": {"predicate": {"path": "decision.status", "op": "equals", "value": "auto_approved"}}},
    {"from": "Review", "to": "Escalated", "priority": 2}
  ]
}`

func TestDecodeWorkflowDefinition(t *testing.T) {
	wd, err := DecodeWorkflowDefinition([]byte(workflowJSON), FormatJSON)
	if err != nil {
		t.Fatalf("DecodeWorkflowDefinition: %v", err)
	}

	if wd.InitialState != "Intake" {
		t.Errorf("initial state = %q", wd.InitialState)
	}
	if len(wd.States) != 4 {
		t.Errorf("states = %d, want 4", len(wd.States))
	}
	// State names are stamped from the map keys during decoding.
	if wd.States["Review"].Name != "Review" {
		t.Errorf("state name not stamped: %q", wd.States["Review"].Name)
	}
	if got := wd.States["Review"].EntryActions[0].Kind; got != ast.CollaboratorRuleSet {
		t.Errorf("entry action kind = %q", got)
	}
}

func TestWorkflowRoundTrip(t *testing.T) {
	original, err := DecodeWorkflowDefinition([]byte(workflowJSON), FormatJSON)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	encoded, err := EncodeWorkflowDefinition(original)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	decoded, err := DecodeWorkflowDefinition(encoded, FormatJSON)
	if err != nil {
		t.Fatalf("re-decode: %v", err)
	}

	if !reflect.DeepEqual(original, decoded) {
		t.Errorf("round trip mismatch:\noriginal: %+v\ndecoded:  %+v", original, decoded)
	}
}

func TestDecodeRejectsInvalidDefinitions(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"unknown operator", `{"institution_id":"a","name":"n","version":1,"rules":[
			{"conditions":{"predicate":{"path":"x","op":"spaceship","value":1}},
			 "actions":[{"kind":"setStatus","params":{"status":"ok"}}]}]}`},
		{"unknown action kind", `{"institution_id":"a","name":"n","version":1,"rules":[
			{"conditions":{"predicate":{"path":"x","op":"exists"}},
			 "actions":[{"kind":"explode"}]}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeRuleSet([]byte(tt.payload), FormatJSON)
			var derr *ast.DefinitionError
			if !errors.As(err, &derr) {
				t.Fatalf("DecodeRuleSet error = %v, want *ast.DefinitionError", err)
			}
		})
	}
}

func TestFormatForPath(t *testing.T) {
	if f, err := FormatForPath("rules/claims.json"); err != nil || f != FormatJSON {
		t.Errorf("json path: %v %v", f, err)
	}
	if f, err := FormatForPath("rules/claims.yaml"); err != nil || f != FormatYAML {
		t.Errorf("yaml path: %v %v", f, err)
	}
	if _, err := FormatForPath("rules/claims.toml"); err == nil {
		t.Error("toml path should be rejected")
	}
}
