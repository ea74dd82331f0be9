package model

// PolicyDecision is the result of one policy evaluation. Produced fresh per
// evaluation and never cached across tenants.
type PolicyDecision struct {
	Allowed        bool                `json:"allowed"`
	Reasons        []string            `json:"reasons,omitempty"`
	AppliedRuleIDs map[string]struct{} `json:"-"`
}

// Deny returns a denial carrying the given reason.
func Deny(reason string, ruleIDs ...string) PolicyDecision {
	d := PolicyDecision{Allowed: false, Reasons: []string{reason}}
	if len(ruleIDs) > 0 {
		d.AppliedRuleIDs = make(map[string]struct{}, len(ruleIDs))
		for _, id := range ruleIDs {
			d.AppliedRuleIDs[id] = struct{}{}
		}
	}
	return d
}

// Allow returns a permissive decision recording the rules that ran.
func Allow(ruleIDs ...string) PolicyDecision {
	d := PolicyDecision{Allowed: true}
	if len(ruleIDs) > 0 {
		d.AppliedRuleIDs = make(map[string]struct{}, len(ruleIDs))
		for _, id := range ruleIDs {
			d.AppliedRuleIDs[id] = struct{}{}
		}
	}
	return d
}

// VerdictOutcome is the three-way result of a safety filter pass.
type VerdictOutcome string

const (
	VerdictAllow  VerdictOutcome = "allow"
	VerdictRedact VerdictOutcome = "redact"
	VerdictBlock  VerdictOutcome = "block"
)

// Finding identifies one detector hit. Span indexes into the scanned text;
// the matched payload itself is deliberately not stored.
type Finding struct {
	Kind   string `json:"kind"`
	RuleID string `json:"rule_id"`
	Start  int    `json:"start"`
	End    int    `json:"end"`
}

// SafetyVerdict is produced independently for the input and output passes.
// RedactedText is set when Outcome is VerdictRedact.
type SafetyVerdict struct {
	Outcome      VerdictOutcome `json:"outcome"`
	Findings     []Finding      `json:"findings,omitempty"`
	RedactedText string         `json:"-"`
}

// RuleIDs lists the detector ids that fired, for audit records.
func (v SafetyVerdict) RuleIDs() []string {
	if len(v.Findings) == 0 {
		return nil
	}
	ids := make([]string, 0, len(v.Findings))
	for _, f := range v.Findings {
		ids = append(ids, f.RuleID)
	}
	return ids
}
