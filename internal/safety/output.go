package safety

import (
	"strconv"
	"strings"

	"github.com/ragworks/raggate/internal/model"
	"github.com/ragworks/raggate/internal/policy"
)

// minFragmentLen keeps trivially short protected fragments from matching
// ordinary prose.
const minFragmentLen = 16

const redactedMark = "[REDACTED]"

// OutputFilter inspects raw model output before anything reaches the
// client. There is no configuration that skips it.
type OutputFilter struct{}

func NewOutputFilter() *OutputFilter {
	return &OutputFilter{}
}

// Check runs the output pass. Block means the whole response must be
// replaced with the fallback phrase; Redact returns the output with
// offending spans masked in RedactedText.
func (f *OutputFilter) Check(rs *policy.RuleSet, rawOutput string) model.SafetyVerdict {
	if rs == nil {
		return model.SafetyVerdict{Outcome: model.VerdictBlock}
	}

	// System-instruction leakage: match normalized protected fragments so
	// casing and whitespace paraphrases are still caught.
	probe := normalizeForMatch(rawOutput)
	for i, fragment := range rs.ProtectedFragments {
		frag := normalizeForMatch(fragment)
		if len(frag) < minFragmentLen {
			continue
		}
		if strings.Contains(probe, frag) {
			findings := []model.Finding{{Kind: KindLeak, RuleID: fragmentRuleID(i)}}
			countFindings("output", findings)
			return model.SafetyVerdict{Outcome: model.VerdictBlock, Findings: findings}
		}
	}

	if matched := rs.EvalContentRules(policy.StageOutput, map[string]any{
		"query":      rawOutput,
		"chatbot_id": "",
		"role":       "",
	}); len(matched) > 0 {
		findings := make([]model.Finding, 0, len(matched))
		for _, id := range matched {
			findings = append(findings, model.Finding{Kind: KindPolicy, RuleID: id})
		}
		countFindings("output", findings)
		return model.SafetyVerdict{Outcome: model.VerdictBlock, Findings: findings}
	}

	masked, findings := maskPatterns(rawOutput, rs.SecretPatterns, KindSecret)
	masked, piiFindings := maskPatterns(masked, rs.PIIPatterns, KindPII)
	findings = append(findings, piiFindings...)

	countFindings("output", findings)
	if len(findings) > 0 {
		return model.SafetyVerdict{
			Outcome:      model.VerdictRedact,
			Findings:     findings,
			RedactedText: masked,
		}
	}
	return model.SafetyVerdict{Outcome: model.VerdictAllow}
}

func fragmentRuleID(i int) string {
	return "protected.fragment." + strconv.Itoa(i)
}

// maskPatterns replaces every match of the given patterns with the
// redaction mark and records a finding per match. Spans refer to the text
// as it was when the pattern ran.
func maskPatterns(text string, patterns []policy.PatternRule, kind string) (string, []model.Finding) {
	var findings []model.Finding
	for i := range patterns {
		p := &patterns[i]
		spans := p.Match(text)
		if len(spans) == 0 {
			continue
		}
		// Rebuild back to front so earlier spans stay valid.
		for j := len(spans) - 1; j >= 0; j-- {
			span := spans[j]
			findings = append(findings, model.Finding{
				Kind:   kind,
				RuleID: p.ID,
				Start:  span[0],
				End:    span[1],
			})
			text = text[:span[0]] + redactedMark + text[span[1]:]
		}
	}
	return text, findings
}
