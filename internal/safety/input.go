package safety

import (
	"strings"

	"github.com/ragworks/raggate/internal/model"
	"github.com/ragworks/raggate/internal/pkg/metrics"
	"github.com/ragworks/raggate/internal/policy"
)

const (
	KindInjection = "prompt_injection"
	KindDomain    = "domain_restriction"
	KindSecret    = "secret"
	KindPII       = "pii"
	KindPolicy    = "policy_rule"
	KindLeak      = "system_prompt_leak"
	KindVolume    = "suspicious_volume"
)

const volumeRuleID = "volume.oversize"

// InputFilter validates and sanitizes raw user input before retrieval.
type InputFilter struct{}

func NewInputFilter() *InputFilter {
	return &InputFilter{}
}

// Check runs the input pass against one rule-set snapshot. On any outcome
// other than Block, RedactedText carries the text the pipeline must
// continue with (sanitized, with secret spans masked).
func (f *InputFilter) Check(rs *policy.RuleSet, env *model.RequestEnvelope) model.SafetyVerdict {
	if rs == nil {
		// No rules loaded: fail closed.
		return model.SafetyVerdict{Outcome: model.VerdictBlock}
	}

	sanitized := Sanitize(env.RawQuery)
	if sanitized == "" {
		return model.SafetyVerdict{Outcome: model.VerdictBlock}
	}

	var findings []model.Finding

	// Injection signatures run against the normalized form so casing and
	// spacing games do not slip past the patterns.
	probe := normalizeForMatch(sanitized)
	for i := range rs.InjectionSignatures {
		sig := &rs.InjectionSignatures[i]
		for _, span := range sig.Match(probe) {
			findings = append(findings, model.Finding{
				Kind:   KindInjection,
				RuleID: sig.ID,
				Start:  span[0],
				End:    span[1],
			})
		}
	}
	if len(findings) > 0 {
		countFindings("input", findings)
		return model.SafetyVerdict{Outcome: model.VerdictBlock, Findings: findings}
	}

	if id, denied := checkDomain(rs, probe); denied {
		findings = append(findings, model.Finding{Kind: KindDomain, RuleID: id})
		countFindings("input", findings)
		return model.SafetyVerdict{Outcome: model.VerdictBlock, Findings: findings}
	}

	if matched := rs.EvalContentRules(policy.StageInput, map[string]any{
		"query":      sanitized,
		"chatbot_id": env.ChatbotID,
		"role":       roleOf(env),
	}); len(matched) > 0 {
		for _, id := range matched {
			findings = append(findings, model.Finding{Kind: KindPolicy, RuleID: id})
		}
		countFindings("input", findings)
		return model.SafetyVerdict{Outcome: model.VerdictBlock, Findings: findings}
	}

	// Oversized input is truncated by Sanitize, but the excess is still a
	// volume signal: the finding lets the pipeline charge extra rate-limit
	// budget so repeated oversized submissions drain the window.
	if len(env.RawQuery) > maxQueryLen {
		findings = append(findings, model.Finding{
			Kind:   KindVolume,
			RuleID: volumeRuleID,
			End:    len(env.RawQuery),
		})
	}

	// Secret-shaped input is masked, not forwarded: the model and the
	// retrieval collaborator never see pasted credentials.
	masked, secretFindings := maskPatterns(sanitized, rs.SecretPatterns, KindSecret)
	findings = append(findings, secretFindings...)

	countFindings("input", findings)
	if len(findings) > 0 || masked != env.RawQuery {
		outcome := model.VerdictAllow
		if len(findings) > 0 {
			outcome = model.VerdictRedact
		}
		return model.SafetyVerdict{
			Outcome:      outcome,
			Findings:     findings,
			RedactedText: masked,
		}
	}
	return model.SafetyVerdict{Outcome: model.VerdictAllow, RedactedText: masked}
}

// checkDomain enforces the deny list first, then the allow list when one
// is configured: with a non-empty allow list, a query matching none of the
// allowed topics is rejected.
func checkDomain(rs *policy.RuleSet, probe string) (string, bool) {
	for _, term := range rs.DomainDeny {
		if term != "" && strings.Contains(probe, strings.ToLower(term)) {
			return "domain.deny", true
		}
	}
	if len(rs.DomainAllow) == 0 {
		return "", false
	}
	for _, term := range rs.DomainAllow {
		if term != "" && strings.Contains(probe, strings.ToLower(term)) {
			return "", false
		}
	}
	return "domain.allow", true
}

func roleOf(env *model.RequestEnvelope) string {
	if env.Tenant == nil {
		return ""
	}
	return string(env.Tenant.Role())
}

func countFindings(pass string, findings []model.Finding) {
	for _, f := range findings {
		metrics.SafetyFindings.WithLabelValues(pass, f.Kind).Inc()
	}
}
