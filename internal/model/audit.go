package model

import (
	"regexp"
	"time"
)

// PipelineStage names the stage an audit record was emitted from.
type PipelineStage string

const (
	StageReceived           PipelineStage = "received"
	StageAuthenticated      PipelineStage = "authenticated"
	StagePolicyChecked      PipelineStage = "policy_checked"
	StageInputSafetyChecked PipelineStage = "input_safety_checked"
	StageRetrieved          PipelineStage = "retrieved"
	StageGenerated          PipelineStage = "generated"
	StageOutputSafety       PipelineStage = "output_safety_checked"
	StageResponded          PipelineStage = "responded"
)

// AuditRecord is the structured, secret-free trail of one pipeline
// decision. It carries ids and rule references only; redaction of
// secret-shaped text happens in NewAuditRecord so no code path can write a
// raw secret into the record type afterwards.
type AuditRecord struct {
	ID                string        `json:"id"`
	TenantID          string        `json:"tenant_id"`
	UserID            string        `json:"user_id"`
	ChatbotID         string        `json:"chatbot_id"`
	Stage             PipelineStage `json:"stage"`
	Decision          string        `json:"decision"`
	Reason            string        `json:"reason,omitempty"`
	RuleIDs           []string      `json:"rule_ids,omitempty"`
	RetrievedChunkIDs []string      `json:"retrieved_chunk_ids,omitempty"`
	IntegrityFault    bool          `json:"integrity_fault,omitempty"`
	LatencyMs         int64         `json:"latency_ms"`
	CreatedAt         time.Time     `json:"created_at"`
}

// secretShapes are conservative patterns for credential material. They are
// applied to every free-text field at record construction time.
var secretShapes = []*regexp.Regexp{
	regexp.MustCompile(`\b[0-9a-fA-F]{40,64}\b`),
	regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{16,}\b`),
	regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/=-]{16,}`),
	regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`),
	regexp.MustCompile(`(?i)(password|passphrase|api[_-]?key|secret)\s*[:=]\s*\S+`),
}

// ScrubSecrets masks credential-shaped substrings in s.
func ScrubSecrets(s string) string {
	for _, re := range secretShapes {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}

// NewAuditRecord builds a record with secret-shaped fields scrubbed. Callers
// must not mutate free-text fields after construction.
func NewAuditRecord(id string, tctx *TenantContext, chatbotID string, stage PipelineStage, decision, reason string) *AuditRecord {
	rec := &AuditRecord{
		ID:        id,
		ChatbotID: ScrubSecrets(chatbotID),
		Stage:     stage,
		Decision:  ScrubSecrets(decision),
		Reason:    ScrubSecrets(reason),
		CreatedAt: time.Now().UTC(),
	}
	if tctx != nil {
		rec.TenantID = tctx.TenantID()
		rec.UserID = tctx.UserID()
	}
	return rec
}
