// Package pipeline sequences one ask request through the enforcement
// stages: policy, input safety, retrieval, generation, output safety,
// audit. Stages run strictly in order and any rejection is terminal; no
// later stage can resurrect a rejected request.
package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ragworks/raggate/internal/audit"
	"github.com/ragworks/raggate/internal/generation"
	"github.com/ragworks/raggate/internal/model"
	"github.com/ragworks/raggate/internal/pkg/apperrors"
	"github.com/ragworks/raggate/internal/pkg/logger"
	"github.com/ragworks/raggate/internal/pkg/metrics"
	"github.com/ragworks/raggate/internal/policy"
	"github.com/ragworks/raggate/internal/retrieval"
	"github.com/ragworks/raggate/internal/safety"
)

const (
	decisionAllowed  = "allowed"
	decisionRedacted = "redacted"
	decisionRefused  = "refused"
	decisionDenied   = "denied"
	decisionBlocked  = "blocked"
	decisionError    = "error"
)

// Recorder receives the single terminal audit record of each request.
type Recorder interface {
	Record(rec *model.AuditRecord)
}

// SourceHydrator enriches citations with document metadata from the
// tenant-scoped store.
type SourceHydrator interface {
	HydrateSources(ctx context.Context, tenantID string, chunkIDs []string) (map[string]model.ChunkSource, error)
}

// Pipeline wires the stages together. All fields are set at construction
// and never mutated, so one Pipeline serves all requests concurrently.
type Pipeline struct {
	engine    *policy.Engine
	input     *safety.InputFilter
	output    *safety.OutputFilter
	retriever *retrieval.Orchestrator
	gateway   *generation.Gateway
	recorder  Recorder
	hydrator  SourceHydrator
}

func New(engine *policy.Engine, input *safety.InputFilter, output *safety.OutputFilter, retriever *retrieval.Orchestrator, gateway *generation.Gateway, recorder Recorder, hydrator SourceHydrator) *Pipeline {
	return &Pipeline{
		engine:    engine,
		input:     input,
		output:    output,
		retriever: retriever,
		gateway:   gateway,
		recorder:  recorder,
		hydrator:  hydrator,
	}
}

// Ask runs one request end to end. It returns either a response or an
// *apperrors.AppError; in both cases exactly one audit record has been
// emitted by the time it returns.
func (p *Pipeline) Ask(ctx context.Context, requestID string, tctx *model.TenantContext, req model.AskRequest) (*model.AskResponse, error) {
	env := &model.RequestEnvelope{
		RequestID:  requestID,
		ChatbotID:  req.ChatbotID,
		RawQuery:   req.Query,
		Tenant:     tctx,
		ReceivedAt: time.Now().UTC(),
	}

	if !tctx.Verified() {
		p.finish(env, model.StageAuthenticated, decisionDenied, "unverified_context", nil, nil, false)
		return nil, apperrors.NewGeneric(apperrors.ErrAuthFailed, errors.New("unverified tenant context"))
	}

	// One rule-set snapshot for the whole request: every stage sees the
	// same version even if a reload lands mid-flight.
	rs, err := p.engine.Snapshot()
	if err != nil {
		p.finish(env, model.StagePolicyChecked, decisionDenied, policy.ReasonUnavailable, nil, nil, false)
		return nil, apperrors.NewGeneric(apperrors.ErrPolicyDenied, err)
	}

	decision := p.engine.Evaluate(ctx, rs, tctx, env)
	if !decision.Allowed {
		reason := strings.Join(decision.Reasons, ",")
		p.finish(env, model.StagePolicyChecked, decisionDenied, reason, ruleIDList(decision), nil, false)
		return nil, apperrors.NewGeneric(apperrors.ErrPolicyDenied, errors.New("policy denied: "+reason))
	}

	inVerdict := p.input.Check(rs, env)
	if inVerdict.Outcome == model.VerdictBlock {
		p.finish(env, model.StageInputSafetyChecked, decisionBlocked, findingKinds(inVerdict), inVerdict.RuleIDs(), nil, false)
		return nil, apperrors.NewGeneric(apperrors.ErrSafetyInput, errors.New("input rejected"))
	}
	env.SanitizedQuery = inVerdict.RedactedText

	// An oversized submission consumes extra rate budget beyond its single
	// request, so a client cannot firehose the filter for free.
	for _, f := range inVerdict.Findings {
		if f.Kind == safety.KindVolume {
			p.engine.ChargeVolume(ctx, rs, tctx)
			break
		}
	}

	if err := ctx.Err(); err != nil {
		p.finish(env, model.StageInputSafetyChecked, decisionError, "cancelled", nil, nil, false)
		return nil, apperrors.NewGeneric(apperrors.ErrInternal, err)
	}

	res, err := p.retriever.Retrieve(ctx, tctx, env, req.TopK, rs.Retrieval)
	if err != nil {
		p.finish(env, model.StageRetrieved, decisionError, "retrieval_unavailable", nil, nil, false)
		return nil, apperrors.NewGeneric(apperrors.ErrRetrieval, err)
	}
	integrityFault := res.Discarded > 0
	chunkIDs := make([]string, 0, len(res.Chunks))
	for _, c := range res.Chunks {
		chunkIDs = append(chunkIDs, c.ID)
	}

	answer, err := p.gateway.Generate(ctx, tctx, env.Query(), res.Chunks)
	if err != nil {
		p.finish(env, model.StageGenerated, decisionError, "generation_unavailable", nil, chunkIDs, integrityFault)
		return nil, apperrors.NewGeneric(apperrors.ErrGeneration, err)
	}

	outVerdict := p.output.Check(rs, answer)
	switch outVerdict.Outcome {
	case model.VerdictBlock:
		// The raw answer is discarded entirely; the client gets the
		// fallback phrase, never a partial or described version of it.
		p.finish(env, model.StageOutputSafety, decisionRefused, findingKinds(outVerdict), outVerdict.RuleIDs(), chunkIDs, integrityFault)
		return &model.AskResponse{Answer: generation.FallbackAnswer, Status: "refused"}, nil
	case model.VerdictRedact:
		p.finish(env, model.StageResponded, decisionRedacted, findingKinds(outVerdict), outVerdict.RuleIDs(), chunkIDs, integrityFault)
		return &model.AskResponse{
			Answer:    outVerdict.RedactedText,
			Citations: p.citations(ctx, tctx, res.Chunks),
			Status:    "redacted",
		}, nil
	}

	p.finish(env, model.StageResponded, decisionAllowed, "", ruleIDList(decision), chunkIDs, integrityFault)
	return &model.AskResponse{
		Answer:    answer,
		Citations: p.citations(ctx, tctx, res.Chunks),
		Status:    "ok",
	}, nil
}

// finish emits the single terminal audit record for this request.
func (p *Pipeline) finish(env *model.RequestEnvelope, stage model.PipelineStage, decision, reason string, ruleIDs, chunkIDs []string, integrityFault bool) {
	rec := model.NewAuditRecord(env.RequestID, env.Tenant, env.ChatbotID, stage, decision, reason)
	rec.RuleIDs = ruleIDs
	rec.RetrievedChunkIDs = chunkIDs
	rec.IntegrityFault = integrityFault
	rec.LatencyMs = time.Since(env.ReceivedAt).Milliseconds()
	if decision != decisionAllowed && decision != decisionRedacted {
		metrics.StageRejects.WithLabelValues(string(stage), reason).Inc()
	}
	p.recorder.Record(rec)
}

// citations builds the citation list, preferring store metadata when the
// hydrator is configured.
func (p *Pipeline) citations(ctx context.Context, tctx *model.TenantContext, chunks []model.DocumentChunk) []model.Citation {
	if len(chunks) == 0 {
		return nil
	}

	var hydrated map[string]model.ChunkSource
	if p.hydrator != nil {
		ids := make([]string, 0, len(chunks))
		for _, c := range chunks {
			ids = append(ids, c.ID)
		}
		var err error
		hydrated, err = p.hydrator.HydrateSources(ctx, tctx.TenantID(), ids)
		if err != nil {
			// Citations degrade to the search metadata; the answer itself
			// is unaffected.
			logger.Warn("citation hydration failed", "error", err.Error())
		}
	}

	out := make([]model.Citation, 0, len(chunks))
	for _, c := range chunks {
		src := c.Source
		if hs, ok := hydrated[c.ID]; ok {
			src = hs
		}
		out = append(out, model.Citation{
			ChunkID:    c.ID,
			DocumentID: src.DocumentID,
			Title:      src.Title,
			URI:        src.URI,
		})
	}
	return out
}

func ruleIDList(d model.PolicyDecision) []string {
	if len(d.AppliedRuleIDs) == 0 {
		return nil
	}
	ids := make([]string, 0, len(d.AppliedRuleIDs))
	for id := range d.AppliedRuleIDs {
		ids = append(ids, id)
	}
	return ids
}

func findingKinds(v model.SafetyVerdict) string {
	if len(v.Findings) == 0 {
		return ""
	}
	seen := make(map[string]struct{}, len(v.Findings))
	kinds := make([]string, 0, len(v.Findings))
	for _, f := range v.Findings {
		if _, ok := seen[f.Kind]; ok {
			continue
		}
		seen[f.Kind] = struct{}{}
		kinds = append(kinds, f.Kind)
	}
	return strings.Join(kinds, ",")
}

var _ Recorder = (*audit.Logger)(nil)
