package retrieval

import (
	"context"
	"errors"
	"fmt"

	"github.com/ragworks/raggate/internal/model"
	"github.com/ragworks/raggate/internal/pkg/logger"
	"github.com/ragworks/raggate/internal/pkg/metrics"
	"github.com/ragworks/raggate/internal/policy"
)

var (
	// ErrUnverifiedContext means a caller tried to retrieve without a
	// resolver-produced TenantContext. This is a programming error surface,
	// not a client error: retrieval structurally refuses to run.
	ErrUnverifiedContext = errors.New("retrieval requires a verified tenant context")

	// ErrSearchUnavailable wraps ordinary collaborator outages.
	ErrSearchUnavailable = errors.New("similarity search unavailable")
)

// Result is one completed retrieval. Discarded counts chunks dropped by
// the post-hoc tenant check; any non-zero value is an integrity fault the
// caller must escalate to a high-severity audit event.
type Result struct {
	Chunks    []model.DocumentChunk
	Discarded int
}

// Orchestrator builds tenant-scoped retrieval queries, calls the search
// collaborator, and enforces the isolation invariant on everything that
// comes back.
type Orchestrator struct {
	embedder Embedder
	searcher Searcher
}

func NewOrchestrator(embedder Embedder, searcher Searcher) *Orchestrator {
	return &Orchestrator{embedder: embedder, searcher: searcher}
}

// ClampTopK substitutes the nearest bound for out-of-range requests and
// applies the upper bound when the caller did not ask for anything.
func ClampTopK(requested int, bounds policy.RetrievalBounds) int {
	switch {
	case requested <= 0:
		return bounds.TopKMax
	case requested < bounds.TopKMin:
		return bounds.TopKMin
	case requested > bounds.TopKMax:
		return bounds.TopKMax
	default:
		return requested
	}
}

// Retrieve embeds the sanitized query and returns the tenant's matching
// chunks. The tenant and chatbot ids in the query come exclusively from
// the verified context and the envelope. Every returned chunk is
// re-validated against the query; mismatches are discarded and counted.
// An empty result is not an error.
func (o *Orchestrator) Retrieve(ctx context.Context, tctx *model.TenantContext, env *model.RequestEnvelope, requestedTopK int, bounds policy.RetrievalBounds) (Result, error) {
	if !tctx.Verified() {
		return Result{}, ErrUnverifiedContext
	}

	vector, err := o.embedder.Embed(ctx, env.Query())
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrSearchUnavailable, err)
	}

	query := model.RetrievalQuery{
		TenantID:     tctx.TenantID(),
		ChatbotID:    env.ChatbotID,
		Vector:       vector,
		TopK:         ClampTopK(requestedTopK, bounds),
		MaxChunkSize: bounds.MaxChunkSize,
	}

	raw, err := o.searcher.Search(ctx, query)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrSearchUnavailable, err)
	}

	// Defense in depth: the collaborator is expected to have filtered by
	// tenant and chatbot already, but a buggy or compromised search layer
	// must still never surface a foreign chunk.
	res := Result{Chunks: make([]model.DocumentChunk, 0, len(raw))}
	for _, chunk := range raw {
		if chunk.TenantID != query.TenantID || chunk.ChatbotID != query.ChatbotID {
			res.Discarded++
			metrics.IntegrityFaults.Inc()
			logger.Error("discarded foreign chunk from search collaborator",
				"chunk_id", chunk.ID,
				"expected_tenant", query.TenantID,
				"chunk_tenant", chunk.TenantID)
			continue
		}
		if len(chunk.Content) > query.MaxChunkSize {
			chunk.Content = chunk.Content[:query.MaxChunkSize]
		}
		res.Chunks = append(res.Chunks, chunk)
	}
	return res, nil
}
