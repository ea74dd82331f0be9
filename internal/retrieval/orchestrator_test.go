package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ragworks/raggate/internal/model"
	"github.com/ragworks/raggate/internal/policy"
)

type stubEmbedder struct {
	err error
}

func (s stubEmbedder) Embed(context.Context, string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

type stubSearcher struct {
	chunks []model.DocumentChunk
	err    error
	got    model.RetrievalQuery
}

func (s *stubSearcher) Search(_ context.Context, q model.RetrievalQuery) ([]model.DocumentChunk, error) {
	s.got = q
	return s.chunks, s.err
}

var testBounds = policy.RetrievalBounds{TopKMin: 5, TopKMax: 10, MaxChunkSize: 50}

func TestClampTopK(t *testing.T) {
	cases := []struct {
		requested int
		want      int
	}{
		{0, 10},
		{-3, 10},
		{1, 5},
		{4, 5},
		{5, 5},
		{7, 7},
		{10, 10},
		{11, 10},
		{100, 10},
	}
	for _, tc := range cases {
		if got := ClampTopK(tc.requested, testBounds); got != tc.want {
			t.Errorf("ClampTopK(%d) = %d, want %d", tc.requested, got, tc.want)
		}
	}
}

func TestRetrieveRefusesUnverifiedContext(t *testing.T) {
	o := NewOrchestrator(stubEmbedder{}, &stubSearcher{})
	var tctx *model.TenantContext
	_, err := o.Retrieve(context.Background(), tctx, &model.RequestEnvelope{}, 5, testBounds)
	if !errors.Is(err, ErrUnverifiedContext) {
		t.Fatalf("expected ErrUnverifiedContext, got %v", err)
	}
}

func TestRetrieveScopesQueryToVerifiedTenant(t *testing.T) {
	searcher := &stubSearcher{}
	o := NewOrchestrator(stubEmbedder{}, searcher)
	tctx := model.NewTenantContext("tenant-a", "user-1", model.RoleMember)
	env := &model.RequestEnvelope{ChatbotID: "bot-1", RawQuery: "question", Tenant: tctx}

	if _, err := o.Retrieve(context.Background(), tctx, env, 0, testBounds); err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if searcher.got.TenantID != "tenant-a" || searcher.got.ChatbotID != "bot-1" {
		t.Fatalf("query not scoped to verified identity: %+v", searcher.got)
	}
	if searcher.got.TopK != 10 {
		t.Fatalf("expected topK clamped to upper bound, got %d", searcher.got.TopK)
	}
}

func TestRetrieveDiscardsForeignChunks(t *testing.T) {
	searcher := &stubSearcher{chunks: []model.DocumentChunk{
		{ID: "c1", TenantID: "tenant-a", ChatbotID: "bot-1", Content: "mine"},
		{ID: "c2", TenantID: "tenant-b", ChatbotID: "bot-1", Content: "foreign tenant"},
		{ID: "c3", TenantID: "tenant-a", ChatbotID: "bot-2", Content: "foreign chatbot"},
	}}
	o := NewOrchestrator(stubEmbedder{}, searcher)
	tctx := model.NewTenantContext("tenant-a", "user-1", model.RoleMember)
	env := &model.RequestEnvelope{ChatbotID: "bot-1", RawQuery: "question", Tenant: tctx}

	res, err := o.Retrieve(context.Background(), tctx, env, 5, testBounds)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(res.Chunks) != 1 || res.Chunks[0].ID != "c1" {
		t.Fatalf("expected only the tenant's chunk, got %+v", res.Chunks)
	}
	if res.Discarded != 2 {
		t.Fatalf("expected 2 discarded, got %d", res.Discarded)
	}
}

func TestRetrieveTruncatesOversizeChunks(t *testing.T) {
	searcher := &stubSearcher{chunks: []model.DocumentChunk{
		{ID: "c1", TenantID: "tenant-a", ChatbotID: "bot-1", Content: strings.Repeat("x", 500)},
	}}
	o := NewOrchestrator(stubEmbedder{}, searcher)
	tctx := model.NewTenantContext("tenant-a", "user-1", model.RoleMember)
	env := &model.RequestEnvelope{ChatbotID: "bot-1", RawQuery: "question", Tenant: tctx}

	res, err := o.Retrieve(context.Background(), tctx, env, 5, testBounds)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(res.Chunks[0].Content) != testBounds.MaxChunkSize {
		t.Fatalf("chunk not truncated: %d", len(res.Chunks[0].Content))
	}
}

func TestRetrieveEmptyResultIsNotAnError(t *testing.T) {
	o := NewOrchestrator(stubEmbedder{}, &stubSearcher{})
	tctx := model.NewTenantContext("tenant-a", "user-1", model.RoleMember)
	env := &model.RequestEnvelope{ChatbotID: "bot-1", RawQuery: "question", Tenant: tctx}

	res, err := o.Retrieve(context.Background(), tctx, env, 5, testBounds)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(res.Chunks) != 0 {
		t.Fatalf("expected no chunks, got %d", len(res.Chunks))
	}
}

func TestRetrieveSearchOutage(t *testing.T) {
	o := NewOrchestrator(stubEmbedder{}, &stubSearcher{err: errors.New("down")})
	tctx := model.NewTenantContext("tenant-a", "user-1", model.RoleMember)
	env := &model.RequestEnvelope{ChatbotID: "bot-1", RawQuery: "question", Tenant: tctx}

	_, err := o.Retrieve(context.Background(), tctx, env, 5, testBounds)
	if !errors.Is(err, ErrSearchUnavailable) {
		t.Fatalf("expected ErrSearchUnavailable, got %v", err)
	}
}
