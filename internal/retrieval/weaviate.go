package retrieval

import (
	"context"
	"fmt"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/ragworks/raggate/internal/model"
)

// Searcher is the external similarity-search collaborator. It is expected
// to respect the tenant and chatbot filter in the query, but the
// orchestrator re-validates every returned chunk regardless.
type Searcher interface {
	Search(ctx context.Context, query model.RetrievalQuery) ([]model.DocumentChunk, error)
}

// WeaviateSearcher runs nearVector queries against a weaviate class
// holding tenant-partitioned document chunks.
type WeaviateSearcher struct {
	client    *weaviate.Client
	className string
}

func NewWeaviateSearcher(host, scheme, className string) (*WeaviateSearcher, error) {
	client, err := weaviate.NewClient(weaviate.Config{
		Host:   host,
		Scheme: scheme,
	})
	if err != nil {
		return nil, fmt.Errorf("weaviate client: %w", err)
	}
	if className == "" {
		className = "DocumentChunk"
	}
	return &WeaviateSearcher{client: client, className: className}, nil
}

func (s *WeaviateSearcher) Search(ctx context.Context, query model.RetrievalQuery) ([]model.DocumentChunk, error) {
	where := filters.Where().
		WithOperator(filters.And).
		WithOperands([]*filters.WhereBuilder{
			filters.Where().
				WithPath([]string{"tenantId"}).
				WithOperator(filters.Equal).
				WithValueString(query.TenantID),
			filters.Where().
				WithPath([]string{"chatbotId"}).
				WithOperator(filters.Equal).
				WithValueString(query.ChatbotID),
		})

	fields := []graphql.Field{
		{Name: "tenantId"},
		{Name: "chatbotId"},
		{Name: "content"},
		{Name: "documentId"},
		{Name: "title"},
		{Name: "uri"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "id"},
			{Name: "distance"},
		}},
	}

	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(query.Vector)

	resp, err := s.client.GraphQL().Get().
		WithClassName(s.className).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithWhere(where).
		WithLimit(query.TopK).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate search: %w", err)
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("weaviate search: %s", resp.Errors[0].Message)
	}

	return s.parseChunks(resp.Data)
}

func (s *WeaviateSearcher) parseChunks(data map[string]models.JSONObject) ([]model.DocumentChunk, error) {
	get, ok := data["Get"].(map[string]interface{})
	if !ok {
		return nil, nil
	}
	items, ok := get[s.className].([]interface{})
	if !ok {
		return nil, nil
	}

	chunks := make([]model.DocumentChunk, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		chunk := model.DocumentChunk{
			TenantID:  asString(obj["tenantId"]),
			ChatbotID: asString(obj["chatbotId"]),
			Content:   asString(obj["content"]),
			Source: model.ChunkSource{
				DocumentID: asString(obj["documentId"]),
				Title:      asString(obj["title"]),
				URI:        asString(obj["uri"]),
			},
		}
		if add, ok := obj["_additional"].(map[string]interface{}); ok {
			chunk.ID = asString(add["id"])
			if d, ok := add["distance"].(float64); ok {
				chunk.Score = 1 - d
			}
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}
