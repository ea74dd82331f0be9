package model

// RetrievalQuery is the tenant- and chatbot-scoped similarity query handed
// to the search collaborator. TenantID and ChatbotID are constructed from
// the verified TenantContext and the envelope, never copied from client
// input.
type RetrievalQuery struct {
	TenantID     string
	ChatbotID    string
	Vector       []float32
	TopK         int
	MaxChunkSize int
}

// ChunkSource is citation metadata for a retrieved chunk.
type ChunkSource struct {
	DocumentID string `json:"document_id"`
	Title      string `json:"title,omitempty"`
	URI        string `json:"uri,omitempty"`
}

// DocumentChunk is one retrieved context fragment. Every chunk surfaced by
// retrieval must carry the requesting tenant's id; a mismatch is an
// integrity fault, not a recoverable error.
type DocumentChunk struct {
	ID        string      `json:"id"`
	TenantID  string      `json:"tenant_id"`
	ChatbotID string      `json:"chatbot_id"`
	Content   string      `json:"content"`
	Source    ChunkSource `json:"source"`
	Score     float64     `json:"score"`
}
