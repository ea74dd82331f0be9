package model

// AskRequest is the incoming JSON body of the ask operation. There is
// deliberately no tenant field: tenancy comes only from the verified
// credential, and unknown body fields are ignored.
type AskRequest struct {
	ChatbotID string `json:"chatbot_id" binding:"required"`
	Query     string `json:"query" binding:"required"`
	TopK      int    `json:"top_k,omitempty"`
}

// Citation points at a source chunk used to ground the answer.
type Citation struct {
	ChunkID    string `json:"chunk_id"`
	DocumentID string `json:"document_id"`
	Title      string `json:"title,omitempty"`
	URI        string `json:"uri,omitempty"`
}

// AskResponse is the client-facing result. Status is "ok", "redacted" or
// "refused"; rejection details are never included.
type AskResponse struct {
	Answer    string     `json:"answer"`
	Citations []Citation `json:"citations,omitempty"`
	Status    string     `json:"status"`
}
