package domain

import (
	"context"
	"time"
)

// DocumentType classifies an ingested document.
type DocumentType string

const (
	DocumentPDF  DocumentType = "pdf"
	DocumentText DocumentType = "text"
)

// Document is a user-supplied file after text extraction.
type Document struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Type      DocumentType `json:"type"`
	Text      string       `json:"-"`
	Size      int64        `json:"size"`
	CreatedAt time.Time    `json:"created_at"`
}

// Chunk is a contiguous window of a document's text. ID is assigned by the
// vector index when the chunk's embedding is added.
type Chunk struct {
	ID         int64  `json:"id"`
	DocumentID string `json:"document_id"`
	Source     string `json:"source"`
	Index      int    `json:"index"`
	Text       string `json:"text"`
}

// VectorEntry pairs a chunk ID with its embedding.
type VectorEntry struct {
	ID     int64
	Vector []float32
}

// SearchHit is one nearest-neighbour result. Lower distance is closer.
type SearchHit struct {
	Chunk    Chunk   `json:"chunk"`
	Distance float32 `json:"distance"`
}

// KnowledgeStats summarises the knowledge base for display.
type KnowledgeStats struct {
	Documents  int `json:"documents"`
	Chunks     int `json:"chunks"`
	VectorDims int `json:"vector_dims"`
}

// AddReport describes the outcome of ingesting one document.
type AddReport struct {
	Document string `json:"document"`
	Chunks   int    `json:"chunks"`
}

// Embedder maps texts to fixed-length vectors. All vectors returned by one
// Embedder share the same dimension.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
