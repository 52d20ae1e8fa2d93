package knowledge

import "time"

// Metadata keys used for chunk linkage.
const (
	MetaParentID   = "parent_id"
	MetaChunkIndex = "chunk_index"
	MetaChunkTotal = "chunk_total"
	MetaIsChunk    = "is_chunk"
)

// Document is a unit of retrievable knowledge.
type Document struct {
	ID        string         `json:"id"`
	Category  string         `json:"category"`
	Title     string         `json:"title,omitempty"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// IsChunk reports whether the document is a chunk of a larger parent.
func (d *Document) IsChunk() bool {
	v, ok := d.Metadata[MetaIsChunk]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// ParentID returns the parent document id for chunk documents, or "".
func (d *Document) ParentID() string {
	v, _ := d.Metadata[MetaParentID].(string)
	return v
}

// DocumentInput is the ingestion payload for AddDocument.
type DocumentInput struct {
	Category string
	Title    string
	Content  string
	Metadata map[string]any
}

// DocumentPatch is a partial update for UpdateDocument. Nil fields are left
// unchanged; Metadata entries are merged over the existing map.
type DocumentPatch struct {
	Category *string
	Title    *string
	Content  *string
	Metadata map[string]any
}

// Confidence is the coarse relevance tier derived from a search score.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// confidenceFor maps a score to its tier. Thresholds are monotonic with
// score: high at 0.8, medium at 0.5.
func confidenceFor(score float64) Confidence {
	switch {
	case score >= 0.8:
		return ConfidenceHigh
	case score >= 0.5:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// SearchResult pairs a document with its relevance score in [0,1].
type SearchResult struct {
	Document   Document   `json:"document"`
	Score      float64    `json:"score"`
	Confidence Confidence `json:"confidence"`
}
