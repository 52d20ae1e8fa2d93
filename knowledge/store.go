// Package knowledge implements the in-memory retrieval index: document
// storage with optional chunking and embedding at ingestion, and keyword,
// semantic, and hybrid search over the stored units. The store is shared,
// process-wide state; all operations are safe for concurrent use and reads
// never observe a partially written document.
package knowledge

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Embedder computes vector embeddings for text. llm.Provider implementations
// satisfy this via a thin adapter; tests inject deterministic fakes.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbedderFunc adapts a function to the Embedder interface.
type EmbedderFunc func(ctx context.Context, text string) ([]float32, error)

func (f EmbedderFunc) Embed(ctx context.Context, text string) ([]float32, error) {
	return f(ctx, text)
}

// Config holds store-level settings.
type Config struct {
	Chunking ChunkingConfig
	// EmbeddingEnabled computes and caches one embedding per stored unit at
	// ingestion time. Requires an Embedder.
	EmbeddingEnabled bool
}

// DefaultConfig returns the standard store configuration.
func DefaultConfig() Config {
	return Config{
		Chunking:         DefaultChunkingConfig(),
		EmbeddingEnabled: false,
	}
}

// record is the stored unit: the document plus ingestion-time caches.
type record struct {
	doc       Document
	embedding []float32
	termFreq  map[string]int
}

// StoreOption configures store construction.
type StoreOption func(*Store)

// WithEmbedder sets the embedding capability.
func WithEmbedder(e Embedder) StoreOption {
	return func(s *Store) { s.embedder = e }
}

// WithStoreLogger sets the store logger.
func WithStoreLogger(logger *zap.Logger) StoreOption {
	return func(s *Store) { s.logger = logger }
}

// Store is the in-memory knowledge index.
type Store struct {
	mu       sync.RWMutex
	cfg      Config
	records  map[string]*record
	byCat    map[string][]string // category -> ids
	embedder Embedder
	logger   *zap.Logger
}

// NewStore creates an empty store.
func NewStore(cfg Config, opts ...StoreOption) *Store {
	if cfg.Chunking.MaxChunkSize <= 0 {
		cfg.Chunking = DefaultChunkingConfig()
	}
	s := &Store{
		cfg:     cfg,
		records: make(map[string]*record),
		byCat:   make(map[string][]string),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddDocument ingests a document. Content exceeding the chunk size ceiling
// (when chunking is enabled) is split into overlapping chunk documents
// carrying parent linkage metadata, and the synthetic parent id is returned;
// otherwise the stored document's own id is returned.
//
// With embedding enabled, exactly one embedder call is made per stored unit.
// An embedding failure aborts the whole add: nothing is stored.
func (s *Store) AddDocument(ctx context.Context, input DocumentInput) (string, error) {
	if input.Content == "" {
		return "", fmt.Errorf("knowledge: empty content")
	}

	now := time.Now()
	parentID := uuid.New().String()

	var units []Document
	if chunks := s.maybeChunk(input.Content); chunks != nil {
		total := len(chunks)
		for i, piece := range chunks {
			meta := cloneMeta(input.Metadata)
			meta[MetaIsChunk] = true
			meta[MetaParentID] = parentID
			meta[MetaChunkIndex] = i
			meta[MetaChunkTotal] = total
			units = append(units, Document{
				ID:        fmt.Sprintf("%s-%d", parentID, i),
				Category:  input.Category,
				Title:     input.Title,
				Content:   piece,
				Metadata:  meta,
				CreatedAt: now,
				UpdatedAt: now,
			})
		}
	} else {
		units = []Document{{
			ID:        parentID,
			Category:  input.Category,
			Title:     input.Title,
			Content:   input.Content,
			Metadata:  cloneMeta(input.Metadata),
			CreatedAt: now,
			UpdatedAt: now,
		}}
	}

	// Embed outside the lock; commit is all-or-nothing.
	recs := make([]*record, 0, len(units))
	for i := range units {
		rec := &record{doc: units[i], termFreq: termFrequencies(units[i].Content)}
		if s.cfg.EmbeddingEnabled && s.embedder != nil {
			vec, err := s.embedder.Embed(ctx, units[i].Content)
			if err != nil {
				return "", fmt.Errorf("knowledge: embed document: %w", err)
			}
			rec.embedding = vec
		}
		recs = append(recs, rec)
	}

	s.mu.Lock()
	for _, rec := range recs {
		s.records[rec.doc.ID] = rec
		s.byCat[rec.doc.Category] = append(s.byCat[rec.doc.Category], rec.doc.ID)
	}
	s.mu.Unlock()

	s.logger.Debug("document ingested",
		zap.String("id", parentID),
		zap.String("category", input.Category),
		zap.Int("units", len(recs)))

	if len(recs) == 1 {
		return recs[0].doc.ID, nil
	}
	return parentID, nil
}

func (s *Store) maybeChunk(content string) []string {
	if !s.cfg.Chunking.Enabled {
		return nil
	}
	return splitIntoChunks(content, s.cfg.Chunking)
}

// GetDocument returns a copy of the document, or nil if the id is unknown.
func (s *Store) GetDocument(id string) *Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil
	}
	doc := rec.doc
	doc.Metadata = cloneMeta(rec.doc.Metadata)
	return &doc
}

// UpdateDocument applies a partial update. Returns false for unknown ids.
// A content change refreshes the keyword index and, when embedding is
// enabled, re-embeds the unit; if re-embedding fails the cached vector is
// dropped so stale vectors are never served.
func (s *Store) UpdateDocument(ctx context.Context, id string, patch DocumentPatch) bool {
	s.mu.RLock()
	rec, ok := s.records[id]
	var oldCat, content string
	if ok {
		oldCat = rec.doc.Category
		content = rec.doc.Content
	}
	s.mu.RUnlock()
	if !ok {
		return false
	}

	var newEmbedding []float32
	embedFailed := false
	if patch.Content != nil && *patch.Content != content && s.cfg.EmbeddingEnabled && s.embedder != nil {
		vec, err := s.embedder.Embed(ctx, *patch.Content)
		if err != nil {
			s.logger.Warn("re-embedding failed, dropping cached vector",
				zap.String("id", id), zap.Error(err))
			embedFailed = true
		} else {
			newEmbedding = vec
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok = s.records[id]
	if !ok {
		return false
	}
	if patch.Title != nil {
		rec.doc.Title = *patch.Title
	}
	if patch.Category != nil && *patch.Category != oldCat {
		s.removeFromCategoryLocked(oldCat, id)
		rec.doc.Category = *patch.Category
		s.byCat[rec.doc.Category] = append(s.byCat[rec.doc.Category], id)
	}
	if patch.Content != nil {
		rec.doc.Content = *patch.Content
		rec.termFreq = termFrequencies(*patch.Content)
		if newEmbedding != nil {
			rec.embedding = newEmbedding
		} else if embedFailed {
			rec.embedding = nil
		}
	}
	for k, v := range patch.Metadata {
		if rec.doc.Metadata == nil {
			rec.doc.Metadata = make(map[string]any)
		}
		rec.doc.Metadata[k] = v
	}
	rec.doc.UpdatedAt = time.Now()
	return true
}

// DeleteDocument removes a document. Returns false for unknown ids.
func (s *Store) DeleteDocument(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return false
	}
	s.removeFromCategoryLocked(rec.doc.Category, id)
	delete(s.records, id)
	return true
}

func (s *Store) removeFromCategoryLocked(category, id string) {
	ids := s.byCat[category]
	for i, candidate := range ids {
		if candidate == id {
			s.byCat[category] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(s.byCat[category]) == 0 {
		delete(s.byCat, category)
	}
}

// ListCategories returns the distinct categories, sorted.
func (s *Store) ListCategories() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cats := make([]string, 0, len(s.byCat))
	for cat := range s.byCat {
		cats = append(cats, cat)
	}
	sort.Strings(cats)
	return cats
}

// DocumentsByCategory returns copies of all documents in a category.
func (s *Store) DocumentsByCategory(category string) []Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byCat[category]
	docs := make([]Document, 0, len(ids))
	for _, id := range ids {
		if rec, ok := s.records[id]; ok {
			doc := rec.doc
			doc.Metadata = cloneMeta(rec.doc.Metadata)
			docs = append(docs, doc)
		}
	}
	return docs
}

// DocumentCount returns the number of stored units (chunks count
// individually).
func (s *Store) DocumentCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Clear removes all documents.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]*record)
	s.byCat = make(map[string][]string)
}

func cloneMeta(meta map[string]any) map[string]any {
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}
