package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingEmbedder records every text it embeds and can be told to fail.
type countingEmbedder struct {
	mu    sync.Mutex
	calls []string
	fail  bool
}

func (c *countingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return nil, errors.New("embedder offline")
	}
	c.calls = append(c.calls, text)
	// A crude but deterministic vector: character-class counts.
	var letters, digits, spaces float32
	for _, r := range text {
		switch {
		case r == ' ':
			spaces++
		case r >= '0' && r <= '9':
			digits++
		default:
			letters++
		}
	}
	return []float32{letters, digits, spaces}, nil
}

func (c *countingEmbedder) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func newTestStore(t *testing.T, cfg Config, opts ...StoreOption) *Store {
	t.Helper()
	return NewStore(cfg, opts...)
}

func TestAddGetDeleteRoundTrip(t *testing.T) {
	s := newTestStore(t, DefaultConfig())
	id, err := s.AddDocument(context.Background(), DocumentInput{
		Category: "runbooks",
		Title:    "restart procedure",
		Content:  "Drain the node before restarting the scheduler.",
		Metadata: map[string]any{"owner": "sre"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	doc := s.GetDocument(id)
	require.NotNil(t, doc)
	assert.Equal(t, "runbooks", doc.Category)
	assert.Equal(t, "restart procedure", doc.Title)
	assert.Equal(t, "Drain the node before restarting the scheduler.", doc.Content)
	assert.Equal(t, "sre", doc.Metadata["owner"])
	assert.False(t, doc.IsChunk())

	// The returned copy is detached from store state.
	doc.Metadata["owner"] = "mutated"
	assert.Equal(t, "sre", s.GetDocument(id).Metadata["owner"])

	assert.True(t, s.DeleteDocument(id))
	assert.Nil(t, s.GetDocument(id))
	assert.False(t, s.DeleteDocument(id))
}

func TestAddDocumentRejectsEmptyContent(t *testing.T) {
	s := newTestStore(t, DefaultConfig())
	_, err := s.AddDocument(context.Background(), DocumentInput{Category: "x"})
	require.Error(t, err)
	assert.Zero(t, s.DocumentCount())
}

func TestChunkedIngestion(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Chunking = ChunkingConfig{Enabled: true, MaxChunkSize: 120, Overlap: 20, MinChunkSize: 10}
	s := newTestStore(t, cfg)

	content := strings.Repeat("the quick brown fox jumps over the lazy dog ", 12)
	parentID, err := s.AddDocument(context.Background(), DocumentInput{Category: "docs", Content: content})
	require.NoError(t, err)

	// The synthetic parent id is returned but not itself stored.
	assert.Nil(t, s.GetDocument(parentID))
	require.Greater(t, s.DocumentCount(), 1)

	chunks := s.DocumentsByCategory("docs")
	for i, chunk := range chunks {
		assert.True(t, chunk.IsChunk(), "chunk %d", i)
		assert.Equal(t, parentID, chunk.ParentID())
		assert.Equal(t, len(chunks), chunk.Metadata[MetaChunkTotal])
		assert.LessOrEqual(t, len(chunk.Content), 120+20, "chunk %d within size ceiling plus folded tail", i)
	}

	// Chunk ids are derived from the parent and addressable individually.
	first := s.GetDocument(parentID + "-0")
	require.NotNil(t, first)
	assert.Equal(t, 0, first.Metadata[MetaChunkIndex])
}

func TestShortContentStoredWhole(t *testing.T) {
	s := newTestStore(t, DefaultConfig())
	id, err := s.AddDocument(context.Background(), DocumentInput{Category: "notes", Content: "short note"})
	require.NoError(t, err)
	assert.Equal(t, 1, s.DocumentCount())
	doc := s.GetDocument(id)
	require.NotNil(t, doc)
	assert.False(t, doc.IsChunk())
}

func TestEmbeddingExactlyOncePerUnit(t *testing.T) {
	emb := &countingEmbedder{}
	cfg := Config{
		Chunking:         ChunkingConfig{Enabled: true, MaxChunkSize: 100, Overlap: 10, MinChunkSize: 10},
		EmbeddingEnabled: true,
	}
	s := newTestStore(t, cfg, WithEmbedder(emb))

	content := strings.Repeat("observability pipelines need backpressure ", 10)
	_, err := s.AddDocument(context.Background(), DocumentInput{Category: "docs", Content: content})
	require.NoError(t, err)
	assert.Equal(t, s.DocumentCount(), emb.count(), "one embedder call per stored unit")

	before := emb.count()
	s.Search(context.Background(), "backpressure", SearchOptions{Method: MethodSemantic})
	assert.Equal(t, before+1, emb.count(), "querying embeds the query, never re-embeds documents")
}

func TestEmbeddingFailureAbortsAdd(t *testing.T) {
	emb := &countingEmbedder{fail: true}
	cfg := DefaultConfig()
	cfg.EmbeddingEnabled = true
	s := newTestStore(t, cfg, WithEmbedder(emb))

	_, err := s.AddDocument(context.Background(), DocumentInput{Category: "docs", Content: "will not be stored"})
	require.Error(t, err)
	assert.Zero(t, s.DocumentCount(), "all-or-nothing ingestion")
}

func TestUpdateDocument(t *testing.T) {
	s := newTestStore(t, DefaultConfig())
	id, err := s.AddDocument(context.Background(), DocumentInput{
		Category: "old-cat",
		Title:    "t",
		Content:  "alpha beta",
		Metadata: map[string]any{"keep": 1},
	})
	require.NoError(t, err)

	newCat := "new-cat"
	newContent := "gamma delta"
	ok := s.UpdateDocument(context.Background(), id, DocumentPatch{
		Category: &newCat,
		Content:  &newContent,
		Metadata: map[string]any{"extra": 2},
	})
	require.True(t, ok)

	doc := s.GetDocument(id)
	require.NotNil(t, doc)
	assert.Equal(t, "new-cat", doc.Category)
	assert.Equal(t, "gamma delta", doc.Content)
	assert.Equal(t, 1, doc.Metadata["keep"], "metadata merges, not replaces")
	assert.Equal(t, 2, doc.Metadata["extra"])
	assert.True(t, doc.UpdatedAt.After(doc.CreatedAt) || doc.UpdatedAt.Equal(doc.CreatedAt))

	assert.Equal(t, []string{"new-cat"}, s.ListCategories(), "category index follows the move")

	// Keyword index reflects the new content.
	hits := s.Search(context.Background(), "gamma", SearchOptions{Method: MethodKeyword})
	require.Len(t, hits, 1)
	assert.Empty(t, s.Search(context.Background(), "alpha", SearchOptions{Method: MethodKeyword}))

	assert.False(t, s.UpdateDocument(context.Background(), "missing", DocumentPatch{}))
}

func TestUpdateReembedFailureDropsVector(t *testing.T) {
	emb := &countingEmbedder{}
	cfg := DefaultConfig()
	cfg.EmbeddingEnabled = true
	s := newTestStore(t, cfg, WithEmbedder(emb))

	id, err := s.AddDocument(context.Background(), DocumentInput{Category: "docs", Content: "the original text"})
	require.NoError(t, err)

	emb.fail = true
	newContent := "completely different text"
	require.True(t, s.UpdateDocument(context.Background(), id, DocumentPatch{Content: &newContent}))

	// With the vector dropped and the query embed failing, semantic search
	// degrades to keyword rather than serving a stale vector.
	hits := s.Search(context.Background(), "different text", SearchOptions{Method: MethodSemantic})
	require.Len(t, hits, 1)
	assert.Equal(t, newContent, hits[0].Document.Content)
}

func TestListCategoriesAndClear(t *testing.T) {
	s := newTestStore(t, DefaultConfig())
	for _, cat := range []string{"zebra", "apple", "apple", "mango"} {
		_, err := s.AddDocument(context.Background(), DocumentInput{Category: cat, Content: "c " + cat})
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"apple", "mango", "zebra"}, s.ListCategories())
	assert.Len(t, s.DocumentsByCategory("apple"), 2)

	s.Clear()
	assert.Zero(t, s.DocumentCount())
	assert.Empty(t, s.ListCategories())
}

func TestConcurrentAddAndSearch(t *testing.T) {
	s := newTestStore(t, DefaultConfig())
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.AddDocument(context.Background(), DocumentInput{
				Category: fmt.Sprintf("cat-%d", i%2),
				Content:  fmt.Sprintf("concurrent document number %d about caching", i),
			})
			assert.NoError(t, err)
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Search(context.Background(), "caching", SearchOptions{})
		}()
	}
	wg.Wait()
	assert.Equal(t, 8, s.DocumentCount())
}
