package knowledge

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeywordSearchRanking(t *testing.T) {
	s := NewStore(DefaultConfig())
	mustAdd := func(content string) {
		t.Helper()
		_, err := s.AddDocument(context.Background(), DocumentInput{Category: "docs", Content: content})
		require.NoError(t, err)
	}
	mustAdd("redis cache eviction policies: redis supports lru and lfu, tune redis maxmemory")
	mustAdd("redis basics for beginners")
	mustAdd("postgres connection pooling with pgbouncer")

	hits := s.Search(context.Background(), "redis cache", SearchOptions{Method: MethodKeyword})
	require.Len(t, hits, 2, "the postgres document shares no query terms")
	assert.Contains(t, hits[0].Document.Content, "eviction",
		"the document matching both terms (one repeatedly) ranks first")
	assert.Greater(t, hits[0].Score, hits[1].Score)
}

func TestSearchExcludesNonMatches(t *testing.T) {
	s := NewStore(DefaultConfig())
	_, err := s.AddDocument(context.Background(), DocumentInput{
		Category: "docs",
		Content:  "kafka partition rebalancing strategies",
	})
	require.NoError(t, err)

	hits := s.Search(context.Background(), "redis eviction", SearchOptions{Method: MethodKeyword})
	assert.Empty(t, hits, "a zero-score document is a non-match even with MinScore left at zero")
}

func TestSearchFilters(t *testing.T) {
	s := NewStore(DefaultConfig())
	for i := 0; i < 6; i++ {
		cat := "alpha"
		if i%2 == 1 {
			cat = "beta"
		}
		_, err := s.AddDocument(context.Background(), DocumentInput{
			Category: cat,
			Content:  fmt.Sprintf("shared keyword payload number %d", i),
		})
		require.NoError(t, err)
	}

	t.Run("category", func(t *testing.T) {
		hits := s.Search(context.Background(), "payload", SearchOptions{Category: "alpha", TopK: 10})
		require.Len(t, hits, 3)
		for _, h := range hits {
			assert.Equal(t, "alpha", h.Document.Category)
		}
	})

	t.Run("top_k", func(t *testing.T) {
		hits := s.Search(context.Background(), "payload", SearchOptions{TopK: 2})
		assert.Len(t, hits, 2)
	})

	t.Run("top_k_default", func(t *testing.T) {
		hits := s.Search(context.Background(), "payload", SearchOptions{})
		assert.Len(t, hits, 5)
	})

	t.Run("min_score", func(t *testing.T) {
		hits := s.Search(context.Background(), "payload", SearchOptions{MinScore: 0.99, TopK: 10})
		for _, h := range hits {
			assert.GreaterOrEqual(t, h.Score, 0.99)
		}
	})

	t.Run("unknown_category", func(t *testing.T) {
		assert.Empty(t, s.Search(context.Background(), "payload", SearchOptions{Category: "nope"}))
	})
}

func TestSemanticSearch(t *testing.T) {
	emb := &countingEmbedder{}
	cfg := DefaultConfig()
	cfg.EmbeddingEnabled = true
	s := NewStore(cfg, WithEmbedder(emb))

	_, err := s.AddDocument(context.Background(), DocumentInput{Category: "docs", Content: "aaaa bbbb"})
	require.NoError(t, err)
	_, err = s.AddDocument(context.Background(), DocumentInput{Category: "docs", Content: "1234 5678"})
	require.NoError(t, err)

	// The counting embedder maps letter-heavy text far from digit-heavy text,
	// so a letter-heavy query ranks the letter document first.
	hits := s.Search(context.Background(), "cccc dddd", SearchOptions{Method: MethodSemantic})
	require.NotEmpty(t, hits)
	assert.Equal(t, "aaaa bbbb", hits[0].Document.Content)
}

func TestHybridDegradesToKeywordOnEmbedFailure(t *testing.T) {
	emb := &countingEmbedder{}
	cfg := DefaultConfig()
	cfg.EmbeddingEnabled = true
	s := NewStore(cfg, WithEmbedder(emb))

	_, err := s.AddDocument(context.Background(), DocumentInput{Category: "docs", Content: "failover drills matter"})
	require.NoError(t, err)

	emb.fail = true
	hits := s.Search(context.Background(), "failover drills", SearchOptions{Method: MethodHybrid})
	require.Len(t, hits, 1, "query-time embed failure degrades to keyword, never fails the query")
	assert.Greater(t, hits[0].Score, 0.0)
}

func TestHybridWithoutEmbedderIsKeyword(t *testing.T) {
	s := NewStore(DefaultConfig())
	_, err := s.AddDocument(context.Background(), DocumentInput{Category: "docs", Content: "zero config search"})
	require.NoError(t, err)

	hybrid := s.Search(context.Background(), "config search", SearchOptions{Method: MethodHybrid})
	keyword := s.Search(context.Background(), "config search", SearchOptions{Method: MethodKeyword})
	require.Len(t, hybrid, 1)
	require.Len(t, keyword, 1)
	assert.Equal(t, keyword[0].Score, hybrid[0].Score)
}

func TestConfidenceTiers(t *testing.T) {
	tests := []struct {
		score float64
		want  Confidence
	}{
		{1.0, ConfidenceHigh},
		{0.8, ConfidenceHigh},
		{0.79, ConfidenceMedium},
		{0.5, ConfidenceMedium},
		{0.49, ConfidenceLow},
		{0, ConfidenceLow},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, confidenceFor(tt.score), "score %v", tt.score)
	}
}

// TestSearchInvariants exercises randomized stores and queries against the
// ordering, bounding, and filtering guarantees every search must uphold.
func TestSearchInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	vocabulary := []string{
		"cache", "eviction", "replica", "quorum", "backup", "restore",
		"index", "vacuum", "shard", "rebalance", "snapshot", "compaction",
	}
	categories := []string{"ops", "dev", "docs"}

	for trial := 0; trial < 25; trial++ {
		s := NewStore(DefaultConfig())
		docCount := 3 + rng.Intn(12)
		for i := 0; i < docCount; i++ {
			words := make([]string, 0, 8)
			for w := 0; w < 3+rng.Intn(6); w++ {
				words = append(words, vocabulary[rng.Intn(len(vocabulary))])
			}
			_, err := s.AddDocument(context.Background(), DocumentInput{
				Category: categories[rng.Intn(len(categories))],
				Content:  fmt.Sprintf("doc %d: %s", i, strings.Join(words, " ")),
			})
			require.NoError(t, err)
		}

		opts := SearchOptions{
			TopK:     1 + rng.Intn(6),
			MinScore: float64(rng.Intn(5)) / 10,
			Method:   MethodKeyword,
		}
		if rng.Intn(2) == 0 {
			opts.Category = categories[rng.Intn(len(categories))]
		}
		query := vocabulary[rng.Intn(len(vocabulary))] + " " + vocabulary[rng.Intn(len(vocabulary))]

		hits := s.Search(context.Background(), query, opts)

		assert.LessOrEqual(t, len(hits), opts.TopK, "trial %d: TopK bound", trial)
		for i, h := range hits {
			assert.GreaterOrEqual(t, h.Score, opts.MinScore, "trial %d: MinScore floor", trial)
			assert.LessOrEqual(t, h.Score, 1.0, "trial %d: score ceiling", trial)
			if i > 0 {
				assert.LessOrEqual(t, h.Score, hits[i-1].Score, "trial %d: descending order", trial)
			}
			if opts.Category != "" {
				assert.Equal(t, opts.Category, h.Document.Category, "trial %d: category filter", trial)
			}
			// Confidence must be monotonic with score.
			switch h.Confidence {
			case ConfidenceHigh:
				assert.GreaterOrEqual(t, h.Score, 0.8)
			case ConfidenceMedium:
				assert.GreaterOrEqual(t, h.Score, 0.5)
				assert.Less(t, h.Score, 0.8)
			case ConfidenceLow:
				assert.Less(t, h.Score, 0.5)
			}
		}
	}
}

func TestSemanticScore(t *testing.T) {
	assert.InDelta(t, 1.0, semanticScore([]float32{1, 2, 3}, []float32{1, 2, 3}), 1e-9)
	assert.Equal(t, 0.0, semanticScore([]float32{1, 0}, []float32{0, 1}))
	assert.Equal(t, 0.0, semanticScore(nil, []float32{1}), "missing query vector scores zero")
	assert.Equal(t, 0.0, semanticScore([]float32{1}, nil), "missing doc vector scores zero")
	assert.Equal(t, 0.0, semanticScore([]float32{1, 2}, []float32{1}), "dimension mismatch scores zero")
	assert.Equal(t, 0.0, semanticScore([]float32{-1, 0}, []float32{1, 0}), "negative cosine clamps to zero")
}

func TestTermFrequencies(t *testing.T) {
	freq := termFrequencies("The cache, the CACHE, a cache! x")
	assert.Equal(t, map[string]int{"the": 2, "cache": 3}, freq,
		"tokens are lowercased, punctuation split, single characters dropped")
}
