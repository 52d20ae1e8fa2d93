package knowledge

import (
	"context"
	"math"
	"sort"
	"strings"
	"unicode"

	"go.uber.org/zap"
)

// SearchMethod selects the scoring strategy.
type SearchMethod string

const (
	// MethodKeyword scores by term overlap and frequency. Deterministic and
	// embedder-free.
	MethodKeyword SearchMethod = "keyword"
	// MethodSemantic scores by cosine similarity against cached embeddings.
	MethodSemantic SearchMethod = "semantic"
	// MethodHybrid blends keyword and semantic scores.
	MethodHybrid SearchMethod = "hybrid"
)

// Hybrid blend weights. Semantic carries slightly more weight so meaning
// beats lexical overlap on ties.
const (
	hybridKeywordWeight  = 0.45
	hybridSemanticWeight = 0.55
)

// SearchOptions filters and bounds a query.
type SearchOptions struct {
	// Category restricts results to one category when non-empty.
	Category string
	// TopK bounds the result count. Defaults to 5.
	TopK int
	// Method selects scoring. Defaults to MethodHybrid, which degrades to
	// keyword-only when no embedder is configured.
	Method SearchMethod
	// MinScore excludes results scoring below it. Zero-score candidates are
	// non-matches and are always excluded.
	MinScore float64
}

// Search runs a query and returns results sorted by descending score,
// truncated to TopK. Embedder failures at query time degrade semantic and
// hybrid searches to keyword-only rather than failing the query; the
// degradation is logged, not surfaced.
func (s *Store) Search(ctx context.Context, query string, opts SearchOptions) []SearchResult {
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.Method == "" {
		opts.Method = MethodHybrid
	}

	method := opts.Method
	var queryVec []float32
	if method == MethodSemantic || method == MethodHybrid {
		if s.cfg.EmbeddingEnabled && s.embedder != nil {
			vec, err := s.embedder.Embed(ctx, query)
			if err != nil {
				s.logger.Warn("query embedding failed, degrading to keyword search",
					zap.Error(err))
				method = MethodKeyword
			} else {
				queryVec = vec
			}
		} else {
			method = MethodKeyword
		}
	}

	queryFreq := termFrequencies(query)

	s.mu.RLock()
	candidates := make([]*record, 0, len(s.records))
	if opts.Category != "" {
		for _, id := range s.byCat[opts.Category] {
			if rec, ok := s.records[id]; ok {
				candidates = append(candidates, rec)
			}
		}
	} else {
		for _, rec := range s.records {
			candidates = append(candidates, rec)
		}
	}

	results := make([]SearchResult, 0, len(candidates))
	for _, rec := range candidates {
		score := scoreRecord(rec, queryFreq, queryVec, method)
		if score <= 0 || score < opts.MinScore {
			continue
		}
		doc := rec.doc
		doc.Metadata = cloneMeta(rec.doc.Metadata)
		results = append(results, SearchResult{
			Document:   doc,
			Score:      score,
			Confidence: confidenceFor(score),
		})
	}
	s.mu.RUnlock()

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > opts.TopK {
		results = results[:opts.TopK]
	}
	return results
}

func scoreRecord(rec *record, queryFreq map[string]int, queryVec []float32, method SearchMethod) float64 {
	switch method {
	case MethodKeyword:
		return keywordScore(queryFreq, rec.termFreq)
	case MethodSemantic:
		return semanticScore(queryVec, rec.embedding)
	case MethodHybrid:
		kw := keywordScore(queryFreq, rec.termFreq)
		sem := semanticScore(queryVec, rec.embedding)
		return clamp01(hybridKeywordWeight*kw + hybridSemanticWeight*sem)
	default:
		return 0
	}
}

// keywordScore measures query-term coverage weighted by term frequency.
// Each matched query term contributes up to 1.0, saturating at three
// occurrences; the total is normalized by query length, keeping the score
// in [0,1] and deterministic.
func keywordScore(queryFreq, docFreq map[string]int) float64 {
	if len(queryFreq) == 0 || len(docFreq) == 0 {
		return 0
	}
	var total float64
	for term := range queryFreq {
		tf := docFreq[term]
		if tf == 0 {
			continue
		}
		contribution := float64(tf) / 3.0
		if contribution > 1 {
			contribution = 1
		}
		total += contribution
	}
	return clamp01(total / float64(len(queryFreq)))
}

// semanticScore is cosine similarity clamped to [0,1]; documents without a
// cached embedding score zero.
func semanticScore(queryVec, docVec []float32) float64 {
	if len(queryVec) == 0 || len(docVec) == 0 || len(queryVec) != len(docVec) {
		return 0
	}
	var dot, normQ, normD float64
	for i := range queryVec {
		q := float64(queryVec[i])
		d := float64(docVec[i])
		dot += q * d
		normQ += q * q
		normD += d * d
	}
	if normQ == 0 || normD == 0 {
		return 0
	}
	return clamp01(dot / (math.Sqrt(normQ) * math.Sqrt(normD)))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// termFrequencies tokenizes text into lowercase alphanumeric terms and
// returns per-term counts. Single-character tokens are ignored.
func termFrequencies(text string) map[string]int {
	freq := make(map[string]int)
	for _, tok := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len(tok) < 2 {
			continue
		}
		freq[tok]++
	}
	return freq
}
