package knowledge

import "strings"

// ChunkingConfig controls how long documents are split.
type ChunkingConfig struct {
	// Enabled turns chunking on. Content at or below MaxChunkSize is always
	// stored whole.
	Enabled bool
	// MaxChunkSize is the chunk size ceiling in characters.
	MaxChunkSize int
	// Overlap is how many characters consecutive chunks share.
	Overlap int
	// MinChunkSize discards trailing fragments smaller than this.
	MinChunkSize int
}

// DefaultChunkingConfig returns the standard chunking parameters.
func DefaultChunkingConfig() ChunkingConfig {
	return ChunkingConfig{
		Enabled:      true,
		MaxChunkSize: 1000,
		Overlap:      100,
		MinChunkSize: 50,
	}
}

// splitIntoChunks splits content into overlapping pieces, preferring to break
// at word boundaries. Returns nil when content fits in a single chunk.
func splitIntoChunks(content string, cfg ChunkingConfig) []string {
	content = strings.TrimSpace(content)
	if len(content) <= cfg.MaxChunkSize {
		return nil
	}

	overlap := cfg.Overlap
	if overlap >= cfg.MaxChunkSize {
		overlap = cfg.MaxChunkSize / 4
	}

	var chunks []string
	start := 0
	for start < len(content) {
		end := start + cfg.MaxChunkSize
		if end > len(content) {
			end = len(content)
		}

		// Break at the last word boundary inside the window.
		if end < len(content) {
			if lastSpace := strings.LastIndex(content[start:end], " "); lastSpace > 0 {
				end = start + lastSpace
			}
		}

		piece := strings.TrimSpace(content[start:end])
		if len(piece) >= cfg.MinChunkSize {
			chunks = append(chunks, piece)
		} else if len(chunks) > 0 && piece != "" {
			// Fold a short tail into the previous chunk instead of dropping
			// content.
			chunks[len(chunks)-1] += " " + piece
		}

		if end == len(content) {
			break
		}
		next := end - overlap
		if next <= start {
			next = end
		} else if content[next-1] != ' ' && content[next] != ' ' {
			// Snap the overlap restart forward to the next word start so no
			// chunk begins mid-word.
			if sp := strings.IndexByte(content[next:end], ' '); sp >= 0 {
				next += sp + 1
			} else {
				next = end
			}
		}
		start = next
	}

	return chunks
}
