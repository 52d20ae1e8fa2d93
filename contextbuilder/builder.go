// Package contextbuilder assembles a token-budgeted prompt from conversation
// history. Token costs use a cheap character-ratio estimate rather than a
// real tokenizer, so budgets are approximate; the builder stays strictly
// under its configured ceiling with respect to that estimate, provided the
// reserved system prompt and current message fit within it on their own.
//
// Selection considers messages in priority order (recency, conversation
// position, and a bonus for user-authored messages) but the emitted history
// is restored to chronological order.
package contextbuilder

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/agentcore/agentcore/llm"
)

// Config controls context assembly.
type Config struct {
	// MaxTokens is the estimated-token budget for the whole built context,
	// including the system prompt and current message.
	MaxTokens int
	// MaxMessages caps how many history messages are included.
	MaxMessages int
	// IncludeSystemMessages keeps system-role history messages as selection
	// candidates.
	IncludeSystemMessages bool
	// IncludeToolCalls appends tool-call summaries to assistant message
	// content.
	IncludeToolCalls bool
	// SystemPrompt, when non-empty, is emitted first and its cost reserved
	// up front.
	SystemPrompt string
	// CharsPerToken is the estimation ratio. Defaults to 4.
	CharsPerToken float64
}

// DefaultConfig returns the standard builder configuration.
func DefaultConfig() Config {
	return Config{
		MaxTokens:             4000,
		MaxMessages:           50,
		IncludeSystemMessages: true,
		IncludeToolCalls:      true,
		CharsPerToken:         4,
	}
}

// BuiltContext is the assembled prompt.
type BuiltContext struct {
	Messages        []llm.Message
	EstimatedTokens int
	MessageCount    int
	Truncated       bool
	TruncatedCount  int
}

// Builder performs the pure history-to-prompt transformation.
type Builder struct {
	cfg Config
}

// NewBuilder creates a Builder, applying defaults for zero-valued fields.
func NewBuilder(cfg Config) *Builder {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4000
	}
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = 50
	}
	if cfg.CharsPerToken <= 0 {
		cfg.CharsPerToken = 4
	}
	return &Builder{cfg: cfg}
}

// EstimateTokens returns ceil(len(text)/charsPerToken).
func (b *Builder) EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return int(math.Ceil(float64(len(text)) / b.cfg.CharsPerToken))
}

type candidate struct {
	msg      llm.Message
	index    int
	rendered string
	tokens   int
	priority float64
}

// Build assembles a bounded context from history plus an optional current
// message. The system prompt and current message are always included and
// their cost reserved first; remaining budget is spent on history in
// priority order. When the reserved parts alone exceed MaxTokens they are
// still emitted, no history is selected, and EstimatedTokens reports the
// true cost so callers can detect the oversized fixed parts.
func (b *Builder) Build(messages []llm.Message, current *llm.Message) BuiltContext {
	reserved := b.EstimateTokens(b.cfg.SystemPrompt)
	var currentTokens int
	if current != nil {
		currentTokens = b.EstimateTokens(b.renderContent(*current))
	}
	budget := b.cfg.MaxTokens - reserved - currentTokens

	// Score candidates.
	candidates := make([]candidate, 0, len(messages))
	for i, msg := range messages {
		// Filtered system messages are excluded, not counted as truncation.
		if msg.Role == llm.RoleSystem && !b.cfg.IncludeSystemMessages {
			continue
		}
		rendered := b.renderContent(msg)
		candidates = append(candidates, candidate{
			msg:      msg,
			index:    i,
			rendered: rendered,
			tokens:   b.EstimateTokens(rendered),
		})
	}
	b.scorePriorities(candidates, len(messages))

	ordered := make([]candidate, len(candidates))
	copy(ordered, candidates)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].priority > ordered[j].priority
	})

	// Greedy selection under both caps.
	selected := make([]candidate, 0, len(ordered))
	used := 0
	truncated := 0
	for _, c := range ordered {
		if len(selected) >= b.cfg.MaxMessages || used+c.tokens > budget {
			truncated++
			continue
		}
		selected = append(selected, c)
		used += c.tokens
	}

	// Restore chronological order for the emitted history.
	sort.Slice(selected, func(i, j int) bool {
		return selected[i].index < selected[j].index
	})

	out := make([]llm.Message, 0, len(selected)+2)
	if b.cfg.SystemPrompt != "" {
		out = append(out, llm.SystemMessage(b.cfg.SystemPrompt))
	}
	for _, c := range selected {
		msg := c.msg
		msg.Content = c.rendered
		out = append(out, msg)
	}
	if current != nil {
		cur := *current
		cur.Content = b.renderContent(cur)
		out = append(out, cur)
	}

	return BuiltContext{
		Messages:        out,
		EstimatedTokens: reserved + currentTokens + used,
		MessageCount:    len(selected),
		Truncated:       truncated > 0,
		TruncatedCount:  truncated,
	}
}

// scorePriorities blends position (later in the conversation scores higher),
// recency by timestamp, and a small bonus for user-authored messages.
func (b *Builder) scorePriorities(candidates []candidate, total int) {
	if len(candidates) == 0 {
		return
	}
	var oldest, newest int64
	for i, c := range candidates {
		ts := c.msg.Timestamp.UnixNano()
		if i == 0 || ts < oldest {
			oldest = ts
		}
		if i == 0 || ts > newest {
			newest = ts
		}
	}
	tsRange := float64(newest - oldest)

	for i := range candidates {
		c := &candidates[i]
		position := 0.0
		if total > 1 {
			position = float64(c.index) / float64(total-1)
		}
		recency := 0.0
		if tsRange > 0 {
			recency = float64(c.msg.Timestamp.UnixNano()-oldest) / tsRange
		}
		priority := 0.45*position + 0.45*recency
		if c.msg.Role == llm.RoleUser {
			priority += 0.1
		}
		c.priority = priority
	}
}

// renderContent returns the message content, with tool-call summaries
// appended to assistant messages when enabled.
func (b *Builder) renderContent(msg llm.Message) string {
	if !b.cfg.IncludeToolCalls || msg.Role != llm.RoleAssistant || len(msg.ToolCalls) == 0 {
		return msg.Content
	}
	var sb strings.Builder
	sb.WriteString(msg.Content)
	for _, tc := range msg.ToolCalls {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "[called %s(%s)]", tc.Name, compactArgs(string(tc.Arguments)))
	}
	return sb.String()
}

func compactArgs(args string) string {
	args = strings.TrimSpace(args)
	if len(args) > 120 {
		return args[:117] + "..."
	}
	return args
}
