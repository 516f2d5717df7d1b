// Package reduce implements the Reduction service (spec §4.8): composite
// scoring, greedy character-budgeted selection, and text/structured/json
// formatting of a recalled memory set into a single context string.
package reduce

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/memkit/memkit/internal/tokencount"
	"github.com/memkit/memkit/memory"
)

// Format selects the output rendering of Formatted.
type Format string

const (
	FormatText       Format = "text"
	FormatStructured Format = "structured"
	FormatJSON       Format = "json"
)

// Options configures Formatted (spec §4.8, §6 default max_tokens=2000).
type Options struct {
	MaxTokens    int
	IncludeEdges bool
	Format       Format
}

func DefaultOptions() Options {
	return Options{MaxTokens: 2000, IncludeEdges: true, Format: FormatText}
}

// Input is the memory set to reduce, with per-memory similarity scores and
// an optional edge set (for relationship rendering).
type Input struct {
	Memories     []*memory.Memory
	Edges        []*memory.Edge
	Similarities map[string]float64
}

type scoredMemory struct {
	memory *memory.Memory
	score  float64
}

// Formatted implements spec §4.8 steps 1-5, returning the rendered string.
func Formatted(input Input, opts Options, now time.Time) string {
	opts = applyDefaults(opts)

	deduped := dedupeByID(input.Memories)
	scored := make([]scoredMemory, 0, len(deduped))
	for _, m := range deduped {
		scored = append(scored, scoredMemory{memory: m, score: compositeScore(m, input.Similarities[m.ID], now)})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })

	selected := selectWithinBudget(scored, opts.MaxTokens)

	switch opts.Format {
	case FormatStructured:
		return formatStructured(selected, input.Edges, opts, input.Similarities)
	case FormatJSON:
		return formatJSON(selected, input.Edges, input.Similarities)
	default:
		return formatText(selected, input.Edges, opts, input.Similarities)
	}
}

func applyDefaults(opts Options) Options {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 2000
	}
	if opts.Format == "" {
		opts.Format = FormatText
	}
	return opts
}

func dedupeByID(memories []*memory.Memory) []*memory.Memory {
	seen := make(map[string]bool, len(memories))
	out := make([]*memory.Memory, 0, len(memories))
	for _, m := range memories {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		out = append(out, m)
	}
	return out
}

// compositeScore implements spec §4.8 step 2.
func compositeScore(m *memory.Memory, similarity float64, now time.Time) float64 {
	if similarity == 0 {
		similarity = 0.5
	}
	confidence := m.Confidence
	if confidence == 0 {
		confidence = 0.5
	}
	importance := m.Importance
	if importance == 0 {
		importance = 0.5
	}
	recency := recencyScore(m.InsertedAt, now)
	accessScore := accessCountScore(m.AccessCount)

	return 0.35*similarity + 0.25*confidence + 0.20*importance + 0.10*recency + 0.10*accessScore
}

func recencyScore(insertedAt, now time.Time) float64 {
	if insertedAt.IsZero() {
		return 0.5
	}
	age := now.Sub(insertedAt)
	switch {
	case age <= 24*time.Hour:
		return 1.0
	case age <= 7*24*time.Hour:
		return 0.8
	case age <= 30*24*time.Hour:
		return 0.6
	case age <= 90*24*time.Hour:
		return 0.4
	default:
		return 0.2
	}
}

func accessCountScore(count int) float64 {
	if count == 0 {
		return 0.3
	}
	score := 0.5 + 0.1*float64(count)
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// selectWithinBudget implements spec §4.8 step 4: greedily select
// descending-scored memories within a character budget (≈4·max_tokens).
// Scored is already score-descending, and appending in encounter order
// preserves that for emission.
func selectWithinBudget(scored []scoredMemory, maxTokens int) []scoredMemory {
	budget := 4 * maxTokens
	used := 0
	selected := make([]scoredMemory, 0, len(scored))
	for _, sm := range scored {
		size := tokencount.CharLen(sm.memory.Content) + tokencount.CharLen(sm.memory.Summary)
		if used > 0 && used+size > budget {
			continue
		}
		selected = append(selected, sm)
		used += size
	}
	return selected
}

func formatText(selected []scoredMemory, edges []*memory.Edge, opts Options, sims map[string]float64) string {
	var b strings.Builder
	b.WriteString("# Relevant Memories\n\n")
	for _, sm := range selected {
		m := sm.memory
		b.WriteString(fmt.Sprintf("- [%s] %s\n", m.Type, summaryOrContent(m)))
	}
	if opts.IncludeEdges && len(edges) > 0 {
		b.WriteString("\n## Memory Relationships\n\n")
		for i, e := range edges {
			if i >= 10 {
				break
			}
			b.WriteString(fmt.Sprintf("- %s --[%s]--> %s\n", e.FromID, e.Type, e.ToID))
		}
	}
	return b.String()
}

func formatStructured(selected []scoredMemory, edges []*memory.Edge, opts Options, sims map[string]float64) string {
	var b strings.Builder
	for _, sm := range selected {
		m := sm.memory
		b.WriteString(fmt.Sprintf("<memory id=%q type=%q confidence=%q>", m.ID, m.Type, fmt.Sprintf("%.2f", m.Confidence)))
		b.WriteString(fmt.Sprintf("<summary>%s</summary>", m.Summary))
		b.WriteString(fmt.Sprintf("<content>%s</content>", m.Content))
		b.WriteString("</memory>\n")
	}
	if opts.IncludeEdges && len(edges) > 0 {
		b.WriteString("<relationships>\n")
		for i, e := range edges {
			if i >= 10 {
				break
			}
			b.WriteString(fmt.Sprintf("<edge from=%q to=%q type=%q weight=%q/>\n", e.FromID, e.ToID, e.Type, fmt.Sprintf("%.2f", e.Weight)))
		}
		b.WriteString("</relationships>\n")
	}
	return b.String()
}

type jsonMemory struct {
	ID         string  `json:"id"`
	Type       string  `json:"type"`
	Summary    string  `json:"summary"`
	Content    string  `json:"content"`
	Confidence float64 `json:"confidence"`
	Relevance  float64 `json:"relevance"`
	Score      float64 `json:"score"`
}

type jsonEdge struct {
	From   string  `json:"from"`
	To     string  `json:"to"`
	Type   string  `json:"type"`
	Weight float64 `json:"weight"`
}

type jsonPayload struct {
	Memories []jsonMemory `json:"memories"`
	Edges    []jsonEdge   `json:"edges,omitempty"`
}

func formatJSON(selected []scoredMemory, edges []*memory.Edge, sims map[string]float64) string {
	payload := jsonPayload{Memories: make([]jsonMemory, 0, len(selected))}
	for _, sm := range selected {
		m := sm.memory
		payload.Memories = append(payload.Memories, jsonMemory{
			ID: m.ID, Type: string(m.Type), Summary: m.Summary, Content: m.Content,
			Confidence: m.Confidence, Relevance: sims[m.ID], Score: sm.score,
		})
	}
	limit := len(edges)
	if limit > 20 {
		limit = 20
	}
	for _, e := range edges[:limit] {
		payload.Edges = append(payload.Edges, jsonEdge{From: e.FromID, To: e.ToID, Type: string(e.Type), Weight: e.Weight})
	}
	out, err := json.Marshal(payload)
	if err != nil {
		return "{}"
	}
	return string(out)
}

func summaryOrContent(m *memory.Memory) string {
	if m.Summary != "" {
		return m.Summary
	}
	return m.Content
}

// TokensUsed estimates the token count of a formatted context string,
// surfaced by callers for telemetry rather than for the char-budget
// selection itself (spec §4.8 step 4 budgets on characters).
func TokensUsed(formatted string, counter tokencount.Counter) int {
	return counter.Count(formatted)
}
