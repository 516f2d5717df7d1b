// Package reflect implements the Reflect orchestrator (spec §4.10):
// recall a topic's memories, synthesize a reflection (via an optional
// adapter or a deterministic default formatter), and optionally persist
// it linked back to its sources.
package reflect

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/memkit/memkit/graph"
	"github.com/memkit/memkit/memory"
	"github.com/memkit/memkit/retrieval"
	"github.com/memkit/memkit/storage"
)

// Synthesizer produces reflection text from a cluster of memories; an
// optional caller-supplied hook (e.g. an LLM) replacing the default
// bullet-list formatter (spec §4.10 step 3).
type Synthesizer interface {
	Reflect(ctx context.Context, memories []*memory.Memory, topic string) (string, error)
}

const defaultTopic = "important observations, facts, and decisions"

// Options configures Reflect (spec §4.10 defaults).
type Options struct {
	Topic       string
	MinMemories int
	MaxMemories int
	Store       bool
}

func DefaultOptions() Options {
	return Options{MinMemories: 3, MaxMemories: 15, Store: true}
}

// Service orchestrates reflection.
type Service struct {
	retrieval   *retrieval.Service
	storage     *storage.Store
	graph       *graph.Service
	synthesizer Synthesizer
	now         func() time.Time
	logger      *zap.Logger
}

func NewService(r *retrieval.Service, s *storage.Store, g *graph.Service, synthesizer Synthesizer, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		retrieval: r, storage: s, graph: g, synthesizer: synthesizer,
		now: time.Now, logger: logger.With(zap.String("component", "reflect")),
	}
}

// Outcome is the return value of Reflect: either a persisted reflection
// memory (Store=true) or just the synthesized text (Store=false).
type Outcome struct {
	Memory *memory.Memory
	Text   string
}

// Reflect implements spec §4.10 steps 1-5.
func (s *Service) Reflect(ctx context.Context, agentID string, opts Options, ac memory.AccessContext) (Outcome, error) {
	opts = applyDefaults(opts)
	topic := opts.Topic
	if topic == "" {
		topic = defaultTopic
	}

	// Step 1: recall. Threshold is left at retrieval's own default rather
	// than a literal 0, which applyDefaults would silently raise anyway.
	res, err := s.retrieval.Recall(ctx, topic, ac, retrieval.Options{Limit: opts.MaxMemories, Threshold: retrieval.DefaultOptions().Threshold})
	if err != nil {
		return Outcome{}, err
	}

	// Step 2: insufficient_memories guard.
	if len(res.Hits) < opts.MinMemories {
		return Outcome{}, memory.NewError(memory.ErrInsufficientMemories, fmt.Sprintf("recalled %d memories, need at least %d", len(res.Hits), opts.MinMemories))
	}

	memories := make([]*memory.Memory, len(res.Hits))
	for i, h := range res.Hits {
		memories[i] = h.Memory
	}

	// Step 3: synthesize.
	text, err := s.synthesize(ctx, memories, opts.Topic)
	if err != nil {
		return Outcome{}, err
	}

	if !opts.Store {
		return Outcome{Text: text}, nil
	}

	// Step 4: persist and link to sources.
	m, err := s.persist(ctx, agentID, text, memories, ac)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Memory: m, Text: text}, nil
}

func (s *Service) synthesize(ctx context.Context, memories []*memory.Memory, topic string) (string, error) {
	if s.synthesizer != nil {
		return s.synthesizer.Reflect(ctx, memories, topic)
	}
	return defaultFormat(memories, topic), nil
}

// defaultFormat implements spec §4.10 step 3's deterministic fallback.
func defaultFormat(memories []*memory.Memory, topic string) string {
	var b strings.Builder
	if topic != "" {
		b.WriteString(fmt.Sprintf("Reflection about %s from %d memories:\n", topic, len(memories)))
	} else {
		b.WriteString(fmt.Sprintf("Reflection from %d memories:\n", len(memories)))
	}
	for _, m := range memories {
		summary := m.Summary
		if summary == "" {
			summary = m.Content
		}
		b.WriteString(fmt.Sprintf("- [%s] %s\n", m.Type, summary))
	}
	return strings.TrimRight(b.String(), "\n")
}

// persist implements spec §4.10 step 4: split on the first newline into
// (summary, content), store a reflection memory, then link supports edges
// to each source.
func (s *Service) persist(ctx context.Context, agentID, text string, sources []*memory.Memory, ac memory.AccessContext) (*memory.Memory, error) {
	summary, content := splitSummaryContent(text)

	avgConfidence := averageConfidence(sources)
	confidence := avgConfidence + 0.1
	if confidence > 1.0 {
		confidence = 1.0
	}
	importance := 0.8

	sourceIDs := make([]string, len(sources))
	for i, src := range sources {
		sourceIDs[i] = src.ID
	}

	m, err := s.storage.StoreMemory(ctx, memory.MemoryAttrs{
		Type:       memory.TypeReflection,
		Summary:    summary,
		Content:    content,
		Importance: &importance,
		Confidence: &confidence,
		Scope:      memory.ScopePrivate,
		AgentID:    agentID,
		Metadata:   map[string]any{"source_memory_ids": sourceIDs},
	}, ac)
	if err != nil {
		return nil, err
	}

	if s.graph != nil {
		weight := 0.7
		for _, src := range sources {
			if _, err := s.graph.Link(ctx, m.ID, src.ID, memory.EdgeSupports, graph.LinkOptions{Weight: &weight}, ac); err != nil {
				s.logger.Warn("failed to link reflection to source", zap.String("reflection_id", m.ID), zap.String("source_id", src.ID), zap.Error(err))
			}
		}
	}

	return m, nil
}

// maxSummaryRunes bounds the derived summary length (spec §9 OQ3): a
// synthesizer whose first line runs long produces an unwieldy summary
// otherwise, since content is left untouched.
const maxSummaryRunes = 200

func splitSummaryContent(text string) (string, string) {
	idx := strings.IndexByte(text, '\n')
	if idx < 0 {
		return truncateRunes(text, maxSummaryRunes), text
	}
	return truncateRunes(text[:idx], maxSummaryRunes), text[idx+1:]
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

func averageConfidence(memories []*memory.Memory) float64 {
	if len(memories) == 0 {
		return 0.5
	}
	var sum float64
	for _, m := range memories {
		sum += m.Confidence
	}
	return sum / float64(len(memories))
}

func applyDefaults(opts Options) Options {
	if opts.MinMemories <= 0 {
		opts.MinMemories = 3
	}
	if opts.MaxMemories <= 0 {
		opts.MaxMemories = 15
	}
	return opts
}
