package memory

import "time"

// MemoryAttrs is the input to NewMemory: caller-supplied fields before
// defaults and invariants are applied.
type MemoryAttrs struct {
	ID         string
	Type       MemoryType
	Summary    string
	Content    string
	Embedding  []float32
	Importance *float64
	Confidence *float64
	Scope      Scope
	AgentID    string
	TenantID   string
	Tags       []string
	Metadata   map[string]any
	SessionID  string
}

// EmbeddingDimensions, when non-zero, is checked against any embedding
// supplied at construction time (I2). Storage.store and the Indexer pass the
// configured dimensionality here; zero means "not yet known", in which case
// I2 is only checked again once the indexer attaches the embedding.
func NewMemory(attrs MemoryAttrs, embeddingDimensions int, now time.Time) (*Memory, error) {
	if attrs.Type == "" {
		attrs.Type = TypeFact
	}
	if !attrs.Type.Valid() {
		return nil, NewFieldError(ErrValidation, "type", "invalid memory type")
	}

	if attrs.Scope == "" {
		attrs.Scope = ScopePrivate
	}
	if !attrs.Scope.Valid() {
		return nil, NewFieldError(ErrValidation, "scope", "invalid scope")
	}

	if attrs.AgentID == "" {
		return nil, NewFieldError(ErrValidation, "agent_id", "agent_id is required")
	}

	importance := 0.5
	if attrs.Importance != nil {
		importance = *attrs.Importance
	}
	if importance < 0 || importance > 1 {
		return nil, NewFieldError(ErrValidation, "importance", "must be in [0,1]")
	}

	confidence := 0.7
	if attrs.Confidence != nil {
		confidence = *attrs.Confidence
	}
	if confidence < 0 || confidence > 1 {
		return nil, NewFieldError(ErrValidation, "confidence", "must be in [0,1]")
	}

	scope := attrs.Scope
	// I1: confidence < 0.7 => scope = private.
	if confidence < 0.7 {
		scope = ScopePrivate
	}

	if len(attrs.Embedding) > 0 && embeddingDimensions > 0 && len(attrs.Embedding) != embeddingDimensions {
		return nil, NewFieldError(ErrValidation, "embedding", "embedding length does not match configured dimensionality")
	}

	id := attrs.ID
	if id == "" {
		id = NewID()
	}

	m := &Memory{
		ID:         id,
		Type:       attrs.Type,
		Summary:    attrs.Summary,
		Content:    attrs.Content,
		Embedding:  attrs.Embedding,
		Importance: importance,
		Confidence: confidence,
		Scope:      scope,
		AgentID:    attrs.AgentID,
		TenantID:   attrs.TenantID,
		Tags:       attrs.Tags,
		Metadata:   attrs.Metadata,
		SessionID:  attrs.SessionID,
		InsertedAt: now,
		UpdatedAt:  now,
	}
	return m, nil
}

// ApplyConfidenceScope re-derives scope from I1 when confidence or scope is
// updated; used by any update path that touches either field.
func ApplyConfidenceScope(scope Scope, confidence float64) Scope {
	if confidence < 0.7 {
		return ScopePrivate
	}
	return scope
}

// EdgeAttrs is the input to NewEdge.
type EdgeAttrs struct {
	ID         string
	FromID     string
	ToID       string
	Type       EdgeType
	Weight     *float64
	Confidence *float64
	Metadata   map[string]any
}

// NewEdge constructs an Edge given the already-resolved scope (I6 derivation
// is the caller's responsibility — it needs both endpoint memories).
func NewEdge(attrs EdgeAttrs, scope Scope, now time.Time) (*Edge, error) {
	if attrs.FromID == "" || attrs.ToID == "" {
		return nil, NewFieldError(ErrValidation, "from_id/to_id", "both endpoints are required")
	}
	if attrs.Type == "" {
		attrs.Type = EdgeRelatesTo
	}
	if !attrs.Type.Valid() {
		return nil, NewFieldError(ErrValidation, "type", "invalid edge type")
	}
	if !scope.Valid() {
		return nil, NewFieldError(ErrValidation, "scope", "invalid scope")
	}

	weight := 0.5
	if attrs.Weight != nil {
		weight = *attrs.Weight
	}
	if weight < 0 || weight > 1 {
		return nil, NewFieldError(ErrValidation, "weight", "must be in [0,1]")
	}

	confidence := 0.7
	if attrs.Confidence != nil {
		confidence = *attrs.Confidence
	}
	if confidence < 0 || confidence > 1 {
		return nil, NewFieldError(ErrValidation, "confidence", "must be in [0,1]")
	}

	id := attrs.ID
	if id == "" {
		id = NewID()
	}

	return &Edge{
		ID:         id,
		FromID:     attrs.FromID,
		ToID:       attrs.ToID,
		Type:       attrs.Type,
		Weight:     weight,
		Confidence: confidence,
		Scope:      scope,
		Metadata:   attrs.Metadata,
		InsertedAt: now,
		UpdatedAt:  now,
	}, nil
}

// DeriveEdgeScope implements I6: the edge scope is the more restrictive of
// the two endpoint scopes.
func DeriveEdgeScope(from, to Scope) Scope {
	return from.Min(to)
}
