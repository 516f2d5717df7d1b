package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// OllamaConfig configures an OllamaProvider.
type OllamaConfig struct {
	Endpoint   string
	Model      string
	Dimensions int
	Timeout    time.Duration
}

// OllamaProvider implements Provider against a local Ollama-compatible
// embedding endpoint (spec §6): `POST {endpoint}/api/embed`.
type OllamaProvider struct {
	*baseProvider
}

// NewOllamaProvider builds a local-model provider. Dimensions are resolved
// from the recognized model table, falling back to cfg.Dimensions or 768.
func NewOllamaProvider(cfg OllamaConfig) *OllamaProvider {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "nomic-embed-text"
	}
	return &OllamaProvider{
		baseProvider: newBaseProvider(baseConfig{
			Name:       "ollama",
			BaseURL:    cfg.Endpoint,
			Model:      cfg.Model,
			Dimensions: DimensionsForModel(cfg.Model, cfg.Dimensions),
			Timeout:    cfg.Timeout,
		}),
	}
}

type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed produces a single vector.
func (p *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.embedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedMany produces one vector per text, falling back to sequential
// per-item calls when the endpoint rejects batched input (HTTP 400).
func (p *OllamaProvider) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := p.embedBatch(ctx, texts)
	if err == nil {
		return vecs, nil
	}

	var embErr *Error
	if as, ok := err.(*Error); ok {
		embErr = as
	}
	if embErr == nil || embErr.StatusCode != http.StatusBadRequest {
		return nil, err
	}

	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := p.embedBatch(ctx, []string{t})
		if err != nil {
			return nil, err
		}
		out[i] = v[0]
	}
	return out, nil
}

func (p *OllamaProvider) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var input any = texts
	if len(texts) == 1 {
		input = texts[0]
	}

	body := ollamaEmbedRequest{Model: p.model, Input: input}
	respBody, err := p.doRequest(ctx, "POST", "/api/embed", body, nil)
	if err != nil {
		return nil, err
	}

	var resp ollamaEmbedResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, &Error{Kind: ErrProviderError, Message: "decode response: " + err.Error(), Provider: p.name, Cause: err}
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, &Error{Kind: ErrLengthMismatch, Message: "embedding count does not match input count", Provider: p.name}
	}
	return resp.Embeddings, nil
}
