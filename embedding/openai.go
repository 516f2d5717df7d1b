package embedding

import (
	"context"
	"encoding/json"
	"sort"
	"time"
)

// OpenAIConfig configures an OpenAIProvider.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
	Timeout    time.Duration
}

// OpenAIProvider implements Provider against the hosted OpenAI-compatible
// embeddings endpoint (spec §6): `POST https://api.openai.com/v1/embeddings`.
type OpenAIProvider struct {
	*baseProvider
	apiKey string
}

func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	return &OpenAIProvider{
		baseProvider: newBaseProvider(baseConfig{
			Name:       "openai",
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Dimensions: DimensionsForModel(cfg.Model, cfg.Dimensions),
			Timeout:    cfg.Timeout,
		}),
		apiKey: cfg.APIKey,
	}
}

type openAIEmbedRequest struct {
	Input any    `json:"input"`
	Model string `json:"model"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.embedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (p *OpenAIProvider) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	return p.embedBatch(ctx, texts)
}

func (p *OpenAIProvider) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if p.apiKey == "" {
		return nil, &Error{Kind: ErrMisconfiguration, Message: "missing openai api key", Provider: p.name}
	}

	body := openAIEmbedRequest{Input: texts, Model: p.model}
	respBody, err := p.doRequest(ctx, "POST", "/v1/embeddings", body, map[string]string{
		"Authorization": "Bearer " + p.apiKey,
	})
	if err != nil {
		return nil, err
	}

	var resp openAIEmbedResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, &Error{Kind: ErrProviderError, Message: "decode response: " + err.Error(), Provider: p.name, Cause: err}
	}
	if len(resp.Data) != len(texts) {
		return nil, &Error{Kind: ErrLengthMismatch, Message: "embedding count does not match input count", Provider: p.name}
	}

	sort.Slice(resp.Data, func(i, j int) bool { return resp.Data[i].Index < resp.Data[j].Index })

	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		out[i] = d.Embedding
	}
	return out, nil
}
