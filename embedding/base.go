package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/memkit/memkit/internal/retry"
)

// baseProvider holds the HTTP plumbing shared by OllamaProvider and
// OpenAIProvider: a timeout-bound client, the adapter's own retry of
// safe-transient errors, and dimension bookkeeping.
type baseProvider struct {
	name       string
	client     *http.Client
	baseURL    string
	model      string
	dimensions int
	retryer    retry.Retryer
}

// baseConfig configures a baseProvider.
type baseConfig struct {
	Name       string
	BaseURL    string
	Model      string
	Dimensions int
	Timeout    time.Duration
}

func newBaseProvider(cfg baseConfig) *baseProvider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	p := &baseProvider{
		name:       cfg.Name,
		client:     &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}
	policy := retry.DefaultPolicy()
	policy.IsRetryable = func(err error) bool {
		var e *Error
		return errors.As(err, &e) && e.Retryable()
	}
	p.retryer = retry.NewRetryer(policy, nil)
	return p
}

func (p *baseProvider) Dimensions() int { return p.dimensions }

// doRequest performs a JSON POST with the adapter's own retry policy
// wrapped around safe-transient failures (spec §4.2).
func (p *baseProvider) doRequest(ctx context.Context, method, endpoint string, body any, headers map[string]string) ([]byte, error) {
	var respBody []byte
	err := p.retryer.Do(ctx, func() error {
		b, err := p.doOnce(ctx, method, endpoint, body, headers)
		if err != nil {
			return err
		}
		respBody = b
		return nil
	})
	return respBody, err
}

func (p *baseProvider) doOnce(ctx context.Context, method, endpoint string, body any, headers map[string]string) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, &Error{Kind: ErrMisconfiguration, Message: "marshal request: " + err.Error(), Provider: p.name}
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+endpoint, reqBody)
	if err != nil {
		return nil, &Error{Kind: ErrMisconfiguration, Message: "create request: " + err.Error(), Provider: p.name}
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, &Error{Kind: ErrTransportTimeout, Message: err.Error(), Provider: p.name, Cause: err}
		}
		return nil, &Error{Kind: ErrTransportError, Message: err.Error(), Provider: p.name, Cause: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: ErrTransportError, Message: "read response: " + err.Error(), Provider: p.name, Cause: err}
	}

	if resp.StatusCode >= 400 {
		return nil, mapHTTPError(resp.StatusCode, string(respBody), p.name)
	}
	return respBody, nil
}

func mapHTTPError(status int, body, provider string) *Error {
	switch {
	case status == http.StatusTooManyRequests:
		return &Error{Kind: ErrRateLimited, Message: body, Provider: provider, StatusCode: status}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &Error{Kind: ErrMisconfiguration, Message: body, Provider: provider, StatusCode: status}
	case status >= 500:
		return &Error{Kind: ErrTransportError, Message: body, Provider: provider, StatusCode: status}
	default:
		return &Error{Kind: ErrProviderError, Message: fmt.Sprintf("status %d: %s", status, body), Provider: provider, StatusCode: status}
	}
}
