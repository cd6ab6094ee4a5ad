// Package sign integrates the e-signature provider used to send
// engagement letters for signature.
package sign

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lexflow/lexflow/internal/config"
	"github.com/lexflow/lexflow/internal/retry"
)

// Request describes a document to send for signature.
type Request struct {
	TemplateID string
	SignerName string
	SignerTel  string
}

// Result identifies the sent envelope.
type Result struct {
	EnvelopeID string
	SignURL    string
}

// Service sends documents for signature.
type Service interface {
	SendDocument(ctx context.Context, req *Request) (*Result, error)
}

// Client is the HTTP e-signature client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient builds a signature client from configuration.
func NewClient(cfg config.SignConfig) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// SendDocument creates a signature envelope from a template and
// dispatches it to the signer.
func (c *Client) SendDocument(ctx context.Context, req *Request) (*Result, error) {
	body, err := json.Marshal(map[string]any{
		"template_id": req.TemplateID,
		"signer": map[string]any{
			"name":  req.SignerName,
			"phone": req.SignerTel,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/envelopes", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &retry.HTTPError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var parsed struct {
		ID      string `json:"id"`
		SignURL string `json:"sign_url"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return &Result{EnvelopeID: parsed.ID, SignURL: parsed.SignURL}, nil
}
