// Package channel implements the outbound side of the chat-channel
// provider: sending text, presence updates, and media downloads.
package channel

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lexflow/lexflow/internal/config"
	"github.com/lexflow/lexflow/internal/retry"
)

// Sender is what the dispatcher needs from the channel.
type Sender interface {
	// SendText delivers a text message and returns the provider's
	// message id, used later to match delivery-status updates.
	SendText(ctx context.Context, phone, text string) (string, error)
	// SendTyping shows the "composing" indicator for the duration.
	SendTyping(ctx context.Context, phone string, d time.Duration) error
}

// MediaFetcher resolves received media to raw bytes.
type MediaFetcher interface {
	DownloadMedia(ctx context.Context, messageID string) ([]byte, error)
}

// Client talks to an Evolution-compatible channel gateway.
type Client struct {
	baseURL    string
	apiKey     string
	instance   string
	httpClient *http.Client
}

// NewClient builds a channel client from configuration.
func NewClient(cfg config.ChannelConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		instance:   cfg.Instance,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// SendText posts a text message to the contact.
func (c *Client) SendText(ctx context.Context, phone, text string) (string, error) {
	respBody, err := c.post(ctx, "/message/sendText/"+c.instance, map[string]any{
		"number": phone,
		"text":   text,
	})
	if err != nil {
		return "", err
	}

	var resp struct {
		Key struct {
			ID string `json:"id"`
		} `json:"key"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("parse send response: %w", err)
	}
	return resp.Key.ID, nil
}

// SendTyping shows the composing indicator for roughly d.
func (c *Client) SendTyping(ctx context.Context, phone string, d time.Duration) error {
	_, err := c.post(ctx, "/chat/sendPresence/"+c.instance, map[string]any{
		"number":   phone,
		"presence": "composing",
		"delay":    int(d.Milliseconds()),
	})
	return err
}

// DownloadMedia fetches the raw bytes of a received media message.
func (c *Client) DownloadMedia(ctx context.Context, messageID string) ([]byte, error) {
	respBody, err := c.post(ctx, "/chat/getBase64FromMediaMessage/"+c.instance, map[string]any{
		"message": map[string]any{
			"key": map[string]any{"id": messageID},
		},
	})
	if err != nil {
		return nil, err
	}

	var resp struct {
		Base64 string `json:"base64"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("parse media response: %w", err)
	}
	data, err := base64.StdEncoding.DecodeString(resp.Base64)
	if err != nil {
		return nil, fmt.Errorf("decode media: %w", err)
	}
	return data, nil
}

func (c *Client) post(ctx context.Context, path string, body map[string]any) ([]byte, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.apiKey)

	resp, err := c.httpClient.Do(req)
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
	return respBody, nil
}
