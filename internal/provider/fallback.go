package provider

import (
	"context"
	"log/slog"

	"github.com/lexflow/lexflow/internal/retry"
)

// modelAliases maps primary model names onto the equivalent name the
// secondary gateway expects. Unknown models pass through unchanged.
var modelAliases = map[string]string{
	"gpt-4o":      "openai/gpt-4o",
	"gpt-4o-mini": "openai/gpt-4o-mini",
	"gpt-4.1":     "openai/gpt-4.1",
	"o3-mini":     "openai/o3-mini",
}

// TranslateModel returns the secondary-gateway name for a model.
func TranslateModel(model string) string {
	if alias, ok := modelAliases[model]; ok {
		return alias
	}
	return model
}

// FallbackChain tries the primary provider first and, when it fails
// even after retries, repeats the request against the secondary with
// the model name translated. With no secondary configured it behaves
// like the primary alone.
type FallbackChain struct {
	primary   ChatCompletionProvider
	secondary ChatCompletionProvider
	logger    *slog.Logger
}

// NewFallbackChain builds a chain. secondary may be nil.
func NewFallbackChain(primary, secondary ChatCompletionProvider, logger *slog.Logger) *FallbackChain {
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackChain{primary: primary, secondary: secondary, logger: logger}
}

// Name identifies the chain in logs.
func (c *FallbackChain) Name() string { return "fallback(" + c.primary.Name() + ")" }

// DefaultModel returns the primary provider's default model.
func (c *FallbackChain) DefaultModel() string { return c.primary.DefaultModel() }

// Chat runs the request through the primary with retries, then the
// secondary with retries. Only transient primary failures fall back;
// fatal client errors (and cancellation) propagate immediately, since
// the secondary would reject the same request. Both exhausted means
// the caller gets the secondary's error.
func (c *FallbackChain) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	resp, err := retry.Do(ctx, "chat "+c.primary.Name(), func(ctx context.Context) (*ChatResponse, error) {
		return c.primary.Chat(ctx, req)
	})
	if err == nil {
		return resp, nil
	}
	if c.secondary == nil || !retry.IsRetryable(err) {
		return nil, err
	}

	c.logger.Warn("Primary provider failed, falling back",
		"primary", c.primary.Name(),
		"secondary", c.secondary.Name(),
		"error", err)

	model := req.Model
	if model == "" {
		model = c.primary.DefaultModel()
	}
	translated := *req
	translated.Model = TranslateModel(model)

	return retry.Do(ctx, "chat "+c.secondary.Name(), func(ctx context.Context) (*ChatResponse, error) {
		return c.secondary.Chat(ctx, &translated)
	})
}
