// Package llm adapts a language model endpoint to the kernel's Reasoner
// interface. Each call renders the request context into a single prompt,
// asks for JSON, and extracts the JSON payload from whatever framing the
// model wrapped it in.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/loopkit/quadra/internal/collab"
	"github.com/loopkit/quadra/internal/faults"
)

// Config selects the model endpoint. BaseURL accepts any OpenAI-compatible
// server.
type Config struct {
	BaseURL     string  `koanf:"base_url"`
	Model       string  `koanf:"model"`
	APIKey      string  `koanf:"api_key"`
	Temperature float64 `koanf:"temperature"`
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	return nil
}

// Reasoner is a collab.Reasoner over a langchaingo model.
type Reasoner struct {
	model       llms.Model
	temperature float64
}

// New creates a Reasoner from config.
func New(cfg Config) (*Reasoner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	apiKey := cfg.APIKey
	if apiKey == "" {
		// langchaingo requires a token even for local endpoints.
		apiKey = "placeholder"
	}
	opts := []openai.Option{
		openai.WithModel(cfg.Model),
		openai.WithToken(apiKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	model, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating model client: %w", err)
	}
	return &Reasoner{model: model, temperature: cfg.Temperature}, nil
}

// NewWithModel wraps an existing model, for tests and custom providers.
func NewWithModel(model llms.Model) *Reasoner {
	return &Reasoner{model: model}
}

// Call renders req into a prompt, generates a completion, and returns the
// extracted JSON payload.
func (r *Reasoner) Call(ctx context.Context, req collab.Request) (json.RawMessage, error) {
	prompt, err := renderPrompt(req)
	if err != nil {
		return nil, faults.ExternalCall("reasoner", false, err)
	}
	out, err := llms.GenerateFromSinglePrompt(ctx, r.model, prompt,
		llms.WithTemperature(r.temperature),
	)
	if err != nil {
		return nil, faults.ExternalCall("reasoner", isTransient(err), err)
	}
	payload := ExtractJSON(out)
	if payload == "" {
		return nil, faults.ExternalCall("reasoner", true,
			fmt.Errorf("completion contains no JSON payload"))
	}
	return json.RawMessage(payload), nil
}

// renderPrompt serializes the request context under its purpose header.
func renderPrompt(req collab.Request) (string, error) {
	ctxJSON, err := json.MarshalIndent(req.Context, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling request context: %w", err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n\n", req.Purpose)
	fmt.Fprintf(&b, "Context:\n%s\n\n", ctxJSON)
	b.WriteString("Respond with a single JSON object and nothing else.")
	return b.String(), nil
}

// isTransient classifies endpoint errors. Timeouts, connection failures,
// and throttling may succeed on retry; anything else is treated as
// permanent.
func isTransient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"429", "rate limit", "timeout", "connection refused", "connection reset", "temporarily", "overloaded", "503", "502"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

var _ collab.Reasoner = (*Reasoner)(nil)
