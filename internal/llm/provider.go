// Package llm abstracts the three ways a generation backend can be
// reached: a local HTTP server, a subprocess CLI, and a remote hosted
// API. All three speak the same narrow Provider interface so the
// extractor and decision packages never know which one is in use.
package llm

import (
	"context"
	"fmt"
)

// Provider generates text completions and, where supported, embeddings.
type Provider interface {
	Name() string
	Available(ctx context.Context) bool
	Generate(ctx context.Context, req Request) (*Response, error)
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Request is a single generation call. ResponseFormat may be set to
// "json_object" to request strict-JSON output where the backend
// supports it.
type Request struct {
	Model          string
	Messages       []Message
	Temperature    float64
	MaxTokens      int
	ResponseFormat string
	SessionID      string // set to resume a remote provider's server-side session

	// Images attaches inline image data to the final message, for
	// providers whose backend model accepts multimodal input (vision-
	// assisted PDF captioning). Ignored by providers/models that don't
	// support it.
	Images []ImageInput
}

// ImageInput is one inline image attached to a Request.
type ImageInput struct {
	MimeType string // e.g. "image/png"
	Data     []byte
}

// Message is one turn in a chat-style prompt.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Response carries the generated text plus usage accounting so callers
// can budget tokens across an extraction run.
type Response struct {
	Content          string
	Model            string
	FinishReason     string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	SessionID        string // echoed back when the backend issued or continued a session
}

// Config configures any of the three provider kinds.
type Config struct {
	Kind    string // "local", "subprocess", "remote"
	Model   string
	BaseURL string
	APIKey  string

	// Subprocess-only.
	Command []string
	Timeout int // seconds, 0 means a package default

	// Remote-only: ordered fallback providers tried in sequence on failure.
	Fallbacks []Config
}

// New constructs a Provider from a Config.
func New(cfg Config) (Provider, error) {
	switch cfg.Kind {
	case "local":
		return NewLocal(cfg), nil
	case "subprocess":
		return NewSubprocess(cfg), nil
	case "remote":
		return NewRemote(cfg)
	case "":
		return nil, fmt.Errorf("llm: provider kind not specified")
	default:
		return nil, fmt.Errorf("llm: unknown provider kind %q", cfg.Kind)
	}
}
