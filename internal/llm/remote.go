package llm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// remoteProvider talks to a hosted API (OpenRouter, OpenAI, Groq, xAI,
// Gemini — anything reachable over the internet rather than on the same
// host) and composes an ordered list of fallback providers: if the
// primary backend errors out, each fallback is tried in turn before the
// call fails.
//
// It also tracks a per-SessionID turn history so a caller can pass the
// same SessionID across a multi-step extraction and have prior turns
// folded back into context, without the backend itself needing to
// support server-side sessions.
type remoteProvider struct {
	primary   *localProvider
	fallbacks []Provider

	mu       sync.Mutex
	sessions map[string][]Message
}

// NewRemote creates a remote HTTP provider with an optional fallback
// chain built from cfg.Fallbacks.
func NewRemote(cfg Config) (Provider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("llm: remote provider requires a base URL")
	}
	primary := NewLocal(cfg).(*localProvider)

	var fallbacks []Provider
	for _, fcfg := range cfg.Fallbacks {
		fp, err := New(fcfg)
		if err != nil {
			return nil, fmt.Errorf("llm: building fallback provider: %w", err)
		}
		fallbacks = append(fallbacks, fp)
	}

	return &remoteProvider{
		primary:   primary,
		fallbacks: fallbacks,
		sessions:  make(map[string][]Message),
	}, nil
}

func (p *remoteProvider) Name() string { return "remote:" + p.primary.cfg.Model }

func (p *remoteProvider) Available(ctx context.Context) bool {
	return p.primary.Available(ctx)
}

func (p *remoteProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	req = p.withSessionHistory(req)

	resp, err := p.generateWithRetry(ctx, p.primary, req)
	if err == nil {
		p.recordTurn(req, resp)
		return resp, nil
	}

	lastErr := err
	for _, fb := range p.fallbacks {
		slog.Warn("llm: primary remote provider failed, trying fallback", "primary", p.primary.Name(), "fallback", fb.Name(), "error", err)
		resp, err = fb.Generate(ctx, req)
		if err == nil {
			p.recordTurn(req, resp)
			return resp, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("llm: all providers exhausted: %w", lastErr)
}

func (p *remoteProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings, err := p.primary.Embed(ctx, texts)
	if err == nil {
		return embeddings, nil
	}
	for _, fb := range p.fallbacks {
		if embeddings, err = fb.Embed(ctx, texts); err == nil {
			return embeddings, nil
		}
	}
	return nil, err
}

// generateWithRetry wraps a single provider call in an exponential
// backoff, retrying transient failures without the caller needing its
// own retry loop.
func (p *remoteProvider) generateWithRetry(ctx context.Context, provider Provider, req Request) (*Response, error) {
	var resp *Response
	operation := func() error {
		var err error
		resp, err = provider.Generate(ctx, req)
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 60 * time.Second
	bo.InitialInterval = 2 * time.Second

	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	return resp, nil
}

// withSessionHistory prepends any recorded turns for req.SessionID ahead
// of the caller's own messages, so a stateless backend still sees prior
// context for a resumed session.
func (p *remoteProvider) withSessionHistory(req Request) Request {
	if req.SessionID == "" {
		return req
	}
	p.mu.Lock()
	history := p.sessions[req.SessionID]
	p.mu.Unlock()
	if len(history) == 0 {
		return req
	}
	merged := make([]Message, 0, len(history)+len(req.Messages))
	merged = append(merged, history...)
	merged = append(merged, req.Messages...)
	req.Messages = merged
	return req
}

func (p *remoteProvider) recordTurn(req Request, resp *Response) {
	if req.SessionID == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	history := p.sessions[req.SessionID]
	if len(req.Messages) > 0 {
		history = append(history, req.Messages[len(req.Messages)-1])
	}
	history = append(history, Message{Role: "assistant", Content: resp.Content})
	p.sessions[req.SessionID] = history
	resp.SessionID = req.SessionID
}

// ResetSession discards recorded history for a session ID, forcing the
// next call with that ID to start fresh.
func (p *remoteProvider) ResetSession(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sessions, sessionID)
}
