package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"
)

// subprocessProvider drives a CLI model runner (a packaged llama.cpp
// binary, a vendor's offline inference tool) by writing the prompt to
// its stdin and collecting stdout, the same way a one-shot external
// extractor binary is invoked: spawn, feed input, wait with a deadline,
// kill on timeout.
type subprocessProvider struct {
	cfg Config
}

// NewSubprocess creates a provider that shells out to a local CLI.
func NewSubprocess(cfg Config) Provider {
	return &subprocessProvider{cfg: cfg}
}

func (p *subprocessProvider) Name() string { return "subprocess:" + p.cfg.Model }

func (p *subprocessProvider) Available(ctx context.Context) bool {
	return len(p.cfg.Command) > 0
}

type subprocessPrompt struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

type subprocessReply struct {
	Content          string `json:"content"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
}

func (p *subprocessProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	if len(p.cfg.Command) == 0 {
		return nil, fmt.Errorf("llm: subprocess provider has no command configured")
	}

	timeout := time.Duration(p.cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}
	payload, err := json.Marshal(subprocessPrompt{Model: model, Messages: req.Messages})
	if err != nil {
		return nil, fmt.Errorf("encoding subprocess prompt: %w", err)
	}

	cmd := exec.CommandContext(runCtx, p.cfg.Command[0], p.cfg.Command[1:]...)
	cmd.Stdin = bytes.NewReader(payload)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("llm: subprocess %q timed out after %s", p.cfg.Command[0], timeout)
		}
		return nil, fmt.Errorf("llm: subprocess %q failed: %w, stderr: %s", p.cfg.Command[0], err, stderr.String())
	}

	var reply subprocessReply
	if err := json.Unmarshal(stdout.Bytes(), &reply); err != nil {
		// Not every CLI emits structured JSON; fall back to treating the
		// entire stdout as the completion text.
		return &Response{Content: stdout.String(), Model: model}, nil
	}

	return &Response{
		Content:          reply.Content,
		Model:            model,
		PromptTokens:     reply.PromptTokens,
		CompletionTokens: reply.CompletionTokens,
		TotalTokens:      reply.PromptTokens + reply.CompletionTokens,
	}, nil
}

// Embed is not supported by subprocess CLI runners in this implementation;
// embedding generation always goes through a local or remote HTTP provider.
func (p *subprocessProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, fmt.Errorf("llm: subprocess provider does not support embeddings")
}
