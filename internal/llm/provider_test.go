package llm

import "testing"

func TestNewDispatchesByKind(t *testing.T) {
	cases := []struct {
		kind     string
		wantType string
	}{
		{"local", "*llm.localProvider"},
		{"subprocess", "*llm.subprocessProvider"},
	}
	for _, c := range cases {
		t.Run(c.kind, func(t *testing.T) {
			p, err := New(Config{Kind: c.kind, Model: "test-model"})
			if err != nil {
				t.Fatalf("New(%q): %v", c.kind, err)
			}
			if got := typeName(p); got != c.wantType {
				t.Errorf("New(%q) type = %s, want %s", c.kind, got, c.wantType)
			}
		})
	}
}

func TestNewRemoteRequiresBaseURL(t *testing.T) {
	_, err := New(Config{Kind: "remote", Model: "test-model"})
	if err == nil {
		t.Fatal("expected error when remote provider has no base URL")
	}
}

func TestNewRemoteWithBaseURL(t *testing.T) {
	p, err := New(Config{Kind: "remote", Model: "test-model", BaseURL: "https://api.example.com"})
	if err != nil {
		t.Fatalf("New(remote): %v", err)
	}
	if got := typeName(p); got != "*llm.remoteProvider" {
		t.Errorf("type = %s, want *llm.remoteProvider", got)
	}
}

func TestNewUnknownKind(t *testing.T) {
	_, err := New(Config{Kind: "carrier-pigeon"})
	if err == nil {
		t.Fatal("expected error for unknown provider kind")
	}
}

func TestNewEmptyKind(t *testing.T) {
	_, err := New(Config{})
	if err == nil {
		t.Fatal("expected error when Kind is unset")
	}
}

func TestLocalProviderDefaultsBaseURL(t *testing.T) {
	p := NewLocal(Config{Model: "llama3"}).(*localProvider)
	if p.cfg.BaseURL != "http://localhost:11434" {
		t.Errorf("default BaseURL = %q, want http://localhost:11434", p.cfg.BaseURL)
	}
}

func TestLocalProviderPreservesExplicitBaseURL(t *testing.T) {
	p := NewLocal(Config{Model: "llama3", BaseURL: "http://my-host:9999"}).(*localProvider)
	if p.cfg.BaseURL != "http://my-host:9999" {
		t.Errorf("BaseURL = %q, want explicit value preserved", p.cfg.BaseURL)
	}
}

func TestLocalProviderName(t *testing.T) {
	p := NewLocal(Config{Model: "llama3"})
	if p.Name() != "local:llama3" {
		t.Errorf("Name() = %q, want local:llama3", p.Name())
	}
}

func TestSubprocessProviderAvailableRequiresCommand(t *testing.T) {
	p := NewSubprocess(Config{Model: "m"})
	if p.Available(nil) {
		t.Errorf("expected Available() false with no command configured")
	}
	p2 := NewSubprocess(Config{Model: "m", Command: []string{"echo"}})
	if !p2.Available(nil) {
		t.Errorf("expected Available() true once a command is configured")
	}
}

func TestRemoteProviderBuildsFallbackChain(t *testing.T) {
	p, err := New(Config{
		Kind:    "remote",
		Model:   "primary-model",
		BaseURL: "https://api.example.com",
		Fallbacks: []Config{
			{Kind: "local", Model: "fallback-model", BaseURL: "http://localhost:11434"},
		},
	})
	if err != nil {
		t.Fatalf("New(remote): %v", err)
	}
	rp := p.(*remoteProvider)
	if len(rp.fallbacks) != 1 {
		t.Fatalf("expected 1 fallback provider, got %d", len(rp.fallbacks))
	}
}

func TestRemoteProviderPropagatesBadFallbackConfig(t *testing.T) {
	_, err := New(Config{
		Kind:    "remote",
		Model:   "primary-model",
		BaseURL: "https://api.example.com",
		Fallbacks: []Config{
			{Kind: "remote"}, // missing BaseURL, must fail to build
		},
	})
	if err == nil {
		t.Fatal("expected error building a fallback with an invalid config")
	}
}

func typeName(p Provider) string {
	switch p.(type) {
	case *localProvider:
		return "*llm.localProvider"
	case *subprocessProvider:
		return "*llm.subprocessProvider"
	case *remoteProvider:
		return "*llm.remoteProvider"
	default:
		return "unknown"
	}
}
