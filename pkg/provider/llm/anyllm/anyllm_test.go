package anyllm

import (
	"strings"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/polyglotlabs/polyglot/pkg/provider/llm"
)

// ── New ───────────────────────────────────────────────────────────────────────

// TestNew_EmptyProviderName checks that a missing provider name is rejected.
func TestNew_EmptyProviderName(t *testing.T) {
	t.Parallel()
	if _, err := New("", "gemini-2.5-flash"); err == nil {
		t.Fatal("expected error for empty provider name")
	}
}

// TestNew_EmptyModel checks that a missing model is rejected.
func TestNew_EmptyModel(t *testing.T) {
	t.Parallel()
	if _, err := New("gemini", ""); err == nil {
		t.Fatal("expected error for empty model")
	}
}

// TestNew_UnsupportedProvider checks the error for an unknown backend name.
func TestNew_UnsupportedProvider(t *testing.T) {
	t.Parallel()
	_, err := New("bedrock", "some-model")
	if err == nil {
		t.Fatal("expected error for unsupported provider")
	}
	if !strings.Contains(err.Error(), `"bedrock"`) {
		t.Errorf("error %q does not name the unsupported provider", err)
	}
}

// TestNew_ProviderNameCaseInsensitive checks that backend names are lowercased.
func TestNew_ProviderNameCaseInsensitive(t *testing.T) {
	t.Parallel()
	p, err := New("Ollama", "llama3", anyllmlib.WithBaseURL("http://localhost:11434"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p == nil {
		t.Fatal("New returned nil provider")
	}
}

// ── buildParams ───────────────────────────────────────────────────────────────

// TestBuildParams_SystemPromptFirst checks the system prompt becomes the
// leading system message.
func TestBuildParams_SystemPromptFirst(t *testing.T) {
	t.Parallel()
	p := &Provider{model: "gemini-2.5-flash"}

	params := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "You are a Spanish conversation coach.",
		Messages: []llm.Message{
			{Role: "user", Content: "Hola"},
		},
	})

	if len(params.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(params.Messages))
	}
	if params.Messages[0].Role != anyllmlib.RoleSystem {
		t.Errorf("first role = %q, want system", params.Messages[0].Role)
	}
	if params.Messages[0].Content != "You are a Spanish conversation coach." {
		t.Errorf("system content = %q", params.Messages[0].Content)
	}
	if params.Messages[1].Role != "user" || params.Messages[1].Content != "Hola" {
		t.Errorf("unexpected user message %+v", params.Messages[1])
	}
}

// TestBuildParams_NoSystemPrompt checks no empty system message is added.
func TestBuildParams_NoSystemPrompt(t *testing.T) {
	t.Parallel()
	p := &Provider{model: "gemini-2.5-flash"}

	params := p.buildParams(llm.CompletionRequest{
		Messages: []llm.Message{{Role: "user", Content: "Hola"}},
	})
	if len(params.Messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(params.Messages))
	}
	if params.Messages[0].Role != "user" {
		t.Errorf("role = %q, want user", params.Messages[0].Role)
	}
}

// TestBuildParams_ModelAndTuning checks model name, temperature and token cap.
func TestBuildParams_ModelAndTuning(t *testing.T) {
	t.Parallel()
	p := &Provider{model: "gemini-2.5-flash"}

	params := p.buildParams(llm.CompletionRequest{
		Messages:    []llm.Message{{Role: "user", Content: "Hola"}},
		Temperature: 0.7,
		MaxTokens:   512,
	})

	if params.Model != "gemini-2.5-flash" {
		t.Errorf("model = %q", params.Model)
	}
	if params.Temperature == nil || *params.Temperature != 0.7 {
		t.Errorf("temperature = %v, want 0.7", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 512 {
		t.Errorf("max tokens = %v, want 512", params.MaxTokens)
	}
}

// TestBuildParams_ZeroTuningOmitted checks zero temperature and token cap stay unset.
func TestBuildParams_ZeroTuningOmitted(t *testing.T) {
	t.Parallel()
	p := &Provider{model: "gemini-2.5-flash"}

	params := p.buildParams(llm.CompletionRequest{
		Messages: []llm.Message{{Role: "user", Content: "Hola"}},
	})
	if params.Temperature != nil {
		t.Errorf("temperature = %v, want nil", *params.Temperature)
	}
	if params.MaxTokens != nil {
		t.Errorf("max tokens = %v, want nil", *params.MaxTokens)
	}
}

// ── modelCapabilities ─────────────────────────────────────────────────────────

// TestModelCapabilities_Gemini25Pro checks the large Gemini Pro window.
func TestModelCapabilities_Gemini25Pro(t *testing.T) {
	t.Parallel()
	caps := modelCapabilities("gemini-2.5-pro")
	if caps.ContextWindow != 1_048_576 {
		t.Errorf("context window = %d, want 1048576", caps.ContextWindow)
	}
	if caps.MaxOutputTokens != 65_536 {
		t.Errorf("max output tokens = %d, want 65536", caps.MaxOutputTokens)
	}
	if !caps.SupportsVision {
		t.Error("expected SupportsVision=true")
	}
}

// TestModelCapabilities_Gemini25Flash checks the flash tier.
func TestModelCapabilities_Gemini25Flash(t *testing.T) {
	t.Parallel()
	caps := modelCapabilities("gemini-2.5-flash")
	if caps.ContextWindow != 1_048_576 {
		t.Errorf("context window = %d, want 1048576", caps.ContextWindow)
	}
	if caps.MaxOutputTokens != 8_192 {
		t.Errorf("max output tokens = %d, want 8192", caps.MaxOutputTokens)
	}
}

// TestModelCapabilities_Claude checks Anthropic models.
func TestModelCapabilities_Claude(t *testing.T) {
	t.Parallel()
	caps := modelCapabilities("claude-3-5-sonnet-latest")
	if caps.ContextWindow != 200_000 {
		t.Errorf("context window = %d, want 200000", caps.ContextWindow)
	}
	if !caps.SupportsVision {
		t.Error("expected SupportsVision=true")
	}
}

// TestModelCapabilities_GPT4o checks OpenAI gpt-4o models.
func TestModelCapabilities_GPT4o(t *testing.T) {
	t.Parallel()
	caps := modelCapabilities("gpt-4o-mini")
	if caps.MaxOutputTokens != 16_384 {
		t.Errorf("max output tokens = %d, want 16384", caps.MaxOutputTokens)
	}
	if !caps.SupportsVision {
		t.Error("expected SupportsVision=true")
	}
}

// TestModelCapabilities_UnknownModel checks the defaults.
func TestModelCapabilities_UnknownModel(t *testing.T) {
	t.Parallel()
	caps := modelCapabilities("some-local-model")
	if caps.ContextWindow != 128_000 {
		t.Errorf("context window = %d, want 128000", caps.ContextWindow)
	}
	if caps.MaxOutputTokens != 4_096 {
		t.Errorf("max output tokens = %d, want 4096", caps.MaxOutputTokens)
	}
	if caps.SupportsVision {
		t.Error("expected SupportsVision=false for unknown models")
	}
}
