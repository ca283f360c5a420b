package coach

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/polyglotlabs/polyglot/internal/history"
	llmmock "github.com/polyglotlabs/polyglot/pkg/provider/llm/mock"
)

func testEntries() []history.Entry {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return []history.Entry{
		{Speaker: "user", Text: "Hola, ¿cómo estás?", Timestamp: base},
		{Speaker: "model", Text: "¡Muy bien, gracias! ¿Y tú?", Timestamp: base.Add(time.Millisecond)},
	}
}

func TestSuggestions_ParsesPipeSeparated(t *testing.T) {
	t.Parallel()

	provider := llmmock.New()
	provider.QueueResponse("¿Qué haces hoy? | Me gusta la música. | Cuéntame de ti. | extra one")

	c := New(provider, Settings{Language: "Spanish", Mode: "free"}, nil)
	got, err := c.Suggestions(context.Background(), testEntries())
	if err != nil {
		t.Fatalf("Suggestions: %v", err)
	}
	want := []string{"¿Qué haces hoy?", "Me gusta la música.", "Cuéntame de ti."}
	if len(got) != len(want) {
		t.Fatalf("got %d suggestions, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("suggestion %d = %q; want %q", i, got[i], want[i])
		}
	}
}

func TestSuggestions_EmptyHistoryRequestsStarters(t *testing.T) {
	t.Parallel()

	provider := llmmock.New()
	provider.QueueResponse("Hola | Buenos días | ¿Qué tal?")

	c := New(provider, Settings{Language: "Spanish", Mode: "free"}, nil)
	if _, err := c.Suggestions(context.Background(), nil); err != nil {
		t.Fatalf("Suggestions: %v", err)
	}

	reqs := provider.Requests()
	if len(reqs) != 1 {
		t.Fatalf("got %d requests, want 1", len(reqs))
	}
	if !strings.Contains(reqs[0].Messages[0].Content, "starting") {
		t.Errorf("empty-history prompt should request opening lines: %q", reqs[0].Messages[0].Content)
	}
}

func TestSuggestions_DisabledReturnsSentinel(t *testing.T) {
	t.Parallel()

	provider := llmmock.New()
	c := New(provider, Settings{Language: "Spanish", SuggestionsDisabled: true}, nil)

	_, err := c.Suggestions(context.Background(), testEntries())
	if !errors.Is(err, ErrSuggestionsDisabled) {
		t.Fatalf("Suggestions error = %v, want ErrSuggestionsDisabled", err)
	}
	if len(provider.Requests()) != 0 {
		t.Errorf("provider received %d requests, want 0", len(provider.Requests()))
	}
}

func TestSuggestions_CountCapsOutput(t *testing.T) {
	t.Parallel()

	provider := llmmock.New()
	provider.QueueResponse("uno | dos | tres | cuatro")

	c := New(provider, Settings{Language: "Spanish", SuggestionCount: 2}, nil)
	got, err := c.Suggestions(context.Background(), testEntries())
	if err != nil {
		t.Fatalf("Suggestions: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d suggestions, want 2: %v", len(got), got)
	}
}

func TestSuggestions_UnparsableFallsBack(t *testing.T) {
	t.Parallel()

	provider := llmmock.New()
	provider.QueueResponse("   ")

	c := New(provider, Settings{Language: "Spanish"}, nil)
	got, err := c.Suggestions(context.Background(), testEntries())
	if err != nil {
		t.Fatalf("Suggestions: %v", err)
	}
	if len(got) != 3 || got[0] != "Hello!" {
		t.Errorf("fallback = %v; want default suggestions", got)
	}
}

func TestSuggestions_RateLimitLatches(t *testing.T) {
	t.Parallel()

	provider := llmmock.New()
	provider.QueueError(errors.New("googleapi: Error 429: RESOURCE_EXHAUSTED"))
	provider.QueueResponse("should | never | run")

	c := New(provider, Settings{Language: "Spanish"}, nil)

	if _, err := c.Suggestions(context.Background(), testEntries()); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("first call error = %v; want ErrRateLimited", err)
	}
	if !c.RateLimited() {
		t.Error("RateLimited() should be true after a 429")
	}

	// The latch suppresses the backend entirely on later calls.
	if _, err := c.Suggestions(context.Background(), testEntries()); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("second call error = %v; want ErrRateLimited", err)
	}
	if got := len(provider.Requests()); got != 1 {
		t.Errorf("backend received %d requests, want 1", got)
	}
}

func TestSuggestions_OtherErrorsDoNotLatch(t *testing.T) {
	t.Parallel()

	provider := llmmock.New()
	provider.QueueError(errors.New("connection refused"))
	provider.QueueResponse("a | b | c")

	c := New(provider, Settings{Language: "Spanish"}, nil)

	if _, err := c.Suggestions(context.Background(), testEntries()); err == nil {
		t.Fatal("expected error")
	}
	if c.RateLimited() {
		t.Error("transient failure should not latch the rate-limit flag")
	}
	if _, err := c.Suggestions(context.Background(), testEntries()); err != nil {
		t.Fatalf("retry after transient failure: %v", err)
	}
}

func TestEvaluate_ParsesJSON(t *testing.T) {
	t.Parallel()

	provider := llmmock.New()
	provider.QueueResponse("```json\n" + `{
		"grammarScore": 82,
		"vocabularyScore": 74,
		"naturalnessScore": 90,
		"overallGrade": "B+",
		"strengths": ["good greetings"],
		"weaknesses": ["verb conjugation"],
		"suggestedImprovement": "Practice past tense."
	}` + "\n```")

	c := New(provider, Settings{Language: "Spanish"}, nil)
	eval, err := c.Evaluate(context.Background(), testEntries())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if eval.GrammarScore != 82 || eval.OverallGrade != "B+" {
		t.Errorf("eval = %+v", eval)
	}
	if len(eval.Strengths) != 1 || eval.Strengths[0] != "good greetings" {
		t.Errorf("strengths = %v", eval.Strengths)
	}
}

func TestEvaluate_BadJSONErrors(t *testing.T) {
	t.Parallel()

	provider := llmmock.New()
	provider.QueueResponse("I think you did great!")

	c := New(provider, Settings{Language: "Spanish"}, nil)
	if _, err := c.Evaluate(context.Background(), testEntries()); err == nil {
		t.Fatal("expected parse error for non-JSON response")
	}
}

func TestEvaluate_EmptyTranscriptErrors(t *testing.T) {
	t.Parallel()

	c := New(llmmock.New(), Settings{Language: "Spanish"}, nil)
	if _, err := c.Evaluate(context.Background(), nil); err == nil {
		t.Fatal("expected error for empty transcript")
	}
}

func TestSummarize_ReturnsTrimmedText(t *testing.T) {
	t.Parallel()

	provider := llmmock.New()
	provider.QueueResponse("\n  You practiced greetings and small talk. ¡Buen trabajo!  \n")

	c := New(provider, Settings{Language: "Spanish"}, nil)
	got, err := c.Summarize(context.Background(), testEntries())
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if got != "You practiced greetings and small talk. ¡Buen trabajo!" {
		t.Errorf("summary = %q", got)
	}
}

func TestPromptIncludesBusinessSituation(t *testing.T) {
	t.Parallel()

	provider := llmmock.New()
	provider.QueueResponse("a | b | c")

	c := New(provider, Settings{Language: "German", Mode: "business", Situation: "job interview"}, nil)
	if _, err := c.Suggestions(context.Background(), testEntries()); err != nil {
		t.Fatalf("Suggestions: %v", err)
	}

	prompt := provider.Requests()[0].Messages[0].Content
	if !strings.Contains(prompt, "job interview") {
		t.Errorf("prompt should mention the business situation: %q", prompt)
	}
}
