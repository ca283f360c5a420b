// Package coach generates the text-side study aids around a live practice
// session: reply suggestions, linguistic evaluations, session summaries and
// practice missions.
//
// Everything here runs over an llm.Provider, off the live audio path. A
// failed or slow coach call never affects the conversation itself.
package coach

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/polyglotlabs/polyglot/internal/history"
	"github.com/polyglotlabs/polyglot/pkg/provider/llm"
)

// Settings are the practice parameters a session runs with.
type Settings struct {
	// Language is the language being practiced, e.g. "Spanish".
	Language string

	// Mode is the practice mode: "free" or "business".
	Mode string

	// Situation narrows business mode to a scenario, e.g. "job interview".
	Situation string

	// SuggestionCount is how many reply options a suggestion call produces.
	// Zero means the default of 3.
	SuggestionCount int

	// SuggestionsDisabled turns off suggestion generation entirely while
	// leaving evaluation and summaries available.
	SuggestionsDisabled bool
}

// Evaluation is a linguistic diagnostic of the user's side of a session.
type Evaluation struct {
	GrammarScore         int      `json:"grammarScore"`
	VocabularyScore      int      `json:"vocabularyScore"`
	NaturalnessScore     int      `json:"naturalnessScore"`
	OverallGrade         string   `json:"overallGrade"`
	Strengths            []string `json:"strengths"`
	Weaknesses           []string `json:"weaknesses"`
	SuggestedImprovement string   `json:"suggestedImprovement"`
}

// ErrRateLimited is returned by Suggestions once the backend has signalled
// quota exhaustion; further suggestion calls are suppressed for the lifetime
// of the Coach.
var ErrRateLimited = errors.New("coach: suggestion generation rate limited")

// ErrSuggestionsDisabled is returned by Suggestions when the session runs
// with suggestions turned off.
var ErrSuggestionsDisabled = errors.New("coach: suggestions disabled")

// defaultSuggestions is served when the model's output cannot be parsed.
var defaultSuggestions = []string{"Hello!", "How are you?", "Let's start."}

// defaultSuggestionCount is how many reply options a single call produces
// unless Settings override it.
const defaultSuggestionCount = 3

// historyWindow bounds how much transcript feeds a suggestion prompt.
const historyWindow = 4

// Coach generates study aids for one practice session.
//
// A Coach is bound to a session's Settings. Methods are safe for concurrent
// use.
type Coach struct {
	provider llm.Provider
	settings Settings
	log      *slog.Logger

	// rateLimited latches once the backend reports quota exhaustion.
	rateLimited atomic.Bool
}

// New creates a Coach over the given provider and practice settings.
func New(provider llm.Provider, settings Settings, log *slog.Logger) *Coach {
	if log == nil {
		log = slog.Default()
	}
	return &Coach{provider: provider, settings: settings, log: log}
}

// Suggestions produces up to three things the user could say next. With an
// empty transcript it produces conversation starters instead.
//
// A rate-limit response ("429" or "RESOURCE_EXHAUSTED") latches a sticky flag
// and all further calls return [ErrRateLimited] immediately.
func (c *Coach) Suggestions(ctx context.Context, entries []history.Entry) ([]string, error) {
	if c.settings.SuggestionsDisabled {
		return nil, ErrSuggestionsDisabled
	}
	if c.rateLimited.Load() {
		return nil, ErrRateLimited
	}

	count := c.suggestionCount()
	var prompt strings.Builder
	if len(entries) == 0 {
		fmt.Fprintf(&prompt,
			"The user is starting a %s conversation practice session%s. "+
				"Suggest %d short, natural opening lines they could say in %s.",
			c.settings.Language, c.situationClause(), count, c.settings.Language)
	} else {
		fmt.Fprintf(&prompt,
			"This is a %s conversation practice session%s. Recent transcript:\n\n%s\n\n"+
				"Suggest %d short, natural things the user could say next in %s.",
			c.settings.Language, c.situationClause(),
			renderTranscript(tail(entries, historyWindow)),
			count, c.settings.Language)
	}
	prompt.WriteString(" Respond with ONLY the suggestions separated by | (pipe), no numbering.")

	resp, err := c.provider.Complete(ctx, llm.CompletionRequest{
		Messages:    []llm.Message{{Role: "user", Content: prompt.String()}},
		Temperature: 0.9,
		MaxTokens:   200,
	})
	if err != nil {
		if isRateLimit(err) {
			c.rateLimited.Store(true)
			c.log.Warn("suggestion backend rate limited; suppressing further calls")
			return nil, ErrRateLimited
		}
		return nil, fmt.Errorf("coach: suggestions: %w", err)
	}

	suggestions := parseSuggestions(resp.Content, count)
	if len(suggestions) == 0 {
		return defaultSuggestions, nil
	}
	return suggestions, nil
}

func (c *Coach) suggestionCount() int {
	if c.settings.SuggestionCount > 0 {
		return c.settings.SuggestionCount
	}
	return defaultSuggestionCount
}

// Evaluate produces a linguistic diagnostic of the user's lines.
func (c *Coach) Evaluate(ctx context.Context, entries []history.Entry) (*Evaluation, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("coach: evaluate: empty transcript")
	}

	prompt := fmt.Sprintf(
		"You are a %s language examiner. Evaluate the USER lines of this practice "+
			"conversation%s.\n\nTranscript:\n%s\n\n"+
			"Respond with ONLY a JSON object with these fields: "+
			`{"grammarScore": 0-100, "vocabularyScore": 0-100, "naturalnessScore": 0-100, `+
			`"overallGrade": "A+".."F", "strengths": [..], "weaknesses": [..], `+
			`"suggestedImprovement": "one concrete tip"}`,
		c.settings.Language, c.situationClause(), renderTranscript(entries))

	resp, err := c.provider.Complete(ctx, llm.CompletionRequest{
		Messages:    []llm.Message{{Role: "user", Content: prompt}},
		Temperature: 0.2,
		MaxTokens:   600,
	})
	if err != nil {
		return nil, fmt.Errorf("coach: evaluate: %w", err)
	}

	var eval Evaluation
	if err := json.Unmarshal([]byte(stripCodeFence(resp.Content)), &eval); err != nil {
		return nil, fmt.Errorf("coach: evaluate: parse response: %w", err)
	}
	return &eval, nil
}

// Summarize produces a short study-session report covering what was
// discussed, vocabulary worth reviewing, and encouragement.
func (c *Coach) Summarize(ctx context.Context, entries []history.Entry) (string, error) {
	if len(entries) == 0 {
		return "", fmt.Errorf("coach: summarize: empty transcript")
	}

	prompt := fmt.Sprintf(
		"Summarise this %s practice conversation%s for the learner: what was "+
			"discussed, notable vocabulary and phrases worth reviewing, and one "+
			"sentence of encouragement. Keep it under 150 words.\n\nTranscript:\n%s",
		c.settings.Language, c.situationClause(), renderTranscript(entries))

	resp, err := c.provider.Complete(ctx, llm.CompletionRequest{
		Messages:    []llm.Message{{Role: "user", Content: prompt}},
		Temperature: 0.5,
		MaxTokens:   400,
	})
	if err != nil {
		return "", fmt.Errorf("coach: summarize: %w", err)
	}
	return strings.TrimSpace(resp.Content), nil
}

// RateLimited reports whether the sticky rate-limit flag has latched.
func (c *Coach) RateLimited() bool {
	return c.rateLimited.Load()
}

func (c *Coach) situationClause() string {
	if c.settings.Mode == "business" && c.settings.Situation != "" {
		return fmt.Sprintf(" in a business setting (%s)", c.settings.Situation)
	}
	return ""
}

// parseSuggestions splits pipe-separated model output into at most max
// trimmed, non-empty entries.
func parseSuggestions(raw string, max int) []string {
	var out []string
	for _, s := range strings.Split(raw, "|") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out = append(out, s)
		if len(out) == max {
			break
		}
	}
	return out
}

// renderTranscript formats entries as "User:"/"Partner:" lines.
func renderTranscript(entries []history.Entry) string {
	var b strings.Builder
	for _, e := range entries {
		label := "Partner"
		if e.Speaker == "user" {
			label = "User"
		}
		fmt.Fprintf(&b, "%s: %s\n", label, e.Text)
	}
	return b.String()
}

func tail(entries []history.Entry, n int) []history.Entry {
	if len(entries) <= n {
		return entries
	}
	return entries[len(entries)-n:]
}

// isRateLimit recognises quota-exhaustion errors across backends.
func isRateLimit(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "429") || strings.Contains(msg, "RESOURCE_EXHAUSTED")
}

// stripCodeFence unwraps a ```json ... ``` block if the model added one.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
