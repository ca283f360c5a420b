package coach

import (
	"strings"
	"sync"
	"unicode"

	"github.com/antzucaro/matchr"
)

// Mission is one practice objective tracked during a session.
type Mission struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Done  bool   `json:"done"`

	// phrases are the target utterances whose appearance in the user's
	// transcript marks the mission complete.
	phrases []string
}

// jwThreshold is the Jaro-Winkler similarity above which a token counts as a
// phrase match.
const jwThreshold = 0.88

// levGuardLen is the token length at or below which an additional Levenshtein
// check is applied; short tokens score deceptively high on Jaro-Winkler.
const levGuardLen = 4

// MissionTracker marks practice objectives complete as user transcript lines
// are committed.
//
// Methods are safe for concurrent use.
type MissionTracker struct {
	mu       sync.Mutex
	missions []Mission
}

// NewMissionTracker builds the mission set for the given practice settings.
func NewMissionTracker(settings Settings) *MissionTracker {
	return &MissionTracker{missions: missionsFor(settings)}
}

// missionsFor returns the fixed objective set per practice mode.
func missionsFor(settings Settings) []Mission {
	missions := []Mission{
		{
			ID:      "greet",
			Label:   "Open with a greeting",
			phrases: []string{"hello", "hi", "good morning", "good afternoon", "hola", "buenos dias", "bonjour", "guten tag", "ciao", "konnichiwa"},
		},
		{
			ID:      "question",
			Label:   "Ask a question",
			phrases: nil, // detected structurally, see Observe
		},
		{
			ID:      "farewell",
			Label:   "Say goodbye",
			phrases: []string{"goodbye", "bye", "see you", "adios", "hasta luego", "au revoir", "auf wiedersehen", "arrivederci", "sayonara"},
		},
	}

	if settings.Mode == "business" {
		missions = append(missions,
			Mission{
				ID:      "introduce",
				Label:   "Introduce yourself professionally",
				phrases: []string{"my name is", "i work", "i am responsible", "me llamo", "trabajo en"},
			},
			Mission{
				ID:      "schedule",
				Label:   "Propose a time or next step",
				phrases: []string{"schedule", "meeting", "next week", "follow up", "tomorrow", "monday"},
			},
		)
	}
	return missions
}

// Observe feeds one committed user transcript line into the tracker and
// returns true if any mission newly completed.
func (t *MissionTracker) Observe(userText string) bool {
	tokens := tokenize(userText)
	lower := strings.ToLower(userText)

	t.mu.Lock()
	defer t.mu.Unlock()

	changed := false
	for i := range t.missions {
		m := &t.missions[i]
		if m.Done {
			continue
		}

		if m.ID == "question" {
			if strings.ContainsAny(userText, "?¿") {
				m.Done = true
				changed = true
			}
			continue
		}

		if matchesAnyPhrase(lower, tokens, m.phrases) {
			m.Done = true
			changed = true
		}
	}
	return changed
}

// Missions returns a snapshot of the current objective states.
func (t *MissionTracker) Missions() []Mission {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Mission, len(t.missions))
	copy(out, t.missions)
	return out
}

// matchesAnyPhrase reports whether any target phrase appears in the user's
// line, either as a fuzzy substring (multi-word phrases) or as a fuzzy token
// match (single words).
func matchesAnyPhrase(lowerLine string, tokens []string, phrases []string) bool {
	for _, phrase := range phrases {
		if strings.Contains(lowerLine, phrase) {
			return true
		}
		if strings.ContainsRune(phrase, ' ') {
			continue // multi-word phrases match by substring only
		}
		for _, tok := range tokens {
			if fuzzyTokenMatch(tok, phrase) {
				return true
			}
		}
	}
	return false
}

// fuzzyTokenMatch compares two single tokens. Short tokens additionally
// require a Levenshtein distance of at most 1.
func fuzzyTokenMatch(a, b string) bool {
	if matchr.JaroWinkler(a, b, false) < jwThreshold {
		return false
	}
	if len(a) <= levGuardLen || len(b) <= levGuardLen {
		return matchr.Levenshtein(a, b) <= 1
	}
	return true
}

// tokenize lowercases and splits a line into word tokens, dropping
// punctuation.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
