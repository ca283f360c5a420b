// Package gateway exposes the practice session to browser clients over a
// WebSocket. Text frames carry JSON control messages in both directions;
// binary frames carry raw float32 little-endian microphone samples from the
// client. Model audio travels back to the client as base64 16-bit PCM inside
// JSON, stamped with its playback slot so the client can keep the stream
// gapless.
package gateway

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"math"

	"github.com/polyglotlabs/polyglot/internal/coach"
	"github.com/polyglotlabs/polyglot/internal/history"
	"github.com/polyglotlabs/polyglot/internal/session"
)

// Client message types.
const (
	msgStart         = "start"
	msgStop          = "stop"
	msgImage         = "image"
	msgHistoryList   = "history_list"
	msgHistoryDelete = "history_delete"
	msgHistoryClear  = "history_clear"
	msgEvaluate      = "evaluate"
	msgSummarize     = "summarize"
)

// Server message types.
const (
	msgStatus      = "status"
	msgAudio       = "audio"
	msgStopAudio   = "stop_audio"
	msgTranscript  = "transcript"
	msgSuggestions = "suggestions"
	msgEvaluation  = "evaluation"
	msgSummary     = "summary"
	msgMissions    = "missions"
	msgHistory     = "history"
	msgError       = "error"
)

// clientMessage is the union of all JSON control messages a client may send.
// Type selects the operation; the remaining fields apply per type.
type clientMessage struct {
	Type string `json:"type"`

	// start
	Voice      string `json:"voice,omitempty"`
	Language   string `json:"language,omitempty"`
	Mode       string `json:"mode,omitempty"`
	Situation  string `json:"situation,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"` // mic capture rate in Hz; 0 means 16 kHz

	// image
	MIMEType string `json:"mime_type,omitempty"`
	Data     string `json:"data,omitempty"` // base64

	// history_delete
	ID string `json:"id,omitempty"`
}

// serverMessage is the union of all JSON messages pushed to the client.
type serverMessage struct {
	Type string `json:"type"`

	Status *session.Status `json:"status,omitempty"`

	// audio
	Data     string  `json:"data,omitempty"` // base64 16-bit PCM at 24 kHz
	StartAt  float64 `json:"start_at,omitempty"`
	Duration float64 `json:"duration,omitempty"`

	Entries     []history.Entry   `json:"entries,omitempty"`
	Suggestions []string          `json:"suggestions,omitempty"`
	Evaluation  *coach.Evaluation `json:"evaluation,omitempty"`
	Text        string            `json:"text,omitempty"`
	Missions    []coach.Mission   `json:"missions,omitempty"`
	Sessions    []history.Session `json:"sessions,omitempty"`
	Message     string            `json:"message,omitempty"`
}

// decodeClientMessage parses a text frame into a clientMessage.
func decodeClientMessage(data []byte) (clientMessage, error) {
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return clientMessage{}, err
	}
	if msg.Type == "" {
		return clientMessage{}, errors.New("missing type")
	}
	return msg, nil
}

// samplesFromBinary decodes a binary microphone frame of float32
// little-endian samples. Trailing bytes short of a full sample are dropped.
func samplesFromBinary(data []byte) []float32 {
	n := len(data) / 4
	samples := make([]float32, n)
	for i := range n {
		bits := binary.LittleEndian.Uint32(data[i*4:])
		samples[i] = math.Float32frombits(bits)
	}
	return samples
}
