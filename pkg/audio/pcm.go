// Package audio implements the PCM codec and playback scheduling used by the
// Polyglot voice pipeline.
//
// Microphone input travels as 32-bit float samples, is quantised to 16-bit
// signed little-endian PCM and base64-wrapped for the live transport. Model
// output arrives as base64 PCM at a higher sample rate and is scheduled for
// gapless playback by [Queue].
package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

const (
	// InputSampleRate is the capture-side sample rate expected by the live model.
	InputSampleRate = 16000

	// OutputSampleRate is the sample rate of synthesised model audio.
	OutputSampleRate = 24000

	// InputMIMEType is the codec descriptor attached to outbound media chunks.
	InputMIMEType = "audio/pcm;rate=16000"
)

// DecodeError reports a malformed inbound audio payload. A chunk that fails
// to decode is dropped; it never terminates the session.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("audio: decode: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("audio: decode: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// EncodePCM16 quantises float samples in [-1, 1] to 16-bit signed
// little-endian PCM. Out-of-range values are clamped and NaN maps to
// silence; the function never fails.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := float64(s)
		if math.IsNaN(v) {
			v = 0
		} else if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(math.Round(v*32767))))
	}
	return out
}

// DecodeBase64PCM16 decodes a base64 payload into raw PCM bytes. It returns
// a [*DecodeError] when the payload is not valid base64 or when the decoded
// byte count is odd (a truncated int16 frame).
func DecodeBase64PCM16(s string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, &DecodeError{Reason: "invalid base64", Err: err}
	}
	if len(data)%2 != 0 {
		return nil, &DecodeError{Reason: fmt.Sprintf("odd byte count %d in PCM data", len(data))}
	}
	return data, nil
}

// ResampleFloat32 resamples mono float samples from srcRate to dstRate using
// linear interpolation. If the rates match (or either is non-positive) the
// input is returned unchanged. The gateway uses it to bring microphone
// frames captured at a browser-chosen rate down to [InputSampleRate].
func ResampleFloat32(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) < 2 {
		return samples
	}
	dstLen := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}

	out := make([]float32, dstLen)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range out {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := samples[srcIdx]
		s1 := s0
		if srcIdx+1 < len(samples) {
			s1 = samples[srcIdx+1]
		}
		out[i] = float32(float64(s0)*(1-frac) + float64(s1)*frac)
	}
	return out
}

// Buffer is a decoded, playable chunk of PCM audio bound to a fixed sample
// rate and channel count.
type Buffer struct {
	// Data is little-endian int16 PCM, interleaved when Channels > 1.
	Data []byte

	// SampleRate in Hz.
	SampleRate int

	// Channels is 1 for mono model audio.
	Channels int
}

// NewBuffer validates pcm and wraps it in a Buffer. It returns a
// [*DecodeError] when the byte count does not describe a whole number of
// frames or when rate/channels are non-positive.
func NewBuffer(pcm []byte, sampleRate, channels int) (Buffer, error) {
	if sampleRate <= 0 || channels <= 0 {
		return Buffer{}, &DecodeError{Reason: fmt.Sprintf("invalid format %dHz/%dch", sampleRate, channels)}
	}
	if len(pcm)%(2*channels) != 0 {
		return Buffer{}, &DecodeError{Reason: fmt.Sprintf("%d bytes is not a whole number of %d-channel frames", len(pcm), channels)}
	}
	return Buffer{Data: pcm, SampleRate: sampleRate, Channels: channels}, nil
}

// Frames returns the number of sample frames in the buffer.
func (b Buffer) Frames() int {
	if b.Channels == 0 {
		return 0
	}
	return len(b.Data) / (2 * b.Channels)
}

// Duration returns the playback length of the buffer.
func (b Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(b.Frames()) / float64(b.SampleRate) * float64(time.Second))
}

// Seconds returns the playback length in seconds, the unit used by the
// playback queue's play-head.
func (b Buffer) Seconds() float64 {
	if b.SampleRate <= 0 {
		return 0
	}
	return float64(b.Frames()) / float64(b.SampleRate)
}
