package transcribe

import (
	"errors"
	"time"
)

// NoiseLevel is the coarse signal-quality indicator attached to a
// transcript by the backend.
type NoiseLevel string

const (
	NoiseLow     NoiseLevel = "low"
	NoiseMedium  NoiseLevel = "medium"
	NoiseHigh    NoiseLevel = "high"
	NoiseUnknown NoiseLevel = "unknown"
)

// NormalizeNoise maps arbitrary backend strings onto the known enum,
// defaulting to unknown.
func NormalizeNoise(raw string) NoiseLevel {
	switch NoiseLevel(raw) {
	case NoiseLow, NoiseMedium, NoiseHigh:
		return NoiseLevel(raw)
	default:
		return NoiseUnknown
	}
}

// Result is a recognized utterance produced by either strategy.
type Result struct {
	Transcript      string
	Confidence      float64
	NoiseLevel      NoiseLevel
	CommandType     string
	HasWakeWord     bool
	VoiceFeedback   string
	ExecutionResult map[string]any
}

// Chunk is one recorded audio segment submitted as a single
// transcription request. It exists only between the end of a recording
// window and the backend's response.
type Chunk struct {
	WAV        []byte
	Duration   time.Duration
	SampleRate int
	Channels   int
}

var (
	// ErrTransport marks an unreachable endpoint or a non-success
	// backend response. Recoverable while continuous listening is on.
	ErrTransport = errors.New("transcription transport failure")

	// ErrEngine marks an in-engine recognition failure other than the
	// benign no-speech condition.
	ErrEngine = errors.New("recognition engine failure")

	// ErrNoSpeech is the benign no-speech condition; callers ignore it.
	ErrNoSpeech = errors.New("no speech detected")
)

// clamp keeps backend confidence inside [0,1].
func clamp(confidence float64) float64 {
	if confidence < 0 {
		return 0
	}
	if confidence > 1 {
		return 1
	}
	return confidence
}
