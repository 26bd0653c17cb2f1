package protocol

import "time"

// StateSnapshot mirrors the session state published on every transition.
type StateSnapshot struct {
	SessionID        string    `json:"session_id"`
	Phase            string    `json:"phase"`
	Listening        bool      `json:"listening"`
	Processing       bool      `json:"processing"`
	WakeWordDetected bool      `json:"wake_word_detected"`
	LastTranscript   string    `json:"last_transcript"`
	LastConfidence   float64   `json:"last_confidence"`
	LastCommandType  string    `json:"last_command_type,omitempty"`
	NoiseLevel       string    `json:"noise_level"`
	ErrorCount       uint64    `json:"error_count"`
	ErrorMessage     string    `json:"error_message,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// Transcript is a recognized utterance broadcast for display consumers.
type Transcript struct {
	SessionID  string    `json:"session_id"`
	Text       string    `json:"text"`
	Partial    bool      `json:"partial"`
	Confidence float64   `json:"confidence,omitempty"`
	NoiseLevel string    `json:"noise_level,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Command carries an accepted execution result to downstream consumers.
type Command struct {
	SessionID   string         `json:"session_id"`
	Transcript  string         `json:"transcript"`
	CommandType string         `json:"command_type,omitempty"`
	Confidence  float64        `json:"confidence"`
	Result      map[string]any `json:"result,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// Level is an amplitude sample for waveform consumers.
type Level struct {
	SessionID string  `json:"session_id"`
	RMS       float64 `json:"rms"`
	Peak      float64 `json:"peak"`
}

// Speech is a synthesized audio chunk for playback consumers. Audio is
// raw little-endian PCM, base64 on the wire.
type Speech struct {
	Sequence   int    `json:"sequence"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Audio      []byte `json:"audio"`
	Final      bool   `json:"final"`
}

const (
	SubjectState             = "voice.state"
	SubjectTranscriptPartial = "voice.transcript.partial"
	SubjectTranscriptFinal   = "voice.transcript.final"
	SubjectCommand           = "voice.command"
	SubjectLevel             = "voice.level"
	SubjectSpeech            = "voice.speech"
)
