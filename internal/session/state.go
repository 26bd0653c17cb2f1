package session

import (
	"github.com/murmurlabs/murmur-core/internal/transcribe"
)

// Phase is the single active state of the voice session.
type Phase string

const (
	PhaseIdle                Phase = "idle"
	PhaseListening           Phase = "listening"
	PhaseProcessing          Phase = "processing"
	PhaseConfirmationPending Phase = "confirmation_pending"
	PhaseError               Phase = "error"
)

// FaultKind classifies session failures for recovery policy.
type FaultKind string

const (
	// FaultPermissionDenied: microphone refused; fatal for the current
	// session, resumed only through Retry.
	FaultPermissionDenied FaultKind = "permission_denied"
	// FaultTransport: endpoint unreachable or non-success response;
	// recoverable, auto-retried only while continuous listening is on.
	FaultTransport FaultKind = "transport"
	// FaultEngine: in-engine recognition failure other than no-speech.
	FaultEngine FaultKind = "engine"
	// FaultUnsupported: no viable capture or recognition path.
	FaultUnsupported FaultKind = "unsupported"
)

// Snapshot is the complete session state. Every transition emits a full
// snapshot, never a delta, so observers cannot see a torn state.
type Snapshot struct {
	SessionID        string
	Phase            Phase
	Listening        bool
	Processing       bool
	WakeWordDetected bool
	LastTranscript   string
	LastConfidence   float64
	LastCommandType  string
	NoiseLevel       transcribe.NoiseLevel
	ErrorCount       uint64
	ErrorMessage     string
}

// Command is an accepted result delivered to the command executor.
type Command struct {
	SessionID     string
	Transcript    string
	CommandType   string
	Confidence    float64
	Result        map[string]any
	VoiceFeedback string
}

// TranscriptUpdate surfaces recognized text for display, independent of
// whether it will ever reach the executor.
type TranscriptUpdate struct {
	SessionID            string
	Transcript           string
	Confidence           float64
	NoiseLevel           transcribe.NoiseLevel
	Partial              bool
	RequiresConfirmation bool
}

// Fault is a surfaced session failure.
type Fault struct {
	SessionID string
	Kind      FaultKind
	Message   string
	Transient bool
}

// Callbacks are the host-facing hooks. All fields are optional.
type Callbacks struct {
	OnCommand     func(Command)
	OnTranscript  func(TranscriptUpdate)
	OnStateChange func(Snapshot)
	OnFault       func(Fault)
}

func (c Callbacks) emitState(snap Snapshot) {
	if c.OnStateChange != nil {
		c.OnStateChange(snap)
	}
}

func (c Callbacks) emitTranscript(update TranscriptUpdate) {
	if c.OnTranscript != nil {
		c.OnTranscript(update)
	}
}

func (c Callbacks) emitCommand(cmd Command) {
	if c.OnCommand != nil {
		c.OnCommand(cmd)
	}
}

func (c Callbacks) emitFault(fault Fault) {
	if c.OnFault != nil {
		c.OnFault(fault)
	}
}
