package transcribe

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/mattn/go-shellwords"
	"github.com/murmurlabs/murmur-core/internal/config"
)

// Event is one recognition notification from an engine session.
// Interim events carry a live transcript and never trigger dispatch;
// final events are handed to the confirmation gate. Err is set for
// engine failures, including the benign ErrNoSpeech.
type Event struct {
	Final  bool
	Result Result
	Err    error
}

// EngineSession is an active continuous-recognition run. The events
// channel closes when the engine ends the session.
type EngineSession interface {
	Events() <-chan Event
	Close() error
}

// Engine starts continuous recognition sessions fed with raw PCM.
type Engine interface {
	Start(ctx context.Context, audio <-chan []byte) (EngineSession, error)
}

// Capability describes whether an in-engine recognition strategy is
// viable. It is resolved once at session construction so that strategy
// selection is deterministic and mockable.
type Capability struct {
	Available bool
	Mode      string
	Reason    string
}

// DetectCapability probes the configured engine. An unavailable engine
// is not an error: the dispatcher silently downgrades to the server
// strategy.
func DetectCapability(cfg config.TranscriptionConfig) Capability {
	switch cfg.EngineMode {
	case "mock":
		return Capability{Available: true, Mode: "mock"}
	case "exec":
		parser := shellwords.NewParser()
		args, err := parser.Parse(cfg.EngineCommand)
		if err != nil {
			return Capability{Mode: "exec", Reason: fmt.Sprintf("unparseable engine command: %v", err)}
		}
		if len(args) == 0 {
			return Capability{Mode: "exec", Reason: "engine command is empty"}
		}
		if _, err := exec.LookPath(args[0]); err != nil {
			return Capability{Mode: "exec", Reason: fmt.Sprintf("engine binary not found: %v", err)}
		}
		return Capability{Available: true, Mode: "exec"}
	default:
		return Capability{Mode: cfg.EngineMode, Reason: "engine disabled"}
	}
}

// NewEngine constructs the engine for a detected capability.
func NewEngine(capability Capability, cfg config.TranscriptionConfig) (Engine, error) {
	if !capability.Available {
		return nil, fmt.Errorf("engine unavailable: %s", capability.Reason)
	}
	switch capability.Mode {
	case "mock":
		return NewMockEngine(), nil
	case "exec":
		return NewExecEngine(cfg)
	default:
		return nil, fmt.Errorf("unknown engine mode %q", capability.Mode)
	}
}
