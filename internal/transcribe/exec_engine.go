package transcribe

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/mattn/go-shellwords"
	"github.com/murmurlabs/murmur-core/internal/config"
)

// execEngine runs an external recognizer process: PCM on stdin, one
// JSON event per stdout line.
type execEngine struct {
	cmd []string
	cfg config.TranscriptionConfig
}

type execEvent struct {
	Type       string  `json:"type"` // interim, final, no_speech, error
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
	NoiseLevel string  `json:"noise_level"`
	Error      string  `json:"error"`
}

func NewExecEngine(cfg config.TranscriptionConfig) (Engine, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.EngineCommand)
	if err != nil {
		return nil, fmt.Errorf("parse engine command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("engine command is empty")
	}
	return &execEngine{cmd: args, cfg: cfg}, nil
}

func (e *execEngine) Start(ctx context.Context, audio <-chan []byte) (EngineSession, error) {
	runCtx, cancel := context.WithCancel(ctx)

	args := append([]string{}, e.cmd[1:]...)
	args = append(args, "--sample-rate", fmt.Sprintf("%d", e.cfg.SampleRate))
	if e.cfg.Language != "" {
		args = append(args, "--language", e.cfg.Language)
	}
	cmd := exec.CommandContext(runCtx, e.cmd[0], args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("engine stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("engine stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start engine: %w", err)
	}

	events := make(chan Event, 16)
	session := &execEngineSession{events: events, cancel: cancel}

	go func() {
		defer stdin.Close()
		for {
			select {
			case pcm, ok := <-audio:
				if !ok {
					return
				}
				if _, err := stdin.Write(pcm); err != nil {
					return
				}
			case <-runCtx.Done():
				return
			}
		}
	}()

	go func() {
		defer close(events)
		defer cmd.Wait()

		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var raw execEvent
			if err := json.Unmarshal(line, &raw); err != nil {
				events <- Event{Err: fmt.Errorf("%w: malformed engine event: %w", ErrEngine, err)}
				continue
			}
			events <- decodeExecEvent(raw)
		}
		if err := scanner.Err(); err != nil && runCtx.Err() == nil {
			events <- Event{Err: fmt.Errorf("%w: %w", ErrEngine, err)}
		}
	}()

	return session, nil
}

func decodeExecEvent(raw execEvent) Event {
	switch raw.Type {
	case "no_speech":
		return Event{Err: ErrNoSpeech}
	case "error":
		detail := raw.Error
		if detail == "" {
			detail = "engine reported failure"
		}
		return Event{Err: fmt.Errorf("%w: %s", ErrEngine, detail)}
	case "final":
		return Event{
			Final: true,
			Result: Result{
				Transcript: raw.Transcript,
				Confidence: clamp(raw.Confidence),
				NoiseLevel: NormalizeNoise(raw.NoiseLevel),
			},
		}
	default:
		return Event{
			Result: Result{
				Transcript: raw.Transcript,
				Confidence: clamp(raw.Confidence),
				NoiseLevel: NormalizeNoise(raw.NoiseLevel),
			},
		}
	}
}

type execEngineSession struct {
	events chan Event
	cancel context.CancelFunc
}

func (s *execEngineSession) Events() <-chan Event { return s.events }

func (s *execEngineSession) Close() error {
	s.cancel()
	return nil
}
