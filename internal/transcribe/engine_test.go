package transcribe

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/murmurlabs/murmur-core/internal/config"
)

func TestDetectCapabilityDisabled(t *testing.T) {
	t.Parallel()

	capability := DetectCapability(config.TranscriptionConfig{EngineMode: "off"})
	if capability.Available {
		t.Fatal("expected unavailable capability for disabled engine")
	}
}

func TestDetectCapabilityMock(t *testing.T) {
	t.Parallel()

	capability := DetectCapability(config.TranscriptionConfig{EngineMode: "mock"})
	if !capability.Available || capability.Mode != "mock" {
		t.Fatalf("unexpected capability: %+v", capability)
	}
}

func TestDetectCapabilityExecMissingBinary(t *testing.T) {
	t.Parallel()

	capability := DetectCapability(config.TranscriptionConfig{
		EngineMode:    "exec",
		EngineCommand: "definitely-not-a-real-recognizer-binary",
	})
	if capability.Available {
		t.Fatal("expected unavailable capability for missing binary")
	}
	if capability.Reason == "" {
		t.Fatal("expected an explanatory reason")
	}
}

func TestDetectCapabilityExecPresent(t *testing.T) {
	t.Parallel()

	script := writeEngineScript(t, "#!/usr/bin/env bash\ncat > /dev/null\n")
	capability := DetectCapability(config.TranscriptionConfig{
		EngineMode:    "exec",
		EngineCommand: script,
	})
	if !capability.Available {
		t.Fatalf("expected available capability, got reason %q", capability.Reason)
	}
}

func TestExecEngineEmitsEvents(t *testing.T) {
	t.Parallel()

	script := writeEngineScript(t, `#!/usr/bin/env bash
cat > /dev/null
echo '{"type":"interim","transcript":"create","confidence":0.4}'
echo '{"type":"no_speech"}'
echo '{"type":"final","transcript":"create work order","confidence":0.85,"noise_level":"low"}'
`)

	engine, err := NewExecEngine(config.TranscriptionConfig{
		EngineCommand: script,
		SampleRate:    16000,
		Language:      "en-US",
	})
	if err != nil {
		t.Fatalf("new exec engine: %v", err)
	}

	audio := make(chan []byte)
	close(audio)

	session, err := engine.Start(context.Background(), audio)
	if err != nil {
		t.Fatalf("start engine: %v", err)
	}
	defer session.Close()

	var events []Event
	timeout := time.After(3 * time.Second)
drain:
	for {
		select {
		case event, ok := <-session.Events():
			if !ok {
				break drain
			}
			events = append(events, event)
		case <-timeout:
			t.Fatal("timed out waiting for engine events")
		}
	}

	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d: %+v", len(events), events)
	}
	if events[0].Final || events[0].Result.Transcript != "create" {
		t.Fatalf("unexpected interim event: %+v", events[0])
	}
	if !errors.Is(events[1].Err, ErrNoSpeech) {
		t.Fatalf("expected benign no-speech event, got %+v", events[1])
	}
	if !events[2].Final || events[2].Result.Confidence != 0.85 {
		t.Fatalf("unexpected final event: %+v", events[2])
	}
}

func TestDecodeExecEventError(t *testing.T) {
	t.Parallel()

	event := decodeExecEvent(execEvent{Type: "error", Error: "bad model"})
	if !errors.Is(event.Err, ErrEngine) {
		t.Fatalf("expected ErrEngine, got %v", event.Err)
	}

	event = decodeExecEvent(execEvent{Type: "final", Confidence: -0.5})
	if event.Result.Confidence != 0 {
		t.Fatalf("expected clamped confidence 0, got %v", event.Result.Confidence)
	}
}

func TestMockEngineEmitsFinalAfterEnoughAudio(t *testing.T) {
	t.Parallel()

	engine := NewMockEngine()
	audio := make(chan []byte, 8)
	session, err := engine.Start(context.Background(), audio)
	if err != nil {
		t.Fatalf("start mock engine: %v", err)
	}
	defer session.Close()

	for i := 0; i < 4; i++ {
		audio <- make([]byte, 16*1024)
	}

	select {
	case event := <-session.Events():
		if !event.Final {
			t.Fatalf("expected final event, got %+v", event)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for mock final event")
	}
}

func writeEngineScript(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engine.sh")
	if err := os.WriteFile(path, []byte(contents), 0o700); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return path
}
