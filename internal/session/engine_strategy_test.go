package session

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/murmurlabs/murmur-core/internal/transcribe"
)

type fakeEngineSession struct {
	events chan transcribe.Event
}

func (s *fakeEngineSession) Events() <-chan transcribe.Event { return s.events }
func (s *fakeEngineSession) Close() error                    { return nil }

// fakeEngine replays one scripted event batch per Start call and then
// ends the recognition session by closing the event channel.
type fakeEngine struct {
	mu        sync.Mutex
	batches   [][]transcribe.Event
	startErrs []error
	starts    int
}

func (e *fakeEngine) Start(_ context.Context, _ <-chan []byte) (transcribe.EngineSession, error) {
	e.mu.Lock()
	idx := e.starts
	e.starts++
	e.mu.Unlock()

	if idx < len(e.startErrs) && e.startErrs[idx] != nil {
		return nil, e.startErrs[idx]
	}

	var batch []transcribe.Event
	if len(e.batches) > 0 {
		if idx >= len(e.batches) {
			idx = len(e.batches) - 1
		}
		batch = e.batches[idx]
	}

	session := &fakeEngineSession{events: make(chan transcribe.Event, len(batch)+1)}
	for _, event := range batch {
		session.events <- event
	}
	close(session.events)
	return session, nil
}

func (e *fakeEngine) startCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.starts
}

func newEngineController(t *testing.T, continuous bool, recorder *fakeRecorder, engine *fakeEngine, events *callbackRecorder) *Controller {
	t.Helper()
	controller, err := NewController(Options{
		Session:    testSessionConfig(continuous),
		Capture:    testCaptureConfig(),
		Recorder:   recorder,
		Engine:     engine,
		Capability: transcribe.Capability{Available: true, Mode: "mock"},
		Callbacks:  events.callbacks(),
		Logger:     testLogger(),
	})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	if controller.Strategy() != "engine" {
		t.Fatalf("expected engine strategy, got %s", controller.Strategy())
	}
	return controller
}

func TestEngineInterimResultsStayPartial(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{batches: [][]transcribe.Event{{
		{Result: transcribe.Result{Transcript: "create work", Confidence: 0.4}},
		{Result: transcribe.Result{Transcript: "create work order", Confidence: 0.5}},
		{Final: true, Result: transcribe.Result{
			Transcript:  "create work order for pump 3",
			Confidence:  0.91,
			CommandType: "create_work_order",
		}},
	}}}
	events := &callbackRecorder{}
	controller := newEngineController(t, true, newFakeRecorder(), engine, events)

	if err := controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	waitFor(t, "final command", func() bool { return events.commandCount() >= 1 })
	if err := controller.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	events.mu.Lock()
	defer events.mu.Unlock()
	partials := 0
	for _, update := range events.transcripts {
		if update.Partial {
			partials++
			if update.RequiresConfirmation {
				t.Fatalf("partial result reached the confirmation gate: %+v", update)
			}
		}
	}
	if partials < 2 {
		t.Fatalf("expected interim transcripts surfaced as partial, got %d", partials)
	}
	if events.commands[0].Transcript != "create work order for pump 3" {
		t.Fatalf("unexpected command: %+v", events.commands[0])
	}
}

func TestEngineNoSpeechIsNotAFault(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{batches: [][]transcribe.Event{
		{{Err: transcribe.ErrNoSpeech}},
		{{Final: true, Result: transcribe.Result{Transcript: "ok", Confidence: 0.9}}},
	}}
	events := &callbackRecorder{}
	controller := newEngineController(t, true, newFakeRecorder(), engine, events)

	if err := controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	waitFor(t, "command after silent session", func() bool { return events.commandCount() >= 1 })
	if err := controller.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	events.mu.Lock()
	defer events.mu.Unlock()
	if len(events.faults) != 0 {
		t.Fatalf("silence must not be surfaced as a fault: %+v", events.faults)
	}
	if controller.Snapshot().ErrorCount != 0 {
		t.Fatalf("silence bumped the error count to %d", controller.Snapshot().ErrorCount)
	}
}

func TestEngineErrorSurfacedAndLoopContinues(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{batches: [][]transcribe.Event{
		{{Err: fmt.Errorf("%w: decoder crashed", transcribe.ErrEngine)}},
		{{Final: true, Result: transcribe.Result{Transcript: "ok", Confidence: 0.9}}},
	}}
	events := &callbackRecorder{}
	controller := newEngineController(t, true, newFakeRecorder(), engine, events)

	if err := controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	waitFor(t, "recovery after engine fault", func() bool { return events.commandCount() >= 1 })
	if err := controller.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	events.mu.Lock()
	defer events.mu.Unlock()
	if len(events.faults) == 0 || events.faults[0].Kind != FaultEngine {
		t.Fatalf("expected an engine fault, got %+v", events.faults)
	}
	if !events.faults[0].Transient {
		t.Fatal("engine fault in continuous mode must be transient")
	}
}

func TestEngineSessionRestartsWhileContinuous(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{batches: [][]transcribe.Event{{
		{Final: true, Result: transcribe.Result{Transcript: "ok", Confidence: 0.9}},
	}}}
	events := &callbackRecorder{}
	controller := newEngineController(t, true, newFakeRecorder(), engine, events)

	if err := controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	waitFor(t, "engine restarted", func() bool { return engine.startCount() >= 2 })
	if err := controller.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
}

func TestEngineOneShotReconcilesWithoutFinal(t *testing.T) {
	t.Parallel()

	// The engine session ends after only an interim, never a final.
	engine := &fakeEngine{batches: [][]transcribe.Event{{
		{Result: transcribe.Result{Transcript: "half a sen", Confidence: 0.4}},
	}}}
	events := &callbackRecorder{}
	recorder := newFakeRecorder()
	controller := newEngineController(t, false, recorder, engine, events)

	if err := controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	waitFor(t, "session reconciled to idle", func() bool {
		return controller.Snapshot().Phase == PhaseIdle
	})

	snap := controller.Snapshot()
	if snap.Listening {
		t.Fatal("idle session still flagged as listening")
	}
	_, stops, _ := recorder.counts()
	if stops == 0 {
		t.Fatal("session without a final result must still release the microphone")
	}
	if events.commandCount() != 0 {
		t.Fatalf("no command expected without a final result: %d", events.commandCount())
	}
}

func TestEngineOneShotStartFailureReconciles(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{startErrs: []error{fmt.Errorf("%w: model load failed", transcribe.ErrEngine)}}
	events := &callbackRecorder{}
	recorder := newFakeRecorder()
	controller := newEngineController(t, false, recorder, engine, events)

	if err := controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	waitFor(t, "session reconciled to idle", func() bool {
		return controller.Snapshot().Phase == PhaseIdle
	})

	events.mu.Lock()
	if len(events.faults) != 1 || events.faults[0].Kind != FaultEngine {
		t.Fatalf("expected a single engine fault, got %+v", events.faults)
	}
	events.mu.Unlock()

	if controller.Snapshot().ErrorCount != 1 {
		t.Fatalf("expected errorCount 1, got %d", controller.Snapshot().ErrorCount)
	}
	_, stops, _ := recorder.counts()
	if stops == 0 {
		t.Fatal("failed one-shot session must release the microphone")
	}
}

func TestEngineOneShotStopsAfterFinal(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{batches: [][]transcribe.Event{{
		{Final: true, Result: transcribe.Result{Transcript: "ok", Confidence: 0.9}},
	}}}
	events := &callbackRecorder{}
	recorder := newFakeRecorder()
	controller := newEngineController(t, false, recorder, engine, events)

	if err := controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	waitFor(t, "session finished", func() bool {
		return controller.Snapshot().Phase == PhaseIdle && events.commandCount() == 1
	})
	if engine.startCount() != 1 {
		t.Fatalf("one-shot session must not restart the engine, starts=%d", engine.startCount())
	}
	_, stops, _ := recorder.counts()
	if stops == 0 {
		t.Fatal("one-shot session must release the microphone")
	}
}
