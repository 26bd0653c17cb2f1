package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/murmurlabs/murmur-core/internal/capture"
	"github.com/murmurlabs/murmur-core/internal/config"
	"github.com/murmurlabs/murmur-core/internal/transcribe"
)

// Recorder is the capture surface the session consumes. Satisfied by
// *capture.Controller; narrowed to an interface so tests can inject a
// deterministic fake.
type Recorder interface {
	Start(ctx context.Context) error
	Stop() error
	Record(ctx context.Context, window time.Duration) ([]byte, error)
	Stream(buffer int) (<-chan []byte, func(), error)
}

// Transcriber is the server strategy surface, satisfied by
// *transcribe.Client.
type Transcriber interface {
	Transcribe(ctx context.Context, chunk transcribe.Chunk) (transcribe.Result, error)
}

// Announcer speaks audible acknowledgements, satisfied by
// *speech.Speaker. A nil Announcer disables speech.
type Announcer interface {
	Say(ctx context.Context, text string)
}

// Controller drives the capture/dispatch lifecycle and owns the session
// state machine. Exactly one phase is active at any time and every
// transition emits a full state snapshot.
type Controller struct {
	cfg        config.SessionConfig
	audio      config.CaptureConfig
	recorder   Recorder
	client     Transcriber
	engine     transcribe.Engine
	capability transcribe.Capability
	useServer  bool
	speaker    Announcer
	callbacks  Callbacks
	gate       Gate
	log        *slog.Logger

	chunksDispatched metric.Int64Counter
	faultsTotal      metric.Int64Counter
	confidenceHist   metric.Float64Histogram

	mu          sync.Mutex
	snap        Snapshot
	generation  uint64
	cancel      context.CancelFunc
	pending     *transcribe.Result
	pendingDone chan struct{}
	wg          sync.WaitGroup
}

// Options bundles the collaborators of a session controller.
type Options struct {
	Session    config.SessionConfig
	Capture    config.CaptureConfig
	UseServer  bool
	Recorder   Recorder
	Client     Transcriber
	Engine     transcribe.Engine
	Capability transcribe.Capability
	Speaker    Announcer
	Callbacks  Callbacks
	Logger     *slog.Logger
}

func NewController(opts Options) (*Controller, error) {
	if opts.Recorder == nil {
		return nil, errors.New("session controller requires a recorder")
	}
	if opts.Logger == nil {
		return nil, errors.New("session controller requires a logger")
	}

	useServer := opts.UseServer || !opts.Capability.Available || opts.Engine == nil
	if useServer && opts.Client == nil {
		// Neither strategy is viable.
		return nil, fmt.Errorf("%w: no transcription strategy available", ErrUnsupported)
	}

	meter := otel.Meter("github.com/murmurlabs/murmur-core/internal/session")
	chunks, err := meter.Int64Counter("voice.chunks.dispatched",
		metric.WithDescription("Audio chunks submitted for transcription"))
	if err != nil {
		return nil, err
	}
	faults, err := meter.Int64Counter("voice.session.faults",
		metric.WithDescription("Session faults by kind"))
	if err != nil {
		return nil, err
	}
	confidence, err := meter.Float64Histogram("voice.transcript.confidence",
		metric.WithDescription("Confidence of final transcripts"))
	if err != nil {
		return nil, err
	}

	c := &Controller{
		cfg:              opts.Session,
		audio:            opts.Capture,
		recorder:         opts.Recorder,
		client:           opts.Client,
		engine:           opts.Engine,
		capability:       opts.Capability,
		useServer:        useServer,
		speaker:          opts.Speaker,
		callbacks:        opts.Callbacks,
		gate:             NewGate(opts.Session.AutoAcceptConfidence, opts.Session.ConfirmConfidence),
		log:              opts.Logger.With(slog.String("component", "session")),
		chunksDispatched: chunks,
		faultsTotal:      faults,
		confidenceHist:   confidence,
	}
	c.snap = Snapshot{Phase: PhaseIdle, NoiseLevel: transcribe.NoiseUnknown}
	return c, nil
}

// ErrUnsupported marks an environment with no viable strategy.
var ErrUnsupported = errors.New("unsupported environment")

// Strategy reports which dispatch strategy the controller selected.
func (c *Controller) Strategy() string {
	if c.useServer {
		return "server"
	}
	return "engine"
}

// Start acquires the microphone and begins listening. Starting an
// already-running session is a no-op.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	switch c.snap.Phase {
	case PhaseListening, PhaseProcessing, PhaseConfirmationPending:
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	if err := c.recorder.Start(runCtx); err != nil {
		cancel()
		kind := FaultUnsupported
		if errors.Is(err, capture.ErrPermissionDenied) {
			kind = FaultPermissionDenied
		}
		c.enterError(kind, err)
		return err
	}

	c.mu.Lock()
	c.generation++
	gen := c.generation
	c.cancel = cancel
	c.snap.SessionID = uuid.NewString()
	c.snap.Phase = PhaseListening
	c.snap.Listening = true
	c.snap.Processing = false
	c.snap.ErrorMessage = ""
	snap := c.snap
	c.mu.Unlock()

	c.callbacks.emitState(snap)
	c.say(runCtx, "Listening")
	c.log.Info("session started",
		slog.String("session_id", snap.SessionID),
		slog.String("strategy", c.Strategy()))

	c.wg.Add(1)
	if c.useServer {
		go c.serverLoop(runCtx, gen)
	} else {
		go c.engineLoop(runCtx, gen)
	}
	return nil
}

// Stop forces the session back to Idle from any phase: it invalidates
// in-flight work, stops the recorder, and releases the microphone.
// Responses that arrive afterwards are dropped. Idempotent.
func (c *Controller) Stop() error {
	c.mu.Lock()
	c.generation++
	cancel := c.cancel
	c.cancel = nil
	pendingDone := c.pendingDone
	c.pending = nil
	c.pendingDone = nil
	wasIdle := c.snap.Phase == PhaseIdle
	c.snap.Phase = PhaseIdle
	c.snap.Listening = false
	c.snap.Processing = false
	snap := c.snap
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if pendingDone != nil {
		close(pendingDone)
	}
	err := c.recorder.Stop()
	c.wg.Wait()

	if !wasIdle {
		c.callbacks.emitState(snap)
		c.log.Info("session stopped", slog.String("session_id", snap.SessionID))
	}
	return err
}

// Close tears the session down. Alias of Stop for lifecycle symmetry
// with the rest of the runtime services.
func (c *Controller) Close() error {
	return c.Stop()
}

// Retry re-enters Start after a fatal error.
func (c *Controller) Retry(ctx context.Context) error {
	c.mu.Lock()
	if c.snap.Phase != PhaseError {
		c.mu.Unlock()
		return fmt.Errorf("retry only valid in error state, current phase %s", c.snap.Phase)
	}
	c.snap.Phase = PhaseIdle
	c.mu.Unlock()
	return c.Start(ctx)
}

// Confirm executes the result held in ConfirmationPending.
func (c *Controller) Confirm() error {
	c.mu.Lock()
	if c.snap.Phase != PhaseConfirmationPending || c.pending == nil {
		c.mu.Unlock()
		return errors.New("no confirmation pending")
	}
	result := *c.pending
	pendingDone := c.pendingDone
	c.pending = nil
	c.pendingDone = nil
	c.snap.Phase = c.resumePhaseLocked()
	snap := c.snap
	c.mu.Unlock()

	c.callbacks.emitCommand(Command{
		SessionID:     snap.SessionID,
		Transcript:    result.Transcript,
		CommandType:   result.CommandType,
		Confidence:    result.Confidence,
		Result:        result.ExecutionResult,
		VoiceFeedback: result.VoiceFeedback,
	})
	c.callbacks.emitState(snap)
	if pendingDone != nil {
		close(pendingDone)
	}
	return nil
}

// Cancel discards the result held in ConfirmationPending.
func (c *Controller) Cancel() error {
	c.mu.Lock()
	if c.snap.Phase != PhaseConfirmationPending || c.pending == nil {
		c.mu.Unlock()
		return errors.New("no confirmation pending")
	}
	pendingDone := c.pendingDone
	c.pending = nil
	c.pendingDone = nil
	c.snap.Phase = c.resumePhaseLocked()
	snap := c.snap
	c.mu.Unlock()

	c.callbacks.emitState(snap)
	if pendingDone != nil {
		close(pendingDone)
	}
	return nil
}

// Snapshot returns a copy of the current session state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

// resumePhaseLocked picks the phase after a dispatch resolves.
func (c *Controller) resumePhaseLocked() Phase {
	c.snap.Processing = false
	if c.cfg.Continuous && c.cancel != nil {
		c.snap.Listening = true
		return PhaseListening
	}
	c.snap.Listening = false
	return PhaseIdle
}

func (c *Controller) serverLoop(ctx context.Context, gen uint64) {
	defer c.wg.Done()

	window := time.Duration(c.cfg.ChunkWindowMS) * time.Millisecond
	pause := time.Duration(c.cfg.RestartDelayMS) * time.Millisecond

	for {
		if ctx.Err() != nil {
			return
		}

		pcm, err := c.recorder.Record(ctx, window)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, capture.ErrCaptureClosed) {
				return
			}
			c.enterError(FaultUnsupported, fmt.Errorf("capture failed: %w", err))
			return
		}

		// Chunk captured: the recorder has fully stopped before the
		// upload begins, so a second recording can never overlap.
		if !c.transition(gen, PhaseProcessing) {
			return
		}

		result, err := c.dispatchChunk(ctx, pcm)
		if ctx.Err() != nil {
			return
		}

		if err != nil {
			c.recordFault(gen, FaultTransport, err)
			if !c.cfg.Continuous {
				c.finishOneShot(gen)
				return
			}
		} else {
			wait := c.handleResult(gen, result)
			if wait != nil {
				select {
				case <-wait:
				case <-ctx.Done():
					return
				}
			}
			if !c.cfg.Continuous {
				c.finishOneShot(gen)
				return
			}
		}

		if !c.transition(gen, PhaseListening) {
			return
		}

		// The next chunk starts only after the previous outcome has
		// been fully processed, plus the configured breather.
		select {
		case <-time.After(pause):
		case <-ctx.Done():
			return
		}
	}
}

func (c *Controller) dispatchChunk(ctx context.Context, pcm []byte) (transcribe.Result, error) {
	c.chunksDispatched.Add(ctx, 1, metric.WithAttributes(attribute.String("strategy", "server")))

	wav, err := transcribe.EncodeWAV(pcm, c.audio.SampleRate, c.audio.Channels)
	if err != nil {
		return transcribe.Result{}, fmt.Errorf("%w: %w", transcribe.ErrTransport, err)
	}
	chunk := transcribe.Chunk{
		WAV:        wav,
		Duration:   time.Duration(c.cfg.ChunkWindowMS) * time.Millisecond,
		SampleRate: c.audio.SampleRate,
		Channels:   c.audio.Channels,
	}
	return c.client.Transcribe(ctx, chunk)
}

func (c *Controller) engineLoop(ctx context.Context, gen uint64) {
	defer c.wg.Done()

	pause := time.Duration(c.cfg.RestartDelayMS) * time.Millisecond

	for {
		if ctx.Err() != nil {
			return
		}

		stream, release, err := c.recorder.Stream(64)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, capture.ErrCaptureClosed) {
				c.enterError(FaultUnsupported, fmt.Errorf("capture stream failed: %w", err))
			}
			return
		}

		engineSession, err := c.engine.Start(ctx, stream)
		if err != nil {
			release()
			c.recordFault(gen, FaultEngine, err)
			if ctx.Err() != nil {
				return
			}
			if !c.cfg.Continuous {
				c.finishOneShot(gen)
				return
			}
			select {
			case <-time.After(pause):
				continue
			case <-ctx.Done():
				return
			}
		}

		c.chunksDispatched.Add(ctx, 1, metric.WithAttributes(attribute.String("strategy", "engine")))
		c.consumeEngineEvents(ctx, gen, engineSession)
		engineSession.Close()
		release()

		if ctx.Err() != nil {
			return
		}
		if !c.cfg.Continuous {
			// A session that ended without a final event still has to
			// reconcile; after a final this is a generation-guarded no-op.
			c.finishOneShot(gen)
			return
		}

		// The engine ended its session; restart on a fixed back-off so
		// a flapping engine cannot spin the loop.
		select {
		case <-time.After(pause):
		case <-ctx.Done():
			return
		}
	}
}

func (c *Controller) consumeEngineEvents(ctx context.Context, gen uint64, engineSession transcribe.EngineSession) {
	for {
		select {
		case event, ok := <-engineSession.Events():
			if !ok {
				return
			}
			if event.Err != nil {
				if errors.Is(event.Err, transcribe.ErrNoSpeech) {
					continue
				}
				c.recordFault(gen, FaultEngine, event.Err)
				continue
			}
			if !event.Final {
				c.interim(gen, event.Result)
				continue
			}
			if !c.transition(gen, PhaseProcessing) {
				return
			}
			wait := c.handleResult(gen, event.Result)
			if wait != nil {
				select {
				case <-wait:
				case <-ctx.Done():
					return
				}
			}
			if !c.cfg.Continuous {
				c.finishOneShot(gen)
				return
			}
			if !c.transition(gen, PhaseListening) {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// interim updates the live transcript display without ever reaching the
// confirmation gate.
func (c *Controller) interim(gen uint64, result transcribe.Result) {
	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		return
	}
	c.snap.LastTranscript = result.Transcript
	sessionID := c.snap.SessionID
	c.mu.Unlock()

	c.callbacks.emitTranscript(TranscriptUpdate{
		SessionID:  sessionID,
		Transcript: result.Transcript,
		Confidence: result.Confidence,
		NoiseLevel: result.NoiseLevel,
		Partial:    true,
	})
}

// handleResult runs one final result through the confirmation gate. If
// the result lands in ConfirmationPending the returned channel closes
// when the user resolves it; otherwise the return is nil.
func (c *Controller) handleResult(gen uint64, result transcribe.Result) <-chan struct{} {
	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		return nil
	}

	c.snap.LastTranscript = result.Transcript
	c.snap.LastConfidence = result.Confidence
	c.snap.LastCommandType = result.CommandType
	c.snap.NoiseLevel = result.NoiseLevel
	c.snap.WakeWordDetected = result.HasWakeWord

	decision := c.gate.Decide(result.Confidence)
	sessionID := c.snap.SessionID

	var wait chan struct{}
	switch decision {
	case DecisionConfirm:
		held := result
		c.pending = &held
		wait = make(chan struct{})
		c.pendingDone = wait
		c.snap.Phase = PhaseConfirmationPending
	default:
		c.snap.Phase = c.resumePhaseLocked()
	}
	snap := c.snap
	c.mu.Unlock()

	c.confidenceHist.Record(context.Background(), result.Confidence)

	update := TranscriptUpdate{
		SessionID:            sessionID,
		Transcript:           result.Transcript,
		Confidence:           result.Confidence,
		NoiseLevel:           result.NoiseLevel,
		RequiresConfirmation: decision == DecisionConfirm,
	}
	c.callbacks.emitTranscript(update)

	switch decision {
	case DecisionAccept:
		c.callbacks.emitCommand(Command{
			SessionID:     sessionID,
			Transcript:    result.Transcript,
			CommandType:   result.CommandType,
			Confidence:    result.Confidence,
			Result:        result.ExecutionResult,
			VoiceFeedback: result.VoiceFeedback,
		})
		if result.VoiceFeedback != "" {
			c.say(context.Background(), result.VoiceFeedback)
		}
	case DecisionConfirm:
		c.say(context.Background(), fmt.Sprintf("Did you say: %s?", result.Transcript))
	}

	c.callbacks.emitState(snap)
	return wait
}

// transition moves to the target phase if the generation still matches.
func (c *Controller) transition(gen uint64, phase Phase) bool {
	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		return false
	}
	if c.snap.Phase == phase {
		c.mu.Unlock()
		return true
	}
	c.snap.Phase = phase
	c.snap.Listening = phase == PhaseListening
	c.snap.Processing = phase == PhaseProcessing || phase == PhaseConfirmationPending
	snap := c.snap
	c.mu.Unlock()

	c.callbacks.emitState(snap)
	return true
}

// recordFault surfaces a transient failure, bumps the error counter,
// and leaves the loop free to continue if still in continuous mode.
func (c *Controller) recordFault(gen uint64, kind FaultKind, err error) {
	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		return
	}
	c.snap.ErrorCount++
	c.snap.ErrorMessage = err.Error()
	sessionID := c.snap.SessionID
	snap := c.snap
	c.mu.Unlock()

	c.faultsTotal.Add(context.Background(), 1, metric.WithAttributes(attribute.String("kind", string(kind))))
	c.log.Warn("dispatch failed",
		slog.String("session_id", sessionID),
		slog.String("kind", string(kind)),
		slog.String("error", err.Error()))

	c.callbacks.emitFault(Fault{SessionID: sessionID, Kind: kind, Message: err.Error(), Transient: true})
	c.callbacks.emitState(snap)
}

// enterError is the terminal failure path: the session halts and waits
// for an explicit Retry.
func (c *Controller) enterError(kind FaultKind, err error) {
	c.mu.Lock()
	c.generation++
	cancel := c.cancel
	c.cancel = nil
	pendingDone := c.pendingDone
	c.pending = nil
	c.pendingDone = nil
	c.snap.Phase = PhaseError
	c.snap.Listening = false
	c.snap.Processing = false
	c.snap.ErrorMessage = err.Error()
	sessionID := c.snap.SessionID
	snap := c.snap
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if pendingDone != nil {
		close(pendingDone)
	}
	_ = c.recorder.Stop()

	c.faultsTotal.Add(context.Background(), 1, metric.WithAttributes(attribute.String("kind", string(kind))))
	c.log.Error("session entered error state",
		slog.String("session_id", sessionID),
		slog.String("kind", string(kind)),
		slog.String("error", err.Error()))

	c.callbacks.emitFault(Fault{SessionID: sessionID, Kind: kind, Message: err.Error()})
	c.callbacks.emitState(snap)
}

// finishOneShot completes a non-continuous session.
func (c *Controller) finishOneShot(gen uint64) {
	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		return
	}
	c.generation++
	cancel := c.cancel
	c.cancel = nil
	wasIdle := c.snap.Phase == PhaseIdle
	c.snap.Phase = PhaseIdle
	c.snap.Listening = false
	c.snap.Processing = false
	snap := c.snap
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	_ = c.recorder.Stop()
	if !wasIdle {
		c.callbacks.emitState(snap)
	}
}

func (c *Controller) say(ctx context.Context, text string) {
	if c.speaker != nil {
		c.speaker.Say(ctx, text)
	}
}
