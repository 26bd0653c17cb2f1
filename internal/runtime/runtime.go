package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/murmurlabs/murmur-core/internal/bus"
	"github.com/murmurlabs/murmur-core/internal/capture"
	"github.com/murmurlabs/murmur-core/internal/config"
	"github.com/murmurlabs/murmur-core/internal/eventlog"
	"github.com/murmurlabs/murmur-core/internal/natsserver"
	"github.com/murmurlabs/murmur-core/internal/protocol"
	"github.com/murmurlabs/murmur-core/internal/session"
	"github.com/murmurlabs/murmur-core/internal/speech"
	"github.com/murmurlabs/murmur-core/internal/transcribe"
)

// Runtime wires the voice pipeline together: capture, dispatch, session
// state, speech, event log, and the observation surfaces around them.
type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup

	busClient *bus.Client
	embedded  *natsserver.EmbeddedServer
	events    *eventlog.Store
	speaker   *speech.Speaker
	session   *session.Controller
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings every component up and blocks until ctx is cancelled,
// then shuts the pipeline down in reverse order.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	if r.cfg.Bus.Enabled {
		embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
		if err != nil {
			return fmt.Errorf("start embedded bus: %w", err)
		}
		r.embedded = embedded

		client, err := bus.Connect(r.cfg.Bus, r.logger)
		if err != nil {
			r.embedded.Shutdown()
			return fmt.Errorf("connect to bus: %w", err)
		}
		r.busClient = client
	}

	events, err := eventlog.Open(ctx, r.cfg.EventLog, r.logger)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	r.events = events

	controller, err := r.buildSession()
	if err != nil {
		return fmt.Errorf("build voice session: %w", err)
	}
	r.session = controller

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricHandler != nil {
		mux.Handle("/metrics", metricHandler)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	if r.cfg.Session.AutoStart {
		if err := r.session.Start(ctx); err != nil {
			r.logger.Error("auto-start failed, session held in error state",
				slog.String("error", err.Error()))
		}
	}

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("strategy", r.session.Strategy()))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if err := r.session.Close(); err != nil {
		r.logger.Error("session shutdown error", slog.String("error", err.Error()))
	}
	if r.speaker != nil {
		r.speaker.Close()
	}
	r.busClient.Close()
	r.embedded.Shutdown()
	if err := r.events.Close(); err != nil {
		r.logger.Error("event log close error", slog.String("error", err.Error()))
	}

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

// Session exposes the voice session controller for embedding hosts.
func (r *Runtime) Session() *session.Controller {
	return r.session
}

// buildSession assembles capture, transcription, and speech into the
// session controller, with callbacks mirrored onto the bus and into the
// event log.
func (r *Runtime) buildSession() (*session.Controller, error) {
	device := capture.NewFFmpegDevice()
	captureCfg := capture.Config{
		Command:     r.cfg.Capture.Command,
		InputFormat: r.cfg.Capture.InputFormat,
		InputDevice: r.cfg.Capture.InputDevice,
		SampleRate:  r.cfg.Capture.SampleRate,
		Channels:    r.cfg.Capture.Channels,
	}
	levelEvery := time.Duration(r.cfg.Capture.LevelEveryMS) * time.Millisecond
	recorder := capture.NewController(device, captureCfg, levelEvery, r.onLevel, r.logger)

	client := transcribe.NewClient(r.cfg.Transcription, r.logger)

	capability := transcribe.DetectCapability(r.cfg.Transcription)
	var engine transcribe.Engine
	if capability.Available {
		built, err := transcribe.NewEngine(capability, r.cfg.Transcription)
		if err != nil {
			return nil, err
		}
		engine = built
	} else if r.cfg.Transcription.EngineMode != "" && r.cfg.Transcription.EngineMode != "off" {
		r.logger.Warn("recognition engine unavailable, using server strategy",
			slog.String("reason", capability.Reason))
	}

	speaker, err := r.buildSpeaker()
	if err != nil {
		return nil, err
	}
	r.speaker = speaker

	opts := session.Options{
		Session:    r.cfg.Session,
		Capture:    r.cfg.Capture,
		UseServer:  r.cfg.Transcription.UseServer,
		Recorder:   recorder,
		Client:     client,
		Engine:     engine,
		Capability: capability,
		Callbacks:  r.sessionCallbacks(),
		Logger:     r.logger,
	}
	if speaker != nil {
		opts.Speaker = speaker
	}
	return session.NewController(opts)
}

func (r *Runtime) buildSpeaker() (*speech.Speaker, error) {
	if !r.cfg.TTS.Enabled {
		return nil, nil
	}

	var (
		synth speech.Synthesizer
		err   error
	)
	switch r.cfg.TTS.Mode {
	case "exec":
		synth, err = speech.NewExecSynth(r.cfg.TTS.Command, r.cfg.TTS.SampleRate, r.cfg.TTS.Channels)
		if err != nil {
			return nil, fmt.Errorf("build tts synthesizer: %w", err)
		}
	default:
		synth = speech.NewMockSynth(r.cfg.TTS.SampleRate, r.cfg.TTS.Channels)
	}

	sink := func(chunk speech.SynthChunk) {
		r.busClient.PublishJSON(protocol.SubjectSpeech, protocol.Speech{
			Sequence:   chunk.Sequence,
			SampleRate: chunk.SampleRate,
			Channels:   chunk.Channels,
			Audio:      chunk.PCM,
			Final:      chunk.Final,
		})
	}
	return speech.NewSpeaker(synth, r.cfg.TTS.Voice, sink, r.logger), nil
}

// sessionCallbacks mirrors session events onto the bus for UI consumers
// and appends lifecycle metadata to the event log.
func (r *Runtime) sessionCallbacks() session.Callbacks {
	log := r.logger.With(slog.String("component", "voice"))
	var lastSession atomic.Value
	lastSession.Store("")

	return session.Callbacks{
		OnStateChange: func(snap session.Snapshot) {
			log.Info("session state",
				slog.String("session_id", snap.SessionID),
				slog.String("phase", string(snap.Phase)),
				slog.Uint64("error_count", snap.ErrorCount))

			r.busClient.PublishJSON(protocol.SubjectState, protocol.StateSnapshot{
				SessionID:        snap.SessionID,
				Phase:            string(snap.Phase),
				Listening:        snap.Listening,
				Processing:       snap.Processing,
				WakeWordDetected: snap.WakeWordDetected,
				LastTranscript:   snap.LastTranscript,
				LastConfidence:   snap.LastConfidence,
				LastCommandType:  snap.LastCommandType,
				NoiseLevel:       string(snap.NoiseLevel),
				ErrorCount:       snap.ErrorCount,
				ErrorMessage:     snap.ErrorMessage,
				Timestamp:        time.Now().UTC(),
			})

			ctx := context.Background()
			if snap.SessionID != "" && lastSession.Load().(string) != snap.SessionID {
				lastSession.Store(snap.SessionID)
				if err := r.events.AppendSession(ctx, snap.SessionID, r.session.Strategy()); err != nil {
					log.Warn("record session", slog.String("error", err.Error()))
				}
			}
			if snap.SessionID != "" {
				if err := r.events.AppendEvent(ctx, eventlog.Event{
					SessionID: snap.SessionID,
					Type:      eventlog.TypeStateChange,
					Detail:    string(snap.Phase),
				}); err != nil {
					log.Warn("record state change", slog.String("error", err.Error()))
				}
			}
		},
		OnTranscript: func(update session.TranscriptUpdate) {
			subject := protocol.SubjectTranscriptFinal
			if update.Partial {
				subject = protocol.SubjectTranscriptPartial
			}
			r.busClient.PublishJSON(subject, protocol.Transcript{
				SessionID:  update.SessionID,
				Text:       update.Transcript,
				Partial:    update.Partial,
				Confidence: update.Confidence,
				NoiseLevel: string(update.NoiseLevel),
				Timestamp:  time.Now().UTC(),
			})
		},
		OnCommand: func(cmd session.Command) {
			log.Info("command dispatched",
				slog.String("session_id", cmd.SessionID),
				slog.String("command_type", cmd.CommandType),
				slog.Float64("confidence", cmd.Confidence))

			r.busClient.PublishJSON(protocol.SubjectCommand, protocol.Command{
				SessionID:   cmd.SessionID,
				Transcript:  cmd.Transcript,
				CommandType: cmd.CommandType,
				Confidence:  cmd.Confidence,
				Result:      cmd.Result,
				Timestamp:   time.Now().UTC(),
			})

			if err := r.events.AppendEvent(context.Background(), eventlog.Event{
				SessionID:  cmd.SessionID,
				Type:       eventlog.TypeCommand,
				Detail:     cmd.CommandType,
				Confidence: cmd.Confidence,
			}); err != nil {
				log.Warn("record command", slog.String("error", err.Error()))
			}
		},
		OnFault: func(fault session.Fault) {
			if err := r.events.AppendEvent(context.Background(), eventlog.Event{
				SessionID: fault.SessionID,
				Type:      eventlog.TypeFault,
				Detail:    string(fault.Kind),
			}); err != nil {
				log.Warn("record fault", slog.String("error", err.Error()))
			}
		},
	}
}

func (r *Runtime) onLevel(rms, peak float64) {
	if r.busClient == nil {
		return
	}
	var sessionID string
	if r.session != nil {
		sessionID = r.session.Snapshot().SessionID
	}
	r.busClient.PublishJSON(protocol.SubjectLevel, protocol.Level{
		SessionID: sessionID,
		RMS:       rms,
		Peak:      peak,
	})
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if r.cfg.Bus.Enabled && !r.busClient.Healthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("bus disconnected"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
