package speech

import (
	"context"
	"log/slog"
	"sync"
)

// SinkFunc receives synthesized PCM chunks, typically a playback pipe
// or a bus publisher for remote speakers.
type SinkFunc func(chunk SynthChunk)

// Speaker provides fire-and-forget audible acknowledgements. Starting
// a new utterance cancels whatever is still being spoken.
type Speaker struct {
	synth Synthesizer
	voice string
	sink  SinkFunc
	log   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSpeaker(synth Synthesizer, voice string, sink SinkFunc, log *slog.Logger) *Speaker {
	return &Speaker{
		synth: synth,
		voice: voice,
		sink:  sink,
		log:   log.With(slog.String("component", "speaker")),
	}
}

// Say speaks the given text without blocking the caller. A nil
// synthesizer makes Say a no-op so callers never need to guard it.
func (s *Speaker) Say(parent context.Context, text string) {
	if s == nil || s.synth == nil || text == "" {
		return
	}

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()

		chunks, errs := s.synth.Synthesize(ctx, SynthRequest{Text: text, Voice: s.voice})
		for {
			select {
			case chunk, ok := <-chunks:
				if !ok {
					chunks = nil
					continue
				}
				if s.sink != nil {
					s.sink(chunk)
				}
			case err, ok := <-errs:
				if ok && err != nil && ctx.Err() == nil {
					s.log.Warn("speech synthesis error", slog.String("error", err.Error()))
				}
				errs = nil
			case <-ctx.Done():
				return
			}
			if chunks == nil && errs == nil {
				return
			}
		}
	}()
}

// Close cancels any in-flight utterance and waits for it to unwind.
func (s *Speaker) Close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}
