package transcribe

import (
	"context"
	"fmt"
)

// mockEngine emits a synthetic final transcript once enough audio has
// been fed, mirroring what a local recognizer would do. Useful for
// development without a real engine binary.
type mockEngine struct{}

func NewMockEngine() Engine {
	return &mockEngine{}
}

func (m *mockEngine) Start(ctx context.Context, audio <-chan []byte) (EngineSession, error) {
	runCtx, cancel := context.WithCancel(ctx)
	events := make(chan Event, 4)

	go func() {
		defer close(events)
		var received int
		for {
			select {
			case pcm, ok := <-audio:
				if !ok {
					return
				}
				received += len(pcm)
				if received >= 32*1024 {
					events <- Event{
						Final: true,
						Result: Result{
							Transcript: fmt.Sprintf("[mock transcript bytes=%d]", received),
							Confidence: 0.3,
							NoiseLevel: NoiseUnknown,
						},
					}
					received = 0
				}
			case <-runCtx.Done():
				return
			}
		}
	}()

	return &mockEngineSession{events: events, cancel: cancel}, nil
}

type mockEngineSession struct {
	events chan Event
	cancel context.CancelFunc
}

func (s *mockEngineSession) Events() <-chan Event { return s.events }

func (s *mockEngineSession) Close() error {
	s.cancel()
	return nil
}
