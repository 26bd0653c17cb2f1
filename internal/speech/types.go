package speech

import "context"

// SynthRequest contains parameters to synthesize an utterance.
type SynthRequest struct {
	Text  string
	Voice string
}

// SynthChunk contains synthesized PCM.
type SynthChunk struct {
	Sequence   int
	SampleRate int
	Channels   int
	PCM        []byte
	Final      bool
}

// Synthesizer is the contract for producing audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error)
}
