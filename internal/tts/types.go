package tts

import "context"

// SynthRequest contains parameters to synthesize speech.
type SynthRequest struct {
	SessionID string
	Text      string
	Voice     string
}

// SynthChunk contains 16-bit little-endian PCM.
type SynthChunk struct {
	SessionID  string
	Sequence   int
	SampleRate int
	Channels   int
	PCM        []byte
	Final      bool
}

// Synthesizer is the contract for producing audio. Implementations close
// both channels when done and stop sending once ctx is cancelled.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error)
}

// Utterance is the complete audio of one Speak call.
type Utterance struct {
	SessionID  string
	Text       string
	SampleRate int
	Channels   int
	PCM        []byte
	Superseded bool
}

// Sink receives audio as it is synthesized.
type Sink interface {
	Chunk(ctx context.Context, chunk SynthChunk) error
	Done(ctx context.Context, u Utterance) error
}
