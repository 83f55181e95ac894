package voice

import (
	"context"
	"errors"

	"github.com/LEO0072003/VoiceAI/internal/protocol"
)

var ErrNotConnected = errors.New("transcriber not connected")

// Transcriber streams one utterance of PCM16 audio to a speech-to-text
// backend. A Transcriber is used for a single utterance and then closed.
type Transcriber interface {
	Connect(ctx context.Context) error
	Connected() bool
	SendAudio(ctx context.Context, pcm []byte) error
	// Finish flushes buffered audio and waits for trailing final results.
	Finish(ctx context.Context) error
	Transcript() string
	Close() error
}

type TranscriberFactory interface {
	NewTranscriber(sessionID string) Transcriber
}

// Speech is synthesized PCM16 mono audio with a matching viseme track.
type Speech struct {
	Audio      []byte
	SampleRate int
	DurationMS int
	Visemes    []protocol.Viseme
}

type Synthesizer interface {
	Name() string
	Synthesize(ctx context.Context, text string) (Speech, error)
}
