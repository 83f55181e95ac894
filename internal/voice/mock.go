package voice

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/LEO0072003/VoiceAI/internal/audio"
)

// MockTranscriber reports a fixed transcript once audio has been received.
// It stands in for Deepgram in tests and offline runs.
type MockTranscriber struct {
	mu         sync.Mutex
	text       string
	connected  bool
	closed     bool
	bytes      int
	transcript string
}

func NewMockTranscriber(text string) *MockTranscriber {
	return &MockTranscriber{text: text}
}

func (m *MockTranscriber) Connect(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	return nil
}

func (m *MockTranscriber) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected && !m.closed
}

func (m *MockTranscriber) SendAudio(_ context.Context, pcm []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected || m.closed {
		return ErrNotConnected
	}
	m.bytes += len(pcm)
	return nil
}

func (m *MockTranscriber) Finish(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.bytes > 0 {
		m.transcript = m.text
	}
	return nil
}

func (m *MockTranscriber) Transcript() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transcript
}

// BytesReceived is the amount of audio accepted so far.
func (m *MockTranscriber) BytesReceived() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bytes
}

func (m *MockTranscriber) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// MockTranscriberFactory replays transcripts in order, one per utterance,
// and repeats the last one when it runs out.
type MockTranscriberFactory struct {
	mu          sync.Mutex
	transcripts []string
	next        int
	issued      []*MockTranscriber
}

func NewMockTranscriberFactory(transcripts ...string) *MockTranscriberFactory {
	return &MockTranscriberFactory{transcripts: transcripts}
}

func (f *MockTranscriberFactory) NewTranscriber(string) Transcriber {
	f.mu.Lock()
	defer f.mu.Unlock()
	text := ""
	if len(f.transcripts) > 0 {
		text = f.transcripts[min(f.next, len(f.transcripts)-1)]
		f.next++
	}
	t := NewMockTranscriber(text)
	f.issued = append(f.issued, t)
	return t
}

func (f *MockTranscriberFactory) Issued() []*MockTranscriber {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*MockTranscriber(nil), f.issued...)
}

// MockSynthesizer returns silence sized to the text, about 150 ms per word
// with a one second floor.
type MockSynthesizer struct {
	SampleRate int
}

func NewMockSynthesizer(sampleRate int) *MockSynthesizer {
	if sampleRate <= 0 {
		sampleRate = audio.DefaultSampleRate
	}
	return &MockSynthesizer{SampleRate: sampleRate}
}

func (m *MockSynthesizer) Name() string { return "mock" }

func (m *MockSynthesizer) Synthesize(ctx context.Context, text string) (Speech, error) {
	if err := ctx.Err(); err != nil {
		return Speech{}, err
	}
	seconds := max(1.0, float64(len(strings.Fields(text)))*0.15)
	durationMS := int(seconds * 1000)
	pcm := audio.SilencePCM16(time.Duration(durationMS)*time.Millisecond, m.SampleRate)
	return Speech{
		Audio:      pcm,
		SampleRate: m.SampleRate,
		DurationMS: durationMS,
		Visemes:    GenerateVisemes(text, durationMS),
	}, nil
}
