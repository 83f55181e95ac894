package voice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

type STTState int32

const (
	STTDisconnected STTState = iota
	STTConnecting
	STTConnected
	STTDraining
	STTClosed
)

func (s STTState) String() string {
	switch s {
	case STTDisconnected:
		return "disconnected"
	case STTConnecting:
		return "connecting"
	case STTConnected:
		return "connected"
	case STTDraining:
		return "draining"
	case STTClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type DeepgramConfig struct {
	APIKey        string
	URL           string
	Model         string
	Language      string
	SampleRate    int
	BufferBytes   int
	FlushInterval time.Duration
	FinalizeGrace time.Duration
}

func (c DeepgramConfig) withDefaults() DeepgramConfig {
	if strings.TrimSpace(c.URL) == "" {
		c.URL = "wss://api.deepgram.com/v1/listen"
	}
	if strings.TrimSpace(c.Model) == "" {
		c.Model = "nova-2"
	}
	if strings.TrimSpace(c.Language) == "" {
		c.Language = "en-US"
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.BufferBytes <= 0 {
		c.BufferBytes = 16384
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 500 * time.Millisecond
	}
	if c.FinalizeGrace <= 0 {
		c.FinalizeGrace = 500 * time.Millisecond
	}
	return c
}

// DeepgramFactory hands out one DeepgramClient per utterance.
type DeepgramFactory struct {
	cfg    DeepgramConfig
	logger *slog.Logger

	// OnTranscript, when set, is installed on every client it creates.
	OnTranscript func(sessionID, text string, final bool)
}

func NewDeepgramFactory(cfg DeepgramConfig, logger *slog.Logger) *DeepgramFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeepgramFactory{cfg: cfg.withDefaults(), logger: logger}
}

func (f *DeepgramFactory) NewTranscriber(sessionID string) Transcriber {
	c := NewDeepgramClient(f.cfg, sessionID, f.logger)
	if hook := f.OnTranscript; hook != nil {
		c.OnTranscript = func(text string, final bool) { hook(sessionID, text, final) }
	}
	return c
}

// DeepgramClient buffers outgoing audio and accumulates final transcript
// segments from Deepgram's live streaming API.
type DeepgramClient struct {
	cfg       DeepgramConfig
	sessionID string
	logger    *slog.Logger

	// OnTranscript, when set, sees every interim and final segment.
	OnTranscript func(text string, final bool)

	state atomic.Int32
	conn  *websocket.Conn

	writeMu sync.Mutex
	bufMu   sync.Mutex
	buf     []byte

	transcriptMu sync.Mutex
	segments     []string

	group     *errgroup.Group
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func NewDeepgramClient(cfg DeepgramConfig, sessionID string, logger *slog.Logger) *DeepgramClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeepgramClient{
		cfg:       cfg.withDefaults(),
		sessionID: sessionID,
		logger:    logger.With("component", "deepgram", "session_id", sessionID),
	}
}

func (c *DeepgramClient) State() STTState { return STTState(c.state.Load()) }

func (c *DeepgramClient) Connected() bool { return c.State() == STTConnected }

func (c *DeepgramClient) listenURL() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(c.cfg.SampleRate))
	q.Set("channels", "1")
	q.Set("language", c.cfg.Language)
	q.Set("model", c.cfg.Model)
	q.Set("punctuate", "true")
	q.Set("interim_results", "true")
	q.Set("endpointing", "300")
	q.Set("vad_events", "true")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *DeepgramClient) Connect(ctx context.Context) error {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return errors.New("deepgram api key not configured")
	}
	if !c.state.CompareAndSwap(int32(STTDisconnected), int32(STTConnecting)) {
		return fmt.Errorf("deepgram connect in state %s", c.State())
	}

	target, err := c.listenURL()
	if err != nil {
		c.state.Store(int32(STTDisconnected))
		return fmt.Errorf("build deepgram url: %w", err)
	}
	headers := http.Header{}
	headers.Set("Authorization", "Token "+c.cfg.APIKey)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, headers)
	if err != nil {
		c.state.Store(int32(STTDisconnected))
		return fmt.Errorf("dial deepgram websocket: %w", err)
	}
	c.conn = conn

	runCtx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(runCtx)
	c.group = group
	c.cancel = cancel
	c.state.Store(int32(STTConnected))

	group.Go(func() error { return c.receiveLoop(gctx) })
	group.Go(func() error { return c.flushLoop(gctx) })
	c.logger.Debug("deepgram connected")
	return nil
}

// SendAudio appends pcm to the buffer and flushes once it reaches the
// configured threshold.
func (c *DeepgramClient) SendAudio(_ context.Context, pcm []byte) error {
	if !c.Connected() {
		return ErrNotConnected
	}
	c.bufMu.Lock()
	defer c.bufMu.Unlock()
	c.buf = append(c.buf, pcm...)
	if len(c.buf) < c.cfg.BufferBytes {
		return nil
	}
	return c.flushLocked()
}

func (c *DeepgramClient) flush() error {
	c.bufMu.Lock()
	defer c.bufMu.Unlock()
	return c.flushLocked()
}

func (c *DeepgramClient) flushLocked() error {
	if len(c.buf) == 0 {
		return nil
	}
	if err := c.write(websocket.BinaryMessage, c.buf); err != nil {
		return fmt.Errorf("send audio to deepgram: %w", err)
	}
	c.buf = c.buf[:0]
	return nil
}

func (c *DeepgramClient) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteMessage(messageType, data)
}

func (c *DeepgramClient) flushLoop(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if st := c.State(); st != STTConnected && st != STTDraining {
				continue
			}
			if err := c.flush(); err != nil {
				c.logger.Warn("deepgram flush failed", "error", err)
			}
		}
	}
}

type deepgramMessage struct {
	Type      string `json:"type"`
	IsFinal   bool   `json:"is_final"`
	RequestID string `json:"request_id"`
	Channel   struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
	Description string `json:"description"`
	Message     string `json:"message"`
}

func (c *DeepgramClient) receiveLoop(ctx context.Context) error {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && c.State() == STTConnected {
				c.logger.Info("deepgram connection closed", "error", err)
			}
			return nil
		}
		var msg deepgramMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		c.handleMessage(msg)
	}
}

func (c *DeepgramClient) handleMessage(msg deepgramMessage) {
	switch msg.Type {
	case "Results":
		if len(msg.Channel.Alternatives) == 0 {
			return
		}
		text := strings.TrimSpace(msg.Channel.Alternatives[0].Transcript)
		if text == "" {
			return
		}
		if msg.IsFinal {
			c.transcriptMu.Lock()
			c.segments = append(c.segments, text)
			c.transcriptMu.Unlock()
		}
		c.logger.Debug("deepgram result", "final", msg.IsFinal, "chars", len(text))
		if c.OnTranscript != nil {
			c.OnTranscript(text, msg.IsFinal)
		}
	case "Metadata":
		c.logger.Debug("deepgram metadata", "request_id", msg.RequestID)
	case "UtteranceEnd", "SpeechStarted":
		c.logger.Debug("deepgram vad event", "type", msg.Type)
	case "Error":
		c.logger.Warn("deepgram error", "description", msg.Description, "message", msg.Message)
	}
}

// Finish flushes remaining audio, asks Deepgram to close the stream and
// waits the finalize grace period for trailing results.
func (c *DeepgramClient) Finish(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(STTConnected), int32(STTDraining)) {
		return nil
	}
	if err := c.flush(); err != nil {
		return err
	}
	if err := c.write(websocket.TextMessage, []byte(`{"type":"CloseStream"}`)); err != nil {
		return fmt.Errorf("send CloseStream: %w", err)
	}

	timer := time.NewTimer(c.cfg.FinalizeGrace)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Transcript returns the final segments received so far.
func (c *DeepgramClient) Transcript() string {
	c.transcriptMu.Lock()
	defer c.transcriptMu.Unlock()
	return strings.Join(c.segments, " ")
}

// Close stops both background goroutines and joins them before the socket
// is released.
func (c *DeepgramClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.state.Store(int32(STTClosed))
		if c.cancel != nil {
			c.cancel()
		}
		if c.conn != nil {
			c.writeMu.Lock()
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			c.writeMu.Unlock()
			// Unblocks the pending ReadMessage in receiveLoop.
			_ = c.conn.SetReadDeadline(time.Now())
		}
		if c.group != nil {
			_ = c.group.Wait()
		}
		if c.conn != nil {
			err = c.conn.Close()
		}
		c.bufMu.Lock()
		c.buf = nil
		c.bufMu.Unlock()
	})
	return err
}
