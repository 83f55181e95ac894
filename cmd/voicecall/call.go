package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/LEO0072003/VoiceAI/internal/audio"
	"github.com/LEO0072003/VoiceAI/internal/protocol"
)

type callOptions struct {
	baseURL     string
	token       string
	texts       []string
	wavPath     string
	chunkMS     int
	realtime    float64
	turnTimeout time.Duration
	outDir      string
	out         io.Writer
}

type initiateResponse struct {
	SessionID          string `json:"session_id"`
	GreetingText       string `json:"greeting_text"`
	GreetingAudioData  string `json:"greeting_audio_data"`
	GreetingSampleRate int    `json:"greeting_sample_rate"`
	GreetingDurationMS int    `json:"greeting_duration_ms"`
}

// serverMessage is the union of every server frame field the CLI reads.
type serverMessage struct {
	Type              string          `json:"type"`
	SessionID         string          `json:"session_id"`
	DeepgramConnected bool            `json:"deepgram_connected"`
	Tool              string          `json:"tool"`
	Status            string          `json:"status"`
	Text              string          `json:"text"`
	AudioData         string          `json:"audio_data"`
	SampleRate        int             `json:"sample_rate"`
	DurationMS        int             `json:"duration_ms"`
	UserTranscript    string          `json:"user_transcript"`
	ShouldEndCall     bool            `json:"should_end_call"`
	Summary           string          `json:"summary"`
	DurationSeconds   float64         `json:"duration_seconds"`
	TotalTurns        int             `json:"total_turns"`
	Costs             json.RawMessage `json:"costs"`
}

type callReport struct {
	SessionID  string
	Greeting   string
	Replies    []string
	Summary    string
	TotalTurns int
	TotalUSD   float64
}

func runCall(ctx context.Context, opts callOptions) (callReport, error) {
	if opts.out == nil {
		opts.out = io.Discard
	}
	var report callReport

	httpClient := &http.Client{Timeout: 45 * time.Second}
	greeting, err := initiate(ctx, httpClient, opts.baseURL, opts.token)
	if err != nil {
		return report, fmt.Errorf("initiate call: %w", err)
	}
	report.SessionID = greeting.SessionID
	report.Greeting = greeting.GreetingText
	fmt.Fprintf(opts.out, "session %s\nassistant: %s\n", greeting.SessionID, greeting.GreetingText)
	if err := saveAudio(opts.outDir, "greeting.wav", greeting.GreetingAudioData, greeting.GreetingSampleRate); err != nil {
		return report, err
	}

	wsURL, err := voiceWSURL(opts.baseURL)
	if err != nil {
		return report, fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return report, fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	msgs := make(chan serverMessage, 32)
	readErr := make(chan error, 1)
	go readLoop(conn, msgs, readErr)

	sessionID := greeting.SessionID
	if err := conn.WriteJSON(protocol.Auth{Type: protocol.TypeAuth, Token: opts.token, SessionID: sessionID}); err != nil {
		return report, fmt.Errorf("send auth: %w", err)
	}
	ready, err := awaitType(msgs, readErr, opts.turnTimeout, protocol.TypeReady, opts.out)
	if err != nil {
		return report, fmt.Errorf("await ready: %w", err)
	}
	fmt.Fprintf(opts.out, "ready (stt connected: %t)\n", ready.DeepgramConnected)

	turn := 0
	ended := false
	handleReply := func(resp serverMessage) error {
		turn++
		report.Replies = append(report.Replies, resp.Text)
		if resp.UserTranscript != "" {
			fmt.Fprintf(opts.out, "you: %s\n", resp.UserTranscript)
		}
		fmt.Fprintf(opts.out, "assistant: %s\n", resp.Text)
		ended = resp.ShouldEndCall
		return saveAudio(opts.outDir, fmt.Sprintf("turn_%02d.wav", turn), resp.AudioData, resp.SampleRate)
	}

	for _, text := range opts.texts {
		if ended {
			break
		}
		msg := protocol.TextInput{Type: protocol.TypeTextInput, SessionID: sessionID, Text: text}
		if err := conn.WriteJSON(msg); err != nil {
			return report, fmt.Errorf("send text_input: %w", err)
		}
		resp, err := awaitType(msgs, readErr, opts.turnTimeout, protocol.TypeAudioResponse, opts.out)
		if err != nil {
			return report, fmt.Errorf("await reply to %q: %w", text, err)
		}
		if err := handleReply(resp); err != nil {
			return report, err
		}
	}

	if opts.wavPath != "" && !ended {
		if err := sendUtterance(ctx, conn, sessionID, opts); err != nil {
			return report, err
		}
		resp, err := awaitType(msgs, readErr, opts.turnTimeout, protocol.TypeAudioResponse, opts.out)
		if err != nil {
			return report, fmt.Errorf("await reply to audio: %w", err)
		}
		if err := handleReply(resp); err != nil {
			return report, err
		}
	}

	if err := conn.WriteJSON(protocol.EndCall{Type: protocol.TypeEndCall, SessionID: sessionID}); err != nil {
		return report, fmt.Errorf("send end_call: %w", err)
	}
	summary, err := awaitType(msgs, readErr, opts.turnTimeout, protocol.TypeCallSummary, opts.out)
	if err != nil {
		return report, fmt.Errorf("await call_summary: %w", err)
	}
	report.Summary = summary.Summary
	report.TotalTurns = summary.TotalTurns
	fmt.Fprintf(opts.out, "summary (%0.1fs, %d turns): %s\n", summary.DurationSeconds, summary.TotalTurns, summary.Summary)

	costs, err := awaitType(msgs, readErr, opts.turnTimeout, protocol.TypeCostBreakdown, opts.out)
	if err != nil {
		return report, fmt.Errorf("await cost_breakdown: %w", err)
	}
	var breakdown struct {
		TotalUSD float64 `json:"total_usd"`
	}
	if err := json.Unmarshal(costs.Costs, &breakdown); err != nil {
		return report, fmt.Errorf("decode cost_breakdown: %w", err)
	}
	report.TotalUSD = breakdown.TotalUSD
	fmt.Fprintf(opts.out, "total cost: $%.6f\n", breakdown.TotalUSD)
	return report, nil
}

func initiate(ctx context.Context, client *http.Client, baseURL, token string) (initiateResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/voice/initiate", nil)
	if err != nil {
		return initiateResponse{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	res, err := client.Do(req)
	if err != nil {
		return initiateResponse{}, err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 20<<20))
	if err != nil {
		return initiateResponse{}, err
	}
	if res.StatusCode != http.StatusOK {
		return initiateResponse{}, fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	var out initiateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return initiateResponse{}, err
	}
	if strings.TrimSpace(out.SessionID) == "" {
		return initiateResponse{}, errors.New("missing session_id in response")
	}
	return out, nil
}

func voiceWSURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/voice"
	u.RawQuery = ""
	return u.String(), nil
}

func readLoop(conn *websocket.Conn, msgs chan<- serverMessage, readErr chan<- error) {
	defer close(msgs)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			readErr <- err
			return
		}
		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		msgs <- msg
	}
}

// awaitType returns the next message of type want, printing tool progress
// frames seen on the way.
func awaitType(msgs <-chan serverMessage, readErr <-chan error, timeout time.Duration, want protocol.MessageType, out io.Writer) (serverMessage, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				select {
				case err := <-readErr:
					return serverMessage{}, err
				default:
					return serverMessage{}, errors.New("connection closed")
				}
			}
			if msg.Type == string(want) {
				return msg, nil
			}
			switch protocol.MessageType(msg.Type) {
			case protocol.TypeToolCall:
				fmt.Fprintf(out, "  -> %s\n", msg.Tool)
			case protocol.TypeToolResult:
				fmt.Fprintf(out, "  <- %s (%s)\n", msg.Tool, msg.Status)
			}
		case <-timer.C:
			return serverMessage{}, fmt.Errorf("timed out after %s waiting for %s", timeout, want)
		}
	}
}

func sendUtterance(ctx context.Context, conn *websocket.Conn, sessionID string, opts callOptions) error {
	pcm, sampleRate, err := audio.ReadWAVFile(opts.wavPath)
	if err != nil {
		return fmt.Errorf("read wav: %w", err)
	}
	if sampleRate != audio.DefaultSampleRate {
		fmt.Fprintf(opts.out, "warning: %s is %d Hz; the server expects %d Hz\n", opts.wavPath, sampleRate, audio.DefaultSampleRate)
	}
	chunks := audio.ChunkPCM16(pcm, sampleRate, opts.chunkMS)
	pace := time.Duration(float64(opts.chunkMS)/opts.realtime) * time.Millisecond
	for i, chunk := range chunks {
		msg := protocol.AudioChunk{
			Type:        protocol.TypeAudioChunk,
			SessionID:   sessionID,
			ChunkNumber: i + 1,
			Data:        base64.StdEncoding.EncodeToString(chunk),
		}
		if err := conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("send audio_chunk %d: %w", i+1, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pace):
		}
	}
	fmt.Fprintf(opts.out, "sent %d audio chunks (%s)\n", len(chunks), audio.DurationPCM16(len(pcm), sampleRate))
	return conn.WriteJSON(protocol.EndOfSpeech{Type: protocol.TypeEndOfSpeech, SessionID: sessionID, TotalChunks: len(chunks)})
}

func saveAudio(dir, name, b64 string, sampleRate int) error {
	if dir == "" || b64 == "" {
		return nil
	}
	pcm, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return fmt.Errorf("decode %s audio: %w", name, err)
	}
	wav, err := audio.EncodeWAVPCM16LE(pcm, sampleRate)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, name), wav, 0o644)
}
