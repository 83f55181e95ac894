package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/LEO0072003/VoiceAI/internal/audio"
	"github.com/LEO0072003/VoiceAI/internal/reliability"
)

type CartesiaConfig struct {
	APIKey     string
	BaseURL    string
	VoiceID    string
	Model      string
	Version    string
	SampleRate int
	MaxRetries int
	HTTPClient *http.Client
}

// CartesiaSynthesizer calls Cartesia's /tts/bytes endpoint for raw PCM16.
type CartesiaSynthesizer struct {
	cfg    CartesiaConfig
	client *http.Client
	logger *slog.Logger
}

func NewCartesiaSynthesizer(cfg CartesiaConfig, logger *slog.Logger) *CartesiaSynthesizer {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.cartesia.ai"
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "sonic-english"
	}
	if strings.TrimSpace(cfg.Version) == "" {
		cfg.Version = "2024-06-10"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audio.DefaultSampleRate
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CartesiaSynthesizer{cfg: cfg, client: client, logger: logger}
}

func (c *CartesiaSynthesizer) Name() string { return "cartesia" }

type cartesiaRequest struct {
	ModelID      string               `json:"model_id"`
	Transcript   string               `json:"transcript"`
	Voice        cartesiaVoice        `json:"voice"`
	OutputFormat cartesiaOutputFormat `json:"output_format"`
	Language     string               `json:"language"`
}

type cartesiaVoice struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type cartesiaOutputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("cartesia status %d: %s", e.status, e.body)
}

func (c *CartesiaSynthesizer) Synthesize(ctx context.Context, text string) (Speech, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return Speech{}, fmt.Errorf("cartesia api key not configured")
	}
	body, err := json.Marshal(cartesiaRequest{
		ModelID:    c.cfg.Model,
		Transcript: text,
		Voice:      cartesiaVoice{Mode: "id", ID: c.cfg.VoiceID},
		OutputFormat: cartesiaOutputFormat{
			Container:  "raw",
			Encoding:   "pcm_s16le",
			SampleRate: c.cfg.SampleRate,
		},
		Language: "en",
	})
	if err != nil {
		return Speech{}, err
	}

	var pcm []byte
	for attempt := 0; ; attempt++ {
		pcm, err = c.post(ctx, body)
		if err == nil {
			break
		}
		var se *statusError
		if !errors.As(err, &se) || !reliability.IsRetryableHTTPStatus(se.status) || attempt >= c.cfg.MaxRetries {
			return Speech{}, err
		}
		delay := reliability.ExponentialBackoff(attempt, 200*time.Millisecond, 2*time.Second)
		c.logger.Debug("cartesia retry", "attempt", attempt+1, "status", se.status, "delay", delay)
		select {
		case <-ctx.Done():
			return Speech{}, ctx.Err()
		case <-time.After(delay):
		}
	}

	durationMS := int(audio.DurationPCM16(len(pcm), c.cfg.SampleRate).Milliseconds())
	return Speech{
		Audio:      pcm,
		SampleRate: c.cfg.SampleRate,
		DurationMS: durationMS,
		Visemes:    GenerateVisemes(text, durationMS),
	}, nil
}

func (c *CartesiaSynthesizer) post(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+"/tts/bytes", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-Key", c.cfg.APIKey)
	req.Header.Set("Cartesia-Version", c.cfg.Version)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cartesia request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &statusError{status: resp.StatusCode, body: strings.TrimSpace(string(snippet))}
	}
	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read cartesia audio: %w", err)
	}
	return pcm, nil
}
