package cost

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix  = "voice:costs:"
	DefaultTTL = 24 * time.Hour

	fieldSTTSeconds  = "stt_audio_seconds"
	fieldLLMInput    = "llm_input_tokens"
	fieldLLMOutput   = "llm_output_tokens"
	fieldTTSChars    = "tts_characters"
	fieldAvatarSecs  = "tavus_seconds"
	fieldSTTRequests = "requests_stt"
	fieldLLMRequests = "requests_llm"
	fieldTTSRequests = "requests_tts"
	fieldStartedAt   = "started_at"
)

// Ledger accumulates billed usage per session in a Redis hash. Counters are
// incremented server-side so the STT, agent and synthesis paths can write
// without coordinating.
type Ledger struct {
	client  redis.UniversalClient
	pricing Pricing
	ttl     time.Duration
	now     func() time.Time
}

func NewLedger(client redis.UniversalClient, pricing Pricing, ttl time.Duration) *Ledger {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Ledger{client: client, pricing: pricing, ttl: ttl, now: time.Now}
}

// Tracker is a Ledger bound to one session.
type Tracker struct {
	ledger    *Ledger
	sessionID string
}

func (l *Ledger) ForSession(sessionID string) *Tracker {
	return &Tracker{ledger: l, sessionID: sessionID}
}

func (t *Tracker) SessionID() string { return t.sessionID }

func (t *Tracker) key() string { return keyPrefix + t.sessionID }

func (t *Tracker) TrackSTT(ctx context.Context, seconds float64) error {
	if seconds < 0 {
		seconds = 0
	}
	return t.update(ctx, func(pipe redis.Pipeliner) {
		pipe.HIncrByFloat(ctx, t.key(), fieldSTTSeconds, seconds)
		pipe.HIncrBy(ctx, t.key(), fieldSTTRequests, 1)
	})
}

func (t *Tracker) TrackLLM(ctx context.Context, inputTokens, outputTokens int) error {
	return t.update(ctx, func(pipe redis.Pipeliner) {
		pipe.HIncrBy(ctx, t.key(), fieldLLMInput, int64(max(inputTokens, 0)))
		pipe.HIncrBy(ctx, t.key(), fieldLLMOutput, int64(max(outputTokens, 0)))
		pipe.HIncrBy(ctx, t.key(), fieldLLMRequests, 1)
	})
}

func (t *Tracker) TrackTTS(ctx context.Context, characters int) error {
	return t.update(ctx, func(pipe redis.Pipeliner) {
		pipe.HIncrBy(ctx, t.key(), fieldTTSChars, int64(max(characters, 0)))
		pipe.HIncrBy(ctx, t.key(), fieldTTSRequests, 1)
	})
}

// TrackAvatar records the total avatar seconds for the call. It replaces
// rather than accumulates since the avatar provider reports running totals.
func (t *Tracker) TrackAvatar(ctx context.Context, seconds float64) error {
	return t.update(ctx, func(pipe redis.Pipeliner) {
		pipe.HSet(ctx, t.key(), fieldAvatarSecs, strconv.FormatFloat(max(seconds, 0), 'f', -1, 64))
	})
}

func (t *Tracker) Clear(ctx context.Context) error {
	if err := t.ledger.client.Del(ctx, t.key()).Err(); err != nil {
		return fmt.Errorf("clear costs: %w", err)
	}
	return nil
}

func (t *Tracker) update(ctx context.Context, fn func(redis.Pipeliner)) error {
	key := t.key()
	_, err := t.ledger.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, key, fieldStartedAt, t.ledger.now().UTC().Format(time.RFC3339))
		fn(pipe)
		pipe.Expire(ctx, key, t.ledger.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("track cost for %s: %w", t.sessionID, err)
	}
	return nil
}

// Breakdown reads the record and derives USD costs. A session with no usage
// yields an all-zero breakdown.
func (t *Tracker) Breakdown(ctx context.Context) (Breakdown, error) {
	fields, err := t.ledger.client.HGetAll(ctx, t.key()).Result()
	if err != nil {
		return Breakdown{}, fmt.Errorf("read costs: %w", err)
	}
	rec := Record{
		STTSeconds:    parseFloat(fields[fieldSTTSeconds]),
		LLMInput:      parseInt(fields[fieldLLMInput]),
		LLMOutput:     parseInt(fields[fieldLLMOutput]),
		TTSCharacters: parseInt(fields[fieldTTSChars]),
		AvatarSeconds: parseFloat(fields[fieldAvatarSecs]),
		STTRequests:   parseInt(fields[fieldSTTRequests]),
		LLMRequests:   parseInt(fields[fieldLLMRequests]),
		TTSRequests:   parseInt(fields[fieldTTSRequests]),
	}
	return t.ledger.pricing.breakdown(t.sessionID, rec, t.ledger.now()), nil
}

// Record is the raw usage stored for a session.
type Record struct {
	STTSeconds    float64
	LLMInput      int64
	LLMOutput     int64
	TTSCharacters int64
	AvatarSeconds float64
	STTRequests   int64
	LLMRequests   int64
	TTSRequests   int64
}

type STTCost struct {
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	AudioSeconds float64 `json:"audio_seconds"`
	AudioMinutes float64 `json:"audio_minutes"`
	Requests     int64   `json:"requests"`
	CostUSD      float64 `json:"cost_usd"`
}

type LLMCost struct {
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	TotalTokens  int64   `json:"total_tokens"`
	Requests     int64   `json:"requests"`
	CostUSD      float64 `json:"cost_usd"`
	Pricing      string  `json:"pricing"`
}

type TTSCost struct {
	Provider   string  `json:"provider"`
	Model      string  `json:"model"`
	Characters int64   `json:"characters"`
	Requests   int64   `json:"requests"`
	CostUSD    float64 `json:"cost_usd"`
}

type AvatarCost struct {
	Provider        string  `json:"provider"`
	Model           string  `json:"model"`
	DurationSeconds float64 `json:"duration_seconds"`
	DurationMinutes float64 `json:"duration_minutes"`
	CostUSD         float64 `json:"cost_usd"`
	Pricing         string  `json:"pricing"`
}

type Breakdown struct {
	SessionID string     `json:"session_id"`
	STT       STTCost    `json:"stt"`
	LLM       LLMCost    `json:"llm"`
	TTS       TTSCost    `json:"tts"`
	Tavus     AvatarCost `json:"tavus"`
	TotalUSD  float64    `json:"total_usd"`
	Timestamp time.Time  `json:"timestamp"`
}

func (p Pricing) breakdown(sessionID string, rec Record, now time.Time) Breakdown {
	sttMinutes := rec.STTSeconds / 60
	sttCost := sttMinutes * p.STTPerMinute
	llmCost := float64(rec.LLMInput)/1_000_000*p.LLMInputPerMillion +
		float64(rec.LLMOutput)/1_000_000*p.LLMOutputPerMillion
	ttsCost := float64(rec.TTSCharacters) / 1000 * p.TTSPerThousandChars
	avatarMinutes := rec.AvatarSeconds / 60
	avatarCost := avatarMinutes * p.AvatarPerMinute

	return Breakdown{
		SessionID: sessionID,
		STT: STTCost{
			Provider:     p.STTProvider,
			Model:        p.STTModel,
			AudioSeconds: round(rec.STTSeconds, 2),
			AudioMinutes: round(sttMinutes, 2),
			Requests:     rec.STTRequests,
			CostUSD:      round(sttCost, 6),
		},
		LLM: LLMCost{
			Provider:     p.LLMProvider,
			Model:        p.LLMModel,
			InputTokens:  rec.LLMInput,
			OutputTokens: rec.LLMOutput,
			TotalTokens:  rec.LLMInput + rec.LLMOutput,
			Requests:     rec.LLMRequests,
			CostUSD:      round(llmCost, 6),
			Pricing:      p.llmLabel(),
		},
		TTS: TTSCost{
			Provider:   p.TTSProvider,
			Model:      p.TTSModel,
			Characters: rec.TTSCharacters,
			Requests:   rec.TTSRequests,
			CostUSD:    round(ttsCost, 6),
		},
		Tavus: AvatarCost{
			Provider:        "Tavus",
			Model:           "CVI",
			DurationSeconds: round(rec.AvatarSeconds, 2),
			DurationMinutes: round(avatarMinutes, 2),
			CostUSD:         round(avatarCost, 6),
			Pricing:         p.avatarLabel(),
		},
		TotalUSD:  round(sttCost+llmCost+ttsCost+avatarCost, 6),
		Timestamp: now.UTC(),
	}
}

func round(v float64, places int) float64 {
	pow := math.Pow(10, float64(places))
	return math.Round(v*pow) / pow
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func parseInt(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}
