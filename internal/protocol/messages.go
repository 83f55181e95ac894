package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeAuth        MessageType = "auth"
	TypeAudioChunk  MessageType = "audio_chunk"
	TypeEndOfSpeech MessageType = "end_of_speech"
	TypeEndCall     MessageType = "end_call"
	TypeTextInput   MessageType = "text_input"

	TypeReady         MessageType = "ready"
	TypeToolCall      MessageType = "tool_call"
	TypeToolResult    MessageType = "tool_result"
	TypeAudioResponse MessageType = "audio_response"
	TypeCallSummary   MessageType = "call_summary"
	TypeCostBreakdown MessageType = "cost_breakdown"
)

// AudioFormatPCM16k labels raw 16-bit mono PCM at 16 kHz.
const AudioFormatPCM16k = "pcm_16000"

var (
	ErrUnsupportedType = errors.New("unsupported message type")
	ErrInvalidAuth     = errors.New("invalid auth message")
)

type Envelope struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
}

type Auth struct {
	Type      MessageType `json:"type"`
	Token     string      `json:"token"`
	SessionID string      `json:"session_id"`
}

type AudioChunk struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	ChunkNumber int         `json:"chunk_number"`
	Data        string      `json:"data"`
}

type EndOfSpeech struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	TotalChunks int         `json:"total_chunks"`
}

type EndCall struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
}

type TextInput struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
}

type Ready struct {
	Type              MessageType `json:"type"`
	SessionID         string      `json:"session_id"`
	SampleRate        int         `json:"sample_rate"`
	DeepgramConnected bool        `json:"deepgram_connected"`
}

type ToolCall struct {
	Type       MessageType    `json:"type"`
	Tool       string         `json:"tool"`
	ToolCallID string         `json:"tool_call_id"`
	Arguments  map[string]any `json:"arguments"`
	Status     string         `json:"status"`
	Message    string         `json:"message"`
}

type ToolResult struct {
	Type       MessageType `json:"type"`
	Tool       string      `json:"tool"`
	ToolCallID string      `json:"tool_call_id"`
	Status     string      `json:"status"`
	Result     any         `json:"result"`
}

// Viseme is one mouth shape keyed to the synthesized audio timeline (ms).
type Viseme struct {
	ID    string `json:"id"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

type AudioResponse struct {
	Type           MessageType `json:"type"`
	Text           string      `json:"text"`
	AudioData      string      `json:"audio_data"`
	AudioFormat    string      `json:"audio_format"`
	SampleRate     int         `json:"sample_rate"`
	DurationMS     int         `json:"duration_ms"`
	Visemes        []Viseme    `json:"visemes"`
	UserTranscript string      `json:"user_transcript"`
	ShouldEndCall  bool        `json:"should_end_call"`
}

type CallSummary struct {
	Type               MessageType      `json:"type"`
	Summary            string           `json:"summary"`
	DurationSeconds    float64          `json:"duration_seconds"`
	TotalTurns         int              `json:"total_turns"`
	AppointmentsBooked []map[string]any `json:"appointments_booked"`
}

type CostBreakdown struct {
	Type  MessageType `json:"type"`
	Costs any         `json:"costs"`
}

// ParseAuth decodes the first frame of a connection. Anything other than a
// complete auth message is ErrInvalidAuth.
func ParseAuth(raw []byte) (Auth, error) {
	var msg Auth
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Auth{}, fmt.Errorf("%w: %v", ErrInvalidAuth, err)
	}
	if msg.Type != TypeAuth {
		return Auth{}, fmt.Errorf("%w: first message type %q", ErrInvalidAuth, msg.Type)
	}
	if msg.Token == "" || msg.SessionID == "" {
		return Auth{}, fmt.Errorf("%w: token and session_id are required", ErrInvalidAuth)
	}
	return msg, nil
}

// ParseClientMessage decodes a post-auth frame. The envelope is returned
// alongside the typed message so callers can apply session filtering even
// when the type is unsupported.
func ParseClientMessage(raw []byte) (Envelope, any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeAudioChunk:
		var msg AudioChunk
		if err := json.Unmarshal(raw, &msg); err != nil {
			return env, nil, err
		}
		return env, msg, nil
	case TypeEndOfSpeech:
		var msg EndOfSpeech
		if err := json.Unmarshal(raw, &msg); err != nil {
			return env, nil, err
		}
		return env, msg, nil
	case TypeEndCall:
		return env, EndCall{Type: env.Type, SessionID: env.SessionID}, nil
	case TypeTextInput:
		var msg TextInput
		if err := json.Unmarshal(raw, &msg); err != nil {
			return env, nil, err
		}
		return env, msg, nil
	default:
		return env, nil, ErrUnsupportedType
	}
}
