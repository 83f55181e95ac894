package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestParseAuth(t *testing.T) {
	msg, err := ParseAuth([]byte(`{"type":"auth","token":"abc","session_id":"sess_1"}`))
	if err != nil {
		t.Fatalf("ParseAuth() error = %v", err)
	}
	if msg.Token != "abc" || msg.SessionID != "sess_1" {
		t.Fatalf("unexpected auth: %+v", msg)
	}
}

func TestParseAuthRejects(t *testing.T) {
	cases := []string{
		`{"type":"text_input","session_id":"sess_1","text":"hi"}`,
		`{"type":"auth","session_id":"sess_1"}`,
		`{"type":"auth","token":"abc"}`,
		`not json`,
	}
	for _, raw := range cases {
		if _, err := ParseAuth([]byte(raw)); !errors.Is(err, ErrInvalidAuth) {
			t.Fatalf("ParseAuth(%s) error = %v, want ErrInvalidAuth", raw, err)
		}
	}
}

func TestParseClientMessageAudioChunk(t *testing.T) {
	raw := []byte(`{"type":"audio_chunk","session_id":"s1","chunk_number":3,"data":"AQID"}`)
	env, msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	if env.SessionID != "s1" {
		t.Fatalf("env.SessionID = %q, want s1", env.SessionID)
	}
	chunk, ok := msg.(AudioChunk)
	if !ok {
		t.Fatalf("message type = %T, want AudioChunk", msg)
	}
	if chunk.ChunkNumber != 3 || chunk.Data != "AQID" {
		t.Fatalf("unexpected audio chunk: %+v", chunk)
	}
}

func TestParseClientMessageTextInput(t *testing.T) {
	_, msg, err := ParseClientMessage([]byte(`{"type":"text_input","session_id":"s1","text":"book tomorrow"}`))
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	if in, ok := msg.(TextInput); !ok || in.Text != "book tomorrow" {
		t.Fatalf("unexpected message: %#v", msg)
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	env, _, err := ParseClientMessage([]byte(`{"type":"wat","session_id":"s1"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
	if env.Type != "wat" || env.SessionID != "s1" {
		t.Fatalf("envelope = %+v, want type and session kept", env)
	}
}

func TestAudioResponseEncodesEmptyVisemes(t *testing.T) {
	out, err := json.Marshal(AudioResponse{Type: TypeAudioResponse, Visemes: []Viseme{}, AudioFormat: AudioFormatPCM16k})
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	if !strings.Contains(string(out), `"visemes":[]`) || !strings.Contains(string(out), `"audio_format":"pcm_16000"`) {
		t.Fatalf("unexpected encoding: %s", out)
	}
}

func BenchmarkParseClientMessageAudioChunk(b *testing.B) {
	raw := []byte(`{"type":"audio_chunk","session_id":"s1","chunk_number":7,"data":"AQIDBAUGBwgJCgsMDQ4P"}`)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, _, err := ParseClientMessage(raw); err != nil {
			b.Fatalf("ParseClientMessage() error = %v", err)
		}
	}
}
