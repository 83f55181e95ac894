package audio

import (
	"testing"
	"time"
)

func TestWAVRoundTrip(t *testing.T) {
	pcm := []byte{1, 0, 2, 0, 3, 0, 4, 0}
	wav, err := EncodeWAVPCM16LE(pcm, 16000)
	if err != nil {
		t.Fatalf("EncodeWAVPCM16LE() error = %v", err)
	}
	if len(wav) != 44+len(pcm) {
		t.Fatalf("len(wav) = %d, want %d", len(wav), 44+len(pcm))
	}
	got, rate, err := DecodeWAVPCM16(wav)
	if err != nil {
		t.Fatalf("DecodeWAVPCM16() error = %v", err)
	}
	if rate != 16000 || string(got) != string(pcm) {
		t.Fatalf("DecodeWAVPCM16() = %v @%d, want %v @16000", got, rate, pcm)
	}
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	if _, _, err := DecodeWAVPCM16([]byte("not a wav file at all")); err == nil {
		t.Fatalf("DecodeWAVPCM16() error = nil, want error")
	}
}

func TestPCMHelpers(t *testing.T) {
	if got := DurationPCM16(32000, 16000); got != time.Second {
		t.Fatalf("DurationPCM16() = %s, want 1s", got)
	}
	silence := SilencePCM16(500*time.Millisecond, 16000)
	if len(silence) != 16000 {
		t.Fatalf("len(SilencePCM16) = %d, want 16000", len(silence))
	}
	chunks := ChunkPCM16(silence, 16000, 100)
	if len(chunks) != 5 || len(chunks[0]) != 3200 {
		t.Fatalf("ChunkPCM16() = %d chunks of %d, want 5 of 3200", len(chunks), len(chunks[0]))
	}
}
