package main

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/LEO0072003/VoiceAI/internal/config"
)

func TestServeReturnsListenError(t *testing.T) {
	mr := miniredis.RunT(t)
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen() error = %v", err)
	}
	defer busy.Close()

	cfg := config.Config{
		BindAddr:           busy.Addr().String(),
		ShutdownTimeout:    time.Second,
		MetricsNamespace:   "voiceai_cmd_test",
		RedisURL:           "redis://" + mr.Addr() + "/0",
		JWTSecret:          "test-secret",
		JWTAlgorithm:       "HS256",
		LLMProvider:        "mock",
		SessionTTL:         time.Hour,
		HistoryLimit:       100,
		CostTTL:            time.Hour,
		AgentMaxIterations: 10,
		AgentMaxTokens:     500,
		STTSampleRate:      16000,
		AppointmentSlots:   config.DefaultSlots,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	done := make(chan error, 1)
	go func() { done <- serve(context.Background(), cfg, logger) }()
	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("serve() error = nil, want listen error")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("serve() did not return after the listener failed")
	}
}
