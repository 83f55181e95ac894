// voicecall drives a full call against a running voiceai server: it mints or
// takes a bearer token, initiates the call, streams text or audio turns over
// the voice websocket and prints the summary and cost breakdown.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/LEO0072003/VoiceAI/internal/auth"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "voicecall",
		Short:        "Command-line client for the voice appointment agent",
		SilenceUsage: true,
	}
	root.AddCommand(newTokenCmd(), newCallCmd())
	return root
}

type signer struct {
	secret    string
	algorithm string
}

func (s *signer) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&s.secret, "secret", os.Getenv("JWT_SECRET_KEY"), "JWT signing secret (defaults to JWT_SECRET_KEY)")
	cmd.Flags().StringVar(&s.algorithm, "algorithm", envOr("JWT_ALGORITHM", "HS256"), "JWT signing algorithm")
}

func (s *signer) issue(contact string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(contact) == "" {
		return "", errors.New("--contact is required")
	}
	v, err := auth.NewValidator(s.secret, s.algorithm)
	if err != nil {
		return "", err
	}
	return v.IssueToken(contact, ttl)
}

func newTokenCmd() *cobra.Command {
	var (
		s       signer
		contact string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for a registered contact number",
		RunE: func(cmd *cobra.Command, _ []string) error {
			token, err := s.issue(contact, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	s.bind(cmd)
	cmd.Flags().StringVar(&contact, "contact", "", "caller contact number")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}

func newCallCmd() *cobra.Command {
	var (
		s       signer
		opts    callOptions
		contact string
	)
	cmd := &cobra.Command{
		Use:   "call",
		Short: "Place a call and run scripted text or audio turns",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.token == "" {
				token, err := s.issue(contact, time.Hour)
				if err != nil {
					return fmt.Errorf("need --token or --contact: %w", err)
				}
				opts.token = token
			}
			if opts.chunkMS <= 0 {
				return errors.New("--chunk-ms must be > 0")
			}
			if opts.realtime <= 0 {
				return errors.New("--realtime must be > 0")
			}
			opts.baseURL = strings.TrimRight(strings.TrimSpace(opts.baseURL), "/")
			opts.out = cmd.OutOrStdout()
			_, err := runCall(cmd.Context(), opts)
			return err
		},
	}
	s.bind(cmd)
	cmd.Flags().StringVar(&opts.baseURL, "base-url", "http://127.0.0.1:8000", "voiceai server base URL")
	cmd.Flags().StringVar(&opts.token, "token", "", "bearer token (minted from --contact when empty)")
	cmd.Flags().StringVar(&contact, "contact", "", "caller contact number used to mint a token")
	cmd.Flags().StringArrayVar(&opts.texts, "text", nil, "text turn to send (repeatable)")
	cmd.Flags().StringVar(&opts.wavPath, "wav", "", "16kHz mono PCM16 WAV streamed as one spoken turn")
	cmd.Flags().IntVar(&opts.chunkMS, "chunk-ms", 100, "audio chunk size in milliseconds")
	cmd.Flags().Float64Var(&opts.realtime, "realtime", 1.0, "audio pacing multiplier (2.0 streams twice as fast)")
	cmd.Flags().DurationVar(&opts.turnTimeout, "turn-timeout", 45*time.Second, "max wait for each server reply")
	cmd.Flags().StringVar(&opts.outDir, "out-dir", "", "directory to save greeting and reply WAVs")
	return cmd
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
