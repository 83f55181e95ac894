package voice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/LEO0072003/VoiceAI/internal/appointments"
	"github.com/LEO0072003/VoiceAI/internal/llm"
	"github.com/LEO0072003/VoiceAI/internal/observability"
	"github.com/LEO0072003/VoiceAI/internal/protocol"
	"github.com/LEO0072003/VoiceAI/internal/session"
	"github.com/LEO0072003/VoiceAI/internal/tools"
)

const (
	NoConversationText = "No conversation recorded."
	SummaryFailedText  = "Call ended. Summary generation failed due to service limits."

	summaryTemperature = 0.5
	summaryMaxTokens   = 300
)

var errEmptySummary = errors.New("summary provider returned no text")

// formatConversation renders history as "User:" and "Assistant:" lines.
// System and tool entries are skipped, as are assistant entries that only
// carried tool calls.
func formatConversation(history []session.Message) string {
	lines := make([]string, 0, len(history))
	for _, msg := range history {
		switch msg.Role {
		case session.RoleUser:
			lines = append(lines, "User: "+msg.Content)
		case session.RoleAssistant:
			if strings.TrimSpace(msg.Content) == "" {
				continue
			}
			lines = append(lines, "Assistant: "+msg.Content)
		}
	}
	if len(lines) == 0 {
		return NoConversationText
	}
	return strings.Join(lines, "\n")
}

func summaryRequest(history []session.Message, durationSeconds float64, turns int) llm.Request {
	prompt := fmt.Sprintf(
		"Please summarize this conversation:\n\nCall Duration: %.1f seconds\nUser Turns: %d\n\nConversation:\n%s\n",
		durationSeconds, turns, formatConversation(history),
	)
	return llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: tools.CallSummaryPrompt},
			{Role: llm.RoleUser, Content: prompt},
		},
		Temperature: summaryTemperature,
		MaxTokens:   summaryMaxTokens,
	}
}

// generateSummary skips the provider entirely when the caller never spoke,
// so an empty call bills nothing.
func (o *Orchestrator) generateSummary(ctx context.Context, c *connection, durationSeconds float64, turns int) (string, error) {
	if turns == 0 {
		return NoConversationText, nil
	}
	history, err := o.sessions.Conversation(ctx, c.id)
	if err != nil {
		return "", fmt.Errorf("load conversation: %w", err)
	}
	resp, err := o.llm.Generate(ctx, summaryRequest(history, durationSeconds, turns))
	if err != nil {
		return "", err
	}
	if err := c.cost.TrackLLM(ctx, resp.Usage.InputTokens, resp.Usage.OutputTokens); err != nil {
		c.logger.Warn("track summary usage failed", "error", err)
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", errEmptySummary
	}
	return text, nil
}

// finishCall answers end_call: call_summary first, then cost_breakdown.
// Both frames are sent even when summary generation fails.
func (o *Orchestrator) finishCall(ctx context.Context, c *connection) {
	started := time.Now()
	defer func() {
		o.metrics.ObserveTurnStage(observability.StageSummary, time.Since(started))
	}()

	duration := 0.0
	if startTime, err := o.sessions.StartTime(ctx, c.id); err == nil && startTime > 0 {
		elapsed := float64(o.now().UnixNano())/1e9 - startTime
		duration = math.Max(0, math.Round(elapsed*10)/10)
	}
	turns, err := o.sessions.UserTurnCount(ctx, c.id)
	if err != nil {
		c.logger.Warn("count user turns failed", "error", err)
	}

	msg := protocol.CallSummary{
		Type:               protocol.TypeCallSummary,
		DurationSeconds:    duration,
		TotalTurns:         turns,
		AppointmentsBooked: []map[string]any{},
	}
	text, summaryErr := o.generateSummary(ctx, c, duration, turns)
	if summaryErr != nil {
		c.logger.Error("call summary failed", "error", summaryErr)
		o.metrics.SessionEvents.WithLabelValues("summary_failed").Inc()
		msg.Summary = SummaryFailedText
	} else {
		msg.Summary = text
		msg.AppointmentsBooked = c.tools.SessionAppointments(ctx)
	}

	breakdown, costErr := c.cost.Breakdown(ctx)
	if costErr != nil {
		c.logger.Error("cost breakdown failed", "error", costErr)
	}

	persisted := false
	if summaryErr == nil {
		record := appointments.ConversationSummary{
			UserID:          c.user.ID,
			SessionID:       c.id,
			Summary:         msg.Summary,
			DurationSeconds: duration,
			TotalCost:       breakdown.TotalUSD,
		}
		if len(msg.AppointmentsBooked) > 0 {
			if raw, err := json.Marshal(msg.AppointmentsBooked); err == nil {
				record.AppointmentsDiscussed = string(raw)
			}
		}
		if err := o.appointments.SaveSummary(ctx, record); err != nil {
			c.logger.Error("persist call summary failed", "error", err)
		} else {
			persisted = true
		}
	}

	o.send(ctx, c.outbound, msg)
	if costErr == nil {
		o.send(ctx, c.outbound, protocol.CostBreakdown{Type: protocol.TypeCostBreakdown, Costs: breakdown})
	}

	if persisted {
		if err := c.cost.Clear(ctx); err != nil {
			c.logger.Warn("clear cost ledger failed", "error", err)
		}
	}
	if err := o.sessions.SetStatus(ctx, c.id, session.StatusEnded); err != nil {
		c.logger.Warn("set session ended failed", "error", err)
	}
	c.logger.Info("call ended", "duration_seconds", duration, "turns", turns, "total_usd", breakdown.TotalUSD)
}
