package ingestion

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"XspdLeaderboard/internal/core"
	"XspdLeaderboard/internal/event"
	"XspdLeaderboard/internal/observability"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// OutboundPublisher publishes applied commands to NATS for downstream
// consumers. Subjects follow xspd.leaderboard.events.{event_type}.
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan PublishableEvent
	log       zerolog.Logger
}

// PublishableEvent is an applied command ready for outbound publishing.
type PublishableEvent struct {
	Sequence  int64        `json:"sequence"`
	EventType string       `json:"event_type"`
	RequestID string       `json:"request_id"`
	Trader    *string      `json:"trader,omitempty"`
	Payload   EventPayload `json:"payload"`
	StateHash string       `json:"state_hash"`
	Timestamp int64        `json:"timestamp"`
}

// EventPayload carries the command-specific outcome.
type EventPayload struct {
	TotalTrades        *uint64  `json:"total_trades,omitempty"`
	TotalExecutionTime *uint64  `json:"total_execution_time,omitempty"`
	FailedTrades       *uint64  `json:"failed_trades,omitempty"`
	LeaderboardOutcome string   `json:"leaderboard_outcome,omitempty"`
	Evicted            string   `json:"evicted,omitempty"`
	BoardTrades        *uint64  `json:"board_trades,omitempty"`
	RewardPerTrader    *uint64  `json:"reward_per_trader,omitempty"`
	PaidAccounts       []string `json:"paid_accounts,omitempty"`
	SkippedTraders     []string `json:"skipped_traders,omitempty"`
	StakedAmount       *uint64  `json:"staked_amount,omitempty"`
	ClaimedAmount      *uint64  `json:"claimed_amount,omitempty"`
}

// NewPublishableEvent summarizes an applied command for downstream consumers.
func NewPublishableEvent(out *core.CoreOutput) PublishableEvent {
	env := out.Envelope
	evt := PublishableEvent{
		Sequence:  env.Sequence,
		EventType: env.EventType.String(),
		RequestID: env.IdempotencyKey,
		StateHash: hex.EncodeToString(env.StateHash[:]),
		Timestamp: env.Now,
	}
	if env.Trader != uuid.Nil {
		s := env.Trader.String()
		evt.Trader = &s
	}

	if out.Stats != nil {
		stats := *out.Stats
		evt.Payload.TotalTrades = &stats.TotalTrades
		evt.Payload.TotalExecutionTime = &stats.TotalExecutionTime
		evt.Payload.FailedTrades = &stats.FailedTrades
	}
	if env.EventType == event.EventTypeRecordTrade {
		evt.Payload.LeaderboardOutcome = out.Change.Outcome.String()
		if out.Change.Evicted != uuid.Nil {
			evt.Payload.Evicted = out.Change.Evicted.String()
		}
	}
	if r := out.Rewards; r != nil {
		evt.Payload.BoardTrades = &r.BoardTrades
		evt.Payload.RewardPerTrader = &r.RewardPerTrader
		for _, acc := range r.Paid {
			evt.Payload.PaidAccounts = append(evt.Payload.PaidAccounts, acc.Key.AccountPath())
		}
		for _, id := range r.Skipped {
			evt.Payload.SkippedTraders = append(evt.Payload.SkippedTraders, id.String())
		}
	}
	if out.Stake != nil {
		amount := out.Stake.StakedAmount
		evt.Payload.StakedAmount = &amount
	}
	if env.EventType == event.EventTypeClaimRewards {
		amount := out.ClaimAmount
		evt.Payload.ClaimedAmount = &amount
	}
	return evt
}

// EventSubject returns the outbound subject for an event type.
func EventSubject(eventType string) string {
	return "xspd.leaderboard.events." + eventType
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan PublishableEvent) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		log:       observability.NewLogger("publisher"),
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case evt, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, evt); err != nil {
				// Non-fatal: downstream consumers can read the event log directly
				op.log.Warn().Err(err).Int64("sequence", evt.Sequence).Msg("outbound publish failed")
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, evt PublishableEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	// Msg-ID lets JetStream drop republished duplicates after a restart.
	_, err = op.js.Publish(ctx, EventSubject(evt.EventType), data,
		jetstream.WithMsgID(fmt.Sprintf("xspd-%d", evt.Sequence)))
	return err
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	cfg := streamConfig("XSPD_LEADERBOARD_EVENTS", "xspd.leaderboard.events.>")
	cfg.Duplicates = 2 * time.Minute
	if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	log := observability.NewLogger("publisher")
	log.Info().Str("stream", cfg.Name).Msg("ensured outbound stream")
	return nil
}
