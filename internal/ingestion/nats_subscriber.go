package ingestion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"XspdLeaderboard/internal/event"
	"XspdLeaderboard/internal/observability"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// PriceTickType is the SubjectConfig.EventType of oracle price subjects.
// Ticks feed the price cache and never reach the engine.
const PriceTickType = "PriceTick"

// NATSSubscriber subscribes to NATS JetStream subjects and feeds raw
// messages into the ingestion loop via rawChan.
type NATSSubscriber struct {
	js        jetstream.JetStream
	rawChan   chan<- RawEvent
	consumers []jetstream.ConsumeContext
	log       zerolog.Logger
}

// RawEvent is an undecoded inbound message. Exactly one of AckFunc,
// NakFunc or TermFunc is called once the message has been handled.
type RawEvent struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	AckFunc   func() // processed or rejected for good
	NakFunc   func() // transient failure, redeliver
	TermFunc  func() // undecodable, never redeliver
}

// SubjectConfig maps a NATS subject to a command type.
type SubjectConfig struct {
	Subject      string
	EventType    string
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns the standard subject configuration.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "xspd.trades.recorded.>", EventType: event.EventTypeRecordTrade.String(), ConsumerName: "xspd-trades-recorded", StreamName: "XSPD_TRADES"},
		{Subject: "xspd.trades.failed.>", EventType: event.EventTypeRecordFailedTrade.String(), ConsumerName: "xspd-trades-failed", StreamName: "XSPD_TRADES"},
		{Subject: "xspd.traders.register.>", EventType: event.EventTypeRegisterTrader.String(), ConsumerName: "xspd-traders-register", StreamName: "XSPD_TRADERS"},
		{Subject: "xspd.stakes.deposit.>", EventType: event.EventTypeStakeTokens.String(), ConsumerName: "xspd-stakes-deposit", StreamName: "XSPD_STAKES"},
		{Subject: "xspd.stakes.withdraw.>", EventType: event.EventTypeWithdrawStake.String(), ConsumerName: "xspd-stakes-withdraw", StreamName: "XSPD_STAKES"},
		{Subject: "xspd.rewards.distribute.>", EventType: event.EventTypeDistributeRewards.String(), ConsumerName: "xspd-rewards-distribute", StreamName: "XSPD_REWARDS"},
		{Subject: "xspd.rewards.claim.>", EventType: event.EventTypeClaimRewards.String(), ConsumerName: "xspd-rewards-claim", StreamName: "XSPD_REWARDS"},
		{Subject: "xspd.prices.>", EventType: PriceTickType, ConsumerName: "xspd-prices", StreamName: "XSPD_PRICES"},
	}
}

// ResolveEventType maps a concrete subject to its configured event type by
// matching the subject prefix in front of the trailing wildcard.
func ResolveEventType(subject string, subjects []SubjectConfig) (string, bool) {
	for _, cfg := range subjects {
		prefix := strings.TrimSuffix(cfg.Subject, ">")
		if strings.HasPrefix(subject, prefix) {
			return cfg.EventType, true
		}
	}
	return "", false
}

func NewNATSSubscriber(js jetstream.JetStream, rawChan chan<- RawEvent) *NATSSubscriber {
	return &NATSSubscriber{
		js:      js,
		rawChan: rawChan,
		log:     observability.NewLogger("nats-subscriber"),
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawEvent{
				Subject:   msg.Subject(),
				Data:      msg.Data(),
				Timestamp: time.Now(),
				AckFunc:   func() { msg.Ack() },
				NakFunc:   func() { msg.Nak() },
				TermFunc:  func() { msg.Term() },
			}

			select {
			case ns.rawChan <- raw:
			case <-ctx.Done():
				msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		ns.log.Info().
			Str("subject", cfg.Subject).
			Str("consumer", cfg.ConsumerName).
			Msg("subscribed")
	}

	return nil
}

// EnsureStreams creates the inbound JetStream streams if they don't exist.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	log := observability.NewLogger("nats-subscriber")
	streams := []struct {
		name    string
		subject string
	}{
		{"XSPD_TRADES", "xspd.trades.>"},
		{"XSPD_TRADERS", "xspd.traders.>"},
		{"XSPD_STAKES", "xspd.stakes.>"},
		{"XSPD_REWARDS", "xspd.rewards.>"},
		{"XSPD_PRICES", "xspd.prices.>"},
	}

	for _, s := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, streamConfig(s.name, s.subject)); err != nil {
			return fmt.Errorf("create stream %s: %w", s.name, err)
		}
		log.Info().Str("stream", s.name).Msg("ensured stream")
	}

	return nil
}

func streamConfig(name, subject string) jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:      name,
		Subjects:  []string{subject},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	}
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.log.Info().Msg("NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string) (*nats.Conn, jetstream.JetStream, error) {
	log := observability.NewLogger("nats")
	nc, err := nats.Connect(url,
		nats.Name("xspd-leaderboard"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
