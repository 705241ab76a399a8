package ingestion

import (
	"context"
	"errors"

	"XspdLeaderboard/internal/core"
	"XspdLeaderboard/internal/event"
	"XspdLeaderboard/internal/ledger"
	"XspdLeaderboard/internal/observability"

	"github.com/rs/zerolog"
)

// PriceSink accepts oracle ticks. Update reports whether the tick was newer
// than the cached one.
type PriceSink interface {
	Update(tick event.PriceTick) bool
}

// Loop decodes raw messages and routes them: price ticks to the price sink,
// commands through the dispatcher.
type Loop struct {
	dispatcher *Dispatcher
	prices     PriceSink
	subjects   []SubjectConfig
	metrics    *observability.Metrics
	log        zerolog.Logger
}

func NewLoop(dispatcher *Dispatcher, prices PriceSink, subjects []SubjectConfig, metrics *observability.Metrics) *Loop {
	return &Loop{
		dispatcher: dispatcher,
		prices:     prices,
		subjects:   subjects,
		metrics:    metrics,
		log:        observability.NewLogger("ingestion"),
	}
}

// Run drains rawChan until it is closed or ctx is cancelled.
func (l *Loop) Run(ctx context.Context, rawChan <-chan RawEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-rawChan:
			if !ok {
				return nil
			}
			l.Handle(ctx, raw)
		}
	}
}

// Handle processes one message and settles it with exactly one of
// ack, nak or term.
func (l *Loop) Handle(ctx context.Context, raw RawEvent) {
	eventType, ok := ResolveEventType(raw.Subject, l.subjects)
	if !ok {
		l.log.Warn().Str("subject", raw.Subject).Msg("no route for subject")
		l.settle(raw.TermFunc, "unrouted")
		return
	}

	if eventType == PriceTickType {
		l.handlePrice(raw)
		return
	}

	cmd, err := ParseCommand(event.ParseEventType(eventType), raw.Data)
	if err != nil {
		l.log.Warn().Err(err).Str("subject", raw.Subject).Msg("malformed command")
		l.settle(raw.TermFunc, "malformed")
		return
	}

	out, err := l.dispatcher.Submit(ctx, cmd)
	switch {
	case err == nil && out == nil:
		l.settle(raw.AckFunc, "duplicate")
	case err == nil:
		l.log.Debug().
			Int64("sequence", out.Envelope.Sequence).
			Str("command", eventType).
			Str("request_id", cmd.IdempotencyKey()).
			Msg("applied")
		l.settle(raw.AckFunc, "applied")
	case IsTransient(err):
		l.log.Warn().Err(err).Str("command", eventType).Str("request_id", cmd.IdempotencyKey()).Msg("transient failure, redelivering")
		l.settle(raw.NakFunc, "retry")
	default:
		l.log.Info().
			Str("command", eventType).
			Str("request_id", cmd.IdempotencyKey()).
			Str("reason", core.RejectReason(err)).
			Msg("command rejected")
		l.settle(raw.AckFunc, "rejected")
	}
}

func (l *Loop) handlePrice(raw RawEvent) {
	tick, err := ParsePriceTick(raw.Data)
	if err != nil {
		l.log.Warn().Err(err).Str("subject", raw.Subject).Msg("malformed price tick")
		l.settle(raw.TermFunc, "malformed")
		return
	}
	if l.prices == nil || !l.prices.Update(tick) {
		l.settle(raw.AckFunc, "stale")
		return
	}
	l.settle(raw.AckFunc, "price")
}

func (l *Loop) settle(fn func(), status string) {
	if fn != nil {
		fn()
	}
	if l.metrics != nil {
		l.metrics.IngestMessages.WithLabelValues("nats", status).Inc()
	}
}

// IsTransient reports whether a failed command may succeed on redelivery.
// Business rejections are final.
func IsTransient(err error) bool {
	if errors.Is(err, ledger.ErrInsufficientFunds) || errors.Is(err, ledger.ErrUnauthorizedTransfer) {
		return false
	}
	return errors.Is(err, core.ErrTransferFailed) ||
		errors.Is(err, core.ErrPriceUnavailable) ||
		errors.Is(err, ErrDispatcherStopped) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
