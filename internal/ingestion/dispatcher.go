package ingestion

import (
	"context"
	"errors"
	"time"

	"XspdLeaderboard/internal/core"
	"XspdLeaderboard/internal/event"
	"XspdLeaderboard/internal/observability"

	"github.com/rs/zerolog"
)

// ErrDispatcherStopped is returned by Submit and Do after Run has exited.
var ErrDispatcherStopped = errors.New("dispatcher stopped")

// Dispatcher serializes every access to the engine onto one goroutine.
// NATS consumers, gRPC handlers and the snapshot ticker all go through it.
type Dispatcher struct {
	engine   *core.Engine
	requests chan request
	done     chan struct{}
	metrics  *observability.Metrics
	log      zerolog.Logger
}

type request struct {
	ctx      context.Context
	cmd      event.Event
	fn       func(*core.Engine)
	received time.Time
	reply    chan result
}

type result struct {
	out *core.CoreOutput
	err error
}

func NewDispatcher(engine *core.Engine, bufferSize int, metrics *observability.Metrics) *Dispatcher {
	return &Dispatcher{
		engine:   engine,
		requests: make(chan request, bufferSize),
		done:     make(chan struct{}),
		metrics:  metrics,
		log:      observability.NewLogger("dispatcher"),
	}
}

// Run owns the engine until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer close(d.done)
	d.log.Info().Int64("sequence", d.engine.GetSequence()).Msg("dispatcher started")

	for {
		select {
		case <-ctx.Done():
			d.log.Info().Int64("sequence", d.engine.GetSequence()).Msg("dispatcher stopped")
			return ctx.Err()

		case req := <-d.requests:
			req.reply <- d.handle(req)
			if d.metrics != nil {
				d.metrics.SetChannelMetrics("commands", len(d.requests), cap(d.requests))
			}
		}
	}
}

func (d *Dispatcher) handle(req request) result {
	if req.fn != nil {
		req.fn(d.engine)
		return result{}
	}

	// The caller gave up while the request was queued.
	if err := req.ctx.Err(); err != nil {
		return result{err: err}
	}

	out, err := d.engine.ProcessCommand(req.ctx, req.cmd)
	if err == nil && out != nil && d.metrics != nil {
		d.metrics.IngestToApply.WithLabelValues(req.cmd.EventType().String()).
			Observe(time.Since(req.received).Seconds())
	}
	return result{out: out, err: err}
}

// Submit applies cmd and waits for the result. A nil output with a nil error
// means the request id was a duplicate. If ctx ends after the command was
// queued it may still be applied; resubmitting with the same request id is
// safe.
func (d *Dispatcher) Submit(ctx context.Context, cmd event.Event) (*core.CoreOutput, error) {
	res, err := d.send(ctx, request{ctx: ctx, cmd: cmd, received: time.Now()})
	if err != nil {
		return nil, err
	}
	return res.out, res.err
}

// Do runs fn on the engine goroutine. fn must not retain the engine.
func (d *Dispatcher) Do(ctx context.Context, fn func(*core.Engine)) error {
	_, err := d.send(ctx, request{ctx: ctx, fn: fn, received: time.Now()})
	return err
}

func (d *Dispatcher) send(ctx context.Context, req request) (result, error) {
	req.reply = make(chan result, 1)

	select {
	case d.requests <- req:
	case <-ctx.Done():
		return result{}, ctx.Err()
	case <-d.done:
		return result{}, ErrDispatcherStopped
	}

	select {
	case res := <-req.reply:
		return res, nil
	case <-ctx.Done():
		return result{}, ctx.Err()
	case <-d.done:
		return result{}, ErrDispatcherStopped
	}
}
