package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"OptionLedger/internal/core"
	"OptionLedger/internal/errs"
	"OptionLedger/internal/event"
	"OptionLedger/internal/observability"

	"github.com/rs/zerolog"
)

// ErrStopped is returned by Submit once the core loop has exited.
var ErrStopped = errors.New("ingestion: core loop stopped")

// ErrFutureTimestamp rejects a transaction stamped ahead of the node's clock.
var ErrFutureTimestamp = errs.Input("ingestion: timestamp is ahead of the node clock")

// DefaultMaxClockSkew is how far ahead of the node clock a client
// timestamp may run.
const DefaultMaxClockSkew = 30 * time.Second

// Processor applies one transaction. *core.DeterministicCore implements it.
type Processor interface {
	ProcessEvent(evt event.Event) (core.Result, error)
}

// Submission is one transaction waiting for the core loop.
type Submission struct {
	Event    event.Event
	Source   string
	Received time.Time
	reply    chan submitResult
}

type submitResult struct {
	res core.Result
	err error
}

// Submitter funnels every ingest surface (HTTP, NATS) into a single
// goroutine that owns the core. Transactions are applied in the order the
// loop receives them.
//
// Block time comes from the client but may not run more than maxSkew ahead
// of the node clock. The core already refuses timestamps that go backwards.
type Submitter struct {
	queue   chan Submission
	done    chan struct{}
	maxSkew time.Duration
	now     func() time.Time
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// NewSubmitter builds a submitter. A non-positive maxSkew selects
// DefaultMaxClockSkew.
func NewSubmitter(buffer int, maxSkew time.Duration, metrics *observability.Metrics) *Submitter {
	if maxSkew <= 0 {
		maxSkew = DefaultMaxClockSkew
	}
	return &Submitter{
		queue:   make(chan Submission, buffer),
		done:    make(chan struct{}),
		maxSkew: maxSkew,
		now:     time.Now,
		metrics: metrics,
		logger:  observability.NewLogger("submitter"),
	}
}

// SetClock replaces the clock timestamps are bounded against.
func (s *Submitter) SetClock(now func() time.Time) { s.now = now }

// Submit queues evt and waits for the core's verdict.
func (s *Submitter) Submit(ctx context.Context, source string, evt event.Event) (core.Result, error) {
	received := s.now()
	if limit := received.Add(s.maxSkew).Unix(); evt.BlockTime() > limit {
		return core.Result{}, fmt.Errorf("%w: %d > %d", ErrFutureTimestamp, evt.BlockTime(), limit)
	}
	sub := Submission{
		Event:    evt,
		Source:   source,
		Received: received,
		reply:    make(chan submitResult, 1),
	}
	select {
	case s.queue <- sub:
	case <-s.done:
		return core.Result{}, ErrStopped
	case <-ctx.Done():
		return core.Result{}, ctx.Err()
	}

	select {
	case r := <-sub.reply:
		return r.res, r.err
	case <-ctx.Done():
		// The loop may still apply it; the caller can resubmit with the same
		// tx_id and get Duplicate.
		return core.Result{}, ctx.Err()
	}
}

// Run is the core loop. It must be the only caller of p.ProcessEvent.
func (s *Submitter) Run(ctx context.Context, p Processor) error {
	defer close(s.done)
	s.logger.Info().Int("buffer", cap(s.queue)).Msg("core loop started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("core loop stopped")
			return ctx.Err()
		case sub := <-s.queue:
			res, err := p.ProcessEvent(sub.Event)
			s.observe(sub, res, err)
			sub.reply <- submitResult{res: res, err: err}
		}
	}
}

func (s *Submitter) observe(sub Submission, res core.Result, err error) {
	eventType := sub.Event.EventType().String()
	outcome := "applied"
	switch {
	case err != nil:
		outcome = errs.CategoryOf(err).String()
		ev := s.logger.Debug()
		if errs.CategoryOf(err) == errs.CategoryInvariantViolation {
			ev = s.logger.Warn()
		}
		ev.Err(err).
			Str("event_type", eventType).
			Str("tx_id", sub.Event.IdempotencyKey()).
			Str("sender", sub.Event.Sender().Hex()).
			Msg("transaction rejected")
	case res.Duplicate:
		outcome = "duplicate"
	case res.Ignored:
		outcome = "ignored"
	}
	if s.metrics != nil {
		s.metrics.TxSubmissions.WithLabelValues(eventType, outcome).Inc()
		if outcome == "applied" {
			s.metrics.IngestToApply.WithLabelValues(sub.Source).Observe(s.now().Sub(sub.Received).Seconds())
		}
	}
}
