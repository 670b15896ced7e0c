package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"OptionLedger/internal/errs"
	"OptionLedger/internal/observability"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	TxStream      = "OPTL_TX"
	TxSubjectRoot = "optl.tx"
	TxConsumer    = "ledger-tx"
)

// TxSubject is where a signed transaction of the given type is published,
// e.g. optl.tx.CreateOption.
func TxSubject(eventType string) string {
	return TxSubjectRoot + "." + eventType
}

// RawEvent is a message pulled from JetStream, not yet parsed.
type RawEvent struct {
	Subject   string
	EventType string
	Data      []byte
	Received  time.Time
	AckFunc   func()
	NakFunc   func()
}

// eventTypeFromSubject reads the type token of optl.tx.<type>[.anything].
func eventTypeFromSubject(subject string) (string, error) {
	parts := strings.Split(subject, ".")
	if len(parts) < 3 || parts[0]+"."+parts[1] != TxSubjectRoot || parts[2] == "" {
		return "", fmt.Errorf("%w: subject %q", ErrUnknownType, subject)
	}
	return parts[2], nil
}

// NATSSubscriber feeds JetStream messages to the dispatcher. A single
// durable consumer over all transaction subjects keeps the stream order,
// which is what per-sender nonce ordering relies on.
type NATSSubscriber struct {
	js        jetstream.JetStream
	eventChan chan<- RawEvent
	consumer  jetstream.ConsumeContext
	logger    zerolog.Logger
}

func NewNATSSubscriber(js jetstream.JetStream, eventChan chan<- RawEvent) *NATSSubscriber {
	return &NATSSubscriber{
		js:        js,
		eventChan: eventChan,
		logger:    observability.NewLogger("nats"),
	}
}

// Subscribe creates the durable consumer. MaxAckPending is 1 so a message
// is only delivered after the previous one was acked.
func (ns *NATSSubscriber) Subscribe(ctx context.Context) error {
	consumer, err := ns.js.CreateOrUpdateConsumer(ctx, TxStream, jetstream.ConsumerConfig{
		Durable:       TxConsumer,
		FilterSubject: TxSubjectRoot + ".>",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		MaxAckPending: 1,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", TxConsumer, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		raw := RawEvent{
			Subject:  msg.Subject(),
			Data:     msg.Data(),
			Received: time.Now(),
			AckFunc:  func() { _ = msg.Ack() },
			NakFunc:  func() { _ = msg.Nak() },
		}
		eventType, err := eventTypeFromSubject(raw.Subject)
		if err != nil {
			ns.logger.Warn().Err(err).Msg("dropping message on unknown subject")
			_ = msg.Term()
			return
		}
		raw.EventType = eventType

		select {
		case ns.eventChan <- raw:
		case <-ctx.Done():
			_ = msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", TxConsumer, err)
	}
	ns.consumer = cc
	ns.logger.Info().Str("subject", TxSubjectRoot+".>").Str("consumer", TxConsumer).Msg("subscribed")
	return nil
}

func (ns *NATSSubscriber) Stop() {
	if ns.consumer != nil {
		ns.consumer.Stop()
	}
	ns.logger.Info().Msg("NATS subscriber stopped")
}

// Dispatcher parses raw messages and submits them to the core loop one at a
// time. Rejections are acked: redelivering a transaction the core refused
// would only be refused again.
type Dispatcher struct {
	submitter *Submitter
	inputChan <-chan RawEvent
	logger    zerolog.Logger
}

func NewDispatcher(submitter *Submitter, inputChan <-chan RawEvent) *Dispatcher {
	return &Dispatcher{
		submitter: submitter,
		inputChan: inputChan,
		logger:    observability.NewLogger("dispatcher"),
	}
}

func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-d.inputChan:
			if !ok {
				return nil
			}
			d.handle(ctx, raw)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, raw RawEvent) {
	evt, err := ParseSignedTx(raw.EventType, raw.Data)
	if err != nil {
		d.logger.Warn().Err(err).Str("subject", raw.Subject).Msg("rejected transaction envelope")
		raw.AckFunc()
		return
	}

	_, err = d.submitter.Submit(ctx, "nats", evt)
	switch {
	case err == nil:
		raw.AckFunc()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrStopped):
		raw.NakFunc()
	case errs.CategoryOf(err) == errs.CategoryUnknown:
		d.logger.Error().Err(err).Str("tx_id", evt.IdempotencyKey()).Msg("transaction failed, will be redelivered")
		raw.NakFunc()
	default:
		raw.AckFunc()
	}
}

// EnsureStreams creates the inbound transaction stream.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	cfg := jetstream.StreamConfig{
		Name:      TxStream,
		Subjects:  []string{TxSubjectRoot + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	}
	if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
		return fmt.Errorf("create stream %s: %w", cfg.Name, err)
	}
	return nil
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string) (*nats.Conn, jetstream.JetStream, error) {
	logger := observability.NewLogger("nats")
	nc, err := nats.Connect(url,
		nats.Name("optionledger"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
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
