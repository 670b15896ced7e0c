package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"OptionLedger/internal/core"
	"OptionLedger/internal/observability"
	"OptionLedger/internal/receipt"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	EventsStream      = "OPTL_EVENTS"
	EventsSubjectRoot = "optl.events"
)

// OutboundEvent is the message published for each protocol event of a
// persisted transaction.
type OutboundEvent struct {
	Sequence  int64           `json:"sequence"`
	TxID      string          `json:"tx_id"`
	TxType    string          `json:"tx_type"`
	LogIndex  int             `json:"log_index"`
	Source    string          `json:"source"`
	Name      string          `json:"name"`
	Topic     string          `json:"topic"`
	Data      json.RawMessage `json:"data"`
	StateHash string          `json:"state_hash"`
	BlockTime int64           `json:"block_time"`
}

// BuildOutbound turns the logs of one output into outbound messages.
func BuildOutbound(out core.CoreOutput) ([]OutboundEvent, error) {
	env := out.Envelope
	msgs := make([]OutboundEvent, 0, len(out.Logs))
	for _, l := range out.Logs {
		data, err := json.Marshal(l.Event)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", l.Event.EventName(), err)
		}
		msgs = append(msgs, OutboundEvent{
			Sequence:  env.Sequence,
			TxID:      env.IdempotencyKey,
			TxType:    env.EventType.String(),
			LogIndex:  l.Index,
			Source:    l.Source.Hex(),
			Name:      l.Event.EventName(),
			Topic:     receipt.Topic(l.Event).Hex(),
			Data:      data,
			StateHash: fmt.Sprintf("%x", env.StateHash),
			BlockTime: env.Timestamp,
		})
	}
	return msgs, nil
}

// OutboundPublisher publishes protocol events to optl.events.<name> once
// their transaction is persisted. Publishing is best effort: subscribers that
// miss a message can read the event log.
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan core.CoreOutput
	logger    zerolog.Logger
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan core.CoreOutput) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		logger:    observability.NewLogger("publisher"),
	}
}

func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out, ok := <-op.inputChan:
			if !ok {
				return nil
			}
			if err := op.publish(ctx, out); err != nil {
				op.logger.Warn().Err(err).Int64("seq", out.Envelope.Sequence).Msg("outbound publish failed")
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, out core.CoreOutput) error {
	msgs, err := BuildOutbound(out)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("marshal outbound: %w", err)
		}
		// The message id lets JetStream drop republished duplicates.
		msgID := fmt.Sprintf("%d-%d", m.Sequence, m.LogIndex)
		if _, err := op.js.Publish(ctx, EventsSubjectRoot+"."+m.Name, data, jetstream.WithMsgID(msgID)); err != nil {
			return fmt.Errorf("publish %s: %w", msgID, err)
		}
	}
	return nil
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       EventsStream,
		Subjects:   []string{EventsSubjectRoot + ".>"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     72 * time.Hour,
		Duplicates: 10 * time.Minute,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	return nil
}
