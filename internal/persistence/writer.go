package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"OptionLedger/internal/core"
	"OptionLedger/internal/receipt"
)

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// EventLogWriter writes transactions, journals and protocol events to
// Postgres using multi-row INSERTs. Every statement is idempotent on its
// primary key so a retried batch is harmless.
type EventLogWriter struct {
	db *sql.DB
}

// TransactionRow represents a row in event_log.transactions
type TransactionRow struct {
	Sequence   int64
	TxID       string
	EventType  string
	Sender     string
	Nonce      int64
	Payload    []byte // JSON-encoded transaction
	StateHash  []byte
	PrevHash   []byte
	BlockTime  int64
	RecordedAt time.Time
}

// JournalRow represents a row in event_log.journals. Amount is a decimal
// string so it round-trips through NUMERIC without loss.
type JournalRow struct {
	JournalID     string
	BatchID       string
	TxID          string
	Sequence      int64
	DebitAccount  string
	CreditAccount string
	AssetID       uint16
	Amount        string
	JournalType   string
	BlockTime     int64
}

// ProtocolEventRow represents a row in event_log.protocol_events
type ProtocolEventRow struct {
	Sequence  int64
	LogIndex  int
	Source    string
	Name      string
	Topic     string
	Data      []byte
	BlockTime int64
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// BuildRows flattens one core output into its log rows.
func BuildRows(out core.CoreOutput) (TransactionRow, []JournalRow, []ProtocolEventRow, error) {
	env := out.Envelope
	tx := TransactionRow{
		Sequence:   env.Sequence,
		TxID:       env.IdempotencyKey,
		EventType:  env.EventType.String(),
		Sender:     env.Sender.Hex(),
		Nonce:      env.SourceSequence,
		Payload:    env.Payload,
		StateHash:  env.StateHash[:],
		PrevHash:   env.PrevHash[:],
		BlockTime:  env.Timestamp,
		RecordedAt: time.Now().UTC(),
	}

	var journals []JournalRow
	if out.Batch != nil {
		journals = make([]JournalRow, 0, len(out.Batch.Journals))
		for _, j := range out.Batch.Journals {
			journals = append(journals, JournalRow{
				JournalID:     j.JournalID.String(),
				BatchID:       j.BatchID.String(),
				TxID:          j.EventRef,
				Sequence:      j.Sequence,
				DebitAccount:  j.DebitAccount.AccountPath(),
				CreditAccount: j.CreditAccount.AccountPath(),
				AssetID:       uint16(j.AssetID),
				Amount:        j.Amount.String(),
				JournalType:   j.JournalType.String(),
				BlockTime:     j.Timestamp,
			})
		}
	}

	events := make([]ProtocolEventRow, 0, len(out.Logs))
	for _, l := range out.Logs {
		data, err := json.Marshal(l.Event)
		if err != nil {
			return TransactionRow{}, nil, nil, fmt.Errorf("encode %s log: %w", l.Event.EventName(), err)
		}
		events = append(events, ProtocolEventRow{
			Sequence:  env.Sequence,
			LogIndex:  l.Index,
			Source:    l.Source.Hex(),
			Name:      l.Event.EventName(),
			Topic:     receipt.Topic(l.Event).Hex(),
			Data:      data,
			BlockTime: env.Timestamp,
		})
	}
	return tx, journals, events, nil
}

// placeholders renders "($1, $2, ...), ($n+1, ...)" for rows of width cols.
func placeholders(rows, cols int) string {
	values := make([]string, 0, rows)
	for i := 0; i < rows; i++ {
		ph := make([]string, cols)
		for c := 0; c < cols; c++ {
			ph[c] = fmt.Sprintf("$%d", i*cols+c+1)
		}
		values = append(values, "("+strings.Join(ph, ", ")+")")
	}
	return strings.Join(values, ", ")
}

// WriteTransactionBatch writes a batch of applied transactions.
func (w *EventLogWriter) WriteTransactionBatch(ctx context.Context, ex execer, txs []TransactionRow) error {
	if len(txs) == 0 {
		return nil
	}
	args := make([]any, 0, len(txs)*10)
	for _, t := range txs {
		args = append(args,
			t.Sequence, t.TxID, t.EventType, t.Sender, t.Nonce,
			t.Payload, t.StateHash, t.PrevHash, t.BlockTime, t.RecordedAt,
		)
	}
	query := `INSERT INTO event_log.transactions
		(sequence, tx_id, event_type, sender, nonce, payload, state_hash, prev_hash, block_time, recorded_at)
		VALUES ` + placeholders(len(txs), 10) + ` ON CONFLICT (sequence) DO NOTHING`
	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// WriteJournalBatch writes a batch of token journals.
func (w *EventLogWriter) WriteJournalBatch(ctx context.Context, ex execer, journals []JournalRow) error {
	if len(journals) == 0 {
		return nil
	}
	args := make([]any, 0, len(journals)*10)
	for _, j := range journals {
		args = append(args,
			j.JournalID, j.BatchID, j.TxID, j.Sequence,
			j.DebitAccount, j.CreditAccount, j.AssetID, j.Amount,
			j.JournalType, j.BlockTime,
		)
	}
	query := `INSERT INTO event_log.journals
		(journal_id, batch_id, tx_id, sequence, debit_account, credit_account, asset_id, amount, journal_type, block_time)
		VALUES ` + placeholders(len(journals), 10) + ` ON CONFLICT (journal_id) DO NOTHING`
	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// WriteProtocolEventBatch writes the indexer-facing events.
func (w *EventLogWriter) WriteProtocolEventBatch(ctx context.Context, ex execer, events []ProtocolEventRow) error {
	if len(events) == 0 {
		return nil
	}
	args := make([]any, 0, len(events)*7)
	for _, e := range events {
		args = append(args, e.Sequence, e.LogIndex, e.Source, e.Name, e.Topic, e.Data, e.BlockTime)
	}
	query := `INSERT INTO event_log.protocol_events
		(sequence, log_index, source, name, topic, data, block_time)
		VALUES ` + placeholders(len(events), 7) + ` ON CONFLICT (sequence, log_index) DO NOTHING`
	_, err := ex.ExecContext(ctx, query, args...)
	return err
}
