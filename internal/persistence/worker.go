package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"OptionLedger/internal/core"
	"OptionLedger/internal/observability"

	"github.com/rs/zerolog"
)

// PersistenceWorker drains the persist channel and batch-writes to Postgres.
// The core sends on that channel with a blocking send, so if this worker
// falls behind the core stalls and no applied transaction is lost.
type PersistenceWorker struct {
	writer       *EventLogWriter
	inputChan    <-chan core.CoreOutput
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	logger       zerolog.Logger

	// onFlushed is told the last sequence of every committed batch.
	onFlushed func(seq int64)
	// forward receives every committed output, for outbound publishing.
	forward chan<- core.CoreOutput
}

type pendingBatch struct {
	outputs  []core.CoreOutput
	txs      []TransactionRow
	journals []JournalRow
	events   []ProtocolEventRow
}

func (b *pendingBatch) reset() {
	b.outputs = b.outputs[:0]
	b.txs = b.txs[:0]
	b.journals = b.journals[:0]
	b.events = b.events[:0]
}

func NewPersistenceWorker(
	db *sql.DB,
	inputChan <-chan core.CoreOutput,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
) *PersistenceWorker {
	return &PersistenceWorker{
		writer:       NewEventLogWriter(db),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		logger:       observability.NewLogger("persistence"),
	}
}

// OnFlushed registers a callback run after each committed batch. Used by the
// snapshotter to know which sequences are durable.
func (pw *PersistenceWorker) OnFlushed(fn func(seq int64)) {
	pw.onFlushed = fn
}

// Forward sends committed outputs to ch without blocking. A full channel
// drops the output; the event log stays the source of truth.
func (pw *PersistenceWorker) Forward(ch chan<- core.CoreOutput) {
	pw.forward = ch
}

// Run batches incoming outputs and flushes either when the batch is full or
// the flush timeout expires. Blocks until ctx is cancelled or the input
// channel is closed.
func (pw *PersistenceWorker) Run(ctx context.Context) error {
	batch := &pendingBatch{
		txs:      make([]TransactionRow, 0, pw.batchSize),
		journals: make([]JournalRow, 0, pw.batchSize*3),
	}

	timer := time.NewTimer(pw.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(batch.txs) > 0 {
				if err := pw.flush(context.Background(), batch); err != nil {
					pw.logger.Error().Err(err).Int("txs", len(batch.txs)).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				if len(batch.txs) > 0 {
					if err := pw.flush(context.Background(), batch); err != nil {
						pw.logger.Error().Err(err).Int("txs", len(batch.txs)).Msg("final flush failed")
					}
				}
				return nil
			}

			tx, journals, events, err := BuildRows(output)
			if err != nil {
				// The core already validated these logs; an encoding failure here
				// means the log would diverge from the chain.
				panic(fmt.Sprintf("FATAL: cannot build rows for seq %d: %v", output.Envelope.Sequence, err))
			}
			batch.outputs = append(batch.outputs, output)
			batch.txs = append(batch.txs, tx)
			batch.journals = append(batch.journals, journals...)
			batch.events = append(batch.events, events...)

			if len(batch.txs) >= pw.batchSize {
				if err := pw.flushWithRetry(ctx, batch); err != nil {
					pw.logger.Error().Err(err).Msg("batch flush failed after retries")
				}
				batch.reset()
				timer.Reset(pw.flushTimeout)
			}

		case <-timer.C:
			if len(batch.txs) > 0 {
				if err := pw.flushWithRetry(ctx, batch); err != nil {
					pw.logger.Error().Err(err).Msg("timeout flush failed after retries")
				}
				batch.reset()
			}
			timer.Reset(pw.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds or
// ctx is cancelled. It never drops a batch.
func (pw *PersistenceWorker) flushWithRetry(ctx context.Context, batch *pendingBatch) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			pw.logger.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("txs", len(batch.txs)).
				Msg("persistence retry")
			select {
			case <-ctx.Done():
				if err := pw.flush(context.Background(), batch); err != nil {
					return fmt.Errorf("final flush on shutdown failed: %w", err)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := pw.flush(ctx, batch)
		if err == nil {
			if attempt > 0 {
				pw.logger.Info().Int("retries", attempt).Msg("persistence flush succeeded")
			}
			return nil
		}
		pw.logger.Error().Err(err).Msg("persistence flush failed")
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("retry").Inc()
		}
	}
}

func (pw *PersistenceWorker) flush(ctx context.Context, batch *pendingBatch) error {
	start := time.Now()

	tx, err := pw.writer.db.BeginTx(ctx, nil)
	if err != nil {
		pw.countError("tx_begin")
		return err
	}
	defer tx.Rollback()

	if err := pw.writer.WriteTransactionBatch(ctx, tx, batch.txs); err != nil {
		pw.countError("write_transactions")
		return err
	}
	if err := pw.writer.WriteJournalBatch(ctx, tx, batch.journals); err != nil {
		pw.countError("write_journals")
		return err
	}
	if err := pw.writer.WriteProtocolEventBatch(ctx, tx, batch.events); err != nil {
		pw.countError("write_protocol_events")
		return err
	}
	if err := tx.Commit(); err != nil {
		pw.countError("tx_commit")
		return err
	}

	last := batch.txs[len(batch.txs)-1].Sequence
	if pw.metrics != nil {
		pw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		pw.metrics.PersistBatchSize.Observe(float64(len(batch.txs)))
		pw.metrics.PersistEventsWritten.Add(float64(len(batch.txs)))
		pw.metrics.PersistJournalsWritten.Add(float64(len(batch.journals)))
		pw.metrics.PersistLastSequence.Set(float64(last))
	}
	if pw.onFlushed != nil {
		pw.onFlushed(last)
	}
	if pw.forward != nil {
		for _, out := range batch.outputs {
			select {
			case pw.forward <- out:
			default:
				if pw.metrics != nil {
					pw.metrics.PublishDrops.Inc()
				}
			}
		}
	}
	return nil
}

func (pw *PersistenceWorker) countError(kind string) {
	if pw.metrics != nil {
		pw.metrics.PersistErrors.WithLabelValues(kind).Inc()
	}
}
