// Package projection maintains the Postgres read models served by the query
// API. Projections are eventually consistent: outputs may be dropped by the
// core, and the worker resyncs from the core's live state when it notices.
package projection

import (
	"context"
	"time"

	"OptionLedger/internal/core"
	"OptionLedger/internal/observability"

	"github.com/rs/zerolog"
)

// StateSource provides a full read-model view for resync.
type StateSource interface {
	ProjectionState() core.ProjectionState
}

// ProjectionWorker updates projection tables from processed transactions.
type ProjectionWorker struct {
	store     Store
	source    StateSource
	inputChan <-chan core.CoreOutput
	activity  *ActivityFeed
	metrics   *observability.Metrics
	logger    zerolog.Logger

	lastSeq int64
}

func NewProjectionWorker(store Store, source StateSource, inputChan <-chan core.CoreOutput, activity *ActivityFeed, metrics *observability.Metrics) *ProjectionWorker {
	return &ProjectionWorker{
		store:     store,
		source:    source,
		inputChan: inputChan,
		activity:  activity,
		metrics:   metrics,
		logger:    observability.NewLogger("projection"),
		lastSeq:   -1,
	}
}

// LastSequence is the last sequence written to the store.
func (pw *ProjectionWorker) LastSequence() int64 { return pw.lastSeq }

// Run loads the watermark, catches up from the core if it is behind, then
// applies outputs until ctx is cancelled or the channel closes.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	wm, err := pw.store.Watermark(ctx)
	if err != nil {
		pw.logger.Warn().Err(err).Msg("read watermark, assuming empty projections")
		wm = -1
	}
	pw.lastSeq = wm
	if pw.source != nil && pw.source.ProjectionState().Sequence > wm {
		pw.resync(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}
			pw.handle(ctx, output)
		}
	}
}

func (pw *ProjectionWorker) handle(ctx context.Context, output core.CoreOutput) {
	seq := output.Envelope.Sequence
	if pw.activity != nil {
		pw.activity.Record(output)
	}
	if seq <= pw.lastSeq {
		return
	}
	if seq > pw.lastSeq+1 && pw.source != nil {
		pw.logger.Warn().Int64("expected", pw.lastSeq+1).Int64("got", seq).Msg("projection gap, resyncing")
		pw.resync(ctx)
		if seq <= pw.lastSeq {
			return
		}
	}

	start := time.Now()
	if err := pw.store.Apply(ctx, seq, updateFromOutput(output)); err != nil {
		// Left for the next resync; the watermark did not move.
		pw.logger.Warn().Err(err).Int64("seq", seq).Msg("projection update failed")
		return
	}
	pw.lastSeq = seq
	if pw.metrics != nil {
		pw.metrics.ProjectionUpdateDur.WithLabelValues("all").Observe(time.Since(start).Seconds())
	}
}

// resync writes the core's full current view. Rows already newer are kept.
func (pw *ProjectionWorker) resync(ctx context.Context) {
	st := pw.source.ProjectionState()
	if st.Sequence < 0 {
		return
	}
	start := time.Now()
	if err := pw.store.Apply(ctx, st.Sequence, updateFromState(st)); err != nil {
		pw.logger.Error().Err(err).Int64("seq", st.Sequence).Msg("projection resync failed")
		return
	}
	pw.lastSeq = st.Sequence
	if pw.metrics != nil {
		pw.metrics.ProjectionUpdateDur.WithLabelValues("resync").Observe(time.Since(start).Seconds())
	}
	pw.logger.Info().Int64("seq", st.Sequence).Dur("took", time.Since(start)).Msg("projections resynced")
}

// Rebuild clears the projections and writes the core's current view.
func Rebuild(ctx context.Context, store *PostgresStore, source StateSource) error {
	if err := store.Truncate(ctx); err != nil {
		return err
	}
	st := source.ProjectionState()
	if st.Sequence < 0 {
		return nil
	}
	return store.Apply(ctx, st.Sequence, updateFromState(st))
}
