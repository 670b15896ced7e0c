package persistence

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"OptionLedger/internal/core"
	"OptionLedger/internal/observability"

	"github.com/rs/zerolog"
)

var ErrSnapshotDiverged = errors.New("persistence: snapshot state hash does not match the event log")

// SnapshotSource is the core side of a snapshot.
type SnapshotSource interface {
	CreateSnapshotState() *core.SnapshotState
}

// Snapshotter takes periodic core snapshots. A snapshot is only marked
// verified once its sequence is durable in the event log and the logged
// state hash matches, so warm restart never starts from state the log
// cannot continue.
type Snapshotter struct {
	mgr      *SnapshotManager
	db       *sql.DB
	source   SnapshotSource
	interval time.Duration
	metrics  *observability.Metrics
	logger   zerolog.Logger

	flushed atomic.Int64
	mu      sync.Mutex
	lastSeq int64
}

func NewSnapshotter(db *sql.DB, source SnapshotSource, interval time.Duration, metrics *observability.Metrics) *Snapshotter {
	s := &Snapshotter{
		mgr:      NewSnapshotManager(db),
		db:       db,
		source:   source,
		interval: interval,
		metrics:  metrics,
		logger:   observability.NewLogger("snapshotter"),
		lastSeq:  -1,
	}
	s.flushed.Store(-1)
	return s
}

// Flushed records that every sequence up to seq is in the event log. Wire it
// to PersistenceWorker.OnFlushed.
func (s *Snapshotter) Flushed(seq int64) {
	for {
		cur := s.flushed.Load()
		if seq <= cur || s.flushed.CompareAndSwap(cur, seq) {
			return
		}
	}
}

func (s *Snapshotter) FlushedSequence() int64 {
	return s.flushed.Load()
}

func (s *Snapshotter) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.TakeSnapshot(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error().Err(err).Msg("snapshot failed")
			}
		}
	}
}

// TakeSnapshot captures the core, waits for its sequence to be durable,
// saves it and verifies it against the log. Returns the snapshot sequence,
// or -1 when there was nothing new to snapshot.
func (s *Snapshotter) TakeSnapshot(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	snap := s.source.CreateSnapshotState()
	if snap.Sequence < 0 || snap.Sequence <= s.lastSeq {
		return -1, nil
	}
	if err := s.waitFlushed(ctx, snap.Sequence); err != nil {
		return -1, err
	}

	size, err := s.mgr.SaveSnapshot(ctx, snap)
	if err != nil {
		return -1, fmt.Errorf("save snapshot %d: %w", snap.Sequence, err)
	}
	if err := s.verify(ctx, snap); err != nil {
		return -1, err
	}
	if err := s.mgr.MarkVerified(ctx, snap.Sequence); err != nil {
		return -1, fmt.Errorf("mark snapshot %d verified: %w", snap.Sequence, err)
	}
	s.lastSeq = snap.Sequence

	if s.metrics != nil {
		s.metrics.SnapshotTaken.Inc()
		s.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		s.metrics.SnapshotSizeBytes.Set(float64(size))
		s.metrics.SnapshotLastSeq.Set(float64(snap.Sequence))
	}
	s.logger.Info().Int64("seq", snap.Sequence).Int("bytes", size).Dur("took", time.Since(start)).Msg("snapshot saved")
	return snap.Sequence, nil
}

func (s *Snapshotter) waitFlushed(ctx context.Context, seq int64) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for s.flushed.Load() < seq {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func (s *Snapshotter) verify(ctx context.Context, snap *core.SnapshotState) error {
	var logged []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT state_hash FROM event_log.transactions WHERE sequence = $1`, snap.Sequence,
	).Scan(&logged)
	if err != nil {
		return fmt.Errorf("read logged hash %d: %w", snap.Sequence, err)
	}
	if !bytes.Equal(logged, snap.StateHash.Bytes()) {
		return fmt.Errorf("%w: seq %d", ErrSnapshotDiverged, snap.Sequence)
	}
	return nil
}
