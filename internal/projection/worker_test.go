package projection_test

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"OptionLedger/internal/core"
	"OptionLedger/internal/event"
	"OptionLedger/internal/options"
	"OptionLedger/internal/projection"
	"OptionLedger/internal/receipt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

// --- fakes ---

type applied struct {
	seq int64
	u   *projection.Update
}

type fakeStore struct {
	watermark int64
	applied   []applied
	failSeq   int64
}

func (s *fakeStore) Watermark(context.Context) (int64, error) { return s.watermark, nil }

func (s *fakeStore) Apply(_ context.Context, seq int64, u *projection.Update) error {
	if seq == s.failSeq {
		return errors.New("boom")
	}
	s.applied = append(s.applied, applied{seq, u})
	return nil
}

func (s *fakeStore) seqs() []int64 {
	out := make([]int64, 0, len(s.applied))
	for _, a := range s.applied {
		out = append(out, a.seq)
	}
	return out
}

// fakeSource returns its states in order and then repeats the last one.
type fakeSource struct {
	states []core.ProjectionState
	calls  int
}

func (f *fakeSource) ProjectionState() core.ProjectionState {
	i := f.calls
	if i >= len(f.states) {
		i = len(f.states) - 1
	}
	f.calls++
	return f.states[i]
}

var alice = common.HexToAddress("0xa11ce")

func output(seq int64) core.CoreOutput {
	return core.CoreOutput{
		Envelope: &event.EventEnvelope{
			Sequence:       seq,
			IdempotencyKey: "tx",
			EventType:      event.EventTypeCreateOption,
			Sender:         alice,
			Timestamp:      100 + seq,
		},
		Logs: []receipt.Log{{Source: alice, Event: receipt.Create{OptionID: uint64(seq), Holder: alice}}},
		Options: []options.Option{{
			ID: uint64(seq), Holder: alice, Strike: big.NewInt(1), Amount: big.NewInt(1),
			SettlementFee: big.NewInt(0), Premium: big.NewInt(0),
		}},
	}
}

func runWorker(t *testing.T, store *fakeStore, source projection.StateSource, outs ...core.CoreOutput) *projection.ProjectionWorker {
	t.Helper()
	ch := make(chan core.CoreOutput, len(outs))
	for _, o := range outs {
		ch <- o
	}
	close(ch)
	w := projection.NewProjectionWorker(store, source, ch, projection.NewActivityFeed(16), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, w.Run(ctx))
	return w
}

// ============================================================================
// Test: ProjectionWorker
// ============================================================================

func TestWorker_AppliesInOrder(t *testing.T) {
	store := &fakeStore{watermark: -1, failSeq: -100}
	w := runWorker(t, store, nil, output(0), output(1), output(2))
	require.Equal(t, []int64{0, 1, 2}, store.seqs())
	require.Equal(t, int64(2), w.LastSequence())
	require.Len(t, store.applied[1].u.Options, 1)
}

func TestWorker_SkipsAlreadyProjected(t *testing.T) {
	store := &fakeStore{watermark: 1, failSeq: -100}
	runWorker(t, store, nil, output(0), output(1), output(2))
	require.Equal(t, []int64{2}, store.seqs())
}

func TestWorker_ResyncsOnGap(t *testing.T) {
	store := &fakeStore{watermark: -1, failSeq: -100}
	// empty at start; by the time the gap shows the core is at 3
	source := &fakeSource{states: []core.ProjectionState{{Sequence: -1}, {Sequence: 3}}}

	ch := make(chan core.CoreOutput, 4)
	w := projection.NewProjectionWorker(store, source, ch, nil, nil)
	ch <- output(0)
	// outputs 1 and 2 were dropped
	ch <- output(3)
	ch <- output(4)
	close(ch)

	require.NoError(t, w.Run(context.Background()))
	require.Equal(t, []int64{0, 3, 4}, store.seqs())
}

func TestWorker_CatchesUpOnStart(t *testing.T) {
	store := &fakeStore{watermark: 4, failSeq: -100}
	source := &fakeSource{states: []core.ProjectionState{{Sequence: 9}}}
	w := runWorker(t, store, source)
	require.Equal(t, []int64{9}, store.seqs())
	require.Equal(t, int64(9), w.LastSequence())
}

func TestWorker_FailedWriteKeepsWatermark(t *testing.T) {
	store := &fakeStore{watermark: -1, failSeq: 1}
	w := runWorker(t, store, nil, output(0), output(1))
	require.Equal(t, []int64{0}, store.seqs())
	require.Equal(t, int64(0), w.LastSequence())
}

// ============================================================================
// Test: ActivityFeed
// ============================================================================

func TestActivityFeed_NewestFirstAndBounded(t *testing.T) {
	feed := projection.NewActivityFeed(3)
	for seq := int64(0); seq < 5; seq++ {
		feed.Record(output(seq))
	}
	other := output(5)
	other.Envelope.Sender = common.HexToAddress("0xb0b")
	feed.Record(other)

	got := feed.QueryBySender(alice, 10)
	require.Len(t, got, 2)
	require.Equal(t, int64(4), got[0].Sequence)
	require.Equal(t, int64(3), got[1].Sequence)
	require.Equal(t, []string{receipt.NameCreate}, got[0].Events)
	require.Equal(t, []uint64{4}, got[0].OptionIDs)

	require.Len(t, feed.QueryBySender(alice, 1), 1)
}
