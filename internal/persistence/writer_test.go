package persistence_test

import (
	"context"
	"encoding/json"
	"testing"

	"OptionLedger/internal/core"
	"OptionLedger/internal/persistence"
	"OptionLedger/internal/receipt"
	"OptionLedger/internal/testutil"

	"github.com/stretchr/testify/require"
)

func applyAll(t *testing.T, c *core.DeterministicCore, ch chan core.CoreOutput) []core.CoreOutput {
	t.Helper()
	for _, tx := range testutil.SeedAndSell() {
		_, err := c.ProcessEvent(tx)
		require.NoError(t, err)
	}
	return testutil.Drain(ch)
}

// ============================================================================
// Test: BuildRows
// ============================================================================

func TestBuildRows_CreateOption(t *testing.T) {
	c, persistCh, _ := testutil.NewCore(t)
	outputs := applyAll(t, c, persistCh)
	require.Len(t, outputs, 3)

	tx, journals, events, err := persistence.BuildRows(outputs[2])
	require.NoError(t, err)

	require.Equal(t, int64(2), tx.Sequence)
	require.Equal(t, "CreateOption", tx.EventType)
	require.Equal(t, testutil.Alice.Hex(), tx.Sender)
	require.Equal(t, int64(0), tx.Nonce)
	require.Len(t, tx.StateHash, 32)
	require.Equal(t, outputs[1].Envelope.StateHash[:], tx.PrevHash)
	require.True(t, json.Valid(tx.Payload))

	require.Len(t, journals, 1)
	require.Equal(t, "settlement_fee", journals[0].JournalType)
	require.Equal(t, "500", journals[0].Amount)
	for _, j := range journals {
		require.Equal(t, tx.TxID, j.TxID)
		require.Equal(t, int64(2), j.Sequence)
	}

	require.Len(t, events, 1)
	require.Equal(t, receipt.NameCreate, events[0].Name)
	require.Equal(t, receipt.Topic(receipt.Create{}).Hex(), events[0].Topic)
	require.Equal(t, testutil.Engine.Hex(), events[0].Source)
}

func TestBuildRows_ProvideEmitsPoolEvent(t *testing.T) {
	c, persistCh, _ := testutil.NewCore(t)
	outputs := applyAll(t, c, persistCh)

	_, journals, events, err := persistence.BuildRows(outputs[0])
	require.NoError(t, err)
	require.Len(t, journals, 1)
	require.Equal(t, "provide", journals[0].JournalType)
	require.Len(t, events, 1)
	require.Equal(t, testutil.PutPool.Hex(), events[0].Source)
}

// ============================================================================
// Test: Postgres round trip (requires OPTL_TEST_DB_URL)
// ============================================================================

func TestEventLog_WriteAndReplay(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	c, persistCh, _ := testutil.NewCore(t)
	outputs := applyAll(t, c, persistCh)

	w := persistence.NewEventLogWriter(db)
	for _, out := range outputs {
		tx, journals, events, err := persistence.BuildRows(out)
		require.NoError(t, err)
		require.NoError(t, w.WriteTransactionBatch(ctx, db, []persistence.TransactionRow{tx}))
		require.NoError(t, w.WriteJournalBatch(ctx, db, journals))
		require.NoError(t, w.WriteProtocolEventBatch(ctx, db, events))
	}

	// a retried batch is a no-op
	tx, journals, _, err := persistence.BuildRows(outputs[0])
	require.NoError(t, err)
	require.NoError(t, w.WriteTransactionBatch(ctx, db, []persistence.TransactionRow{tx}))
	require.NoError(t, w.WriteJournalBatch(ctx, db, journals))

	sm := persistence.NewSnapshotManager(db)
	latest, err := sm.GetLatestSequence(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), latest)

	rows, err := sm.LoadTransactionsFrom(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, int64(1), rows[0].Sequence)
	require.Equal(t, outputs[2].Envelope.StateHash[:], rows[1].StateHash)

	checker := persistence.NewPostgresIdempotencyChecker(db)
	dup, err := checker.IsDuplicate("CreateOption", outputs[2].Envelope.IdempotencyKey)
	require.NoError(t, err)
	require.True(t, dup)
	dup, err = checker.IsDuplicate("Provide", outputs[2].Envelope.IdempotencyKey)
	require.NoError(t, err)
	require.False(t, dup)
}

func TestSnapshotManager_OnlyVerifiedIsLoaded(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	c, persistCh, _ := testutil.NewCore(t)
	applyAll(t, c, persistCh)
	snap := c.CreateSnapshotState()

	sm := persistence.NewSnapshotManager(db)
	size, err := sm.SaveSnapshot(ctx, snap)
	require.NoError(t, err)
	require.Positive(t, size)

	loaded, err := sm.LoadLatestSnapshot(ctx)
	require.NoError(t, err)
	require.Nil(t, loaded)

	require.NoError(t, sm.MarkVerified(ctx, snap.Sequence))
	loaded, err = sm.LoadLatestSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Equal(t, snap.Sequence, loaded.Sequence)
	require.Equal(t, snap.StateHash, loaded.StateHash)

	restored, _, _ := testutil.NewCore(t)
	require.NoError(t, restored.RestoreFromSnapshot(loaded))
	require.Equal(t, c.GetStateHash(), restored.GetStateHash())
}
