package ingestion_test

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"OptionLedger/internal/core"
	"OptionLedger/internal/errs"
	"OptionLedger/internal/event"
	"OptionLedger/internal/ingestion"
	"OptionLedger/internal/receipt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

const header = `"tx_id":"550e8400-e29b-41d4-a716-446655440000","sender":"0x00000000000000000000000000000000000a11ce","nonce":3,"timestamp":1700000000`

func TestParseTx_CreateOption(t *testing.T) {
	data := `{` + header + `,"holder":"0x0000000000000000000000000000000000000b0b","period":1209600,"amount":100000000,"strike":0,"option_type":1}`

	evt, err := ingestion.ParseTx("CreateOption", []byte(data))
	require.NoError(t, err)

	co, ok := evt.(*event.CreateOption)
	require.True(t, ok, "got %T", evt)
	require.Equal(t, "550e8400-e29b-41d4-a716-446655440000", co.IdempotencyKey())
	require.Equal(t, common.HexToAddress("0xa11ce"), co.Sender())
	require.Equal(t, int64(3), co.SourceSequence())
	require.Equal(t, int64(1_700_000_000), co.BlockTime())
	require.Equal(t, common.HexToAddress("0xb0b"), co.Holder)
	require.Equal(t, uint64(1_209_600), co.Period)
	require.Equal(t, 0, co.Amount.Cmp(big.NewInt(100_000_000)))
	require.Equal(t, uint8(1), co.OptionType)
}

func TestParseTx_AmountsBeyondInt64(t *testing.T) {
	data := `{` + header + `,"asset":"WBTC","to":"0x0000000000000000000000000000000000000b0b","amount":115792089237316195423570985008687907853269984665640564039457584007913129639935}`

	evt, err := ingestion.ParseTx("Mint", []byte(data))
	require.NoError(t, err)

	maxUint256 := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	require.Equal(t, 0, evt.(*event.Mint).Amount.Cmp(maxUint256))
}

func TestParseTx_PriceUpdateKeyedBySequence(t *testing.T) {
	data := `{` + header + `,"price":5000000000000,"price_sequence":17}`

	evt, err := ingestion.ParseTx("PriceUpdate", []byte(data))
	require.NoError(t, err)
	require.Equal(t, "price:17", evt.IdempotencyKey())
	require.Equal(t, int64(17), evt.SourceSequence())
}

func TestParseTx_Rejections(t *testing.T) {
	cases := []struct {
		name      string
		eventType string
		data      string
		want      error
	}{
		{"unknown type", "Liquidate", `{` + header + `}`, ingestion.ErrUnknownType},
		{"unknown field", "UnlockOption", `{` + header + `,"option_id":1,"force":true}`, ingestion.ErrMalformed},
		{"not json", "UnlockOption", `option 1`, ingestion.ErrMalformed},
		{"nil tx id", "UnlockOption", `{"tx_id":"00000000-0000-0000-0000-000000000000","sender":"0x00000000000000000000000000000000000a11ce","nonce":0,"timestamp":1,"option_id":1}`, ingestion.ErrMalformed},
		{"zero sender", "UnlockOption", `{"tx_id":"550e8400-e29b-41d4-a716-446655440000","sender":"0x0000000000000000000000000000000000000000","nonce":0,"timestamp":1,"option_id":1}`, ingestion.ErrMalformed},
		{"negative nonce", "UnlockOption", `{"tx_id":"550e8400-e29b-41d4-a716-446655440000","sender":"0x00000000000000000000000000000000000a11ce","nonce":-1,"timestamp":1,"option_id":1}`, ingestion.ErrMalformed},
		{"missing amount", "TokenTransfer", `{` + header + `,"asset":"USDC","to":"0x0000000000000000000000000000000000000b0b"}`, ingestion.ErrMalformed},
		{"missing vol rate", "SetImpliedVolRate", `{` + header + `,"rates":[5500,null,4500]}`, ingestion.ErrMalformed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ingestion.ParseTx(tc.eventType, []byte(tc.data))
			require.ErrorIs(t, err, tc.want)
			require.Equal(t, errs.CategoryInputValidation, errs.CategoryOf(err))
		})
	}
}

func TestDecodePayload_ReadsStoredTransaction(t *testing.T) {
	want := &event.Withdraw{
		Header:    event.Header{TxID: uuid.New(), From: common.HexToAddress("0x1a0"), Nonce: 4, Time: 1_700_000_000},
		Pool:      common.HexToAddress("0x1001"),
		TrancheID: 2,
	}
	payload := []byte(`{"tx_id":"` + want.TxID.String() + `","sender":"0x00000000000000000000000000000000000001a0","nonce":4,"timestamp":1700000000,"pool":"0x0000000000000000000000000000000000001001","tranche_id":2}`)

	got, err := ingestion.DecodePayload("Withdraw", payload)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

type fakeProcessor struct {
	mu   sync.Mutex
	seen []string
	err  error
}

func (p *fakeProcessor) ProcessEvent(evt event.Event) (core.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return core.Result{}, p.err
	}
	p.seen = append(p.seen, evt.IdempotencyKey())
	return core.Result{Sequence: int64(len(p.seen) - 1), Logs: []receipt.Log{}}, nil
}

func unlockTx(nonce int64) *event.UnlockOption {
	return &event.UnlockOption{Header: event.Header{
		TxID: uuid.New(), From: common.HexToAddress("0xa11ce"), Nonce: nonce, Time: 1,
	}}
}

func TestSubmitter_SerializesSubmissions(t *testing.T) {
	s := ingestion.NewSubmitter(16, 0, nil)
	p := &fakeProcessor{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx, p)

	var wg sync.WaitGroup
	seqs := make(chan int64, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			res, err := s.Submit(ctx, "test", unlockTx(int64(n)))
			require.NoError(t, err)
			seqs <- res.Sequence
		}(i)
	}
	wg.Wait()
	close(seqs)

	got := make(map[int64]bool)
	for seq := range seqs {
		got[seq] = true
	}
	require.Len(t, got, 20)
	require.Len(t, p.seen, 20)
}

func TestSubmitter_ReturnsRejection(t *testing.T) {
	rejected := errs.Stale("option not yet expired")
	s := ingestion.NewSubmitter(1, 0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx, &fakeProcessor{err: rejected})

	_, err := s.Submit(ctx, "test", unlockTx(0))
	require.ErrorIs(t, err, rejected)
}

func TestSubmitter_StoppedLoop(t *testing.T) {
	s := ingestion.NewSubmitter(0, 0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx, &fakeProcessor{})
		close(done)
	}()
	cancel()
	<-done

	_, err := s.Submit(context.Background(), "test", unlockTx(0))
	require.True(t, errors.Is(err, ingestion.ErrStopped))
}

func TestDispatcher_AcksRejectedAndNaksOnShutdown(t *testing.T) {
	s := ingestion.NewSubmitter(1, 0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx, &fakeProcessor{err: errs.Input("bad amount")})

	in := make(chan ingestion.RawEvent, 3)
	var acked, naked int
	var mu sync.Mutex
	raw := func(eventType, data string) ingestion.RawEvent {
		return ingestion.RawEvent{
			Subject:   ingestion.TxSubject(eventType),
			EventType: eventType,
			Data:      []byte(data),
			Received:  time.Now(),
			AckFunc:   func() { mu.Lock(); acked++; mu.Unlock() },
			NakFunc:   func() { mu.Lock(); naked++; mu.Unlock() },
		}
	}
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	tx := unlockTx(0)
	tx.From = crypto.PubkeyToAddress(key.PublicKey)
	signed, err := ingestion.EncodeSigned("UnlockOption", tx, key)
	require.NoError(t, err)

	in <- raw("UnlockOption", string(signed))
	in <- raw("UnlockOption", `{`+header+`,"option_id":1}`)
	in <- raw("UnlockOption", `garbage`)
	close(in)

	require.NoError(t, ingestion.NewDispatcher(s, in).Run(ctx))
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 3, acked)
	require.Zero(t, naked)
}

func TestSubmitter_BoundsTimestampToClock(t *testing.T) {
	s := ingestion.NewSubmitter(1, 30*time.Second, nil)
	s.SetClock(func() time.Time { return time.Unix(1_700_000_000, 0) })
	p := &fakeProcessor{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx, p)

	ahead := unlockTx(0)
	ahead.Time = 1_700_000_031
	_, err := s.Submit(ctx, "test", ahead)
	require.ErrorIs(t, err, ingestion.ErrFutureTimestamp)
	require.Equal(t, errs.CategoryInputValidation, errs.CategoryOf(err))

	edge := unlockTx(1)
	edge.Time = 1_700_000_030
	_, err = s.Submit(ctx, "test", edge)
	require.NoError(t, err)

	p.mu.Lock()
	defer p.mu.Unlock()
	require.Equal(t, []string{edge.IdempotencyKey()}, p.seen)
}

func TestBuildOutbound_OneMessagePerLog(t *testing.T) {
	out := core.CoreOutput{
		Envelope: &event.EventEnvelope{
			Sequence:       7,
			IdempotencyKey: "tx-7",
			EventType:      event.EventTypeUnlockOption,
			Timestamp:      1_700_000_000,
		},
		Logs: []receipt.Log{
			{Source: common.HexToAddress("0x1001"), Index: 0, Event: receipt.Profit{LockedID: 0, Amount: big.NewInt(0), Extra: big.NewInt(0)}},
			{Source: common.HexToAddress("0xe000"), Index: 1, Event: receipt.Expire{OptionID: 3}},
		},
	}

	msgs, err := ingestion.BuildOutbound(out)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "Profit", msgs[0].Name)
	require.Equal(t, receipt.Topic(receipt.Expire{}).Hex(), msgs[1].Topic)
	require.JSONEq(t, `{"option_id":3}`, string(msgs[1].Data))
	require.Equal(t, int64(7), msgs[1].Sequence)
	require.Equal(t, "UnlockOption", msgs[1].TxType)
}
