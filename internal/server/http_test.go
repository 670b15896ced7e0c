package server_test

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"OptionLedger/internal/event"
	"OptionLedger/internal/ingestion"
	"OptionLedger/internal/observability"
	"OptionLedger/internal/projection"
	"OptionLedger/internal/query"
	"OptionLedger/internal/server"
	"OptionLedger/internal/testutil"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

const txID = "6f1c2d9e-6a54-4a3a-9d55-0c1f3e8f7b21"

type fixture struct {
	srv    *httptest.Server
	health *observability.HealthChecker
	key    *ecdsa.PrivateKey
	signer common.Address
}

func withLimiter(l *server.SenderLimiter) func(*server.Deps) {
	return func(d *server.Deps) { d.Limiter = l }
}

func withAdminToken(token string) func(*server.Deps) {
	return func(d *server.Deps) { d.AdminToken = token }
}

// newFixture seeds the test deployment, funds a fresh signing account with
// 100 USDC and serves the API over it.
func newFixture(t *testing.T, opts ...func(*server.Deps)) *fixture {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := crypto.PubkeyToAddress(key.PublicKey)

	c, persistCh, projCh := testutil.NewCore(t)
	seed := append(testutil.SeedAndSell(), &event.TokenTransfer{
		Header: testutil.Header(testutil.Alice, 1, testutil.Genesis+15),
		Asset:  "USDC",
		To:     signer,
		Amount: big.NewInt(100),
	})
	for _, tx := range seed {
		_, err := c.ProcessEvent(tx)
		require.NoError(t, err)
	}
	testutil.Drain(persistCh)
	testutil.Drain(projCh)

	ctx, cancel := context.WithCancel(context.Background())
	sub := ingestion.NewSubmitter(16, 0, nil)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = sub.Run(ctx, c)
	}()

	health := observability.NewHealthChecker()
	health.SetReady(true)
	deps := server.Deps{
		Query:     query.NewService(nil, c, nil, nil),
		Submitter: sub,
		Activity:  projection.NewActivityFeed(16),
		Health:    health,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	h, err := server.NewHandler(deps)
	require.NoError(t, err)

	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})
	return &fixture{srv: srv, health: health, key: key, signer: signer}
}

func (f *fixture) get(t *testing.T, path string, dst any) int {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if dst != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
	}
	return resp.StatusCode
}

func (f *fixture) post(t *testing.T, path, body string, dst any) int {
	t.Helper()
	return f.postAs(t, path, "", body, dst)
}

func (f *fixture) postAs(t *testing.T, path, authorization, body string, dst any) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, f.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if dst != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
	}
	return resp.StatusCode
}

// submitted mirrors SubmitResponse without the polymorphic event payloads.
type submitted struct {
	Sequence  int64  `json:"sequence"`
	StateHash string `json:"state_hash"`
	Duplicate bool   `json:"duplicate"`
}

func txHeader(id, sender string, nonce, ts int64) string {
	return fmt.Sprintf(`"tx_id":%q,"sender":%q,"nonce":%d,"timestamp":%d`, id, sender, nonce, ts)
}

// signed wraps the transaction JSON tx in an envelope signed by key.
func signed(t *testing.T, key *ecdsa.PrivateKey, eventType, tx string) string {
	t.Helper()
	sig, err := ingestion.Sign(eventType, []byte(tx), key)
	require.NoError(t, err)
	body, err := json.Marshal(ingestion.SignedTx{Tx: json.RawMessage(tx), Signature: sig})
	require.NoError(t, err)
	return string(body)
}

func TestLiveRoutes(t *testing.T) {
	f := newFixture(t)

	var pool query.PoolResponse
	require.Equal(t, http.StatusOK, f.get(t, "/v1/pools/"+testutil.PutPool.Hex(), &pool))
	require.Equal(t, "500", pool.LockedAmount.Raw)

	var opt query.OptionResponse
	require.Equal(t, http.StatusOK, f.get(t, "/v1/options/0", &opt))
	require.Equal(t, "put", opt.Type)
	require.Equal(t, testutil.Alice, opt.Holder)

	var q query.QuoteResponse
	require.Equal(t, http.StatusOK, f.get(t, "/v1/quote?type=put&period=1209600&amount=1", &q))
	require.Equal(t, "500", q.Total.Raw)

	var st query.StatusResponse
	require.Equal(t, http.StatusOK, f.get(t, "/v1/status", &st))
	require.Equal(t, int64(3), st.Sequence)
}

func TestLiveRoutes_Errors(t *testing.T) {
	f := newFixture(t)

	var body map[string]string
	require.Equal(t, http.StatusNotFound, f.get(t, "/v1/options/9", &body))
	require.NotEmpty(t, body["error"])

	require.Equal(t, http.StatusBadRequest, f.get(t, "/v1/pools/not-an-address", &body))
	require.Equal(t, "input_validation", body["category"])

	require.Equal(t, http.StatusBadRequest, f.get(t, "/v1/quote?type=straddle&period=1&amount=1", nil))
	require.Equal(t, http.StatusNotFound, f.get(t, "/v1/pools/"+testutil.Alice.Hex(), nil))
}

func TestSubmit_AppliedThenDuplicate(t *testing.T) {
	f := newFixture(t)
	body := signed(t, f.key, "TokenTransfer", `{`+txHeader(txID, f.signer.Hex(), 0, testutil.Genesis+20)+
		`,"asset":"USDC","to":"`+testutil.LP.Hex()+`","amount":10}`)

	var first submitted
	require.Equal(t, http.StatusCreated, f.post(t, "/v1/tx/TokenTransfer", body, &first))
	require.Equal(t, int64(4), first.Sequence)
	require.Len(t, first.StateHash, 64)

	var again submitted
	require.Equal(t, http.StatusOK, f.post(t, "/v1/tx/TokenTransfer", body, &again))
	require.True(t, again.Duplicate)
}

func TestSubmit_Rejections(t *testing.T) {
	f := newFixture(t)

	var body map[string]string
	require.Equal(t, http.StatusBadRequest, f.post(t, "/v1/tx/Teleport", `{}`, &body))
	require.Equal(t, "input_validation", body["category"])

	// option 0 belongs to Alice
	exercise := signed(t, f.key, "ExerciseOption", `{`+txHeader(txID, f.signer.Hex(), 0, testutil.Genesis+20)+`,"option_id":0}`)
	require.Equal(t, http.StatusForbidden, f.post(t, "/v1/tx/ExerciseOption", exercise, &body))
	require.Equal(t, "authorization", body["category"])

	gap := signed(t, f.key, "ExerciseOption", `{`+txHeader(txID, f.signer.Hex(), 9, testutil.Genesis+20)+`,"option_id":0}`)
	require.Equal(t, http.StatusConflict, f.post(t, "/v1/tx/ExerciseOption", gap, &body))
	require.Equal(t, "stale_state", body["category"])
}

func TestSubmit_SenderMustSign(t *testing.T) {
	f := newFixture(t)
	exercise := `{` + txHeader(txID, testutil.Alice.Hex(), 1, testutil.Genesis+20) + `,"option_id":0}`

	var body map[string]string
	require.Equal(t, http.StatusBadRequest, f.post(t, "/v1/tx/ExerciseOption", exercise, &body))
	require.Equal(t, "input_validation", body["category"])

	spoofed := signed(t, f.key, "ExerciseOption", exercise)
	require.Equal(t, http.StatusForbidden, f.post(t, "/v1/tx/ExerciseOption", spoofed, &body))
	require.Equal(t, "authorization", body["category"])

	var opt query.OptionResponse
	require.Equal(t, http.StatusOK, f.get(t, "/v1/options/0", &opt))
	require.Equal(t, "active", opt.State)
}

func TestSubmit_FutureTimestampRejected(t *testing.T) {
	f := newFixture(t)
	ahead := time.Now().Add(time.Hour).Unix()
	body := signed(t, f.key, "TokenTransfer", `{`+txHeader(txID, f.signer.Hex(), 0, ahead)+
		`,"asset":"USDC","to":"`+testutil.LP.Hex()+`","amount":10}`)

	var resp map[string]string
	require.Equal(t, http.StatusBadRequest, f.post(t, "/v1/tx/TokenTransfer", body, &resp))
	require.Equal(t, "input_validation", resp["category"])

	var st query.StatusResponse
	require.Equal(t, http.StatusOK, f.get(t, "/v1/status", &st))
	require.Equal(t, int64(3), st.Sequence)
}

func TestSubmit_RateLimitedPerSender(t *testing.T) {
	f := newFixture(t, withLimiter(server.NewSenderLimiter(0.001, 1)))

	unlock := func(id string) string {
		return signed(t, f.key, "UnlockOption", `{`+txHeader(id, f.signer.Hex(), 0, testutil.Genesis+20)+`,"option_id":0}`)
	}
	// the first attempt consumes the burst even though the core rejects it
	require.Equal(t, http.StatusConflict, f.post(t, "/v1/tx/UnlockOption", unlock(txID), nil))
	require.Equal(t, http.StatusTooManyRequests, f.post(t, "/v1/tx/UnlockOption", unlock("0b6f3c52-93c4-4d8e-b0b1-2f2b0f6f9e10"), nil))
}

func TestAdmin_RequiresBearerToken(t *testing.T) {
	f := newFixture(t, withAdminToken("s3cret"))

	var body map[string]string
	require.Equal(t, http.StatusUnauthorized, f.postAs(t, "/v1/admin/snapshot", "", ``, &body))
	require.Equal(t, "authorization", body["category"])
	require.Equal(t, http.StatusUnauthorized, f.postAs(t, "/v1/admin/snapshot", "Bearer guess", ``, nil))
	require.Equal(t, http.StatusUnauthorized, f.postAs(t, "/v1/admin/projections/rebuild", "s3cret", ``, nil))

	// past the gate; the fixture has no snapshotter
	require.Equal(t, http.StatusServiceUnavailable, f.postAs(t, "/v1/admin/snapshot", "Bearer s3cret", ``, nil))
	require.Equal(t, http.StatusServiceUnavailable, f.postAs(t, "/v1/admin/projections/rebuild", "bearer s3cret", ``, nil))
}

func TestAdmin_DisabledWithoutToken(t *testing.T) {
	f := newFixture(t)

	var body map[string]string
	require.Equal(t, http.StatusForbidden, f.postAs(t, "/v1/admin/snapshot", "Bearer ", ``, &body))
	require.Equal(t, "authorization", body["category"])
	require.Equal(t, http.StatusForbidden, f.get(t, "/v1/admin/integrity", nil))
}

func TestHealthProbes(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusOK, f.get(t, "/healthz", nil))
	require.Equal(t, http.StatusOK, f.get(t, "/readyz", nil))

	f.health.SetReady(false)
	require.Equal(t, http.StatusServiceUnavailable, f.get(t, "/readyz", nil))
}
