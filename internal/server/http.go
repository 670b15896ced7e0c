// Package server exposes the HTTP/JSON API and the gRPC health endpoint.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"OptionLedger/internal/core"
	"OptionLedger/internal/errs"
	"OptionLedger/internal/ingestion"
	fpmath "OptionLedger/internal/math"
	"OptionLedger/internal/observability"
	"OptionLedger/internal/options"
	"OptionLedger/internal/projection"
	"OptionLedger/internal/query"
	"OptionLedger/internal/receipt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"
)

const (
	maxBodyBytes  = 64 << 10
	submitTimeout = 10 * time.Second
	defaultPage   = 100
	maxPage       = 500
	activityLimit = 50
)

// Deps holds what the HTTP handlers need. Only Query is required.
type Deps struct {
	Query     *query.Service
	Submitter *ingestion.Submitter
	Activity  *projection.ActivityFeed
	Limiter   *SenderLimiter
	Health    *observability.HealthChecker
	Metrics   *observability.Metrics

	// AdminToken is the bearer token the /v1/admin endpoints require. When
	// empty they answer 403.
	AdminToken string

	// Snapshot and RebuildProjections back the admin endpoints.
	Snapshot           func(ctx context.Context) (int64, error)
	RebuildProjections func(ctx context.Context) error
}

type api struct {
	deps   Deps
	logger zerolog.Logger
}

// NewHandler builds the full HTTP handler: the /v1 API on a grpc-gateway
// ServeMux plus the health probes.
func NewHandler(deps Deps) (http.Handler, error) {
	a := &api{deps: deps, logger: observability.NewLogger("http")}
	mux := runtime.NewServeMux()

	routes := []struct {
		method, pattern, endpoint string
		h                         runtime.HandlerFunc
	}{
		{http.MethodGet, "/v1/status", "status", a.status},
		{http.MethodGet, "/v1/pools/{pool}", "pool", a.pool},
		{http.MethodGet, "/v1/pools/{pool}/tranches/{id}", "tranche", a.tranche},
		{http.MethodGet, "/v1/pools/{pool}/locks/{id}", "lock", a.lock},
		{http.MethodGet, "/v1/options/{id}", "option", a.option},
		{http.MethodGet, "/v1/quote", "quote", a.quote},
		{http.MethodGet, "/v1/accounts/{address}/balances", "balances", a.balances},
		{http.MethodGet, "/v1/accounts/{address}/options", "account_options", a.accountOptions},
		{http.MethodGet, "/v1/accounts/{address}/tranches", "account_tranches", a.accountTranches},
		{http.MethodGet, "/v1/accounts/{address}/journals", "journals", a.journals},
		{http.MethodGet, "/v1/accounts/{address}/activity", "activity", a.activity},
		{http.MethodPost, "/v1/tx/{type}", "submit", a.submit},
		{http.MethodGet, "/v1/admin/integrity", "integrity", a.admin(a.integrity)},
		{http.MethodPost, "/v1/admin/snapshot", "snapshot", a.admin(a.snapshot)},
		{http.MethodPost, "/v1/admin/projections/rebuild", "rebuild", a.admin(a.rebuild)},
	}
	for _, r := range routes {
		if err := mux.HandlePath(r.method, r.pattern, a.instrument(r.endpoint, r.h)); err != nil {
			return nil, fmt.Errorf("register %s %s: %w", r.method, r.pattern, err)
		}
	}

	root := http.NewServeMux()
	health := deps.Health
	if health == nil {
		health = observability.NewHealthChecker()
		health.SetReady(true)
	}
	root.HandleFunc("/healthz", health.LivenessHandler)
	root.HandleFunc("/readyz", health.ReadinessHandler)
	root.Handle("/", mux)
	return root, nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (a *api) instrument(endpoint string, h runtime.HandlerFunc) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r, params)
		if m := a.deps.Metrics; m != nil {
			m.QueryRequests.WithLabelValues(endpoint, strconv.Itoa(rec.status)).Inc()
			m.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		}
	}
}

// --- responses ---

type errorBody struct {
	Error    string `json:"error"`
	Category string `json:"category,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, format string, args ...any) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: fmt.Sprintf(format, args...), Category: errs.CategoryInputValidation.String()})
}

// writeError maps err onto a status code. Categorized protocol errors carry
// their own status; anything else is an internal error.
func (a *api) writeError(w http.ResponseWriter, err error) {
	switch {
	case query.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
		return
	case errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusGatewayTimeout, errorBody{Error: "timed out waiting for the core"})
		return
	case errors.Is(err, ingestion.ErrStopped):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: err.Error()})
		return
	}
	cat := errs.CategoryOf(err)
	if cat == errs.CategoryUnknown {
		a.logger.Error().Err(err).Msg("request failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
		return
	}
	writeJSON(w, cat.HTTPStatus(), errorBody{Error: err.Error(), Category: cat.String()})
}

// --- parameters ---

func parseAddress(s string) (common.Address, bool) {
	if !common.IsHexAddress(s) {
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

func parseOptionType(s string) (options.OptionType, bool) {
	switch s {
	case "put", "1":
		return options.Put, true
	case "call", "2":
		return options.Call, true
	}
	return 0, false
}

func pageSize(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return defaultPage
	}
	if n > maxPage {
		return maxPage
	}
	return n
}

// --- live reads ---

func (a *api) status(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	st, err := a.deps.Query.Status(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *api) pool(w http.ResponseWriter, r *http.Request, p map[string]string) {
	addr, ok := parseAddress(p["pool"])
	if !ok {
		badRequest(w, "invalid pool address %q", p["pool"])
		return
	}
	resp, err := a.deps.Query.Pool(addr)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func poolAndID(w http.ResponseWriter, p map[string]string) (common.Address, uint64, bool) {
	addr, ok := parseAddress(p["pool"])
	if !ok {
		badRequest(w, "invalid pool address %q", p["pool"])
		return common.Address{}, 0, false
	}
	id, err := strconv.ParseUint(p["id"], 10, 64)
	if err != nil {
		badRequest(w, "invalid id %q", p["id"])
		return common.Address{}, 0, false
	}
	return addr, id, true
}

func (a *api) tranche(w http.ResponseWriter, r *http.Request, p map[string]string) {
	addr, id, ok := poolAndID(w, p)
	if !ok {
		return
	}
	resp, err := a.deps.Query.Tranche(addr, id)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *api) lock(w http.ResponseWriter, r *http.Request, p map[string]string) {
	addr, id, ok := poolAndID(w, p)
	if !ok {
		return
	}
	resp, err := a.deps.Query.Lock(addr, id)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *api) option(w http.ResponseWriter, r *http.Request, p map[string]string) {
	if p["id"] == "expired" {
		a.expired(w, r, p)
		return
	}
	id, err := strconv.ParseUint(p["id"], 10, 64)
	if err != nil {
		badRequest(w, "invalid option id %q", p["id"])
		return
	}
	resp, err := a.deps.Query.Option(id)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// expired serves GET /v1/options/expired?at=<unix seconds>.
func (a *api) expired(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	at := uint64(time.Now().Unix())
	if s := r.URL.Query().Get("at"); s != "" {
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			badRequest(w, "invalid at %q", s)
			return
		}
		at = v
	}
	resp, err := a.deps.Query.Expired(r.Context(), at, pageSize(r))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *api) quote(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	q := r.URL.Query()
	t, ok := parseOptionType(q.Get("type"))
	if !ok {
		badRequest(w, "type must be put or call")
		return
	}
	period, err := strconv.ParseUint(q.Get("period"), 10, 64)
	if err != nil {
		badRequest(w, "invalid period %q", q.Get("period"))
		return
	}
	amount, err := fpmath.ParseAmount(q.Get("amount"))
	if err != nil {
		badRequest(w, "invalid amount: %v", err)
		return
	}
	var strike *big.Int
	if s := q.Get("strike"); s != "" {
		if strike, err = fpmath.ParseAmount(s); err != nil {
			badRequest(w, "invalid strike: %v", err)
			return
		}
	}
	resp, err := a.deps.Query.Quote(t, period, amount, strike)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- account reads ---

func (a *api) account(w http.ResponseWriter, p map[string]string) (common.Address, bool) {
	addr, ok := parseAddress(p["address"])
	if !ok {
		badRequest(w, "invalid address %q", p["address"])
	}
	return addr, ok
}

func (a *api) balances(w http.ResponseWriter, r *http.Request, p map[string]string) {
	addr, ok := a.account(w, p)
	if !ok {
		return
	}
	resp, err := a.deps.Query.Balances(r.Context(), addr)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *api) accountOptions(w http.ResponseWriter, r *http.Request, p map[string]string) {
	addr, ok := a.account(w, p)
	if !ok {
		return
	}
	resp, err := a.deps.Query.OptionsOf(r.Context(), addr)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *api) accountTranches(w http.ResponseWriter, r *http.Request, p map[string]string) {
	addr, ok := a.account(w, p)
	if !ok {
		return
	}
	resp, err := a.deps.Query.TranchesOf(r.Context(), addr)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *api) journals(w http.ResponseWriter, r *http.Request, p map[string]string) {
	addr, ok := a.account(w, p)
	if !ok {
		return
	}
	var before *int64
	if s := r.URL.Query().Get("before"); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			badRequest(w, "invalid before %q", s)
			return
		}
		before = &v
	}
	resp, err := a.deps.Query.JournalHistory(r.Context(), addr, pageSize(r), before)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *api) activity(w http.ResponseWriter, r *http.Request, p map[string]string) {
	addr, ok := a.account(w, p)
	if !ok {
		return
	}
	if a.deps.Activity == nil {
		writeJSON(w, http.StatusOK, []projection.ActivityEntry{})
		return
	}
	limit := pageSize(r)
	if r.URL.Query().Get("limit") == "" {
		limit = activityLimit
	}
	writeJSON(w, http.StatusOK, a.deps.Activity.QueryBySender(addr, limit))
}

// --- submission ---

// SubmitResponse is the core's verdict on a submitted transaction.
type SubmitResponse struct {
	Sequence  int64        `json:"sequence"`
	StateHash string       `json:"state_hash,omitempty"`
	Duplicate bool         `json:"duplicate,omitempty"`
	Ignored   bool         `json:"ignored,omitempty"`
	Events    []EmittedLog `json:"events"`
}

type EmittedLog struct {
	Source common.Address `json:"source"`
	Name   string         `json:"name"`
	Topic  string         `json:"topic"`
	Data   receipt.Event  `json:"data"`
}

func submitResponse(res core.Result) SubmitResponse {
	resp := SubmitResponse{Sequence: res.Sequence, Duplicate: res.Duplicate, Ignored: res.Ignored, Events: []EmittedLog{}}
	if !res.Duplicate && !res.Ignored {
		resp.StateHash = fmt.Sprintf("%x", res.StateHash)
	} else {
		resp.Sequence = -1
	}
	for _, l := range res.Logs {
		resp.Events = append(resp.Events, EmittedLog{
			Source: l.Source,
			Name:   l.Event.EventName(),
			Topic:  receipt.Topic(l.Event).Hex(),
			Data:   l.Event,
		})
	}
	return resp
}

func (a *api) submit(w http.ResponseWriter, r *http.Request, p map[string]string) {
	if a.deps.Submitter == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "submissions are disabled"})
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		badRequest(w, "read body: %v", err)
		return
	}
	evt, err := ingestion.ParseSignedTx(p["type"], body)
	if err != nil {
		a.writeError(w, err)
		return
	}
	if !a.deps.Limiter.Allow(evt.Sender()) {
		if a.deps.Metrics != nil {
			a.deps.Metrics.TxRateLimited.Inc()
		}
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate limit exceeded for sender " + evt.Sender().Hex()})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), submitTimeout)
	defer cancel()
	res, err := a.deps.Submitter.Submit(ctx, "http", evt)
	if err != nil {
		a.writeError(w, err)
		return
	}
	status := http.StatusOK
	if !res.Duplicate && !res.Ignored {
		status = http.StatusCreated
	}
	writeJSON(w, status, submitResponse(res))
}

// --- admin ---

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func (a *api) admin(h runtime.HandlerFunc) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, p map[string]string) {
		if a.deps.AdminToken == "" {
			writeJSON(w, http.StatusForbidden, errorBody{Error: "admin endpoints are disabled", Category: errs.CategoryAuthorization.String()})
			return
		}
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(a.deps.AdminToken)) != 1 {
			a.logger.Warn().Str("path", r.URL.Path).Str("remote", r.RemoteAddr).Msg("admin request refused")
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing or invalid bearer token", Category: errs.CategoryAuthorization.String()})
			return
		}
		h(w, r, p)
	}
}

func (a *api) integrity(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	report, err := a.deps.Query.VerifyIntegrity(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	status := http.StatusOK
	if !report.IsHealthy {
		status = http.StatusConflict
	}
	writeJSON(w, status, report)
}

func (a *api) snapshot(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if a.deps.Snapshot == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "snapshots are disabled"})
		return
	}
	seq, err := a.deps.Snapshot(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"sequence": seq})
}

func (a *api) rebuild(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if a.deps.RebuildProjections == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "projections are disabled"})
		return
	}
	if err := a.deps.RebuildProjections(r.Context()); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rebuilt"})
}

// HTTPServer serves the API until its context is cancelled.
type HTTPServer struct {
	srv    *http.Server
	logger zerolog.Logger
}

func NewHTTPServer(addr string, deps Deps) (*HTTPServer, error) {
	h, err := NewHandler(deps)
	if err != nil {
		return nil, err
	}
	return &HTTPServer{
		srv: &http.Server{
			Addr:              addr,
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: observability.NewLogger("http"),
	}, nil
}

// Start blocks until ctx is cancelled, then drains in-flight requests.
func (s *HTTPServer) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.srv.Addr).Msg("http server listening")
	if err := s.srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
