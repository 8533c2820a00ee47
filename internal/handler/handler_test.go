package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/nathanyu/transfer-actuator/internal/actuator"
	"github.com/nathanyu/transfer-actuator/internal/cqrs"
	"github.com/nathanyu/transfer-actuator/internal/domain"
	"github.com/nathanyu/transfer-actuator/internal/ledger"
	"github.com/nathanyu/transfer-actuator/internal/middleware"
	"github.com/nathanyu/transfer-actuator/internal/params"
	"github.com/nathanyu/transfer-actuator/internal/processor"
	"github.com/nathanyu/transfer-actuator/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func addr(last byte) domain.Address {
	a := make(domain.Address, domain.AddressLength)
	a[0] = domain.MainNetPrefix
	a[domain.AddressLength-1] = last
	return a
}

type server struct {
	router *gin.Engine
	proc   *processor.Processor
}

func newServer(t *testing.T, fee int64) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	p, err := params.NewStatic(params.DefaultNonExistentAccountTransferMin, fee)
	require.NoError(t, err)
	store := ledger.NewMemoryStore()
	proc := processor.New(store, actuator.NewRegistry(actuator.NewEnv(store, p)))

	rm := cqrs.NewReadModel(nil, 0)
	proc.RegisterEventHandler(rm.HandleEvent)

	r := gin.New()
	SetupRoutes(r, NewHandler(DirectSubmitter{Processor: proc}, proc, rm))
	return &server{router: r, proc: proc}
}

func (s *server) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func TestTransfer_Success(t *testing.T) {
	s := newServer(t, 10)
	alice, bob := addr(1), addr(2)

	w := s.do(t, http.MethodPost, "/v1/account", SeedAccountRequest{Address: alice.String(), Balance: 5_000_000})
	require.Equal(t, http.StatusCreated, w.Code)

	w = s.do(t, http.MethodPost, "/v1/transfer", TransferRequest{
		OwnerAddress:  alice.String(),
		ToAddress:     bob.Hex(),
		Amount:        1_500_000,
		TransactionID: "tx-1",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[TransferResponse](t, w)
	assert.True(t, resp.Success)
	assert.Equal(t, "tx-1", resp.TransactionID)
	require.NotNil(t, resp.Outcome)
	assert.Equal(t, int64(10), resp.Outcome.Fee)

	w = s.do(t, http.MethodGet, "/v1/account/"+bob.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	acc := decode[AccountResponse](t, w)
	assert.Equal(t, int64(1_500_000), acc.Balance)
	assert.Equal(t, "1.500000", acc.BalanceTRX)
	assert.Equal(t, bob.Hex(), acc.Hex)

	w = s.do(t, http.MethodGet, "/v1/account/"+alice.Hex(), nil)
	acc = decode[AccountResponse](t, w)
	assert.Equal(t, "3.499990", acc.BalanceTRX)

	w = s.do(t, http.MethodGet, "/v1/account/"+bob.String()+"/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	history := decode[HistoryResponse](t, w)
	require.Len(t, history.Entries, 1)
	assert.Equal(t, int64(1_500_000), history.Entries[0].Delta)

	w = s.do(t, http.MethodGet, "/v1/stats", nil)
	stats := decode[StatsResponse](t, w)
	assert.Equal(t, uint64(1), stats.Sequence)
	assert.Equal(t, int64(10), stats.FeesBurned)
	assert.Equal(t, 1, stats.AccountsCreated)
}

func TestTransfer_GeneratesTransactionID(t *testing.T) {
	s := newServer(t, 0)
	alice := addr(1)
	_, err := s.proc.SeedAccount(context.Background(), alice, 5_000_000)
	require.NoError(t, err)

	w := s.do(t, http.MethodPost, "/v1/transfer", TransferRequest{
		OwnerAddress: alice.String(),
		ToAddress:    addr(2).String(),
		Amount:       1_000_000,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, decode[TransferResponse](t, w).TransactionID)
}

func TestTransfer_Rejections(t *testing.T) {
	s := newServer(t, 0)
	alice := addr(1)
	_, err := s.proc.SeedAccount(context.Background(), alice, 5_000_000)
	require.NoError(t, err)

	tests := []struct {
		name string
		req  TransferRequest
		code int
		kind actuator.Kind
	}{
		{"self transfer", TransferRequest{OwnerAddress: alice.String(), ToAddress: alice.Hex(), Amount: 1}, http.StatusUnprocessableEntity, actuator.KindSelfTransfer},
		{"zero amount", TransferRequest{OwnerAddress: alice.String(), ToAddress: addr(2).String(), Amount: 0}, http.StatusUnprocessableEntity, actuator.KindNonPositiveAmount},
		{"below creation minimum", TransferRequest{OwnerAddress: alice.String(), ToAddress: addr(2).String(), Amount: 999_999}, http.StatusUnprocessableEntity, actuator.KindBelowCreationMinimum},
		{"unknown owner", TransferRequest{OwnerAddress: addr(9).String(), ToAddress: alice.String(), Amount: 1}, http.StatusUnprocessableEntity, actuator.KindUnknownOwner},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, "/v1/transfer", tc.req)
			require.Equal(t, tc.code, w.Code, w.Body.String())
			resp := decode[TransferResponse](t, w)
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Outcome)
			assert.Equal(t, tc.kind, resp.Outcome.Kind)
			assert.NotEmpty(t, resp.Message)
		})
	}
}

func TestTransfer_BadRequests(t *testing.T) {
	s := newServer(t, 0)

	w := s.do(t, http.MethodPost, "/v1/transfer", map[string]any{"amount": 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/v1/transfer", TransferRequest{OwnerAddress: "not-an-address", ToAddress: addr(2).String(), Amount: 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), string(actuator.KindInvalidAddress))
}

func TestTransfer_Duplicate(t *testing.T) {
	s := newServer(t, 0)
	alice, bob := addr(1), addr(2)
	_, err := s.proc.SeedAccount(context.Background(), alice, 5_000_000)
	require.NoError(t, err)

	req := TransferRequest{OwnerAddress: alice.String(), ToAddress: bob.String(), Amount: 1_000_000, TransactionID: "dup"}
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/v1/transfer", req).Code)

	w := s.do(t, http.MethodPost, "/v1/transfer", req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[TransferResponse](t, w).Outcome.Duplicate)

	acc, err := s.proc.Account(context.Background(), bob)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), acc.Balance)
}

func TestGetAccount_NotFoundAndInvalid(t *testing.T) {
	s := newServer(t, 0)

	w := s.do(t, http.MethodGet, "/v1/account/"+addr(5).String(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, "/v1/account/0OIl", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSeedAccount_Validation(t *testing.T) {
	s := newServer(t, 0)

	w := s.do(t, http.MethodPost, "/v1/account", map[string]any{"address": addr(1).String(), "balance": -5})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/v1/account", map[string]any{"balance": 5})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealth(t *testing.T) {
	s := newServer(t, 0)
	w := s.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode[HealthResponse](t, w).Status)
}

func TestHistory_ReadModelDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := ledger.NewMemoryStore()
	proc := processor.New(store, actuator.NewRegistry(actuator.NewEnv(store, params.Default())))
	r := gin.New()
	SetupRoutes(r, NewHandler(DirectSubmitter{Processor: proc}, proc, nil))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/account/"+addr(1).String()+"/history", nil))
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

type stubSubmitter struct {
	outcome *processor.Outcome
	err     error
}

func (s stubSubmitter) Submit(context.Context, domain.Transaction) (*processor.Outcome, error) {
	return s.outcome, s.err
}

func TestTransfer_JournalErrorFromBus(t *testing.T) {
	s := newServer(t, 0)
	resp := processor.CommandResponse{
		Error:        fmt.Errorf("%w: disk full", processor.ErrJournal).Error(),
		Outcome:      &processor.Outcome{TransactionID: "tx-j", Sequence: 4, Status: processor.StatusApplied},
		JournalError: true,
	}
	outcome, err := resp.Result()

	r := gin.New()
	SetupRoutes(r, NewHandler(stubSubmitter{outcome: outcome, err: err}, s.proc, nil))
	s.router = r

	w := s.do(t, http.MethodPost, "/v1/transfer", map[string]any{
		"owner_address":  addr(1).String(),
		"to_address":     addr(2).String(),
		"amount":         5,
		"transaction_id": "tx-j",
	})
	require.Equal(t, http.StatusInternalServerError, w.Code)
	body := decode[TransferResponse](t, w)
	assert.True(t, body.Success, "the transfer itself was committed")
	assert.Contains(t, body.Message, "journal write failed")
}

func TestSeedAccount_RejectsAddressOffNetwork(t *testing.T) {
	s := newServer(t, 0)

	short := domain.Address(addr(1)[1:])
	w := s.do(t, http.MethodPost, "/v1/account", map[string]any{"address": short.String(), "balance": 5})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	testnet := addr(1)
	testnet[0] = domain.TestNetPrefix
	w = s.do(t, http.MethodPost, "/v1/account", map[string]any{"address": testnet.Hex(), "balance": 5})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/v1/account", map[string]any{"address": addr(1).Hex(), "balance": 5})
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestTransfer_SpanCarriesTransaction(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := telemetry.Tracer
	defer func() { telemetry.Tracer = prev }()
	telemetry.Tracer = tp.Tracer("test")

	s := newServer(t, 0)
	_, err := s.proc.SeedAccount(context.Background(), addr(1), 10)
	require.NoError(t, err)

	r := gin.New()
	r.Use(middleware.Tracing())
	SetupRoutes(r, NewHandler(DirectSubmitter{Processor: s.proc}, s.proc, nil))
	s.router = r

	w := s.do(t, http.MethodPost, "/v1/transfer", TransferRequest{
		OwnerAddress:  addr(1).String(),
		ToAddress:     addr(2).String(),
		Amount:        2_000_000,
		TransactionID: "tx-span",
	})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var server sdktrace.ReadOnlySpan
	for _, span := range recorder.Ended() {
		if span.Name() == "HTTP POST /v1/transfer" {
			server = span
		}
	}
	require.NotNil(t, server)

	attrs := map[string]string{}
	for _, kv := range server.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "tx-span", attrs[middleware.TransactionIDKey])
	assert.Equal(t, string(actuator.KindInsufficientBalance), attrs[middleware.FailureKindKey])
}
