package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/nathanyu/transfer-actuator/internal/actuator"
	"github.com/nathanyu/transfer-actuator/internal/cqrs"
	"github.com/nathanyu/transfer-actuator/internal/domain"
	"github.com/nathanyu/transfer-actuator/internal/ledger"
	"github.com/nathanyu/transfer-actuator/internal/middleware"
	"github.com/nathanyu/transfer-actuator/internal/processor"
	"github.com/nathanyu/transfer-actuator/internal/wire"
	"github.com/shopspring/decimal"
)

// trxExponent scales sun to TRX
const trxExponent = -6

// Handler contains all HTTP handlers
type Handler struct {
	submitter Submitter
	processor *processor.Processor
	readModel *cqrs.ReadModel
	timeout   time.Duration
}

// NewHandler creates a new handler. readModel may be nil.
func NewHandler(submitter Submitter, proc *processor.Processor, readModel *cqrs.ReadModel) *Handler {
	return &Handler{
		submitter: submitter,
		processor: proc,
		readModel: readModel,
		timeout:   5 * time.Second,
	}
}

// TransferRequest is the request body for the transfer endpoint.
// Addresses are base58check or hex.
type TransferRequest struct {
	OwnerAddress  string `json:"owner_address" binding:"required"`
	ToAddress     string `json:"to_address" binding:"required"`
	Amount        int64  `json:"amount"`
	TransactionID string `json:"transaction_id"` // Optional, generated when empty
}

// TransferResponse is the response body for the transfer endpoint
type TransferResponse struct {
	TransactionID string             `json:"transaction_id"`
	Success       bool               `json:"success"`
	Message       string             `json:"message,omitempty"`
	Outcome       *processor.Outcome `json:"outcome,omitempty"`
}

// Transfer handles POST /v1/transfer
func (h *Handler) Transfer(c *gin.Context) {
	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	owner, err := domain.ParseAddress(req.OwnerAddress)
	if err != nil {
		c.Set(middleware.FailureKindKey, string(actuator.KindInvalidAddress))
		c.JSON(http.StatusBadRequest, gin.H{"error": "owner_address: " + err.Error(), "kind": actuator.KindInvalidAddress})
		return
	}
	to, err := domain.ParseAddress(req.ToAddress)
	if err != nil {
		c.Set(middleware.FailureKindKey, string(actuator.KindInvalidAddress))
		c.JSON(http.StatusBadRequest, gin.H{"error": "to_address: " + err.Error(), "kind": actuator.KindInvalidAddress})
		return
	}

	txnID := req.TransactionID
	if txnID == "" {
		txnID = uuid.Must(uuid.NewV7()).String()
	}
	c.Set(middleware.TransactionIDKey, txnID)

	tx := domain.Transaction{
		ID: txnID,
		Contract: wire.EncodeTransfer(domain.TransferContract{
			OwnerAddress: owner,
			ToAddress:    to,
			Amount:       req.Amount,
		}),
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	outcome, err := h.submitter.Submit(ctx, tx)
	if outcome == nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":          "failed to process transfer",
			"transaction_id": txnID,
		})
		return
	}

	if outcome.Kind != "" {
		c.Set(middleware.FailureKindKey, string(outcome.Kind))
	}

	resp := TransferResponse{TransactionID: txnID, Outcome: outcome}
	switch {
	case err != nil:
		// the transition is committed but was not journaled
		resp.Success = outcome.Status == processor.StatusApplied
		resp.Message = err.Error()
		c.JSON(http.StatusInternalServerError, resp)
	case outcome.Status == processor.StatusApplied:
		resp.Success = true
		resp.Message = "transfer completed"
		c.JSON(http.StatusOK, resp)
	case outcome.Status == processor.StatusRecovered:
		resp.Message = "transaction already processed"
		c.JSON(http.StatusOK, resp)
	case outcome.Kind == actuator.KindStoreUnavailable:
		resp.Message = outcome.Reason
		c.JSON(http.StatusServiceUnavailable, resp)
	case outcome.Status == processor.StatusFailed:
		resp.Message = outcome.Reason
		c.JSON(http.StatusConflict, resp)
	default:
		resp.Message = outcome.Reason
		c.JSON(http.StatusUnprocessableEntity, resp)
	}
}

// AccountResponse is the response body for account queries
type AccountResponse struct {
	Address    string             `json:"address"`
	Hex        string             `json:"hex"`
	Balance    int64              `json:"balance"`
	BalanceTRX string             `json:"balance_trx"`
	Type       domain.AccountType `json:"type"`
	CreateTime int64              `json:"create_time"`
}

func newAccountResponse(acc *domain.Account) AccountResponse {
	return AccountResponse{
		Address:    acc.Address.String(),
		Hex:        acc.Address.Hex(),
		Balance:    acc.Balance,
		BalanceTRX: decimal.New(acc.Balance, trxExponent).StringFixed(-trxExponent),
		Type:       acc.Type,
		CreateTime: acc.CreateTime,
	}
}

// GetAccount handles GET /v1/account/:address
func (h *Handler) GetAccount(c *gin.Context) {
	addr, err := domain.ParseAddress(c.Param("address"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	acc, err := h.processor.Account(c.Request.Context(), addr)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found", "address": addr.String()})
		return
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, newAccountResponse(acc))
}

// HistoryResponse is the response body for account history
type HistoryResponse struct {
	Address string              `json:"address"`
	Entries []cqrs.HistoryEntry `json:"entries"`
}

// GetHistory handles GET /v1/account/:address/history
func (h *Handler) GetHistory(c *gin.Context) {
	if h.readModel == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "read model disabled"})
		return
	}
	addr, err := domain.ParseAddress(c.Param("address"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, HistoryResponse{
		Address: addr.String(),
		Entries: h.readModel.History(addr),
	})
}

// StatsResponse is the response body for the stats endpoint
type StatsResponse struct {
	Sequence uint64 `json:"sequence"`
	cqrs.Stats
}

// GetStats handles GET /v1/stats
func (h *Handler) GetStats(c *gin.Context) {
	resp := StatsResponse{Sequence: h.processor.Sequence()}
	if h.readModel != nil {
		resp.Stats = h.readModel.Stats()
	}
	c.JSON(http.StatusOK, resp)
}

// SeedAccountRequest is the request body for account seeding
type SeedAccountRequest struct {
	Address string `json:"address" binding:"required"`
	Balance int64  `json:"balance" binding:"gte=0"`
}

// SeedAccount handles POST /v1/account (for testing purposes)
func (h *Handler) SeedAccount(c *gin.Context) {
	var req SeedAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	addr, err := domain.ParseAddress(req.Address)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	acc, err := h.processor.SeedAccount(c.Request.Context(), addr, req.Balance)
	switch {
	case errors.Is(err, domain.ErrInvalidAddress):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": actuator.KindInvalidAddress})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, newAccountResponse(acc))
}

// HealthResponse is the response for health check endpoint
type HealthResponse struct {
	Status   string `json:"status"`
	Time     string `json:"time"`
	Sequence uint64 `json:"sequence"`
}

// Health handles GET /health
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:   "ok",
		Time:     time.Now().UTC().Format(time.RFC3339),
		Sequence: h.processor.Sequence(),
	})
}

// SetupRoutes configures all API routes
func SetupRoutes(r *gin.Engine, h *Handler) {
	r.GET("/health", h.Health)

	v1 := r.Group("/v1")
	{
		v1.POST("/transfer", h.Transfer)
		v1.GET("/account/:address", h.GetAccount)
		v1.GET("/account/:address/history", h.GetHistory)
		v1.POST("/account", h.SeedAccount) // For testing
		v1.GET("/stats", h.GetStats)
	}
}
