package api

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/MultiSigWallet/internal/caller"
	"github.com/jmerrifield20/MultiSigWallet/internal/identity"
	"github.com/jmerrifield20/MultiSigWallet/internal/wallet"
)

// CallLookup resolves the context of an in-flight external call so a
// callback request can join the execution that made it.
type CallLookup interface {
	Lookup(id string) (context.Context, bool)
}

// WalletHandler exposes the wallet operations and queries.
type WalletHandler struct {
	w      *wallet.Wallet
	tokens *identity.TokenIssuer
	calls  CallLookup
	logger *zap.Logger
}

// NewWalletHandler creates a WalletHandler. calls may be nil.
func NewWalletHandler(w *wallet.Wallet, tokens *identity.TokenIssuer, calls CallLookup, logger *zap.Logger) *WalletHandler {
	return &WalletHandler{w: w, tokens: tokens, calls: calls, logger: logger}
}

// Register mounts the wallet routes on the given router group.
func (h *WalletHandler) Register(rg *gin.RouterGroup) {
	auth := identity.RequireOwnerToken(h.tokens)

	rg.GET("/wallet", h.GetWallet)
	rg.GET("/wallet/owners", h.GetOwners)
	rg.POST("/wallet/deposits", auth, h.Deposit)

	tx := rg.Group("/transactions")
	{
		tx.GET("", h.ListTransactions)
		tx.POST("", auth, h.SubmitTransaction)
		tx.GET("/:idx", h.GetTransaction)
		tx.POST("/:idx/confirm", auth, h.ConfirmTransaction)
		tx.POST("/:idx/revoke", auth, h.RevokeTransaction)
		tx.POST("/:idx/execute", auth, h.ExecuteTransaction)
		tx.GET("/:idx/confirmations", h.ListConfirmations)
		tx.GET("/:idx/confirmations/:owner", h.GetConfirmation)
	}
}

// opCtx returns the context a wallet call should run under: the in-flight
// call's context for a callback request, the request context otherwise.
func (h *WalletHandler) opCtx(c *gin.Context) context.Context {
	if h.calls != nil {
		if id := c.GetHeader(caller.CallHeader); id != "" {
			if ctx, ok := h.calls.Lookup(id); ok {
				return ctx
			}
		}
	}
	return c.Request.Context()
}

func parseIndex(c *gin.Context) (int, bool) {
	idx, err := strconv.Atoi(c.Param("idx"))
	if err != nil || idx < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "idx must be a non-negative integer", "code": "bad_request"})
		return 0, false
	}
	return idx, true
}

func parseAmount(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 0)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not an integer", wallet.ErrInvalidValue, s)
	}
	return v, nil
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg, "code": "bad_request"})
}

// GetWallet handles GET /wallet. Returns the registry, balance and size.
func (h *WalletHandler) GetWallet(c *gin.Context) {
	ctx := h.opCtx(c)
	balance, err := h.w.Balance(ctx)
	if err != nil {
		writeError(c, h.logger, "wallet balance", err)
		return
	}
	count, err := h.w.TransactionCount(ctx)
	if err != nil {
		writeError(c, h.logger, "wallet transaction count", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"owners":            h.w.Owners(),
		"threshold":         h.w.Threshold(),
		"balance":           balance.String(),
		"transaction_count": count,
	})
}

// GetOwners handles GET /wallet/owners.
func (h *WalletHandler) GetOwners(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"owners":    h.w.Owners(),
		"threshold": h.w.Threshold(),
	})
}

// Deposit handles POST /wallet/deposits. Credits the wallet balance.
func (h *WalletHandler) Deposit(c *gin.Context) {
	from, _ := identity.OwnerFromCtx(c)

	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(c, h.logger, "deposit", err)
		return
	}

	ctx := h.opCtx(c)
	if err := h.w.Deposit(ctx, from, amount); err != nil {
		writeError(c, h.logger, "deposit", err)
		return
	}
	balance, err := h.w.Balance(ctx)
	if err != nil {
		writeError(c, h.logger, "wallet balance", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": balance.String()})
}

// ListTransactions handles GET /transactions?offset=&limit=.
func (h *WalletHandler) ListTransactions(c *gin.Context) {
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit > 500 {
		limit = 500
	}

	ctx := h.opCtx(c)
	txs, err := h.w.Transactions(ctx, offset, limit)
	if err != nil {
		writeError(c, h.logger, "list transactions", err)
		return
	}
	total, err := h.w.TransactionCount(ctx)
	if err != nil {
		writeError(c, h.logger, "transaction count", err)
		return
	}

	threshold := h.w.Threshold()
	views := make([]transactionView, 0, len(txs))
	for _, tx := range txs {
		views = append(views, toTransactionView(tx, threshold))
	}
	c.JSON(http.StatusOK, gin.H{"transactions": views, "count": len(views), "total": total})
}

// SubmitTransaction handles POST /transactions. Proposes a new call.
func (h *WalletHandler) SubmitTransaction(c *gin.Context) {
	owner, _ := identity.OwnerFromCtx(c)

	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if !common.IsHexAddress(req.To) {
		badRequest(c, "to must be a hex address")
		return
	}
	value, err := parseAmount(req.Value)
	if err != nil {
		writeError(c, h.logger, "submit transaction", err)
		return
	}
	var data []byte
	if req.Data != "" {
		if data, err = hexutil.Decode(req.Data); err != nil {
			badRequest(c, "data must be 0x-prefixed hex: "+err.Error())
			return
		}
	}

	ctx := h.opCtx(c)
	idx, err := h.w.Submit(ctx, owner, common.HexToAddress(req.To), value, data)
	if err != nil {
		writeError(c, h.logger, "submit transaction", err)
		return
	}
	h.respondTransaction(ctx, c, http.StatusCreated, idx)
}

// GetTransaction handles GET /transactions/:idx.
func (h *WalletHandler) GetTransaction(c *gin.Context) {
	idx, ok := parseIndex(c)
	if !ok {
		return
	}
	h.respondTransaction(h.opCtx(c), c, http.StatusOK, idx)
}

// ConfirmTransaction handles POST /transactions/:idx/confirm.
func (h *WalletHandler) ConfirmTransaction(c *gin.Context) {
	h.mutate(c, "confirm transaction", h.w.Confirm)
}

// RevokeTransaction handles POST /transactions/:idx/revoke.
func (h *WalletHandler) RevokeTransaction(c *gin.Context) {
	h.mutate(c, "revoke confirmation", h.w.Revoke)
}

// ExecuteTransaction handles POST /transactions/:idx/execute.
func (h *WalletHandler) ExecuteTransaction(c *gin.Context) {
	h.mutate(c, "execute transaction", h.w.Execute)
}

func (h *WalletHandler) mutate(c *gin.Context, op string, fn func(context.Context, common.Address, int) error) {
	owner, _ := identity.OwnerFromCtx(c)
	idx, ok := parseIndex(c)
	if !ok {
		return
	}
	ctx := h.opCtx(c)
	if err := fn(ctx, owner, idx); err != nil {
		writeError(c, h.logger, op, err)
		return
	}
	h.respondTransaction(ctx, c, http.StatusOK, idx)
}

func (h *WalletHandler) respondTransaction(ctx context.Context, c *gin.Context, status, idx int) {
	tx, err := h.w.Transaction(ctx, idx)
	if err != nil {
		writeError(c, h.logger, "get transaction", err)
		return
	}
	c.JSON(status, toTransactionView(tx, h.w.Threshold()))
}

// ListConfirmations handles GET /transactions/:idx/confirmations.
func (h *WalletHandler) ListConfirmations(c *gin.Context) {
	idx, ok := parseIndex(c)
	if !ok {
		return
	}
	owners, err := h.w.Confirmations(h.opCtx(c), idx)
	if err != nil {
		writeError(c, h.logger, "list confirmations", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"index": idx, "owners": owners, "count": len(owners)})
}

// GetConfirmation handles GET /transactions/:idx/confirmations/:owner.
func (h *WalletHandler) GetConfirmation(c *gin.Context) {
	idx, ok := parseIndex(c)
	if !ok {
		return
	}
	raw := c.Param("owner")
	if !common.IsHexAddress(raw) {
		badRequest(c, "owner must be a hex address")
		return
	}
	owner := common.HexToAddress(raw)
	confirmed, err := h.w.IsConfirmed(h.opCtx(c), idx, owner)
	if err != nil {
		writeError(c, h.logger, "get confirmation", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"index": idx, "owner": owner, "confirmed": confirmed})
}
