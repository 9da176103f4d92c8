package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/MultiSigWallet/internal/wallet"
)

// errorStatus maps a wallet error to its HTTP status and a stable code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, wallet.ErrUnauthorized):
		return http.StatusForbidden, "unauthorized"
	case errors.Is(err, wallet.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, wallet.ErrAlreadyExecuted):
		return http.StatusConflict, "already_executed"
	case errors.Is(err, wallet.ErrAlreadyConfirmed):
		return http.StatusConflict, "already_confirmed"
	case errors.Is(err, wallet.ErrNotConfirmed):
		return http.StatusConflict, "not_confirmed"
	case errors.Is(err, wallet.ErrInsufficientConfirmations):
		return http.StatusConflict, "insufficient_confirmations"
	case errors.Is(err, wallet.ErrExecutionFailed):
		return http.StatusBadGateway, "execution_failed"
	case errors.Is(err, wallet.ErrInvalidValue):
		return http.StatusBadRequest, "invalid_value"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "busy"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// writeError sends err as a JSON error body. Internal errors are logged and
// their text withheld.
func writeError(c *gin.Context, logger *zap.Logger, op string, err error) {
	status, code := errorStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error(op, zap.Error(err))
		msg = "internal error"
	}
	c.JSON(status, gin.H{"error": msg, "code": code})
}
