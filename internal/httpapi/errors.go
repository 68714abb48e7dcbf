package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"reward_ledger/internal/ledger"
	"reward_ledger/internal/logger"
	"reward_ledger/internal/referral"
	"reward_ledger/internal/task"
	"reward_ledger/internal/withdrawal"
)

// statusOf maps domain errors to HTTP statuses.
func statusOf(err error) int {
	switch {
	case errors.Is(err, ledger.ErrValidation),
		errors.Is(err, withdrawal.ErrBelowMinimum),
		errors.Is(err, withdrawal.ErrAboveMaximum):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, ledger.ErrUserBlocked):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, withdrawal.ErrInvalidTransition),
		errors.Is(err, task.ErrAlreadyCompletedToday),
		errors.Is(err, task.ErrTaskInactive),
		errors.Is(err, referral.ErrAlreadyReferred),
		errors.Is(err, ledger.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, task.ErrAdLimitReached):
		return http.StatusTooManyRequests
	case errors.Is(err, ledger.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, err error) {
	status := statusOf(err)
	switch status {
	case http.StatusServiceUnavailable:
		logger.L.Warn("store unavailable", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(status, gin.H{"error": "temporarily unavailable, try again", "retryable": true})
	case http.StatusInternalServerError:
		logger.L.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(status, gin.H{"error": "internal error"})
	default:
		c.JSON(status, gin.H{"error": err.Error()})
	}
}
