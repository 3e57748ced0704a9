package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	accountdomain "github.com/shigotoba/paygate/internal/account/domain"
	orderdomain "github.com/shigotoba/paygate/internal/order/domain"
	paymentdomain "github.com/shigotoba/paygate/internal/payment/domain"
	taskdomain "github.com/shigotoba/paygate/internal/task/domain"
	"gorm.io/gorm"
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInvalidRequest = errors.New("invalid_request")
	ErrInternal       = errors.New("internal_error")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	switch {
	case err == nil:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, orderdomain.ErrInvalidOrderAmount):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: errorCode(err, "invalid_request"),
		}
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: errorCode(err, "not_found"),
		}
	case isAuthorizationFailure(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "payment authorization failed",
			Reason:  "payment_authorization_failed",
			Detail:  authorizationFailureDetail(err),
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, accountdomain.ErrNotFound),
		errors.Is(err, orderdomain.ErrNotFound),
		errors.Is(err, taskdomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

// isAuthorizationFailure collects the payment outcomes API callers must be
// able to act on. Each maps to 409 with a machine-readable detail code.
func isAuthorizationFailure(err error) bool {
	switch {
	case errors.Is(err, paymentdomain.ErrBillingNotReady),
		errors.Is(err, paymentdomain.ErrAuthorizationMissing),
		errors.Is(err, paymentdomain.ErrAuthorizationExpired),
		errors.Is(err, paymentdomain.ErrAuthorizationNotCapturable),
		paymentdomain.IsStripeError(err):
		return true
	default:
		return false
	}
}

func authorizationFailureDetail(err error) string {
	switch {
	case errors.Is(err, paymentdomain.ErrBillingNotReady):
		return "billing_not_ready"
	case errors.Is(err, paymentdomain.ErrAuthorizationMissing):
		return "authorization_missing"
	case errors.Is(err, paymentdomain.ErrAuthorizationExpired):
		return "authorization_expired"
	case errors.Is(err, paymentdomain.ErrAuthorizationNotCapturable):
		return "authorization_not_capturable"
	case paymentdomain.IsStripeError(err):
		return "stripe_error"
	default:
		return "payment_failed"
	}
}

func errorCode(err error, fallback string) string {
	if err == nil {
		return fallback
	}
	return err.Error()
}
