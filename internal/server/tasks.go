package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	orderdomain "github.com/shigotoba/paygate/internal/order/domain"
	taskdomain "github.com/shigotoba/paygate/internal/task/domain"
)

// ApproveTask settles the submitter's approval: the standing hold for the
// task's latest order version is captured, or placed first when none exists.
func (s *Server) ApproveTask(c *gin.Context) {
	taskID, err := snowflake.ParseString(c.Param("taskId"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	ctx := c.Request.Context()

	task, err := s.taskRepo.FindByID(ctx, s.db, taskID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if task == nil {
		AbortWithError(c, taskdomain.ErrNotFound)
		return
	}

	order, err := s.orderRepo.FindLatestByTask(ctx, s.db, taskID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if order == nil {
		AbortWithError(c, orderdomain.ErrNotFound)
		return
	}

	_, err = s.paymentSvc.AuthorizeOrderPayment(ctx, order.AIAccountID, order.ID, order.Version)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.paymentSvc.CaptureOrderAuthorization(ctx, order.AIAccountID, order.ID, order.Version)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":            result.Status,
		"order_id":          result.OrderID.String(),
		"version":           result.OrderVersion,
		"payment_intent_id": result.PaymentIntentID,
		"capture_before":    result.CaptureBefore,
	})
}

// EnsureBillingCustomer provisions the provider customer for an account so a
// payment method can be attached before the first hold.
func (s *Server) EnsureBillingCustomer(c *gin.Context) {
	accountID, err := snowflake.ParseString(c.Param("accountId"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	customerID, err := s.paymentSvc.EnsureStripeCustomer(c.Request.Context(), accountID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"stripe_customer_id": customerID})
}
