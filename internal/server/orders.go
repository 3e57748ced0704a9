package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	orderdomain "github.com/shigotoba/paygate/internal/order/domain"
	"github.com/shigotoba/paygate/pkg/db/pagination"
)

type createOrderRequest struct {
	AIAccountID  string `json:"ai_account_id" binding:"required"`
	OrderID      string `json:"order_id"`
	Version      int    `json:"version"`
	TaskID       string `json:"task_id" binding:"required"`
	BaseAmount   int64  `json:"base_amount"`
	FxCost       int64  `json:"fx_cost"`
	PayerCountry string `json:"payer_country" binding:"required"`
	PayeeCountry string `json:"payee_country" binding:"required"`
	// Authorize places the manual-capture hold in the same call. Failure
	// surfaces as 409 payment_authorization_failed and the order row stays.
	Authorize bool `json:"authorize"`
}

type orderResponse struct {
	Order         *orderdomain.Order `json:"order"`
	Authorization gin.H              `json:"authorization,omitempty"`
}

func (s *Server) CreateOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	accountID, err := snowflake.ParseString(req.AIAccountID)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	taskID, err := snowflake.ParseString(req.TaskID)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	var orderID snowflake.ID
	if strings.TrimSpace(req.OrderID) != "" {
		orderID, err = snowflake.ParseString(req.OrderID)
		if err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
	}

	order, err := s.orderSvc.CreateOrder(c.Request.Context(), orderdomain.CreateOrderRequest{
		AIAccountID:  accountID,
		OrderID:      orderID,
		Version:      req.Version,
		TaskID:       taskID,
		BaseAmount:   req.BaseAmount,
		FxCost:       req.FxCost,
		PayerCountry: req.PayerCountry,
		PayeeCountry: req.PayeeCountry,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp := orderResponse{Order: order}
	if req.Authorize {
		auth, err := s.paymentSvc.AuthorizeOrderPayment(c.Request.Context(), accountID, order.ID, order.Version)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		resp.Authorization = gin.H{
			"status":            auth.Status,
			"payment_intent_id": auth.PaymentIntentID,
			"capture_before":    auth.CaptureBefore,
		}
	}

	c.JSON(http.StatusCreated, resp)
}

func (s *Server) GetOrder(c *gin.Context) {
	orderID, version, ok := s.orderRef(c)
	if !ok {
		return
	}

	order, err := s.orderSvc.Get(c.Request.Context(), orderID, version)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, orderResponse{Order: order})
}

func (s *Server) AuthorizeOrder(c *gin.Context) {
	orderID, version, ok := s.orderRef(c)
	if !ok {
		return
	}

	order, err := s.orderSvc.Get(c.Request.Context(), orderID, version)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	auth, err := s.paymentSvc.AuthorizeOrderPayment(c.Request.Context(), order.AIAccountID, orderID, version)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, auth)
}

func (s *Server) CaptureOrder(c *gin.Context) {
	orderID, version, ok := s.orderRef(c)
	if !ok {
		return
	}

	order, err := s.orderSvc.Get(c.Request.Context(), orderID, version)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.paymentSvc.CaptureOrderAuthorization(c.Request.Context(), order.AIAccountID, orderID, version)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type listOrdersResponse struct {
	Orders   []*orderdomain.Order `json:"orders"`
	PageInfo *pagination.PageInfo `json:"page_info"`
}

// ListAccountOrders pages an account's ledger newest first. Every version
// of an order is its own row; the cursor key is "orderID:version".
func (s *Server) ListAccountOrders(c *gin.Context) {
	accountID, err := snowflake.ParseString(c.Param("accountId"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	var page pagination.Page
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	var afterID snowflake.ID
	afterVersion := 0
	if page.PageToken != "" {
		cursor, err := pagination.DecodeCursor(page.PageToken)
		if err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		afterID, afterVersion, err = parseOrderKey(cursor.Key)
		if err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
	}

	limit := page.Limit()
	items, err := s.orderRepo.ListByAccount(c.Request.Context(), s.db, accountID, afterID, afterVersion, limit+1)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	items, info, err := pagination.BuildPageInfo(items, limit, func(o *orderdomain.Order) string {
		return o.ID.String() + ":" + strconv.Itoa(o.Version)
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, listOrdersResponse{Orders: items, PageInfo: info})
}

func parseOrderKey(key string) (snowflake.ID, int, error) {
	idPart, versionPart, ok := strings.Cut(key, ":")
	if !ok {
		return 0, 0, ErrInvalidRequest
	}
	id, err := snowflake.ParseString(idPart)
	if err != nil {
		return 0, 0, ErrInvalidRequest
	}
	version, err := strconv.Atoi(versionPart)
	if err != nil || version < 1 {
		return 0, 0, ErrInvalidRequest
	}
	return id, version, nil
}

func (s *Server) orderRef(c *gin.Context) (snowflake.ID, int, bool) {
	orderID, err := snowflake.ParseString(c.Param("orderId"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return 0, 0, false
	}
	version, err := strconv.Atoi(c.Param("version"))
	if err != nil || version < 1 {
		AbortWithError(c, ErrInvalidRequest)
		return 0, 0, false
	}
	return orderID, version, true
}
