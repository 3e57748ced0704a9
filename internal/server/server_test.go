package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	accountdomain "github.com/shigotoba/paygate/internal/account/domain"
	accountrepo "github.com/shigotoba/paygate/internal/account/repository"
	arrearsdomain "github.com/shigotoba/paygate/internal/arrears/domain"
	arrearsrepo "github.com/shigotoba/paygate/internal/arrears/repository"
	arrearsservice "github.com/shigotoba/paygate/internal/arrears/service"
	"github.com/shigotoba/paygate/internal/clock"
	"github.com/shigotoba/paygate/internal/config"
	orderdomain "github.com/shigotoba/paygate/internal/order/domain"
	orderrepo "github.com/shigotoba/paygate/internal/order/repository"
	orderservice "github.com/shigotoba/paygate/internal/order/service"
	paymentdomain "github.com/shigotoba/paygate/internal/payment/domain"
	paymentrepo "github.com/shigotoba/paygate/internal/payment/repository"
	paymentservice "github.com/shigotoba/paygate/internal/payment/service"
	taskdomain "github.com/shigotoba/paygate/internal/task/domain"
	taskrepo "github.com/shigotoba/paygate/internal/task/repository"
	webhookdomain "github.com/shigotoba/paygate/internal/webhook/domain"
	webhookrepo "github.com/shigotoba/paygate/internal/webhook/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testWebhookSecret = "whsec_test"

type fakeProvider struct {
	createIntentCalls int
	captureCalls      int
	captureBefore     time.Time
}

func (f *fakeProvider) CreateCustomer(ctx context.Context, params paymentdomain.CreateCustomerParams) (paymentdomain.Customer, error) {
	_ = ctx
	return paymentdomain.Customer{ID: "cus_" + params.AccountID}, nil
}

func (f *fakeProvider) CreateSetupIntent(ctx context.Context, customerID string) (paymentdomain.SetupIntent, error) {
	_ = ctx
	return paymentdomain.SetupIntent{ID: "seti_1", ClientSecret: "secret"}, nil
}

func (f *fakeProvider) AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) error {
	_ = ctx
	return nil
}

func (f *fakeProvider) CreatePaymentIntent(ctx context.Context, params paymentdomain.CreateIntentParams) (paymentdomain.PaymentIntent, error) {
	f.createIntentCalls++
	_ = ctx
	return paymentdomain.PaymentIntent{
		ID:                   fmt.Sprintf("pi_%d", f.createIntentCalls),
		Status:               paymentdomain.IntentStatusRequiresCapture,
		Amount:               params.AmountMinor,
		Currency:             params.Currency,
		ApplicationFeeAmount: params.ApplicationFeeAmount,
		TransferDestination:  params.DestinationAccount,
		LatestCharge:         "ch_1",
	}, nil
}

func (f *fakeProvider) CapturePaymentIntent(ctx context.Context, intentID, idempotencyKey string) (paymentdomain.PaymentIntent, error) {
	f.captureCalls++
	_ = ctx
	_ = idempotencyKey
	return paymentdomain.PaymentIntent{ID: intentID, Status: paymentdomain.IntentStatusSucceeded}, nil
}

func (f *fakeProvider) GetCharge(ctx context.Context, chargeID string) (paymentdomain.Charge, error) {
	_ = ctx
	before := f.captureBefore
	return paymentdomain.Charge{ID: chargeID, CaptureBefore: &before}, nil
}

type serverFixture struct {
	srv      *Server
	router   *gin.Engine
	db       *gorm.DB
	node     *snowflake.Node
	fake     *clock.FakeClock
	provider *fakeProvider
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(
		&accountdomain.Account{},
		&orderdomain.Order{},
		&taskdomain.Task{},
		&paymentdomain.Authorization{},
		&arrearsdomain.Arrear{},
		&webhookdomain.InboxEvent{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}
	fake := clock.NewFakeClock(time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC))
	provider := &fakeProvider{captureBefore: fake.Now().Add(7 * 24 * time.Hour)}

	cfg := &config.Config{
		Stripe: config.StripeConfig{
			WebhookSecret:      testWebhookSecret,
			DefaultDestination: "acct_default",
		},
		Billing: config.BillingConfig{
			MaxCaptureAttempts: 3,
			ArrearsGraceHours:  72,
		},
	}

	orderSvc := orderservice.New(orderservice.Params{
		Log:    zap.NewNop(),
		DB:     db,
		Config: cfg,
		GenID:  node,
		Clock:  fake,
		Repo:   orderrepo.Provide(),
	})
	arrearsSvc := arrearsservice.New(arrearsservice.Params{
		Log:    zap.NewNop(),
		DB:     db,
		Config: cfg,
		GenID:  node,
		Clock:  fake,
		Repo:   arrearsrepo.Provide(),
	})
	paymentSvc := paymentservice.New(paymentservice.Params{
		Log:         zap.NewNop(),
		DB:          db,
		Config:      cfg,
		GenID:       node,
		Clock:       fake,
		Repo:        paymentrepo.Provide(),
		AccountRepo: accountrepo.Provide(),
		OrderRepo:   orderrepo.Provide(),
		TaskRepo:    taskrepo.Provide(),
		ArrearsSvc:  arrearsSvc,
		Provider:    provider,
	})

	srv := &Server{
		cfg:         cfg,
		db:          db,
		log:         zap.NewNop(),
		genID:       node,
		clock:       fake,
		orderSvc:    orderSvc,
		orderRepo:   orderrepo.Provide(),
		paymentSvc:  paymentSvc,
		taskRepo:    taskrepo.Provide(),
		webhookRepo: webhookrepo.Provide(),
	}

	router := gin.New()
	router.Use(ErrorHandlingMiddleware())
	srv.engine = router
	srv.RegisterRoutes()

	return &serverFixture{srv: srv, router: router, db: db, node: node, fake: fake, provider: provider}
}

func (f *serverFixture) seedAccount(t *testing.T, ready bool) snowflake.ID {
	t.Helper()
	now := f.fake.Now()
	account := &accountdomain.Account{
		ID:        f.node.Generate(),
		Country:   "JP",
		Status:    accountdomain.AccountStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if ready {
		account.StripeCustomerID = "cus_seeded"
		account.DefaultPaymentMethod = "pm_seeded"
	}
	if err := f.db.Create(account).Error; err != nil {
		t.Fatalf("seed account: %v", err)
	}
	return account.ID
}

func (f *serverFixture) seedTask(t *testing.T, accountID snowflake.ID) snowflake.ID {
	t.Helper()
	now := f.fake.Now()
	task := &taskdomain.Task{
		ID:          f.node.Generate(),
		AIAccountID: accountID,
		Status:      taskdomain.TaskStatusReviewPending,
		PaidStatus:  taskdomain.PaidStatusUnpaid,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := f.db.Create(task).Error; err != nil {
		t.Fatalf("seed task: %v", err)
	}
	return task.ID
}

func (f *serverFixture) do(method, path string, body []byte, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp := httptest.NewRecorder()
	f.router.ServeHTTP(resp, req)
	return resp
}

func TestCreateOrderAndAuthorize(t *testing.T) {
	f := newServerFixture(t)
	accountID := f.seedAccount(t, true)
	taskID := f.seedTask(t, accountID)

	body := fmt.Sprintf(`{"ai_account_id":%q,"task_id":%q,"base_amount":10000,"fx_cost":0,"payer_country":"JP","payee_country":"JP","authorize":true}`,
		accountID.String(), taskID.String())
	resp := f.do(http.MethodPost, "/api/orders", []byte(body), nil)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}

	var parsed struct {
		Order         *orderdomain.Order `json:"order"`
		Authorization struct {
			Status          string `json:"status"`
			PaymentIntentID string `json:"payment_intent_id"`
		} `json:"authorization"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &parsed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if parsed.Order == nil || parsed.Order.TotalAmountJPY != 11000 {
		t.Fatalf("unexpected order: %+v", parsed.Order)
	}
	if parsed.Authorization.Status != string(paymentdomain.AuthorizationStatusAuthorized) {
		t.Fatalf("expected authorized, got %q", parsed.Authorization.Status)
	}
	if parsed.Authorization.PaymentIntentID == "" {
		t.Fatal("expected payment intent id")
	}
	if f.provider.createIntentCalls != 1 {
		t.Fatalf("expected one provider call, got %d", f.provider.createIntentCalls)
	}
}

func TestCreateOrderAuthorizeBillingNotReady(t *testing.T) {
	f := newServerFixture(t)
	accountID := f.seedAccount(t, false)
	taskID := f.seedTask(t, accountID)

	body := fmt.Sprintf(`{"ai_account_id":%q,"task_id":%q,"base_amount":10000,"payer_country":"JP","payee_country":"JP","authorize":true}`,
		accountID.String(), taskID.String())
	resp := f.do(http.MethodPost, "/api/orders", []byte(body), nil)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", resp.Code, resp.Body.String())
	}
	var parsed errorResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &parsed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if parsed.Error.Reason != "payment_authorization_failed" {
		t.Fatalf("expected reason payment_authorization_failed, got %q", parsed.Error.Reason)
	}
	if parsed.Error.Detail != "billing_not_ready" {
		t.Fatalf("expected detail billing_not_ready, got %q", parsed.Error.Detail)
	}

	// The order row survives the failed authorize so a retry can reuse it.
	var count int64
	if err := f.db.Model(&orderdomain.Order{}).Count(&count).Error; err != nil {
		t.Fatalf("count orders: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected order row to remain, got %d", count)
	}
	if f.provider.createIntentCalls != 0 {
		t.Fatalf("expected no provider call, got %d", f.provider.createIntentCalls)
	}
}

func TestApproveTaskCapturesLatestOrder(t *testing.T) {
	f := newServerFixture(t)
	accountID := f.seedAccount(t, true)
	taskID := f.seedTask(t, accountID)

	order, err := f.srv.orderSvc.CreateOrder(context.Background(), orderdomain.CreateOrderRequest{
		AIAccountID:  accountID,
		TaskID:       taskID,
		BaseAmount:   10000,
		PayerCountry: "JP",
		PayeeCountry: "JP",
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	resp := f.do(http.MethodPost, "/api/tasks/"+taskID.String()+"/approve", nil, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var parsed struct {
		Status          string `json:"status"`
		OrderID         string `json:"order_id"`
		Version         int    `json:"version"`
		PaymentIntentID string `json:"payment_intent_id"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &parsed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if parsed.Status != string(paymentdomain.AuthorizationStatusCaptured) {
		t.Fatalf("expected captured, got %q", parsed.Status)
	}
	if parsed.OrderID != order.ID.String() || parsed.Version != order.Version {
		t.Fatalf("unexpected order ref: %+v", parsed)
	}

	var stored orderdomain.Order
	if err := f.db.Raw("SELECT * FROM orders WHERE id = ? AND version = ?", order.ID, order.Version).Scan(&stored).Error; err != nil {
		t.Fatalf("read order: %v", err)
	}
	if stored.Status != orderdomain.OrderStatusPaid {
		t.Fatalf("expected paid order, got %s", stored.Status)
	}

	// A second approve is a replay: no further provider capture.
	resp = f.do(http.MethodPost, "/api/tasks/"+taskID.String()+"/approve", nil, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 on replay, got %d", resp.Code)
	}
	if f.provider.captureCalls != 1 {
		t.Fatalf("expected one capture call, got %d", f.provider.captureCalls)
	}
}

func TestListAccountOrdersPaginates(t *testing.T) {
	f := newServerFixture(t)
	accountID := f.seedAccount(t, true)
	taskID := f.seedTask(t, accountID)

	var created []string
	for i := 0; i < 3; i++ {
		body := fmt.Sprintf(`{"ai_account_id":%q,"task_id":%q,"base_amount":%d,"payer_country":"JP","payee_country":"JP"}`,
			accountID.String(), taskID.String(), 1000*(i+1))
		resp := f.do(http.MethodPost, "/api/orders", []byte(body), nil)
		if resp.Code != http.StatusCreated {
			t.Fatalf("create %d: expected 201, got %d: %s", i, resp.Code, resp.Body.String())
		}
		var parsed struct {
			Order *orderdomain.Order `json:"order"`
		}
		if err := json.Unmarshal(resp.Body.Bytes(), &parsed); err != nil {
			t.Fatalf("decode: %v", err)
		}
		created = append(created, parsed.Order.ID.String())
	}

	resp := f.do(http.MethodGet, "/api/accounts/"+accountID.String()+"/orders?page_size=2", nil, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var page struct {
		Orders   []*orderdomain.Order `json:"orders"`
		PageInfo struct {
			NextPageToken string `json:"next_page_token"`
			HasMore       bool   `json:"has_more"`
		} `json:"page_info"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(page.Orders) != 2 || !page.PageInfo.HasMore {
		t.Fatalf("expected 2 rows with more, got %d (has_more=%v)", len(page.Orders), page.PageInfo.HasMore)
	}
	// Newest first: the last created order leads the page.
	if page.Orders[0].ID.String() != created[2] || page.Orders[1].ID.String() != created[1] {
		t.Fatalf("unexpected page order: %s, %s", page.Orders[0].ID, page.Orders[1].ID)
	}

	resp = f.do(http.MethodGet, "/api/accounts/"+accountID.String()+"/orders?page_size=2&page_token="+page.PageInfo.NextPageToken, nil, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(page.Orders) != 1 || page.PageInfo.HasMore {
		t.Fatalf("expected final page of 1, got %d (has_more=%v)", len(page.Orders), page.PageInfo.HasMore)
	}
	if page.Orders[0].ID.String() != created[0] {
		t.Fatalf("expected oldest order last, got %s", page.Orders[0].ID)
	}

	resp = f.do(http.MethodGet, "/api/accounts/"+accountID.String()+"/orders?page_token=garbage", nil, nil)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad token, got %d", resp.Code)
	}
}

func TestApproveTaskUnknownTask(t *testing.T) {
	f := newServerFixture(t)

	resp := f.do(http.MethodPost, "/api/tasks/123456789/approve", nil, nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", resp.Code, resp.Body.String())
	}
}

func signPayload(payload []byte, ts int64) string {
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	_, _ = mac.Write([]byte(fmt.Sprintf("%d.%s", ts, payload)))
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func TestStripeWebhookIngress(t *testing.T) {
	f := newServerFixture(t)
	payload := []byte(`{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{}}}`)
	ts := f.fake.Now().Unix()

	resp := f.do(http.MethodPost, "/webhooks/stripe", payload, map[string]string{
		"Stripe-Signature": signPayload(payload, ts),
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var count int64
	if err := f.db.Model(&webhookdomain.InboxEvent{}).Where("provider_event_id = ?", "evt_1").Count(&count).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one inbox row, got %d", count)
	}

	// Retransmission of the same provider event id is acknowledged without a
	// second row.
	resp = f.do(http.MethodPost, "/webhooks/stripe", payload, map[string]string{
		"Stripe-Signature": signPayload(payload, ts),
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 on duplicate, got %d", resp.Code)
	}
	if err := f.db.Model(&webhookdomain.InboxEvent{}).Count(&count).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one inbox row after replay, got %d", count)
	}
}

func TestStripeWebhookRejectsBadSignature(t *testing.T) {
	f := newServerFixture(t)
	payload := []byte(`{"id":"evt_2","type":"payment_intent.succeeded"}`)

	resp := f.do(http.MethodPost, "/webhooks/stripe", payload, map[string]string{
		"Stripe-Signature": "t=1700000000,v1=deadbeef",
	})
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", resp.Code, resp.Body.String())
	}

	var count int64
	if err := f.db.Model(&webhookdomain.InboxEvent{}).Count(&count).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no inbox row, got %d", count)
	}
}
