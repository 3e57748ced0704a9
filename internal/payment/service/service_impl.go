package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/shigotoba/paygate/internal/account/domain"
	arrearsdomain "github.com/shigotoba/paygate/internal/arrears/domain"
	"github.com/shigotoba/paygate/internal/clock"
	"github.com/shigotoba/paygate/internal/config"
	obsmetrics "github.com/shigotoba/paygate/internal/observability/metrics"
	orderdomain "github.com/shigotoba/paygate/internal/order/domain"
	"github.com/shigotoba/paygate/internal/payment/domain"
	taskdomain "github.com/shigotoba/paygate/internal/task/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// fallbackHoldWindow is used when the provider omits capture_before on the
// charge detail. Card holds settle within seven days.
const fallbackHoldWindow = 7 * 24 * time.Hour

// retryBackoff is indexed by attempt number; attempts past the ladder reuse
// the last rung.
var retryBackoff = []time.Duration{time.Hour, 24 * time.Hour, 72 * time.Hour}

type Params struct {
	fx.In

	Log         *zap.Logger
	DB          *gorm.DB
	Config      *config.Config
	GenID       *snowflake.Node
	Clock       clock.Clock
	Repo        domain.Repository
	AccountRepo accountdomain.Repository
	OrderRepo   orderdomain.Repository
	TaskRepo    taskdomain.Repository
	ArrearsSvc  arrearsdomain.Service
	Provider    domain.ProviderClient
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

type service struct {
	log         *zap.Logger
	db          *gorm.DB
	cfg         *config.Config
	genID       *snowflake.Node
	clock       clock.Clock
	repo        domain.Repository
	accountRepo accountdomain.Repository
	orderRepo   orderdomain.Repository
	taskRepo    taskdomain.Repository
	arrearsSvc  arrearsdomain.Service
	provider    domain.ProviderClient
	obsMetrics  *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	return &service{
		log:         p.Log.Named("payment.service"),
		db:          p.DB,
		cfg:         p.Config,
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		accountRepo: p.AccountRepo,
		orderRepo:   p.OrderRepo,
		taskRepo:    p.TaskRepo,
		arrearsSvc:  p.ArrearsSvc,
		provider:    p.Provider,
		obsMetrics:  p.ObsMetrics,
	}
}

func (s *service) AuthorizeOrderPayment(ctx context.Context, aiAccountID, orderID snowflake.ID, orderVersion int) (*domain.Authorization, error) {
	account, err := s.accountRepo.FindByID(ctx, s.db, aiAccountID)
	if err != nil {
		return nil, fmt.Errorf("find account: %w", err)
	}
	if account == nil {
		return nil, accountdomain.ErrNotFound
	}
	if !account.BillingReady() {
		return nil, domain.ErrBillingNotReady
	}

	// Authorization is idempotent per order version. A standing hold, a
	// pending or finished capture, even a failed one awaiting retry, all
	// mean no second hold may be placed.
	existing, err := s.repo.FindActiveByOrder(ctx, s.db, orderID, orderVersion)
	if err != nil {
		return nil, fmt.Errorf("find authorization: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	order, err := s.orderRepo.Find(ctx, s.db, orderID, orderVersion)
	if err != nil {
		return nil, fmt.Errorf("find order: %w", err)
	}
	if order == nil {
		return nil, orderdomain.ErrNotFound
	}

	customerID, err := s.EnsureStripeCustomer(ctx, aiAccountID)
	if err != nil {
		return nil, err
	}

	intent, err := s.provider.CreatePaymentIntent(ctx, domain.CreateIntentParams{
		AmountMinor:          order.TotalAmountJPY,
		Currency:             order.Currency,
		CustomerID:           customerID,
		PaymentMethodID:      account.DefaultPaymentMethod,
		ApplicationFeeAmount: order.PlatformFee + order.FxCost,
		DestinationAccount:   order.DestinationAccount,
		TransferGroup:        orderKey(orderID, orderVersion),
		Metadata: map[string]string{
			"order_id":      orderID.String(),
			"order_version": fmt.Sprintf("%d", orderVersion),
			"task_id":       order.TaskID.String(),
			"ai_account_id": aiAccountID.String(),
		},
		IdempotencyKey: "auth:" + orderKey(orderID, orderVersion),
	})
	if err != nil {
		return nil, err
	}

	var status domain.AuthorizationStatus
	switch intent.Status {
	case domain.IntentStatusRequiresCapture:
		status = domain.AuthorizationStatusAuthorized
	case domain.IntentStatusSucceeded:
		status = domain.AuthorizationStatusCaptured
	default:
		s.log.Warn("authorization came back in unusable state",
			zap.String("payment_intent_id", intent.ID),
			zap.String("intent_status", intent.Status),
		)
		return nil, domain.ErrAuthorizationNotCapturable
	}

	now := s.clock.Now().UTC()
	captureBefore := s.resolveCaptureBefore(ctx, intent.LatestCharge, now)

	auth := &domain.Authorization{
		ID:              s.genID.Generate(),
		AIAccountID:     aiAccountID,
		OrderID:         orderID,
		OrderVersion:    orderVersion,
		PaymentIntentID: intent.ID,
		AmountMinor:     order.TotalAmountJPY,
		Currency:        order.Currency,
		Status:          status,
		CaptureBefore:   &captureBefore,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if status == domain.AuthorizationStatusCaptured {
		auth.CapturedAt = &now
	}

	if err := s.repo.Insert(ctx, s.db, auth); err != nil {
		return nil, fmt.Errorf("insert authorization: %w", err)
	}
	if err := s.orderRepo.SetPaymentIntent(ctx, s.db, orderID, orderVersion, intent.ID, now); err != nil {
		return nil, fmt.Errorf("link payment intent: %w", err)
	}

	// Providers that auto-capture settle the order right here.
	if status == domain.AuthorizationStatusCaptured {
		if err := s.settleOrder(ctx, order, now); err != nil {
			return nil, err
		}
	}

	s.log.Info("payment authorized",
		zap.Int64("order_id", orderID.Int64()),
		zap.Int("order_version", orderVersion),
		zap.String("payment_intent_id", intent.ID),
		zap.String("status", string(status)),
		zap.Time("capture_before", captureBefore),
	)
	return auth, nil
}

func (s *service) CaptureOrderAuthorization(ctx context.Context, aiAccountID, orderID snowflake.ID, orderVersion int) (*domain.CaptureResult, error) {
	auth, err := s.repo.FindActiveByOrder(ctx, s.db, orderID, orderVersion)
	if err != nil {
		return nil, fmt.Errorf("find authorization: %w", err)
	}
	if auth == nil {
		return nil, domain.ErrAuthorizationMissing
	}

	if auth.Status == domain.AuthorizationStatusCaptured {
		if s.obsMetrics != nil {
			s.obsMetrics.IncCapture(obsmetrics.CaptureResultAlreadyCaptured)
		}
		return s.result(auth, true), nil
	}

	order, err := s.orderRepo.Find(ctx, s.db, orderID, orderVersion)
	if err != nil {
		return nil, fmt.Errorf("find order: %w", err)
	}
	if order == nil {
		return nil, orderdomain.ErrNotFound
	}

	now := s.clock.Now().UTC()

	// An elapsed hold is dead. It must never reach the provider again; the
	// caller has to re-authorize from scratch.
	if auth.CaptureBefore != nil && now.After(*auth.CaptureBefore) {
		if err := s.expireAuthorization(ctx, auth, order, now); err != nil {
			return nil, err
		}
		return nil, domain.ErrAuthorizationExpired
	}

	claimed, err := s.repo.ClaimCapture(ctx, s.db, auth.ID, now)
	if err != nil {
		return nil, fmt.Errorf("claim capture: %w", err)
	}
	if !claimed {
		// Someone else holds the attempt. Re-read; if they finished we can
		// still report success.
		current, err := s.repo.FindByID(ctx, s.db, auth.ID)
		if err != nil {
			return nil, fmt.Errorf("reread authorization: %w", err)
		}
		if current != nil && current.Status == domain.AuthorizationStatusCaptured {
			return s.result(current, true), nil
		}
		return nil, domain.ErrAuthorizationNotCapturable
	}

	claimedAuth, err := s.repo.FindByID(ctx, s.db, auth.ID)
	if err != nil {
		return nil, fmt.Errorf("reread authorization: %w", err)
	}
	if claimedAuth == nil {
		return nil, domain.ErrAuthorizationMissing
	}

	// The key pins this exact attempt: a crash-and-retry of attempt N reuses
	// the key and cannot double-capture.
	idempotencyKey := fmt.Sprintf("capture:%s:%d", orderKey(orderID, orderVersion), claimedAuth.AttemptCount)

	intent, err := s.provider.CapturePaymentIntent(ctx, claimedAuth.PaymentIntentID, idempotencyKey)
	if err != nil {
		return nil, s.failCapture(ctx, claimedAuth, order, err.Error(), now)
	}
	if intent.Status != domain.IntentStatusSucceeded {
		return nil, s.failCapture(ctx, claimedAuth, order, "capture returned status "+intent.Status, now)
	}

	if _, err := s.repo.MarkCaptured(ctx, s.db, claimedAuth.ID, now); err != nil {
		return nil, fmt.Errorf("mark captured: %w", err)
	}
	if err := s.settleOrder(ctx, order, now); err != nil {
		return nil, err
	}
	if s.obsMetrics != nil {
		s.obsMetrics.IncCapture(obsmetrics.CaptureResultCaptured)
	}

	s.log.Info("payment captured",
		zap.Int64("order_id", orderID.Int64()),
		zap.Int("order_version", orderVersion),
		zap.String("payment_intent_id", claimedAuth.PaymentIntentID),
		zap.Int("attempt", claimedAuth.AttemptCount),
	)

	claimedAuth.Status = domain.AuthorizationStatusCaptured
	claimedAuth.CapturedAt = &now
	return s.result(claimedAuth, false), nil
}

func (s *service) EnsureStripeCustomer(ctx context.Context, aiAccountID snowflake.ID) (string, error) {
	account, err := s.accountRepo.FindByID(ctx, s.db, aiAccountID)
	if err != nil {
		return "", fmt.Errorf("find account: %w", err)
	}
	if account == nil {
		return "", accountdomain.ErrNotFound
	}
	if account.StripeCustomerID != "" {
		return account.StripeCustomerID, nil
	}

	customer, err := s.provider.CreateCustomer(ctx, domain.CreateCustomerParams{
		AccountID: aiAccountID.String(),
		Name:      account.DisplayName,
	})
	if err != nil {
		return "", err
	}

	stored, err := s.accountRepo.SetStripeCustomerID(ctx, s.db, aiAccountID, customer.ID, s.clock.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("persist customer mapping: %w", err)
	}
	if !stored {
		// A concurrent caller won the write. Theirs is the mapping of record.
		current, err := s.accountRepo.FindByID(ctx, s.db, aiAccountID)
		if err != nil {
			return "", fmt.Errorf("reread account: %w", err)
		}
		if current != nil && current.StripeCustomerID != "" {
			return current.StripeCustomerID, nil
		}
	}
	return customer.ID, nil
}

func (s *service) expireAuthorization(ctx context.Context, auth *domain.Authorization, order *orderdomain.Order, now time.Time) error {
	if _, err := s.repo.MarkExpired(ctx, s.db, auth.ID, now); err != nil {
		return fmt.Errorf("mark expired: %w", err)
	}
	if err := s.taskRepo.MarkPaymentFailed(ctx, s.db, order.TaskID, domain.ErrAuthorizationExpired.Error(), now); err != nil {
		return fmt.Errorf("mark task payment failed: %w", err)
	}
	if _, err := s.arrearsSvc.CreateArrear(ctx, arrearsdomain.CreateArrearRequest{
		AIAccountID: auth.AIAccountID,
		TaskID:      order.TaskID,
		AmountMinor: auth.AmountMinor,
		Currency:    auth.Currency,
		Reason:      arrearsdomain.ReasonAuthorizationExpired,
	}); err != nil {
		return fmt.Errorf("open arrear: %w", err)
	}
	if s.obsMetrics != nil {
		s.obsMetrics.IncCapture(obsmetrics.CaptureResultExpired)
	}
	s.log.Warn("authorization expired before capture",
		zap.Int64("order_id", auth.OrderID.Int64()),
		zap.Int("order_version", auth.OrderVersion),
		zap.String("payment_intent_id", auth.PaymentIntentID),
	)
	return nil
}

// failCapture records the failed attempt and returns the provider error that
// caused it.
func (s *service) failCapture(ctx context.Context, auth *domain.Authorization, order *orderdomain.Order, message string, now time.Time) error {
	nextRetry := now.Add(backoffFor(auth.AttemptCount))
	if _, err := s.repo.MarkCaptureFailed(ctx, s.db, auth.ID, message, &nextRetry, now); err != nil {
		return fmt.Errorf("mark capture failed: %w", err)
	}
	if err := s.taskRepo.MarkPaymentFailed(ctx, s.db, order.TaskID, message, now); err != nil {
		return fmt.Errorf("mark task payment failed: %w", err)
	}
	if auth.AttemptCount >= s.cfg.Billing.MaxCaptureAttempts {
		if _, err := s.arrearsSvc.CreateArrear(ctx, arrearsdomain.CreateArrearRequest{
			AIAccountID: auth.AIAccountID,
			TaskID:      order.TaskID,
			AmountMinor: auth.AmountMinor,
			Currency:    auth.Currency,
			Reason:      arrearsdomain.ReasonCaptureRetriesExhausted,
		}); err != nil {
			return fmt.Errorf("open arrear: %w", err)
		}
	}
	if s.obsMetrics != nil {
		s.obsMetrics.IncCapture(obsmetrics.CaptureResultFailed)
	}
	s.log.Warn("capture attempt failed",
		zap.Int64("order_id", auth.OrderID.Int64()),
		zap.Int("order_version", auth.OrderVersion),
		zap.Int("attempt", auth.AttemptCount),
		zap.String("error", message),
		zap.Time("next_retry_at", nextRetry),
	)
	return &domain.StripeError{Message: message}
}

// settleOrder advances the order to paid and clears the task's payment flags.
// The transition only fires from pre-payment states; a terminal order is left
// untouched.
func (s *service) settleOrder(ctx context.Context, order *orderdomain.Order, now time.Time) error {
	moved, err := s.orderRepo.TransitionStatus(ctx, s.db, order.ID, order.Version,
		[]orderdomain.OrderStatus{orderdomain.OrderStatusCreated, orderdomain.OrderStatusCheckoutCreated},
		orderdomain.OrderStatusPaid, now)
	if err != nil {
		return fmt.Errorf("advance order: %w", err)
	}
	if !moved {
		s.log.Info("order not advanced to paid, already settled elsewhere",
			zap.Int64("order_id", order.ID.Int64()),
			zap.Int("order_version", order.Version),
		)
	}
	if err := s.taskRepo.MarkPaid(ctx, s.db, order.TaskID, now); err != nil {
		return fmt.Errorf("mark task paid: %w", err)
	}
	return nil
}

func (s *service) resolveCaptureBefore(ctx context.Context, chargeID string, now time.Time) time.Time {
	if chargeID != "" {
		charge, err := s.provider.GetCharge(ctx, chargeID)
		if err == nil && charge.CaptureBefore != nil {
			return charge.CaptureBefore.UTC()
		}
		if err != nil {
			s.log.Warn("charge detail unavailable, falling back to default hold window",
				zap.String("charge_id", chargeID),
				zap.Error(err),
			)
		}
	}
	return now.Add(fallbackHoldWindow)
}

func (s *service) result(auth *domain.Authorization, already bool) *domain.CaptureResult {
	return &domain.CaptureResult{
		OrderID:         auth.OrderID,
		OrderVersion:    auth.OrderVersion,
		Status:          auth.Status,
		AlreadyCaptured: already,
		PaymentIntentID: auth.PaymentIntentID,
		CaptureBefore:   auth.CaptureBefore,
	}
}

func backoffFor(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(retryBackoff) {
		attempt = len(retryBackoff)
	}
	return retryBackoff[attempt-1]
}

func orderKey(orderID snowflake.ID, orderVersion int) string {
	return fmt.Sprintf("%s:%d", orderID.String(), orderVersion)
}
