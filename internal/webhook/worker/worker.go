package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shigotoba/paygate/internal/clock"
	obsmetrics "github.com/shigotoba/paygate/internal/observability/metrics"
	orderdomain "github.com/shigotoba/paygate/internal/order/domain"
	taskdomain "github.com/shigotoba/paygate/internal/task/domain"
	"github.com/shigotoba/paygate/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Event processing results as reported to metrics.
const (
	resultApplied  = "applied"
	resultReplay   = "replay"
	resultMismatch = "mismatch"
	resultSkipped  = "skipped"
	resultFailed   = "failed"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Repo       domain.Repository
	OrderRepo  orderdomain.Repository
	TaskRepo   taskdomain.Repository
	Config     Config              `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Worker drains the webhook inbox and reconciles provider state against the
// order ledger. The DB order row is the source of truth; provider-reported
// values that disagree freeze the order instead of being trusted.
type Worker struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	repo       domain.Repository
	orderRepo  orderdomain.Repository
	taskRepo   taskdomain.Repository
	cfg        Config
	obsMetrics *obsmetrics.Metrics
}

func NewWorker(p Params) *Worker {
	return &Worker{
		db:         p.DB,
		log:        p.Log.Named("webhook.worker"),
		clock:      p.Clock,
		repo:       p.Repo,
		orderRepo:  p.OrderRepo,
		taskRepo:   p.TaskRepo,
		cfg:        p.Config.withDefaults(),
		obsMetrics: p.ObsMetrics,
	}
}

func (w *Worker) RunForever(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx); err != nil {
			w.log.Warn("webhook poll failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce drains one batch of pending events. Returns how many events this
// worker actually claimed and handled.
func (w *Worker) RunOnce(parentCtx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(parentCtx, w.cfg.RunTimeout)
	defer cancel()

	events, err := w.repo.FetchPending(ctx, w.db, w.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("fetch pending events: %w", err)
	}

	handled := 0
	for i := range events {
		event := events[i]

		claimed, err := w.repo.Claim(ctx, w.db, event.ID, w.clock.Now().UTC())
		if err != nil {
			return handled, fmt.Errorf("claim event: %w", err)
		}
		if !claimed {
			continue
		}

		eventCtx, cancelEvent := context.WithTimeout(ctx, w.cfg.EventTimeout)
		result := w.processEvent(eventCtx, &event)
		cancelEvent()

		if w.obsMetrics != nil {
			w.obsMetrics.IncWebhookEvent(event.EventType, result)
		}
		handled++
	}
	return handled, nil
}

// processEvent handles one claimed event and writes the outcome back to the
// event row. The returned string is the metrics result label.
func (w *Worker) processEvent(ctx context.Context, event *domain.InboxEvent) string {
	now := w.clock.Now().UTC()

	parsed, err := domain.ParseEvent(event.Payload)
	if err != nil {
		if err == domain.ErrUnsupportedEvent {
			// Not ours to handle. Retain the payload, close the row.
			w.markProcessed(ctx, event)
			return resultSkipped
		}
		w.markFailed(ctx, event, err.Error())
		return resultFailed
	}

	ref, mismatch := resolveOrderRef(parsed)
	if mismatch != nil {
		// The two key carriers disagree. The metadata-side order is frozen;
		// nothing from this event can be trusted.
		if !ref.IsZero() {
			if err := w.freezeOrder(ctx, ref, []orderdomain.Mismatch{*mismatch}, now); err != nil {
				w.markFailed(ctx, event, err.Error())
				return resultFailed
			}
		}
		w.markProcessed(ctx, event)
		return resultMismatch
	}
	if ref.IsZero() {
		w.markFailed(ctx, event, "order key missing from event")
		return resultFailed
	}

	order, err := w.orderRepo.Find(ctx, w.db, ref.OrderID, ref.Version)
	if err != nil {
		w.markFailed(ctx, event, err.Error())
		return resultFailed
	}
	if order == nil {
		w.markFailed(ctx, event, orderdomain.ErrNotFound.Error())
		return resultFailed
	}

	result, err := w.dispatch(ctx, parsed, order, now)
	if err != nil {
		w.markFailed(ctx, event, err.Error())
		return resultFailed
	}
	w.markProcessed(ctx, event)
	return result
}

func (w *Worker) dispatch(ctx context.Context, parsed domain.Event, order *orderdomain.Order, now time.Time) (string, error) {
	switch e := parsed.(type) {
	case domain.CheckoutSessionCompleted:
		mismatches := verifyAmount(order, e.AmountTotal)
		mismatches = append(mismatches, verifyCurrency(order, e.Currency)...)
		if len(mismatches) > 0 {
			return w.recordMismatches(ctx, order, mismatches, now)
		}
		if e.PaymentIntentID != "" {
			if err := w.orderRepo.SetPaymentIntent(ctx, w.db, order.ID, order.Version, e.PaymentIntentID, now); err != nil {
				return "", fmt.Errorf("link payment intent: %w", err)
			}
		}
		return w.settle(ctx, order, now)

	case domain.PaymentIntentSucceeded:
		mismatches := verifyAmount(order, e.Amount)
		mismatches = append(mismatches, verifyCurrency(order, e.Currency)...)
		mismatches = append(mismatches, verifyApplicationFee(order, e.ApplicationFeeAmount)...)
		mismatches = append(mismatches, verifyDestination(order, e.TransferDestination)...)
		if len(mismatches) > 0 {
			return w.recordMismatches(ctx, order, mismatches, now)
		}
		if err := w.orderRepo.SetPaymentIntent(ctx, w.db, order.ID, order.Version, e.PaymentIntentID, now); err != nil {
			return "", fmt.Errorf("link payment intent: %w", err)
		}
		return w.settle(ctx, order, now)

	case domain.ChargeSucceeded:
		mismatches := verifyAmount(order, e.Amount)
		mismatches = append(mismatches, verifyCurrency(order, e.Currency)...)
		if len(mismatches) > 0 {
			return w.recordMismatches(ctx, order, mismatches, now)
		}
		return w.settle(ctx, order, now)

	case domain.PaymentIntentFailed:
		moved, err := w.orderRepo.TransitionStatus(ctx, w.db, order.ID, order.Version,
			[]orderdomain.OrderStatus{orderdomain.OrderStatusCreated, orderdomain.OrderStatusCheckoutCreated},
			orderdomain.OrderStatusFailedProvider, now)
		if err != nil {
			return "", fmt.Errorf("mark provider failure: %w", err)
		}
		if !moved {
			return resultReplay, nil
		}
		message := e.FailureMessage
		if message == "" {
			message = "payment failed at provider"
		}
		if err := w.taskRepo.MarkPaymentFailed(ctx, w.db, order.TaskID, message, now); err != nil {
			return "", fmt.Errorf("mark task payment failed: %w", err)
		}
		return resultApplied, nil

	case domain.CheckoutSessionExpired:
		moved, err := w.orderRepo.TransitionStatus(ctx, w.db, order.ID, order.Version,
			[]orderdomain.OrderStatus{orderdomain.OrderStatusCreated, orderdomain.OrderStatusCheckoutCreated},
			orderdomain.OrderStatusCanceled, now)
		if err != nil {
			return "", fmt.Errorf("cancel order: %w", err)
		}
		if !moved {
			return resultReplay, nil
		}
		return resultApplied, nil

	case domain.ChargeRefunded:
		target := orderdomain.OrderStatusPartiallyRefunded
		if e.FullyRefunded {
			target = orderdomain.OrderStatusRefunded
		}
		// Refunds are the one forward path out of paid.
		moved, err := w.orderRepo.TransitionStatus(ctx, w.db, order.ID, order.Version,
			[]orderdomain.OrderStatus{orderdomain.OrderStatusPaid, orderdomain.OrderStatusPartiallyRefunded},
			target, now)
		if err != nil {
			return "", fmt.Errorf("apply refund: %w", err)
		}
		if !moved {
			return resultReplay, nil
		}
		w.log.Info("refund applied to order",
			zap.Int64("order_id", order.ID.Int64()),
			zap.Int("order_version", order.Version),
			zap.Int64("amount_refunded", e.AmountRefunded),
			zap.Bool("fully_refunded", e.FullyRefunded),
		)
		return resultApplied, nil

	default:
		return "", domain.ErrUnsupportedEvent
	}
}

// settle advances the order to paid. A terminal order is left untouched and
// the event counts as a replay.
func (w *Worker) settle(ctx context.Context, order *orderdomain.Order, now time.Time) (string, error) {
	moved, err := w.orderRepo.TransitionStatus(ctx, w.db, order.ID, order.Version,
		orderdomain.NonTerminalStatuses, orderdomain.OrderStatusPaid, now)
	if err != nil {
		return "", fmt.Errorf("advance order: %w", err)
	}
	if !moved {
		return resultReplay, nil
	}
	if err := w.taskRepo.MarkPaid(ctx, w.db, order.TaskID, now); err != nil {
		return "", fmt.Errorf("mark task paid: %w", err)
	}
	return resultApplied, nil
}

func (w *Worker) recordMismatches(ctx context.Context, order *orderdomain.Order, mismatches []orderdomain.Mismatch, now time.Time) (string, error) {
	if err := w.freezeOrder(ctx, domain.OrderRef{OrderID: order.ID, Version: order.Version}, mismatches, now); err != nil {
		return "", err
	}
	return resultMismatch, nil
}

func (w *Worker) freezeOrder(ctx context.Context, ref domain.OrderRef, mismatches []orderdomain.Mismatch, now time.Time) error {
	reason, err := json.Marshal(mismatches)
	if err != nil {
		return fmt.Errorf("encode mismatch reason: %w", err)
	}
	frozen, err := w.orderRepo.MarkMismatch(ctx, w.db, ref.OrderID, ref.Version, datatypes.JSON(reason), now)
	if err != nil {
		return fmt.Errorf("freeze order: %w", err)
	}
	if frozen {
		w.log.Error("order frozen on provider data mismatch",
			zap.Int64("order_id", ref.OrderID.Int64()),
			zap.Int("order_version", ref.Version),
			zap.ByteString("mismatch_reason", reason),
		)
	}
	return nil
}

func (w *Worker) markProcessed(ctx context.Context, event *domain.InboxEvent) {
	if err := w.repo.MarkProcessed(ctx, w.db, event.ID, w.clock.Now().UTC()); err != nil {
		w.log.Warn("mark event processed failed",
			zap.Error(err),
			zap.String("provider_event_id", event.ProviderEventID),
		)
	}
}

func (w *Worker) markFailed(ctx context.Context, event *domain.InboxEvent, message string) {
	if err := w.repo.MarkFailed(ctx, w.db, event.ID, message, w.clock.Now().UTC()); err != nil {
		w.log.Warn("mark event failed failed",
			zap.Error(err),
			zap.String("provider_event_id", event.ProviderEventID),
		)
	}
}

// resolveOrderRef derives the order key from both carriers on the event and
// requires them to agree when both are present. On disagreement it returns
// the metadata-side ref plus the mismatch to record against it.
func resolveOrderRef(parsed domain.Event) (domain.OrderRef, *orderdomain.Mismatch) {
	meta := parsed.MetadataRef()
	ref := parsed.ReferenceRef()

	switch {
	case meta.IsZero():
		return ref, nil
	case ref.IsZero():
		return meta, nil
	case meta == ref:
		return meta, nil
	default:
		return meta, &orderdomain.Mismatch{
			Field:    "order_key",
			Expected: meta.String(),
			Actual:   ref.String(),
		}
	}
}

func verifyAmount(order *orderdomain.Order, reported int64) []orderdomain.Mismatch {
	if reported == order.TotalAmountJPY {
		return nil
	}
	return []orderdomain.Mismatch{{
		Field:    "amount",
		Expected: strconv.FormatInt(order.TotalAmountJPY, 10),
		Actual:   strconv.FormatInt(reported, 10),
	}}
}

func verifyCurrency(order *orderdomain.Order, reported string) []orderdomain.Mismatch {
	if strings.EqualFold(reported, order.Currency) {
		return nil
	}
	return []orderdomain.Mismatch{{
		Field:    "currency",
		Expected: order.Currency,
		Actual:   reported,
	}}
}

func verifyApplicationFee(order *orderdomain.Order, reported int64) []orderdomain.Mismatch {
	expected := order.PlatformFee + order.FxCost
	if reported == expected {
		return nil
	}
	return []orderdomain.Mismatch{{
		Field:    "application_fee_amount",
		Expected: strconv.FormatInt(expected, 10),
		Actual:   strconv.FormatInt(reported, 10),
	}}
}

func verifyDestination(order *orderdomain.Order, reported string) []orderdomain.Mismatch {
	if reported == "" || reported == order.DestinationAccount {
		return nil
	}
	return []orderdomain.Mismatch{{
		Field:    "transfer_destination",
		Expected: order.DestinationAccount,
		Actual:   reported,
	}}
}
