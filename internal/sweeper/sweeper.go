package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	accountdomain "github.com/shigotoba/paygate/internal/account/domain"
	arrearsdomain "github.com/shigotoba/paygate/internal/arrears/domain"
	"github.com/shigotoba/paygate/internal/clock"
	"github.com/shigotoba/paygate/internal/config"
	obsmetrics "github.com/shigotoba/paygate/internal/observability/metrics"
	orderdomain "github.com/shigotoba/paygate/internal/order/domain"
	paymentdomain "github.com/shigotoba/paygate/internal/payment/domain"
	taskdomain "github.com/shigotoba/paygate/internal/task/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	jobCaptureRetries = "capture_retries"
	jobArrears        = "arrears"
	jobTaskDeadlines  = "task_deadlines"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	AppConfig   *config.Config
	Clock       clock.Clock
	PaymentSvc  paymentdomain.Service
	PaymentRepo paymentdomain.Repository
	ArrearsRepo arrearsdomain.Repository
	AccountRepo accountdomain.Repository
	OrderRepo   orderdomain.Repository
	TaskRepo    taskdomain.Repository
	Config      Config              `optional:"true"`
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

// Sweeper owns the periodic billing maintenance loop: due capture retries,
// arrears promotion and access suspension, and task deadline enforcement. It
// is an explicit service with Start/Stop; running more than one instance is
// safe because every mutation goes through a state-guarded UPDATE, but one
// per deployment is the intent.
type Sweeper struct {
	db          *gorm.DB
	log         *zap.Logger
	appCfg      *config.Config
	clock       clock.Clock
	paymentSvc  paymentdomain.Service
	paymentRepo paymentdomain.Repository
	arrearsRepo arrearsdomain.Repository
	accountRepo accountdomain.Repository
	orderRepo   orderdomain.Repository
	taskRepo    taskdomain.Repository
	cfg         Config
	obsMetrics  *obsmetrics.Metrics

	cancel context.CancelFunc
	done   chan struct{}
}

func New(p Params) *Sweeper {
	return &Sweeper{
		db:          p.DB,
		log:         p.Log.Named("sweeper"),
		appCfg:      p.AppConfig,
		clock:       p.Clock,
		paymentSvc:  p.PaymentSvc,
		paymentRepo: p.PaymentRepo,
		arrearsRepo: p.ArrearsRepo,
		accountRepo: p.AccountRepo,
		orderRepo:   p.OrderRepo,
		taskRepo:    p.TaskRepo,
		cfg:         p.Config.withDefaults(),
		obsMetrics:  p.ObsMetrics,
	}
}

// Start launches the sweep loop. Calling Start twice is a bug in the wiring,
// not something to silently tolerate.
func (s *Sweeper) Start() error {
	if s.cancel != nil {
		return errors.New("sweeper already started")
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case scheduled := <-ticker.C:
				s.obsMetrics.ObserveRunLoopLag(time.Since(scheduled))
				s.RunOnce(ctx)
			}
		}
	}()

	s.log.Info("sweeper started", zap.Duration("interval", s.cfg.Interval))
	return nil
}

func (s *Sweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.log.Info("sweeper stopped")
}

// RunOnce executes one full sweep tick. Job failures are isolated: one job
// failing never stops the others.
func (s *Sweeper) RunOnce(ctx context.Context) {
	s.runJob(ctx, jobCaptureRetries, s.sweepCaptureRetries)
	s.runJob(ctx, jobArrears, s.sweepArrears)
	s.runJob(ctx, jobTaskDeadlines, s.sweepTaskDeadlines)
}

func (s *Sweeper) runJob(ctx context.Context, name string, job func(ctx context.Context) error) {
	jobCtx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
	defer cancel()

	s.obsMetrics.IncJobRun(name)
	started := time.Now()
	err := job(jobCtx)
	s.obsMetrics.ObserveJobDuration(name, time.Since(started))

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			s.obsMetrics.IncJobTimeout(name)
		}
		s.obsMetrics.IncJobError(name, err)
		s.log.Warn("sweep job failed", zap.String("job", name), zap.Error(err))
	}
}

func (s *Sweeper) sweepCaptureRetries(ctx context.Context) error {
	now := s.clock.Now().UTC()
	due, err := s.paymentRepo.FetchDueRetries(ctx, s.db, now, s.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("fetch due retries: %w", err)
	}

	for _, auth := range due {
		_, err := s.paymentSvc.CaptureOrderAuthorization(ctx, auth.AIAccountID, auth.OrderID, auth.OrderVersion)
		if err != nil {
			// Expected for declines and expiries; the capture path already
			// recorded the outcome.
			s.log.Info("capture retry did not settle",
				zap.Int64("order_id", auth.OrderID.Int64()),
				zap.Int("order_version", auth.OrderVersion),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (s *Sweeper) sweepArrears(ctx context.Context) error {
	now := s.clock.Now().UTC()
	promoted, err := s.arrearsRepo.PromoteDue(ctx, s.db, now, s.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("promote due arrears: %w", err)
	}
	if promoted > 0 {
		s.log.Info("arrears moved to collecting", zap.Int64("count", promoted))
	}

	accounts, err := s.arrearsRepo.AccountsOverThreshold(ctx, s.db, s.appCfg.Billing.ArrearsDisableThreshold)
	if err != nil {
		return fmt.Errorf("list accounts over threshold: %w", err)
	}
	for _, accountID := range accounts {
		if err := s.accountRepo.SetAPIAccessSuspended(ctx, s.db, accountID, true, now); err != nil {
			return fmt.Errorf("suspend api access: %w", err)
		}
		s.log.Warn("api access suspended over arrears threshold",
			zap.Int64("ai_account_id", accountID.Int64()),
		)
	}
	return nil
}

func (s *Sweeper) sweepTaskDeadlines(ctx context.Context) error {
	if err := s.sweepReviewPending(ctx); err != nil {
		return err
	}
	return s.sweepExpiredDeadlines(ctx)
}

func (s *Sweeper) sweepReviewPending(ctx context.Context) error {
	now := s.clock.Now().UTC()
	window := time.Duration(s.appCfg.Billing.ReviewWindowHours) * time.Hour

	tasks, err := s.taskRepo.FetchReviewPending(ctx, s.db, s.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("fetch review pending tasks: %w", err)
	}

	for i := range tasks {
		task := tasks[i]
		deadline := task.EffectiveReviewDeadline(window)
		if deadline.IsZero() || now.Before(deadline) {
			continue
		}
		s.completeReviewedTask(ctx, &task, now, window)
	}
	return nil
}

// completeReviewedTask settles payment for a task whose review window lapsed
// and marks it completed. On capture non-success the task stays
// review_pending for the next tick.
func (s *Sweeper) completeReviewedTask(ctx context.Context, task *taskdomain.Task, now time.Time, window time.Duration) {
	order, err := s.orderRepo.FindLatestByTask(ctx, s.db, task.ID)
	if err != nil {
		s.log.Warn("order lookup failed for reviewed task",
			zap.Int64("task_id", task.ID.Int64()),
			zap.Error(err),
		)
		return
	}

	// Legacy tasks without an order complete without payment.
	if order != nil {
		if !s.settleReviewedOrder(ctx, task, order) {
			return
		}
	}

	if _, err := s.taskRepo.MarkCompleted(ctx, s.db, task.ID, now, now.Add(window)); err != nil {
		s.log.Warn("mark task completed failed",
			zap.Int64("task_id", task.ID.Int64()),
			zap.Error(err),
		)
		return
	}
	s.log.Info("review window lapsed, task completed",
		zap.Int64("task_id", task.ID.Int64()),
	)
}

// settleReviewedOrder captures the task's order, falling back to
// authorize-then-capture when no hold exists. Returns whether payment is
// settled.
func (s *Sweeper) settleReviewedOrder(ctx context.Context, task *taskdomain.Task, order *orderdomain.Order) bool {
	if order.Status == orderdomain.OrderStatusPaid {
		return true
	}

	_, err := s.paymentSvc.CaptureOrderAuthorization(ctx, order.AIAccountID, order.ID, order.Version)
	if err == nil {
		return true
	}
	if !errors.Is(err, paymentdomain.ErrAuthorizationMissing) {
		s.log.Info("capture on review completion did not settle",
			zap.Int64("task_id", task.ID.Int64()),
			zap.Int64("order_id", order.ID.Int64()),
			zap.Error(err),
		)
		return false
	}

	if _, err := s.paymentSvc.AuthorizeOrderPayment(ctx, order.AIAccountID, order.ID, order.Version); err != nil {
		s.log.Info("authorize on review completion failed",
			zap.Int64("task_id", task.ID.Int64()),
			zap.Int64("order_id", order.ID.Int64()),
			zap.Error(err),
		)
		return false
	}
	if _, err := s.paymentSvc.CaptureOrderAuthorization(ctx, order.AIAccountID, order.ID, order.Version); err != nil {
		s.log.Info("capture after fresh authorization did not settle",
			zap.Int64("task_id", task.ID.Int64()),
			zap.Int64("order_id", order.ID.Int64()),
			zap.Error(err),
		)
		return false
	}
	return true
}

func (s *Sweeper) sweepExpiredDeadlines(ctx context.Context) error {
	now := s.clock.Now().UTC()

	tasks, err := s.taskRepo.FetchDeadlineCandidates(ctx, s.db, s.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("fetch deadline candidates: %w", err)
	}

	for i := range tasks {
		task := tasks[i]
		deadline := task.EffectiveDeadline()
		if deadline.IsZero() || now.Before(deadline) {
			continue
		}
		timedOut, err := s.taskRepo.MarkTimedOut(ctx, s.db, task.ID, now)
		if err != nil {
			return fmt.Errorf("mark task timed out: %w", err)
		}
		if timedOut {
			s.log.Info("task failed on deadline",
				zap.Int64("task_id", task.ID.Int64()),
				zap.Time("deadline", deadline),
			)
		}
	}
	return nil
}
