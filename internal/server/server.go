package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shigotoba/paygate/internal/clock"
	"github.com/shigotoba/paygate/internal/config"
	orderdomain "github.com/shigotoba/paygate/internal/order/domain"
	paymentdomain "github.com/shigotoba/paygate/internal/payment/domain"
	"github.com/shigotoba/paygate/internal/ratelimit"
	taskdomain "github.com/shigotoba/paygate/internal/task/domain"
	webhookdomain "github.com/shigotoba/paygate/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(registerRoutes),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(RequestLogger(log))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, cfg *config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine         *gin.Engine
	cfg            *config.Config
	db             *gorm.DB
	log            *zap.Logger
	genID          *snowflake.Node
	clock          clock.Clock
	orderSvc       orderdomain.Service
	orderRepo      orderdomain.Repository
	paymentSvc     paymentdomain.Service
	taskRepo       taskdomain.Repository
	webhookRepo    webhookdomain.Repository
	webhookLimiter *ratelimit.WebhookIngressLimiter
}

type ServerParams struct {
	fx.In

	Gin            *gin.Engine
	Cfg            *config.Config
	DB             *gorm.DB
	Log            *zap.Logger
	GenID          *snowflake.Node
	Clock          clock.Clock
	OrderSvc       orderdomain.Service
	OrderRepo      orderdomain.Repository
	PaymentSvc     paymentdomain.Service
	TaskRepo       taskdomain.Repository
	WebhookRepo    webhookdomain.Repository
	WebhookLimiter *ratelimit.WebhookIngressLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:         p.Gin,
		cfg:            p.Cfg,
		db:             p.DB,
		log:            p.Log.Named("server"),
		genID:          p.GenID,
		clock:          p.Clock,
		orderSvc:       p.OrderSvc,
		orderRepo:      p.OrderRepo,
		paymentSvc:     p.PaymentSvc,
		taskRepo:       p.TaskRepo,
		webhookRepo:    p.WebhookRepo,
		webhookLimiter: p.WebhookLimiter,
	}
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func registerRoutes(s *Server) {
	s.RegisterRoutes()
}

func (s *Server) RegisterRoutes() {
	api := s.engine.Group("/api")

	// -------- Orders --------
	api.POST("/orders", s.CreateOrder)
	api.GET("/orders/:orderId/versions/:version", s.GetOrder)
	api.POST("/orders/:orderId/versions/:version/authorize", s.AuthorizeOrder)
	api.POST("/orders/:orderId/versions/:version/capture", s.CaptureOrder)

	// -------- Tasks --------
	api.POST("/tasks/:taskId/approve", s.ApproveTask)

	// -------- Accounts --------
	api.GET("/accounts/:accountId/orders", s.ListAccountOrders)
	api.POST("/accounts/:accountId/billing/customer", s.EnsureBillingCustomer)

	s.engine.POST("/webhooks/stripe", s.HandleStripeWebhook)
}
