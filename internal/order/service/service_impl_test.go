package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shigotoba/paygate/internal/clock"
	"github.com/shigotoba/paygate/internal/config"
	"github.com/shigotoba/paygate/internal/order/domain"
	"github.com/shigotoba/paygate/internal/order/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newOrderService(t *testing.T) (domain.Service, *gorm.DB, *snowflake.Node) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.Order{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{
		Stripe: config.StripeConfig{
			DestinationAccounts: map[string]string{
				"JP": "acct_jp_main",
				"US": "acct_us_main",
			},
			DefaultDestination: "acct_fallback",
		},
	}

	svc := New(Params{
		Log:    zap.NewNop(),
		DB:     db,
		Config: cfg,
		GenID:  node,
		Clock:  clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
		Repo:   repository.Provide(),
	})
	return svc, db, node
}

func TestCreateOrder_DomesticFee(t *testing.T) {
	svc, _, node := newOrderService(t)

	order, err := svc.CreateOrder(context.Background(), domain.CreateOrderRequest{
		AIAccountID:  node.Generate(),
		TaskID:       node.Generate(),
		BaseAmount:   10000,
		FxCost:       0,
		PayerCountry: "JP",
		PayeeCountry: "JP",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1000), order.PlatformFee)
	assert.Equal(t, int64(11000), order.TotalAmountJPY)
	assert.Equal(t, "acct_jp_main", order.DestinationAccount)
	assert.Equal(t, domain.OrderStatusCreated, order.Status)
	assert.Equal(t, 1, order.Version)
}

func TestCreateOrder_CrossBorderFee(t *testing.T) {
	svc, _, node := newOrderService(t)

	order, err := svc.CreateOrder(context.Background(), domain.CreateOrderRequest{
		AIAccountID:  node.Generate(),
		TaskID:       node.Generate(),
		BaseAmount:   10000,
		FxCost:       350,
		PayerCountry: "JP",
		PayeeCountry: "US",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1500), order.PlatformFee)
	assert.Equal(t, int64(11850), order.TotalAmountJPY)
	assert.Equal(t, "acct_us_main", order.DestinationAccount)
}

func TestCreateOrder_UnmappedCountryUsesDefaultDestination(t *testing.T) {
	svc, _, node := newOrderService(t)

	order, err := svc.CreateOrder(context.Background(), domain.CreateOrderRequest{
		AIAccountID:  node.Generate(),
		TaskID:       node.Generate(),
		BaseAmount:   5000,
		PayerCountry: "JP",
		PayeeCountry: "DE",
	})
	require.NoError(t, err)
	assert.Equal(t, "acct_fallback", order.DestinationAccount)
}

func TestCreateOrder_ZeroBaseAmount(t *testing.T) {
	svc, _, node := newOrderService(t)

	order, err := svc.CreateOrder(context.Background(), domain.CreateOrderRequest{
		AIAccountID:  node.Generate(),
		TaskID:       node.Generate(),
		BaseAmount:   0,
		FxCost:       300,
		PayerCountry: "JP",
		PayeeCountry: "JP",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), order.PlatformFee)
	assert.Equal(t, int64(300), order.TotalAmountJPY)
}

func TestCreateOrder_InvalidAmount(t *testing.T) {
	svc, _, node := newOrderService(t)

	_, err := svc.CreateOrder(context.Background(), domain.CreateOrderRequest{
		AIAccountID:  node.Generate(),
		TaskID:       node.Generate(),
		BaseAmount:   -1,
		PayerCountry: "JP",
		PayeeCountry: "JP",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidOrderAmount)

	_, err = svc.CreateOrder(context.Background(), domain.CreateOrderRequest{
		AIAccountID:  node.Generate(),
		TaskID:       node.Generate(),
		BaseAmount:   1000,
		FxCost:       -1,
		PayerCountry: "JP",
		PayeeCountry: "JP",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidOrderAmount)
}

func TestCreateOrder_Idempotent(t *testing.T) {
	svc, db, node := newOrderService(t)

	orderID := node.Generate()
	req := domain.CreateOrderRequest{
		AIAccountID:  node.Generate(),
		OrderID:      orderID,
		Version:      1,
		TaskID:       node.Generate(),
		BaseAmount:   10000,
		PayerCountry: "JP",
		PayeeCountry: "JP",
	}

	first, err := svc.CreateOrder(context.Background(), req)
	require.NoError(t, err)

	// Same request with different amounts must not overwrite the row.
	req.BaseAmount = 99999
	second, err := svc.CreateOrder(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.TotalAmountJPY, second.TotalAmountJPY)

	var count int64
	require.NoError(t, db.Raw(`SELECT COUNT(*) FROM orders WHERE id = ?`, orderID).Scan(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestGet_NotFound(t *testing.T) {
	svc, _, node := newOrderService(t)

	_, err := svc.Get(context.Background(), node.Generate(), 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
