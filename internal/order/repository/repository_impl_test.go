package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shigotoba/paygate/internal/order/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newRepo(t *testing.T) (domain.Repository, *gorm.DB, *snowflake.Node) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.Order{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return Provide(), db, node
}

func seedOrder(t *testing.T, db *gorm.DB, node *snowflake.Node, status domain.OrderStatus) *domain.Order {
	t.Helper()
	now := time.Now().UTC()
	order := &domain.Order{
		ID:                 node.Generate(),
		Version:            1,
		AIAccountID:        node.Generate(),
		TaskID:             node.Generate(),
		Currency:           "jpy",
		BaseAmount:         10000,
		PlatformFee:        1000,
		TotalAmountJPY:     11000,
		PayerCountry:       "JP",
		PayeeCountry:       "JP",
		DestinationAccount: "acct_jp_main",
		Status:             status,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	require.NoError(t, db.Create(order).Error)
	return order
}

func TestTransitionStatus_ClaimsOnce(t *testing.T) {
	repo, db, node := newRepo(t)
	ctx := context.Background()
	order := seedOrder(t, db, node, domain.OrderStatusCreated)
	now := time.Now().UTC()

	from := []domain.OrderStatus{domain.OrderStatusCreated}
	ok, err := repo.TransitionStatus(ctx, db, order.ID, order.Version, from, domain.OrderStatusCheckoutCreated, now)
	require.NoError(t, err)
	assert.True(t, ok)

	// A second writer racing for the same transition loses.
	ok, err = repo.TransitionStatus(ctx, db, order.ID, order.Version, from, domain.OrderStatusCheckoutCreated, now)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.Find(ctx, db, order.ID, order.Version)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCheckoutCreated, got.Status)
}

func TestTransitionStatus_TerminalStateIsFrozen(t *testing.T) {
	repo, db, node := newRepo(t)
	ctx := context.Background()
	order := seedOrder(t, db, node, domain.OrderStatusPaid)

	ok, err := repo.TransitionStatus(ctx, db, order.ID, order.Version, domain.NonTerminalStatuses, domain.OrderStatusCanceled, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.Find(ctx, db, order.ID, order.Version)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPaid, got.Status)
}

func TestMarkMismatch_FreezesNonTerminalOnly(t *testing.T) {
	repo, db, node := newRepo(t)
	ctx := context.Background()
	order := seedOrder(t, db, node, domain.OrderStatusCheckoutCreated)

	reason, err := json.Marshal([]domain.Mismatch{{Field: "amount", Expected: "11000", Actual: "9000"}})
	require.NoError(t, err)

	ok, err := repo.MarkMismatch(ctx, db, order.ID, order.Version, reason, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := repo.Find(ctx, db, order.ID, order.Version)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFailedMismatch, got.Status)
	assert.NotEmpty(t, got.MismatchReason)

	// Already frozen; a replayed event must not touch it again.
	ok, err = repo.MarkMismatch(ctx, db, order.ID, order.Version, reason, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, ok)

	paid := seedOrder(t, db, node, domain.OrderStatusPaid)
	ok, err = repo.MarkMismatch(ctx, db, paid.ID, paid.Version, reason, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFindLatestByTask(t *testing.T) {
	repo, db, node := newRepo(t)
	ctx := context.Background()

	taskID := node.Generate()
	base := seedOrder(t, db, node, domain.OrderStatusCanceled)
	base.TaskID = taskID
	require.NoError(t, db.Exec(`UPDATE orders SET task_id = ? WHERE id = ?`, taskID, base.ID).Error)

	v2 := *base
	v2.Version = 2
	v2.Status = domain.OrderStatusCreated
	require.NoError(t, db.Create(&v2).Error)

	got, err := repo.FindLatestByTask(ctx, db, taskID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2, got.Version)
}
