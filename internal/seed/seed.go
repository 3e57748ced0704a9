package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/shigotoba/paygate/internal/account/domain"
	"gorm.io/gorm"
)

const (
	defaultAccountName    = "Local Dev Account"
	defaultAccountCountry = "JP"
)

// EnsureDefaultAccount seeds one active AI account so a local environment can
// exercise the order and authorization flows without manual setup. Billing is
// left unready until a payment method is attached.
func EnsureDefaultAccount(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&accountdomain.Account{}).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}

		now := time.Now().UTC()
		return tx.Create(&accountdomain.Account{
			ID:          node.Generate(),
			DisplayName: defaultAccountName,
			Country:     defaultAccountCountry,
			Status:      accountdomain.AccountStatusActive,
			CreatedAt:   now,
			UpdatedAt:   now,
		}).Error
	})
}
