package domain

import (
	"context"
	"time"
)

// PaymentIntent statuses as reported by the provider.
const (
	IntentStatusRequiresCapture = "requires_capture"
	IntentStatusSucceeded       = "succeeded"
)

type Customer struct {
	ID string
}

type SetupIntent struct {
	ID           string
	ClientSecret string
}

type PaymentIntent struct {
	ID                   string
	Status               string
	Amount               int64
	Currency             string
	ApplicationFeeAmount int64
	TransferDestination  string
	LatestCharge         string
}

type Charge struct {
	ID            string
	CaptureBefore *time.Time
}

type CreateCustomerParams struct {
	AccountID string
	Email     string
	Name      string
}

type CreateIntentParams struct {
	AmountMinor          int64
	Currency             string
	CustomerID           string
	PaymentMethodID      string
	ApplicationFeeAmount int64
	DestinationAccount   string
	TransferGroup        string
	Metadata             map[string]string
	IdempotencyKey       string
}

// ProviderClient is the payment provider surface this engine depends on. The
// HTTP implementation lives in the stripe package; tests swap in a fake.
type ProviderClient interface {
	CreateCustomer(ctx context.Context, params CreateCustomerParams) (Customer, error)
	CreateSetupIntent(ctx context.Context, customerID string) (SetupIntent, error)
	AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) error
	CreatePaymentIntent(ctx context.Context, params CreateIntentParams) (PaymentIntent, error)
	CapturePaymentIntent(ctx context.Context, intentID, idempotencyKey string) (PaymentIntent, error)
	GetCharge(ctx context.Context, chargeID string) (Charge, error)
}
