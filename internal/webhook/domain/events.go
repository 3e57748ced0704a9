package domain

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
)

// Supported provider event types.
const (
	TypeCheckoutSessionCompleted = "checkout.session.completed"
	TypeCheckoutSessionExpired   = "checkout.session.expired"
	TypePaymentIntentSucceeded   = "payment_intent.succeeded"
	TypePaymentIntentFailed      = "payment_intent.payment_failed"
	TypeChargeSucceeded          = "charge.succeeded"
	TypeChargeRefunded           = "charge.refunded"
)

// OrderRef identifies one order version as carried on provider objects.
type OrderRef struct {
	OrderID snowflake.ID
	Version int
}

func (r OrderRef) IsZero() bool { return r.OrderID == 0 }

func (r OrderRef) String() string {
	return r.OrderID.String() + ":" + strconv.Itoa(r.Version)
}

// ParseOrderRef parses the "order_id:version" form used in checkout client
// references and payment intent transfer groups.
func ParseOrderRef(s string) (OrderRef, bool) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return OrderRef{}, false
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || id == 0 {
		return OrderRef{}, false
	}
	version, err := strconv.Atoi(parts[1])
	if err != nil || version < 1 {
		return OrderRef{}, false
	}
	return OrderRef{OrderID: snowflake.ParseInt64(id), Version: version}, true
}

// Event is one parsed provider notification. Each supported webhook kind has
// its own concrete type; the worker switches on them.
type Event interface {
	// MetadataRef is the order key from the object's metadata.
	MetadataRef() OrderRef
	// ReferenceRef is the order key from the secondary carrier, the checkout
	// client reference or the transfer group.
	ReferenceRef() OrderRef
}

type CheckoutSessionCompleted struct {
	SessionID       string
	PaymentIntentID string
	AmountTotal     int64
	Currency        string
	Metadata        OrderRef
	ClientReference OrderRef
}

func (e CheckoutSessionCompleted) MetadataRef() OrderRef  { return e.Metadata }
func (e CheckoutSessionCompleted) ReferenceRef() OrderRef { return e.ClientReference }

type CheckoutSessionExpired struct {
	SessionID       string
	Metadata        OrderRef
	ClientReference OrderRef
}

func (e CheckoutSessionExpired) MetadataRef() OrderRef  { return e.Metadata }
func (e CheckoutSessionExpired) ReferenceRef() OrderRef { return e.ClientReference }

type PaymentIntentSucceeded struct {
	PaymentIntentID      string
	Amount               int64
	Currency             string
	ApplicationFeeAmount int64
	TransferDestination  string
	Metadata             OrderRef
	TransferGroup        OrderRef
}

func (e PaymentIntentSucceeded) MetadataRef() OrderRef  { return e.Metadata }
func (e PaymentIntentSucceeded) ReferenceRef() OrderRef { return e.TransferGroup }

type PaymentIntentFailed struct {
	PaymentIntentID string
	FailureMessage  string
	Metadata        OrderRef
	TransferGroup   OrderRef
}

func (e PaymentIntentFailed) MetadataRef() OrderRef  { return e.Metadata }
func (e PaymentIntentFailed) ReferenceRef() OrderRef { return e.TransferGroup }

type ChargeSucceeded struct {
	ChargeID        string
	PaymentIntentID string
	Amount          int64
	Currency        string
	Metadata        OrderRef
	TransferGroup   OrderRef
}

func (e ChargeSucceeded) MetadataRef() OrderRef  { return e.Metadata }
func (e ChargeSucceeded) ReferenceRef() OrderRef { return e.TransferGroup }

type ChargeRefunded struct {
	ChargeID        string
	PaymentIntentID string
	Amount          int64
	AmountRefunded  int64
	Currency        string
	FullyRefunded   bool
	Metadata        OrderRef
	TransferGroup   OrderRef
}

func (e ChargeRefunded) MetadataRef() OrderRef  { return e.Metadata }
func (e ChargeRefunded) ReferenceRef() OrderRef { return e.TransferGroup }

type rawEnvelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type rawMetadata struct {
	OrderID      string `json:"order_id"`
	OrderVersion string `json:"order_version"`
}

func (m rawMetadata) ref() OrderRef {
	if m.OrderID == "" || m.OrderVersion == "" {
		return OrderRef{}
	}
	ref, ok := ParseOrderRef(m.OrderID + ":" + m.OrderVersion)
	if !ok {
		return OrderRef{}
	}
	return ref
}

type rawCheckoutSession struct {
	ID                string      `json:"id"`
	ClientReferenceID string      `json:"client_reference_id"`
	PaymentIntent     string      `json:"payment_intent"`
	AmountTotal       int64       `json:"amount_total"`
	Currency          string      `json:"currency"`
	Metadata          rawMetadata `json:"metadata"`
}

type rawPaymentIntent struct {
	ID                   string      `json:"id"`
	Amount               int64       `json:"amount"`
	Currency             string      `json:"currency"`
	ApplicationFeeAmount int64       `json:"application_fee_amount"`
	TransferGroup        string      `json:"transfer_group"`
	Metadata             rawMetadata `json:"metadata"`
	TransferData         struct {
		Destination string `json:"destination"`
	} `json:"transfer_data"`
	LastPaymentError struct {
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

type rawCharge struct {
	ID             string      `json:"id"`
	PaymentIntent  string      `json:"payment_intent"`
	Amount         int64       `json:"amount"`
	AmountRefunded int64       `json:"amount_refunded"`
	Refunded       bool        `json:"refunded"`
	Currency       string      `json:"currency"`
	TransferGroup  string      `json:"transfer_group"`
	Metadata       rawMetadata `json:"metadata"`
}

// ParseEvent decodes a raw provider payload into its typed form. Unsupported
// event types return ErrUnsupportedEvent; the caller decides whether that is
// fatal.
func ParseEvent(payload []byte) (Event, error) {
	var envelope rawEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, ErrMalformedEvent
	}

	switch envelope.Type {
	case TypeCheckoutSessionCompleted:
		var obj rawCheckoutSession
		if err := json.Unmarshal(envelope.Data.Object, &obj); err != nil {
			return nil, ErrMalformedEvent
		}
		clientRef, _ := ParseOrderRef(obj.ClientReferenceID)
		return CheckoutSessionCompleted{
			SessionID:       obj.ID,
			PaymentIntentID: obj.PaymentIntent,
			AmountTotal:     obj.AmountTotal,
			Currency:        obj.Currency,
			Metadata:        obj.Metadata.ref(),
			ClientReference: clientRef,
		}, nil
	case TypeCheckoutSessionExpired:
		var obj rawCheckoutSession
		if err := json.Unmarshal(envelope.Data.Object, &obj); err != nil {
			return nil, ErrMalformedEvent
		}
		clientRef, _ := ParseOrderRef(obj.ClientReferenceID)
		return CheckoutSessionExpired{
			SessionID:       obj.ID,
			Metadata:        obj.Metadata.ref(),
			ClientReference: clientRef,
		}, nil
	case TypePaymentIntentSucceeded:
		var obj rawPaymentIntent
		if err := json.Unmarshal(envelope.Data.Object, &obj); err != nil {
			return nil, ErrMalformedEvent
		}
		transferRef, _ := ParseOrderRef(obj.TransferGroup)
		return PaymentIntentSucceeded{
			PaymentIntentID:      obj.ID,
			Amount:               obj.Amount,
			Currency:             obj.Currency,
			ApplicationFeeAmount: obj.ApplicationFeeAmount,
			TransferDestination:  obj.TransferData.Destination,
			Metadata:             obj.Metadata.ref(),
			TransferGroup:        transferRef,
		}, nil
	case TypePaymentIntentFailed:
		var obj rawPaymentIntent
		if err := json.Unmarshal(envelope.Data.Object, &obj); err != nil {
			return nil, ErrMalformedEvent
		}
		transferRef, _ := ParseOrderRef(obj.TransferGroup)
		return PaymentIntentFailed{
			PaymentIntentID: obj.ID,
			FailureMessage:  obj.LastPaymentError.Message,
			Metadata:        obj.Metadata.ref(),
			TransferGroup:   transferRef,
		}, nil
	case TypeChargeSucceeded:
		var obj rawCharge
		if err := json.Unmarshal(envelope.Data.Object, &obj); err != nil {
			return nil, ErrMalformedEvent
		}
		transferRef, _ := ParseOrderRef(obj.TransferGroup)
		return ChargeSucceeded{
			ChargeID:        obj.ID,
			PaymentIntentID: obj.PaymentIntent,
			Amount:          obj.Amount,
			Currency:        obj.Currency,
			Metadata:        obj.Metadata.ref(),
			TransferGroup:   transferRef,
		}, nil
	case TypeChargeRefunded:
		var obj rawCharge
		if err := json.Unmarshal(envelope.Data.Object, &obj); err != nil {
			return nil, ErrMalformedEvent
		}
		transferRef, _ := ParseOrderRef(obj.TransferGroup)
		return ChargeRefunded{
			ChargeID:        obj.ID,
			PaymentIntentID: obj.PaymentIntent,
			Amount:          obj.Amount,
			AmountRefunded:  obj.AmountRefunded,
			Currency:        obj.Currency,
			FullyRefunded:   obj.Refunded,
			Metadata:        obj.Metadata.ref(),
			TransferGroup:   transferRef,
		}, nil
	default:
		return nil, ErrUnsupportedEvent
	}
}
