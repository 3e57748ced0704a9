package domain

import (
	"errors"
	"testing"
)

func TestParseOrderRef(t *testing.T) {
	ref, ok := ParseOrderRef("123456789:2")
	if !ok {
		t.Fatal("expected valid ref")
	}
	if ref.OrderID.Int64() != 123456789 || ref.Version != 2 {
		t.Fatalf("unexpected ref %+v", ref)
	}
	if ref.String() != "123456789:2" {
		t.Fatalf("unexpected round trip %q", ref.String())
	}

	for _, bad := range []string{"", "123", "abc:1", "123:abc", "123:0", "0:1", ":", "123:"} {
		if _, ok := ParseOrderRef(bad); ok {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

func TestParseEventPaymentIntentSucceeded(t *testing.T) {
	payload := []byte(`{
		"id": "evt_1",
		"type": "payment_intent.succeeded",
		"data": {"object": {
			"id": "pi_1",
			"amount": 11000,
			"currency": "jpy",
			"application_fee_amount": 1000,
			"transfer_group": "42:1",
			"transfer_data": {"destination": "acct_jp"},
			"metadata": {"order_id": "42", "order_version": "1"}
		}}
	}`)

	event, err := ParseEvent(payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	intent, ok := event.(PaymentIntentSucceeded)
	if !ok {
		t.Fatalf("expected PaymentIntentSucceeded, got %T", event)
	}
	if intent.Amount != 11000 || intent.Currency != "jpy" || intent.ApplicationFeeAmount != 1000 {
		t.Fatalf("unexpected intent %+v", intent)
	}
	if intent.TransferDestination != "acct_jp" {
		t.Fatalf("unexpected destination %q", intent.TransferDestination)
	}
	if intent.MetadataRef().OrderID.Int64() != 42 || intent.MetadataRef().Version != 1 {
		t.Fatalf("unexpected metadata ref %+v", intent.MetadataRef())
	}
	if intent.ReferenceRef() != intent.MetadataRef() {
		t.Fatalf("expected matching refs, got %+v vs %+v", intent.ReferenceRef(), intent.MetadataRef())
	}
}

func TestParseEventChargeRefunded(t *testing.T) {
	payload := []byte(`{
		"id": "evt_2",
		"type": "charge.refunded",
		"data": {"object": {
			"id": "ch_1",
			"payment_intent": "pi_1",
			"amount": 11000,
			"amount_refunded": 11000,
			"refunded": true,
			"currency": "jpy",
			"transfer_group": "42:1",
			"metadata": {}
		}}
	}`)

	event, err := ParseEvent(payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	refund, ok := event.(ChargeRefunded)
	if !ok {
		t.Fatalf("expected ChargeRefunded, got %T", event)
	}
	if !refund.FullyRefunded || refund.AmountRefunded != 11000 {
		t.Fatalf("unexpected refund %+v", refund)
	}
	// Metadata absent, transfer group carries the key.
	if !refund.MetadataRef().IsZero() {
		t.Fatalf("expected zero metadata ref, got %+v", refund.MetadataRef())
	}
	if refund.ReferenceRef().IsZero() {
		t.Fatal("expected transfer group ref")
	}
}

func TestParseEventUnsupportedAndMalformed(t *testing.T) {
	if _, err := ParseEvent([]byte(`{"id":"evt_3","type":"customer.created","data":{"object":{}}}`)); !errors.Is(err, ErrUnsupportedEvent) {
		t.Fatalf("expected unsupported, got %v", err)
	}
	if _, err := ParseEvent([]byte(`not json`)); !errors.Is(err, ErrMalformedEvent) {
		t.Fatalf("expected malformed, got %v", err)
	}
	if _, err := ParseEvent([]byte(`{"id":"evt_4","type":"payment_intent.succeeded","data":{"object":[1,2]}}`)); !errors.Is(err, ErrMalformedEvent) {
		t.Fatalf("expected malformed object, got %v", err)
	}
}
