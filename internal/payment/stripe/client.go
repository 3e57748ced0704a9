package stripe

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shigotoba/paygate/internal/config"
	"github.com/shigotoba/paygate/internal/payment/domain"
)

const apiBase = "https://api.stripe.com"

type customerResponse struct {
	ID string `json:"id"`
}

type setupIntentResponse struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
}

type paymentIntentResponse struct {
	ID                   string `json:"id"`
	Status               string `json:"status"`
	Amount               int64  `json:"amount"`
	Currency             string `json:"currency"`
	ApplicationFeeAmount int64  `json:"application_fee_amount"`
	LatestCharge         string `json:"latest_charge"`
	TransferData         struct {
		Destination string `json:"destination"`
	} `json:"transfer_data"`
}

type chargeResponse struct {
	ID                   string `json:"id"`
	PaymentMethodDetails struct {
		Card struct {
			CaptureBefore int64 `json:"capture_before"`
		} `json:"card"`
	} `json:"payment_method_details"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

type Client struct {
	apiKey string
	client *http.Client
}

func New(cfg *config.Config) domain.ProviderClient {
	return &Client{
		apiKey: strings.TrimSpace(cfg.Stripe.APIKey),
		client: &http.Client{Timeout: 12 * time.Second},
	}
}

func (c *Client) CreateCustomer(ctx context.Context, params domain.CreateCustomerParams) (domain.Customer, error) {
	values := url.Values{}
	if params.Email != "" {
		values.Set("email", params.Email)
	}
	if params.Name != "" {
		values.Set("name", params.Name)
	}
	values.Set("metadata[ai_account_id]", params.AccountID)

	var resp customerResponse
	if err := c.do(ctx, http.MethodPost, "/v1/customers", values, "customer:"+params.AccountID, &resp); err != nil {
		return domain.Customer{}, err
	}
	return domain.Customer{ID: resp.ID}, nil
}

func (c *Client) CreateSetupIntent(ctx context.Context, customerID string) (domain.SetupIntent, error) {
	values := url.Values{}
	values.Set("customer", customerID)
	values.Set("usage", "off_session")
	values.Set("payment_method_types[]", "card")

	var resp setupIntentResponse
	if err := c.do(ctx, http.MethodPost, "/v1/setup_intents", values, "", &resp); err != nil {
		return domain.SetupIntent{}, err
	}
	return domain.SetupIntent{ID: resp.ID, ClientSecret: resp.ClientSecret}, nil
}

func (c *Client) AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) error {
	values := url.Values{}
	values.Set("customer", customerID)

	var resp struct {
		ID string `json:"id"`
	}
	return c.do(ctx, http.MethodPost, "/v1/payment_methods/"+paymentMethodID+"/attach", values, "", &resp)
}

func (c *Client) CreatePaymentIntent(ctx context.Context, params domain.CreateIntentParams) (domain.PaymentIntent, error) {
	values := url.Values{}
	values.Set("amount", strconv.FormatInt(params.AmountMinor, 10))
	values.Set("currency", strings.ToLower(params.Currency))
	values.Set("customer", params.CustomerID)
	values.Set("payment_method", params.PaymentMethodID)
	values.Set("capture_method", "manual")
	values.Set("off_session", "true")
	values.Set("confirm", "true")
	if params.ApplicationFeeAmount > 0 {
		values.Set("application_fee_amount", strconv.FormatInt(params.ApplicationFeeAmount, 10))
	}
	if params.DestinationAccount != "" {
		values.Set("transfer_data[destination]", params.DestinationAccount)
	}
	if params.TransferGroup != "" {
		values.Set("transfer_group", params.TransferGroup)
	}
	for k, v := range params.Metadata {
		values.Set("metadata["+k+"]", v)
	}

	var resp paymentIntentResponse
	if err := c.do(ctx, http.MethodPost, "/v1/payment_intents", values, params.IdempotencyKey, &resp); err != nil {
		return domain.PaymentIntent{}, err
	}
	return toPaymentIntent(resp), nil
}

func (c *Client) CapturePaymentIntent(ctx context.Context, intentID, idempotencyKey string) (domain.PaymentIntent, error) {
	var resp paymentIntentResponse
	if err := c.do(ctx, http.MethodPost, "/v1/payment_intents/"+intentID+"/capture", url.Values{}, idempotencyKey, &resp); err != nil {
		return domain.PaymentIntent{}, err
	}
	return toPaymentIntent(resp), nil
}

func (c *Client) GetCharge(ctx context.Context, chargeID string) (domain.Charge, error) {
	var resp chargeResponse
	if err := c.do(ctx, http.MethodGet, "/v1/charges/"+chargeID, nil, "", &resp); err != nil {
		return domain.Charge{}, err
	}
	charge := domain.Charge{ID: resp.ID}
	if epoch := resp.PaymentMethodDetails.Card.CaptureBefore; epoch > 0 {
		t := time.Unix(epoch, 0).UTC()
		charge.CaptureBefore = &t
	}
	return charge, nil
}

func toPaymentIntent(resp paymentIntentResponse) domain.PaymentIntent {
	return domain.PaymentIntent{
		ID:                   resp.ID,
		Status:               resp.Status,
		Amount:               resp.Amount,
		Currency:             resp.Currency,
		ApplicationFeeAmount: resp.ApplicationFeeAmount,
		TransferDestination:  resp.TransferData.Destination,
		LatestCharge:         resp.LatestCharge,
	}
}

func (c *Client) do(ctx context.Context, method, path string, values url.Values, idempotencyKey string, out any) error {
	if c.apiKey == "" {
		return &domain.StripeError{Message: "api key not configured"}
	}
	var body *strings.Reader
	if values != nil {
		body = strings.NewReader(values.Encode())
	} else {
		body = strings.NewReader("")
	}

	req, err := http.NewRequestWithContext(ctx, method, apiBase+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if values != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &domain.StripeError{Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var stripeErr errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&stripeErr); err != nil {
			return &domain.StripeError{Message: "request failed with status " + strconv.Itoa(resp.StatusCode)}
		}
		message := strings.TrimSpace(stripeErr.Error.Message)
		if message == "" {
			message = "request failed with status " + strconv.Itoa(resp.StatusCode)
		}
		return &domain.StripeError{Message: message}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &domain.StripeError{Message: "invalid response: " + err.Error()}
	}
	return nil
}
