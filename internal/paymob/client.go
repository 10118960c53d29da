// Package paymob integrates the Paymob Accept payment gateway. The client
// builds hosted-checkout sessions through the gateway's three-step flow
// (auth token, order registration, payment key) and verifies the HMAC
// signatures Paymob attaches to its transaction callbacks and redirects.
package paymob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/storefront/pkg/storefront"
	"go.uber.org/zap"
)

const (
	defaultBaseURL          = "https://accept.paymob.com"
	defaultCurrency         = "EGP"
	requestTimeout          = 15 * time.Second
	paymentKeyExpirySeconds = 3600

	authTokenPath     = "/api/auth/tokens"
	registerOrderPath = "/api/ecommerce/orders"
	paymentKeyPath    = "/api/acceptance/payment_keys"
)

var (
	ErrMissingAPIKey      = errors.New("paymob api key is required")
	ErrMissingIntegration = errors.New("paymob card integration id is required")
	ErrMissingIframe      = errors.New("paymob iframe id is required")
	ErrGatewayRejected    = errors.New("payment gateway rejected the request")
	ErrMalformedCallback  = errors.New("payment callback payload is malformed")
)

// Config carries the merchant account settings issued by Paymob.
type Config struct {
	APIKey            string
	CardIntegrationID int64
	IframeID          int64
	HMACSecret        string
	BaseURL           string
	Currency          string
}

// Client talks to the Paymob Accept API. It implements
// storefront.PaymentGateway.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(config Config, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	if config.CardIntegrationID <= 0 {
		return nil, ErrMissingIntegration
	}
	if config.IframeID <= 0 {
		return nil, ErrMissingIframe
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Currency == "" {
		config.Currency = defaultCurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: requestTimeout},
		logger:     logger,
	}, nil
}

// CreateCheckout registers the order with Paymob and returns the hosted
// iframe URL the buyer completes the card payment on.
func (client *Client) CreateCheckout(ctx context.Context, request storefront.CheckoutRequest) (storefront.GatewayCheckout, error) {
	authToken, err := client.authToken(ctx)
	if err != nil {
		return storefront.GatewayCheckout{}, err
	}
	gatewayOrderID, err := client.registerOrder(ctx, authToken, request)
	if err != nil {
		return storefront.GatewayCheckout{}, err
	}
	paymentKey, err := client.paymentKey(ctx, authToken, gatewayOrderID, request)
	if err != nil {
		return storefront.GatewayCheckout{}, err
	}
	paymentURL := fmt.Sprintf("%s/api/acceptance/iframes/%d?payment_token=%s",
		client.config.BaseURL, client.config.IframeID, paymentKey)
	return storefront.GatewayCheckout{
		PaymentURL:     paymentURL,
		GatewayOrderID: gatewayOrderID,
	}, nil
}

func (client *Client) authToken(ctx context.Context) (string, error) {
	var response authResponse
	payload := authRequest{APIKey: client.config.APIKey}
	if err := client.postJSON(ctx, authTokenPath, payload, &response); err != nil {
		return "", err
	}
	if response.Token == "" {
		return "", fmt.Errorf("%w: auth response carried no token", ErrGatewayRejected)
	}
	return response.Token, nil
}

func (client *Client) registerOrder(ctx context.Context, authToken string, request storefront.CheckoutRequest) (int64, error) {
	var response orderResponse
	payload := orderRequest{
		AuthToken:       authToken,
		DeliveryNeeded:  "false",
		AmountCents:     strconv.FormatInt(request.AmountCents.Int64(), 10),
		Currency:        client.config.Currency,
		MerchantOrderID: request.MerchantOrderID.String(),
	}
	if err := client.postJSON(ctx, registerOrderPath, payload, &response); err != nil {
		return 0, err
	}
	if response.ID == 0 {
		return 0, fmt.Errorf("%w: order response carried no id", ErrGatewayRejected)
	}
	return response.ID, nil
}

func (client *Client) paymentKey(ctx context.Context, authToken string, gatewayOrderID int64, request storefront.CheckoutRequest) (string, error) {
	var response paymentKeyResponse
	payload := paymentKeyRequest{
		AuthToken:         authToken,
		AmountCents:       strconv.FormatInt(request.AmountCents.Int64(), 10),
		ExpirationSeconds: paymentKeyExpirySeconds,
		OrderID:           gatewayOrderID,
		BillingData:       newBillingData(request.Billing),
		Currency:          client.config.Currency,
		IntegrationID:     client.config.CardIntegrationID,
		LockOrderWhenPaid: "true",
	}
	if err := client.postJSON(ctx, paymentKeyPath, payload, &response); err != nil {
		return "", err
	}
	if response.Token == "" {
		return "", fmt.Errorf("%w: payment key response carried no token", ErrGatewayRejected)
	}
	return response.Token, nil
}

func (client *Client) postJSON(ctx context.Context, path string, payload any, target any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", path, err)
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, client.config.BaseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := client.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("call %s: %w", path, err)
	}
	defer func() {
		_ = response.Body.Close()
	}()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", path, err)
	}
	if response.StatusCode != http.StatusOK && response.StatusCode != http.StatusCreated {
		client.logger.Warn("payment gateway rejected request",
			zap.String("path", path),
			zap.Int("status", response.StatusCode))
		return fmt.Errorf("%w: %s returned status %d", ErrGatewayRejected, path, response.StatusCode)
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func newBillingData(details storefront.BillingDetails) billingData {
	return billingData{
		Apartment:      "NA",
		Email:          valueOrNA(details.Email),
		Floor:          "NA",
		FirstName:      valueOrNA(details.FirstName),
		Street:         "NA",
		Building:       "NA",
		PhoneNumber:    valueOrNA(details.PhoneNumber),
		ShippingMethod: "NA",
		PostalCode:     "NA",
		City:           "NA",
		Country:        "NA",
		LastName:       valueOrNA(details.LastName),
		State:          "NA",
	}
}

func valueOrNA(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "NA"
	}
	return trimmed
}

type authRequest struct {
	APIKey string `json:"api_key"`
}

type authResponse struct {
	Token string `json:"token"`
}

type orderRequest struct {
	AuthToken       string `json:"auth_token"`
	DeliveryNeeded  string `json:"delivery_needed"`
	AmountCents     string `json:"amount_cents"`
	Currency        string `json:"currency"`
	MerchantOrderID string `json:"merchant_order_id"`
}

type orderResponse struct {
	ID int64 `json:"id"`
}

type paymentKeyRequest struct {
	AuthToken         string      `json:"auth_token"`
	AmountCents       string      `json:"amount_cents"`
	ExpirationSeconds int64       `json:"expiration"`
	OrderID           int64       `json:"order_id"`
	BillingData       billingData `json:"billing_data"`
	Currency          string      `json:"currency"`
	IntegrationID     int64       `json:"integration_id"`
	LockOrderWhenPaid string      `json:"lock_order_when_paid"`
}

type paymentKeyResponse struct {
	Token string `json:"token"`
}

type billingData struct {
	Apartment      string `json:"apartment"`
	Email          string `json:"email"`
	Floor          string `json:"floor"`
	FirstName      string `json:"first_name"`
	Street         string `json:"street"`
	Building       string `json:"building"`
	PhoneNumber    string `json:"phone_number"`
	ShippingMethod string `json:"shipping_method"`
	PostalCode     string `json:"postal_code"`
	City           string `json:"city"`
	Country        string `json:"country"`
	LastName       string `json:"last_name"`
	State          string `json:"state"`
}
