package storefront

import "context"

// BillingDetails carries the customer fields payment gateways require when
// registering a checkout.
type BillingDetails struct {
	Email       string
	FirstName   string
	LastName    string
	PhoneNumber string
}

// CheckoutRequest describes the payment a gateway should collect.
type CheckoutRequest struct {
	MerchantOrderID MerchantOrderID
	AmountCents     AmountCents
	Billing         BillingDetails
}

// GatewayCheckout is the gateway's answer to a checkout registration.
type GatewayCheckout struct {
	PaymentURL     string
	GatewayOrderID int64
}

// PaymentGateway registers hosted-payment sessions for pending orders.
type PaymentGateway interface {
	CreateCheckout(ctx context.Context, request CheckoutRequest) (GatewayCheckout, error)
}
