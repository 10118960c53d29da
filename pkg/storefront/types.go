package storefront

import (
	"encoding/json"
	"fmt"
	"strings"
)

// AccessMode is the redemption variant a stock item can be sold under.
type AccessMode string

const (
	// ModePersonal hands the credential to a single buyer.
	ModePersonal AccessMode = "personal"
	// ModeShared sells seats on the same credential to several buyers.
	ModeShared AccessMode = "shared"
	// ModeDeviceBound restricts the credential to a registered device.
	ModeDeviceBound AccessMode = "device_bound"
)

// AccessModes lists every access mode in catalog display order.
func AccessModes() []AccessMode {
	return []AccessMode{ModePersonal, ModeShared, ModeDeviceBound}
}

// ParseAccessMode validates a raw access mode value.
func ParseAccessMode(raw string) (AccessMode, error) {
	switch mode := AccessMode(strings.TrimSpace(raw)); mode {
	case ModePersonal, ModeShared, ModeDeviceBound:
		return mode, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidAccessMode, raw)
	}
}

// String renders the access mode.
func (mode AccessMode) String() string {
	return string(mode)
}

// OrderKind distinguishes gateway orders that sell an item from orders that
// top up a balance.
type OrderKind string

const (
	// OrderKindPurchase settles into a sale record on confirmation.
	OrderKindPurchase OrderKind = "purchase"
	// OrderKindTopUp settles into a balance credit on confirmation.
	OrderKindTopUp OrderKind = "topup"
)

// ParseOrderKind validates a raw order kind value.
func ParseOrderKind(raw string) (OrderKind, error) {
	switch kind := OrderKind(strings.TrimSpace(raw)); kind {
	case OrderKindPurchase, OrderKindTopUp:
		return kind, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidOrderKind, raw)
	}
}

// String renders the order kind.
func (kind OrderKind) String() string {
	return string(kind)
}

// OrderStatus is the lifecycle state of a pending gateway order.
type OrderStatus string

const (
	// OrderStatusPending is the only state a settlement may start from.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusPaid is terminal and marks a completed settlement.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusFailed is terminal and marks a rejected or unfillable order.
	OrderStatusFailed OrderStatus = "failed"
)

// ParseOrderStatus validates a raw order status value.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	switch status := OrderStatus(strings.TrimSpace(raw)); status {
	case OrderStatusPending, OrderStatusPaid, OrderStatusFailed:
		return status, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidOrderStatus, raw)
	}
}

// String renders the order status.
func (status OrderStatus) String() string {
	return string(status)
}

// AmountCents is an integer money amount in cents.
type AmountCents int64

// NewAmountCents validates a non-negative amount, used for balances and
// stored totals.
func NewAmountCents(raw int64) (AmountCents, error) {
	if raw < 0 {
		return 0, fmt.Errorf("%w: %d is negative", ErrInvalidAmountCents, raw)
	}
	return AmountCents(raw), nil
}

// NewPositiveAmountCents validates a strictly positive amount, used for
// prices, debits and credits.
func NewPositiveAmountCents(raw int64) (AmountCents, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: %d is not positive", ErrInvalidAmountCents, raw)
	}
	return AmountCents(raw), nil
}

// Int64 returns the amount as a raw cent count.
func (amount AmountCents) Int64() int64 {
	return int64(amount)
}

// BuyerID identifies the owner of a balance and of sale records.
type BuyerID struct {
	value string
}

// NewBuyerID validates a raw buyer identifier.
func NewBuyerID(raw string) (BuyerID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return BuyerID{}, fmt.Errorf("%w: empty value", ErrInvalidBuyerID)
	}
	return BuyerID{value: trimmed}, nil
}

// String renders the buyer identifier.
func (buyerID BuyerID) String() string {
	return buyerID.value
}

// Category groups stock items into a catalog shelf.
type Category struct {
	value string
}

// NewCategory validates a raw category name.
func NewCategory(raw string) (Category, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Category{}, fmt.Errorf("%w: empty value", ErrInvalidCategory)
	}
	return Category{value: trimmed}, nil
}

// String renders the category name.
func (category Category) String() string {
	return category.value
}

// Credential is the opaque secret payload delivered on a completed sale.
type Credential struct {
	value string
}

// NewCredential validates a raw credential payload.
func NewCredential(raw string) (Credential, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Credential{}, fmt.Errorf("%w: empty value", ErrInvalidCredential)
	}
	return Credential{value: trimmed}, nil
}

// String renders the credential payload.
func (credential Credential) String() string {
	return credential.value
}

// MerchantOrderID correlates a gateway checkout with a stored order.
type MerchantOrderID struct {
	value string
}

// NewMerchantOrderID validates a raw merchant order id.
func NewMerchantOrderID(raw string) (MerchantOrderID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return MerchantOrderID{}, fmt.Errorf("%w: empty value", ErrInvalidMerchantOrderID)
	}
	return MerchantOrderID{value: trimmed}, nil
}

// String renders the merchant order id.
func (merchantOrderID MerchantOrderID) String() string {
	return merchantOrderID.value
}

// MetadataJSON carries a JSON object of gateway bookkeeping attached to an
// order.
type MetadataJSON struct {
	value string
}

// NewMetadataJSON validates that raw is a JSON object. An empty value maps to
// the empty object.
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return MetadataJSON{value: "{}"}, nil
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
		return MetadataJSON{}, fmt.Errorf("%w: %v", ErrInvalidMetadataJSON, err)
	}
	return MetadataJSON{value: trimmed}, nil
}

// String renders the metadata object, defaulting to "{}" for the zero value.
func (metadata MetadataJSON) String() string {
	if metadata.value == "" {
		return "{}"
	}
	return metadata.value
}
