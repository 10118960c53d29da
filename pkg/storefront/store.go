package storefront

import (
	"context"
	"fmt"
)

// Offer is one redemption variant of a stock item, with its own price and
// seat accounting.
type Offer struct {
	PriceCents AmountCents
	Capacity   int64
	Used       int64
}

// Remaining returns the seats left on the offer, clamped at zero.
func (offer Offer) Remaining() int64 {
	remaining := offer.Capacity - offer.Used
	if remaining < 0 {
		return 0
	}
	return remaining
}

// StockItem is a sellable catalog entry carrying one credential and up to one
// offer per access mode. The first completed sale pins the item to its chosen
// mode; other modes stop being offered from then on.
type StockItem struct {
	ItemID        int64
	Category      Category
	Credential    Credential
	ChosenMode    *AccessMode
	FullyDepleted bool
	Offers        map[AccessMode]Offer
}

// OfferFor returns the offer for the access mode when the item carries one.
func (item StockItem) OfferFor(mode AccessMode) (Offer, bool) {
	offer, found := item.Offers[mode]
	return offer, found
}

// EligibleFor reports whether the item can currently serve the access mode.
func (item StockItem) EligibleFor(mode AccessMode) bool {
	if item.FullyDepleted {
		return false
	}
	if item.ChosenMode != nil && *item.ChosenMode != mode {
		return false
	}
	offer, found := item.Offers[mode]
	return found && offer.Remaining() > 0
}

// OfferInput describes one offer of an item under import.
type OfferInput struct {
	PriceCents AmountCents
	Capacity   int64
}

// NewOfferInput validates a price and capacity pair.
func NewOfferInput(priceCents int64, capacity int64) (OfferInput, error) {
	price, err := NewPositiveAmountCents(priceCents)
	if err != nil {
		return OfferInput{}, fmt.Errorf("%w: %v", ErrInvalidItemInput, err)
	}
	if capacity < 1 {
		return OfferInput{}, fmt.Errorf("%w: capacity %d is not positive", ErrInvalidItemInput, capacity)
	}
	return OfferInput{PriceCents: price, Capacity: capacity}, nil
}

// ItemInput describes a stock item under import.
type ItemInput struct {
	Category   Category
	Credential Credential
	Offers     map[AccessMode]OfferInput
}

// NewItemInput validates an import row. At least one offer is required; a
// mode without an offer is simply not sold for this item.
func NewItemInput(category Category, credential Credential, offers map[AccessMode]OfferInput) (ItemInput, error) {
	if len(offers) == 0 {
		return ItemInput{}, fmt.Errorf("%w: item offers no access mode", ErrInvalidItemInput)
	}
	return ItemInput{Category: category, Credential: credential, Offers: offers}, nil
}

// SaleRecord is one immutable line of the append-only sale ledger. The
// credential and price are snapshots taken at settlement time.
type SaleRecord struct {
	SaleID          int64
	BuyerID         BuyerID
	ItemID          int64
	Category        Category
	Credential      Credential
	PricePaidCents  AmountCents
	Mode            AccessMode
	MerchantOrderID MerchantOrderID
	CreatedUnixUTC  int64
}

// PendingOrder tracks a gateway payment between checkout and its verdict.
type PendingOrder struct {
	MerchantOrderID MerchantOrderID
	Kind            OrderKind
	BuyerID         BuyerID
	Category        Category
	Mode            AccessMode
	AmountCents     AmountCents
	Status          OrderStatus
	PaymentURL      string
	Metadata        MetadataJSON
	CreatedUnixUTC  int64
}

// Instruction is the redemption message delivered with sales of a category
// and access mode.
type Instruction struct {
	Category Category
	Mode     AccessMode
	Message  string
}

// CategorySummary reports how many items of a category can still be sold.
type CategorySummary struct {
	Category       Category
	AvailableItems int64
}

// ModeSummary reports availability and the lowest price of one access mode
// within a category.
type ModeSummary struct {
	Mode           AccessMode
	AvailableItems int64
	MinPriceCents  AmountCents
}

// Store is the persistence contract the storefront service operates on.
//
// WithTx runs fn against a transactional store; returning an error rolls the
// transaction back. Conditional mutations report a stale precondition through
// their documented sentinel instead of affecting zero rows silently.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error

	// EnsureAccount creates the buyer account on first reference and returns
	// the current balance.
	EnsureAccount(ctx context.Context, buyerID BuyerID) (AmountCents, error)
	// DebitIfSufficient subtracts amount when the balance covers it and
	// reports whether the debit happened. A covered balance never goes
	// negative; an uncovered one is left untouched.
	DebitIfSufficient(ctx context.Context, buyerID BuyerID, amount AmountCents) (bool, error)
	// CreditBalance adds amount to the balance, creating the account when
	// missing.
	CreditBalance(ctx context.Context, buyerID BuyerID, amount AmountCents) error

	// InsertItem stores a new stock item with its offers and returns its id.
	InsertItem(ctx context.Context, input ItemInput) (int64, error)
	// FirstEligibleItem returns the oldest item able to serve the category
	// and mode, or ErrNoStock.
	FirstEligibleItem(ctx context.Context, category Category, mode AccessMode) (StockItem, error)
	// ReserveUnit pins the item to the mode and consumes one seat. A stale
	// selection surfaces as ErrReservationConflict.
	ReserveUnit(ctx context.Context, itemID int64, mode AccessMode) error
	// ReleaseUnit returns one seat, clearing depletion and, when no seats
	// remain used, the mode pin.
	ReleaseUnit(ctx context.Context, itemID int64, mode AccessMode) error
	// ListItems returns up to limit items of the category, oldest first.
	ListItems(ctx context.Context, category Category, limit int) ([]StockItem, error)
	// DeleteCategory removes the category's items and offers, returning the
	// number of removed items.
	DeleteCategory(ctx context.Context, category Category) (int64, error)
	// CategorySummaries reports sellable item counts per category.
	CategorySummaries(ctx context.Context) ([]CategorySummary, error)
	// ModeSummaries reports sellable counts and minimum prices per mode of
	// one category.
	ModeSummaries(ctx context.Context, category Category) ([]ModeSummary, error)

	// AppendSale writes one sale ledger line. Sale lines are never updated or
	// deleted.
	AppendSale(ctx context.Context, sale SaleRecord) error
	// RecentSales returns up to limit sale lines, newest first.
	RecentSales(ctx context.Context, limit int) ([]SaleRecord, error)
	// SaleByOrder returns the sale settled for a merchant order id, or
	// ErrUnknownSale.
	SaleByOrder(ctx context.Context, merchantOrderID MerchantOrderID) (SaleRecord, error)

	// CreateOrder stores a new pending order; a duplicate merchant order id
	// surfaces as ErrOrderExists.
	CreateOrder(ctx context.Context, order PendingOrder) error
	// GetOrder returns the stored order, or ErrUnknownOrder.
	GetOrder(ctx context.Context, merchantOrderID MerchantOrderID) (PendingOrder, error)
	// GetOrderForUpdate returns the stored order with a row lock held for the
	// remainder of the surrounding transaction.
	GetOrderForUpdate(ctx context.Context, merchantOrderID MerchantOrderID) (PendingOrder, error)
	// SetOrderStatus flips the order from one status to another; a stale
	// precondition surfaces as ErrOrderClosed.
	SetOrderStatus(ctx context.Context, merchantOrderID MerchantOrderID, from OrderStatus, to OrderStatus) error

	// UpsertInstruction stores or replaces the instruction for its category
	// and mode.
	UpsertInstruction(ctx context.Context, instruction Instruction) error
	// GetInstruction returns the stored instruction, or ErrInstructionNotFound.
	GetInstruction(ctx context.Context, category Category, mode AccessMode) (Instruction, error)
	// DeleteInstruction removes the stored instruction, or reports
	// ErrInstructionNotFound.
	DeleteInstruction(ctx context.Context, category Category, mode AccessMode) error
	// ListInstructions returns every stored instruction.
	ListInstructions(ctx context.Context) ([]Instruction, error)
}
