package storefront

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// CheckoutSession is returned when a gateway order has been registered.
type CheckoutSession struct {
	MerchantOrderID MerchantOrderID
	PaymentURL      string
	AmountCents     AmountCents
}

// Settlement is the outcome of a payment confirmation.
type Settlement struct {
	MerchantOrderID  MerchantOrderID
	Kind             OrderKind
	BuyerID          BuyerID
	AmountCents      AmountCents
	AlreadyConfirmed bool
	Purchase         *Purchase
}

// BeginCheckout registers a gateway payment for one unit of (category, mode)
// and stores the pending order. The quoted price comes from the oldest item
// currently able to serve the mode; the unit itself is only reserved at
// confirmation time.
func (service *Service) BeginCheckout(ctx context.Context, buyerID BuyerID, category Category, mode AccessMode, billing BillingDetails) (CheckoutSession, error) {
	session, operationError := service.beginOrder(ctx, OrderKindPurchase, buyerID, category, mode, 0, billing)
	service.logOperation(ctx, OperationLog{
		Operation:       operationCheckout,
		BuyerID:         buyerID,
		Category:        category,
		Mode:            mode,
		MerchantOrderID: session.MerchantOrderID,
		Amount:          session.AmountCents,
		Error:           operationError,
	})
	if operationError != nil {
		return CheckoutSession{}, operationError
	}
	return session, nil
}

// BeginTopUp registers a gateway payment that credits the buyer's balance on
// confirmation.
func (service *Service) BeginTopUp(ctx context.Context, buyerID BuyerID, amount AmountCents, billing BillingDetails) (CheckoutSession, error) {
	session, operationError := service.beginTopUp(ctx, buyerID, amount, billing)
	service.logOperation(ctx, OperationLog{
		Operation:       operationTopUp,
		BuyerID:         buyerID,
		MerchantOrderID: session.MerchantOrderID,
		Amount:          amount,
		Error:           operationError,
	})
	if operationError != nil {
		return CheckoutSession{}, operationError
	}
	return session, nil
}

func (service *Service) beginTopUp(ctx context.Context, buyerID BuyerID, amount AmountCents, billing BillingDetails) (CheckoutSession, error) {
	if amount.Int64() <= 0 {
		return CheckoutSession{}, fmt.Errorf("%w: top-up of %d cents", ErrInvalidAmountCents, amount.Int64())
	}
	return service.beginOrder(ctx, OrderKindTopUp, buyerID, Category{}, "", amount, billing)
}

func (service *Service) beginOrder(ctx context.Context, kind OrderKind, buyerID BuyerID, category Category, mode AccessMode, amount AmountCents, billing BillingDetails) (CheckoutSession, error) {
	if service.gateway == nil {
		return CheckoutSession{}, ErrGatewayNotConfigured
	}
	if kind == OrderKindPurchase {
		item, err := service.store.FirstEligibleItem(ctx, category, mode)
		if err != nil {
			return CheckoutSession{}, err
		}
		offer, found := item.OfferFor(mode)
		if !found {
			return CheckoutSession{}, WrapError(operationCheckout, "item", "missing_offer", ErrUnknownItem)
		}
		amount = offer.PriceCents
	}

	nowUnixUTC := service.nowFn()
	merchantOrderID, err := newMerchantOrderID(kind, buyerID, category, mode, nowUnixUTC)
	if err != nil {
		return CheckoutSession{}, err
	}

	checkout, err := service.gateway.CreateCheckout(ctx, CheckoutRequest{
		MerchantOrderID: merchantOrderID,
		AmountCents:     amount,
		Billing:         billing,
	})
	if err != nil {
		return CheckoutSession{}, WrapError(operationCheckout, "gateway", "create_checkout", err)
	}

	metadata, err := NewMetadataJSON(fmt.Sprintf(`{"gateway_order_id":%d}`, checkout.GatewayOrderID))
	if err != nil {
		return CheckoutSession{}, err
	}
	order := PendingOrder{
		MerchantOrderID: merchantOrderID,
		Kind:            kind,
		BuyerID:         buyerID,
		Category:        category,
		Mode:            mode,
		AmountCents:     amount,
		Status:          OrderStatusPending,
		PaymentURL:      checkout.PaymentURL,
		Metadata:        metadata,
		CreatedUnixUTC:  nowUnixUTC,
	}
	err = service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		return transactionStore.CreateOrder(ctx, order)
	})
	if err != nil {
		return CheckoutSession{}, err
	}
	return CheckoutSession{
		MerchantOrderID: merchantOrderID,
		PaymentURL:      checkout.PaymentURL,
		AmountCents:     amount,
	}, nil
}

// ConfirmPaid settles a pending order exactly once.
//
// Replays of an already settled order succeed with AlreadyConfirmed set and
// change nothing. A purchase order that finds no stock left flips to failed;
// the commit of that flip survives the returned ErrNoStock so the replayed
// signal cannot retry it.
func (service *Service) ConfirmPaid(ctx context.Context, merchantOrderID MerchantOrderID) (Settlement, error) {
	settlement, operationError := service.confirmPaid(ctx, merchantOrderID)
	service.logOperation(ctx, OperationLog{
		Operation:       operationConfirmPaid,
		BuyerID:         settlement.BuyerID,
		MerchantOrderID: merchantOrderID,
		Amount:          settlement.AmountCents,
		Error:           operationError,
	})
	if operationError != nil {
		return Settlement{}, operationError
	}
	return settlement, nil
}

func (service *Service) confirmPaid(ctx context.Context, merchantOrderID MerchantOrderID) (Settlement, error) {
	var settlement Settlement
	var outOfStock bool
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		order, err := transactionStore.GetOrderForUpdate(ctx, merchantOrderID)
		if err != nil {
			return err
		}
		settlement = Settlement{
			MerchantOrderID: order.MerchantOrderID,
			Kind:            order.Kind,
			BuyerID:         order.BuyerID,
			AmountCents:     order.AmountCents,
		}
		switch order.Status {
		case OrderStatusPaid:
			settlement.AlreadyConfirmed = true
			return nil
		case OrderStatusFailed:
			return ErrOrderClosed
		}

		switch order.Kind {
		case OrderKindTopUp:
			if err := transactionStore.CreditBalance(ctx, order.BuyerID, order.AmountCents); err != nil {
				return err
			}
		case OrderKindPurchase:
			reserved, reserveErr := service.reserveWithRetry(ctx, transactionStore, order.Category, order.Mode)
			if errors.Is(reserveErr, ErrNoStock) {
				outOfStock = true
				return transactionStore.SetOrderStatus(ctx, merchantOrderID, OrderStatusPending, OrderStatusFailed)
			}
			if reserveErr != nil {
				return reserveErr
			}
			sale := SaleRecord{
				BuyerID:         order.BuyerID,
				ItemID:          reserved.ItemID,
				Category:        reserved.Category,
				Credential:      reserved.Credential,
				PricePaidCents:  order.AmountCents,
				Mode:            order.Mode,
				MerchantOrderID: merchantOrderID,
				CreatedUnixUTC:  service.nowFn(),
			}
			if err := transactionStore.AppendSale(ctx, sale); err != nil {
				return err
			}
			settlement.Purchase = &Purchase{
				ItemID:         reserved.ItemID,
				Category:       reserved.Category,
				Mode:           order.Mode,
				Credential:     reserved.Credential,
				PricePaidCents: order.AmountCents,
			}
		default:
			return fmt.Errorf("%w: %q", ErrInvalidOrderKind, order.Kind)
		}
		return transactionStore.SetOrderStatus(ctx, merchantOrderID, OrderStatusPending, OrderStatusPaid)
	})
	if operationError != nil {
		return Settlement{}, operationError
	}
	if outOfStock {
		return Settlement{}, ErrNoStock
	}
	if settlement.Purchase != nil {
		settlement.Purchase.Instructions = service.instructionMessage(ctx, settlement.Purchase.Category, settlement.Purchase.Mode)
	}
	return settlement, nil
}

// FailOrder records a negative gateway verdict for a pending order. Orders
// that already settled stay settled and surface ErrOrderClosed.
func (service *Service) FailOrder(ctx context.Context, merchantOrderID MerchantOrderID) error {
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		return transactionStore.SetOrderStatus(ctx, merchantOrderID, OrderStatusPending, OrderStatusFailed)
	})
	service.logOperation(ctx, OperationLog{
		Operation:       operationFailOrder,
		MerchantOrderID: merchantOrderID,
		Error:           operationError,
	})
	return operationError
}

// Order returns the stored order for a merchant order id.
func (service *Service) Order(ctx context.Context, merchantOrderID MerchantOrderID) (PendingOrder, error) {
	return service.store.GetOrder(ctx, merchantOrderID)
}

// SaleForOrder returns the sale settled for a paid purchase order.
func (service *Service) SaleForOrder(ctx context.Context, merchantOrderID MerchantOrderID) (SaleRecord, error) {
	return service.store.SaleByOrder(ctx, merchantOrderID)
}

func newMerchantOrderID(kind OrderKind, buyerID BuyerID, category Category, mode AccessMode, nowUnixUTC int64) (MerchantOrderID, error) {
	nonce, _, _ := strings.Cut(uuid.NewString(), "-")
	segments := []string{merchantOrderPrefix, kind.String(), slugSegment(buyerID.String())}
	if kind == OrderKindPurchase {
		segments = append(segments, slugSegment(category.String()), mode.String())
	}
	segments = append(segments, strconv.FormatInt(nowUnixUTC, 10), nonce)
	return NewMerchantOrderID(strings.Join(segments, merchantOrderDelimiter))
}

// slugSegment lowercases a value and folds everything outside [a-z0-9] to
// underscores so the id survives gateway round-trips untouched.
func slugSegment(raw string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '_'
		}
	}, raw)
}
