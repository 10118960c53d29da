package storefront

import (
	"context"
	"errors"
)

// Purchase is the outcome of a settled sale.
type Purchase struct {
	ItemID         int64
	Category       Category
	Mode           AccessMode
	Credential     Credential
	PricePaidCents AmountCents
	Instructions   string
}

// PurchaseWithBalance sells one unit of (category, mode) against the buyer's
// balance.
//
// The reservation commits in its own transaction before the debit and sale
// ledger line commit in a second one, so a crash between the two leaves an
// over-reserved unit rather than an unpaid sale. A failed settlement releases
// the reserved unit again.
func (service *Service) PurchaseWithBalance(ctx context.Context, buyerID BuyerID, category Category, mode AccessMode) (Purchase, error) {
	purchase, operationError := service.purchaseWithBalance(ctx, buyerID, category, mode)
	service.logOperation(ctx, OperationLog{
		Operation: operationPurchase,
		BuyerID:   buyerID,
		Category:  category,
		Mode:      mode,
		ItemID:    purchase.ItemID,
		Amount:    purchase.PricePaidCents,
		Error:     operationError,
	})
	if operationError != nil {
		return Purchase{}, operationError
	}
	return purchase, nil
}

func (service *Service) purchaseWithBalance(ctx context.Context, buyerID BuyerID, category Category, mode AccessMode) (Purchase, error) {
	reserved, err := service.reserveUnit(ctx, category, mode)
	if err != nil {
		return Purchase{}, err
	}
	offer, found := reserved.OfferFor(mode)
	if !found {
		releaseErr := service.releaseUnit(ctx, reserved.ItemID, mode)
		return Purchase{}, errors.Join(WrapError(operationPurchase, "item", "missing_offer", ErrUnknownItem), releaseErr)
	}

	settleErr := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		debited, debitErr := transactionStore.DebitIfSufficient(ctx, buyerID, offer.PriceCents)
		if debitErr != nil {
			return debitErr
		}
		if !debited {
			return ErrInsufficientBalance
		}
		return transactionStore.AppendSale(ctx, SaleRecord{
			BuyerID:        buyerID,
			ItemID:         reserved.ItemID,
			Category:       reserved.Category,
			Credential:     reserved.Credential,
			PricePaidCents: offer.PriceCents,
			Mode:           mode,
			CreatedUnixUTC: service.nowFn(),
		})
	})
	if settleErr != nil {
		if releaseErr := service.releaseUnit(ctx, reserved.ItemID, mode); releaseErr != nil {
			return Purchase{}, errors.Join(settleErr, releaseErr)
		}
		return Purchase{}, settleErr
	}

	return Purchase{
		ItemID:         reserved.ItemID,
		Category:       reserved.Category,
		Mode:           mode,
		Credential:     reserved.Credential,
		PricePaidCents: offer.PriceCents,
		Instructions:   service.instructionMessage(ctx, category, mode),
	}, nil
}
