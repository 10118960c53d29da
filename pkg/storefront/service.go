// Package storefront implements the domain logic of a credential storefront:
// mode-priced stock with pin-on-first-sale semantics, non-negative buyer
// balances, an append-only sale ledger and gateway orders settled exactly
// once.
package storefront

import (
	"context"
	"errors"
	"fmt"
)

// Service executes storefront operations against a Store. Construct it with
// NewService.
type Service struct {
	store      Store
	nowFn      func() int64
	logger     OperationLogger
	gateway    PaymentGateway
	retryLimit int
}

// NewService validates dependencies and assembles a Service. The now function
// supplies Unix UTC timestamps for ledger lines and orders.
func NewService(store Store, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{
		store:      store,
		nowFn:      now,
		retryLimit: defaultReservationRetryLimit,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	if service.retryLimit < 1 {
		return nil, fmt.Errorf("%w: reservation retry limit %d is not positive", ErrInvalidServiceConfig, service.retryLimit)
	}
	return service, nil
}

// Balance returns the buyer's balance, creating the account on first
// reference.
func (service *Service) Balance(ctx context.Context, buyerID BuyerID) (AmountCents, error) {
	return service.store.EnsureAccount(ctx, buyerID)
}

// Credit adds amount to the buyer's balance.
func (service *Service) Credit(ctx context.Context, buyerID BuyerID, amount AmountCents) error {
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		return transactionStore.CreditBalance(ctx, buyerID, amount)
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationBalanceCredit,
		BuyerID:   buyerID,
		Amount:    amount,
		Error:     operationError,
	})
	return operationError
}

// reserveUnit selects and reserves one sellable unit in a single transaction.
// A reservation conflict restarts selection; exhausted attempts surface as
// ErrNoStock.
func (service *Service) reserveUnit(ctx context.Context, category Category, mode AccessMode) (StockItem, error) {
	var reserved StockItem
	err := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		item, reserveErr := service.reserveWithRetry(ctx, transactionStore, category, mode)
		if reserveErr != nil {
			return reserveErr
		}
		reserved = item
		return nil
	})
	if err != nil {
		return StockItem{}, err
	}
	return reserved, nil
}

func (service *Service) reserveWithRetry(ctx context.Context, store Store, category Category, mode AccessMode) (StockItem, error) {
	for attempt := 0; attempt < service.retryLimit; attempt++ {
		item, err := store.FirstEligibleItem(ctx, category, mode)
		if err != nil {
			return StockItem{}, err
		}
		err = store.ReserveUnit(ctx, item.ItemID, mode)
		if errors.Is(err, ErrReservationConflict) {
			continue
		}
		if err != nil {
			return StockItem{}, err
		}
		return item, nil
	}
	return StockItem{}, ErrNoStock
}

func (service *Service) releaseUnit(ctx context.Context, itemID int64, mode AccessMode) error {
	return service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		return transactionStore.ReleaseUnit(ctx, itemID, mode)
	})
}

// instructionMessage fetches the redemption message for a completed sale.
// A missing instruction is not an error; the sale ships without one.
func (service *Service) instructionMessage(ctx context.Context, category Category, mode AccessMode) string {
	instruction, err := service.store.GetInstruction(ctx, category, mode)
	if err != nil {
		if !errors.Is(err, ErrInstructionNotFound) {
			service.logOperation(ctx, OperationLog{
				Operation: operationInstructionLookup,
				Category:  category,
				Mode:      mode,
				Error:     err,
			})
		}
		return ""
	}
	return instruction.Message
}
