package storefront

import (
	"context"
	"strings"
)

// AddItem imports one stock item with its offers and returns the new item id.
func (service *Service) AddItem(ctx context.Context, input ItemInput) (int64, error) {
	var itemID int64
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		insertedID, err := transactionStore.InsertItem(ctx, input)
		if err != nil {
			return err
		}
		itemID = insertedID
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationImportItem,
		Category:  input.Category,
		ItemID:    itemID,
		Error:     operationError,
	})
	if operationError != nil {
		return 0, operationError
	}
	return itemID, nil
}

// ImportItems inserts a batch of items, continuing past per-item failures.
// It returns how many items were imported and how many failed.
func (service *Service) ImportItems(ctx context.Context, inputs []ItemInput) (int, int) {
	imported := 0
	failed := 0
	for _, input := range inputs {
		if _, err := service.AddItem(ctx, input); err != nil {
			failed++
			continue
		}
		imported++
	}
	return imported, failed
}

// ClearCategory removes every item of the category and returns how many were
// removed. Sale ledger lines referencing the items stay untouched.
func (service *Service) ClearCategory(ctx context.Context, category Category) (int64, error) {
	var removed int64
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		deleted, err := transactionStore.DeleteCategory(ctx, category)
		if err != nil {
			return err
		}
		removed = deleted
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationClearCategory,
		Category:  category,
		Error:     operationError,
	})
	if operationError != nil {
		return 0, operationError
	}
	return removed, nil
}

// Categories reports the sellable item count per category.
func (service *Service) Categories(ctx context.Context) ([]CategorySummary, error) {
	return service.store.CategorySummaries(ctx)
}

// CategoryModes reports availability and minimum price per access mode of one
// category.
func (service *Service) CategoryModes(ctx context.Context, category Category) ([]ModeSummary, error) {
	return service.store.ModeSummaries(ctx, category)
}

// Items lists up to limit items of the category, oldest first.
func (service *Service) Items(ctx context.Context, category Category, limit int) ([]StockItem, error) {
	if limit <= 0 {
		limit = defaultRecentSalesLimit
	}
	return service.store.ListItems(ctx, category, limit)
}

// RecentSales returns the newest sale ledger lines, clamped to a sane page
// size.
func (service *Service) RecentSales(ctx context.Context, limit int) ([]SaleRecord, error) {
	if limit <= 0 {
		limit = defaultRecentSalesLimit
	}
	if limit > maxRecentSalesLimit {
		limit = maxRecentSalesLimit
	}
	return service.store.RecentSales(ctx, limit)
}

// SetInstruction stores or replaces the redemption message for a category and
// access mode.
func (service *Service) SetInstruction(ctx context.Context, instruction Instruction) error {
	if strings.TrimSpace(instruction.Message) == "" {
		return ErrInvalidInstruction
	}
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		return transactionStore.UpsertInstruction(ctx, instruction)
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationSetInstruction,
		Category:  instruction.Category,
		Mode:      instruction.Mode,
		Error:     operationError,
	})
	return operationError
}

// Instruction returns the stored redemption message for a category and mode.
func (service *Service) Instruction(ctx context.Context, category Category, mode AccessMode) (Instruction, error) {
	return service.store.GetInstruction(ctx, category, mode)
}

// DeleteInstruction removes the stored redemption message.
func (service *Service) DeleteInstruction(ctx context.Context, category Category, mode AccessMode) error {
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		return transactionStore.DeleteInstruction(ctx, category, mode)
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationDeleteInstruction,
		Category:  category,
		Mode:      mode,
		Error:     operationError,
	})
	return operationError
}

// Instructions lists every stored redemption message.
func (service *Service) Instructions(ctx context.Context) ([]Instruction, error) {
	return service.store.ListInstructions(ctx)
}
