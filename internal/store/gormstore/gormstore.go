package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/storefront/pkg/storefront"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	constraintOrderPrimary  = "payment_orders_pkey"
	defaultMetadataJSON     = "{}"
	pgUniqueViolationCode   = "23505"
	sqliteConstraintCode    = 19
	errorOperationStore     = "store"
	errorSubjectAccount     = "account"
	errorSubjectItem        = "item"
	errorSubjectOffer       = "offer"
	errorSubjectSale        = "sale"
	errorSubjectOrder       = "order"
	errorSubjectInstruction = "instruction"
	errorCodeCreate         = "create"
	errorCodeCredit         = "credit"
	errorCodeDebit          = "debit"
	errorCodeDelete         = "delete"
	errorCodeDuplicate      = "duplicate"
	errorCodeGet            = "get"
	errorCodeInsert         = "insert"
	errorCodeInvalid        = "invalid"
	errorCodeList           = "list"
	errorCodeLookup         = "lookup"
	errorCodeRelease        = "release"
	errorCodeReserve        = "reserve"
	errorCodeUpdateStatus   = "update_status"
	errorCodeUpsert         = "upsert"
)

// Store implements storefront.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore storefront.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) EnsureAccount(ctx context.Context, buyerID storefront.BuyerID) (storefront.AmountCents, error) {
	var account BuyerAccount
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "buyer_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"buyer_id": clause.Expr{SQL: "excluded.buyer_id"},
			}),
		}).
		FirstOrCreate(&account, BuyerAccount{BuyerID: buyerID.String()}).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectAccount, errorCodeLookup, err)
	}
	balance, err := storefront.NewAmountCents(account.BalanceCents)
	if err != nil {
		return 0, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return balance, nil
}

func (store *Store) DebitIfSufficient(ctx context.Context, buyerID storefront.BuyerID, amount storefront.AmountCents) (bool, error) {
	result := store.db.WithContext(ctx).
		Model(&BuyerAccount{}).
		Where("buyer_id = ? AND balance_cents >= ?", buyerID.String(), amount.Int64()).
		Update("balance_cents", gorm.Expr("balance_cents - ?", amount.Int64()))
	if result.Error != nil {
		return false, wrapStoreError(errorSubjectAccount, errorCodeDebit, result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (store *Store) CreditBalance(ctx context.Context, buyerID storefront.BuyerID, amount storefront.AmountCents) error {
	account := BuyerAccount{BuyerID: buyerID.String(), BalanceCents: amount.Int64()}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "buyer_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"balance_cents": gorm.Expr("buyer_accounts.balance_cents + excluded.balance_cents"),
				"updated_at":    time.Now().UTC(),
			}),
		}).
		Create(&account).Error
	if err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeCredit, err)
	}
	return nil
}

func (store *Store) InsertItem(ctx context.Context, input storefront.ItemInput) (int64, error) {
	item := StockItem{
		Category:   input.Category.String(),
		Credential: input.Credential.String(),
		CreatedAt:  time.Now().UTC(),
	}
	for _, mode := range storefront.AccessModes() {
		offer, found := input.Offers[mode]
		if !found {
			continue
		}
		item.Offers = append(item.Offers, StockOffer{
			Mode:       mode.String(),
			PriceCents: offer.PriceCents.Int64(),
			Capacity:   offer.Capacity,
		})
	}
	if err := store.db.WithContext(ctx).Create(&item).Error; err != nil {
		return 0, wrapStoreError(errorSubjectItem, errorCodeInsert, err)
	}
	return item.ItemID, nil
}

func (store *Store) FirstEligibleItem(ctx context.Context, category storefront.Category, mode storefront.AccessMode) (storefront.StockItem, error) {
	var row struct {
		ItemID int64
	}
	result := store.db.WithContext(ctx).
		Model(&StockItem{}).
		Select("stock_items.item_id").
		Joins("JOIN stock_offers ON stock_offers.item_id = stock_items.item_id").
		Where("stock_items.category = ?", category.String()).
		Where("stock_items.fully_depleted = ?", false).
		Where("(stock_items.chosen_mode IS NULL OR stock_items.chosen_mode = ?)", mode.String()).
		Where("stock_offers.mode = ?", mode.String()).
		Where("stock_offers.used < stock_offers.capacity").
		Order("stock_items.item_id ASC").
		Limit(1).
		Scan(&row)
	if result.Error != nil {
		return storefront.StockItem{}, wrapStoreError(errorSubjectItem, errorCodeLookup, result.Error)
	}
	if result.RowsAffected == 0 {
		return storefront.StockItem{}, wrapStoreError(errorSubjectItem, errorCodeLookup, storefront.ErrNoStock)
	}
	return store.getItem(ctx, row.ItemID)
}

func (store *Store) getItem(ctx context.Context, itemID int64) (storefront.StockItem, error) {
	var model StockItem
	err := store.db.WithContext(ctx).Preload("Offers").Take(&model, "item_id = ?", itemID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return storefront.StockItem{}, wrapStoreError(errorSubjectItem, errorCodeGet, storefront.ErrUnknownItem)
		}
		return storefront.StockItem{}, wrapStoreError(errorSubjectItem, errorCodeGet, err)
	}
	item, err := mapStockItem(model)
	if err != nil {
		return storefront.StockItem{}, wrapStoreError(errorSubjectItem, errorCodeInvalid, err)
	}
	return item, nil
}

// ReserveUnit pins the item and consumes one seat with conditional updates.
// Any statement matching zero rows means another transaction won the unit or
// re-pinned the item since selection, which callers handle by re-selecting.
func (store *Store) ReserveUnit(ctx context.Context, itemID int64, mode storefront.AccessMode) error {
	pin := store.db.WithContext(ctx).
		Model(&StockItem{}).
		Where("item_id = ? AND fully_depleted = ?", itemID, false).
		Where("(chosen_mode IS NULL OR chosen_mode = ?)", mode.String()).
		Update("chosen_mode", mode.String())
	if pin.Error != nil {
		return wrapStoreError(errorSubjectItem, errorCodeReserve, pin.Error)
	}
	if pin.RowsAffected == 0 {
		return wrapStoreError(errorSubjectItem, errorCodeReserve, storefront.ErrReservationConflict)
	}

	increment := store.db.WithContext(ctx).
		Model(&StockOffer{}).
		Where("item_id = ? AND mode = ? AND used < capacity", itemID, mode.String()).
		Update("used", gorm.Expr("used + 1"))
	if increment.Error != nil {
		return wrapStoreError(errorSubjectOffer, errorCodeReserve, increment.Error)
	}
	if increment.RowsAffected == 0 {
		return wrapStoreError(errorSubjectOffer, errorCodeReserve, storefront.ErrReservationConflict)
	}

	deplete := store.db.WithContext(ctx).
		Model(&StockItem{}).
		Where("item_id = ?", itemID).
		Where("EXISTS (SELECT 1 FROM stock_offers WHERE stock_offers.item_id = ? AND stock_offers.mode = ? AND stock_offers.used >= stock_offers.capacity)", itemID, mode.String()).
		Update("fully_depleted", true)
	if deplete.Error != nil {
		return wrapStoreError(errorSubjectItem, errorCodeReserve, deplete.Error)
	}
	return nil
}

func (store *Store) ReleaseUnit(ctx context.Context, itemID int64, mode storefront.AccessMode) error {
	decrement := store.db.WithContext(ctx).
		Model(&StockOffer{}).
		Where("item_id = ? AND mode = ? AND used > 0", itemID, mode.String()).
		Update("used", gorm.Expr("used - 1"))
	if decrement.Error != nil {
		return wrapStoreError(errorSubjectOffer, errorCodeRelease, decrement.Error)
	}
	if decrement.RowsAffected == 0 {
		return wrapStoreError(errorSubjectOffer, errorCodeRelease, storefront.ErrUnknownItem)
	}

	undeplete := store.db.WithContext(ctx).
		Model(&StockItem{}).
		Where("item_id = ?", itemID).
		Update("fully_depleted", false)
	if undeplete.Error != nil {
		return wrapStoreError(errorSubjectItem, errorCodeRelease, undeplete.Error)
	}

	unpin := store.db.WithContext(ctx).
		Model(&StockItem{}).
		Where("item_id = ? AND chosen_mode = ?", itemID, mode.String()).
		Where("NOT EXISTS (SELECT 1 FROM stock_offers WHERE stock_offers.item_id = ? AND stock_offers.used > 0)", itemID).
		Update("chosen_mode", nil)
	if unpin.Error != nil {
		return wrapStoreError(errorSubjectItem, errorCodeRelease, unpin.Error)
	}
	return nil
}

func (store *Store) ListItems(ctx context.Context, category storefront.Category, limit int) ([]storefront.StockItem, error) {
	var rows []StockItem
	err := store.db.WithContext(ctx).
		Preload("Offers").
		Where("category = ?", category.String()).
		Order("item_id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectItem, errorCodeList, err)
	}
	items := make([]storefront.StockItem, 0, len(rows))
	for _, row := range rows {
		item, err := mapStockItem(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectItem, errorCodeInvalid, err)
		}
		items = append(items, item)
	}
	return items, nil
}

func (store *Store) DeleteCategory(ctx context.Context, category storefront.Category) (int64, error) {
	err := store.db.WithContext(ctx).
		Where("item_id IN (?)", store.db.Model(&StockItem{}).Select("item_id").Where("category = ?", category.String())).
		Delete(&StockOffer{}).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectOffer, errorCodeDelete, err)
	}
	result := store.db.WithContext(ctx).
		Where("category = ?", category.String()).
		Delete(&StockItem{})
	if result.Error != nil {
		return 0, wrapStoreError(errorSubjectItem, errorCodeDelete, result.Error)
	}
	return result.RowsAffected, nil
}

func (store *Store) CategorySummaries(ctx context.Context) ([]storefront.CategorySummary, error) {
	var rows []struct {
		Category       string
		AvailableItems int64
	}
	err := store.db.WithContext(ctx).
		Model(&StockItem{}).
		Select("stock_items.category AS category, COUNT(DISTINCT stock_items.item_id) AS available_items").
		Joins("JOIN stock_offers ON stock_offers.item_id = stock_items.item_id").
		Where("stock_items.fully_depleted = ?", false).
		Where("(stock_items.chosen_mode IS NULL OR stock_items.chosen_mode = stock_offers.mode)").
		Where("stock_offers.used < stock_offers.capacity").
		Group("stock_items.category").
		Order("stock_items.category ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectItem, errorCodeList, err)
	}
	summaries := make([]storefront.CategorySummary, 0, len(rows))
	for _, row := range rows {
		category, err := storefront.NewCategory(row.Category)
		if err != nil {
			return nil, wrapStoreError(errorSubjectItem, errorCodeInvalid, err)
		}
		summaries = append(summaries, storefront.CategorySummary{Category: category, AvailableItems: row.AvailableItems})
	}
	return summaries, nil
}

func (store *Store) ModeSummaries(ctx context.Context, category storefront.Category) ([]storefront.ModeSummary, error) {
	var rows []struct {
		Mode           string
		AvailableItems int64
		MinPriceCents  int64
	}
	err := store.db.WithContext(ctx).
		Model(&StockOffer{}).
		Select("stock_offers.mode AS mode, COUNT(*) AS available_items, MIN(stock_offers.price_cents) AS min_price_cents").
		Joins("JOIN stock_items ON stock_items.item_id = stock_offers.item_id").
		Where("stock_items.category = ?", category.String()).
		Where("stock_items.fully_depleted = ?", false).
		Where("(stock_items.chosen_mode IS NULL OR stock_items.chosen_mode = stock_offers.mode)").
		Where("stock_offers.used < stock_offers.capacity").
		Group("stock_offers.mode").
		Scan(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectOffer, errorCodeList, err)
	}
	byMode := make(map[storefront.AccessMode]storefront.ModeSummary, len(rows))
	for _, row := range rows {
		mode, err := storefront.ParseAccessMode(row.Mode)
		if err != nil {
			return nil, wrapStoreError(errorSubjectOffer, errorCodeInvalid, err)
		}
		minPrice, err := storefront.NewPositiveAmountCents(row.MinPriceCents)
		if err != nil {
			return nil, wrapStoreError(errorSubjectOffer, errorCodeInvalid, err)
		}
		byMode[mode] = storefront.ModeSummary{Mode: mode, AvailableItems: row.AvailableItems, MinPriceCents: minPrice}
	}
	summaries := make([]storefront.ModeSummary, 0, len(byMode))
	for _, mode := range storefront.AccessModes() {
		if summary, found := byMode[mode]; found {
			summaries = append(summaries, summary)
		}
	}
	return summaries, nil
}

func (store *Store) AppendSale(ctx context.Context, sale storefront.SaleRecord) error {
	model := Sale{
		BuyerID:         sale.BuyerID.String(),
		ItemID:          sale.ItemID,
		Category:        sale.Category.String(),
		Credential:      sale.Credential.String(),
		PriceCents:      sale.PricePaidCents.Int64(),
		Mode:            sale.Mode.String(),
		MerchantOrderID: sale.MerchantOrderID.String(),
		CreatedAt:       time.Unix(sale.CreatedUnixUTC, 0).UTC(),
	}
	if sale.CreatedUnixUTC == 0 {
		model.CreatedAt = time.Now().UTC()
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectSale, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) RecentSales(ctx context.Context, limit int) ([]storefront.SaleRecord, error) {
	var rows []Sale
	err := store.db.WithContext(ctx).
		Order("created_at DESC, sale_id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectSale, errorCodeList, err)
	}
	sales := make([]storefront.SaleRecord, 0, len(rows))
	for _, row := range rows {
		sale, err := mapSale(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectSale, errorCodeInvalid, err)
		}
		sales = append(sales, sale)
	}
	return sales, nil
}

func (store *Store) SaleByOrder(ctx context.Context, merchantOrderID storefront.MerchantOrderID) (storefront.SaleRecord, error) {
	var model Sale
	err := store.db.WithContext(ctx).
		Where("merchant_order_id = ?", merchantOrderID.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return storefront.SaleRecord{}, wrapStoreError(errorSubjectSale, errorCodeGet, storefront.ErrUnknownSale)
		}
		return storefront.SaleRecord{}, wrapStoreError(errorSubjectSale, errorCodeGet, err)
	}
	sale, err := mapSale(model)
	if err != nil {
		return storefront.SaleRecord{}, wrapStoreError(errorSubjectSale, errorCodeInvalid, err)
	}
	return sale, nil
}

func (store *Store) CreateOrder(ctx context.Context, order storefront.PendingOrder) error {
	model := PaymentOrder{
		MerchantOrderID: order.MerchantOrderID.String(),
		Kind:            order.Kind.String(),
		BuyerID:         order.BuyerID.String(),
		Category:        order.Category.String(),
		Mode:            order.Mode.String(),
		AmountCents:     order.AmountCents.Int64(),
		Status:          order.Status.String(),
		PaymentURL:      order.PaymentURL,
		Metadata:        datatypesJSON(order.Metadata.String()),
		CreatedAt:       time.Unix(order.CreatedUnixUTC, 0).UTC(),
	}
	if order.CreatedUnixUTC == 0 {
		model.CreatedAt = time.Now().UTC()
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isOrderConflict(err) {
		return wrapStoreError(errorSubjectOrder, errorCodeDuplicate, storefront.ErrOrderExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectOrder, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetOrder(ctx context.Context, merchantOrderID storefront.MerchantOrderID) (storefront.PendingOrder, error) {
	return store.fetchOrder(ctx, merchantOrderID, false)
}

func (store *Store) GetOrderForUpdate(ctx context.Context, merchantOrderID storefront.MerchantOrderID) (storefront.PendingOrder, error) {
	return store.fetchOrder(ctx, merchantOrderID, true)
}

func (store *Store) fetchOrder(ctx context.Context, merchantOrderID storefront.MerchantOrderID, forUpdate bool) (storefront.PendingOrder, error) {
	query := store.db.WithContext(ctx)
	if forUpdate {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var model PaymentOrder
	err := query.Where("merchant_order_id = ?", merchantOrderID.String()).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return storefront.PendingOrder{}, wrapStoreError(errorSubjectOrder, errorCodeGet, storefront.ErrUnknownOrder)
		}
		return storefront.PendingOrder{}, wrapStoreError(errorSubjectOrder, errorCodeGet, err)
	}
	order, err := mapPaymentOrder(model)
	if err != nil {
		return storefront.PendingOrder{}, wrapStoreError(errorSubjectOrder, errorCodeInvalid, err)
	}
	return order, nil
}

func (store *Store) SetOrderStatus(ctx context.Context, merchantOrderID storefront.MerchantOrderID, from storefront.OrderStatus, to storefront.OrderStatus) error {
	result := store.db.WithContext(ctx).
		Model(&PaymentOrder{}).
		Where("merchant_order_id = ? AND status = ?", merchantOrderID.String(), from.String()).
		Update("status", to.String())
	if result.Error != nil {
		return wrapStoreError(errorSubjectOrder, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectOrder, errorCodeUpdateStatus, storefront.ErrOrderClosed)
	}
	return nil
}

func (store *Store) UpsertInstruction(ctx context.Context, instruction storefront.Instruction) error {
	model := InstructionRow{
		Category:  instruction.Category.String(),
		Mode:      instruction.Mode.String(),
		Message:   instruction.Message,
		UpdatedAt: time.Now().UTC(),
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "category"}, {Name: "mode"}},
			DoUpdates: clause.AssignmentColumns([]string{"message", "updated_at"}),
		}).
		Create(&model).Error
	if err != nil {
		return wrapStoreError(errorSubjectInstruction, errorCodeUpsert, err)
	}
	return nil
}

func (store *Store) GetInstruction(ctx context.Context, category storefront.Category, mode storefront.AccessMode) (storefront.Instruction, error) {
	var model InstructionRow
	err := store.db.WithContext(ctx).
		Where("category = ? AND mode = ?", category.String(), mode.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return storefront.Instruction{}, wrapStoreError(errorSubjectInstruction, errorCodeGet, storefront.ErrInstructionNotFound)
		}
		return storefront.Instruction{}, wrapStoreError(errorSubjectInstruction, errorCodeGet, err)
	}
	instruction, err := mapInstruction(model)
	if err != nil {
		return storefront.Instruction{}, wrapStoreError(errorSubjectInstruction, errorCodeInvalid, err)
	}
	return instruction, nil
}

func (store *Store) DeleteInstruction(ctx context.Context, category storefront.Category, mode storefront.AccessMode) error {
	result := store.db.WithContext(ctx).
		Where("category = ? AND mode = ?", category.String(), mode.String()).
		Delete(&InstructionRow{})
	if result.Error != nil {
		return wrapStoreError(errorSubjectInstruction, errorCodeDelete, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectInstruction, errorCodeDelete, storefront.ErrInstructionNotFound)
	}
	return nil
}

func (store *Store) ListInstructions(ctx context.Context) ([]storefront.Instruction, error) {
	var rows []InstructionRow
	err := store.db.WithContext(ctx).
		Order("category ASC, mode ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectInstruction, errorCodeList, err)
	}
	instructions := make([]storefront.Instruction, 0, len(rows))
	for _, row := range rows {
		instruction, err := mapInstruction(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectInstruction, errorCodeInvalid, err)
		}
		instructions = append(instructions, instruction)
	}
	return instructions, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return storefront.WrapError(errorOperationStore, subject, code, err)
}

func mapStockItem(model StockItem) (storefront.StockItem, error) {
	category, err := storefront.NewCategory(model.Category)
	if err != nil {
		return storefront.StockItem{}, err
	}
	credential, err := storefront.NewCredential(model.Credential)
	if err != nil {
		return storefront.StockItem{}, err
	}
	var chosenMode *storefront.AccessMode
	if model.ChosenMode != nil {
		parsed, err := storefront.ParseAccessMode(*model.ChosenMode)
		if err != nil {
			return storefront.StockItem{}, err
		}
		chosenMode = &parsed
	}
	offers := make(map[storefront.AccessMode]storefront.Offer, len(model.Offers))
	for _, offerModel := range model.Offers {
		mode, err := storefront.ParseAccessMode(offerModel.Mode)
		if err != nil {
			return storefront.StockItem{}, err
		}
		price, err := storefront.NewPositiveAmountCents(offerModel.PriceCents)
		if err != nil {
			return storefront.StockItem{}, err
		}
		offers[mode] = storefront.Offer{
			PriceCents: price,
			Capacity:   offerModel.Capacity,
			Used:       offerModel.Used,
		}
	}
	return storefront.StockItem{
		ItemID:        model.ItemID,
		Category:      category,
		Credential:    credential,
		ChosenMode:    chosenMode,
		FullyDepleted: model.FullyDepleted,
		Offers:        offers,
	}, nil
}

func mapSale(model Sale) (storefront.SaleRecord, error) {
	buyerID, err := storefront.NewBuyerID(model.BuyerID)
	if err != nil {
		return storefront.SaleRecord{}, err
	}
	category, err := storefront.NewCategory(model.Category)
	if err != nil {
		return storefront.SaleRecord{}, err
	}
	credential, err := storefront.NewCredential(model.Credential)
	if err != nil {
		return storefront.SaleRecord{}, err
	}
	price, err := storefront.NewPositiveAmountCents(model.PriceCents)
	if err != nil {
		return storefront.SaleRecord{}, err
	}
	mode, err := storefront.ParseAccessMode(model.Mode)
	if err != nil {
		return storefront.SaleRecord{}, err
	}
	var merchantOrderID storefront.MerchantOrderID
	if model.MerchantOrderID != "" {
		merchantOrderID, err = storefront.NewMerchantOrderID(model.MerchantOrderID)
		if err != nil {
			return storefront.SaleRecord{}, err
		}
	}
	return storefront.SaleRecord{
		SaleID:          model.SaleID,
		BuyerID:         buyerID,
		ItemID:          model.ItemID,
		Category:        category,
		Credential:      credential,
		PricePaidCents:  price,
		Mode:            mode,
		MerchantOrderID: merchantOrderID,
		CreatedUnixUTC:  model.CreatedAt.Unix(),
	}, nil
}

func mapPaymentOrder(model PaymentOrder) (storefront.PendingOrder, error) {
	merchantOrderID, err := storefront.NewMerchantOrderID(model.MerchantOrderID)
	if err != nil {
		return storefront.PendingOrder{}, err
	}
	kind, err := storefront.ParseOrderKind(model.Kind)
	if err != nil {
		return storefront.PendingOrder{}, err
	}
	buyerID, err := storefront.NewBuyerID(model.BuyerID)
	if err != nil {
		return storefront.PendingOrder{}, err
	}
	status, err := storefront.ParseOrderStatus(model.Status)
	if err != nil {
		return storefront.PendingOrder{}, err
	}
	amount, err := storefront.NewPositiveAmountCents(model.AmountCents)
	if err != nil {
		return storefront.PendingOrder{}, err
	}
	metadata, err := storefront.NewMetadataJSON(string(model.Metadata))
	if err != nil {
		return storefront.PendingOrder{}, err
	}
	var category storefront.Category
	var mode storefront.AccessMode
	if kind == storefront.OrderKindPurchase {
		category, err = storefront.NewCategory(model.Category)
		if err != nil {
			return storefront.PendingOrder{}, err
		}
		mode, err = storefront.ParseAccessMode(model.Mode)
		if err != nil {
			return storefront.PendingOrder{}, err
		}
	}
	return storefront.PendingOrder{
		MerchantOrderID: merchantOrderID,
		Kind:            kind,
		BuyerID:         buyerID,
		Category:        category,
		Mode:            mode,
		AmountCents:     amount,
		Status:          status,
		PaymentURL:      model.PaymentURL,
		Metadata:        metadata,
		CreatedUnixUTC:  model.CreatedAt.Unix(),
	}, nil
}

func mapInstruction(model InstructionRow) (storefront.Instruction, error) {
	category, err := storefront.NewCategory(model.Category)
	if err != nil {
		return storefront.Instruction{}, err
	}
	mode, err := storefront.ParseAccessMode(model.Mode)
	if err != nil {
		return storefront.Instruction{}, err
	}
	return storefront.Instruction{Category: category, Mode: mode, Message: model.Message}, nil
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func isOrderConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintOrderPrimary
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
