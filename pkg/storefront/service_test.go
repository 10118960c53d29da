package storefront

import (
	"context"
	"sort"
	"testing"
)

const testClockUnixUTC int64 = 1_700_000_000

func testClock() int64 {
	return testClockUnixUTC
}

// stubStore is an in-memory Store with the same conditional-mutation
// semantics as the real one. WithTx snapshots state and restores it when the
// transaction function fails, mirroring a rollback.
type stubStore struct {
	balances     map[string]int64
	items        map[int64]*StockItem
	itemOrder    []int64
	nextItemID   int64
	sales        []SaleRecord
	nextSaleID   int64
	orders       map[string]PendingOrder
	instructions map[string]Instruction

	conflictsToInject int
	reserveCalls      int
	debitErr          error
	appendSaleErr     error
}

func newStubStore() *stubStore {
	return &stubStore{
		balances:     make(map[string]int64),
		items:        make(map[int64]*StockItem),
		orders:       make(map[string]PendingOrder),
		instructions: make(map[string]Instruction),
	}
}

type stubSnapshot struct {
	balances     map[string]int64
	items        map[int64]*StockItem
	itemOrder    []int64
	nextItemID   int64
	sales        []SaleRecord
	nextSaleID   int64
	orders       map[string]PendingOrder
	instructions map[string]Instruction
}

func (stub *stubStore) snapshot() stubSnapshot {
	balances := make(map[string]int64, len(stub.balances))
	for key, value := range stub.balances {
		balances[key] = value
	}
	items := make(map[int64]*StockItem, len(stub.items))
	for key, value := range stub.items {
		copied := copyItem(*value)
		items[key] = &copied
	}
	orders := make(map[string]PendingOrder, len(stub.orders))
	for key, value := range stub.orders {
		orders[key] = value
	}
	instructions := make(map[string]Instruction, len(stub.instructions))
	for key, value := range stub.instructions {
		instructions[key] = value
	}
	return stubSnapshot{
		balances:     balances,
		items:        items,
		itemOrder:    append([]int64(nil), stub.itemOrder...),
		nextItemID:   stub.nextItemID,
		sales:        append([]SaleRecord(nil), stub.sales...),
		nextSaleID:   stub.nextSaleID,
		orders:       orders,
		instructions: instructions,
	}
}

func (stub *stubStore) restore(saved stubSnapshot) {
	stub.balances = saved.balances
	stub.items = saved.items
	stub.itemOrder = saved.itemOrder
	stub.nextItemID = saved.nextItemID
	stub.sales = saved.sales
	stub.nextSaleID = saved.nextSaleID
	stub.orders = saved.orders
	stub.instructions = saved.instructions
}

func copyItem(item StockItem) StockItem {
	copied := item
	if item.ChosenMode != nil {
		mode := *item.ChosenMode
		copied.ChosenMode = &mode
	}
	copied.Offers = make(map[AccessMode]Offer, len(item.Offers))
	for mode, offer := range item.Offers {
		copied.Offers[mode] = offer
	}
	return copied
}

func (stub *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	saved := stub.snapshot()
	if err := fn(ctx, stub); err != nil {
		stub.restore(saved)
		return err
	}
	return nil
}

func (stub *stubStore) EnsureAccount(_ context.Context, buyerID BuyerID) (AmountCents, error) {
	if _, found := stub.balances[buyerID.String()]; !found {
		stub.balances[buyerID.String()] = 0
	}
	return NewAmountCents(stub.balances[buyerID.String()])
}

func (stub *stubStore) DebitIfSufficient(_ context.Context, buyerID BuyerID, amount AmountCents) (bool, error) {
	if stub.debitErr != nil {
		return false, stub.debitErr
	}
	balance := stub.balances[buyerID.String()]
	if balance < amount.Int64() {
		return false, nil
	}
	stub.balances[buyerID.String()] = balance - amount.Int64()
	return true, nil
}

func (stub *stubStore) CreditBalance(_ context.Context, buyerID BuyerID, amount AmountCents) error {
	stub.balances[buyerID.String()] += amount.Int64()
	return nil
}

func (stub *stubStore) InsertItem(_ context.Context, input ItemInput) (int64, error) {
	stub.nextItemID++
	offers := make(map[AccessMode]Offer, len(input.Offers))
	for mode, offer := range input.Offers {
		offers[mode] = Offer{PriceCents: offer.PriceCents, Capacity: offer.Capacity}
	}
	item := &StockItem{
		ItemID:     stub.nextItemID,
		Category:   input.Category,
		Credential: input.Credential,
		Offers:     offers,
	}
	stub.items[item.ItemID] = item
	stub.itemOrder = append(stub.itemOrder, item.ItemID)
	return item.ItemID, nil
}

func (stub *stubStore) FirstEligibleItem(_ context.Context, category Category, mode AccessMode) (StockItem, error) {
	for _, itemID := range stub.itemOrder {
		item, found := stub.items[itemID]
		if !found || item.Category != category {
			continue
		}
		if item.EligibleFor(mode) {
			return copyItem(*item), nil
		}
	}
	return StockItem{}, ErrNoStock
}

func (stub *stubStore) ReserveUnit(_ context.Context, itemID int64, mode AccessMode) error {
	stub.reserveCalls++
	if stub.conflictsToInject > 0 {
		stub.conflictsToInject--
		return ErrReservationConflict
	}
	item, found := stub.items[itemID]
	if !found {
		return ErrUnknownItem
	}
	if item.FullyDepleted || (item.ChosenMode != nil && *item.ChosenMode != mode) {
		return ErrReservationConflict
	}
	offer, found := item.Offers[mode]
	if !found || offer.Used >= offer.Capacity {
		return ErrReservationConflict
	}
	pinned := mode
	item.ChosenMode = &pinned
	offer.Used++
	item.Offers[mode] = offer
	if offer.Used >= offer.Capacity {
		item.FullyDepleted = true
	}
	return nil
}

func (stub *stubStore) ReleaseUnit(_ context.Context, itemID int64, mode AccessMode) error {
	item, found := stub.items[itemID]
	if !found {
		return ErrUnknownItem
	}
	offer, found := item.Offers[mode]
	if !found || offer.Used <= 0 {
		return ErrUnknownItem
	}
	offer.Used--
	item.Offers[mode] = offer
	item.FullyDepleted = false
	if offer.Used == 0 && item.ChosenMode != nil && *item.ChosenMode == mode {
		anyUsed := false
		for _, other := range item.Offers {
			if other.Used > 0 {
				anyUsed = true
			}
		}
		if !anyUsed {
			item.ChosenMode = nil
		}
	}
	return nil
}

func (stub *stubStore) ListItems(_ context.Context, category Category, limit int) ([]StockItem, error) {
	listed := make([]StockItem, 0)
	for _, itemID := range stub.itemOrder {
		if len(listed) >= limit {
			break
		}
		item, found := stub.items[itemID]
		if !found || item.Category != category {
			continue
		}
		listed = append(listed, copyItem(*item))
	}
	return listed, nil
}

func (stub *stubStore) DeleteCategory(_ context.Context, category Category) (int64, error) {
	var removed int64
	kept := make([]int64, 0, len(stub.itemOrder))
	for _, itemID := range stub.itemOrder {
		item, found := stub.items[itemID]
		if found && item.Category == category {
			delete(stub.items, itemID)
			removed++
			continue
		}
		kept = append(kept, itemID)
	}
	stub.itemOrder = kept
	return removed, nil
}

func (stub *stubStore) CategorySummaries(_ context.Context) ([]CategorySummary, error) {
	counts := make(map[string]int64)
	for _, item := range stub.items {
		for _, mode := range AccessModes() {
			if item.EligibleFor(mode) {
				counts[item.Category.String()]++
				break
			}
		}
	}
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)
	summaries := make([]CategorySummary, 0, len(names))
	for _, name := range names {
		category, err := NewCategory(name)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, CategorySummary{Category: category, AvailableItems: counts[name]})
	}
	return summaries, nil
}

func (stub *stubStore) ModeSummaries(_ context.Context, category Category) ([]ModeSummary, error) {
	summaries := make([]ModeSummary, 0)
	for _, mode := range AccessModes() {
		var available int64
		var minPrice AmountCents
		for _, item := range stub.items {
			if item.Category != category || !item.EligibleFor(mode) {
				continue
			}
			offer := item.Offers[mode]
			available++
			if minPrice == 0 || offer.PriceCents < minPrice {
				minPrice = offer.PriceCents
			}
		}
		if available > 0 {
			summaries = append(summaries, ModeSummary{Mode: mode, AvailableItems: available, MinPriceCents: minPrice})
		}
	}
	return summaries, nil
}

func (stub *stubStore) AppendSale(_ context.Context, sale SaleRecord) error {
	if stub.appendSaleErr != nil {
		return stub.appendSaleErr
	}
	stub.nextSaleID++
	sale.SaleID = stub.nextSaleID
	stub.sales = append(stub.sales, sale)
	return nil
}

func (stub *stubStore) RecentSales(_ context.Context, limit int) ([]SaleRecord, error) {
	recent := make([]SaleRecord, 0, limit)
	for position := len(stub.sales) - 1; position >= 0 && len(recent) < limit; position-- {
		recent = append(recent, stub.sales[position])
	}
	return recent, nil
}

func (stub *stubStore) SaleByOrder(_ context.Context, merchantOrderID MerchantOrderID) (SaleRecord, error) {
	for _, sale := range stub.sales {
		if sale.MerchantOrderID == merchantOrderID {
			return sale, nil
		}
	}
	return SaleRecord{}, ErrUnknownSale
}

func (stub *stubStore) CreateOrder(_ context.Context, order PendingOrder) error {
	if _, found := stub.orders[order.MerchantOrderID.String()]; found {
		return ErrOrderExists
	}
	stub.orders[order.MerchantOrderID.String()] = order
	return nil
}

func (stub *stubStore) GetOrder(_ context.Context, merchantOrderID MerchantOrderID) (PendingOrder, error) {
	order, found := stub.orders[merchantOrderID.String()]
	if !found {
		return PendingOrder{}, ErrUnknownOrder
	}
	return order, nil
}

func (stub *stubStore) GetOrderForUpdate(ctx context.Context, merchantOrderID MerchantOrderID) (PendingOrder, error) {
	return stub.GetOrder(ctx, merchantOrderID)
}

func (stub *stubStore) SetOrderStatus(_ context.Context, merchantOrderID MerchantOrderID, from OrderStatus, to OrderStatus) error {
	order, found := stub.orders[merchantOrderID.String()]
	if !found || order.Status != from {
		return ErrOrderClosed
	}
	order.Status = to
	stub.orders[merchantOrderID.String()] = order
	return nil
}

func (stub *stubStore) UpsertInstruction(_ context.Context, instruction Instruction) error {
	stub.instructions[instructionKey(instruction.Category, instruction.Mode)] = instruction
	return nil
}

func (stub *stubStore) GetInstruction(_ context.Context, category Category, mode AccessMode) (Instruction, error) {
	instruction, found := stub.instructions[instructionKey(category, mode)]
	if !found {
		return Instruction{}, ErrInstructionNotFound
	}
	return instruction, nil
}

func (stub *stubStore) DeleteInstruction(_ context.Context, category Category, mode AccessMode) error {
	if _, found := stub.instructions[instructionKey(category, mode)]; !found {
		return ErrInstructionNotFound
	}
	delete(stub.instructions, instructionKey(category, mode))
	return nil
}

func (stub *stubStore) ListInstructions(_ context.Context) ([]Instruction, error) {
	keys := make([]string, 0, len(stub.instructions))
	for key := range stub.instructions {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	listed := make([]Instruction, 0, len(keys))
	for _, key := range keys {
		listed = append(listed, stub.instructions[key])
	}
	return listed, nil
}

func instructionKey(category Category, mode AccessMode) string {
	return category.String() + "|" + mode.String()
}

func mustNewService(test *testing.T, store Store, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, testClock, options...)
	if err != nil {
		test.Fatalf("NewService: %v", err)
	}
	return service
}

func mustBuyerID(test *testing.T, raw string) BuyerID {
	test.Helper()
	buyerID, err := NewBuyerID(raw)
	if err != nil {
		test.Fatalf("NewBuyerID(%q): %v", raw, err)
	}
	return buyerID
}

func mustCategory(test *testing.T, raw string) Category {
	test.Helper()
	category, err := NewCategory(raw)
	if err != nil {
		test.Fatalf("NewCategory(%q): %v", raw, err)
	}
	return category
}

func mustCredential(test *testing.T, raw string) Credential {
	test.Helper()
	credential, err := NewCredential(raw)
	if err != nil {
		test.Fatalf("NewCredential(%q): %v", raw, err)
	}
	return credential
}

func mustOfferInput(test *testing.T, priceCents int64, capacity int64) OfferInput {
	test.Helper()
	offer, err := NewOfferInput(priceCents, capacity)
	if err != nil {
		test.Fatalf("NewOfferInput(%d, %d): %v", priceCents, capacity, err)
	}
	return offer
}

func seedItem(test *testing.T, stub *stubStore, category string, credential string, offers map[AccessMode]OfferInput) int64 {
	test.Helper()
	input, err := NewItemInput(mustCategory(test, category), mustCredential(test, credential), offers)
	if err != nil {
		test.Fatalf("NewItemInput: %v", err)
	}
	itemID, err := stub.InsertItem(context.Background(), input)
	if err != nil {
		test.Fatalf("InsertItem: %v", err)
	}
	return itemID
}

func seedBalance(stub *stubStore, buyerID BuyerID, balanceCents int64) {
	stub.balances[buyerID.String()] = balanceCents
}

func itemState(test *testing.T, stub *stubStore, itemID int64) StockItem {
	test.Helper()
	item, found := stub.items[itemID]
	if !found {
		test.Fatalf("item %d not found", itemID)
	}
	return copyItem(*item)
}

func TestNewServiceValidation(test *testing.T) {
	test.Parallel()

	if _, err := NewService(nil, testClock); err == nil {
		test.Fatal("expected error for nil store")
	}
	if _, err := NewService(newStubStore(), nil); err == nil {
		test.Fatal("expected error for nil clock")
	}
	if _, err := NewService(newStubStore(), testClock, WithReservationRetryLimit(0)); err == nil {
		test.Fatal("expected error for non-positive retry limit")
	}
	if _, err := NewService(newStubStore(), testClock, nil); err != nil {
		test.Fatalf("nil option should be ignored: %v", err)
	}
}

func TestBalanceCreatesAccountOnFirstReference(test *testing.T) {
	test.Parallel()

	stub := newStubStore()
	service := mustNewService(test, stub)
	buyerID := mustBuyerID(test, "buyer-1")

	balance, err := service.Balance(context.Background(), buyerID)
	if err != nil {
		test.Fatalf("Balance: %v", err)
	}
	if balance.Int64() != 0 {
		test.Fatalf("expected zero opening balance, got %d", balance.Int64())
	}
	if _, found := stub.balances[buyerID.String()]; !found {
		test.Fatal("expected account row to exist after first reference")
	}
}

func TestCreditIncreasesBalance(test *testing.T) {
	test.Parallel()

	stub := newStubStore()
	service := mustNewService(test, stub)
	buyerID := mustBuyerID(test, "buyer-1")

	amount, err := NewPositiveAmountCents(2_500)
	if err != nil {
		test.Fatalf("NewPositiveAmountCents: %v", err)
	}
	if err := service.Credit(context.Background(), buyerID, amount); err != nil {
		test.Fatalf("Credit: %v", err)
	}
	if got := stub.balances[buyerID.String()]; got != 2_500 {
		test.Fatalf("expected balance 2500, got %d", got)
	}
}
