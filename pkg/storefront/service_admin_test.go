package storefront

import (
	"context"
	"errors"
	"testing"
)

func TestImportItemsCountsFailures(test *testing.T) {
	test.Parallel()

	stub := newStubStore()
	service := mustNewService(test, stub)

	inputs := make([]ItemInput, 0, 2)
	for _, credential := range []string{"alpha", "beta"} {
		input, err := NewItemInput(mustCategory(test, "vpn"), mustCredential(test, credential), map[AccessMode]OfferInput{
			ModePersonal: mustOfferInput(test, 2_000, 1),
		})
		if err != nil {
			test.Fatalf("NewItemInput: %v", err)
		}
		inputs = append(inputs, input)
	}

	imported, failed := service.ImportItems(context.Background(), inputs)
	if imported != 2 || failed != 0 {
		test.Fatalf("expected 2 imported, got imported=%d failed=%d", imported, failed)
	}
	if len(stub.items) != 2 {
		test.Fatalf("expected 2 stored items, got %d", len(stub.items))
	}
}

func TestClearCategoryRemovesOnlyThatCategory(test *testing.T) {
	test.Parallel()

	stub := newStubStore()
	service := mustNewService(test, stub)
	seedItem(test, stub, "vpn", "alpha", map[AccessMode]OfferInput{ModePersonal: mustOfferInput(test, 2_000, 1)})
	seedItem(test, stub, "vpn", "beta", map[AccessMode]OfferInput{ModePersonal: mustOfferInput(test, 2_000, 1)})
	seedItem(test, stub, "streaming", "gamma", map[AccessMode]OfferInput{ModeShared: mustOfferInput(test, 1_500, 4)})

	removed, err := service.ClearCategory(context.Background(), mustCategory(test, "vpn"))
	if err != nil {
		test.Fatalf("ClearCategory: %v", err)
	}
	if removed != 2 {
		test.Fatalf("expected 2 removed, got %d", removed)
	}
	if len(stub.items) != 1 {
		test.Fatalf("expected streaming item to survive, got %d items", len(stub.items))
	}
}

func TestCategorySummariesSkipDepletedItems(test *testing.T) {
	test.Parallel()

	stub := newStubStore()
	service := mustNewService(test, stub)
	buyerID := mustBuyerID(test, "buyer-1")
	seedBalance(stub, buyerID, 10_000)
	seedItem(test, stub, "vpn", "alpha", map[AccessMode]OfferInput{ModePersonal: mustOfferInput(test, 2_000, 1)})
	seedItem(test, stub, "streaming", "beta", map[AccessMode]OfferInput{ModeShared: mustOfferInput(test, 1_500, 2)})

	if _, err := service.PurchaseWithBalance(context.Background(), buyerID, mustCategory(test, "vpn"), ModePersonal); err != nil {
		test.Fatalf("PurchaseWithBalance: %v", err)
	}

	summaries, err := service.Categories(context.Background())
	if err != nil {
		test.Fatalf("Categories: %v", err)
	}
	if len(summaries) != 1 {
		test.Fatalf("expected one sellable category, got %d", len(summaries))
	}
	if summaries[0].Category.String() != "streaming" || summaries[0].AvailableItems != 1 {
		test.Fatalf("unexpected summary %+v", summaries[0])
	}
}

func TestCategoryModesReportMinimumPrice(test *testing.T) {
	test.Parallel()

	stub := newStubStore()
	service := mustNewService(test, stub)
	seedItem(test, stub, "streaming", "alpha", map[AccessMode]OfferInput{
		ModePersonal: mustOfferInput(test, 4_000, 1),
		ModeShared:   mustOfferInput(test, 1_500, 4),
	})
	seedItem(test, stub, "streaming", "beta", map[AccessMode]OfferInput{
		ModeShared: mustOfferInput(test, 1_200, 4),
	})

	summaries, err := service.CategoryModes(context.Background(), mustCategory(test, "streaming"))
	if err != nil {
		test.Fatalf("CategoryModes: %v", err)
	}
	byMode := make(map[AccessMode]ModeSummary, len(summaries))
	for _, summary := range summaries {
		byMode[summary.Mode] = summary
	}
	if got := byMode[ModePersonal]; got.AvailableItems != 1 || got.MinPriceCents.Int64() != 4_000 {
		test.Fatalf("unexpected personal summary %+v", got)
	}
	if got := byMode[ModeShared]; got.AvailableItems != 2 || got.MinPriceCents.Int64() != 1_200 {
		test.Fatalf("unexpected shared summary %+v", got)
	}
	if _, found := byMode[ModeDeviceBound]; found {
		test.Fatal("device_bound must not appear when no item offers it")
	}
}

func TestRecentSalesClampLimit(test *testing.T) {
	test.Parallel()

	stub := newStubStore()
	service := mustNewService(test, stub)
	buyerID := mustBuyerID(test, "buyer-1")
	for index := int64(0); index < 3; index++ {
		stub.nextSaleID++
		stub.sales = append(stub.sales, SaleRecord{
			SaleID:         stub.nextSaleID,
			BuyerID:        buyerID,
			ItemID:         index + 1,
			CreatedUnixUTC: testClockUnixUTC + index,
		})
	}

	sales, err := service.RecentSales(context.Background(), 2)
	if err != nil {
		test.Fatalf("RecentSales: %v", err)
	}
	if len(sales) != 2 {
		test.Fatalf("expected 2 sales, got %d", len(sales))
	}
	if sales[0].SaleID != 3 || sales[1].SaleID != 2 {
		test.Fatalf("expected newest first, got %+v", sales)
	}

	sales, err = service.RecentSales(context.Background(), 0)
	if err != nil {
		test.Fatalf("RecentSales with default limit: %v", err)
	}
	if len(sales) != 3 {
		test.Fatalf("expected all 3 sales under the default limit, got %d", len(sales))
	}
}

func TestInstructionLifecycle(test *testing.T) {
	test.Parallel()

	stub := newStubStore()
	service := mustNewService(test, stub)
	category := mustCategory(test, "streaming")

	if err := service.SetInstruction(context.Background(), Instruction{Category: category, Mode: ModeShared, Message: "   "}); !errors.Is(err, ErrInvalidInstruction) {
		test.Fatalf("expected ErrInvalidInstruction for blank message, got %v", err)
	}

	stored := Instruction{Category: category, Mode: ModeShared, Message: "one profile per buyer"}
	if err := service.SetInstruction(context.Background(), stored); err != nil {
		test.Fatalf("SetInstruction: %v", err)
	}
	replaced := Instruction{Category: category, Mode: ModeShared, Message: "profiles are assigned by support"}
	if err := service.SetInstruction(context.Background(), replaced); err != nil {
		test.Fatalf("SetInstruction replace: %v", err)
	}

	instruction, err := service.Instruction(context.Background(), category, ModeShared)
	if err != nil {
		test.Fatalf("Instruction: %v", err)
	}
	if instruction.Message != replaced.Message {
		test.Fatalf("expected replacement message, got %q", instruction.Message)
	}

	listed, err := service.Instructions(context.Background())
	if err != nil {
		test.Fatalf("Instructions: %v", err)
	}
	if len(listed) != 1 {
		test.Fatalf("expected one stored instruction, got %d", len(listed))
	}

	if err := service.DeleteInstruction(context.Background(), category, ModeShared); err != nil {
		test.Fatalf("DeleteInstruction: %v", err)
	}
	if _, err := service.Instruction(context.Background(), category, ModeShared); !errors.Is(err, ErrInstructionNotFound) {
		test.Fatalf("expected ErrInstructionNotFound after delete, got %v", err)
	}
	if err := service.DeleteInstruction(context.Background(), category, ModeShared); !errors.Is(err, ErrInstructionNotFound) {
		test.Fatalf("expected ErrInstructionNotFound for repeated delete, got %v", err)
	}
}

func TestItemsListsOldestFirst(test *testing.T) {
	test.Parallel()

	stub := newStubStore()
	service := mustNewService(test, stub)
	seedItem(test, stub, "vpn", "alpha", map[AccessMode]OfferInput{ModePersonal: mustOfferInput(test, 2_000, 1)})
	seedItem(test, stub, "vpn", "beta", map[AccessMode]OfferInput{ModePersonal: mustOfferInput(test, 2_000, 1)})

	items, err := service.Items(context.Background(), mustCategory(test, "vpn"), 10)
	if err != nil {
		test.Fatalf("Items: %v", err)
	}
	if len(items) != 2 {
		test.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].Credential.String() != "alpha" || items[1].Credential.String() != "beta" {
		test.Fatalf("expected insertion order, got %+v", items)
	}
}
