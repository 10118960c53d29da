package storefront

import (
	"context"
	"errors"
	"testing"
)

type recorderLogger struct {
	entries []OperationLog
}

func (recorder *recorderLogger) LogOperation(_ context.Context, entry OperationLog) {
	recorder.entries = append(recorder.entries, entry)
}

type failingStore struct {
	Store
	failure error
}

func (failing *failingStore) WithTx(context.Context, func(ctx context.Context, txStore Store) error) error {
	return failing.failure
}

func TestOperationLogRecordsSuccess(test *testing.T) {
	test.Parallel()

	stub := newStubStore()
	recorder := &recorderLogger{}
	service := mustNewService(test, stub, WithOperationLogger(recorder))
	buyerID := mustBuyerID(test, "buyer-1")
	seedBalance(stub, buyerID, 10_000)
	seedItem(test, stub, "streaming", "user:pass", map[AccessMode]OfferInput{
		ModePersonal: mustOfferInput(test, 4_000, 1),
	})

	if _, err := service.PurchaseWithBalance(context.Background(), buyerID, mustCategory(test, "streaming"), ModePersonal); err != nil {
		test.Fatalf("PurchaseWithBalance: %v", err)
	}
	if len(recorder.entries) != 1 {
		test.Fatalf("expected one log entry, got %d", len(recorder.entries))
	}
	entry := recorder.entries[0]
	if entry.Operation != operationPurchase {
		test.Fatalf("unexpected operation %q", entry.Operation)
	}
	if entry.Status != operationStatusOK || entry.Error != nil {
		test.Fatalf("expected ok status, got %+v", entry)
	}
	if entry.BuyerID != buyerID || entry.Amount.Int64() != 4_000 {
		test.Fatalf("unexpected log payload %+v", entry)
	}
}

func TestOperationLogRecordsFailure(test *testing.T) {
	test.Parallel()

	storeFailure := errors.New("database offline")
	recorder := &recorderLogger{}
	service := mustNewService(test, &failingStore{Store: newStubStore(), failure: storeFailure}, WithOperationLogger(recorder))
	buyerID := mustBuyerID(test, "buyer-1")

	err := service.Credit(context.Background(), buyerID, 1_000)
	if !errors.Is(err, storeFailure) {
		test.Fatalf("expected store failure, got %v", err)
	}
	if len(recorder.entries) != 1 {
		test.Fatalf("expected one log entry, got %d", len(recorder.entries))
	}
	entry := recorder.entries[0]
	if entry.Status != operationStatusError {
		test.Fatalf("expected error status, got %q", entry.Status)
	}
	if !errors.Is(entry.Error, storeFailure) {
		test.Fatalf("expected logged cause, got %v", entry.Error)
	}
}
