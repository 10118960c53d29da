package paymob

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"net/url"
	"strings"
	"testing"

	"go.uber.org/zap"
)

const testHMACSecret = "hmac-secret"

const callbackFixture = `{
  "type": "TRANSACTION",
  "obj": {
    "amount_cents": 4000,
    "created_at": "2026-08-25T10:00:00.000000",
    "currency": "EGP",
    "error_occured": false,
    "has_parent_transaction": false,
    "id": 987654,
    "integration_id": 11,
    "is_3d_secure": true,
    "is_auth": false,
    "is_capture": false,
    "is_refunded": false,
    "is_standalone_payment": true,
    "is_voided": false,
    "order": {"id": 321, "merchant_order_id": "sf-purchase-buyer_1-streaming-personal-1700000000-abc"},
    "owner": 42,
    "pending": false,
    "source_data": {"pan": "1234", "sub_type": "MasterCard", "type": "card"},
    "success": true
  },
  "hmac": ""
}`

// fixtureConcat is the fixture's transaction fields laid out by hand in
// Paymob's documented HMAC order.
const fixtureConcat = "4000" +
	"2026-08-25T10:00:00.000000" +
	"EGP" +
	"false" +
	"false" +
	"987654" +
	"11" +
	"true" +
	"false" +
	"false" +
	"false" +
	"true" +
	"false" +
	"321" +
	"42" +
	"false" +
	"1234" +
	"MasterCard" +
	"card" +
	"true"

func newVerifierClient(test *testing.T, secret string) *Client {
	test.Helper()
	client, err := NewClient(Config{
		APIKey:            "test-key",
		CardIntegrationID: 11,
		IframeID:          22,
		HMACSecret:        secret,
	}, zap.NewNop())
	if err != nil {
		test.Fatalf("NewClient: %v", err)
	}
	return client
}

func signMessage(secret string, message string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyCallbackAcceptsValidSignature(test *testing.T) {
	test.Parallel()

	client := newVerifierClient(test, testHMACSecret)
	callback, err := ParseCallback(strings.NewReader(callbackFixture))
	if err != nil {
		test.Fatalf("ParseCallback: %v", err)
	}

	signature := signMessage(testHMACSecret, fixtureConcat)
	if !client.VerifyCallback(callback, signature) {
		test.Fatal("expected documented concatenation to verify")
	}
	if !client.VerifyCallback(callback, strings.ToUpper(signature)) {
		test.Fatal("expected uppercase signature to verify")
	}
}

func TestVerifyCallbackRejectsBadSignatures(test *testing.T) {
	test.Parallel()

	client := newVerifierClient(test, testHMACSecret)
	callback, err := ParseCallback(strings.NewReader(callbackFixture))
	if err != nil {
		test.Fatalf("ParseCallback: %v", err)
	}

	tampered := signMessage(testHMACSecret, strings.Replace(fixtureConcat, "4000", "4001", 1))
	if client.VerifyCallback(callback, tampered) {
		test.Fatal("signature over tampered amount must not verify")
	}
	if client.VerifyCallback(callback, signMessage("other-secret", fixtureConcat)) {
		test.Fatal("signature under a foreign secret must not verify")
	}
	if client.VerifyCallback(callback, "") {
		test.Fatal("empty signature must not verify")
	}
}

func TestVerifyCallbackWithoutSecretVerifiesNothing(test *testing.T) {
	test.Parallel()

	client := newVerifierClient(test, "")
	callback, err := ParseCallback(strings.NewReader(callbackFixture))
	if err != nil {
		test.Fatalf("ParseCallback: %v", err)
	}
	if client.VerifyCallback(callback, signMessage("", fixtureConcat)) {
		test.Fatal("client without a secret must reject every signal")
	}
}

func TestVerifyCallbackFormatsMissingFieldsAsEmpty(test *testing.T) {
	test.Parallel()

	client := newVerifierClient(test, testHMACSecret)
	trimmedFixture := `{
      "type": "TRANSACTION",
      "obj": {
        "amount_cents": 4000,
        "currency": "EGP",
        "success": true
      },
      "hmac": ""
    }`
	callback, err := ParseCallback(strings.NewReader(trimmedFixture))
	if err != nil {
		test.Fatalf("ParseCallback: %v", err)
	}

	signature := signMessage(testHMACSecret, "4000"+"EGP"+"true")
	if !client.VerifyCallback(callback, signature) {
		test.Fatal("absent fields must contribute empty strings")
	}
}

func TestParseCallbackExtractsTransaction(test *testing.T) {
	test.Parallel()

	callback, err := ParseCallback(strings.NewReader(callbackFixture))
	if err != nil {
		test.Fatalf("ParseCallback: %v", err)
	}
	if callback.Type != "TRANSACTION" {
		test.Fatalf("unexpected type %q", callback.Type)
	}
	if !callback.Success() {
		test.Fatal("expected success flag")
	}
	if callback.MerchantOrderID() != "sf-purchase-buyer_1-streaming-personal-1700000000-abc" {
		test.Fatalf("unexpected merchant order id %q", callback.MerchantOrderID())
	}
	if callback.AmountCents() != 4000 {
		test.Fatalf("unexpected amount %d", callback.AmountCents())
	}

	flat, err := ParseCallback(strings.NewReader(`{"obj": {"merchant_order_id": "sf-topup-1", "success": false}}`))
	if err != nil {
		test.Fatalf("ParseCallback flat: %v", err)
	}
	if flat.MerchantOrderID() != "sf-topup-1" {
		test.Fatalf("expected top-level fallback, got %q", flat.MerchantOrderID())
	}
	if flat.Success() {
		test.Fatal("expected failed transaction")
	}

	if _, err := ParseCallback(strings.NewReader(`{"type": "TRANSACTION"}`)); !errors.Is(err, ErrMalformedCallback) {
		test.Fatalf("expected ErrMalformedCallback without obj, got %v", err)
	}
	if _, err := ParseCallback(strings.NewReader("not json")); !errors.Is(err, ErrMalformedCallback) {
		test.Fatalf("expected ErrMalformedCallback for bad json, got %v", err)
	}
}

func TestVerifyRedirect(test *testing.T) {
	test.Parallel()

	client := newVerifierClient(test, testHMACSecret)
	query := url.Values{}
	query.Set("amount_cents", "4000")
	query.Set("success", "true")
	query.Set("id", "987654")
	query.Set("order", "321")

	// Keys sorted: amount_cents, id, order, success.
	signature := signMessage(testHMACSecret, "4000"+"987654"+"321"+"true")
	if client.VerifyRedirect(query) {
		test.Fatal("redirect without hmac parameter must not verify")
	}

	query.Set("hmac", signature)
	if !client.VerifyRedirect(query) {
		test.Fatal("expected sorted-key concatenation to verify")
	}

	query.Set("success", "false")
	if client.VerifyRedirect(query) {
		test.Fatal("tampered redirect must not verify")
	}
}
