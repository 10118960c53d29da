package paymob

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// hmacFieldOrder lists the transaction fields, in the exact order Paymob
// concatenates them, that feed the SHA-512 HMAC on processed callbacks.
// Dotted names address nested objects. The misspelled error_occured is
// Paymob's, not ours.
var hmacFieldOrder = []string{
	"amount_cents",
	"created_at",
	"currency",
	"error_occured",
	"has_parent_transaction",
	"id",
	"integration_id",
	"is_3d_secure",
	"is_auth",
	"is_capture",
	"is_refunded",
	"is_standalone_payment",
	"is_voided",
	"order.id",
	"owner",
	"pending",
	"source_data.pan",
	"source_data.sub_type",
	"source_data.type",
	"success",
}

// Callback is a decoded transaction-processed notification. The raw
// transaction object is kept as parsed so the HMAC can be recomputed over
// the exact values Paymob sent.
type Callback struct {
	Type        string
	HMAC        string
	transaction map[string]any
}

// ParseCallback decodes a webhook body. Numbers are kept as json.Number so
// amounts survive without float formatting drift.
func ParseCallback(reader io.Reader) (Callback, error) {
	decoder := json.NewDecoder(reader)
	decoder.UseNumber()
	var payload struct {
		Type string         `json:"type"`
		Obj  map[string]any `json:"obj"`
		HMAC string         `json:"hmac"`
	}
	if err := decoder.Decode(&payload); err != nil {
		return Callback{}, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}
	if payload.Obj == nil {
		return Callback{}, fmt.Errorf("%w: missing transaction object", ErrMalformedCallback)
	}
	return Callback{Type: payload.Type, HMAC: payload.HMAC, transaction: payload.Obj}, nil
}

// Success reports whether the gateway marked the transaction as captured.
func (callback Callback) Success() bool {
	flag, ok := callback.transaction["success"].(bool)
	return ok && flag
}

// MerchantOrderID returns the merchant order reference the transaction
// settles, or an empty string when the callback carries none.
func (callback Callback) MerchantOrderID() string {
	if order, ok := callback.transaction["order"].(map[string]any); ok {
		if reference, ok := order["merchant_order_id"].(string); ok && reference != "" {
			return reference
		}
	}
	reference, _ := callback.transaction["merchant_order_id"].(string)
	return reference
}

// AmountCents returns the transaction amount, or zero when absent.
func (callback Callback) AmountCents() int64 {
	number, ok := callback.transaction["amount_cents"].(json.Number)
	if !ok {
		return 0
	}
	amount, err := number.Int64()
	if err != nil {
		return 0
	}
	return amount
}

// VerifyCallback recomputes the transaction HMAC and compares it against
// the received signature. A client without an HMAC secret verifies nothing.
func (client *Client) VerifyCallback(callback Callback, receivedHMAC string) bool {
	return client.verifySignature(callbackConcat(callback.transaction), receivedHMAC)
}

// VerifyRedirect checks the signature Paymob appends to browser redirects:
// SHA-512 HMAC over the values of the query parameters sorted by key, the
// hmac parameter itself excluded.
func (client *Client) VerifyRedirect(query url.Values) bool {
	received := query.Get("hmac")
	if received == "" {
		return false
	}
	return client.verifySignature(redirectConcat(query), received)
}

func (client *Client) verifySignature(message string, received string) bool {
	if client.config.HMACSecret == "" || received == "" {
		return false
	}
	mac := hmac.New(sha512.New, []byte(client.config.HMACSecret))
	mac.Write([]byte(message))
	computed := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(computed), []byte(strings.ToLower(received)))
}

func callbackConcat(transaction map[string]any) string {
	var concatenated strings.Builder
	for _, field := range hmacFieldOrder {
		concatenated.WriteString(formatHMACValue(hmacFieldValue(transaction, field)))
	}
	return concatenated.String()
}

func redirectConcat(query url.Values) string {
	keys := make([]string, 0, len(query))
	for key := range query {
		if key == "hmac" {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var concatenated strings.Builder
	for _, key := range keys {
		concatenated.WriteString(query.Get(key))
	}
	return concatenated.String()
}

func hmacFieldValue(data map[string]any, path string) any {
	head, tail, nested := strings.Cut(path, ".")
	value, exists := data[head]
	if !nested {
		if !exists {
			return nil
		}
		return value
	}
	child, ok := value.(map[string]any)
	if !ok {
		return nil
	}
	return hmacFieldValue(child, tail)
}

func formatHMACValue(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	case bool:
		return strconv.FormatBool(typed)
	case json.Number:
		return typed.String()
	default:
		return fmt.Sprint(typed)
	}
}
