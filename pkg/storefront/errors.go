package storefront

import (
	"errors"
	"fmt"
)

var (
	// ErrNoStock indicates no stock item can currently serve the requested
	// category and access mode.
	ErrNoStock = errors.New("no stock available")
	// ErrInsufficientBalance indicates the buyer's balance does not cover the
	// offer price.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrReservationConflict indicates a concurrent actor consumed or re-pinned
	// the selected item between selection and commit. The conflict is retryable
	// by re-running item selection.
	ErrReservationConflict = errors.New("reservation conflict")
	// ErrUnverifiedPaymentSignal indicates an inbound gateway signal failed
	// signature verification and was discarded without touching state.
	ErrUnverifiedPaymentSignal = errors.New("unverified payment signal")
	// ErrGatewayNotConfigured indicates a gateway operation was requested while
	// no payment gateway is wired.
	ErrGatewayNotConfigured = errors.New("payment gateway not configured")
	// ErrUnknownOrder indicates the merchant order id does not match a stored
	// order.
	ErrUnknownOrder = errors.New("unknown order")
	// ErrOrderExists indicates a stored order already carries the merchant
	// order id.
	ErrOrderExists = errors.New("order already exists")
	// ErrOrderClosed indicates the order already left the pending state.
	ErrOrderClosed = errors.New("order is not pending")
	// ErrUnknownItem indicates the stock item id does not match a stored item.
	ErrUnknownItem = errors.New("unknown stock item")
	// ErrUnknownSale indicates no sale record matches the lookup.
	ErrUnknownSale = errors.New("unknown sale")
	// ErrInstructionNotFound indicates no instruction is stored for the
	// category and access mode.
	ErrInstructionNotFound = errors.New("instruction not found")

	// ErrInvalidBuyerID indicates an empty or malformed buyer identifier.
	ErrInvalidBuyerID = errors.New("invalid buyer id")
	// ErrInvalidCategory indicates an empty or malformed category.
	ErrInvalidCategory = errors.New("invalid category")
	// ErrInvalidAccessMode indicates an unrecognized access mode.
	ErrInvalidAccessMode = errors.New("invalid access mode")
	// ErrInvalidCredential indicates an empty credential payload.
	ErrInvalidCredential = errors.New("invalid credential")
	// ErrInvalidAmountCents indicates an amount outside the accepted range.
	ErrInvalidAmountCents = errors.New("invalid amount")
	// ErrInvalidMerchantOrderID indicates an empty or malformed merchant order
	// id.
	ErrInvalidMerchantOrderID = errors.New("invalid merchant order id")
	// ErrInvalidMetadataJSON indicates metadata that is not a JSON object.
	ErrInvalidMetadataJSON = errors.New("invalid metadata json")
	// ErrInvalidOrderKind indicates an unrecognized order kind.
	ErrInvalidOrderKind = errors.New("invalid order kind")
	// ErrInvalidOrderStatus indicates an unrecognized order status.
	ErrInvalidOrderStatus = errors.New("invalid order status")
	// ErrInvalidItemInput indicates an import row that cannot become a stock
	// item.
	ErrInvalidItemInput = errors.New("invalid item input")
	// ErrInvalidInstruction indicates an instruction without a message body.
	ErrInvalidInstruction = errors.New("invalid instruction")
	// ErrInvalidServiceConfig indicates the service was constructed with
	// missing or unusable dependencies.
	ErrInvalidServiceConfig = errors.New("invalid service configuration")
)

// OperationError annotates a failure with the operation, subject and error
// code it occurred under.
type OperationError struct {
	Operation string
	Subject   string
	Code      string
	Err       error
}

// Error renders the annotated failure.
func (operationError *OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.Operation, operationError.Subject, operationError.Code, operationError.Err)
}

// Unwrap exposes the wrapped error for errors.Is and errors.As.
func (operationError *OperationError) Unwrap() error {
	return operationError.Err
}

// WrapError annotates err with operation metadata. A nil err returns nil.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{
		Operation: operation,
		Subject:   subject,
		Code:      code,
		Err:       err,
	}
}
