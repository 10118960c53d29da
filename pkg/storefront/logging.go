package storefront

import "context"

// ServiceOption customizes a Service during construction.
type ServiceOption func(service *Service)

// OperationLog captures the outcome of one state-changing operation.
type OperationLog struct {
	Operation       string
	BuyerID         BuyerID
	Category        Category
	Mode            AccessMode
	MerchantOrderID MerchantOrderID
	ItemID          int64
	Amount          AmountCents
	Status          string
	Error           error
}

// OperationLogger receives operation outcomes for observability sinks.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// WithOperationLogger wires an operation logger into the service.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithPaymentGateway wires the gateway used by checkout operations.
func WithPaymentGateway(gateway PaymentGateway) ServiceOption {
	return func(service *Service) {
		service.gateway = gateway
	}
}

// WithReservationRetryLimit overrides how many selection attempts a purchase
// makes before giving up with ErrNoStock.
func WithReservationRetryLimit(limit int) ServiceOption {
	return func(service *Service) {
		service.retryLimit = limit
	}
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		entry.Status = operationStatusOK
		if entry.Error != nil {
			entry.Status = operationStatusError
		}
	}
	service.logger.LogOperation(ctx, entry)
}
