package storefront

const (
	operationBalanceCredit     = "balance_credit"
	operationPurchase          = "purchase"
	operationCheckout          = "checkout"
	operationTopUp             = "topup"
	operationConfirmPaid       = "confirm_paid"
	operationFailOrder         = "fail_order"
	operationImportItem        = "import_item"
	operationClearCategory     = "clear_category"
	operationSetInstruction    = "set_instruction"
	operationDeleteInstruction = "delete_instruction"
	operationInstructionLookup = "instruction_lookup"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	defaultReservationRetryLimit = 3

	defaultRecentSalesLimit = 20
	maxRecentSalesLimit     = 200

	merchantOrderPrefix    = "sf"
	merchantOrderDelimiter = "-"
)
