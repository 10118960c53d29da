package webapi

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/MarkoPoloResearchLab/storefront/pkg/storefront"
	"github.com/gin-gonic/gin"
)

const (
	importFormatSimple = "simple"
	importFormatModes  = "modes"
)

func (handler *httpHandler) handleStockImport(ctx *gin.Context) {
	var request importRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}

	var inputs []storefront.ItemInput
	var parseFailures int
	switch request.Format {
	case "", importFormatSimple:
		inputs, parseFailures = storefront.ParseSimpleImport(request.Text)
	case importFormatModes:
		inputs, parseFailures = storefront.ParseModeImport(request.Text)
	default:
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_format",
			fmt.Sprintf("format must be %q or %q", importFormatSimple, importFormatModes)))
		return
	}

	requestCtx, cancel := handler.opContext(ctx)
	defer cancel()

	imported, importFailures := handler.service.ImportItems(requestCtx, inputs)
	if imported > 0 {
		handler.invalidateCatalog(requestCtx)
	}
	ctx.JSON(http.StatusOK, gin.H{
		"imported": imported,
		"failed":   parseFailures + importFailures,
	})
}

func (handler *httpHandler) handleStockList(ctx *gin.Context) {
	category, err := storefront.NewCategory(ctx.Param("category"))
	if err != nil {
		handler.respondServiceError(ctx, err)
		return
	}
	limit, err := parseLimitQuery(ctx, defaultStockLimit)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_limit", err.Error()))
		return
	}

	requestCtx, cancel := handler.opContext(ctx)
	defer cancel()

	items, err := handler.service.Items(requestCtx, category, limit)
	if err != nil {
		handler.respondServiceError(ctx, err)
		return
	}
	payload := make([]itemPayload, 0, len(items))
	for _, item := range items {
		payload = append(payload, newItemPayload(item))
	}
	ctx.JSON(http.StatusOK, gin.H{"items": payload})
}

func (handler *httpHandler) handleStockClear(ctx *gin.Context) {
	category, err := storefront.NewCategory(ctx.Param("category"))
	if err != nil {
		handler.respondServiceError(ctx, err)
		return
	}

	requestCtx, cancel := handler.opContext(ctx)
	defer cancel()

	removed, err := handler.service.ClearCategory(requestCtx, category)
	if err != nil {
		handler.respondServiceError(ctx, err)
		return
	}
	if removed > 0 {
		handler.invalidateCatalog(requestCtx)
	}
	ctx.JSON(http.StatusOK, gin.H{"removed": removed})
}

func (handler *httpHandler) handleSales(ctx *gin.Context) {
	limit, err := parseLimitQuery(ctx, 0)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_limit", err.Error()))
		return
	}

	requestCtx, cancel := handler.opContext(ctx)
	defer cancel()

	sales, err := handler.service.RecentSales(requestCtx, limit)
	if err != nil {
		handler.respondServiceError(ctx, err)
		return
	}
	payload := make([]salePayload, 0, len(sales))
	for _, sale := range sales {
		payload = append(payload, newSalePayload(sale))
	}
	ctx.JSON(http.StatusOK, gin.H{"sales": payload})
}

func (handler *httpHandler) handleInstructionPut(ctx *gin.Context) {
	var request instructionRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	category, mode, err := parseOffering(request.Category, request.Mode)
	if err != nil {
		handler.respondServiceError(ctx, err)
		return
	}

	requestCtx, cancel := handler.opContext(ctx)
	defer cancel()

	instruction := storefront.Instruction{Category: category, Mode: mode, Message: request.Message}
	if err := handler.service.SetInstruction(requestCtx, instruction); err != nil {
		handler.respondServiceError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"instruction": newInstructionPayload(instruction)})
}

func (handler *httpHandler) handleInstructionList(ctx *gin.Context) {
	requestCtx, cancel := handler.opContext(ctx)
	defer cancel()

	instructions, err := handler.service.Instructions(requestCtx)
	if err != nil {
		handler.respondServiceError(ctx, err)
		return
	}
	payload := make([]instructionPayload, 0, len(instructions))
	for _, instruction := range instructions {
		payload = append(payload, newInstructionPayload(instruction))
	}
	ctx.JSON(http.StatusOK, gin.H{"instructions": payload})
}

func (handler *httpHandler) handleInstructionDelete(ctx *gin.Context) {
	category, mode, err := parseOffering(ctx.Param("category"), ctx.Param("mode"))
	if err != nil {
		handler.respondServiceError(ctx, err)
		return
	}

	requestCtx, cancel := handler.opContext(ctx)
	defer cancel()

	if err := handler.service.DeleteInstruction(requestCtx, category, mode); err != nil {
		handler.respondServiceError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"deleted": true})
}

// handleOrderConfirm settles a pending order by hand, for the cases where
// the gateway webhook never arrived but the payment shows as captured in
// the Paymob dashboard.
func (handler *httpHandler) handleOrderConfirm(ctx *gin.Context) {
	merchantOrderID, err := storefront.NewMerchantOrderID(ctx.Param("merchant_order_id"))
	if err != nil {
		handler.respondServiceError(ctx, err)
		return
	}

	requestCtx, cancel := handler.opContext(ctx)
	defer cancel()

	settlement, err := handler.service.ConfirmPaid(requestCtx, merchantOrderID)
	if err != nil {
		handler.respondServiceError(ctx, err)
		return
	}
	response := gin.H{"settlement": newSettlementPayload(settlement)}
	if settlement.Purchase != nil {
		response["purchase"] = newPurchasePayload(*settlement.Purchase)
	}
	ctx.JSON(http.StatusOK, response)
}

func parseLimitQuery(ctx *gin.Context, fallback int) (int, error) {
	raw := ctx.Query("limit")
	if raw == "" {
		return fallback, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, fmt.Errorf("limit must be a non-negative integer")
	}
	return limit, nil
}

type importRequest struct {
	Format string `json:"format"`
	Text   string `json:"text"`
}

type instructionRequest struct {
	Category string `json:"category"`
	Mode     string `json:"mode"`
	Message  string `json:"message"`
}

type itemPayload struct {
	ItemID        int64          `json:"item_id"`
	Category      string         `json:"category"`
	Credential    string         `json:"credential"`
	ChosenMode    string         `json:"chosen_mode,omitempty"`
	FullyDepleted bool           `json:"fully_depleted"`
	Offers        []offerPayload `json:"offers"`
}

type offerPayload struct {
	Mode       string `json:"mode"`
	PriceCents int64  `json:"price_cents"`
	Capacity   int64  `json:"capacity"`
	Used       int64  `json:"used"`
	Remaining  int64  `json:"remaining"`
}

func newItemPayload(item storefront.StockItem) itemPayload {
	payload := itemPayload{
		ItemID:        item.ItemID,
		Category:      item.Category.String(),
		Credential:    item.Credential.String(),
		FullyDepleted: item.FullyDepleted,
		Offers:        make([]offerPayload, 0, len(item.Offers)),
	}
	if item.ChosenMode != nil {
		payload.ChosenMode = string(*item.ChosenMode)
	}
	for _, mode := range storefront.AccessModes() {
		offer, found := item.Offers[mode]
		if !found {
			continue
		}
		payload.Offers = append(payload.Offers, offerPayload{
			Mode:       string(mode),
			PriceCents: offer.PriceCents.Int64(),
			Capacity:   offer.Capacity,
			Used:       offer.Used,
			Remaining:  offer.Remaining(),
		})
	}
	return payload
}

type salePayload struct {
	SaleID          int64  `json:"sale_id"`
	BuyerID         string `json:"buyer_id"`
	ItemID          int64  `json:"item_id"`
	Category        string `json:"category"`
	Credential      string `json:"credential"`
	PricePaidCents  int64  `json:"price_paid_cents"`
	Mode            string `json:"mode"`
	MerchantOrderID string `json:"merchant_order_id,omitempty"`
	CreatedUnixUTC  int64  `json:"created_unix_utc"`
}

func newSalePayload(sale storefront.SaleRecord) salePayload {
	return salePayload{
		SaleID:          sale.SaleID,
		BuyerID:         sale.BuyerID.String(),
		ItemID:          sale.ItemID,
		Category:        sale.Category.String(),
		Credential:      sale.Credential.String(),
		PricePaidCents:  sale.PricePaidCents.Int64(),
		Mode:            string(sale.Mode),
		MerchantOrderID: sale.MerchantOrderID.String(),
		CreatedUnixUTC:  sale.CreatedUnixUTC,
	}
}

type instructionPayload struct {
	Category string `json:"category"`
	Mode     string `json:"mode"`
	Message  string `json:"message"`
}

func newInstructionPayload(instruction storefront.Instruction) instructionPayload {
	return instructionPayload{
		Category: instruction.Category.String(),
		Mode:     string(instruction.Mode),
		Message:  instruction.Message,
	}
}

type settlementPayload struct {
	MerchantOrderID  string `json:"merchant_order_id"`
	Kind             string `json:"kind"`
	BuyerID          string `json:"buyer_id"`
	AmountCents      int64  `json:"amount_cents"`
	AlreadyConfirmed bool   `json:"already_confirmed"`
}

func newSettlementPayload(settlement storefront.Settlement) settlementPayload {
	return settlementPayload{
		MerchantOrderID:  settlement.MerchantOrderID.String(),
		Kind:             string(settlement.Kind),
		BuyerID:          settlement.BuyerID.String(),
		AmountCents:      settlement.AmountCents.Int64(),
		AlreadyConfirmed: settlement.AlreadyConfirmed,
	}
}
