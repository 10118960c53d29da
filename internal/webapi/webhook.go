package webapi

import (
	"errors"
	"net/http"

	"github.com/MarkoPoloResearchLab/storefront/internal/paymob"
	"github.com/MarkoPoloResearchLab/storefront/pkg/storefront"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// handlePaymentCallback receives Paymob's server-to-server transaction
// webhook. Nothing is read out of an unverified payload beyond what the
// rejection log line needs: order state only ever changes after the HMAC
// checks out.
func (handler *httpHandler) handlePaymentCallback(ctx *gin.Context) {
	callback, err := paymob.ParseCallback(ctx.Request.Body)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "callback payload is malformed"))
		return
	}

	receivedHMAC := ctx.Query("hmac")
	if receivedHMAC == "" {
		receivedHMAC = callback.HMAC
	}
	if handler.verifier == nil || !handler.verifier.VerifyCallback(callback, receivedHMAC) {
		handler.logger.Warn("rejected payment callback",
			zap.String("merchant_order_id", callback.MerchantOrderID()),
			zap.Bool("signature_present", receivedHMAC != ""),
			zap.Error(storefront.ErrUnverifiedPaymentSignal))
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_hmac", "signature verification failed"))
		return
	}

	merchantOrderID, err := storefront.NewMerchantOrderID(callback.MerchantOrderID())
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("missing_reference", "callback carries no merchant order id"))
		return
	}

	requestCtx, cancel := handler.opContext(ctx)
	defer cancel()

	if !callback.Success() {
		if err := handler.service.FailOrder(requestCtx, merchantOrderID); err != nil && !errors.Is(err, storefront.ErrOrderClosed) {
			handler.respondServiceError(ctx, err)
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"ok": true, "status": string(storefront.OrderStatusFailed)})
		return
	}

	settlement, err := handler.service.ConfirmPaid(requestCtx, merchantOrderID)
	if errors.Is(err, storefront.ErrNoStock) {
		// The stock the checkout quoted is gone; the order was marked
		// failed so the payment can be refunded by hand.
		handler.logger.Warn("paid order could not be fulfilled",
			zap.String("merchant_order_id", merchantOrderID.String()))
		ctx.JSON(http.StatusOK, gin.H{
			"ok":     true,
			"status": string(storefront.OrderStatusFailed),
			"reason": "no_stock",
		})
		return
	}
	if err != nil {
		handler.respondServiceError(ctx, err)
		return
	}
	handler.logger.Info("payment callback settled",
		zap.String("merchant_order_id", merchantOrderID.String()),
		zap.String("kind", string(settlement.Kind)),
		zap.Bool("already_confirmed", settlement.AlreadyConfirmed))
	ctx.JSON(http.StatusOK, gin.H{
		"ok":                true,
		"status":            string(storefront.OrderStatusPaid),
		"kind":              string(settlement.Kind),
		"already_confirmed": settlement.AlreadyConfirmed,
	})
}

// handlePaymentRedirect receives the buyer's browser coming back from the
// hosted checkout. The redirect settles the order just like the webhook
// does, since either signal can arrive first.
func (handler *httpHandler) handlePaymentRedirect(ctx *gin.Context) {
	query := ctx.Request.URL.Query()
	if query.Get("hmac") == "" {
		ctx.JSON(http.StatusBadRequest, errorResponse("missing_hmac", "redirect carries no signature"))
		return
	}
	if handler.verifier == nil || !handler.verifier.VerifyRedirect(query) {
		handler.logger.Warn("rejected payment redirect",
			zap.String("merchant_order_id", query.Get("merchant_order_id")),
			zap.Error(storefront.ErrUnverifiedPaymentSignal))
		ctx.JSON(http.StatusForbidden, errorResponse("invalid_hmac", "signature verification failed"))
		return
	}

	merchantOrderID, err := storefront.NewMerchantOrderID(query.Get("merchant_order_id"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("missing_reference", "redirect carries no merchant order id"))
		return
	}

	requestCtx, cancel := handler.opContext(ctx)
	defer cancel()

	if query.Get("success") != "true" {
		if err := handler.service.FailOrder(requestCtx, merchantOrderID); err != nil && !errors.Is(err, storefront.ErrOrderClosed) {
			handler.respondServiceError(ctx, err)
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"status": string(storefront.OrderStatusFailed)})
		return
	}

	_, err = handler.service.ConfirmPaid(requestCtx, merchantOrderID)
	if errors.Is(err, storefront.ErrNoStock) {
		ctx.JSON(http.StatusOK, gin.H{"status": string(storefront.OrderStatusFailed), "reason": "no_stock"})
		return
	}
	if err != nil {
		handler.respondServiceError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": string(storefront.OrderStatusPaid)})
}
