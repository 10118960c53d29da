// Package webapi exposes the storefront over HTTP: a buyer-facing shop
// API authenticated through tauth session cookies, an admin API for stock
// and instruction management, and the payment gateway webhook.
package webapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/storefront/internal/cache"
	"github.com/MarkoPoloResearchLab/storefront/internal/paymob"
	"github.com/MarkoPoloResearchLab/storefront/pkg/storefront"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
)

// PaymentVerifier authenticates payment signals before any of them may
// touch order state.
type PaymentVerifier interface {
	VerifyCallback(callback paymob.Callback, receivedHMAC string) bool
	VerifyRedirect(query url.Values) bool
}

// Dependencies carries the assembled collaborators Run serves with. Service
// is required; a nil Verifier rejects every webhook, a nil Cache falls back
// to an in-process one, a nil Logger to zap's production logger.
type Dependencies struct {
	Service  *storefront.Service
	Verifier PaymentVerifier
	Cache    cache.Cache
	Logger   *zap.Logger
}

// Run boots the HTTP API and serves until ctx is cancelled.
func Run(ctx context.Context, cfg Config, deps Dependencies) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if deps.Service == nil {
		return errors.New("storefront service is required")
	}

	logger := deps.Logger
	if logger == nil {
		var err error
		logger, err = zap.NewProduction()
		if err != nil {
			return fmt.Errorf("zap init: %w", err)
		}
		defer func() { _ = logger.Sync() }()
	}
	if deps.Verifier == nil {
		logger.Warn("payment verifier not configured; webhook signals will be rejected")
	}
	responseCache := deps.Cache
	if responseCache == nil {
		responseCache = cache.NewMemoryCache()
	}

	sessionValidator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: []byte(cfg.SessionSigningKey),
		Issuer:     cfg.SessionIssuer,
		CookieName: cfg.SessionCookieName,
	})
	if err != nil {
		return fmt.Errorf("session validator: %w", err)
	}

	handler := &httpHandler{
		logger:   logger,
		service:  deps.Service,
		verifier: deps.Verifier,
		cache:    responseCache,
		cfg:      cfg,
	}

	router := setupRouter(cfg, handler, sessionValidator)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("storefront api listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func setupRouter(cfg Config, handler *httpHandler, validator *sessionvalidator.Validator) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.POST("/webhooks/paymob", handler.handlePaymentCallback)
	router.GET("/webhooks/paymob", handler.handlePaymentRedirect)

	api := router.Group("/api")
	api.Use(validator.GinMiddleware(sessionClaimsKey))

	api.GET("/session", handler.handleSession)
	api.GET("/wallet", handler.handleWallet)
	api.GET("/catalog", handler.handleCatalog)
	api.GET("/catalog/:category", handler.handleCategory)
	api.POST("/purchases", handler.handlePurchase)
	api.POST("/checkouts", handler.handleCheckout)
	api.POST("/topups", handler.handleTopUp)
	api.GET("/orders/:merchant_order_id", handler.handleOrder)
	api.GET("/orders/:merchant_order_id/qr", handler.handleOrderQR)

	admin := api.Group("/admin")
	admin.Use(requireRole(adminRole))

	admin.POST("/stock/import", handler.handleStockImport)
	admin.GET("/stock/:category", handler.handleStockList)
	admin.DELETE("/stock/:category", handler.handleStockClear)
	admin.GET("/sales", handler.handleSales)
	admin.PUT("/instructions", handler.handleInstructionPut)
	admin.GET("/instructions", handler.handleInstructionList)
	admin.DELETE("/instructions/:category/:mode", handler.handleInstructionDelete)
	admin.POST("/orders/:merchant_order_id/confirm", handler.handleOrderConfirm)

	return router
}

type httpHandler struct {
	logger   *zap.Logger
	service  *storefront.Service
	verifier PaymentVerifier
	cache    cache.Cache
	cfg      Config
}

func (handler *httpHandler) handleSession(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"user_id": claims.GetUserID(),
		"email":   claims.GetUserEmail(),
		"display": claims.GetUserDisplayName(),
		"roles":   claims.GetUserRoles(),
		"expires": claims.GetExpiresAt().Unix(),
	})
}

func (handler *httpHandler) handleWallet(ctx *gin.Context) {
	buyerID, _, ok := handler.sessionBuyer(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.opContext(ctx)
	defer cancel()

	balance, err := handler.service.Balance(requestCtx, buyerID)
	if err != nil {
		handler.respondServiceError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"wallet": walletPayload{BalanceCents: balance.Int64()}})
}

func (handler *httpHandler) handleCatalog(ctx *gin.Context) {
	if claims := getClaims(ctx); claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	requestCtx, cancel := handler.opContext(ctx)
	defer cancel()

	payload, err := handler.cache.GetOrSet(requestCtx, catalogCacheKey, catalogCacheTTL, func() ([]byte, error) {
		summaries, err := handler.service.Categories(requestCtx)
		if err != nil {
			return nil, err
		}
		response := catalogResponse{Categories: make([]categoryPayload, 0, len(summaries))}
		for _, summary := range summaries {
			response.Categories = append(response.Categories, categoryPayload{
				Category:       summary.Category.String(),
				AvailableItems: summary.AvailableItems,
			})
		}
		return marshalJSON(response)
	})
	if err != nil {
		handler.respondServiceError(ctx, err)
		return
	}
	ctx.Data(http.StatusOK, "application/json", payload)
}

func (handler *httpHandler) handleCategory(ctx *gin.Context) {
	if claims := getClaims(ctx); claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	category, err := storefront.NewCategory(ctx.Param("category"))
	if err != nil {
		handler.respondServiceError(ctx, err)
		return
	}
	requestCtx, cancel := handler.opContext(ctx)
	defer cancel()

	payload, err := handler.cache.GetOrSet(requestCtx, categoryCacheKeyPrefix+category.String(), catalogCacheTTL, func() ([]byte, error) {
		summaries, err := handler.service.CategoryModes(requestCtx, category)
		if err != nil {
			return nil, err
		}
		response := categoryModesResponse{Category: category.String(), Modes: make([]modePayload, 0, len(summaries))}
		for _, summary := range summaries {
			response.Modes = append(response.Modes, modePayload{
				Mode:           string(summary.Mode),
				AvailableItems: summary.AvailableItems,
				MinPriceCents:  summary.MinPriceCents.Int64(),
			})
		}
		return marshalJSON(response)
	})
	if err != nil {
		handler.respondServiceError(ctx, err)
		return
	}
	ctx.Data(http.StatusOK, "application/json", payload)
}

func (handler *httpHandler) handlePurchase(ctx *gin.Context) {
	buyerID, _, ok := handler.sessionBuyer(ctx)
	if !ok {
		return
	}
	var request purchaseRequest
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

	purchase, err := handler.service.PurchaseWithBalance(requestCtx, buyerID, category, mode)
	if err != nil {
		handler.respondServiceError(ctx, err)
		return
	}
	balance, err := handler.service.Balance(requestCtx, buyerID)
	if err != nil {
		handler.respondServiceError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"purchase":      newPurchasePayload(purchase),
		"balance_cents": balance.Int64(),
	})
}

func (handler *httpHandler) handleCheckout(ctx *gin.Context) {
	buyerID, claims, ok := handler.sessionBuyer(ctx)
	if !ok {
		return
	}
	var request checkoutRequest
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

	session, err := handler.service.BeginCheckout(requestCtx, buyerID, category, mode, billingFromClaims(claims))
	if err != nil {
		handler.respondServiceError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"order": newCheckoutPayload(session)})
}

func (handler *httpHandler) handleTopUp(ctx *gin.Context) {
	buyerID, claims, ok := handler.sessionBuyer(ctx)
	if !ok {
		return
	}
	var request topUpRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	if request.AmountCents < minTopUpCents {
		ctx.JSON(http.StatusBadRequest, errorResponse("amount_too_small",
			fmt.Sprintf("top-up must be at least %d cents", minTopUpCents)))
		return
	}
	amount, err := storefront.NewPositiveAmountCents(request.AmountCents)
	if err != nil {
		handler.respondServiceError(ctx, err)
		return
	}

	requestCtx, cancel := handler.opContext(ctx)
	defer cancel()

	session, err := handler.service.BeginTopUp(requestCtx, buyerID, amount, billingFromClaims(claims))
	if err != nil {
		handler.respondServiceError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"order": newCheckoutPayload(session)})
}

func (handler *httpHandler) handleOrder(ctx *gin.Context) {
	buyerID, claims, ok := handler.sessionBuyer(ctx)
	if !ok {
		return
	}
	merchantOrderID, err := storefront.NewMerchantOrderID(ctx.Param("merchant_order_id"))
	if err != nil {
		handler.respondServiceError(ctx, err)
		return
	}

	requestCtx, cancel := handler.opContext(ctx)
	defer cancel()

	order, err := handler.service.Order(requestCtx, merchantOrderID)
	if err != nil {
		handler.respondServiceError(ctx, err)
		return
	}
	// Buyers only see their own orders. Report foreign ones as unknown so
	// the reference space stays unguessable.
	if order.BuyerID != buyerID && !hasRole(claims, adminRole) {
		ctx.JSON(http.StatusNotFound, errorResponse("unknown_order", "order not found"))
		return
	}

	response := gin.H{"order": newOrderPayload(order)}
	if order.Kind == storefront.OrderKindPurchase && order.Status == storefront.OrderStatusPaid {
		if delivery, found := handler.deliveryForOrder(requestCtx, merchantOrderID); found {
			response["delivery"] = delivery
		}
	}
	ctx.JSON(http.StatusOK, response)
}

func (handler *httpHandler) handleOrderQR(ctx *gin.Context) {
	buyerID, claims, ok := handler.sessionBuyer(ctx)
	if !ok {
		return
	}
	merchantOrderID, err := storefront.NewMerchantOrderID(ctx.Param("merchant_order_id"))
	if err != nil {
		handler.respondServiceError(ctx, err)
		return
	}

	requestCtx, cancel := handler.opContext(ctx)
	defer cancel()

	order, err := handler.service.Order(requestCtx, merchantOrderID)
	if err != nil {
		handler.respondServiceError(ctx, err)
		return
	}
	if order.BuyerID != buyerID && !hasRole(claims, adminRole) {
		ctx.JSON(http.StatusNotFound, errorResponse("unknown_order", "order not found"))
		return
	}
	if order.PaymentURL == "" {
		ctx.JSON(http.StatusNotFound, errorResponse("no_payment_url", "order carries no payment link"))
		return
	}

	image, err := qrcode.Encode(order.PaymentURL, qrcode.Medium, qrImageSize)
	if err != nil {
		handler.logger.Error("qr encode failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("internal_error", "qr generation failed"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"payment_url":   order.PaymentURL,
		"qr_png_base64": base64.StdEncoding.EncodeToString(image),
	})
}

func (handler *httpHandler) deliveryForOrder(ctx context.Context, merchantOrderID storefront.MerchantOrderID) (deliveryPayload, bool) {
	sale, err := handler.service.SaleForOrder(ctx, merchantOrderID)
	if err != nil {
		if !errors.Is(err, storefront.ErrUnknownSale) {
			handler.logger.Error("sale lookup failed", zap.Error(err))
		}
		return deliveryPayload{}, false
	}
	delivery := deliveryPayload{Credential: sale.Credential.String()}
	if instruction, err := handler.service.Instruction(ctx, sale.Category, sale.Mode); err == nil {
		delivery.Instructions = instruction.Message
	}
	return delivery, true
}

func (handler *httpHandler) sessionBuyer(ctx *gin.Context) (storefront.BuyerID, *sessionvalidator.Claims, bool) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return storefront.BuyerID{}, nil, false
	}
	buyerID, err := storefront.NewBuyerID(claims.GetUserID())
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "session carries no user id"))
		return storefront.BuyerID{}, nil, false
	}
	return buyerID, claims, true
}

func (handler *httpHandler) opContext(ctx *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
}

func (handler *httpHandler) invalidateCatalog(ctx context.Context) {
	if err := handler.cache.Clear(ctx); err != nil {
		handler.logger.Warn("catalog cache invalidation failed", zap.Error(err))
	}
}

func (handler *httpHandler) respondServiceError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, storefront.ErrNoStock):
		ctx.JSON(http.StatusConflict, errorResponse("no_stock", "no item can serve this category and access mode"))
	case errors.Is(err, storefront.ErrInsufficientBalance):
		ctx.JSON(http.StatusPaymentRequired, errorResponse("insufficient_balance", "balance does not cover the price"))
	case errors.Is(err, storefront.ErrUnknownOrder):
		ctx.JSON(http.StatusNotFound, errorResponse("unknown_order", "order not found"))
	case errors.Is(err, storefront.ErrUnknownItem):
		ctx.JSON(http.StatusNotFound, errorResponse("unknown_item", "item not found"))
	case errors.Is(err, storefront.ErrUnknownSale):
		ctx.JSON(http.StatusNotFound, errorResponse("sale_not_settled", "no sale is linked to this order"))
	case errors.Is(err, storefront.ErrInstructionNotFound):
		ctx.JSON(http.StatusNotFound, errorResponse("instruction_not_found", "instruction not found"))
	case errors.Is(err, storefront.ErrOrderClosed):
		ctx.JSON(http.StatusConflict, errorResponse("order_closed", "order is no longer pending"))
	case errors.Is(err, storefront.ErrOrderExists):
		ctx.JSON(http.StatusConflict, errorResponse("order_exists", "order reference already taken"))
	case errors.Is(err, storefront.ErrGatewayNotConfigured):
		ctx.JSON(http.StatusServiceUnavailable, errorResponse("gateway_unavailable", "payment gateway is not configured"))
	case isValidationError(err):
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_request", err.Error()))
	default:
		handler.logger.Error("storefront operation failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("internal_error", "operation failed"))
	}
}

func isValidationError(err error) bool {
	validationSentinels := []error{
		storefront.ErrInvalidBuyerID,
		storefront.ErrInvalidCategory,
		storefront.ErrInvalidAccessMode,
		storefront.ErrInvalidAmountCents,
		storefront.ErrInvalidItemInput,
		storefront.ErrInvalidInstruction,
		storefront.ErrInvalidMerchantOrderID,
	}
	for _, sentinel := range validationSentinels {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

func parseOffering(rawCategory string, rawMode string) (storefront.Category, storefront.AccessMode, error) {
	category, err := storefront.NewCategory(rawCategory)
	if err != nil {
		return storefront.Category{}, "", err
	}
	mode, err := storefront.ParseAccessMode(rawMode)
	if err != nil {
		return storefront.Category{}, "", err
	}
	return category, mode, nil
}

func billingFromClaims(claims *sessionvalidator.Claims) storefront.BillingDetails {
	firstName, lastName := splitDisplayName(claims.GetUserDisplayName())
	return storefront.BillingDetails{
		Email:     claims.GetUserEmail(),
		FirstName: firstName,
		LastName:  lastName,
	}
}

func splitDisplayName(display string) (string, string) {
	first, rest, found := strings.Cut(strings.TrimSpace(display), " ")
	if !found {
		return first, ""
	}
	return first, strings.TrimSpace(rest)
}

func marshalJSON(payload any) ([]byte, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return encoded, nil
}

func getClaims(ctx *gin.Context) *sessionvalidator.Claims {
	claimsValue, ok := ctx.Get(sessionClaimsKey)
	if !ok {
		return nil
	}
	claims, _ := claimsValue.(*sessionvalidator.Claims)
	return claims
}

func hasRole(claims *sessionvalidator.Claims, role string) bool {
	if claims == nil {
		return false
	}
	for _, granted := range claims.GetUserRoles() {
		if granted == role {
			return true
		}
	}
	return false
}

func requireRole(role string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		claims := getClaims(ctx)
		if claims == nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
			return
		}
		if !hasRole(claims, role) {
			ctx.AbortWithStatusJSON(http.StatusForbidden, errorResponse("forbidden", "role "+role+" required"))
			return
		}
		ctx.Next()
	}
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

type purchaseRequest struct {
	Category string `json:"category"`
	Mode     string `json:"mode"`
}

type checkoutRequest struct {
	Category string `json:"category"`
	Mode     string `json:"mode"`
}

type topUpRequest struct {
	AmountCents int64 `json:"amount_cents"`
}

type walletPayload struct {
	BalanceCents int64 `json:"balance_cents"`
}

type catalogResponse struct {
	Categories []categoryPayload `json:"categories"`
}

type categoryPayload struct {
	Category       string `json:"category"`
	AvailableItems int64  `json:"available_items"`
}

type categoryModesResponse struct {
	Category string        `json:"category"`
	Modes    []modePayload `json:"modes"`
}

type modePayload struct {
	Mode           string `json:"mode"`
	AvailableItems int64  `json:"available_items"`
	MinPriceCents  int64  `json:"min_price_cents"`
}

type purchasePayload struct {
	ItemID         int64  `json:"item_id"`
	Category       string `json:"category"`
	Mode           string `json:"mode"`
	Credential     string `json:"credential"`
	PricePaidCents int64  `json:"price_paid_cents"`
	Instructions   string `json:"instructions,omitempty"`
}

func newPurchasePayload(purchase storefront.Purchase) purchasePayload {
	return purchasePayload{
		ItemID:         purchase.ItemID,
		Category:       purchase.Category.String(),
		Mode:           string(purchase.Mode),
		Credential:     purchase.Credential.String(),
		PricePaidCents: purchase.PricePaidCents.Int64(),
		Instructions:   purchase.Instructions,
	}
}

type checkoutPayload struct {
	MerchantOrderID string `json:"merchant_order_id"`
	PaymentURL      string `json:"payment_url"`
	AmountCents     int64  `json:"amount_cents"`
}

func newCheckoutPayload(session storefront.CheckoutSession) checkoutPayload {
	return checkoutPayload{
		MerchantOrderID: session.MerchantOrderID.String(),
		PaymentURL:      session.PaymentURL,
		AmountCents:     session.AmountCents.Int64(),
	}
}

type orderPayload struct {
	MerchantOrderID string `json:"merchant_order_id"`
	Kind            string `json:"kind"`
	Status          string `json:"status"`
	Category        string `json:"category,omitempty"`
	Mode            string `json:"mode,omitempty"`
	AmountCents     int64  `json:"amount_cents"`
	PaymentURL      string `json:"payment_url,omitempty"`
	CreatedUnixUTC  int64  `json:"created_unix_utc"`
}

func newOrderPayload(order storefront.PendingOrder) orderPayload {
	return orderPayload{
		MerchantOrderID: order.MerchantOrderID.String(),
		Kind:            string(order.Kind),
		Status:          string(order.Status),
		Category:        order.Category.String(),
		Mode:            string(order.Mode),
		AmountCents:     order.AmountCents.Int64(),
		PaymentURL:      order.PaymentURL,
		CreatedUnixUTC:  order.CreatedUnixUTC,
	}
}

type deliveryPayload struct {
	Credential   string `json:"credential"`
	Instructions string `json:"instructions,omitempty"`
}
