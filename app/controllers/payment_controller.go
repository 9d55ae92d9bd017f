package controllers

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ulsoftuz/bizora/app/models"
	"github.com/ulsoftuz/bizora/internal/pkg/billing"
	"github.com/ulsoftuz/bizora/internal/pkg/metrics/counter"
	"github.com/ulsoftuz/bizora/internal/pkg/middleware"
)

// PaymentController exposes the payment webhooks and the merchant checkout
// API over Fiber. Webhook handlers always answer HTTP 200; protocol errors
// travel inside the provider-specific response body.
type PaymentController struct {
	payme    *billing.PaymeService
	click    *billing.ClickService
	checkout *billing.CheckoutService
	validate *validator.Validate
}

var paymentController *PaymentController

// InitializePaymentController wires the controller with its services. Must
// run before the payment routes are installed.
func InitializePaymentController(payme *billing.PaymeService, click *billing.ClickService, checkout *billing.CheckoutService) {
	paymentController = &PaymentController{
		payme:    payme,
		click:    click,
		checkout: checkout,
		validate: validator.New(),
	}
}

// GetPaymentController returns the initialized controller.
func GetPaymentController() *PaymentController {
	if paymentController == nil {
		panic("payment controller not initialized")
	}
	return paymentController
}

// HandlePaymeWebhook receives Payme's JSON-RPC calls. Authentication and
// routing happen in the service; the transport always returns 200.
func (pc *PaymentController) HandlePaymeWebhook(c *fiber.Ctx) error {
	_ = counter.AddWebhookDelivery(models.ProviderPayme, "rpc")
	resp := pc.payme.HandleRequest(c.Get(fiber.HeaderAuthorization), c.IP(), c.Body())
	return c.Status(fiber.StatusOK).JSON(resp)
}

// HandleClickWebhook receives Click's form-encoded Prepare and Complete
// calls on a single endpoint, routed by the action field.
func (pc *PaymentController) HandleClickWebhook(c *fiber.Ctx) error {
	var req billing.ClickRequest
	if err := c.BodyParser(&req); err != nil {
		fiberlog.Warn(fmt.Sprintf("[PaymentController] click body parse failed: %v", err))
		return c.Status(fiber.StatusOK).JSON(billing.ClickResponse{
			Error:     billing.ClickErrSignCheckFailed,
			ErrorNote: "SIGN CHECK FAILED",
		})
	}
	_ = counter.AddWebhookDelivery(models.ProviderClick, fmt.Sprintf("action_%d", req.Action))
	return c.Status(fiber.StatusOK).JSON(pc.click.HandleRequest(req))
}

// CheckoutRequest is the merchant-facing body for starting a payment.
type CheckoutRequest struct {
	PlanID       uint   `json:"plan_id" validate:"required"`
	Provider     string `json:"provider" validate:"required,oneof=payme click"`
	BillingCycle string `json:"billing_cycle" validate:"omitempty,oneof=monthly yearly"`
	ReturnURL    string `json:"return_url" validate:"omitempty,url"`
}

// CreateCheckout starts a payment for the authenticated business and
// returns the hosted payment page URL.
func (pc *PaymentController) CreateCheckout(c *fiber.Ctx) error {
	business, ok := c.Locals(middleware.BusinessContextKey).(*models.Business)
	if !ok || business == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing business context"})
	}

	var req CheckoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid JSON body"})
	}
	if err := pc.validate.Struct(req); err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "validation_failed", "message": err.Error()})
	}

	result, err := pc.checkout.CreateCheckout(billing.CheckoutInput{
		BusinessID:   business.ID,
		PlanID:       req.PlanID,
		Provider:     req.Provider,
		BillingCycle: req.BillingCycle,
		ReturnURL:    req.ReturnURL,
		IPAddress:    c.IP(),
		UserAgent:    c.Get(fiber.HeaderUserAgent),
	})
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrPlanNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": err.Error()})
		case errors.Is(err, billing.ErrUnsupportedProvider),
			errors.Is(err, billing.ErrInvalidBillingCycle),
			errors.Is(err, billing.ErrInvalidAmount),
			errors.Is(err, billing.ErrPlanInactive),
			errors.Is(err, billing.ErrBusinessInactive):
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "validation_failed", "message": err.Error()})
		default:
			fiberlog.Error(fmt.Sprintf("[PaymentController] checkout failed business_id=%d: %v", business.ID, err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Checkout failed"})
		}
	}

	status := fiber.StatusCreated
	if result.Reused {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(fiber.Map{
		"order_id":    result.Transaction.OrderID,
		"payment_url": result.PaymentURL,
		"amount":      result.Transaction.Amount,
		"currency":    result.Transaction.Currency,
		"provider":    result.Transaction.Provider,
		"status":      result.Transaction.Status,
		"expires_at":  result.Transaction.ExpiresAt,
	})
}

// GetTransaction returns the state of one checkout for status polling,
// scoped to the authenticated business.
func (pc *PaymentController) GetTransaction(c *fiber.Ctx) error {
	business, ok := c.Locals(middleware.BusinessContextKey).(*models.Business)
	if !ok || business == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing business context"})
	}

	orderID := c.Params("order_id")
	tx, err := pc.checkout.FindByOrderID(orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Transaction not found"})
		}
		fiberlog.Error(fmt.Sprintf("[PaymentController] transaction lookup failed order_id=%s: %v", orderID, err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Lookup failed"})
	}
	if tx.BusinessID != business.ID {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Transaction not found"})
	}

	return c.JSON(fiber.Map{
		"order_id":     tx.OrderID,
		"status":       tx.Status,
		"provider":     tx.Provider,
		"amount":       tx.Amount,
		"currency":     tx.Currency,
		"performed_at": tx.PerformedAt,
		"cancelled_at": tx.CancelledAt,
		"expires_at":   tx.ExpiresAt,
		"created_at":   tx.CreatedAt,
	})
}
