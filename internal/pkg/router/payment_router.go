package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ulsoftuz/bizora/app/controllers"
	"github.com/ulsoftuz/bizora/internal/pkg/billing"
	"github.com/ulsoftuz/bizora/internal/pkg/events"
)

// PaymentRouter installs the provider webhook endpoints. These are called
// by Payme and Click, not by merchants, so they sit outside the API group
// and its rate limiter.
type PaymentRouter struct {
	repo billing.Repository
}

func NewPaymentRouter(repo billing.Repository) *PaymentRouter {
	return &PaymentRouter{repo: repo}
}

func (h PaymentRouter) InstallRouter(app *fiber.App) {
	cfg := billing.LoadConfigFromEnv()

	dispatcher := events.NewFanoutDispatcher()
	billing.NewActivationHandler(h.repo).Register(dispatcher)

	payme := billing.NewPaymeService(cfg, h.repo, dispatcher)
	click := billing.NewClickService(cfg, h.repo, dispatcher)
	checkout := billing.NewCheckoutService(cfg, h.repo, billing.NewRedisURLCache())
	checkout.Register(dispatcher)
	controllers.InitializePaymentController(payme, click, checkout)

	pc := controllers.GetPaymentController()
	payments := app.Group("/payments")
	payments.Post("/payme", pc.HandlePaymeWebhook)
	// Click lets merchants configure separate Prepare and Complete URLs;
	// both land on the same action-routed handler.
	payments.Post("/click", pc.HandleClickWebhook)
	payments.Post("/click/prepare", pc.HandleClickWebhook)
	payments.Post("/click/complete", pc.HandleClickWebhook)
}
