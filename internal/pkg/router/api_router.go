package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/ulsoftuz/bizora/app/controllers"
	"github.com/ulsoftuz/bizora/internal/pkg/billing"
	"github.com/ulsoftuz/bizora/internal/pkg/middleware"
)

// ApiRouter installs the merchant-facing API, authenticated with business
// API keys.
type ApiRouter struct {
	repo billing.Repository
}

func NewApiRouter(repo billing.Repository) *ApiRouter {
	return &ApiRouter{repo: repo}
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New())
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	pc := controllers.GetPaymentController()
	v1 := api.Group("/v1", middleware.APIKeyAuthMiddleware(h.repo))
	v1.Post("/checkout", pc.CreateCheckout)
	v1.Get("/transactions/:order_id", pc.GetTransaction)
}
