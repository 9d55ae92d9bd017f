package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ulsoftuz/bizora/internal/pkg/billing"
	"github.com/ulsoftuz/bizora/internal/pkg/database"
)

// Router installs a group of routes on the app.
type Router interface {
	InstallRouter(app *fiber.App)
}

func InstallRouter(app *fiber.App) {
	// Install PaymentRouter first: it initializes the payment controller
	// the API routes depend on.
	repo := billing.NewRepository(database.GetDB())
	setup(app, NewPaymentRouter(repo), NewApiRouter(repo))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
