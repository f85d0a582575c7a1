package handlers

import (
	"libreria/internal/services"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// CheckoutHandler turns the caller's active cart into an order.
type CheckoutHandler struct {
	service *services.CheckoutService
	responder
}

// NewCheckoutHandler creates a new CheckoutHandler.
func NewCheckoutHandler(service *services.CheckoutService, logger *logrus.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		service:   service,
		responder: responder{logger: logger, module: "handlers/checkout"},
	}
}

// RegisterRoutes registers the checkout route on an authenticated router.
func (h *CheckoutHandler) RegisterRoutes(router fiber.Router) {
	router.Post("/checkout", h.HandleCheckout)
}

// HandleCheckout places an order for the authenticated customer.
func (h *CheckoutHandler) HandleCheckout(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	var req services.CheckoutRequest
	if err := bindBody(c, &req); err != nil {
		return h.fail(c, "HandleCheckout", "Checkout failed", err)
	}
	req.CustomerID = actor.ID

	order, err := h.service.Checkout(c.UserContext(), req)
	if err != nil {
		return h.fail(c, "HandleCheckout", "Checkout failed", err)
	}
	return c.Status(fiber.StatusCreated).JSON(order)
}
