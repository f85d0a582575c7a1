package handlers

import (
	"libreria/internal/services"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// TrackingHandler serves the public, redacted tracking views.
type TrackingHandler struct {
	service *services.TrackingService
	responder
}

// NewTrackingHandler creates a new TrackingHandler.
func NewTrackingHandler(service *services.TrackingService, logger *logrus.Logger) *TrackingHandler {
	return &TrackingHandler{
		service:   service,
		responder: responder{logger: logger, module: "handlers/tracking"},
	}
}

// RegisterRoutes registers the tracking routes. They need no token.
func (h *TrackingHandler) RegisterRoutes(router fiber.Router) {
	trackingRoutes := router.Group("/tracking")
	trackingRoutes.Get("/orders/:number", h.HandleOrder)
	trackingRoutes.Get("/returns/:code", h.HandleReturn)
	trackingRoutes.Get("/qr/:token", h.HandleReturnByToken)
}

func (h *TrackingHandler) HandleOrder(c *fiber.Ctx) error {
	view, err := h.service.OrderByNumber(c.UserContext(), c.Params("number"))
	if err != nil {
		return h.fail(c, "HandleOrder", "Order not found", err)
	}
	return c.JSON(view)
}

func (h *TrackingHandler) HandleReturn(c *fiber.Ctx) error {
	view, err := h.service.ReturnByCode(c.UserContext(), c.Params("code"))
	if err != nil {
		return h.fail(c, "HandleReturn", "Return not found", err)
	}
	return c.JSON(view)
}

func (h *TrackingHandler) HandleReturnByToken(c *fiber.Ctx) error {
	view, err := h.service.ReturnByToken(c.UserContext(), c.Params("token"))
	if err != nil {
		return h.fail(c, "HandleReturnByToken", "Return not found", err)
	}
	return c.JSON(view)
}
