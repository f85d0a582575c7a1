package handlers

import (
	"time"

	"libreria/internal/middleware"
	"libreria/internal/models"
	"libreria/internal/services"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// OrderHandler handles HTTP requests for orders.
type OrderHandler struct {
	service *services.OrderService
	responder
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(service *services.OrderService, logger *logrus.Logger) *OrderHandler {
	return &OrderHandler{
		service:   service,
		responder: responder{logger: logger, module: "handlers/orders"},
	}
}

// RegisterRoutes registers the order routes on an authenticated router.
func (h *OrderHandler) RegisterRoutes(router fiber.Router) {
	adminOnly := middleware.RequireRole(models.RoleAdmin)

	orderRoutes := router.Group("/orders")
	orderRoutes.Get("/", h.HandleGetOrders)
	orderRoutes.Get("/:id", h.HandleGetOrderByID)
	orderRoutes.Post("/:id/ready", adminOnly, h.HandleReady)
	orderRoutes.Post("/:id/ship", adminOnly, h.HandleShip)
	orderRoutes.Post("/:id/in-transit", adminOnly, h.HandleInTransit)
	orderRoutes.Post("/:id/deliver", adminOnly, h.HandleDeliver)
	orderRoutes.Post("/:id/cancel", h.HandleCancel)
}

// HandleGetOrders lists the caller's orders. Administrators pass
// ?customer_id= to list another customer's orders.
func (h *OrderHandler) HandleGetOrders(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	customerID := actor.ID
	if actor.Role == models.RoleAdmin {
		customerID = c.Query("customer_id")
		if customerID == "" {
			return h.fail(c, "HandleGetOrders", "Could not retrieve orders",
				models.NewValidationError("customer_id", "required for administrators"))
		}
	}
	orders, err := h.service.ListOrders(c.UserContext(), customerID)
	if err != nil {
		return h.fail(c, "HandleGetOrders", "Could not retrieve orders", err)
	}
	return c.JSON(orders)
}

// HandleGetOrderByID retrieves a single order by its ID.
func (h *OrderHandler) HandleGetOrderByID(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	order, err := h.service.GetOrder(c.UserContext(), c.Params("id"), actor)
	if err != nil {
		return h.fail(c, "HandleGetOrderByID", "Could not retrieve order", err)
	}
	return c.JSON(order)
}

// HandleReady marks a prepared order ready to ship.
func (h *OrderHandler) HandleReady(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	order, err := h.service.MarkReadyToShip(c.UserContext(), c.Params("id"), actor)
	if err != nil {
		return h.fail(c, "HandleReady", "Order update failed", err)
	}
	return c.JSON(order)
}

// HandleShip hands the order to a carrier.
func (h *OrderHandler) HandleShip(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	var data models.ShippingData
	if err := bindBody(c, &data); err != nil {
		return h.fail(c, "HandleShip", "Order update failed", err)
	}
	order, err := h.service.Ship(c.UserContext(), c.Params("id"), data, actor)
	if err != nil {
		return h.fail(c, "HandleShip", "Order update failed", err)
	}
	return c.JSON(order)
}

// HandleInTransit records a carrier update.
func (h *OrderHandler) HandleInTransit(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	var req struct {
		Note string `json:"note"`
	}
	if err := bindOptionalBody(c, &req); err != nil {
		return h.fail(c, "HandleInTransit", "Order update failed", err)
	}
	order, err := h.service.MarkInTransit(c.UserContext(), c.Params("id"), req.Note, actor)
	if err != nil {
		return h.fail(c, "HandleInTransit", "Order update failed", err)
	}
	return c.JSON(order)
}

// HandleDeliver records the delivery, optionally at a reported time.
func (h *OrderHandler) HandleDeliver(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	var req struct {
		DeliveredAt *time.Time `json:"delivered_at"`
	}
	if err := bindOptionalBody(c, &req); err != nil {
		return h.fail(c, "HandleDeliver", "Order update failed", err)
	}
	order, err := h.service.MarkDelivered(c.UserContext(), c.Params("id"), req.DeliveredAt, actor)
	if err != nil {
		return h.fail(c, "HandleDeliver", "Order update failed", err)
	}
	return c.JSON(order)
}

// HandleCancel cancels an order that has not shipped and refunds it.
func (h *OrderHandler) HandleCancel(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	var req services.CancelRequest
	if err := bindBody(c, &req); err != nil {
		return h.fail(c, "HandleCancel", "Order cancellation failed", err)
	}
	order, err := h.service.Cancel(c.UserContext(), c.Params("id"), req.Reason, actor)
	if err != nil {
		return h.fail(c, "HandleCancel", "Order cancellation failed", err)
	}
	return c.JSON(order)
}
