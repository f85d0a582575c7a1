package handlers

import (
	"libreria/internal/middleware"
	"libreria/internal/models"
	"libreria/internal/services"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// ReturnHandler handles HTTP requests for returns and their refunds.
type ReturnHandler struct {
	returns *services.ReturnService
	refunds *services.RefundService
	responder
}

// NewReturnHandler creates a new ReturnHandler.
func NewReturnHandler(returns *services.ReturnService, refunds *services.RefundService, logger *logrus.Logger) *ReturnHandler {
	return &ReturnHandler{
		returns:   returns,
		refunds:   refunds,
		responder: responder{logger: logger, module: "handlers/returns"},
	}
}

// RegisterRoutes registers the return routes on an authenticated router.
func (h *ReturnHandler) RegisterRoutes(router fiber.Router) {
	adminOnly := middleware.RequireRole(models.RoleAdmin)

	returnRoutes := router.Group("/returns")
	returnRoutes.Post("/", h.HandleCreate)
	returnRoutes.Get("/:id", h.HandleGet)
	returnRoutes.Post("/:id/approve", adminOnly, h.HandleApprove)
	returnRoutes.Post("/:id/reject", adminOnly, h.HandleReject)
	returnRoutes.Post("/:id/in-transit", h.HandleInTransit)
	returnRoutes.Post("/:id/receive", adminOnly, h.HandleReceive)
	returnRoutes.Post("/:id/inspect", adminOnly, h.HandleInspect)
	returnRoutes.Post("/:id/refund", adminOnly, h.HandleRefund)
	returnRoutes.Post("/:id/retry-refund", adminOnly, h.HandleRetryRefund)
	returnRoutes.Post("/:id/cancel", h.HandleCancel)
	returnRoutes.Post("/:id/documents", h.HandleAttachDocument)
}

// HandleCreate opens a return against a delivered order.
func (h *ReturnHandler) HandleCreate(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	var req services.CreateReturnRequest
	if err := bindBody(c, &req); err != nil {
		return h.fail(c, "HandleCreate", "Return request failed", err)
	}
	ret, err := h.returns.CreateReturn(c.UserContext(), req, actor)
	if err != nil {
		return h.fail(c, "HandleCreate", "Return request failed", err)
	}
	return c.Status(fiber.StatusCreated).JSON(ret)
}

// HandleGet retrieves a return. Customers only see their own.
func (h *ReturnHandler) HandleGet(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	ret, err := h.returns.GetReturn(c.UserContext(), c.Params("id"), actor)
	if err != nil {
		return h.fail(c, "HandleGet", "Could not retrieve return", err)
	}
	return c.JSON(ret)
}

type notesRequest struct {
	Notes string `json:"notes"`
}

type reasonRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// HandleApprove approves a requested return and starts its shipping deadline.
func (h *ReturnHandler) HandleApprove(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	var req notesRequest
	if err := bindOptionalBody(c, &req); err != nil {
		return h.fail(c, "HandleApprove", "Return update failed", err)
	}
	ret, err := h.returns.Approve(c.UserContext(), c.Params("id"), req.Notes, actor)
	if err != nil {
		return h.fail(c, "HandleApprove", "Return update failed", err)
	}
	return c.JSON(ret)
}

// HandleReject rejects a requested return.
func (h *ReturnHandler) HandleReject(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	var req reasonRequest
	if err := bindBody(c, &req); err != nil {
		return h.fail(c, "HandleReject", "Return update failed", err)
	}
	ret, err := h.returns.Reject(c.UserContext(), c.Params("id"), req.Reason, actor)
	if err != nil {
		return h.fail(c, "HandleReject", "Return update failed", err)
	}
	return c.JSON(ret)
}

// HandleInTransit records the customer's parcel tracking number.
func (h *ReturnHandler) HandleInTransit(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	var req struct {
		TrackingNumber string `json:"tracking_number" validate:"required"`
	}
	if err := bindBody(c, &req); err != nil {
		return h.fail(c, "HandleInTransit", "Return update failed", err)
	}
	ret, err := h.returns.MarkInTransit(c.UserContext(), c.Params("id"), req.TrackingNumber, actor)
	if err != nil {
		return h.fail(c, "HandleInTransit", "Return update failed", err)
	}
	return c.JSON(ret)
}

// HandleReceive records the parcel's arrival at the warehouse.
func (h *ReturnHandler) HandleReceive(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	var receipt models.ReceiptData
	if err := bindOptionalBody(c, &receipt); err != nil {
		return h.fail(c, "HandleReceive", "Return update failed", err)
	}
	ret, err := h.returns.Receive(c.UserContext(), c.Params("id"), receipt, actor)
	if err != nil {
		return h.fail(c, "HandleReceive", "Return update failed", err)
	}
	return c.JSON(ret)
}

// HandleInspect records one item's inspection outcome.
func (h *ReturnHandler) HandleInspect(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	var req services.InspectRequest
	if err := bindBody(c, &req); err != nil {
		return h.fail(c, "HandleInspect", "Inspection failed", err)
	}
	ret, err := h.returns.Inspect(c.UserContext(), c.Params("id"), req, actor)
	if err != nil {
		return h.fail(c, "HandleInspect", "Inspection failed", err)
	}
	return c.JSON(ret)
}

// HandleRefund settles an inspected return.
func (h *ReturnHandler) HandleRefund(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	ret, err := h.refunds.ProcessRefund(c.UserContext(), c.Params("id"), actor)
	if err != nil {
		return h.fail(c, "HandleRefund", "Refund failed", err)
	}
	return c.JSON(ret)
}

// HandleRetryRefund retries a refund parked after a processor failure.
func (h *ReturnHandler) HandleRetryRefund(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	ret, err := h.refunds.RetryRefund(c.UserContext(), c.Params("id"), actor)
	if err != nil {
		return h.fail(c, "HandleRetryRefund", "Refund retry failed", err)
	}
	return c.JSON(ret)
}

// HandleCancel withdraws a return.
func (h *ReturnHandler) HandleCancel(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	var req reasonRequest
	if err := bindBody(c, &req); err != nil {
		return h.fail(c, "HandleCancel", "Return cancellation failed", err)
	}
	ret, err := h.returns.Cancel(c.UserContext(), c.Params("id"), req.Reason, actor)
	if err != nil {
		return h.fail(c, "HandleCancel", "Return cancellation failed", err)
	}
	return c.JSON(ret)
}

// HandleAttachDocument adds a photo or receipt to a return.
func (h *ReturnHandler) HandleAttachDocument(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	var req services.AttachDocumentRequest
	if err := bindBody(c, &req); err != nil {
		return h.fail(c, "HandleAttachDocument", "Could not attach document", err)
	}
	ret, err := h.returns.AttachDocument(c.UserContext(), c.Params("id"), req, actor)
	if err != nil {
		return h.fail(c, "HandleAttachDocument", "Could not attach document", err)
	}
	return c.Status(fiber.StatusCreated).JSON(ret)
}
