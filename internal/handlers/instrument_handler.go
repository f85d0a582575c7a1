package handlers

import (
	"libreria/internal/middleware"
	"libreria/internal/models"
	"libreria/internal/services"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// InstrumentHandler exposes debit balances.
type InstrumentHandler struct {
	service *services.InstrumentService
	responder
}

// NewInstrumentHandler creates a new InstrumentHandler.
func NewInstrumentHandler(service *services.InstrumentService, logger *logrus.Logger) *InstrumentHandler {
	return &InstrumentHandler{
		service:   service,
		responder: responder{logger: logger, module: "handlers/instruments"},
	}
}

// RegisterRoutes registers the instrument routes on an authenticated router.
func (h *InstrumentHandler) RegisterRoutes(router fiber.Router) {
	instrumentRoutes := router.Group("/instruments")
	instrumentRoutes.Get("/:id/balance", h.HandleGetBalance)
	instrumentRoutes.Post("/:id/deposit", middleware.RequireRole(models.RoleAdmin), h.HandleDeposit)
	instrumentRoutes.Post("/:id/adjust", middleware.RequireRole(models.RoleAdmin), h.HandleAdjust)
}

// DepositRequest is the body of an admin top-up.
type DepositRequest struct {
	Amount models.Money `json:"amount" validate:"required,gt=0"`
	Memo   string       `json:"memo" validate:"max=255"`
}

// AdjustRequest is a signed manual correction.
type AdjustRequest struct {
	Amount models.Money `json:"amount" validate:"required"`
	Memo   string       `json:"memo" validate:"required,max=255"`
}

// HandleGetBalance returns the balance and its movement history.
func (h *InstrumentHandler) HandleGetBalance(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	view, err := h.service.GetBalance(c.UserContext(), c.Params("id"), actor)
	if err != nil {
		return h.fail(c, "HandleGetBalance", "Could not retrieve balance", err)
	}
	return c.JSON(view)
}

// HandleDeposit tops up a debit instrument.
func (h *InstrumentHandler) HandleDeposit(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	var req DepositRequest
	if err := bindBody(c, &req); err != nil {
		return h.fail(c, "HandleDeposit", "Deposit failed", err)
	}
	mv, err := h.service.Deposit(c.UserContext(), c.Params("id"), req.Amount, req.Memo, actor)
	if err != nil {
		return h.fail(c, "HandleDeposit", "Deposit failed", err)
	}
	return c.Status(fiber.StatusCreated).JSON(mv)
}

// HandleAdjust posts a manual correction to a debit balance.
func (h *InstrumentHandler) HandleAdjust(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	var req AdjustRequest
	if err := bindBody(c, &req); err != nil {
		return h.fail(c, "HandleAdjust", "Adjustment failed", err)
	}
	mv, err := h.service.Adjust(c.UserContext(), c.Params("id"), req.Amount, req.Memo, actor)
	if err != nil {
		return h.fail(c, "HandleAdjust", "Adjustment failed", err)
	}
	return c.Status(fiber.StatusCreated).JSON(mv)
}
