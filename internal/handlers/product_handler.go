package handlers

import (
	"libreria/internal/middleware"
	"libreria/internal/models"
	"libreria/internal/services"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// ProductHandler serves the catalog and admin restocking.
type ProductHandler struct {
	service *services.ProductService
	responder
}

// NewProductHandler creates a new ProductHandler.
func NewProductHandler(service *services.ProductService, logger *logrus.Logger) *ProductHandler {
	return &ProductHandler{
		service:   service,
		responder: responder{logger: logger, module: "handlers/products"},
	}
}

// RegisterRoutes registers the public catalog routes.
func (h *ProductHandler) RegisterRoutes(router fiber.Router) {
	productRoutes := router.Group("/products")
	productRoutes.Get("/", h.HandleGetProducts)
	productRoutes.Get("/:id", h.HandleGetProductByID)
}

// RegisterAdminRoutes registers stock management on an authenticated router.
func (h *ProductHandler) RegisterAdminRoutes(router fiber.Router) {
	router.Post("/products/:id/restock", middleware.RequireRole(models.RoleAdmin), h.HandleRestock)
}

// HandleGetProducts lists the catalog.
func (h *ProductHandler) HandleGetProducts(c *fiber.Ctx) error {
	products, err := h.service.GetAllProducts(c.UserContext())
	if err != nil {
		return h.fail(c, "HandleGetProducts", "Could not retrieve products", err)
	}
	return c.JSON(products)
}

// HandleGetProductByID returns one title with its available stock.
func (h *ProductHandler) HandleGetProductByID(c *fiber.Ctx) error {
	product, err := h.service.GetProductByID(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.fail(c, "HandleGetProductByID", "Could not retrieve product", err)
	}
	return c.JSON(product)
}

// HandleRestock adds units to a title.
func (h *ProductHandler) HandleRestock(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	var req services.RestockRequest
	if err := bindBody(c, &req); err != nil {
		return h.fail(c, "HandleRestock", "Restock failed", err)
	}
	record, err := h.service.Restock(c.UserContext(), c.Params("id"), req.Quantity, actor)
	if err != nil {
		return h.fail(c, "HandleRestock", "Restock failed", err)
	}
	return c.JSON(record)
}
