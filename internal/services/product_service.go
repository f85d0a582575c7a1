package services

import (
	"context"

	"libreria/internal/models"
	"libreria/internal/repositories"
)

// ProductService serves the read-only catalog and the admin restock entry
// point of the inventory ledger.
type ProductService struct {
	deps   Deps
	ledger InventoryLedger
}

// NewProductService creates a new ProductService.
func NewProductService(deps Deps) *ProductService {
	return &ProductService{deps: deps}
}

// ProductView is a catalog entry with its current availability.
type ProductView struct {
	models.Product
	StockAvailable int `json:"stock_disponible"`
}

// GetAllProducts retrieves all products.
func (s *ProductService) GetAllProducts(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	err := s.deps.inTx(ctx, "list products", func(ctx context.Context, store repositories.Store) error {
		var err error
		products, err = store.Products().GetAll(ctx)
		return err
	})
	return products, err
}

// GetProductByID retrieves a single product and its availability.
func (s *ProductService) GetProductByID(ctx context.Context, id string) (*ProductView, error) {
	var view *ProductView
	err := s.deps.inTx(ctx, "get product", func(ctx context.Context, store repositories.Store) error {
		p, err := store.Products().GetByID(ctx, id)
		if err != nil {
			return err
		}
		view = &ProductView{Product: *p}
		rec, err := store.Inventory().Get(ctx, id)
		switch {
		case err == nil:
			view.StockAvailable = rec.StockAvailable
		case !models.IsNotFound(err):
			return err
		}
		return nil
	})
	return view, err
}

// RestockRequest is the body of an admin restock.
type RestockRequest struct {
	Quantity int `json:"quantity" validate:"required,gt=0"`
}

// Restock adds units to a title's stock through the inventory ledger.
func (s *ProductService) Restock(ctx context.Context, productID string, qty int, actor models.Actor) (rec *models.InventoryRecord, err error) {
	ctx, finish := startSpan(ctx, "products.Restock")
	defer finish(&err)

	err = s.deps.inTx(ctx, "restock", func(ctx context.Context, store repositories.Store) error {
		if _, err := store.Products().GetByID(ctx, productID); err != nil {
			return err
		}
		if _, err := s.ledger.Restock(ctx, store, productID, qty, actor, s.deps.now()); err != nil {
			return err
		}
		rec, err = store.Inventory().Get(ctx, productID)
		return err
	})
	if err != nil {
		s.deps.logError("Restock", "restock failed", map[string]any{"product_id": productID, "quantity": qty}, err)
		return nil, err
	}
	s.deps.kick()
	return rec, nil
}
