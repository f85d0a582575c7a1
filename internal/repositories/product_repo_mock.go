package repositories

import (
	"context"
	"sort"
	"time"

	"libreria/internal/models"

	"github.com/google/uuid"
)

// MockProductRepository is an in-memory implementation of ProductRepository.
type MockProductRepository struct {
	memoryScope
}

// GetAll returns all products ordered by title.
func (r *MockProductRepository) GetAll(ctx context.Context) ([]models.Product, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	productList := make([]models.Product, 0, len(r.s.data.products))
	for _, product := range r.s.data.products {
		productList = append(productList, product)
	}
	sort.Slice(productList, func(i, j int) bool { return productList[i].Title < productList[j].Title })
	return productList, nil
}

// GetByID returns a product by its ID.
func (r *MockProductRepository) GetByID(ctx context.Context, id string) (*models.Product, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	product, ok := r.s.data.products[id]
	if !ok {
		return nil, &models.NotFoundError{Entity: "product", ID: id}
	}
	return &product, nil
}

// Create adds a new product.
func (r *MockProductRepository) Create(ctx context.Context, product *models.Product) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if product.ID == "" {
		product.ID = uuid.New().String()
	}
	product.CreatedAt = time.Now()
	product.UpdatedAt = time.Now()
	put(r.memoryScope, r.s.data.products, product.ID, *product)
	return nil
}
