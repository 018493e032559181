package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product represents a catalog item available for purchase.
type Product struct {
	ID    string
	Name  string
	Price decimal.Decimal
	Stock int
}

// Catalog defines read operations for the product catalog. The catalog is
// owned by another service; this module only reads from it.
type Catalog interface {
	GetByID(ctx context.Context, id string) (*Product, error)
	// GetByIDs returns the products that exist among ids. Unknown ids are
	// silently skipped, so callers compare lengths to detect gaps.
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
}

// Index maps products by ID.
func Index(products []Product) map[string]Product {
	m := make(map[string]Product, len(products))
	for _, p := range products {
		m[p.ID] = p
	}
	return m
}
