package product

import (
	"context"
	"fmt"
)

// InsufficientStockError is returned when the catalog holds fewer units of a
// product than were requested.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

// StockValidator checks requested quantities against catalog stock.
type StockValidator struct {
	catalog Catalog
}

// NewStockValidator creates a StockValidator reading from catalog.
func NewStockValidator(catalog Catalog) *StockValidator {
	return &StockValidator{catalog: catalog}
}

// CheckAvailable resolves the product and verifies that at least requested
// units are in stock. Only the requested amount is compared, not whatever
// quantity the caller may already hold in a cart.
//
// The resolved product is returned so callers can snapshot its current price.
func (v *StockValidator) CheckAvailable(ctx context.Context, productID string, requested int) (*Product, error) {
	p, err := v.catalog.GetByID(ctx, productID)
	if err != nil {
		return nil, err
	}
	if p.Stock < requested {
		return nil, &InsufficientStockError{
			ProductID: p.ID,
			Requested: requested,
			Available: p.Stock,
		}
	}
	return p, nil
}
