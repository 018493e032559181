package handler

import (
	"time"

	"github.com/xenking/xixi-cart/internal/domain/cart"
	"github.com/xenking/xixi-cart/internal/domain/order"
	"github.com/xenking/xixi-cart/internal/domain/product"
)

type productResponse struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
	Stock int     `json:"stock"`
}

type cartItemResponse struct {
	ProductID string           `json:"productId"`
	Product   *productResponse `json:"product,omitempty"`
	Quantity  int              `json:"quantity"`
	Price     float64          `json:"price"`
	Subtotal  float64          `json:"subtotal"`
}

type cartResponse struct {
	ID          string             `json:"id"`
	UserID      string             `json:"userId"`
	Items       []cartItemResponse `json:"items"`
	TotalAmount float64            `json:"totalAmount"`
	CreatedAt   time.Time          `json:"createdAt"`
	UpdatedAt   time.Time          `json:"updatedAt"`
}

// toCartResponse renders c, embedding the catalog entry of every line whose
// product appears in products.
func toCartResponse(c *cart.Cart, products map[string]product.Product) cartResponse {
	items := make([]cartItemResponse, len(c.Items))
	for i, it := range c.Items {
		items[i] = cartItemResponse{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			Price:     it.Price.InexactFloat64(),
			Subtotal:  it.Subtotal().InexactFloat64(),
		}
		if p, ok := products[it.ProductID]; ok {
			items[i].Product = &productResponse{
				ID:    p.ID,
				Name:  p.Name,
				Price: p.Price.InexactFloat64(),
				Stock: p.Stock,
			}
		}
	}
	return cartResponse{
		ID:          c.ID,
		UserID:      c.UserID,
		Items:       items,
		TotalAmount: c.Total.InexactFloat64(),
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

type orderItemResponse struct {
	ProductID string  `json:"productId"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
	Subtotal  float64 `json:"subtotal"`
}

type addressResponse struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

type orderResponse struct {
	ID              string              `json:"id"`
	UserID          string              `json:"userId"`
	Items           []orderItemResponse `json:"items"`
	TotalAmount     float64             `json:"totalAmount"`
	ShippingAddress addressResponse     `json:"shippingAddress"`
	Notes           string              `json:"notes"`
	PaymentMethod   string              `json:"paymentMethod"`
	Status          order.Status        `json:"status"`
	CreatedAt       time.Time           `json:"createdAt"`
	UpdatedAt       time.Time           `json:"updatedAt"`
}

func toOrderResponse(o *order.Order) orderResponse {
	items := make([]orderItemResponse, len(o.Items))
	for i, it := range o.Items {
		items[i] = orderItemResponse{
			ProductID: it.ProductID,
			Name:      it.Name,
			Quantity:  it.Quantity,
			Price:     it.Price.InexactFloat64(),
			Subtotal:  it.Subtotal.InexactFloat64(),
		}
	}
	return orderResponse{
		ID:          o.ID,
		UserID:      o.UserID,
		Items:       items,
		TotalAmount: o.Total.InexactFloat64(),
		ShippingAddress: addressResponse{
			Street:     o.ShippingAddress.Street,
			City:       o.ShippingAddress.City,
			PostalCode: o.ShippingAddress.PostalCode,
			Country:    o.ShippingAddress.Country,
		},
		Notes:         o.Notes,
		PaymentMethod: o.PaymentMethod,
		Status:        o.Status,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
}

func toOrderResponses(orders []order.Order) []orderResponse {
	out := make([]orderResponse, len(orders))
	for i := range orders {
		out[i] = toOrderResponse(&orders[i])
	}
	return out
}

type statusChangeResponse struct {
	OrderID   string       `json:"orderId"`
	From      order.Status `json:"from"`
	To        order.Status `json:"to"`
	ChangedBy string       `json:"changedBy"`
	ChangedAt time.Time    `json:"changedAt"`
}

func toStatusChangeResponses(changes []order.StatusChange) []statusChangeResponse {
	out := make([]statusChangeResponse, len(changes))
	for i, c := range changes {
		out[i] = statusChangeResponse{
			OrderID:   c.OrderID,
			From:      c.From,
			To:        c.To,
			ChangedBy: c.ChangedBy,
			ChangedAt: c.ChangedAt,
		}
	}
	return out
}
