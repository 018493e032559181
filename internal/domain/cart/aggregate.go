package cart

import "github.com/shopspring/decimal"

// AddItem returns c with quantity units of productID added. An existing line
// for the product is incremented and keeps its original price; otherwise a
// new line priced at unitPrice is appended.
func AddItem(c Cart, productID string, quantity int, unitPrice decimal.Decimal) (Cart, error) {
	if quantity < 1 {
		return c, ErrInvalidQuantity
	}

	if quantity > MaxQuantity {
		return c, ErrQuantityTooLarge
	}

	items := cloneItems(c.Items)
	if i := indexOf(items, productID); i >= 0 {
		if items[i].Quantity > MaxQuantity-quantity {
			return c, ErrQuantityTooLarge
		}
		items[i].Quantity += quantity
	} else {
		items = append(items, Item{
			ProductID: productID,
			Quantity:  quantity,
			Price:     unitPrice,
		})
	}

	c.Items = items
	return checkTotal(RecomputeTotal(c))
}

// SetItemQuantity overwrites the quantity of an existing line. A quantity of
// zero or less removes the line.
func SetItemQuantity(c Cart, productID string, quantity int) (Cart, error) {
	i := indexOf(c.Items, productID)
	if i < 0 {
		return c, ErrItemNotFound
	}
	if quantity <= 0 {
		return RemoveItem(c, productID)
	}
	if quantity > MaxQuantity {
		return c, ErrQuantityTooLarge
	}

	items := cloneItems(c.Items)
	items[i].Quantity = quantity
	c.Items = items
	return checkTotal(RecomputeTotal(c))
}

// RemoveItem drops the line for productID.
func RemoveItem(c Cart, productID string) (Cart, error) {
	i := indexOf(c.Items, productID)
	if i < 0 {
		return c, ErrItemNotFound
	}

	items := make([]Item, 0, len(c.Items)-1)
	items = append(items, c.Items[:i]...)
	items = append(items, c.Items[i+1:]...)
	c.Items = items
	return RecomputeTotal(c), nil
}

// Clear empties the cart.
func Clear(c Cart) Cart {
	c.Items = []Item{}
	return RecomputeTotal(c)
}

// RecomputeTotal sets Total to the sum of item subtotals.
func RecomputeTotal(c Cart) Cart {
	total := decimal.Zero
	for _, it := range c.Items {
		total = total.Add(it.Subtotal())
	}
	c.Total = total
	return c
}

func checkTotal(c Cart) (Cart, error) {
	if c.Total.GreaterThan(MaxTotal) {
		return c, ErrTotalTooLarge
	}
	return c, nil
}

func indexOf(items []Item, productID string) int {
	for i, it := range items {
		if it.ProductID == productID {
			return i
		}
	}
	return -1
}

func cloneItems(items []Item) []Item {
	out := make([]Item, len(items), len(items)+1)
	copy(out, items)
	return out
}
