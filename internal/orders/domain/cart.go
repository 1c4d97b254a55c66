package domain

import "github.com/shopspring/decimal"

// CartLine is one product colour in a user's cart, priced from the catalog.
type CartLine struct {
	ID           string
	ProductID    string
	ProductName  string
	ProductImage string
	Color        string
	UnitPrice    decimal.Decimal
	Discount     decimal.Decimal
	Quantity     int
}

// CartSnapshot is the current working set of a user's cart.
type CartSnapshot struct {
	UserID string
	Lines  []CartLine
}

// Select returns the lines with the given ids in request order. Unknown ids are reported.
func (c CartSnapshot) Select(ids []string) ([]CartLine, []string) {
	byID := make(map[string]CartLine, len(c.Lines))
	for _, line := range c.Lines {
		byID[line.ID] = line
	}

	selected := make([]CartLine, 0, len(ids))
	var missing []string
	for _, id := range ids {
		line, ok := byID[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		selected = append(selected, line)
	}
	return selected, missing
}

// Address is an entry of the user's address book.
type Address struct {
	ID            string
	UserID        string
	RecipientName string
	Phone         string
	Street        string
	Ward          string
	District      string
	City          string
}

// Shipping copies the address into the denormalized form stored on orders.
func (a Address) Shipping() ShippingAddress {
	return ShippingAddress{
		RecipientName: a.RecipientName,
		Phone:         a.Phone,
		Street:        a.Street,
		Ward:          a.Ward,
		District:      a.District,
		City:          a.City,
	}
}
