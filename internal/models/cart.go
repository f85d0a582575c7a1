package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CartStatus is the lifecycle state of a shopping cart.
type CartStatus string

const (
	CartActive    CartStatus = "activo"
	CartConverted CartStatus = "convertido_a_compra"
	CartAbandoned CartStatus = "abandonado"
)

// CartItem is a priced cart line. Re-pricing only happens here, before checkout.
type CartItem struct {
	ProductID       string          `json:"product_id"`
	Quantity        int             `json:"quantity"`
	UnitPrice       Money           `json:"unit_price"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	TaxPercent      decimal.Decimal `json:"tax_percent"`
}

// CartTotals are the running totals of a cart.
type CartTotals struct {
	Subtotal  Money `json:"subtotal"`
	Discounts Money `json:"discounts"`
	Taxes     Money `json:"taxes"`
	Total     Money `json:"total"`
}

// Cart is a customer's shopping cart. A customer has at most one active cart.
type Cart struct {
	ID         string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	CustomerID string     `json:"customer_id" gorm:"index;type:varchar(36);not null"`
	Status     CartStatus `json:"status" gorm:"type:varchar(30);index"`
	Items      []CartItem `json:"items" gorm:"serializer:json"`
	Totals     CartTotals `json:"totals" gorm:"embedded;embeddedPrefix:total_"`
	Version    int64      `json:"version"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// CartSnapshot is the read-only view checkout works from.
type CartSnapshot struct {
	CartID     string
	CustomerID string
	Items      []CartItem
	Totals     CartTotals
}

// Snapshot freezes the cart lines.
func (c *Cart) Snapshot() CartSnapshot {
	items := make([]CartItem, len(c.Items))
	copy(items, c.Items)
	return CartSnapshot{CartID: c.ID, CustomerID: c.CustomerID, Items: items, Totals: c.Totals}
}

// Recalculate refreshes the cart totals from its lines.
func (c *Cart) Recalculate() {
	var t CartTotals
	for _, it := range c.Items {
		p := PriceLine(it.UnitPrice, it.Quantity, it.DiscountPercent, it.TaxPercent)
		t.Subtotal += p.Subtotal
		t.Discounts += p.Discount
		t.Taxes += p.Tax
	}
	t.Total = t.Subtotal - t.Discounts + t.Taxes
	c.Totals = t
}

// Clear empties the cart and marks it converted into a purchase.
func (c *Cart) Clear(now time.Time) {
	c.Items = nil
	c.Totals = CartTotals{}
	c.Status = CartConverted
	c.UpdatedAt = now
}

// Clone returns a deep copy.
func (c Cart) Clone() Cart {
	c.Items = append([]CartItem(nil), c.Items...)
	return c
}

// LinePricing is the per-line breakdown used by both carts and orders.
type LinePricing struct {
	UnitDiscount Money
	UnitTax      Money
	Subtotal     Money
	Discount     Money
	Tax          Money
}

// PriceLine computes discount and tax per unit, then multiplies by quantity,
// so a partial return of n units always refunds n times the unit amounts.
func PriceLine(unitPrice Money, qty int, discountPct, taxPct decimal.Decimal) LinePricing {
	unitDiscount := CalculateDiscountAmount(unitPrice, discountPct)
	unitTax := CalculateTaxAmount(unitPrice-unitDiscount, taxPct)
	return LinePricing{
		UnitDiscount: unitDiscount,
		UnitTax:      unitTax,
		Subtotal:     unitPrice.Times(qty),
		Discount:     unitDiscount.Times(qty),
		Tax:          unitTax.Times(qty),
	}
}
