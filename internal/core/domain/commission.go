package domain

// CommissionBreakdown holds the split of one order line between the
// platform and the seller.
type CommissionBreakdown struct {
	LineNet          int64 // quantity*unitPrice - discount
	CommissionAmount int64
	SellerDue        int64
}

// ComputeCommission splits a line's net amount between platform
// commission and seller due. rateBps is the commission rate in basis
// points (1000 = 10%). Commission is rounded down; the seller receives
// the remainder so the two parts always sum to the line net exactly.
func ComputeCommission(quantity, unitPrice, discount, rateBps int64) CommissionBreakdown {
	net := quantity*unitPrice - discount
	if net < 0 {
		net = 0
	}
	commission := net * rateBps / 10000
	return CommissionBreakdown{
		LineNet:          net,
		CommissionAmount: commission,
		SellerDue:        net - commission,
	}
}

// PriceLineItem fills the computed commission fields of a line item.
// Called once at order creation; items are immutable afterwards.
func PriceLineItem(item *OrderLineItem) {
	b := ComputeCommission(item.Quantity, item.UnitPrice, item.Discount, item.CommissionRate)
	item.CommissionAmount = b.CommissionAmount
	item.SellerDue = b.SellerDue
}

// OrderTotals aggregates commission and seller-due amounts across the
// line items of one order. Shipping is never part of commission.
type OrderTotals struct {
	Net        int64
	Commission int64
	SellerDue  int64
}

// SumLineItems aggregates the priced line items of an order.
func SumLineItems(items []OrderLineItem) OrderTotals {
	var t OrderTotals
	for _, it := range items {
		t.Net += it.CommissionAmount + it.SellerDue
		t.Commission += it.CommissionAmount
		t.SellerDue += it.SellerDue
	}
	return t
}
