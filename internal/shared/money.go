package shared

import "github.com/shopspring/decimal"

// Round2 rounds a currency amount to 2 decimals, half away from zero.
// Routing through decimal avoids binary-float artifacts such as
// 3.185 scaling to 318.4999... before rounding.
func Round2(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}

// LineTotals computes the money breakdown for one line item.
// Every returned amount is rounded to 2 decimals.
func LineTotals(quantity, unitPrice, discountPercent float64) (gross, discount, net float64) {
	gross = Round2(quantity * unitPrice)
	discount = Round2(gross * discountPercent / 100)
	net = Round2(gross - discount)
	return
}

// DocumentTotals derives the document-level amounts from the summed line
// figures. tax = round2(taxRate% * (subtotal - discount));
// total = subtotal - discount + tax.
func DocumentTotals(subtotal, discount, taxPercent float64) (tax, total float64) {
	base := Round2(subtotal - discount)
	tax = Round2(base * taxPercent / 100)
	total = Round2(base + tax)
	return
}
