package shared

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRound2HalfAwayFromZero(t *testing.T) {
	assert.Equal(t, 3.19, Round2(3.185))
	assert.Equal(t, -3.19, Round2(-3.185))
	assert.Equal(t, 2.50, Round2(2.5))
	assert.Equal(t, 0.0, Round2(0.004))
	assert.Equal(t, 0.01, Round2(0.005))
}

func TestLineTotals(t *testing.T) {
	gross, discount, net := LineTotals(3, 8.50, 10)

	assert.Equal(t, 25.50, gross)
	assert.Equal(t, 2.55, discount)
	assert.Equal(t, 22.95, net)
}

func TestLineTotalsNoDiscount(t *testing.T) {
	gross, discount, net := LineTotals(2, 12.345, 0)

	assert.Equal(t, 24.69, gross)
	assert.Equal(t, 0.0, discount)
	assert.Equal(t, 24.69, net)
}

func TestDocumentTotals(t *testing.T) {
	tax, total := DocumentTotals(25.00, 0.50, 13)

	assert.Equal(t, 3.19, tax)
	assert.Equal(t, 27.69, total)
}

func TestDocumentTotalsZeroTax(t *testing.T) {
	tax, total := DocumentTotals(100.00, 0, 0)

	assert.Equal(t, 0.0, tax)
	assert.Equal(t, 100.00, total)
}
