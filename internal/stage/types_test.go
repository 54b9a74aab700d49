package stage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProductInStockTreatsUnknownStockAsInStock(t *testing.T) {
	p := Product{}
	assert.True(t, p.InStock(), "nil stock is an unknown signal, not a disqualifying one")

	zero := 0
	p.Stock = &zero
	assert.False(t, p.InStock())

	three := 3
	p.Stock = &three
	assert.True(t, p.InStock())
}

func TestConnectorResultOK(t *testing.T) {
	assert.True(t, ConnectorResult{Products: []Product{{}}}.OK())
	assert.False(t, ConnectorResult{Err: "timeout"}.OK())
}

func TestDecisionNoSuitableOption(t *testing.T) {
	assert.True(t, Decision{Reason: "no candidates passed policy"}.NoSuitableOption())
	assert.False(t, Decision{Selected: &Product{}}.NoSuitableOption())
}
