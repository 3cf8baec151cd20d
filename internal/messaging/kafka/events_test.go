package kafka

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func TestParseRestock(t *testing.T) {
	id, qty, err := ParseRestock([]byte(`{"product_id":"choc","amount":"2.5","metric":"kg"}`))
	require.NoError(t, err)
	assert.Equal(t, domain.ProductID("choc"), id)
	assert.Equal(t, domain.MetricKilogram, qty.Metric)
	assert.True(t, qty.Amount.Equal(decimal.RequireFromString("2.5")))

	_, qty, err = ParseRestock([]byte(`{"product_id":"choc","amount":10}`))
	require.NoError(t, err)
	assert.Equal(t, domain.MetricUnit, qty.Metric, "metric defaults to unit")
}

func TestParseRestock_Invalid(t *testing.T) {
	tests := map[string]string{
		"malformed":     `{"product_id":`,
		"missing id":    `{"amount":"1"}`,
		"zero amount":   `{"product_id":"a","amount":"0"}`,
		"negative":      `{"product_id":"a","amount":"-1"}`,
		"unknown units": `{"product_id":"a","amount":"1","metric":"parsec"}`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, _, err := ParseRestock([]byte(raw))
			assert.ErrorIs(t, err, domain.ErrInvalidArgument)
		})
	}
}
