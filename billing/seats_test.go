package billing

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/zllovesuki/seatplan/subscription"

	"github.com/stretchr/testify/assert"
)

func productWithSeats(v interface{}) subscription.Product {
	return subscription.Product{
		ID:       "prod",
		Metadata: map[string]interface{}{subscription.MaxSeatsKey: v},
	}
}

func TestParseSeatLimit(t *testing.T) {
	tests := []struct {
		name string
		in   interface{}
		want int
	}{
		{"numeric string", "25", 25},
		{"padded string", " 10 ", 10},
		{"garbage string", "ten", DefaultSeatLimit},
		{"int", 7, 7},
		{"int64", int64(12), 12},
		{"float64 from json", float64(5), 5},
		{"json number", json.Number("9"), 9},
		{"nan", math.NaN(), DefaultSeatLimit},
		{"nil", nil, DefaultSeatLimit},
		{"bool", true, DefaultSeatLimit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseSeatLimit(tt.in))
		})
	}
}

func TestProductSeatLimit(t *testing.T) {
	assert.Equal(t, DefaultSeatLimit, ProductSeatLimit(nil))
	assert.Equal(t, DefaultSeatLimit, ProductSeatLimit(&subscription.Product{}))
	p := productWithSeats("10")
	assert.Equal(t, 10, ProductSeatLimit(&p))
}

func TestNewCreateSubscriptionModal(t *testing.T) {
	t.Run("no products", func(t *testing.T) {
		props := NewCreateSubscriptionModal(3, nil)
		assert.Equal(t, CreateSubscriptionModal{
			CurrentSeats: 3,
			PlanLimits:   PlanLimits{Low: 0, Mid: 0, High: 0},
		}, props)
	})

	t.Run("unsorted products", func(t *testing.T) {
		props := NewCreateSubscriptionModal(2, []subscription.Product{
			productWithSeats("25"),
			productWithSeats("1"),
			productWithSeats(float64(10)),
		})
		assert.Equal(t, PlanLimits{Low: 1, Mid: 10, High: 25}, props.PlanLimits)
		assert.Equal(t, 2, props.CurrentSeats)
	})

	t.Run("fewer than three products", func(t *testing.T) {
		props := NewCreateSubscriptionModal(1, []subscription.Product{
			productWithSeats("10"),
			productWithSeats("1"),
		})
		assert.Equal(t, PlanLimits{Low: 1, Mid: 10, High: 0}, props.PlanLimits)
		assert.Equal(t, 0, props.PlanLimits.Limit(TierHigh))
		assert.Equal(t, 10, props.PlanLimits.Limit(TierMid))
	})
}
