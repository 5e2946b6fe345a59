package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/restopos-system/internal/model"
)

func TestPrice(t *testing.T) {
	items := []model.LineItem{
		{ItemCode: "PIZZA", Qty: 2, RateCents: 10000},
		{ItemCode: "COLA", Qty: 1, RateCents: 5000, Complimentary: true},
	}

	tests := []struct {
		name    string
		items   []model.LineItem
		d       Discount
		ceiling int64
		taxPct  float64
		want    Quote
		wantErr error
	}{
		{
			name:    "percentage discount with tax after discount",
			items:   items,
			d:       Discount{Type: model.DiscountPercentage, Percent: 10},
			ceiling: 100000,
			taxPct:  10,
			want:    Quote{SubtotalCents: 20000, DiscountCents: 2000, TaxCents: 1800, TotalCents: 19800},
		},
		{
			name:    "no discount",
			items:   items,
			ceiling: 100000,
			taxPct:  10,
			want:    Quote{SubtotalCents: 20000, DiscountCents: 0, TaxCents: 2000, TotalCents: 22000},
		},
		{
			name:    "percentage capped by ceiling",
			items:   items,
			d:       Discount{Type: model.DiscountPercentage, Percent: 50},
			ceiling: 1500,
			taxPct:  0,
			want:    Quote{SubtotalCents: 20000, DiscountCents: 1500, TaxCents: 0, TotalCents: 18500},
		},
		{
			name:    "flat discount",
			items:   items,
			d:       Discount{Type: model.DiscountFlat, AmountCents: 3000},
			ceiling: 100000,
			taxPct:  10,
			want:    Quote{SubtotalCents: 20000, DiscountCents: 3000, TaxCents: 1700, TotalCents: 18700},
		},
		{
			name:    "flat discount capped by ceiling",
			items:   items,
			d:       Discount{Type: model.DiscountFlat, AmountCents: 3000},
			ceiling: 1000,
			taxPct:  0,
			want:    Quote{SubtotalCents: 20000, DiscountCents: 1000, TaxCents: 0, TotalCents: 19000},
		},
		{
			name:    "negative flat discount rejected",
			items:   items,
			d:       Discount{Type: model.DiscountFlat, AmountCents: -100},
			ceiling: 100000,
			taxPct:  10,
			wantErr: ErrInvalidDiscount,
		},
		{
			name:    "flat discount equal to subtotal rejected",
			items:   items,
			d:       Discount{Type: model.DiscountFlat, AmountCents: 20000},
			ceiling: 100000,
			taxPct:  10,
			wantErr: ErrInvalidDiscount,
		},
		{
			name:    "percentage over 100 rejected",
			items:   items,
			d:       Discount{Type: model.DiscountPercentage, Percent: 150},
			ceiling: 100000,
			taxPct:  10,
			wantErr: ErrInvalidDiscount,
		},
		{
			name:    "unresolved coupon rejected",
			items:   items,
			d:       Discount{Type: model.DiscountCoupon},
			ceiling: 100000,
			taxPct:  10,
			wantErr: ErrUnresolvedCoupon,
		},
		{
			name:    "negative tax rate rejected",
			items:   items,
			taxPct:  -1,
			wantErr: ErrInvalidTaxRate,
		},
		{
			name:   "empty order",
			items:  nil,
			taxPct: 10,
			want:   Quote{},
		},
		{
			name: "all items complimentary",
			items: []model.LineItem{
				{ItemCode: "TEA", Qty: 3, RateCents: 1000, Complimentary: true},
			},
			d:       Discount{Type: model.DiscountPercentage, Percent: 10},
			ceiling: 100000,
			taxPct:  10,
			want:    Quote{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Price(tt.items, tt.d, tt.ceiling, tt.taxPct)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPrice_Idempotent(t *testing.T) {
	items := []model.LineItem{
		{ItemCode: "A", Qty: 2, RateCents: 9999},
		{ItemCode: "B", Qty: 1, RateCents: 333, Complimentary: true},
		{ItemCode: "C", Qty: 7, RateCents: 1250, Takeaway: true},
	}
	d := Discount{Type: model.DiscountPercentage, Percent: 7.5}

	first, err := Price(items, d, 5000, 12)
	require.NoError(t, err)

	second, err := Price(items, d, 5000, 12)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestPrice_Invariants(t *testing.T) {
	// На наборе входов проверяем: скидка не превышает ни потолок,
	// ни подытог; итог неотрицателен.
	items := []model.LineItem{
		{ItemCode: "A", Qty: 1, RateCents: 100},
		{ItemCode: "B", Qty: 3, RateCents: 70},
	}

	for pct := 0.0; pct <= 100; pct += 12.5 {
		for _, ceiling := range []int64{0, 1, 50, 310, 1000000} {
			q, err := Price(items, Discount{Type: model.DiscountPercentage, Percent: pct}, ceiling, 18)
			require.NoError(t, err)

			assert.LessOrEqual(t, q.DiscountCents, ceiling)
			assert.LessOrEqual(t, q.DiscountCents, q.SubtotalCents)
			assert.GreaterOrEqual(t, q.TotalCents, int64(0))
			assert.Equal(t, q.SubtotalCents-q.DiscountCents+q.TaxCents, q.TotalCents)
		}
	}
}
