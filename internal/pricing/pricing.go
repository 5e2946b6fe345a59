// Package pricing реализует чистый расчёт стоимости заказа:
// подытог, скидка, налог и итог. Функции не имеют побочных эффектов
// и детерминированы при одинаковых входных данных.
package pricing

import (
	"errors"
	"math"

	"github.com/mmeshcher/restopos-system/internal/model"
)

// ErrInvalidDiscount возвращается при некорректных параметрах скидки.
var (
	ErrInvalidDiscount = errors.New("invalid discount")
	// ErrInvalidTaxRate возвращается при отрицательной налоговой ставке.
	ErrInvalidTaxRate = errors.New("invalid tax rate")
	// ErrUnresolvedCoupon возвращается, если в расчёт передана скидка
	// типа coupon: купон должен быть разрешён во внешнем справочнике
	// до вызова расчёта.
	ErrUnresolvedCoupon = errors.New("coupon discount must be resolved before pricing")
)

// Discount описывает применяемую к заказу скидку. Для процентной
// скидки заполняется Percent, для фиксированной — AmountCents.
type Discount struct {
	Type        model.DiscountType
	Percent     float64
	AmountCents int64
}

// Quote содержит результат расчёта стоимости в минорных единицах валюты.
type Quote struct {
	SubtotalCents int64
	DiscountCents int64
	TaxCents      int64
	TotalCents    int64
}

// Price рассчитывает стоимость заказа. Подытог не включает
// комплиментарные позиции; скидка ограничена сверху потолком роли и
// подытогом; налог считается от суммы после скидки; итог не бывает
// отрицательным.
func Price(items []model.LineItem, d Discount, ceilingCents int64, taxRatePct float64) (Quote, error) {
	if taxRatePct < 0 {
		return Quote{}, ErrInvalidTaxRate
	}

	var subtotal int64
	for _, it := range items {
		if it.Complimentary {
			continue
		}
		subtotal += it.RateCents * it.Qty
	}

	discount, err := discountAmount(subtotal, d)
	if err != nil {
		return Quote{}, err
	}

	if discount > ceilingCents {
		discount = ceilingCents
	}
	if discount > subtotal {
		discount = subtotal
	}
	if discount < 0 {
		discount = 0
	}

	tax := roundCents(float64(subtotal-discount) * taxRatePct / 100)

	total := subtotal - discount + tax
	if total < 0 {
		total = 0
	}

	return Quote{
		SubtotalCents: subtotal,
		DiscountCents: discount,
		TaxCents:      tax,
		TotalCents:    total,
	}, nil
}

func discountAmount(subtotal int64, d Discount) (int64, error) {
	switch d.Type {
	case "":
		return 0, nil
	case model.DiscountPercentage:
		if d.Percent < 0 || d.Percent > 100 {
			return 0, ErrInvalidDiscount
		}
		return roundCents(float64(subtotal) * d.Percent / 100), nil
	case model.DiscountFlat:
		if d.AmountCents < 0 || d.AmountCents >= subtotal {
			return 0, ErrInvalidDiscount
		}
		return d.AmountCents, nil
	case model.DiscountCoupon:
		return 0, ErrUnresolvedCoupon
	default:
		return 0, ErrInvalidDiscount
	}
}

func roundCents(v float64) int64 {
	return int64(math.Round(v))
}
