package negotiation

import (
	"fmt"

	"campus_market/internal/apperr"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Band 议价允许区间：[base*(1-折扣%), base*(1+加价%)]。
type Band struct {
	MaxDiscountPercent int64
	MaxMarkupPercent   int64
}

// DefaultBand 最多打五折，最多加价两成。
var DefaultBand = Band{MaxDiscountPercent: 50, MaxMarkupPercent: 20}

// Bounds 下界向上取整、上界向下取整，保证区间内的价格都不越界。
func (b Band) Bounds(base int64) (lo, hi int64) {
	d := decimal.NewFromInt(base)
	lower := d.Mul(hundred.Sub(decimal.NewFromInt(b.MaxDiscountPercent))).Div(hundred).Ceil()
	upper := d.Mul(hundred.Add(decimal.NewFromInt(b.MaxMarkupPercent))).Div(hundred).Floor()
	return lower.IntPart(), upper.IntPart()
}

// Check 价格必须 > 0 且落在区间内。
func (b Band) Check(base, price int64) error {
	if price <= 0 {
		return fmt.Errorf("price %d must be > 0: %w", price, apperr.ErrInvalidArgument)
	}
	lo, hi := b.Bounds(base)
	if price < lo || price > hi {
		return fmt.Errorf("price %d outside [%d, %d]: %w", price, lo, hi, apperr.ErrPriceOutOfRange)
	}
	return nil
}
