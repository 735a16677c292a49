package credit

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var ErrInvalidPrice = errors.New("invalid price")

var (
	// DefaultMarkup multiplies provider cost before conversion.
	DefaultMarkup = decimal.NewFromInt(3)
	// DefaultUnitValue is the USD value of one credit.
	DefaultUnitValue = decimal.New(1, -2)
)

// Converter turns base USD prices into platform credits.
type Converter struct {
	markup    decimal.Decimal
	unitValue decimal.Decimal
}

func NewConverter(markup, unitValue decimal.Decimal) (*Converter, error) {
	if !markup.IsPositive() {
		return nil, fmt.Errorf("markup must be positive, got %s", markup)
	}
	if !unitValue.IsPositive() {
		return nil, fmt.Errorf("credit unit value must be positive, got %s", unitValue)
	}
	return &Converter{markup: markup, unitValue: unitValue}, nil
}

// DefaultConverter uses a 3x markup and 0.01 USD credits.
func DefaultConverter() *Converter {
	return &Converter{markup: DefaultMarkup, unitValue: DefaultUnitValue}
}

// ToCredits returns ceil(price * markup / unitValue). Rounding only ever goes up.
func (c *Converter) ToCredits(price decimal.Decimal) (int64, error) {
	if price.IsNegative() {
		return 0, fmt.Errorf("%w: %s", ErrInvalidPrice, price)
	}
	credits := price.Mul(c.markup).Div(c.unitValue).Ceil()
	if !credits.IsInteger() || credits.GreaterThan(decimal.NewFromInt(1<<62)) {
		return 0, fmt.Errorf("%w: %s converts out of range", ErrInvalidPrice, price)
	}
	return credits.IntPart(), nil
}

func (c *Converter) Markup() decimal.Decimal    { return c.markup }
func (c *Converter) UnitValue() decimal.Decimal { return c.unitValue }
