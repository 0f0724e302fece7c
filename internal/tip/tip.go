// Package tip implements tip arithmetic on exact decimal amounts.
package tip

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidBase       = errors.New("tip: base amount must be greater than 0")
	ErrInvalidTotal      = errors.New("tip: total amount must be greater than 0")
	ErrNegativePercent   = errors.New("tip: tip percentage cannot be negative")
	ErrNegativeCustomTip = errors.New("tip: custom tip amount cannot be negative")
	ErrInvalidCurrency   = errors.New("tip: currency must be a 3-letter code")
	ErrInvalidPeople     = errors.New("tip: number of people must be greater than 0")
	ErrAmountOutOfRange  = errors.New("tip: amount out of range")
)

// Rounding selects how amounts are rounded to the currency minor unit.
type Rounding string

const (
	RoundNearest Rounding = "nearest"
	RoundUp      Rounding = "up"
	RoundDown    Rounding = "down"
)

// ParseRounding maps a name to a Rounding, defaulting to nearest.
func ParseRounding(s string) Rounding {
	switch Rounding(strings.ToLower(s)) {
	case RoundUp:
		return RoundUp
	case RoundDown:
		return RoundDown
	default:
		return RoundNearest
	}
}

var hundred = decimal.NewFromInt(100)

// Input describes a tip calculation. When CustomTipAmount is set it
// replaces the percentage-derived tip.
type Input struct {
	BaseAmount      decimal.Decimal
	TipPercentage   decimal.Decimal
	CustomTipAmount *decimal.Decimal
	Currency        string
	Rounding        Rounding
}

// Calculation is the result of a tip computation.
type Calculation struct {
	BaseAmount    decimal.Decimal `json:"baseAmount"`
	TipPercentage decimal.Decimal `json:"tipPercentage"`
	TipAmount     decimal.Decimal `json:"tipAmount"`
	TotalAmount   decimal.Decimal `json:"totalAmount"`
	Currency      string          `json:"currency"`
}

// Calculate computes tip and total from a base amount and percentage.
func Calculate(in Input) (Calculation, error) {
	if !in.BaseAmount.IsPositive() {
		return Calculation{}, ErrInvalidBase
	}
	if in.TipPercentage.IsNegative() {
		return Calculation{}, ErrNegativePercent
	}
	if in.CustomTipAmount != nil && in.CustomTipAmount.IsNegative() {
		return Calculation{}, ErrNegativeCustomTip
	}
	currency, err := normalizeCurrency(in.Currency)
	if err != nil {
		return Calculation{}, err
	}

	raw := in.BaseAmount.Mul(in.TipPercentage).Div(hundred)
	if in.CustomTipAmount != nil {
		raw = *in.CustomTipAmount
	}

	tipAmount := Round(raw, currency, in.Rounding)
	return Calculation{
		BaseAmount:    in.BaseAmount,
		TipPercentage: in.TipPercentage,
		TipAmount:     tipAmount,
		TotalAmount:   Round(in.BaseAmount.Add(tipAmount), currency, in.Rounding),
		Currency:      currency,
	}, nil
}

// FromTotal recovers base and tip from a tip-inclusive total:
// base = total / (1 + pct/100).
func FromTotal(total, pct decimal.Decimal, currency string) (Calculation, error) {
	if !total.IsPositive() {
		return Calculation{}, ErrInvalidTotal
	}
	if pct.IsNegative() {
		return Calculation{}, ErrNegativePercent
	}
	currency, err := normalizeCurrency(currency)
	if err != nil {
		return Calculation{}, err
	}

	divisor := decimal.NewFromInt(1).Add(pct.Div(hundred))
	base := total.DivRound(divisor, 16)
	return Calculation{
		BaseAmount:    Round(base, currency, RoundNearest),
		TipPercentage: pct,
		TipAmount:     Round(total.Sub(base), currency, RoundNearest),
		TotalAmount:   Round(total, currency, RoundNearest),
		Currency:      currency,
	}, nil
}

// Split divides a calculation between people. Every share but the last is
// rounded to the nearest minor unit; the last person absorbs the remainder
// so the shares always sum to the original amounts.
func Split(c Calculation, people int) ([]Calculation, error) {
	if people <= 0 {
		return nil, ErrInvalidPeople
	}
	if people == 1 {
		return []Calculation{c}, nil
	}

	n := decimal.NewFromInt(int64(people))
	others := decimal.NewFromInt(int64(people - 1))
	basePer := Round(c.BaseAmount.Div(n), c.Currency, RoundNearest)
	tipPer := Round(c.TipAmount.Div(n), c.Currency, RoundNearest)

	shares := make([]Calculation, people)
	for i := range shares {
		base, tipAmt := basePer, tipPer
		if i == people-1 {
			base = c.BaseAmount.Sub(basePer.Mul(others))
			tipAmt = c.TipAmount.Sub(tipPer.Mul(others))
		}
		shares[i] = Calculation{
			BaseAmount:    base,
			TipPercentage: c.TipPercentage,
			TipAmount:     tipAmt,
			TotalAmount:   base.Add(tipAmt),
			Currency:      c.Currency,
		}
	}
	return shares, nil
}

// Preset is a suggested tip percentage.
type Preset struct {
	Label      string `json:"label"`
	Percentage int    `json:"percentage"`
	Popular    bool   `json:"isPopular,omitempty"`
}

// Presets returns the default tip suggestions.
func Presets() []Preset {
	return []Preset{
		{Label: "15%", Percentage: 15},
		{Label: "18%", Percentage: 18, Popular: true},
		{Label: "20%", Percentage: 20, Popular: true},
		{Label: "25%", Percentage: 25},
	}
}

// ValidateAmount rejects negative amounts and, when max is positive,
// amounts above max.
func ValidateAmount(amount, max decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: %s is negative", ErrAmountOutOfRange, amount)
	}
	if max.IsPositive() && amount.GreaterThan(max) {
		return fmt.Errorf("%w: %s exceeds %s", ErrAmountOutOfRange, amount, max)
	}
	return nil
}

// Format renders amount with the currency code, e.g. "USD 18.00".
func Format(amount decimal.Decimal, currency string) string {
	cur := strings.ToUpper(currency)
	return cur + " " + amount.StringFixed(MinorUnits(cur))
}

func normalizeCurrency(c string) (string, error) {
	c = strings.ToUpper(strings.TrimSpace(c))
	if len(c) != 3 {
		return "", ErrInvalidCurrency
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return "", ErrInvalidCurrency
		}
	}
	return c, nil
}
