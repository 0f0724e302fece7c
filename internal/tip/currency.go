package tip

import (
	"strings"

	"github.com/shopspring/decimal"
)

var minorUnits = map[string]int32{
	"JPY": 0, "KRW": 0, "VND": 0, "CLP": 0, "ISK": 0,
	"BHD": 3, "KWD": 3, "OMR": 3, "JOD": 3, "TND": 3,
}

// MinorUnits returns the number of decimal places used by an ISO 4217
// currency. Unlisted currencies use 2.
func MinorUnits(currency string) int32 {
	if u, ok := minorUnits[strings.ToUpper(currency)]; ok {
		return u
	}
	return 2
}

// Round rounds amount to the currency's minor unit.
func Round(amount decimal.Decimal, currency string, mode Rounding) decimal.Decimal {
	places := MinorUnits(currency)
	switch mode {
	case RoundUp:
		return amount.RoundCeil(places)
	case RoundDown:
		return amount.RoundFloor(places)
	default:
		return amount.Round(places)
	}
}
