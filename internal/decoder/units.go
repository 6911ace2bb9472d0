package decoder

import (
	"fmt"
	"math"
	"strings"

	"github.com/KevinKickass/OpenRVCore/internal/types"
)

const (
	UnitPct    = "pct"
	UnitDegC   = "deg c"
	UnitVolts  = "v"
	UnitAmps   = "a"
	UnitHertz  = "hz"
	UnitSecond = "sec"
	UnitBitmap = "bitmap"

	// NotAvailable marks a reserved "no data" raw value.
	NotAvailable = "n/a"
)

// ConvertUnit applies the RV-C unit scaling for unit and value type.
// Values that are not integers, and units not listed, pass through unchanged.
func ConvertUnit(value any, unit string, valueType types.ValueType) any {
	v, ok := value.(int64)
	if !ok {
		return value
	}

	t := strings.ToLower(string(valueType))
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case UnitPct:
		if v != 0xFF {
			return float64(v) / 2
		}

	case UnitDegC:
		switch {
		case t == "uint8" && v != 0xFF:
			return v - 40
		case t == "uint16" && v != 0xFFFF:
			return round(float64(v)*0.03125-273, 2)
		}
		return NotAvailable

	case UnitVolts:
		switch {
		case t == "uint8" && v != 0xFF:
			return v
		case t == "uint16" && v != 0xFFFF:
			return round(float64(v)*0.05, 2)
		}
		return NotAvailable

	case UnitAmps:
		switch {
		case t == "uint8":
			return v
		case t == "uint16" && v != 0xFFFF:
			return round(float64(v)*0.05-1600, 2)
		case t == "uint32" && v != 0xFFFFFFFF:
			return round(float64(v)*0.001-2000000, 3)
		}
		return NotAvailable

	case UnitHertz:
		if t == "uint16" && v != 0xFFFF {
			return round(float64(v)/128, 2)
		}

	case UnitSecond:
		switch {
		case t == "uint8" && v > 240 && v < 251:
			return ((v - 240) + 4) * 60
		case t == "uint16":
			return v * 2
		}

	case UnitBitmap:
		return fmt.Sprintf("%08b", v)
	}

	return v
}

// CelsiusToFahrenheit rounds to one decimal.
func CelsiusToFahrenheit(c float64) float64 {
	return round(c*9/5+32, 1)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}
