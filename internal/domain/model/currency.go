package model

type Currency string

// USD is the pivot currency: pairs no provider covers directly are bridged
// through it.
const USD Currency = "USD"

// IsSupported reports whether c is part of the enabled currency list.
func (c Currency) IsSupported(enabled []Currency) bool {
	for _, supportedCurrency := range enabled {
		if c == supportedCurrency {
			return true
		}
	}
	return false
}

func (c Currency) String() string {
	return string(c)
}

// Currencies converts raw codes to Currency values.
func Currencies(codes []string) []Currency {
	out := make([]Currency, 0, len(codes))
	for _, code := range codes {
		out = append(out, Currency(code))
	}
	return out
}
