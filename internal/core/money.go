package core

import (
	"math"
	"strconv"
	"strings"
)

// maxWholeUnits keeps whole*100 plus a rounded-up fraction inside int64.
const maxWholeUnits = (math.MaxInt64 - 100) / 100

// ParseDecimalToCents reads a non-negative decimal amount into cents.
// Either "." or "," separates the fraction; a third fractional digit of 5 or
// more rounds the cents up and later digits are ignored.
//
//	"12.34"  -> 1234
//	"12,345" -> 1235
//	".5"     -> 50
//
// Anything else, including signs and exponents, is ErrInvalidAmount.
func ParseDecimalToCents(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAmount
	}
	whole, frac, _ := strings.Cut(strings.ReplaceAll(s, ",", "."), ".")
	if whole == "" && frac == "" {
		return 0, ErrInvalidAmount
	}
	if !allDigits(whole) || !allDigits(frac) {
		return 0, ErrInvalidAmount
	}

	var units int64
	if whole != "" {
		v, err := strconv.ParseInt(whole, 10, 64)
		if err != nil || v > maxWholeUnits {
			return 0, ErrInvalidAmount
		}
		units = v
	}

	cents := units * 100
	for i, mul := range []int64{10, 1} {
		if i < len(frac) {
			cents += int64(frac[i]-'0') * mul
		}
	}
	if len(frac) > 2 && frac[2] >= '5' {
		cents++
	}
	return cents, nil
}

// allDigits reports whether s is made only of ASCII digits. A second
// separator fails here since Cut leaves it in the fraction.
func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
