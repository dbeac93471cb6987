// Package format converts base-unit ledger amounts into display decimals.
//
// The conversion truncates. It never rounds: the third decimal of 123.456 is
// dropped, and any amount whose digit string is shorter than BaseDecimals
// renders as zero.
package format

import (
	"math/big"
	"strings"
)

// BaseDecimals is the number of fractional digits in the ledger's base unit.
const BaseDecimals = 18

// DisplayDecimals is the precision used for balance-denominated metrics.
const DisplayDecimals = 2

// FormatScaled renders amount (in units of 10^-18) as a decimal string with
// exactly decimals fractional digits. A nil or negative amount renders as zero.
func FormatScaled(amount *big.Int, decimals int) string {
	if decimals < 0 {
		decimals = 0
	}

	s := "0"
	if amount != nil && amount.Sign() > 0 {
		s = amount.String()
	}
	l := len(s)

	intPart := "0"
	frac := ""
	switch {
	case l > BaseDecimals:
		intPart = s[:l-BaseDecimals]
		frac = s[l-BaseDecimals:]
	case l == BaseDecimals:
		frac = s
	}

	if decimals == 0 {
		return intPart
	}
	if len(frac) > decimals {
		frac = frac[:decimals]
	}
	return intPart + "." + frac + strings.Repeat("0", decimals-len(frac))
}

// FormatDisplay is FormatScaled at DisplayDecimals.
func FormatDisplay(amount *big.Int) string {
	return FormatScaled(amount, DisplayDecimals)
}
