package token

import "math/big"

// BaseDecimals is the reference precision all cross-currency math is carried
// out in. Loan currencies with fewer decimals (e.g. 6-decimal stablecoins)
// are scaled up before any reward or limit computation so that denomination
// never changes a result.
const BaseDecimals = 18

// Normalize18 scales an amount expressed in the given token decimals to the
// 18-decimal reference precision. Amounts in finer-than-reference currencies
// are scaled down, truncating sub-reference dust.
func Normalize18(amount *big.Int, decimals uint8) *big.Int {
	if amount == nil {
		return big.NewInt(0)
	}
	switch {
	case decimals < 18:
		return new(big.Int).Mul(amount, pow10(18-int(decimals)))
	case decimals > 18:
		return new(big.Int).Quo(amount, pow10(int(decimals)-18))
	default:
		return new(big.Int).Set(amount)
	}
}

// Denormalize18 converts an 18-decimal reference amount back into the token's
// native precision, truncating sub-unit dust.
func Denormalize18(amount *big.Int, decimals uint8) *big.Int {
	if amount == nil {
		return big.NewInt(0)
	}
	switch {
	case decimals < 18:
		return new(big.Int).Quo(amount, pow10(18-int(decimals)))
	case decimals > 18:
		return new(big.Int).Mul(amount, pow10(int(decimals)-18))
	default:
		return new(big.Int).Set(amount)
	}
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
