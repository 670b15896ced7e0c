// internal/math/fixedpoint.go
package math

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// Oracle prices and implied-vol modifiers are both carried with 8 decimals.
const (
	PriceDecimals    = 8
	ModifierDecimals = 8
)

var (
	ErrNegativeAmount = errors.New("fixedpoint: negative amount")
	ErrAmountOverflow = errors.New("fixedpoint: amount exceeds 256 bits")
	ErrInvalidAmount  = errors.New("fixedpoint: malformed integer amount")
)

var (
	PriceScale    = Pow10(PriceDecimals)
	ModifierScale = Pow10(ModifierDecimals)
)

// Pow10 returns a fresh 10^n.
func Pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// MulDiv computes a*b/den truncating toward zero. den must be non-zero.
func MulDiv(a, b, den *big.Int) *big.Int {
	if den.Sign() == 0 {
		panic("fixedpoint: MulDiv by zero")
	}
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, den)
}

// Product multiplies all factors into a fresh value.
func Product(factors ...*big.Int) *big.Int {
	out := big.NewInt(1)
	for _, f := range factors {
		out.Mul(out, f)
	}
	return out
}

// Quo returns num/den truncating toward zero, leaving both operands untouched.
func Quo(num, den *big.Int) *big.Int {
	if den.Sign() == 0 {
		panic("fixedpoint: Quo by zero")
	}
	return new(big.Int).Quo(num, den)
}

// Sqrt is the integer floor square root.
func Sqrt(x *big.Int) *big.Int {
	if x.Sign() <= 0 {
		return new(big.Int)
	}
	return new(big.Int).Sqrt(x)
}

// Min returns a copy of the smaller operand.
func Min(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// Sub returns a-b as a fresh value.
func Sub(a, b *big.Int) *big.Int {
	return new(big.Int).Sub(a, b)
}

// Add returns a+b as a fresh value.
func Add(a, b *big.Int) *big.Int {
	return new(big.Int).Add(a, b)
}

// Clone copies v; nil becomes zero.
func Clone(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// CheckUint256 rejects negative values and anything wider than a uint256 word.
func CheckUint256(v *big.Int) error {
	if v == nil {
		return ErrInvalidAmount
	}
	if v.Sign() < 0 {
		return fmt.Errorf("%w: %s", ErrNegativeAmount, v)
	}
	if _, overflow := uint256.FromBig(v); overflow {
		return fmt.Errorf("%w: %d bits", ErrAmountOverflow, v.BitLen())
	}
	return nil
}

// ParseAmount decodes a base-10 integer string into a bounded amount.
func ParseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if err := CheckUint256(v); err != nil {
		return nil, err
	}
	return v, nil
}

// FormatUnits renders a smallest-unit amount as a decimal string,
// e.g. FormatUnits(150000000, 8) == "1.5".
func FormatUnits(amount *big.Int, decimals uint8) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -int32(decimals)).String()
}
