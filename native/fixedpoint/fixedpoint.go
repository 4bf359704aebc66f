// Package fixedpoint implements the scaled-integer arithmetic shared by the
// ledger, strategy adapters and lending pools. Ratios and rates carry an
// implicit denominator of Scale (10^30); asset amounts are plain integers in
// the asset's native precision.
//
// Intermediate products are evaluated with 512-bit precision through
// holiman/uint256 so a multiplication followed by a division never truncates
// early. Any operand or result that does not fit into 256 bits is reported as
// ErrOverflow instead of wrapping.
package fixedpoint

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

var (
	ErrOverflow       = errors.New("fixedpoint: overflow")
	ErrNegative       = errors.New("fixedpoint: negative operand")
	ErrDivisionByZero = errors.New("fixedpoint: division by zero")
)

// Decimals is the number of decimal places carried by Scale.
const Decimals = 30

// Scale is the fixed-point denominator (10^30). Callers must not mutate it.
var Scale = new(big.Int).Exp(big.NewInt(10), big.NewInt(Decimals), nil)

// One returns a fresh copy of Scale, the fixed-point representation of 1.
func One() *big.Int { return new(big.Int).Set(Scale) }

func toUint256(x *big.Int) (*uint256.Int, error) {
	if x == nil {
		return new(uint256.Int), nil
	}
	if x.Sign() < 0 {
		return nil, ErrNegative
	}
	v, overflow := uint256.FromBig(x)
	if overflow {
		return nil, ErrOverflow
	}
	return v, nil
}

// MulDiv returns floor(x*y/d) evaluated without intermediate truncation.
func MulDiv(x, y, d *big.Int) (*big.Int, error) {
	ux, err := toUint256(x)
	if err != nil {
		return nil, err
	}
	uy, err := toUint256(y)
	if err != nil {
		return nil, err
	}
	ud, err := toUint256(d)
	if err != nil {
		return nil, err
	}
	if ud.IsZero() {
		return nil, ErrDivisionByZero
	}
	z, overflow := new(uint256.Int).MulDivOverflow(ux, uy, ud)
	if overflow {
		return nil, ErrOverflow
	}
	return z.ToBig(), nil
}

// MulDivUp returns ceil(x*y/d).
func MulDivUp(x, y, d *big.Int) (*big.Int, error) {
	q, err := MulDiv(x, y, d)
	if err != nil {
		return nil, err
	}
	// The remainder check re-uses big.Int since all operands are already
	// known to fit in 256 bits.
	prod := new(big.Int).Mul(nonNil(x), nonNil(y))
	if new(big.Int).Mod(prod, d).Sign() != 0 {
		q.Add(q, big.NewInt(1))
		if _, overflow := uint256.FromBig(q); overflow {
			return nil, ErrOverflow
		}
	}
	return q, nil
}

// Mul multiplies an amount by a scaled ratio: floor(x*ratio/Scale).
func Mul(x, ratio *big.Int) (*big.Int, error) {
	return MulDiv(x, ratio, Scale)
}

// Div returns the scaled ratio x/y: floor(x*Scale/y).
func Div(x, y *big.Int) (*big.Int, error) {
	return MulDiv(x, Scale, y)
}

// Add returns x+y, failing when the sum leaves the 256-bit range.
func Add(x, y *big.Int) (*big.Int, error) {
	ux, err := toUint256(x)
	if err != nil {
		return nil, err
	}
	uy, err := toUint256(y)
	if err != nil {
		return nil, err
	}
	z, overflow := new(uint256.Int).AddOverflow(ux, uy)
	if overflow {
		return nil, ErrOverflow
	}
	return z.ToBig(), nil
}

// Sub returns x-y and ErrNegative when y exceeds x.
func Sub(x, y *big.Int) (*big.Int, error) {
	if nonNil(x).Cmp(nonNil(y)) < 0 {
		return nil, ErrNegative
	}
	return new(big.Int).Sub(nonNil(x), nonNil(y)), nil
}

// Min returns a copy of the smaller operand.
func Min(x, y *big.Int) *big.Int {
	if nonNil(x).Cmp(nonNil(y)) <= 0 {
		return new(big.Int).Set(nonNil(x))
	}
	return new(big.Int).Set(nonNil(y))
}

// Pow10 returns 10^n.
func Pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// Parse converts a decimal string such as "0.05" or "1.5" into its scaled
// representation. Inputs with more than Decimals fractional digits are
// rejected rather than rounded.
func Parse(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	r, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return nil, fmt.Errorf("fixedpoint: invalid decimal %q", value)
	}
	if r.Sign() < 0 {
		return nil, ErrNegative
	}
	scaled := new(big.Rat).Mul(r, new(big.Rat).SetInt(Scale))
	if !scaled.IsInt() {
		return nil, fmt.Errorf("fixedpoint: %q exceeds %d decimal places", value, Decimals)
	}
	out := new(big.Int).Set(scaled.Num())
	if _, overflow := uint256.FromBig(out); overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

// MustParse is Parse for package-level constants.
func MustParse(value string) *big.Int {
	v, err := Parse(value)
	if err != nil {
		panic(err)
	}
	return v
}

// Format renders a scaled value as a decimal string with trailing zeros
// trimmed.
func Format(x *big.Int) string {
	if x == nil {
		return "0"
	}
	r := new(big.Rat).SetFrac(x, Scale)
	s := r.FloatString(Decimals)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimSuffix(s, ".")
	}
	return s
}

func nonNil(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return x
}
