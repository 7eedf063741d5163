package math

import (
	"math/big"
	"sync"

	"stablevault/internal/protocol"
)

// Checked unsigned arithmetic for the financial core. All ratio math uses
// uint64 with an implicit percentage scale of 100 and floor-toward-zero
// division; intermediates that can exceed 64 bits go through big.Int.
// Floating point is forbidden in this package.

var bigPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getBig() *big.Int {
	return bigPool.Get().(*big.Int)
}

func putBig(v *big.Int) {
	v.SetInt64(0)
	bigPool.Put(v)
}

// Add returns a+b or ErrArithmeticRange on overflow.
func Add(a, b uint64) (uint64, error) {
	sum := a + b
	if sum < a {
		return 0, protocol.ErrArithmeticRange
	}
	return sum, nil
}

// Sub returns a-b or ErrArithmeticRange on underflow.
func Sub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, protocol.ErrArithmeticRange
	}
	return a - b, nil
}

// Mul returns a*b or ErrArithmeticRange on overflow.
func Mul(a, b uint64) (uint64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	prod := a * b
	if prod/a != b {
		return 0, protocol.ErrArithmeticRange
	}
	return prod, nil
}

// MulDiv returns a*b/den with the product computed in big.Int and the
// division truncated toward zero. den == 0 or a result outside uint64 is
// ErrArithmeticRange.
func MulDiv(a, b, den uint64) (uint64, error) {
	if den == 0 {
		return 0, protocol.ErrArithmeticRange
	}

	prod := getBig()
	defer putBig(prod)

	prod.SetUint64(a)
	tmp := getBig()
	defer putBig(tmp)
	tmp.SetUint64(b)

	prod.Mul(prod, tmp)
	tmp.SetUint64(den)
	prod.Quo(prod, tmp)

	if !prod.IsUint64() {
		return 0, protocol.ErrArithmeticRange
	}
	return prod.Uint64(), nil
}
