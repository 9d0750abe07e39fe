// Package gf implements arithmetic over binary extension fields GF(2^m),
// the Cauchy-matrix construction used by the erasure coder, and the
// binary projection that turns a field-valued matrix into an XOR-lane
// matrix over GF(2).
package gf

import (
	"errors"
	"fmt"
	"math/bits"
)

// ErrFieldTooWide is returned when the requested field degree has no
// known irreducible polynomial in this package's table.
var ErrFieldTooWide = errors.New("gf: field degree exceeds supported range")

// irreducible holds one irreducible binary polynomial per supported
// field degree, keyed by m, encoded with the x^m term included (e.g.
// degree 8's Reed-Solomon polynomial x^8+x^4+x^3+x^2+1 is 0x11D).
var irreducible = map[int]uint32{
	1:  0x3,
	2:  0x7,
	3:  0xB,
	4:  0x13,
	5:  0x25,
	6:  0x43,
	7:  0x83,
	8:  0x11D,
	9:  0x211,
	10: 0x409,
	11: 0x805,
	12: 0x1053,
	13: 0x201B,
	14: 0x4443,
	15: 0x8003,
	16: 0x1100B,
}

// Elem is a single element of GF(2^m) for some m <= 16.
type Elem uint32

// Field is GF(2^m) for a fixed degree m, with the irreducible polynomial
// fixed by the table above. Elements are always reduced modulo the field
// size (1<<m).
type Field struct {
	M    int
	poly uint32
	size uint32 // 1 << M
}

// NewField constructs GF(2^m). m must have a table entry (1..16).
func NewField(m int) (*Field, error) {
	poly, ok := irreducible[m]
	if !ok {
		return nil, fmt.Errorf("%w: m=%d", ErrFieldTooWide, m)
	}
	return &Field{M: m, poly: poly, size: uint32(1) << uint(m)}, nil
}

// CeilLog2Field returns the smallest m >= 1 such that 2^m >= x (so 1 for
// x <= 2).
func CeilLog2Field(x int) int {
	if x <= 1 {
		return 1
	}
	return bits.Len(uint(x - 1))
}

// Size returns 2^M, the number of elements in the field.
func (f *Field) Size() uint32 { return f.size }

// Add is field addition, which in characteristic 2 is XOR.
func (f *Field) Add(a, b Elem) Elem { return a ^ b }

// Mul multiplies two field elements via carry-less multiplication
// followed by modular reduction against the field's irreducible
// polynomial.
func (f *Field) Mul(a, b Elem) Elem {
	var product uint32
	x, y := uint32(a), uint32(b)
	for y != 0 {
		if y&1 != 0 {
			product ^= x
		}
		y >>= 1
		x <<= 1
		if x&f.size != 0 {
			x ^= f.poly
		}
	}
	return Elem(product & (f.size - 1))
}

// Pow raises a field element to a non-negative integer exponent by
// repeated squaring.
func (f *Field) Pow(a Elem, exp uint32) Elem {
	result := Elem(1)
	base := a
	for exp > 0 {
		if exp&1 != 0 {
			result = f.Mul(result, base)
		}
		base = f.Mul(base, base)
		exp >>= 1
	}
	return result
}

// Inverse returns the multiplicative inverse of a nonzero field element,
// computed as a^(2^m - 2) via Fermat's little theorem for finite fields.
func (f *Field) Inverse(a Elem) (Elem, error) {
	if a == 0 {
		return 0, errors.New("gf: zero has no multiplicative inverse")
	}
	return f.Pow(a, f.size-2), nil
}

// Div computes a / b = a * inverse(b).
func (f *Field) Div(a, b Elem) (Elem, error) {
	inv, err := f.Inverse(b)
	if err != nil {
		return 0, err
	}
	return f.Mul(a, inv), nil
}
