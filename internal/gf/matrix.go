package gf

import (
	"errors"
	"fmt"
)

// ErrSingularMatrix is returned by Invert when the matrix has no inverse.
// For Cauchy submatrices this should never occur; seeing it indicates a
// programming error in how rows/columns were selected.
var ErrSingularMatrix = errors.New("gf: matrix is singular")

// Matrix is a dense matrix of field elements, row-major.
type Matrix struct {
	Field *Field
	Rows  int
	Cols  int
	data  []Elem // Rows*Cols, row-major
}

// NewMatrix allocates a zero-valued Rows x Cols matrix.
func NewMatrix(field *Field, rows, cols int) *Matrix {
	return &Matrix{Field: field, Rows: rows, Cols: cols, data: make([]Elem, rows*cols)}
}

// At returns the element at (r, c).
func (m *Matrix) At(r, c int) Elem { return m.data[r*m.Cols+c] }

// Set assigns the element at (r, c).
func (m *Matrix) Set(r, c int, v Elem) { m.data[r*m.Cols+c] = v }

// Cauchy builds the N x K Cauchy generator matrix used by the erasure
// coder (it has no identity rows, so the code is not systematic): M[i][j] = 1 / (x_i XOR y_j), with x_i = i for i in
// [0, n) and y_j = n+j for j in [0, k). Because the two ranges are
// disjoint, x_i XOR y_j is always nonzero, and every K x K submatrix of
// the result is invertible.
func Cauchy(field *Field, n, k int) (*Matrix, error) {
	if uint32(n+k) > field.Size() {
		return nil, fmt.Errorf("gf: field GF(2^%d) too small for n+k=%d", field.M, n+k)
	}
	m := NewMatrix(field, n, k)
	for i := 0; i < n; i++ {
		x := Elem(i)
		for j := 0; j < k; j++ {
			y := Elem(n + j)
			denom := field.Add(x, y)
			v, err := field.Inverse(denom)
			if err != nil {
				return nil, fmt.Errorf("gf: cauchy entry (%d,%d): %w", i, j, err)
			}
			m.Set(i, j, v)
		}
	}
	return m, nil
}

// Submatrix selects the given rows and columns, in order, into a new
// matrix.
func (m *Matrix) Submatrix(rows, cols []int) *Matrix {
	out := NewMatrix(m.Field, len(rows), len(cols))
	for ri, r := range rows {
		for ci, c := range cols {
			out.Set(ri, ci, m.At(r, c))
		}
	}
	return out
}

// Invert computes the matrix inverse via Gauss-Jordan elimination over
// the field. The receiver must be square. Returns ErrSingularMatrix if
// no pivot can be found in some column.
func (m *Matrix) Invert() (*Matrix, error) {
	if m.Rows != m.Cols {
		return nil, fmt.Errorf("gf: invert requires a square matrix, got %dx%d", m.Rows, m.Cols)
	}
	n := m.Rows
	f := m.Field

	// Augment [M | I] and reduce the left half to I.
	aug := make([][]Elem, n)
	for r := 0; r < n; r++ {
		row := make([]Elem, 2*n)
		for c := 0; c < n; c++ {
			row[c] = m.At(r, c)
		}
		row[n+r] = 1
		aug[r] = row
	}

	for col := 0; col < n; col++ {
		pivot := -1
		for r := col; r < n; r++ {
			if aug[r][col] != 0 {
				pivot = r
				break
			}
		}
		if pivot == -1 {
			return nil, ErrSingularMatrix
		}
		aug[col], aug[pivot] = aug[pivot], aug[col]

		inv, err := f.Inverse(aug[col][col])
		if err != nil {
			return nil, ErrSingularMatrix
		}
		for c := 0; c < 2*n; c++ {
			aug[col][c] = f.Mul(aug[col][c], inv)
		}

		for r := 0; r < n; r++ {
			if r == col {
				continue
			}
			factor := aug[r][col]
			if factor == 0 {
				continue
			}
			for c := 0; c < 2*n; c++ {
				aug[r][c] = f.Add(aug[r][c], f.Mul(factor, aug[col][c]))
			}
		}
	}

	out := NewMatrix(f, n, n)
	for r := 0; r < n; r++ {
		for c := 0; c < n; c++ {
			out.Set(r, c, aug[r][n+c])
		}
	}
	return out, nil
}

// BinaryMatrix is the GF(2) projection of a field-valued matrix: each
// scalar GF(2^m) entry becomes an m x m block of bits, so that
// multiplying a field vector by the original matrix is equivalent to
// XOR-summing the bits selected by BinaryMatrix's rows. A row is stored
// as the sorted list of input-bit-lane indices that participate in the
// XOR-sum for that output lane, which is exactly what the streaming
// erasure coder needs on its hot path (§4.1/§4.2).
type BinaryMatrix struct {
	Rows    int
	Cols    int
	lanesOf [][]int // per output row, the input column (bit-lane) indices to XOR
}

// Lanes returns the input bit-lane indices that feed output lane `row`.
func (b *BinaryMatrix) Lanes(row int) []int { return b.lanesOf[row] }

// ToBinary expands the receiver (an r x c field matrix over GF(2^m))
// into an (r*m) x (c*m) binary matrix. Column j of the m x m block for
// scalar entry A[r][c] is bitvec(A[r][c] * 2^j); building the whole
// BinaryMatrix this way makes each output row a GF(2)-linear function of
// every input bit lane, computed purely by XOR.
func (m *Matrix) ToBinary() *BinaryMatrix {
	deg := m.Field.M
	out := &BinaryMatrix{
		Rows:    m.Rows * deg,
		Cols:    m.Cols * deg,
		lanesOf: make([][]int, m.Rows*deg),
	}

	for r := 0; r < m.Rows; r++ {
		for c := 0; c < m.Cols; c++ {
			scalar := m.At(r, c)
			for bit := 0; bit < deg; bit++ {
				basis := Elem(1) << uint(bit)
				product := m.Field.Mul(scalar, basis)
				for outBit := 0; outBit < deg; outBit++ {
					if product&(1<<uint(outBit)) == 0 {
						continue
					}
					outRow := r*deg + outBit
					inCol := c*deg + bit
					out.lanesOf[outRow] = append(out.lanesOf[outRow], inCol)
				}
			}
		}
	}
	return out
}
