package gf

import "testing"

func TestFieldMulInverseRoundTrip(t *testing.T) {
	f, err := NewField(8)
	if err != nil {
		t.Fatalf("NewField(8): %v", err)
	}
	for a := Elem(1); a < 64; a++ {
		inv, err := f.Inverse(a)
		if err != nil {
			t.Fatalf("Inverse(%d): %v", a, err)
		}
		if got := f.Mul(a, inv); got != 1 {
			t.Errorf("a=%d: a*inverse(a) = %d, want 1", a, got)
		}
	}
}

func TestFieldMulDistributesOverAdd(t *testing.T) {
	f, err := NewField(8)
	if err != nil {
		t.Fatalf("NewField(8): %v", err)
	}
	a, b, c := Elem(17), Elem(200), Elem(9)
	lhs := f.Mul(a, f.Add(b, c))
	rhs := f.Add(f.Mul(a, b), f.Mul(a, c))
	if lhs != rhs {
		t.Errorf("a*(b+c) = %d, (a*b)+(a*c) = %d", lhs, rhs)
	}
}

func TestFieldZeroHasNoInverse(t *testing.T) {
	f, _ := NewField(4)
	if _, err := f.Inverse(0); err == nil {
		t.Error("expected error inverting 0")
	}
}

func TestCeilLog2Field(t *testing.T) {
	cases := []struct {
		x, want int
	}{
		{1, 1}, {2, 1}, {3, 2}, {4, 2}, {5, 3}, {8, 3}, {9, 4}, {256, 8}, {257, 9},
	}
	for _, c := range cases {
		if got := CeilLog2Field(c.x); got != c.want {
			t.Errorf("CeilLog2Field(%d) = %d, want %d", c.x, got, c.want)
		}
	}
}

func TestNewFieldUnsupportedDegree(t *testing.T) {
	if _, err := NewField(64); err == nil {
		t.Error("expected error for unsupported field degree")
	}
}
