package interp

import (
	"fmt"
	"slices"
	"strings"

	"github.com/specialistvlad/loopgrid/internal/expr"
)

// Array is a dense multi-dimensional array of int64 tuples. Dimension 0 is
// innermost. Values holds one slice per tuple component.
type Array struct {
	Min    []int64
	Extent []int64
	Values [][]int64
}

// NewArray allocates a zeroed array. Negative extents are treated as
// empty.
func NewArray(tuple int, min, extent []int64) *Array {
	a := &Array{Min: slices.Clone(min), Extent: slices.Clone(extent)}
	size := 1
	for i, e := range a.Extent {
		if e < 0 {
			a.Extent[i] = 0
		}
		size *= int(a.Extent[i])
	}
	a.Values = make([][]int64, max(tuple, 1))
	for c := range a.Values {
		a.Values[c] = make([]int64, size)
	}
	return a
}

// Fill builds a single component array over [min, min+extent) whose
// element at each coordinate is fn of that coordinate.
func Fill(min, extent []int64, fn func(at []int64) int64) *Array {
	a := NewArray(1, min, extent)
	a.Each(func(at []int64, i int) {
		a.Values[0][i] = fn(at)
	})
	return a
}

// Generate builds a single component array whose element at each
// coordinate is value evaluated with vars bound to that coordinate. params
// are visible to value by name.
func Generate(min, extent []int64, vars []string, value expr.Expr, params map[string]int64) (*Array, error) {
	if len(vars) != len(extent) || len(min) != len(extent) {
		return nil, fmt.Errorf("generator has %d vars for %d dimensions: %w", len(vars), len(extent), ErrShapeMismatch)
	}
	env := make(expr.MapEnv, len(params)+len(vars))
	for k, v := range params {
		env[k] = v
	}
	a := NewArray(1, min, extent)
	var err error
	a.Each(func(at []int64, i int) {
		if err != nil {
			return
		}
		for d, name := range vars {
			env[name] = at[d]
		}
		a.Values[0][i], err = expr.Eval(value, env)
	})
	if err != nil {
		return nil, fmt.Errorf("generating %v: %w", value, err)
	}
	return a, nil
}

// Dims returns the dimensionality.
func (a *Array) Dims() int { return len(a.Extent) }

// Tuple returns the number of components.
func (a *Array) Tuple() int { return len(a.Values) }

// Len returns the number of elements.
func (a *Array) Len() int {
	if len(a.Values) == 0 {
		return 0
	}
	return len(a.Values[0])
}

// Contains reports whether at lies inside the array.
func (a *Array) Contains(at []int64) bool {
	_, ok := a.offset(at)
	return ok
}

func (a *Array) offset(at []int64) (int, bool) {
	if len(at) != len(a.Extent) {
		return 0, false
	}
	off, stride := 0, 1
	for d, v := range at {
		i := v - a.Min[d]
		if i < 0 || i >= a.Extent[d] {
			return 0, false
		}
		off += int(i) * stride
		stride *= int(a.Extent[d])
	}
	return off, true
}

// Get returns component c at coordinate at.
func (a *Array) Get(c int, at ...int64) (int64, bool) {
	off, ok := a.offset(at)
	if !ok || c < 0 || c >= len(a.Values) {
		return 0, false
	}
	return a.Values[c][off], true
}

// At returns component 0 at coordinate at and panics outside the array.
// It is meant for tests and callers that already checked bounds.
func (a *Array) At(at ...int64) int64 {
	v, ok := a.Get(0, at...)
	if !ok {
		panic(fmt.Sprintf("interp: %v outside array %s", at, a.shape()))
	}
	return v
}

// Set stores v into component c at coordinate at.
func (a *Array) Set(c int, v int64, at ...int64) bool {
	off, ok := a.offset(at)
	if !ok || c < 0 || c >= len(a.Values) {
		return false
	}
	a.Values[c][off] = v
	return true
}

// Each calls fn for every coordinate in storage order with its offset.
func (a *Array) Each(fn func(at []int64, i int)) {
	n := a.Len()
	if n == 0 {
		return
	}
	at := slices.Clone(a.Min)
	for i := 0; i < n; i++ {
		fn(at, i)
		for d := range at {
			at[d]++
			if at[d] < a.Min[d]+a.Extent[d] {
				break
			}
			at[d] = a.Min[d]
		}
	}
}

// Equal reports whether both arrays have the same shape and contents.
func (a *Array) Equal(b *Array) bool {
	if !slices.Equal(a.Min, b.Min) || !slices.Equal(a.Extent, b.Extent) || len(a.Values) != len(b.Values) {
		return false
	}
	for c := range a.Values {
		if !slices.Equal(a.Values[c], b.Values[c]) {
			return false
		}
	}
	return true
}

func (a *Array) shape() string {
	parts := make([]string, len(a.Min))
	for d := range a.Min {
		parts[d] = fmt.Sprintf("[%d, +%d)", a.Min[d], a.Extent[d])
	}
	return strings.Join(parts, "x")
}

// String renders the shape and, for small arrays, the values of
// component 0.
func (a *Array) String() string {
	if a.Len() > 64 || len(a.Values) == 0 {
		return a.shape()
	}
	return fmt.Sprintf("%s%v", a.shape(), a.Values[0])
}
