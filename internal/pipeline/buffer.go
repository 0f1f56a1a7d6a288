package pipeline

import (
	"fmt"
	"slices"

	"github.com/specialistvlad/loopgrid/internal/expr"
)

// Dim describes one buffer dimension. A nil field is not fixed by the
// author; for input buffers it becomes a symbolic parameter of the
// emitted program (see MinParam and ExtentParam).
type Dim struct {
	Min    expr.Expr
	Extent expr.Expr
	Stride expr.Expr
}

// Buffer is an external input or output of the pipeline.
type Buffer struct {
	name     string
	dims     []Dim
	output   bool
	requires []expr.Expr
}

// Name returns the buffer name. Output buffers are named after their stage.
func (b *Buffer) Name() string { return b.name }

// Dims returns the dimensionality.
func (b *Buffer) Dims() int { return len(b.dims) }

// IsOutput reports whether the buffer receives a stage's values.
func (b *Buffer) IsOutput() bool { return b.output }

// Dim returns dimension i as set by the author.
func (b *Buffer) Dim(i int) Dim {
	b.check(i)
	return b.dims[i]
}

// SetBounds fixes the (min, extent) of dimension i.
func (b *Buffer) SetBounds(i int, min, extent expr.Expr) *Buffer {
	b.check(i)
	b.dims[i].Min = min
	b.dims[i].Extent = extent
	return b
}

// SetStride fixes the element stride of dimension i.
func (b *Buffer) SetStride(i int, stride expr.Expr) *Buffer {
	b.check(i)
	b.dims[i].Stride = stride
	return b
}

// Bounds is a convenience to set constant bounds on every dimension from
// (min, extent) pairs.
func (b *Buffer) Bounds(pairs ...[2]int64) *Buffer {
	if len(pairs) != len(b.dims) {
		panic(fmt.Sprintf("pipeline: buffer %q has %d dimensions, got %d bounds", b.name, len(b.dims), len(pairs)))
	}
	for i, p := range pairs {
		b.SetBounds(i, expr.Int(p[0]), expr.Int(p[1]))
	}
	return b
}

func (b *Buffer) check(i int) {
	if i < 0 || i >= len(b.dims) {
		panic(fmt.Sprintf("pipeline: buffer %q has no dimension %d", b.name, i))
	}
}

// MinOf returns the min of dimension i, falling back to the symbolic
// parameter when the author did not fix it.
func (b *Buffer) MinOf(i int) expr.Expr {
	if d := b.Dim(i); d.Min != nil {
		return d.Min
	}
	return expr.P(MinParam(b.name, i))
}

// ExtentOf returns the extent of dimension i, falling back to the symbolic
// parameter when the author did not fix it.
func (b *Buffer) ExtentOf(i int) expr.Expr {
	if d := b.Dim(i); d.Extent != nil {
		return d.Extent
	}
	return expr.P(ExtentParam(b.name, i))
}

// StrideOf returns the stride of dimension i. Unset strides are dense with
// dimension 0 innermost.
func (b *Buffer) StrideOf(i int) expr.Expr {
	if d := b.Dim(i); d.Stride != nil {
		return d.Stride
	}
	var s expr.Expr = expr.Int(1)
	for j := 0; j < i; j++ {
		s = expr.Mul(s, b.ExtentOf(j))
	}
	return expr.Simplify(s)
}

// Fixed reports whether every min and extent was set by the author.
func (b *Buffer) Fixed() bool {
	for _, d := range b.dims {
		if d.Min == nil || d.Extent == nil {
			return false
		}
	}
	return true
}

// Requires attaches a precondition on the buffer's contents.
func (b *Buffer) Requires(pred expr.Expr) *Buffer {
	b.requires = append(b.requires, pred)
	return b
}

// Preconditions returns the attached preconditions.
func (b *Buffer) Preconditions() []expr.Expr { return slices.Clone(b.requires) }

// At builds a read of the buffer.
func (b *Buffer) At(args ...expr.Expr) *expr.Call {
	return &expr.Call{Name: b.name, Kind: expr.CallBuffer, Args: args}
}

// MinParam names the symbolic min of an unfixed input dimension.
func MinParam(buf string, dim int) string { return fmt.Sprintf("%s.min.%d", buf, dim) }

// ExtentParam names the symbolic extent of an unfixed input dimension.
func ExtentParam(buf string, dim int) string { return fmt.Sprintf("%s.extent.%d", buf, dim) }

func (b *Buffer) clone() *Buffer {
	return &Buffer{
		name:     b.name,
		dims:     slices.Clone(b.dims),
		output:   b.output,
		requires: slices.Clone(b.requires),
	}
}
