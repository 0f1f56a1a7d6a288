package rdom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specialistvlad/loopgrid/internal/expr"
)

func TestNew(t *testing.T) {
	t.Run("ranges keep declaration order", func(t *testing.T) {
		d, err := New("r", R("rx", 0, 10), R("ry", 2, 5))
		require.NoError(t, err)
		assert.Equal(t, "r", d.Name())
		assert.Equal(t, []string{"rx", "ry"}, d.Vars())
		assert.True(t, d.Has("ry"))
		assert.False(t, d.Has("x"))

		ry, ok := d.Range("ry")
		require.True(t, ok)
		assert.Equal(t, "2", ry.Min.String())
	})

	t.Run("empty domain", func(t *testing.T) {
		_, err := New("r")
		assert.ErrorIs(t, err, ErrInvalidDomain)
	})

	t.Run("duplicate names", func(t *testing.T) {
		_, err := New("r", R("rx", 0, 3), R("rx", 0, 4))
		assert.ErrorIs(t, err, ErrInvalidDomain)
		assert.ErrorContains(t, err, `duplicate variable "rx"`)
	})
}

func TestWhere(t *testing.T) {
	d, err := New("r", R("rx", 0, 10))
	require.NoError(t, err)

	t.Run("domain variables and named outer variables", func(t *testing.T) {
		maxX := &expr.Call{Name: "max_x", Kind: expr.CallStage, Args: []expr.Expr{expr.V("y")}}
		require.NoError(t, d.Where(expr.LT(expr.V("rx"), maxX), "y"))
		assert.Equal(t, []string{"y"}, d.OuterVars())
		assert.Equal(t, "(rx < max_x(y))", d.Predicate().String())
	})

	t.Run("unknown variable", func(t *testing.T) {
		err := d.Where(expr.LT(expr.V("rx"), expr.V("z")))
		assert.ErrorIs(t, err, ErrInvalidPredicate)
		assert.ErrorContains(t, err, `"z"`)
		assert.Len(t, d.Predicates(), 1)
	})

	t.Run("predicates conjoin and extents stay fixed", func(t *testing.T) {
		require.NoError(t, d.Where(expr.NE(expr.V("rx"), expr.Int(3))))
		assert.Equal(t, "((rx < max_x(y)) && (rx != 3))", d.Predicate().String())
		r, _ := d.Range("rx")
		assert.Equal(t, "10", r.Extent.String())
	})
}

func TestValidate(t *testing.T) {
	lengths := func(args ...expr.Expr) expr.Expr {
		return &expr.Call{Name: "lengths", Kind: expr.CallBuffer, Args: args}
	}

	t.Run("bound reads buffer at earlier variable", func(t *testing.T) {
		d, err := New("r",
			R("row", 0, 4),
			Range{Name: "col", Min: expr.Int(0), Extent: lengths(expr.V("row"))},
		)
		require.NoError(t, err)
		assert.NoError(t, d.Validate())
	})

	t.Run("bound reads buffer at later variable", func(t *testing.T) {
		d, err := New("r",
			Range{Name: "col", Min: expr.Int(0), Extent: lengths(expr.V("row"))},
			R("row", 0, 4),
		)
		require.NoError(t, err)
		err = d.Validate()
		assert.ErrorIs(t, err, ErrUnsupportedDependency)
		assert.ErrorContains(t, err, `bound of "col" uses "row"`)
	})

	t.Run("bound uses its own variable", func(t *testing.T) {
		d, err := New("r", Range{Name: "i", Min: expr.Int(0), Extent: expr.V("i")})
		require.NoError(t, err)
		assert.ErrorIs(t, d.Validate(), ErrUnsupportedDependency)
	})

	t.Run("parameters are fine", func(t *testing.T) {
		d, err := New("r", Range{Name: "i", Min: expr.Int(0), Extent: expr.P("n")})
		require.NoError(t, err)
		assert.NoError(t, d.Validate())
	})
}

func TestRestrict(t *testing.T) {
	d, err := New("r", R("rx", 0, 10), Range{Name: "ry", Min: expr.V("rx"), Extent: expr.Int(2)})
	require.NoError(t, err)
	require.NoError(t, d.Where(expr.LT(expr.V("ry"), expr.V("rx"))))

	out := d.Restrict("rx", expr.V("u"))
	assert.Equal(t, []string{"ry"}, out.Vars())
	ry, _ := out.Range("ry")
	assert.Equal(t, "u", ry.Min.String())
	assert.Equal(t, "(ry < u)", out.Predicate().String())
	assert.Equal(t, []string{"u"}, out.OuterVars())
	assert.Equal(t, []string{"rx", "ry"}, d.Vars())
}
