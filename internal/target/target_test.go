package target

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetect(t *testing.T) {
	h := Detect()
	assert.NotEmpty(t, h.Name)
	assert.GreaterOrEqual(t, h.Lanes, 1)
	assert.Equal(t, h.Lanes, VectorWidth())
}

func TestDetectNoSIMD(t *testing.T) {
	t.Setenv("LOOPGRID_NO_SIMD", "1")
	assert.Equal(t, Scalar, Detect())
}
