// Package target describes the host the emitted loop program is meant for.
// Only the natural vector width is modeled; it resolves vectorize
// directives that ask for the machine's own width.
package target

import (
	"github.com/xyproto/env/v2"
	"golang.org/x/sys/cpu"
)

// Host is the detected SIMD capability.
type Host struct {
	Name string
	// Lanes is the number of int64 lanes of one vector register.
	Lanes int
}

// Scalar is the fallback target without vector units.
var Scalar = Host{Name: "scalar", Lanes: 1}

// Detect inspects the running CPU. LOOPGRID_NO_SIMD forces the scalar target.
func Detect() Host {
	if env.Bool("LOOPGRID_NO_SIMD") {
		return Scalar
	}
	switch {
	case cpu.X86.HasAVX512F:
		return Host{Name: "avx512", Lanes: 8}
	case cpu.X86.HasAVX2:
		return Host{Name: "avx2", Lanes: 4}
	case cpu.X86.HasSSE2:
		return Host{Name: "sse2", Lanes: 2}
	case cpu.ARM64.HasASIMD:
		return Host{Name: "neon", Lanes: 2}
	}
	return Scalar
}

// VectorWidth returns the natural lane count of the detected host.
func VectorWidth() int {
	return Detect().Lanes
}
