package runtime

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/hyperbox/pkg/types"
)

func TestIsWASMImage(t *testing.T) {
	require.True(t, isWASMImage("app.wasm"))
	require.True(t, isWASMImage("app.WAT"))
	require.True(t, isWASMImage("precompiled.cwasm"))
	require.False(t, isWASMImage("alpine"))
}

func TestFuelForDefault(t *testing.T) {
	require.Equal(t, DefaultFuel, fuelFor(types.ResourceLimits{}))
}

func TestFuelForLinearMapping(t *testing.T) {
	mc := int64(500)
	fuel := fuelFor(types.ResourceLimits{CPUMillicores: &mc})
	require.Equal(t, DefaultFuel/2, fuel)
}

func TestFuelForCappedAtMax(t *testing.T) {
	mc := int64(100_000)
	fuel := fuelFor(types.ResourceLimits{CPUMillicores: &mc})
	require.Equal(t, MaxFuel, fuel)
}

func TestWASMCapabilitiesExcludeExecAndAttach(t *testing.T) {
	r := NewWASMRuntime()
	caps := r.Capabilities()
	require.NotContains(t, caps, CapExec)
	require.NotContains(t, caps, CapAttach)
	require.NotContains(t, caps, CapImageMgmt)
}
