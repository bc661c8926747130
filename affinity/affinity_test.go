package affinity_test

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-core/affinity"
)

func TestCoreMaskBasics(t *testing.T) {
	m := affinity.Of(0, 2, 5, 99, -1)
	assert.Equal(t, affinity.CoreMask(0b100101), m)
	assert.True(t, m.Has(2))
	assert.False(t, m.Has(1))
	assert.Equal(t, []int{0, 2, 5}, m.Cores())
	assert.Equal(t, "0,2,5", m.String())
	assert.Equal(t, "all", affinity.CoreMask(0).String())
	assert.Equal(t, affinity.All(), affinity.CoreMask(0).Normalize())
}

func TestAllMatchesCPUCount(t *testing.T) {
	n := affinity.NumCPU()
	if n > affinity.MaxCores {
		n = affinity.MaxCores
	}
	assert.Equal(t, n, affinity.All().Count())
}

func TestZeroMaskRestoresStartingCores(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("linux only")
	}
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	orig, err := affinity.ThreadAffinity(0)
	require.NoError(t, err)
	defer affinity.SetThreadAffinity(0, orig)

	// pin to the highest allowed core so the indices are not a prefix
	cores := orig.Cores()
	last := cores[len(cores)-1]
	require.NoError(t, affinity.SetAffinity(last))

	require.NoError(t, affinity.SetThreadAffinity(0, 0))
	got, err := affinity.ThreadAffinity(0)
	require.NoError(t, err)
	assert.Equal(t, orig, got&orig, "zero mask must cover the starting set")
	assert.Equal(t, affinity.All(), got)
}

func TestSetAndGetCallingThread(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("linux only")
	}
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	orig, err := affinity.ThreadAffinity(0)
	require.NoError(t, err)
	defer affinity.SetThreadAffinity(0, orig)

	first := orig.Cores()[0]
	require.NoError(t, affinity.SetAffinity(first))
	got, err := affinity.ThreadAffinity(0)
	require.NoError(t, err)
	assert.Equal(t, affinity.Of(first), got)
}
