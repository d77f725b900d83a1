//go:build linux

package affinity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPinAndRelease(t *testing.T) {
	before, err := Current()
	require.NoError(t, err)
	require.NotEmpty(t, before)

	done := make(chan struct{})
	go func() {
		defer close(done)
		cpu := before[len(before)-1]
		release, err := Pin(cpu)
		if !assert.NoError(t, err) {
			return
		}
		pinned, err := Current()
		assert.NoError(t, err)
		assert.Equal(t, []int{cpu}, pinned)

		release()
		after, err := Current()
		assert.NoError(t, err)
		assert.Equal(t, before, after)
	}()
	<-done
}

func TestPinRejectsInvalidCPU(t *testing.T) {
	_, err := Pin(1 << 20)
	assert.Error(t, err)
}

func TestCPUForStaysInAllowedSet(t *testing.T) {
	allowed, err := Current()
	require.NoError(t, err)
	for w := 0; w < 2*len(allowed); w++ {
		assert.Contains(t, allowed, CPUFor(w))
	}
	assert.Equal(t, CPUFor(0), CPUFor(len(allowed)))
}
