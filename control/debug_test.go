package control

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDebugProbesLifecycle(t *testing.T) {
	dp := NewDebugProbes()
	dp.RegisterProbe("b", func() any { return 2 })
	dp.RegisterProbe("a", func() any { return "one" })

	assert.Equal(t, []string{"a", "b"}, dp.Names())
	assert.Equal(t, map[string]any{"a": "one", "b": 2}, dp.DumpState())

	dp.UnregisterProbe("a")
	dp.UnregisterProbe("missing")
	assert.Equal(t, map[string]any{"b": 2}, dp.DumpState())
}

func TestPlatformProbes(t *testing.T) {
	dp := NewDebugProbes()
	RegisterPlatformProbes(dp)
	state := dp.DumpState()
	assert.Contains(t, state, "platform.cpus")
	assert.Contains(t, state, "platform.goroutines")
	assert.Positive(t, state["platform.cpus"])
}
