package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "batch.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, `
[[transfer]]
url = "http://a.test/"
`))
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Workers)
	assert.Equal(t, "xferctl/1.0", cfg.UserAgent)
	assert.Equal(t, 30*time.Second, cfg.ConnectTimeout)
	assert.True(t, cfg.FollowRedirects)
	assert.Equal(t, zapcore.InfoLevel, cfg.LogLevel)
	require.Len(t, cfg.Jobs, 1)
	assert.Equal(t, Job{URL: "http://a.test/", Headers: []string{}}, cfg.Jobs[0])
}

func TestLoadConfigOverrides(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, `
workers = 3
output_dir = " out "
timeout = "2s"
follow_redirects = false
max_total_connections = 10
log_level = "debug"
stats_interval = "1m"
pin_workers = true

[[transfer]]
url = "http://a.test/x"
method = "post"
body = "k=v"
headers = ["X-One: 1", "  ", "X-Two: 2"]
output = "x.out"

[[transfer]]
url = "http://b.test/"
timeout = "500ms"
`))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, "out", cfg.OutputDir)
	assert.False(t, cfg.FollowRedirects)
	assert.Equal(t, int64(10), cfg.MaxTotalConnections)
	assert.Equal(t, zapcore.DebugLevel, cfg.LogLevel)
	assert.Equal(t, time.Minute, cfg.StatsInterval)
	assert.True(t, cfg.PinWorkers)

	require.Len(t, cfg.Jobs, 2)
	a, b := cfg.Jobs[0], cfg.Jobs[1]
	assert.Equal(t, "POST", a.Method)
	assert.Equal(t, []byte("k=v"), a.Body)
	assert.Equal(t, []string{"X-One: 1", "X-Two: 2"}, a.Headers)
	assert.Equal(t, 2*time.Second, a.Timeout)
	assert.Equal(t, 500*time.Millisecond, b.Timeout)
}

func TestLoadConfigRejects(t *testing.T) {
	cases := map[string]string{
		"unknown key":      "colour = \"red\"\n[[transfer]]\nurl = \"http://a/\"",
		"no transfers":     "workers = 1",
		"zero workers":     "workers = 0\n[[transfer]]\nurl = \"http://a/\"",
		"bad duration":     "timeout = \"soon\"\n[[transfer]]\nurl = \"http://a/\"",
		"negative timeout": "timeout = \"-1s\"\n[[transfer]]\nurl = \"http://a/\"",
		"bad level":        "log_level = \"loud\"\n[[transfer]]\nurl = \"http://a/\"",
		"missing url":      "[[transfer]]\noutput = \"x\"",
		"head with body":   "[[transfer]]\nurl = \"http://a/\"\nmethod = \"HEAD\"\nbody = \"x\"",
		"escaping output":  "[[transfer]]\nurl = \"http://a/\"\noutput = \"../x\"",
		"duplicate output": "[[transfer]]\nurl = \"http://a/\"\noutput = \"x\"\n[[transfer]]\nurl = \"http://b/\"\noutput = \"x\"",
		"negative limit":   "max_host_connections = -1\n[[transfer]]\nurl = \"http://a/\"",
		"not toml":         "[[transfer",
	}
	for name, body := range cases {
		_, err := loadConfig(writeConfig(t, body))
		assert.Error(t, err, name)
	}
}

func TestShard(t *testing.T) {
	jobs := []Job{{URL: "0"}, {URL: "1"}, {URL: "2"}, {URL: "3"}, {URL: "4"}}
	assert.Equal(t, []Job{{URL: "0"}, {URL: "3"}}, shard(jobs, 0, 3))
	assert.Equal(t, []Job{{URL: "1"}, {URL: "4"}}, shard(jobs, 1, 3))
	assert.Equal(t, []Job{{URL: "2"}}, shard(jobs, 2, 3))
	assert.Nil(t, shard(jobs[:1], 1, 2))
}
