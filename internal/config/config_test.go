package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	t.Setenv("WACALL_API_KEY", "")
	t.Setenv("WACALL_PLATFORM_URL", "")

	conf, err := NewConfig("platform:\n  sandbox: true\n")
	require.NoError(t, err)
	require.NoError(t, conf.Init())

	assert.Equal(t, "info", conf.Log.Level)
	assert.Equal(t, "console", conf.Log.Format)
	assert.Equal(t, ":8080", conf.HTTP.Listen)
	assert.Equal(t, 30*time.Second, conf.Platform.Timeout)
	assert.Equal(t, 3*time.Second, conf.Platform.ReconnectDelay)
	assert.Equal(t, 20*time.Second, conf.Call.BackendTimeout)
	assert.Equal(t, 5*time.Second, conf.Call.ICEGatherTimeout)
	assert.Equal(t, 2*time.Second, conf.Call.GracePeriod)
	assert.Equal(t, time.Second, conf.Call.TickInterval)
	assert.Equal(t, "device", conf.Media.Source)
}

func TestParseFile(t *testing.T) {
	t.Setenv("WACALL_API_KEY", "")
	t.Setenv("WACALL_PLATFORM_URL", "")

	body := `
log:
  level: debug
  format: json
platform:
  url: crm.example.com/
  api_key: k1
  timeout: 10s
call:
  backend_timeout: 15s
media:
  file: hold.ogg
  recording_dir: /tmp/rec
  ice_servers:
    - urls: ["stun:stun.example:3478"]
    - urls: ["turn:turn.example:3478"]
      username: u
      credential: p
`
	conf, err := NewConfig(body)
	require.NoError(t, err)
	require.NoError(t, conf.Init())

	assert.Equal(t, "https://crm.example.com", conf.Platform.URL)
	assert.Equal(t, "wss://crm.example.com/api/realtime", conf.Platform.RealtimeURL)
	assert.Equal(t, 10*time.Second, conf.Platform.Timeout)
	assert.Equal(t, 15*time.Second, conf.Call.BackendTimeout)
	assert.Equal(t, "file", conf.Media.Source)
	require.Len(t, conf.Media.ICEServers, 2)
	assert.Equal(t, "u", conf.Media.ICEServers[1].Username)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("WACALL_API_KEY", "from-env")
	t.Setenv("WACALL_PLATFORM_URL", "http://localhost:8000")

	conf, err := NewConfig("platform:\n  api_key: from-file\n")
	require.NoError(t, err)
	require.NoError(t, conf.Init())

	assert.Equal(t, "from-env", conf.Platform.APIKey)
	assert.Equal(t, "http://localhost:8000", conf.Platform.URL)
	assert.Equal(t, "ws://localhost:8000/api/realtime", conf.Platform.RealtimeURL)
}

func TestInitErrors(t *testing.T) {
	t.Setenv("WACALL_API_KEY", "")
	t.Setenv("WACALL_PLATFORM_URL", "")

	conf, err := NewConfig("")
	require.NoError(t, err)
	assert.ErrorIs(t, conf.Init(), ErrNoConfig)

	conf, err = NewConfig("platform: {sandbox: true}\nmedia: {source: file}\n")
	require.NoError(t, err)
	assert.Error(t, conf.Init())

	conf, err = NewConfig("platform: {sandbox: true}\nmedia: {source: speaker}\n")
	require.NoError(t, err)
	assert.Error(t, conf.Init())

	_, err = NewConfig("log: [")
	assert.Error(t, err)
}

func TestNormalizeURL(t *testing.T) {
	assert.Equal(t, "https://a.example", NormalizeURL(" a.example// "))
	assert.Equal(t, "http://a.example/x", NormalizeURL("http://a.example/x/"))
	assert.Equal(t, "", NormalizeURL(""))
}
