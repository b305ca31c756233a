package browser

import (
	"testing"
	"time"

	"github.com/go-rod/rod/lib/proto"
	"github.com/stretchr/testify/assert"
	"github.com/ysmood/gson"
)

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}
	assert.Equal(t, 1280, cfg.GetViewportWidth())
	assert.Equal(t, 800, cfg.GetViewportHeight())
	assert.Equal(t, 30*time.Second, cfg.NavigationTimeout())

	cfg = Config{ViewportWidth: 640, ViewportHeight: 480, NavigationTimeoutMs: 5000}
	assert.Equal(t, 640, cfg.GetViewportWidth())
	assert.Equal(t, 480, cfg.GetViewportHeight())
	assert.Equal(t, 5*time.Second, cfg.NavigationTimeout())
}

func TestDriverStartsDisconnected(t *testing.T) {
	d := NewDriver(DefaultConfig(), nil)
	assert.False(t, d.IsConnected())
	assert.Empty(t, d.ControlURL())
}

func TestStringifyConsoleArgs(t *testing.T) {
	args := []*proto.RuntimeRemoteObject{
		{Value: gson.New(42)},
		{Value: gson.New(true)},
		nil,
		{Description: "DOMException: nope"},
	}
	assert.Equal(t, "42 true DOMException: nope", stringifyConsoleArgs(args))
}
