package mqtt

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AaronLay10/VisorEngine/internal/config"
)

func TestControllerRegistry_RegisterAndGet(t *testing.T) {
	registry := NewControllerRegistry()
	registry.Register(&Controller{
		ID:           "pad-1",
		Type:         "gamepad",
		CommandTopic: "visor/controllers/pad-1/cmd",
		Signals:      []string{"press", "release"},
	})

	got := registry.Get("pad-1")
	require.NotNil(t, got)
	assert.Equal(t, "gamepad", got.Type)
	assert.Equal(t, "visor/controllers/pad-1/cmd", got.CommandTopic)

	assert.True(t, registry.Exists("pad-1"))
	assert.False(t, registry.Exists("nonexistent"))
	assert.Nil(t, registry.Get("nonexistent"))
	assert.Equal(t, 1, registry.Len())
}

func TestControllerRegistry_GetReturnsCopy(t *testing.T) {
	registry := NewControllerRegistry()
	src := &Controller{ID: "kb", CommandTopic: "cmd/kb", Signals: []string{"key"}}
	registry.Register(src)

	src.Signals[0] = "changed-after-register"
	got := registry.Get("kb")
	got.Signals[0] = "changed-after-get"

	assert.Equal(t, []string{"key"}, registry.Get("kb").Signals)
}

func TestControllerRegistry_CommandTopic(t *testing.T) {
	registry := NewControllerRegistry()
	registry.Register(&Controller{ID: "kb", CommandTopic: "cmd/kb"})

	assert.Equal(t, "cmd/kb", registry.CommandTopic("kb"))
	assert.Equal(t, "", registry.CommandTopic("nonexistent"))
}

func TestControllerRegistry_ValidateCommand(t *testing.T) {
	registry := NewControllerRegistry()
	registry.Register(&Controller{ID: "pad-1", CommandTopic: "cmd/pad-1", Signals: []string{"press"}})
	registry.Register(&Controller{ID: "silent", Signals: []string{"press"}})

	assert.NoError(t, registry.ValidateCommand("pad-1", "press"))

	err := registry.ValidateCommand("pad-1", "jump")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not support signal")

	err = registry.ValidateCommand("ghost", "press")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not registered")

	err = registry.ValidateCommand("silent", "press")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no command topic")
}

func TestControllerRegistry_UnregisterAndAll(t *testing.T) {
	registry := NewControllerRegistry()
	for _, id := range []string{"mouse", "kb", "pad-1"} {
		registry.Register(&Controller{ID: id})
	}

	all := registry.All()
	require.Len(t, all, 3)
	assert.Equal(t, "kb", all[0].ID)
	assert.Equal(t, "mouse", all[1].ID)
	assert.Equal(t, "pad-1", all[2].ID)

	registry.Unregister("mouse")
	assert.False(t, registry.Exists("mouse"))
	assert.Equal(t, 2, registry.Len())
}

func TestRegistryFromConfig(t *testing.T) {
	registry := RegistryFromConfig(map[string]config.ControllerConfig{
		"pad-1": {Type: "gamepad", CommandTopic: "cmd/pad-1", Signals: []string{"press"}},
	})

	assert.NoError(t, registry.ValidateCommand("pad-1", "press"))
	assert.Equal(t, "gamepad", registry.Get("pad-1").Type)
}

func TestControllerRegistry_ConcurrentAccess(t *testing.T) {
	registry := NewControllerRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			registry.Register(&Controller{ID: "pad-1", CommandTopic: "cmd", Signals: []string{"press"}})
		}()
		go func() {
			defer wg.Done()
			_ = registry.ValidateCommand("pad-1", "press")
			_ = registry.All()
		}()
	}
	wg.Wait()

	assert.True(t, registry.Exists("pad-1"))
}
