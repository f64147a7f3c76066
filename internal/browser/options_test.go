// internal/browser/options_test.go
package browser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/xkilldash9x/settle-cli/internal/config"
)

func flagValue(flags []flag, name string) (interface{}, bool) {
	var (
		value interface{}
		found bool
	)
	// Later flags win, the same way chromedp's flag map does.
	for _, f := range flags {
		if f.Name == name {
			value, found = f.Value, true
		}
	}
	return value, found
}

func TestAllocatorFlags(t *testing.T) {
	t.Run("Headless", func(t *testing.T) {
		v, ok := flagValue(allocatorFlags(config.BrowserConfig{Headless: true}), "headless")
		assert.True(t, ok)
		assert.Equal(t, true, v)

		v, _ = flagValue(allocatorFlags(config.BrowserConfig{Headless: false}), "headless")
		assert.Equal(t, false, v)
	})

	t.Run("SandboxAndGPU", func(t *testing.T) {
		flags := allocatorFlags(config.BrowserConfig{NoSandbox: true, DisableGPU: true})
		_, ok := flagValue(flags, "no-sandbox")
		assert.True(t, ok)
		_, ok = flagValue(flags, "disable-gpu")
		assert.True(t, ok)

		_, ok = flagValue(allocatorFlags(config.BrowserConfig{}), "no-sandbox")
		assert.False(t, ok)
	})

	t.Run("ViewportProxyUserAgent", func(t *testing.T) {
		flags := allocatorFlags(config.BrowserConfig{
			Viewport:  map[string]int{"width": 1366, "height": 768},
			ProxyURL:  "http://proxy:3128",
			UserAgent: "settle-test",
		})
		v, _ := flagValue(flags, "window-size")
		assert.Equal(t, "1366,768", v)
		v, _ = flagValue(flags, "proxy-server")
		assert.Equal(t, "http://proxy:3128", v)
		v, _ = flagValue(flags, "user-agent")
		assert.Equal(t, "settle-test", v)
	})

	t.Run("PartialViewportIgnored", func(t *testing.T) {
		_, ok := flagValue(allocatorFlags(config.BrowserConfig{Viewport: map[string]int{"width": 800}}), "window-size")
		assert.False(t, ok)
	})

	t.Run("ExtraArgs", func(t *testing.T) {
		flags := allocatorFlags(config.BrowserConfig{Args: []string{
			"--no-zygote", "lang=pt-BR", "--force-device-scale-factor=1", "  ", "--headless=new",
		}})
		v, _ := flagValue(flags, "no-zygote")
		assert.Equal(t, true, v)
		v, _ = flagValue(flags, "lang")
		assert.Equal(t, "pt-BR", v)
		v, _ = flagValue(flags, "force-device-scale-factor")
		assert.Equal(t, "1", v)
		v, _ = flagValue(flags, "headless")
		assert.Equal(t, "new", v, "user args override the computed defaults")
		for _, f := range flags {
			assert.NotContains(t, f.Name, "--")
			assert.NotEmpty(t, f.Name)
		}
	})
}

func TestAllocatorOptions(t *testing.T) {
	base := len(AllocatorOptions(config.BrowserConfig{}))
	withExec := len(AllocatorOptions(config.BrowserConfig{ExecPath: "/usr/bin/chromium"}))
	assert.Equal(t, base+1, withExec)
	assert.Greater(t, base, len(allocatorFlags(config.BrowserConfig{})))
}
