// internal/browser/options.go
package browser

import (
	"fmt"
	"strings"

	"github.com/chromedp/chromedp"
	"github.com/xkilldash9x/settle-cli/internal/config"
)

// flag is one Chrome command line switch. A bool value is passed as --name
// when true; anything else as --name=value.
type flag struct {
	Name  string
	Value interface{}
}

// allocatorFlags translates browser configuration into Chrome switches that
// are applied on top of chromedp's defaults.
func allocatorFlags(cfg config.BrowserConfig) []flag {
	flags := []flag{
		// Needed in containers and on hardened hosts.
		{Name: "disable-dev-shm-usage", Value: true},
		{Name: "headless", Value: cfg.Headless},
	}
	if cfg.NoSandbox {
		flags = append(flags, flag{Name: "no-sandbox", Value: true})
	}
	if cfg.DisableGPU {
		flags = append(flags, flag{Name: "disable-gpu", Value: true})
	}
	if w, h := cfg.Viewport["width"], cfg.Viewport["height"]; w > 0 && h > 0 {
		flags = append(flags, flag{Name: "window-size", Value: fmt.Sprintf("%d,%d", w, h)})
	}
	if cfg.UserAgent != "" {
		flags = append(flags, flag{Name: "user-agent", Value: cfg.UserAgent})
	}
	if cfg.ProxyURL != "" {
		flags = append(flags, flag{Name: "proxy-server", Value: cfg.ProxyURL})
	}

	for _, arg := range cfg.Args {
		arg = strings.TrimLeft(strings.TrimSpace(arg), "-")
		if arg == "" {
			continue
		}
		// chromedp adds the leading dashes itself.
		if key, value, ok := strings.Cut(arg, "="); ok {
			flags = append(flags, flag{Name: key, Value: value})
			continue
		}
		flags = append(flags, flag{Name: arg, Value: true})
	}
	return flags
}

// AllocatorOptions returns the chromedp exec allocator options for cfg.
func AllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	for _, f := range allocatorFlags(cfg) {
		opts = append(opts, chromedp.Flag(f.Name, f.Value))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	return opts
}
