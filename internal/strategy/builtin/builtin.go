// Package builtin assembles the strategies compiled into camlink.
package builtin

import (
	"fmt"
	"slices"
	"strings"

	"github.com/HerbHall/camlink/internal/config"
	"github.com/HerbHall/camlink/internal/selector"
	"github.com/HerbHall/camlink/internal/strategy"
	"github.com/HerbHall/camlink/internal/strategy/dahua"
	"github.com/HerbHall/camlink/internal/strategy/hikvision"
	"github.com/HerbHall/camlink/internal/strategy/httpcam"
	"github.com/HerbHall/camlink/internal/strategy/onvif"
	"github.com/HerbHall/camlink/internal/strategy/rtsp"
	"github.com/HerbHall/camlink/internal/strategy/sdk"
	"github.com/HerbHall/camlink/internal/strategy/usb"
	"github.com/HerbHall/camlink/pkg/camera"
)

// Names lists every built-in strategy.
var Names = []string{hikvision.Name, dahua.Name, onvif.Name, usb.Name, httpcam.Name, rtsp.Name}

// Set is the result of Build: the strategies plus the SDK contexts that
// must be cleaned up on shutdown.
type Set struct {
	Strategies []camera.Strategy
	SDKs       []*sdk.Context
}

// Build creates every strategy not listed in settings.Disabled.
func Build(deps strategy.Deps, settings config.StrategySettings) (*Set, error) {
	disabled := make(map[string]bool, len(settings.Disabled))
	for _, name := range settings.Disabled {
		name = strings.ToLower(strings.TrimSpace(name))
		if !slices.Contains(Names, name) {
			return nil, fmt.Errorf("strategies.disabled: unknown strategy %q", name)
		}
		disabled[name] = true
	}

	set := &Set{}
	add := func(name string, build func() camera.Strategy) {
		if !disabled[name] {
			set.Strategies = append(set.Strategies, build())
		}
	}

	add(hikvision.Name, func() camera.Strategy {
		ctx := hikvision.NewContext(sdk.ContextOptions{Available: settings.Hikvision.Available}, deps)
		set.SDKs = append(set.SDKs, ctx)
		return hikvision.New(ctx, deps, sdk.Options{Latency: settings.Hikvision.Latency})
	})
	add(dahua.Name, func() camera.Strategy {
		ctx := dahua.NewContext(sdk.ContextOptions{Available: settings.Dahua.Available}, deps)
		set.SDKs = append(set.SDKs, ctx)
		return dahua.New(ctx, deps, sdk.Options{Latency: settings.Dahua.Latency})
	})
	add(onvif.Name, func() camera.Strategy { return onvif.New(deps) })
	add(usb.Name, func() camera.Strategy { return usb.New(deps, usb.Options{}) })
	add(httpcam.Name, func() camera.Strategy { return httpcam.New(deps) })
	add(rtsp.Name, func() camera.Strategy {
		return rtsp.New(deps, rtsp.Options{RequirePing: settings.RTSP.RequirePing})
	})
	return set, nil
}

// Register adds the set's strategies to sel.
func (s *Set) Register(sel *selector.Selector) error {
	for _, st := range s.Strategies {
		if err := sel.Register(st); err != nil {
			return fmt.Errorf("register %s: %w", st.Name(), err)
		}
	}
	return nil
}

// Close releases the vendor SDKs.
func (s *Set) Close() {
	for _, c := range s.SDKs {
		c.Cleanup()
	}
}
