// Package hikvision is the Hikvision SDK strategy. The native SDK is
// simulated by the sdk package; this package supplies the vendor details.
package hikvision

import (
	"fmt"
	"time"

	"github.com/HerbHall/camlink/internal/strategy"
	"github.com/HerbHall/camlink/internal/strategy/sdk"
	"github.com/HerbHall/camlink/pkg/camera"
)

const (
	// Name identifies the strategy.
	Name = "hikvision"
	// Priority puts the Hikvision SDK ahead of every other strategy.
	Priority = 20
	// SDKPort is the HCNetSDK service port.
	SDKPort = 8000
	// DefaultLatency models a native login or capture round-trip.
	DefaultLatency = 200 * time.Millisecond
)

// Platforms the native SDK ships for.
var Platforms = []string{"windows", "linux"}

// Strategy talks to Hikvision devices through the vendor SDK.
type Strategy struct {
	*sdk.Driver
}

// Compile-time interface guard.
var _ camera.Strategy = (*Strategy)(nil)

// Vendor returns the Hikvision description used by the SDK driver.
func Vendor() sdk.Vendor {
	return sdk.Vendor{
		Name:           Name,
		Priority:       Priority,
		Keyword:        "hikvision",
		SDKPort:        SDKPort,
		Latency:        DefaultLatency,
		FirmwarePrefix: "V5.7.3",
		StreamPath:     streamPath,
		Capabilities: []string{
			camera.CapVideoStream, camera.CapSnapshot, camera.CapPTZ,
			camera.CapAudio, camera.CapMotion, camera.CapPlayback, camera.CapRTSP,
		},
	}
}

// NewContext creates the Hikvision SDK context with its platform rules.
func NewContext(opts sdk.ContextOptions, deps strategy.Deps) *sdk.Context {
	if opts.Platforms == nil {
		opts.Platforms = Platforms
	}
	return sdk.NewContext(Name, opts, deps.Logger)
}

// New creates the strategy on sdkCtx.
func New(sdkCtx *sdk.Context, deps strategy.Deps, opts sdk.Options) *Strategy {
	return &Strategy{Driver: sdk.NewDriver(Vendor(), sdkCtx, deps, opts)}
}

// streamPath builds /Streaming/Channels/{ch}0{1|2|3}.
func streamPath(channel int, quality camera.Quality) (string, string) {
	return fmt.Sprintf("/Streaming/Channels/%d0%d", channel, quality.Index()), ""
}
