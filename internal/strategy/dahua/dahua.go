// Package dahua is the Dahua SDK strategy.
package dahua

import (
	"fmt"
	"time"

	"github.com/HerbHall/camlink/internal/strategy"
	"github.com/HerbHall/camlink/internal/strategy/sdk"
	"github.com/HerbHall/camlink/pkg/camera"
)

const (
	// Name identifies the strategy.
	Name = "dahua"
	// Priority ranks Dahua just below Hikvision.
	Priority = 18
	// SDKPort is the NetSDK TCP port.
	SDKPort = 37777
	// DefaultLatency models a native login or capture round-trip.
	DefaultLatency = 150 * time.Millisecond
)

// Strategy talks to Dahua devices through the vendor SDK.
type Strategy struct {
	*sdk.Driver
}

// Compile-time interface guard.
var _ camera.Strategy = (*Strategy)(nil)

// Vendor returns the Dahua description used by the SDK driver.
func Vendor() sdk.Vendor {
	return sdk.Vendor{
		Name:           Name,
		Priority:       Priority,
		Keyword:        "dahua",
		SDKPort:        SDKPort,
		Latency:        DefaultLatency,
		FirmwarePrefix: "2.800.0000000.25.R",
		StreamPath:     streamPath,
		Capabilities: []string{
			camera.CapVideoStream, camera.CapSnapshot, camera.CapPTZ,
			camera.CapAudio, camera.CapMotion, camera.CapRTSP,
		},
	}
}

// NewContext creates the Dahua SDK context. NetSDK ships for every
// platform, so only an explicit override disables it.
func NewContext(opts sdk.ContextOptions, deps strategy.Deps) *sdk.Context {
	return sdk.NewContext(Name, opts, deps.Logger)
}

// New creates the strategy on sdkCtx.
func New(sdkCtx *sdk.Context, deps strategy.Deps, opts sdk.Options) *Strategy {
	return &Strategy{Driver: sdk.NewDriver(Vendor(), sdkCtx, deps, opts)}
}

// subtype maps quality onto the main (0), first (1) and second (2) substreams.
func subtype(q camera.Quality) int {
	return q.Index() - 1
}

// streamPath builds /cam/realmonitor?channel={ch}&subtype={0|1|2}.
func streamPath(channel int, quality camera.Quality) (string, string) {
	return "/cam/realmonitor", fmt.Sprintf("channel=%d&subtype=%d", channel, subtype(quality))
}
