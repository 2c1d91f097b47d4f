// Package camera defines the camera descriptor, the connection result and the
// contract every protocol strategy implements.
package camera

import "context"

// Capability names reported by GetCapabilities.
const (
	CapVideoStream = "video_stream"
	CapSnapshot    = "snapshot"
	CapPTZ         = "ptz"
	CapAudio       = "audio"
	CapMotion      = "motion_detection"
	CapRTSP        = "rtsp"
	CapMJPEG       = "mjpeg"
	CapONVIF       = "onvif"
	CapPlayback    = "playback"
	CapLocal       = "local_capture"
)

// Strategy is a protocol adapter for one family of cameras.
//
// Every operation returns a *Error on failure; implementations convert
// network and parse failures at their boundary and never retry.
type Strategy interface {
	// Name identifies the strategy in logs and in ConnectionInfo.
	Name() string

	// Priority is a static ranking used by the selector.
	Priority() int

	// SupportsCamera is a pure predicate. It must not perform I/O.
	SupportsCamera(dev Device) bool

	TestConnection(ctx context.Context, dev Device) (bool, error)
	GetStreamURL(ctx context.Context, dev Device, quality Quality) (string, error)
	CaptureSnapshot(ctx context.Context, dev Device) ([]byte, error)
	Connect(ctx context.Context, dev Device) (*ConnectionInfo, error)
	Disconnect(ctx context.Context, dev Device) (bool, error)
	GetCapabilities(ctx context.Context, dev Device) ([]string, error)
	SetStreamQuality(ctx context.Context, dev Device, quality Quality) (bool, error)
	GetCameraStatus(ctx context.Context, dev Device) (map[string]any, error)
}

// Registration pairs a strategy with its name and priority.
type Registration struct {
	Strategy Strategy
	Name     string
	Priority int
}

// Register builds a Registration from the strategy's static properties.
func Register(s Strategy) Registration {
	return Registration{Strategy: s, Name: s.Name(), Priority: s.Priority()}
}
