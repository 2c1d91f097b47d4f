// Package usb implements the local USB/webcam strategy. Device nodes are
// resolved per operating system and probed for availability; capture is
// simulated until a native backend is bound.
package usb

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/HerbHall/camlink/internal/strategy"
	"github.com/HerbHall/camlink/pkg/camera"
)

const (
	// Name identifies the strategy.
	Name = "usb"
	// Priority ranks USB above the generic network protocols.
	Priority = 5

	// MaxScan is how many device indices Enumerate checks.
	MaxScan = 10
)

// PathState is the result of probing a device path.
type PathState struct {
	Exists     bool
	Accessible bool
	Err        error
}

// PathProber checks whether a capture device path is present and usable.
type PathProber interface {
	Probe(path string) PathState
}

// PathProberFunc adapts a function to PathProber.
type PathProberFunc func(path string) PathState

// Probe implements PathProber.
func (f PathProberFunc) Probe(path string) PathState { return f(path) }

// Options tune the USB strategy.
type Options struct {
	// GOOS overrides runtime.GOOS.
	GOOS string
	// Prober overrides the platform prober.
	Prober PathProber
}

type platform struct {
	scheme string
	path   func(index int) string
}

var platforms = map[string]platform{
	"linux":   {scheme: "v4l2", path: func(i int) string { return "/dev/video" + strconv.Itoa(i) }},
	"windows": {scheme: "dshow", path: func(i int) string { return "DirectShow:" + strconv.Itoa(i) }},
	"darwin":  {scheme: "avfoundation", path: func(i int) string { return "AVFoundation:" + strconv.Itoa(i) }},
}

var resolutions = map[camera.Quality][2]int{
	camera.QualityHigh:   {1920, 1080},
	camera.QualityMedium: {1280, 720},
	camera.QualityLow:    {640, 480},
}

// Strategy captures from locally attached cameras.
type Strategy struct {
	*strategy.Base
	goos   string
	prober PathProber
}

// Compile-time interface guard.
var _ camera.Strategy = (*Strategy)(nil)

// New creates the USB strategy.
func New(deps strategy.Deps, opts Options) *Strategy {
	if opts.GOOS == "" {
		opts.GOOS = runtime.GOOS
	}
	if opts.Prober == nil {
		opts.Prober = systemProber{}
	}
	return &Strategy{
		Base:   strategy.NewBase(Name, Priority, deps),
		goos:   opts.GOOS,
		prober: opts.Prober,
	}
}

// SupportsCamera matches USB and webcam types or an explicit device path.
func (s *Strategy) SupportsCamera(dev camera.Device) bool {
	return dev.TypeContains("usb") || dev.TypeContains("webcam") ||
		dev.Setting(camera.SettingDevicePath) != ""
}

func (s *Strategy) platform() (platform, bool) {
	p, ok := platforms[s.goos]
	return p, ok
}

// DevicePath resolves the capture path for dev: the device_path setting, or
// the platform convention for the channel index (0 by default).
func (s *Strategy) DevicePath(dev camera.Device) (string, error) {
	if p := dev.Setting(camera.SettingDevicePath); p != "" {
		return p, nil
	}
	plat, ok := s.platform()
	if !ok {
		return "", camera.NewError(camera.ErrCodeNotSupported, Name, "device_path",
			fmt.Sprintf("no capture device convention for %s", s.goos), nil)
	}
	idx := dev.SettingInt(camera.SettingChannel, 0)
	if idx < 0 {
		idx = 0
	}
	return plat.path(idx), nil
}

// Enumerate lists the conventional device paths that currently exist.
func (s *Strategy) Enumerate() []string {
	plat, ok := s.platform()
	if !ok {
		return nil
	}
	var found []string
	for i := 0; i < MaxScan; i++ {
		p := plat.path(i)
		if s.prober.Probe(p).Exists {
			found = append(found, p)
		}
	}
	return found
}

func (s *Strategy) check(dev camera.Device) (string, error) {
	path, err := s.DevicePath(dev)
	if err != nil {
		return "", err
	}
	st := s.prober.Probe(path)
	switch {
	case !st.Exists:
		return path, camera.NewError(camera.ErrCodeUnreachable, Name, "probe", "capture device "+path+" not found", st.Err)
	case !st.Accessible:
		return path, camera.NewError(camera.ErrCodeUnreachable, Name, "probe", "capture device "+path+" is not accessible", st.Err)
	}
	return path, nil
}

// TestConnection probes the capture device path.
func (s *Strategy) TestConnection(_ context.Context, dev camera.Device) (bool, error) {
	if err := dev.Validate(); err != nil {
		return false, err
	}
	if _, err := s.check(dev); err != nil {
		return false, s.Wrap("test", dev, err)
	}
	return true, nil
}

func (s *Strategy) streamURL(dev camera.Device, quality camera.Quality) (string, error) {
	path, err := s.DevicePath(dev)
	if err != nil {
		return "", err
	}
	scheme := "v4l2"
	if plat, ok := s.platform(); ok {
		scheme = plat.scheme
	}
	res := resolutions[quality]
	return fmt.Sprintf("%s://%s?size=%dx%d", scheme, path, res[0], res[1]), nil
}

// GetStreamURL returns a local capture URL such as
// v4l2:///dev/video0?size=1280x720.
func (s *Strategy) GetStreamURL(_ context.Context, dev camera.Device, quality camera.Quality) (string, error) {
	if !quality.Valid() {
		return "", s.Fail("stream_url", camera.ErrCodeValidation, dev, fmt.Sprintf("unknown quality %q", quality), nil)
	}
	u, err := s.streamURL(dev, quality)
	if err != nil {
		return "", s.Wrap("stream_url", dev, err)
	}
	return u, nil
}

// CaptureSnapshot checks the device and returns a simulated frame.
func (s *Strategy) CaptureSnapshot(ctx context.Context, dev camera.Device) ([]byte, error) {
	if err := dev.Validate(); err != nil {
		return nil, err
	}
	path, err := s.check(dev)
	if err != nil {
		return nil, s.Wrap("snapshot", dev, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, s.Wrap("snapshot", dev, err)
	}
	frame, err := strategy.SimulatedFrame(320, 240, path)
	if err != nil {
		return nil, s.Fail("snapshot", camera.ErrCodeInternal, dev, "encode frame", err)
	}
	if err := camera.ValidateImage(Name, frame); err != nil {
		return nil, s.Wrap("snapshot", dev, err)
	}
	return frame, nil
}

// Connect probes the device and returns local capture URLs.
func (s *Strategy) Connect(ctx context.Context, dev camera.Device) (*camera.ConnectionInfo, error) {
	if _, err := s.TestConnection(ctx, dev); err != nil {
		return nil, err
	}
	quality := s.Quality(dev)
	primary, err := s.streamURL(dev, quality)
	if err != nil {
		return nil, s.Wrap("connect", dev, err)
	}
	var backup string
	if quality != camera.QualityLow {
		backup, _ = s.streamURL(dev, camera.QualityLow)
	}
	path, _ := s.DevicePath(dev)
	info := map[string]string{
		"protocol":    "usb",
		"device_path": path,
		"os":          s.goos,
		"quality":     string(quality),
	}
	ci, err := camera.NewConnectionInfo(Name, primary, backup, "", true, info)
	if err != nil {
		return nil, s.Wrap("connect", dev, err)
	}
	s.Logger().Info("camera connected", zap.String("device", dev.String()), zap.String("path", path))
	return ci, nil
}

// Disconnect releases nothing; local devices hold no session.
func (s *Strategy) Disconnect(_ context.Context, dev camera.Device) (bool, error) {
	s.ClearQuality(dev)
	return true, nil
}

// GetCapabilities returns the local capture capabilities.
func (s *Strategy) GetCapabilities(_ context.Context, _ camera.Device) ([]string, error) {
	return []string{camera.CapVideoStream, camera.CapSnapshot, camera.CapLocal}, nil
}

// SetStreamQuality records the quality used by subsequent Connect calls.
func (s *Strategy) SetStreamQuality(_ context.Context, dev camera.Device, quality camera.Quality) (bool, error) {
	if !quality.Valid() {
		return false, s.Fail("set_quality", camera.ErrCodeValidation, dev, fmt.Sprintf("unknown quality %q", quality), nil)
	}
	s.SetQuality(dev, quality)
	return true, nil
}

// GetCameraStatus reports the probed state of the device path.
func (s *Strategy) GetCameraStatus(_ context.Context, dev camera.Device) (map[string]any, error) {
	extra := map[string]any{"os": s.goos}
	path, err := s.DevicePath(dev)
	if err != nil {
		extra["error"] = err.Error()
		return s.Status(dev, "usb", false, extra), nil
	}
	st := s.prober.Probe(path)
	extra["device_path"] = path
	extra["exists"] = st.Exists
	extra["accessible"] = st.Accessible
	if st.Err != nil {
		extra["error"] = strings.TrimSpace(st.Err.Error())
	}
	return s.Status(dev, "usb", st.Exists && st.Accessible, extra), nil
}
