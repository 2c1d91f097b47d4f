// Package rtsp implements the generic RTSP strategy: ICMP + TCP reachability,
// templated stream URLs and a best-effort HTTP snapshot sibling.
package rtsp

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/HerbHall/camlink/internal/probe"
	"github.com/HerbHall/camlink/internal/strategy"
	"github.com/HerbHall/camlink/pkg/camera"
)

const (
	// Name identifies the strategy.
	Name = "rtsp"
	// Priority ranks RTSP below every vendor-specific strategy.
	Priority = 3

	defaultPath     = "/stream{n}"
	snapshotPath    = "/snapshot.jpg"
	defaultHTTPPort = 80
)

// Options tune the RTSP strategy.
type Options struct {
	// RequirePing makes a lost ICMP echo fail the reachability test. It is
	// false by default: the ping still runs first but is only logged, and
	// the TCP connect alone decides, since many cameras drop ICMP.
	RequirePing bool
}

// Strategy connects to cameras that expose a plain RTSP server.
type Strategy struct {
	*strategy.Base
	opts Options
}

// Compile-time interface guard.
var _ camera.Strategy = (*Strategy)(nil)

// New creates the RTSP strategy.
func New(deps strategy.Deps, opts Options) *Strategy {
	return &Strategy{
		Base: strategy.NewBase(Name, Priority, deps),
		opts: opts,
	}
}

// SupportsCamera matches IP/RTSP cameras by type, the standard RTSP ports or
// an explicit stream path setting.
func (s *Strategy) SupportsCamera(dev camera.Device) bool {
	switch {
	case dev.TypeContains("ip"), dev.TypeContains("rtsp"):
		return true
	case dev.Port() == 554 || dev.Port() == 8554:
		return true
	case dev.Setting(camera.SettingStreamPath) != "":
		return true
	case strings.EqualFold(dev.Setting(camera.SettingProtocol), "rtsp"):
		return true
	}
	return false
}

// TestConnection pings the camera and then opens a TCP connection to its
// port. A failed ping only fails the test under Options.RequirePing.
func (s *Strategy) TestConnection(ctx context.Context, dev camera.Device) (bool, error) {
	if err := dev.Validate(); err != nil {
		return false, err
	}

	pingCtx, cancel := s.WithTimeout(ctx, camera.OpPing)
	res, err := s.Pinger().Check(pingCtx, dev.IPAddress())
	cancel()
	switch {
	case err != nil:
		s.Logger().Debug("ping unavailable", zap.String("device", dev.String()), zap.Error(err))
		if s.opts.RequirePing {
			return false, s.Wrap("test", dev, err)
		}
	case !res.Success:
		if s.opts.RequirePing {
			return false, s.Fail("test", camera.ErrCodeUnreachable, dev, "ping failed: "+res.ErrorMessage, nil)
		}
		s.Logger().Debug("ping failed, trying tcp", zap.String("device", dev.String()), zap.String("reason", res.ErrorMessage))
	}

	tcp := probe.NewTCPChecker(s.Timeout(camera.OpTCP))
	if _, err := tcp.Check(ctx, dev.Address()); err != nil {
		return false, s.Wrap("test", dev, err)
	}
	return true, nil
}

// GetStreamURL returns rtsp://[user:pass@]host:port/streamN where N is 1, 2
// or 3 for high, medium and low quality.
func (s *Strategy) GetStreamURL(_ context.Context, dev camera.Device, quality camera.Quality) (string, error) {
	if !quality.Valid() {
		return "", s.Fail("stream_url", camera.ErrCodeValidation, dev, fmt.Sprintf("unknown quality %q", quality), nil)
	}
	return streamURL(dev, quality), nil
}

func streamURL(dev camera.Device, quality camera.Quality) string {
	path := dev.Setting(camera.SettingStreamPath)
	if path == "" {
		path = defaultPath
	}
	path = strings.ReplaceAll(path, "{n}", strconv.Itoa(quality.Index()))
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return strategy.BuildURL("rtsp", dev, dev.Port(), path, "", true)
}

func snapshotURL(dev camera.Device) string {
	return strategy.HTTPBase(dev, defaultHTTPPort) + snapshotPath
}

// CaptureSnapshot fetches a still from the camera's HTTP sibling endpoint.
// RTSP itself is not used for stills.
func (s *Strategy) CaptureSnapshot(ctx context.Context, dev camera.Device) ([]byte, error) {
	if err := dev.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := s.WithTimeout(ctx, camera.OpSnapshot)
	defer cancel()

	resp, err := s.HTTP().Get(ctx, snapshotURL(dev), strategy.Credentials(dev), true)
	if err != nil {
		return nil, s.Wrap("snapshot", dev, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, s.Fail("snapshot", camera.ErrCodeProtocol, dev,
			fmt.Sprintf("snapshot endpoint returned %d", resp.StatusCode), nil)
	}
	if err := camera.ValidateImage(Name, resp.Body); err != nil {
		return nil, s.Wrap("snapshot", dev, err)
	}
	return resp.Body, nil
}

// Connect verifies reachability and assembles the stream URLs.
func (s *Strategy) Connect(ctx context.Context, dev camera.Device) (*camera.ConnectionInfo, error) {
	if _, err := s.TestConnection(ctx, dev); err != nil {
		return nil, err
	}

	quality := s.Quality(dev)
	primary, err := s.GetStreamURL(ctx, dev, quality)
	if err != nil {
		return nil, err
	}
	var backup string
	if quality != camera.QualityLow {
		backup = streamURL(dev, camera.QualityLow)
	}

	auth := "none"
	if dev.HasCredentials() {
		auth = "url"
	}
	info := map[string]string{
		"protocol":  "rtsp",
		"auth":      auth,
		"transport": "tcp",
		"quality":   string(quality),
	}

	ci, err := camera.NewConnectionInfo(Name, primary, backup, snapshotURL(dev), true, info)
	if err != nil {
		return nil, s.Wrap("connect", dev, err)
	}
	s.Logger().Info("camera connected",
		zap.String("device", dev.String()),
		zap.String("stream_url", camera.MaskCredentials(primary)),
	)
	return ci, nil
}

// Disconnect is a no-op for RTSP; there is no session to release.
func (s *Strategy) Disconnect(_ context.Context, dev camera.Device) (bool, error) {
	s.ClearQuality(dev)
	return true, nil
}

// GetCapabilities returns the static RTSP capability list.
func (s *Strategy) GetCapabilities(_ context.Context, _ camera.Device) ([]string, error) {
	return []string{camera.CapVideoStream, camera.CapRTSP, camera.CapSnapshot}, nil
}

// SetStreamQuality records the quality used by subsequent Connect calls.
func (s *Strategy) SetStreamQuality(_ context.Context, dev camera.Device, quality camera.Quality) (bool, error) {
	if !quality.Valid() {
		return false, s.Fail("set_quality", camera.ErrCodeValidation, dev, fmt.Sprintf("unknown quality %q", quality), nil)
	}
	s.SetQuality(dev, quality)
	return true, nil
}

// GetCameraStatus reports reachability plus the stream URL in use.
func (s *Strategy) GetCameraStatus(ctx context.Context, dev camera.Device) (map[string]any, error) {
	connected, err := s.TestConnection(ctx, dev)
	extra := map[string]any{
		"stream_url":    streamURL(dev, s.Quality(dev)),
		"ping_required": s.opts.RequirePing,
	}
	if err != nil {
		extra["error"] = err.Error()
	}
	return s.Status(dev, "rtsp", connected, extra), nil
}
