// Package httpcam implements the HTTP/MJPEG strategy. Stream and snapshot
// endpoints are discovered by probing ordered candidate path tables.
package httpcam

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
	Name = "http"
	// Priority ranks HTTP just above plain RTSP.
	Priority = 4

	defaultStreamPath   = "/video.mjpg"
	defaultSnapshotPath = "/snapshot.jpg"
	ptzPath             = "/cgi-bin/ptz.cgi"
)

// servicePaths are probed in order by TestConnection.
var servicePaths = []string{"/", "/index.html", "/cgi-bin/", "/video.cgi"}

// streamPaths lists quality-specific MJPEG endpoints of common vendors.
var streamPaths = map[camera.Quality][]string{
	camera.QualityHigh: {
		"/mjpg/video.mjpg?resolution=1920x1080",
		"/videostream.cgi?resolution=32",
		"/video.cgi?quality=high",
	},
	camera.QualityMedium: {
		"/mjpg/video.mjpg?resolution=1280x720",
		"/videostream.cgi?resolution=8",
		"/video.cgi?quality=medium",
	},
	camera.QualityLow: {
		"/mjpg/video.mjpg?resolution=640x480",
		"/videostream.cgi?resolution=2",
		"/video.cgi?quality=low",
	},
}

// genericStreamPaths are tried after the quality-specific ones.
var genericStreamPaths = []string{
	"/video.mjpg",
	"/mjpg/video.mjpg",
	"/videostream.cgi",
	"/video.cgi",
	"/stream.mjpg",
	"/mjpeg",
}

// snapshotPaths are tried in order by CaptureSnapshot.
var snapshotPaths = []string{
	"/snapshot.jpg",
	"/cgi-bin/snapshot.cgi",
	"/image.jpg",
	"/jpg/image.jpg",
	"/snap.jpg",
}

// Strategy talks to cameras that serve MJPEG and JPEG over plain HTTP.
type Strategy struct {
	*strategy.Base
}

// Compile-time interface guard.
var _ camera.Strategy = (*Strategy)(nil)

// New creates the HTTP strategy.
func New(deps strategy.Deps) *Strategy {
	return &Strategy{Base: strategy.NewBase(Name, Priority, deps)}
}

// SupportsCamera matches HTTP/MJPEG/IP cameras by type, common web ports or
// an explicit protocol setting.
func (s *Strategy) SupportsCamera(dev camera.Device) bool {
	switch {
	case dev.TypeContains("http"), dev.TypeContains("mjpeg"), dev.TypeContains("ip"):
		return true
	case dev.Port() == 80 || dev.Port() == 443 || dev.Port() == 8000 || dev.Port() == 8080:
		return true
	case strings.EqualFold(dev.Setting(camera.SettingProtocol), "http"):
		return true
	}
	return false
}

func httpPort(dev camera.Device) int {
	return dev.SettingInt(camera.SettingHTTPPort, dev.Port())
}

func baseURL(dev camera.Device) string {
	return strategy.HTTPBase(dev, dev.Port())
}

// publicURL is the address handed to callers; it embeds credentials the
// same way the RTSP URLs do. Probing never uses it.
func publicURL(dev camera.Device, pathAndQuery string) string {
	path, query, _ := strings.Cut(pathAndQuery, "?")
	return strategy.BuildURL("http", dev, httpPort(dev), path, query, true)
}

// probeService walks servicePaths and returns the first response that shows
// an HTTP service is answering.
func (s *Strategy) probeService(ctx context.Context, dev camera.Device) (*probe.Response, string, error) {
	var lastErr error
	var lastStatus int
	for _, p := range servicePaths {
		reqCtx, cancel := s.WithTimeout(ctx, camera.OpHTTP)
		resp, err := s.HTTP().Get(reqCtx, baseURL(dev)+p, strategy.Credentials(dev), false)
		cancel()
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if resp.ServicePresent() {
			return resp, p, nil
		}
		lastStatus = resp.StatusCode
	}
	if lastStatus != 0 {
		return nil, "", camera.NewError(camera.ErrCodeProtocol, Name, "test",
			fmt.Sprintf("no camera service found (last status %d)", lastStatus), nil)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no service paths probed")
	}
	return nil, "", lastErr
}

// TestConnection GETs the service paths in order; 2xx, 401 and 403 count as
// a camera web service being present.
func (s *Strategy) TestConnection(ctx context.Context, dev camera.Device) (bool, error) {
	if err := dev.Validate(); err != nil {
		return false, err
	}
	if _, _, err := s.probeService(ctx, dev); err != nil {
		return false, s.Wrap("test", dev, err)
	}
	return true, nil
}

func isStreamType(mediaType string) bool {
	return mediaType == "multipart/x-mixed-replace" ||
		strings.HasPrefix(mediaType, "video/") ||
		strings.HasPrefix(mediaType, "image/")
}

// discoverStream returns the first candidate path whose response looks like
// a stream. verified is false when nothing matched and the default path is
// returned as a hint.
func (s *Strategy) discoverStream(ctx context.Context, dev camera.Device, quality camera.Quality) (path string, verified bool) {
	ctx, cancel := s.WithTimeout(ctx, camera.OpStream)
	defer cancel()

	if p := dev.Setting(camera.SettingStreamPath); p != "" {
		return p, false
	}

	candidates := append(append([]string{}, streamPaths[quality]...), genericStreamPaths...)
	for _, p := range candidates {
		if ctx.Err() != nil {
			break
		}
		reqCtx, reqCancel := s.WithTimeout(ctx, camera.OpHTTP)
		resp, err := s.HTTP().Get(reqCtx, baseURL(dev)+p, strategy.Credentials(dev), false)
		reqCancel()
		if err != nil {
			s.Logger().Debug("stream candidate failed", zap.String("path", p), zap.Error(err))
			continue
		}
		if resp.StatusCode == http.StatusOK && isStreamType(resp.MediaType()) {
			return p, true
		}
	}
	return defaultStreamPath, false
}

// GetStreamURL discovers the MJPEG endpoint for quality. When discovery
// finds nothing the default path is returned unverified.
func (s *Strategy) GetStreamURL(ctx context.Context, dev camera.Device, quality camera.Quality) (string, error) {
	if !quality.Valid() {
		return "", s.Fail("stream_url", camera.ErrCodeValidation, dev, fmt.Sprintf("unknown quality %q", quality), nil)
	}
	if err := dev.Validate(); err != nil {
		return "", err
	}
	path, verified := s.discoverStream(ctx, dev, quality)
	if !verified {
		s.Logger().Debug("stream discovery fell back to default", zap.String("device", dev.String()), zap.String("path", path))
	}
	return publicURL(dev, path), nil
}

// fetchSnapshot walks snapshotPaths and returns the first valid image.
// A 200 carrying a non-image body (typically a login page) is reported as a
// protocol error in preference to plain network failures.
func (s *Strategy) fetchSnapshot(ctx context.Context, dev camera.Device) (string, []byte, error) {
	ctx, cancel := s.WithTimeout(ctx, camera.OpSnapshot)
	defer cancel()

	var protoErr, netErr error
	for _, p := range snapshotPaths {
		if ctx.Err() != nil {
			break
		}
		resp, err := s.HTTP().Get(ctx, baseURL(dev)+p, strategy.Credentials(dev), true)
		if err != nil {
			if netErr == nil {
				netErr = err
			}
			continue
		}
		if resp.StatusCode != http.StatusOK {
			continue
		}
		if err := camera.ValidateImage(Name, resp.Body); err != nil {
			if protoErr == nil {
				protoErr = camera.NewError(camera.ErrCodeProtocol, Name, "snapshot",
					fmt.Sprintf("%s returned %q instead of an image", p, resp.MediaType()), nil)
			}
			continue
		}
		return p, resp.Body, nil
	}

	switch {
	case protoErr != nil:
		return "", nil, protoErr
	case netErr != nil:
		return "", nil, netErr
	case ctx.Err() != nil:
		return "", nil, ctx.Err()
	default:
		return "", nil, camera.NewError(camera.ErrCodeProtocol, Name, "snapshot", "no snapshot endpoint found", nil)
	}
}

// CaptureSnapshot returns validated image bytes from the first working
// snapshot endpoint.
func (s *Strategy) CaptureSnapshot(ctx context.Context, dev camera.Device) ([]byte, error) {
	if err := dev.Validate(); err != nil {
		return nil, err
	}
	_, data, err := s.fetchSnapshot(ctx, dev)
	if err != nil {
		return nil, s.Wrap("snapshot", dev, err)
	}
	return data, nil
}

// Connect tests the service, discovers stream endpoints and, best effort, a
// snapshot endpoint.
func (s *Strategy) Connect(ctx context.Context, dev camera.Device) (*camera.ConnectionInfo, error) {
	if _, err := s.TestConnection(ctx, dev); err != nil {
		return nil, err
	}

	quality := s.Quality(dev)
	path, verified := s.discoverStream(ctx, dev, quality)
	primary := publicURL(dev, path)

	var backup string
	if quality != camera.QualityLow {
		if p, ok := s.discoverStream(ctx, dev, camera.QualityLow); ok && p != path {
			backup = publicURL(dev, p)
		}
	}

	snapshot := publicURL(dev, defaultSnapshotPath)
	snapshotVerified := false
	if p, _, err := s.fetchSnapshot(ctx, dev); err == nil {
		snapshot = publicURL(dev, p)
		snapshotVerified = true
	} else {
		s.Logger().Debug("snapshot discovery failed", zap.String("device", dev.String()), zap.Error(err))
	}

	auth := "none"
	if dev.HasCredentials() {
		auth = "basic"
	}
	info := map[string]string{
		"protocol":          "http",
		"auth":              auth,
		"quality":           string(quality),
		"verified":          strconv.FormatBool(verified),
		"snapshot_verified": strconv.FormatBool(snapshotVerified),
	}

	ci, err := camera.NewConnectionInfo(Name, primary, backup, snapshot, true, info)
	if err != nil {
		return nil, s.Wrap("connect", dev, err)
	}
	s.Logger().Info("camera connected",
		zap.String("device", dev.String()),
		zap.String("stream_url", camera.MaskCredentials(primary)),
		zap.Bool("verified", verified),
	)
	return ci, nil
}

// Disconnect is a no-op; HTTP keeps no session.
func (s *Strategy) Disconnect(_ context.Context, dev camera.Device) (bool, error) {
	s.ClearQuality(dev)
	return true, nil
}

// GetCapabilities returns the static list plus PTZ when the PTZ CGI answers.
func (s *Strategy) GetCapabilities(ctx context.Context, dev camera.Device) ([]string, error) {
	if err := dev.Validate(); err != nil {
		return nil, err
	}
	caps := []string{camera.CapVideoStream, camera.CapMJPEG, camera.CapSnapshot}

	reqCtx, cancel := s.WithTimeout(ctx, camera.OpHTTP)
	defer cancel()
	resp, err := s.HTTP().Get(reqCtx, baseURL(dev)+ptzPath, strategy.Credentials(dev), false)
	if err == nil && resp.ServicePresent() {
		caps = append(caps, camera.CapPTZ)
	}
	return caps, nil
}

// SetStreamQuality records the quality used by subsequent Connect calls.
func (s *Strategy) SetStreamQuality(_ context.Context, dev camera.Device, quality camera.Quality) (bool, error) {
	if !quality.Valid() {
		return false, s.Fail("set_quality", camera.ErrCodeValidation, dev, fmt.Sprintf("unknown quality %q", quality), nil)
	}
	s.SetQuality(dev, quality)
	return true, nil
}

// GetCameraStatus reports reachability and the web server banner.
func (s *Strategy) GetCameraStatus(ctx context.Context, dev camera.Device) (map[string]any, error) {
	extra := map[string]any{"base_url": baseURL(dev)}
	if err := dev.Validate(); err != nil {
		extra["error"] = err.Error()
		return s.Status(dev, "http", false, extra), nil
	}

	resp, path, err := s.probeService(ctx, dev)
	if err != nil {
		extra["error"] = camera.MapError(Name, "status", err).Error()
		return s.Status(dev, "http", false, extra), nil
	}
	extra["service_path"] = path
	extra["http_status"] = resp.StatusCode
	extra["auth_required"] = resp.StatusCode == http.StatusUnauthorized
	if server := resp.Header.Get("Server"); server != "" {
		extra["server"] = server
	}
	return s.Status(dev, "http", true, extra), nil
}
