// Package onvif implements the ONVIF strategy: SOAP 1.2 calls against the
// device and media services, with discovered metadata cached per camera.
package onvif

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/camlink/internal/probe"
	"github.com/HerbHall/camlink/internal/strategy"
	"github.com/HerbHall/camlink/pkg/camera"
)

const (
	// Name identifies the strategy.
	Name = "onvif"
	// Priority ranks ONVIF below the vendor SDKs and above generic protocols.
	Priority = 15

	devicePath = "/onvif/device_service"
	mediaPath  = "/onvif/media_service"

	soapContentType = "application/soap+xml; charset=utf-8"
)

// Metadata is what discovery learns about a device.
type Metadata struct {
	Manufacturer string
	Model        string
	Firmware     string
	Serial       string
	HardwareID   string
	Capabilities []string
	Profiles     []Profile
	DiscoveredAt time.Time
}

// Strategy talks ONVIF to a camera.
type Strategy struct {
	*strategy.Base
	cache *strategy.Cache[*Metadata]
	now   func() time.Time
}

// Compile-time interface guard.
var _ camera.Strategy = (*Strategy)(nil)

// New creates the ONVIF strategy.
func New(deps strategy.Deps) *Strategy {
	return &Strategy{
		Base:  strategy.NewBase(Name, Priority, deps),
		cache: strategy.NewCache[*Metadata](),
		now:   time.Now,
	}
}

// SupportsCamera matches by type, protocol or onvif_port settings, the usual
// ONVIF ports, or a discovery port literal in the address.
func (s *Strategy) SupportsCamera(dev camera.Device) bool {
	switch {
	case dev.TypeContains("onvif"):
		return true
	case strings.EqualFold(dev.Setting(camera.SettingProtocol), "onvif"):
		return true
	case dev.Setting(camera.SettingONVIFPort) != "":
		return true
	case dev.Port() == 8899 || dev.Port() == 2020:
		return true
	}
	addr := dev.IPAddress() + " " + dev.Address()
	for _, lit := range []string{":8899", ":2020", ":3702"} {
		if strings.Contains(addr, lit) {
			return true
		}
	}
	return false
}

func serviceURL(dev camera.Device, path string) string {
	port := dev.SettingInt(camera.SettingONVIFPort, dev.Port())
	return strategy.BuildURL("http", dev, port, path, "", false)
}

// call posts one SOAP request and decodes its response into T.
func call[T any](ctx context.Context, s *Strategy, dev camera.Device, op, path, body string) (*T, error) {
	var tok *usernameToken
	if dev.HasCredentials() {
		t, err := newUsernameToken(dev.Username(), dev.Password(), s.now())
		if err != nil {
			return nil, camera.NewError(camera.ErrCodeInternal, Name, op, "build security header", err)
		}
		tok = &t
	}

	reqCtx, cancel := s.WithTimeout(ctx, camera.OpHTTP)
	defer cancel()
	resp, err := s.HTTP().Do(reqCtx, probe.Request{
		Method: http.MethodPost,
		URL:    serviceURL(dev, path),
		Header: map[string]string{
			"Content-Type": soapContentType,
			"SOAPAction":   `""`,
		},
		Body:     buildEnvelope(body, tok),
		ReadBody: true,
	})
	if err != nil {
		return nil, camera.MapError(Name, op, err)
	}

	out, fault, err := decodeEnvelope[T](resp.Body)
	switch {
	case fault != nil:
		return nil, camera.NewError(camera.ErrCodeProtocol, Name, op, "soap fault: "+fault.String(), nil)
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, camera.NewError(camera.ErrCodeProtocol, Name, op, "credentials rejected", nil)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, camera.NewError(camera.ErrCodeProtocol, Name, op,
			fmt.Sprintf("unexpected http status %d", resp.StatusCode), nil)
	case err != nil:
		return nil, camera.NewError(camera.ErrCodeProtocol, Name, op, "malformed soap response", err)
	}
	return out, nil
}

func (s *Strategy) deviceInformation(ctx context.Context, dev camera.Device) (*deviceInformationResponse, error) {
	return call[deviceInformationResponse](ctx, s, dev, "GetDeviceInformation", devicePath, bodyGetDeviceInformation)
}

func (s *Strategy) profiles(ctx context.Context, dev camera.Device) ([]Profile, error) {
	resp, err := call[profilesResponse](ctx, s, dev, "GetProfiles", mediaPath, bodyGetProfiles)
	if err != nil {
		return nil, err
	}
	if len(resp.Profiles) == 0 {
		return nil, camera.NewError(camera.ErrCodeProtocol, Name, "GetProfiles", "device has no media profiles", nil)
	}
	return resp.Profiles, nil
}

func (s *Strategy) streamURI(ctx context.Context, dev camera.Device, token string) (string, error) {
	resp, err := call[mediaURIResponse](ctx, s, dev, "GetStreamUri", mediaPath, fmt.Sprintf(bodyGetStreamURI, escape(token)))
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.URI) == "" {
		return "", camera.NewError(camera.ErrCodeProtocol, Name, "GetStreamUri", "empty stream uri", nil)
	}
	return strings.TrimSpace(resp.URI), nil
}

func (s *Strategy) snapshotURI(ctx context.Context, dev camera.Device, token string) (string, error) {
	resp, err := call[mediaURIResponse](ctx, s, dev, "GetSnapshotUri", mediaPath, fmt.Sprintf(bodyGetSnapshotURI, escape(token)))
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.URI) == "" {
		return "", camera.NewError(camera.ErrCodeProtocol, Name, "GetSnapshotUri", "empty snapshot uri", nil)
	}
	return strings.TrimSpace(resp.URI), nil
}

// capabilities maps the GetCapabilities services onto capability names.
// Failure is tolerated; some devices only implement the media service.
func (s *Strategy) capabilities(ctx context.Context, dev camera.Device) []string {
	caps := []string{camera.CapVideoStream, camera.CapONVIF, camera.CapRTSP, camera.CapSnapshot}
	resp, err := call[capabilitiesResponse](ctx, s, dev, "GetCapabilities", devicePath, bodyGetCapabilities)
	if err != nil {
		s.Logger().Debug("GetCapabilities failed", zap.String("device", dev.String()), zap.Error(err))
		return caps
	}
	if resp.PTZ != nil && resp.PTZ.XAddr != "" {
		caps = append(caps, camera.CapPTZ)
	}
	if (resp.Events != nil && resp.Events.XAddr != "") || (resp.Analytics != nil && resp.Analytics.XAddr != "") {
		caps = append(caps, camera.CapMotion)
	}
	return caps
}

// discover runs the full metadata discovery for dev.
func (s *Strategy) discover(ctx context.Context, dev camera.Device) (*Metadata, error) {
	info, err := s.deviceInformation(ctx, dev)
	if err != nil {
		return nil, err
	}
	profiles, err := s.profiles(ctx, dev)
	if err != nil {
		return nil, err
	}
	md := &Metadata{
		Manufacturer: strings.TrimSpace(info.Manufacturer),
		Model:        strings.TrimSpace(info.Model),
		Firmware:     strings.TrimSpace(info.FirmwareVersion),
		Serial:       strings.TrimSpace(info.SerialNumber),
		HardwareID:   strings.TrimSpace(info.HardwareID),
		Capabilities: s.capabilities(ctx, dev),
		Profiles:     profiles,
		DiscoveredAt: s.now().UTC(),
	}
	s.Logger().Info("onvif device discovered",
		zap.String("device", dev.String()),
		zap.String("manufacturer", md.Manufacturer),
		zap.String("model", md.Model),
		zap.Int("profiles", len(md.Profiles)),
	)
	return md, nil
}

// Metadata returns the cached discovery result for dev, discovering it on
// first use.
func (s *Strategy) Metadata(ctx context.Context, dev camera.Device) (*Metadata, error) {
	md, _, err := s.cache.GetOrCreate(ctx, dev.CacheKey(), func(ctx context.Context) (*Metadata, error) {
		return s.discover(ctx, dev)
	})
	return md, err
}

// pickProfile maps quality onto the profile list: high is the first
// profile, low the last and medium the middle one.
func pickProfile(profiles []Profile, quality camera.Quality) Profile {
	switch quality {
	case camera.QualityHigh:
		return profiles[0]
	case camera.QualityLow:
		return profiles[len(profiles)-1]
	default:
		return profiles[len(profiles)/2]
	}
}

// withCredentials embeds the device credentials in a returned media URI
// unless it already carries userinfo.
func withCredentials(raw string, dev camera.Device) string {
	if !dev.HasCredentials() {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.User != nil || u.Host == "" {
		return raw
	}
	u.User = url.UserPassword(dev.Username(), dev.Password())
	return u.String()
}

// TestConnection calls GetDeviceInformation.
func (s *Strategy) TestConnection(ctx context.Context, dev camera.Device) (bool, error) {
	if err := dev.Validate(); err != nil {
		return false, err
	}
	if _, err := s.deviceInformation(ctx, dev); err != nil {
		return false, s.Wrap("test", dev, err)
	}
	return true, nil
}

func (s *Strategy) streamURLFor(ctx context.Context, dev camera.Device, quality camera.Quality) (string, Profile, error) {
	md, err := s.Metadata(ctx, dev)
	if err != nil {
		return "", Profile{}, err
	}
	p := pickProfile(md.Profiles, quality)
	uri, err := s.streamURI(ctx, dev, p.Token)
	if err != nil {
		return "", p, err
	}
	return withCredentials(uri, dev), p, nil
}

// GetStreamURL asks the device for the RTSP URI of the profile matching
// quality.
func (s *Strategy) GetStreamURL(ctx context.Context, dev camera.Device, quality camera.Quality) (string, error) {
	if !quality.Valid() {
		return "", s.Fail("stream_url", camera.ErrCodeValidation, dev, fmt.Sprintf("unknown quality %q", quality), nil)
	}
	if err := dev.Validate(); err != nil {
		return "", err
	}
	uri, _, err := s.streamURLFor(ctx, dev, quality)
	if err != nil {
		return "", s.Wrap("stream_url", dev, err)
	}
	return uri, nil
}

// CaptureSnapshot fetches the snapshot URI of the first profile and
// validates the image it returns.
func (s *Strategy) CaptureSnapshot(ctx context.Context, dev camera.Device) ([]byte, error) {
	if err := dev.Validate(); err != nil {
		return nil, err
	}
	md, err := s.Metadata(ctx, dev)
	if err != nil {
		return nil, s.Wrap("snapshot", dev, err)
	}
	uri, err := s.snapshotURI(ctx, dev, md.Profiles[0].Token)
	if err != nil {
		return nil, s.Wrap("snapshot", dev, err)
	}

	reqCtx, cancel := s.WithTimeout(ctx, camera.OpSnapshot)
	defer cancel()
	resp, err := s.HTTP().Get(reqCtx, uri, strategy.Credentials(dev), true)
	if err != nil {
		return nil, s.Wrap("snapshot", dev, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, s.Fail("snapshot", camera.ErrCodeProtocol, dev,
			fmt.Sprintf("snapshot uri returned http %d", resp.StatusCode), nil)
	}
	if err := camera.ValidateImage(Name, resp.Body); err != nil {
		return nil, s.Wrap("snapshot", dev, err)
	}
	return resp.Body, nil
}

// Connect verifies the device, resolves the primary stream at the recorded
// quality, a low quality backup and, best effort, the snapshot URI.
func (s *Strategy) Connect(ctx context.Context, dev camera.Device) (*camera.ConnectionInfo, error) {
	if _, err := s.TestConnection(ctx, dev); err != nil {
		return nil, err
	}

	quality := s.Quality(dev)
	primary, profile, err := s.streamURLFor(ctx, dev, quality)
	if err != nil {
		return nil, s.Wrap("connect", dev, err)
	}

	var backup string
	if quality != camera.QualityLow {
		if u, _, err := s.streamURLFor(ctx, dev, camera.QualityLow); err == nil && u != primary {
			backup = u
		}
	}

	md, err := s.Metadata(ctx, dev)
	if err != nil {
		return nil, s.Wrap("connect", dev, err)
	}
	var snapshot string
	if uri, err := s.snapshotURI(ctx, dev, md.Profiles[0].Token); err == nil {
		snapshot = withCredentials(uri, dev)
	} else {
		s.Logger().Debug("snapshot uri unavailable", zap.String("device", dev.String()), zap.Error(err))
	}

	info := map[string]string{
		"protocol":     "onvif",
		"auth":         "none",
		"quality":      string(quality),
		"profile":      profile.Token,
		"profiles":     strconv.Itoa(len(md.Profiles)),
		"manufacturer": md.Manufacturer,
		"model":        md.Model,
		"firmware":     md.Firmware,
	}
	if dev.HasCredentials() {
		info["auth"] = "ws-security"
	}

	ci, err := camera.NewConnectionInfo(Name, primary, backup, snapshot, true, info)
	if err != nil {
		return nil, s.Wrap("connect", dev, err)
	}
	s.Logger().Info("camera connected",
		zap.String("device", dev.String()),
		zap.String("stream_url", camera.MaskCredentials(primary)),
		zap.String("profile", profile.Token),
	)
	return ci, nil
}

// Disconnect drops the cached metadata so the next connect rediscovers.
func (s *Strategy) Disconnect(_ context.Context, dev camera.Device) (bool, error) {
	s.cache.Remove(dev.CacheKey())
	s.ClearQuality(dev)
	return true, nil
}

// GetCapabilities returns the discovered capabilities, or the static ONVIF
// set when discovery fails.
func (s *Strategy) GetCapabilities(ctx context.Context, dev camera.Device) ([]string, error) {
	if err := dev.Validate(); err == nil {
		if md, err := s.Metadata(ctx, dev); err == nil {
			return append([]string(nil), md.Capabilities...), nil
		}
	}
	return []string{camera.CapVideoStream, camera.CapONVIF, camera.CapRTSP, camera.CapSnapshot}, nil
}

// SetStreamQuality records the quality used by subsequent Connect calls.
func (s *Strategy) SetStreamQuality(_ context.Context, dev camera.Device, quality camera.Quality) (bool, error) {
	if !quality.Valid() {
		return false, s.Fail("set_quality", camera.ErrCodeValidation, dev, fmt.Sprintf("unknown quality %q", quality), nil)
	}
	s.SetQuality(dev, quality)
	return true, nil
}

// GetCameraStatus reports device information and the profile list.
func (s *Strategy) GetCameraStatus(ctx context.Context, dev camera.Device) (map[string]any, error) {
	extra := map[string]any{"service_url": serviceURL(dev, devicePath)}
	if err := dev.Validate(); err != nil {
		extra["error"] = err.Error()
		return s.Status(dev, "onvif", false, extra), nil
	}

	info, err := s.deviceInformation(ctx, dev)
	if err != nil {
		extra["error"] = err.Error()
		return s.Status(dev, "onvif", false, extra), nil
	}
	extra["manufacturer"] = info.Manufacturer
	extra["model"] = info.Model
	extra["firmware"] = info.FirmwareVersion
	extra["serial"] = info.SerialNumber
	if md, ok := s.cache.Get(dev.CacheKey()); ok {
		tokens := make([]string, 0, len(md.Profiles))
		for _, p := range md.Profiles {
			tokens = append(tokens, p.Token)
		}
		extra["profiles"] = tokens
		extra["discovered_at"] = md.DiscoveredAt
	}
	return s.Status(dev, "onvif", true, extra), nil
}
