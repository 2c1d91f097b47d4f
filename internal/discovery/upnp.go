package discovery

import (
	"context"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/huin/goupnp"
	"github.com/huin/goupnp/ssdp"
	"go.uber.org/zap"

	"github.com/HerbHall/camlink/pkg/camera"
)

// UPnPScanner searches for UPnP root devices over SSDP and keeps the ones
// that describe themselves as cameras.
type UPnPScanner struct {
	timeout  time.Duration
	logger   *zap.Logger
	discover func(ctx context.Context, searchTarget string) ([]goupnp.MaybeRootDevice, error)
}

// NewUPnPScanner creates a scanner.
func NewUPnPScanner(timeout time.Duration, logger *zap.Logger) *UPnPScanner {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UPnPScanner{
		timeout:  timeout,
		logger:   logger.Named("upnp"),
		discover: goupnp.DiscoverDevicesCtx,
	}
}

func (s *UPnPScanner) Name() string { return "upnp" }

// Scan sends one SSDP search and fetches each responder's description.
func (s *UPnPScanner) Scan(ctx context.Context) ([]Candidate, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	devices, err := s.discover(ctx, ssdp.UPNPRootDevice)
	if err != nil {
		return nil, err
	}

	var out []Candidate
	for _, d := range devices {
		if d.Err != nil {
			s.logger.Debug("upnp device description failed", zap.String("usn", d.USN), zap.Error(d.Err))
			continue
		}
		if c, ok := fromRootDevice(d); ok {
			out = append(out, c)
		}
	}
	s.logger.Debug("UPnP scan complete", zap.Int("responders", len(devices)), zap.Int("candidates", len(out)))
	return out, nil
}

func fromRootDevice(d goupnp.MaybeRootDevice) (Candidate, bool) {
	if d.Root == nil || d.Location == nil {
		return Candidate{}, false
	}
	dev := d.Root.Device
	if !looksLikeCamera(dev.DeviceType, dev.FriendlyName, dev.Manufacturer, dev.ModelName, dev.ModelDescription) {
		return Candidate{}, false
	}

	// The presentation page is where the camera's web UI lives; fall back
	// to the description host.
	target := d.Location
	if p := dev.PresentationURL.URL; p.Host != "" {
		target = &p
	}
	host, port := splitHostPort(target)
	if host == "" {
		return Candidate{}, false
	}

	manufacturer := ManufacturerHint(dev.Manufacturer, dev.ModelName, dev.FriendlyName)
	settings := map[string]string{camera.SettingHTTPPort: strconv.Itoa(port)}
	if dev.SerialNumber != "" {
		settings["serial"] = dev.SerialNumber
	}
	return Candidate{
		Source:       "upnp",
		Name:         dev.FriendlyName,
		IPAddress:    host,
		Port:         port,
		Type:         typeFor(manufacturer, "http"),
		Manufacturer: manufacturer,
		Model:        dev.ModelName,
		Settings:     settings,
		DiscoveredAt: time.Now().UTC(),
	}, true
}

func splitHostPort(u *url.URL) (string, int) {
	host := u.Hostname()
	if net.ParseIP(host) == nil {
		return "", 0
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil || port == 0 {
		port = 80
		if u.Scheme == "https" {
			port = 443
		}
	}
	return host, port
}
