package discovery

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/mdns"
	"go.uber.org/zap"

	"github.com/HerbHall/camlink/pkg/camera"
)

// DefaultMDNSServices are the service types cameras commonly announce.
var DefaultMDNSServices = []string{"_rtsp._tcp", "_http._tcp", "_onvif._tcp"}

// MDNSScanner queries mDNS service types and keeps entries that look like
// cameras.
type MDNSScanner struct {
	services []string
	timeout  time.Duration
	logger   *zap.Logger
	query    func(ctx context.Context, params *mdns.QueryParam) error
}

// NewMDNSScanner creates a scanner for services. Empty means
// DefaultMDNSServices.
func NewMDNSScanner(services []string, timeout time.Duration, logger *zap.Logger) *MDNSScanner {
	if len(services) == 0 {
		services = DefaultMDNSServices
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MDNSScanner{
		services: services,
		timeout:  timeout,
		logger:   logger.Named("mdns"),
		query:    mdns.QueryContext,
	}
}

func (s *MDNSScanner) Name() string { return "mdns" }

// Scan queries each service type in turn.
func (s *MDNSScanner) Scan(ctx context.Context) ([]Candidate, error) {
	var out []Candidate
	for _, svc := range s.services {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		out = append(out, s.queryService(ctx, svc)...)
	}
	s.logger.Debug("mDNS scan complete", zap.Int("candidates", len(out)))
	return out, nil
}

func (s *MDNSScanner) queryService(ctx context.Context, service string) []Candidate {
	entries := make(chan *mdns.ServiceEntry, 16)

	var found []Candidate
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for entry := range entries {
			if c, ok := fromEntry(entry, service); ok {
				found = append(found, c)
			}
		}
	}()

	params := mdns.DefaultParams(service)
	params.Timeout = s.timeout
	params.Entries = entries
	params.DisableIPv6 = true

	if err := s.query(ctx, params); err != nil {
		s.logger.Debug("mDNS query failed", zap.String("service", service), zap.Error(err))
	}
	close(entries)
	wg.Wait()
	return found
}

// fromEntry converts an mDNS answer. Generic web servers are kept only
// when their name or TXT records suggest a camera.
func fromEntry(entry *mdns.ServiceEntry, service string) (Candidate, bool) {
	if entry == nil || entry.Port == 0 {
		return Candidate{}, false
	}
	ip := ""
	switch {
	case entry.AddrV4 != nil && !entry.AddrV4.IsUnspecified():
		ip = entry.AddrV4.String()
	case entry.Addr != nil && !entry.Addr.IsUnspecified():
		ip = entry.Addr.String()
	}
	if ip == "" {
		return Candidate{}, false
	}

	name := strings.TrimSuffix(entry.Host, ".")
	if i := strings.Index(entry.Name, "."+service); i > 0 {
		name = entry.Name[:i]
	}
	texts := append([]string{entry.Name, entry.Host, entry.Info}, entry.InfoFields...)
	manufacturer := ManufacturerHint(texts...)

	protocol := "http"
	settings := map[string]string{}
	switch {
	case strings.HasPrefix(service, "_rtsp."):
		protocol = "rtsp"
	case strings.HasPrefix(service, "_onvif."):
		protocol = "onvif"
		settings[camera.SettingONVIFPort] = strconv.Itoa(entry.Port)
	default:
		if !looksLikeCamera(texts...) {
			return Candidate{}, false
		}
		settings[camera.SettingHTTPPort] = strconv.Itoa(entry.Port)
	}

	return Candidate{
		Source:       "mdns",
		Name:         name,
		IPAddress:    ip,
		Port:         entry.Port,
		Type:         typeFor(manufacturer, protocol),
		Manufacturer: manufacturer,
		Settings:     settings,
		DiscoveredAt: time.Now().UTC(),
	}, true
}
