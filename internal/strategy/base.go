// Package strategy holds the pieces every protocol strategy shares: naming
// and priority, error conversion with logging, per-operation timeouts and
// requested-quality bookkeeping. The protocol implementations live in the
// sub-packages.
package strategy

import (
	"context"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/camlink/internal/probe"
	"github.com/HerbHall/camlink/pkg/camera"
)

// Deps are the collaborators shared by all built-in strategies.
type Deps struct {
	Logger   *zap.Logger
	Timeouts camera.Timeouts
	HTTP     *probe.HTTPFetcher
	Pinger   probe.Checker
}

// withDefaults fills unset dependencies.
func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Timeouts == nil {
		d.Timeouts = camera.DefaultTimeouts()
	}
	if d.HTTP == nil {
		d.HTTP = probe.NewHTTPFetcher(nil, 0)
	}
	if d.Pinger == nil {
		d.Pinger = probe.NewICMPChecker(d.Timeouts.For(camera.OpPing), 1)
	}
	return d
}

// Base is embedded by every strategy.
type Base struct {
	name     string
	priority int
	deps     Deps
	logger   *zap.Logger

	mu        sync.RWMutex
	qualities map[string]camera.Quality
}

// NewBase creates the shared part of a strategy.
func NewBase(name string, priority int, deps Deps) *Base {
	deps = deps.withDefaults()
	return &Base{
		name:      name,
		priority:  priority,
		deps:      deps,
		logger:    deps.Logger.Named(name),
		qualities: make(map[string]camera.Quality),
	}
}

func (b *Base) Name() string              { return b.name }
func (b *Base) Priority() int             { return b.priority }
func (b *Base) Logger() *zap.Logger       { return b.logger }
func (b *Base) HTTP() *probe.HTTPFetcher  { return b.deps.HTTP }
func (b *Base) Pinger() probe.Checker     { return b.deps.Pinger }
func (b *Base) Timeouts() camera.Timeouts { return b.deps.Timeouts }

// Timeout returns the configured deadline for op.
func (b *Base) Timeout(op camera.OpType) time.Duration {
	return b.deps.Timeouts.For(op)
}

// WithTimeout derives a context bounded by the timeout for op.
func (b *Base) WithTimeout(ctx context.Context, op camera.OpType) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, b.Timeout(op))
}

// Fail logs a failure and returns it as a coded error.
func (b *Base) Fail(op string, code camera.ErrorCode, dev camera.Device, msg string, err error) error {
	ce := camera.NewError(code, b.name, op, msg, err)
	b.logFailure(ce, dev)
	return ce
}

// Wrap converts a raw error into a coded one, logs it and returns it.
func (b *Base) Wrap(op string, dev camera.Device, err error) error {
	ce := camera.MapError(b.name, op, err)
	if ce.Strategy == "" {
		ce.Strategy = b.name
	}
	b.logFailure(ce, dev)
	return ce
}

func (b *Base) logFailure(ce *camera.Error, dev camera.Device) {
	b.logger.Warn("camera operation failed",
		zap.String("op", ce.Op),
		zap.String("code", string(ce.Code)),
		zap.String("device", dev.String()),
		zap.String("error", ce.Error()),
	)
}

// SetQuality records the requested stream quality for dev.
func (b *Base) SetQuality(dev camera.Device, q camera.Quality) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.qualities[dev.CacheKey()] = q
}

// Quality returns the quality last requested for dev, medium by default.
func (b *Base) Quality(dev camera.Device) camera.Quality {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if q, ok := b.qualities[dev.CacheKey()]; ok {
		return q
	}
	return camera.QualityMedium
}

// ClearQuality forgets the requested quality for dev.
func (b *Base) ClearQuality(dev camera.Device) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.qualities, dev.CacheKey())
}

// Status builds the common part of a status map. URLs in extra are masked.
func (b *Base) Status(dev camera.Device, protocol string, connected bool, extra map[string]any) map[string]any {
	status := map[string]any{
		"strategy":   b.name,
		"protocol":   protocol,
		"connected":  connected,
		"device":     dev.Name(),
		"address":    dev.Address(),
		"quality":    string(b.Quality(dev)),
		"checked_at": time.Now().UTC(),
	}
	for k, v := range extra {
		if s, ok := v.(string); ok {
			v = camera.MaskCredentials(s)
		}
		status[k] = v
	}
	return status
}

// Credentials returns per-request credentials for dev, or nil.
func Credentials(dev camera.Device) *probe.Credentials {
	if dev.Username() == "" {
		return nil
	}
	return &probe.Credentials{Username: dev.Username(), Password: dev.Password()}
}

// BuildURL assembles scheme://[user:pass@]host:port/path?query. Credentials
// are embedded only when the device has both username and password.
func BuildURL(scheme string, dev camera.Device, port int, path, rawQuery string, withCredentials bool) string {
	u := url.URL{
		Scheme:   scheme,
		Host:     net.JoinHostPort(dev.IPAddress(), strconv.Itoa(port)),
		Path:     path,
		RawQuery: rawQuery,
	}
	if withCredentials && dev.HasCredentials() {
		u.User = url.UserPassword(dev.Username(), dev.Password())
	}
	return u.String()
}

// HTTPBase returns http://host:port for dev. The http_port setting wins over
// defaultPort.
func HTTPBase(dev camera.Device, defaultPort int) string {
	port := dev.SettingInt(camera.SettingHTTPPort, defaultPort)
	return "http://" + net.JoinHostPort(dev.IPAddress(), strconv.Itoa(port))
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
