package sdk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/HerbHall/camlink/internal/probe"
	"github.com/HerbHall/camlink/internal/strategy"
	"github.com/HerbHall/camlink/pkg/camera"
)

// Vendor describes what differs between SDK strategies.
type Vendor struct {
	Name     string
	Priority int
	// Keyword matched against manufacturer, sdk and type.
	Keyword string
	// SDKPort is the native SDK service port.
	SDKPort int
	// Latency models a native round-trip.
	Latency time.Duration
	// FirmwarePrefix seeds the placeholder firmware string.
	FirmwarePrefix string
	// StreamPath returns the RTSP path and raw query for channel and quality.
	StreamPath func(channel int, quality camera.Quality) (path, rawQuery string)
	// Capabilities reported for a logged-in device.
	Capabilities []string
}

// Options tune a Driver.
type Options struct {
	// Latency overrides Vendor.Latency when positive.
	Latency time.Duration
	// RTSPPort is where the device serves RTSP. Defaults to 554.
	RTSPPort int
}

// Driver implements camera.Strategy on top of a vendor SDK context. Vendor
// packages embed it.
type Driver struct {
	*strategy.Base
	vendor  Vendor
	sdk     *Context
	handles *Cache
	opts    Options
	snapSeq func() string
}

// NewDriver creates a driver for vendor using sdkCtx.
func NewDriver(vendor Vendor, sdkCtx *Context, deps strategy.Deps, opts Options) *Driver {
	if opts.Latency <= 0 {
		opts.Latency = vendor.Latency
	}
	if opts.RTSPPort == 0 {
		opts.RTSPPort = 554
	}
	return &Driver{
		Base:    strategy.NewBase(vendor.Name, vendor.Priority, deps),
		vendor:  vendor,
		sdk:     sdkCtx,
		handles: NewCache(),
		opts:    opts,
		snapSeq: func() string { return time.Now().UTC().Format(time.RFC3339Nano) },
	}
}

// SDK returns the vendor SDK context.
func (d *Driver) SDK() *Context { return d.sdk }

// Handles exposes the session cache.
func (d *Driver) Handles() *Cache { return d.handles }

func (d *Driver) matches(s string) bool {
	return strings.Contains(strings.ToLower(s), d.vendor.Keyword)
}

// SupportsCamera matches on the manufacturer or sdk settings, the declared
// type, or the vendor SDK port.
func (d *Driver) SupportsCamera(dev camera.Device) bool {
	switch {
	case d.matches(dev.Setting(camera.SettingManufacturer)):
		return true
	case d.matches(dev.Setting(camera.SettingSDK)):
		return true
	case dev.TypeContains(d.vendor.Keyword):
		return true
	case dev.Port() == d.vendor.SDKPort:
		return true
	}
	return false
}

func (d *Driver) sdkAddress(dev camera.Device) string {
	port := dev.SettingInt(camera.SettingSDKPort, d.vendor.SDKPort)
	return net.JoinHostPort(dev.IPAddress(), strconv.Itoa(port))
}

// login simulates a native SDK login: the SDK port must accept a TCP
// connection, then the call waits for the modeled latency.
func (d *Driver) login(ctx context.Context, dev camera.Device) (*Handle, error) {
	if err := d.sdk.Init(ctx); err != nil {
		return nil, err
	}
	tcp := probe.NewTCPChecker(d.Timeout(camera.OpTCP))
	if _, err := tcp.Check(ctx, d.sdkAddress(dev)); err != nil {
		return nil, camera.MapError(d.Name(), "login", err)
	}
	if err := strategy.Sleep(ctx, d.opts.Latency); err != nil {
		return nil, camera.MapError(d.Name(), "login", err)
	}

	sum := sha256.Sum256([]byte(d.vendor.Name + "|" + dev.CacheKey()))
	return &Handle{
		ID:           uuid.NewString(),
		Serial:       strings.ToUpper(d.vendor.Keyword[:2]) + "-" + strings.ToUpper(hex.EncodeToString(sum[:5])),
		Firmware:     d.vendor.FirmwarePrefix + " build " + hex.EncodeToString(sum[5:7]),
		Capabilities: append([]string(nil), d.vendor.Capabilities...),
		LoggedInAt:   time.Now().UTC(),
	}, nil
}

// session returns the cached handle for dev, logging in on a miss.
// Concurrent callers for one device share a single login.
func (d *Driver) session(ctx context.Context, dev camera.Device) (*Handle, error) {
	h, created, err := d.handles.GetOrCreate(ctx, dev.CacheKey(), func(ctx context.Context) (*Handle, error) {
		return d.login(ctx, dev)
	})
	if err != nil {
		return nil, err
	}
	if created {
		d.Logger().Info("sdk login",
			zap.String("device", dev.String()),
			zap.String("handle", h.ID),
			zap.String("serial", h.Serial),
		)
	}
	return h, nil
}

// TestConnection performs a login without caching the session.
func (d *Driver) TestConnection(ctx context.Context, dev camera.Device) (bool, error) {
	if err := dev.Validate(); err != nil {
		return false, err
	}
	if _, ok := d.handles.Get(dev.CacheKey()); ok {
		return true, nil
	}
	if _, err := d.login(ctx, dev); err != nil {
		return false, d.Wrap("test", dev, err)
	}
	return true, nil
}

func (d *Driver) channel(dev camera.Device) int {
	ch := dev.SettingInt(camera.SettingChannel, 1)
	if ch < 1 {
		ch = 1
	}
	return ch
}

func (d *Driver) streamURL(dev camera.Device, quality camera.Quality) string {
	path, query := d.vendor.StreamPath(d.channel(dev), quality)
	return strategy.BuildURL("rtsp", dev, d.opts.RTSPPort, path, query, true)
}

// GetStreamURL returns the vendor RTSP URL for quality.
func (d *Driver) GetStreamURL(_ context.Context, dev camera.Device, quality camera.Quality) (string, error) {
	if !quality.Valid() {
		return "", d.Fail("stream_url", camera.ErrCodeValidation, dev, fmt.Sprintf("unknown quality %q", quality), nil)
	}
	if err := dev.Validate(); err != nil {
		return "", err
	}
	return d.streamURL(dev, quality), nil
}

// CaptureSnapshot simulates an SDK capture on an existing or new session.
func (d *Driver) CaptureSnapshot(ctx context.Context, dev camera.Device) ([]byte, error) {
	if err := dev.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := d.WithTimeout(ctx, camera.OpSnapshot)
	defer cancel()

	h, err := d.session(ctx, dev)
	if err != nil {
		return nil, d.Wrap("snapshot", dev, err)
	}
	if err := strategy.Sleep(ctx, d.opts.Latency); err != nil {
		return nil, d.Wrap("snapshot", dev, err)
	}
	frame, err := strategy.SimulatedFrame(640, 360, h.Serial+"|"+d.snapSeq())
	if err != nil {
		return nil, d.Fail("snapshot", camera.ErrCodeInternal, dev, "encode frame", err)
	}
	if err := camera.ValidateImage(d.Name(), frame); err != nil {
		return nil, d.Wrap("snapshot", dev, err)
	}
	return frame, nil
}

// Connect logs in (or reuses the session) and returns the vendor stream URLs.
func (d *Driver) Connect(ctx context.Context, dev camera.Device) (*camera.ConnectionInfo, error) {
	if err := dev.Validate(); err != nil {
		return nil, err
	}
	h, err := d.session(ctx, dev)
	if err != nil {
		return nil, d.Wrap("connect", dev, err)
	}

	quality := d.Quality(dev)
	primary := d.streamURL(dev, quality)
	var backup string
	if quality != camera.QualityLow {
		backup = d.streamURL(dev, camera.QualityLow)
	}
	info := map[string]string{
		"protocol": "sdk",
		"vendor":   d.vendor.Keyword,
		"handle":   h.ID,
		"serial":   h.Serial,
		"firmware": h.Firmware,
		"channel":  strconv.Itoa(d.channel(dev)),
		"quality":  string(quality),
	}
	ci, err := camera.NewConnectionInfo(d.Name(), primary, backup, "", true, info)
	if err != nil {
		return nil, d.Wrap("connect", dev, err)
	}
	d.Logger().Info("camera connected",
		zap.String("device", dev.String()),
		zap.String("stream_url", camera.MaskCredentials(primary)),
	)
	return ci, nil
}

// Disconnect logs out and drops the cached handle. Repeated calls succeed.
func (d *Driver) Disconnect(_ context.Context, dev camera.Device) (bool, error) {
	if h, ok := d.handles.Remove(dev.CacheKey()); ok {
		d.Logger().Info("sdk logout", zap.String("device", dev.String()), zap.String("handle", h.ID))
	}
	d.ClearQuality(dev)
	return true, nil
}

// GetCapabilities returns the capabilities of the live session, or the
// vendor defaults when none exists.
func (d *Driver) GetCapabilities(_ context.Context, dev camera.Device) ([]string, error) {
	if h, ok := d.handles.Get(dev.CacheKey()); ok {
		return append([]string(nil), h.Capabilities...), nil
	}
	return append([]string(nil), d.vendor.Capabilities...), nil
}

// SetStreamQuality records the quality used by subsequent Connect calls.
func (d *Driver) SetStreamQuality(_ context.Context, dev camera.Device, quality camera.Quality) (bool, error) {
	if !quality.Valid() {
		return false, d.Fail("set_quality", camera.ErrCodeValidation, dev, fmt.Sprintf("unknown quality %q", quality), nil)
	}
	d.SetQuality(dev, quality)
	return true, nil
}

// GetCameraStatus reports SDK availability and the session, if any.
func (d *Driver) GetCameraStatus(_ context.Context, dev camera.Device) (map[string]any, error) {
	extra := map[string]any{
		"sdk_available":   d.sdk.Available(),
		"sdk_initialized": d.sdk.Initialized(),
		"sdk_address":     d.sdkAddress(dev),
	}
	h, ok := d.handles.Get(dev.CacheKey())
	if ok {
		extra["handle"] = h.ID
		extra["serial"] = h.Serial
		extra["firmware"] = h.Firmware
		extra["logged_in_at"] = h.LoggedInAt
		extra["stream_url"] = d.streamURL(dev, d.Quality(dev))
	}
	return d.Status(dev, "sdk", ok, extra), nil
}
