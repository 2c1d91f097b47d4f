package testutil

import (
	"net"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/google/uuid"

	"github.com/HerbHall/camlink/pkg/camera"
)

// JPEG is a minimal byte sequence that passes snapshot validation.
var JPEG = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00, 0xFF, 0xD9}

// LoginPage is an HTML body a camera typically serves instead of an image
// when authentication fails.
var LoginPage = []byte("<!DOCTYPE html><html><body><form>login</form></body></html>")

// NewDeviceSpec returns a DeviceSpec with sensible defaults, suitable for
// test fixtures. Override individual fields through options.
func NewDeviceSpec(opts ...func(*camera.DeviceSpec)) camera.DeviceSpec {
	spec := camera.DeviceSpec{
		ID:        uuid.New().String(),
		Name:      "test-camera",
		IPAddress: "192.168.1.50",
		Port:      554,
		Type:      "IP Camera",
		Config:    map[string]string{},
	}
	for _, opt := range opts {
		opt(&spec)
	}
	return spec
}

// NewDevice builds a validated camera.Device, failing the test on error.
func NewDevice(t testing.TB, opts ...func(*camera.DeviceSpec)) camera.Device {
	t.Helper()
	dev, err := camera.NewDevice(NewDeviceSpec(opts...))
	if err != nil {
		t.Fatalf("testutil.NewDevice: %v", err)
	}
	return dev
}

// WithName sets the device name.
func WithName(name string) func(*camera.DeviceSpec) {
	return func(d *camera.DeviceSpec) { d.Name = name }
}

// WithIP sets the device IP address.
func WithIP(ip string) func(*camera.DeviceSpec) {
	return func(d *camera.DeviceSpec) { d.IPAddress = ip }
}

// WithPort sets the device port.
func WithPort(port int) func(*camera.DeviceSpec) {
	return func(d *camera.DeviceSpec) { d.Port = port }
}

// WithType sets the declared device type.
func WithType(typ string) func(*camera.DeviceSpec) {
	return func(d *camera.DeviceSpec) { d.Type = typ }
}

// WithCredentials sets username and password.
func WithCredentials(user, pass string) func(*camera.DeviceSpec) {
	return func(d *camera.DeviceSpec) {
		d.Username = user
		d.Password = pass
	}
}

// WithSetting adds a configuration bag entry.
func WithSetting(key, value string) func(*camera.DeviceSpec) {
	return func(d *camera.DeviceSpec) {
		if d.Config == nil {
			d.Config = map[string]string{}
		}
		d.Config[key] = value
	}
}

// WithServer points the device at a running httptest server.
func WithServer(srv *httptest.Server) func(*camera.DeviceSpec) {
	return func(d *camera.DeviceSpec) {
		host, port := SplitServer(srv)
		d.IPAddress = host
		d.Port = port
	}
}

// WithHTTPServer sets the http_port setting and IP to those of srv while
// leaving the device port untouched.
func WithHTTPServer(srv *httptest.Server) func(*camera.DeviceSpec) {
	return func(d *camera.DeviceSpec) {
		host, port := SplitServer(srv)
		d.IPAddress = host
		if d.Config == nil {
			d.Config = map[string]string{}
		}
		d.Config[camera.SettingHTTPPort] = strconv.Itoa(port)
	}
}

// SplitServer returns the host and port an httptest server listens on.
func SplitServer(srv *httptest.Server) (string, int) {
	u, err := url.Parse(srv.URL)
	if err != nil {
		panic("testutil.SplitServer: " + err.Error())
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		panic("testutil.SplitServer: " + err.Error())
	}
	port, _ := strconv.Atoi(portStr)
	return host, port
}
