package camera

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Well-known configuration bag keys.
const (
	SettingManufacturer = "manufacturer"
	SettingSDK          = "sdk"
	SettingDevicePath   = "device_path"
	SettingProtocol     = "protocol"
	SettingChannel      = "channel"
	SettingStreamPath   = "stream_path"
	SettingHTTPPort     = "http_port"
	SettingONVIFPort    = "onvif_port"
	SettingSDKPort      = "sdk_port"
)

// DeviceSpec is the mutable input form of a camera description, as produced
// by the device-management layer (database rows, YAML inventory, API bodies).
type DeviceSpec struct {
	ID        string            `json:"id" yaml:"id"`
	Name      string            `json:"name" yaml:"name"`
	IPAddress string            `json:"ip_address" yaml:"ip_address"`
	Port      int               `json:"port" yaml:"port"`
	Username  string            `json:"username,omitempty" yaml:"username,omitempty"`
	Password  string            `json:"password,omitempty" yaml:"password,omitempty"`
	Type      string            `json:"type" yaml:"type"`
	Config    map[string]string `json:"config,omitempty" yaml:"config,omitempty"`
}

// Device is an immutable camera descriptor. Strategies only ever read it.
type Device struct {
	id       string
	name     string
	ip       string
	port     int
	username string
	password string
	typ      string
	config   map[string]string
}

// NewDevice validates spec and returns the corresponding Device. The
// configuration bag is copied and its keys lower-cased.
func NewDevice(spec DeviceSpec) (Device, error) {
	d := Device{
		id:       strings.TrimSpace(spec.ID),
		name:     strings.TrimSpace(spec.Name),
		ip:       strings.TrimSpace(spec.IPAddress),
		port:     spec.Port,
		username: spec.Username,
		password: spec.Password,
		typ:      strings.TrimSpace(spec.Type),
		config:   make(map[string]string, len(spec.Config)),
	}
	for k, v := range spec.Config {
		d.config[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	if err := d.Validate(); err != nil {
		return Device{}, err
	}
	return d, nil
}

// Validate checks the descriptor invariants: port in [1, 65535] and a
// non-empty IP address for every network-attached camera.
func (d Device) Validate() error {
	if d.port < 1 || d.port > 65535 {
		return NewError(ErrCodeValidation, "", "validate",
			fmt.Sprintf("port %d out of range [1, 65535]", d.port), nil)
	}
	if d.NetworkBased() && d.ip == "" {
		return NewError(ErrCodeValidation, "", "validate", "ip address is required", nil)
	}
	return nil
}

// NetworkBased reports whether the camera is reached over the network.
// Locally attached USB cameras are the only exception.
func (d Device) NetworkBased() bool {
	if d.TypeContains("usb") || d.TypeContains("webcam") {
		return false
	}
	return d.Setting(SettingDevicePath) == ""
}

func (d Device) ID() string        { return d.id }
func (d Device) Name() string      { return d.name }
func (d Device) IPAddress() string { return d.ip }
func (d Device) Port() int         { return d.port }
func (d Device) Username() string  { return d.username }
func (d Device) Password() string  { return d.password }
func (d Device) Type() string      { return d.typ }

// HasCredentials reports whether both username and password are set.
func (d Device) HasCredentials() bool {
	return d.username != "" && d.password != ""
}

// Address returns host:port.
func (d Device) Address() string {
	return net.JoinHostPort(d.ip, strconv.Itoa(d.port))
}

// Setting returns the configuration bag value for key (case-insensitive).
func (d Device) Setting(key string) string {
	return d.config[strings.ToLower(key)]
}

// SettingInt returns the configuration value for key parsed as an int, or
// def when it is missing or malformed.
func (d Device) SettingInt(key string, def int) int {
	v := d.Setting(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// Settings returns a copy of the configuration bag.
func (d Device) Settings() map[string]string {
	out := make(map[string]string, len(d.config))
	for k, v := range d.config {
		out[k] = v
	}
	return out
}

// TypeContains reports whether the declared type contains substr, ignoring case.
func (d Device) TypeContains(substr string) bool {
	return strings.Contains(strings.ToLower(d.typ), strings.ToLower(substr))
}

// SettingContains reports whether the configuration value for key contains
// substr, ignoring case.
func (d Device) SettingContains(key, substr string) bool {
	v := d.Setting(key)
	return v != "" && strings.Contains(strings.ToLower(v), strings.ToLower(substr))
}

// CacheKey derives a stable key from the device name and address. Two
// devices never share a key unless they share name, IP and port.
func (d Device) CacheKey() string {
	sum := sha256.Sum256([]byte(d.name + "|" + d.ip + "|" + strconv.Itoa(d.port)))
	return hex.EncodeToString(sum[:8])
}

// Spec returns the mutable form of the descriptor.
func (d Device) Spec() DeviceSpec {
	return DeviceSpec{
		ID:        d.id,
		Name:      d.name,
		IPAddress: d.ip,
		Port:      d.port,
		Username:  d.username,
		Password:  d.password,
		Type:      d.typ,
		Config:    d.Settings(),
	}
}

// String identifies the device for logs. Credentials are never included.
func (d Device) String() string {
	if d.name != "" {
		return fmt.Sprintf("%s (%s)", d.name, d.Address())
	}
	return d.Address()
}
