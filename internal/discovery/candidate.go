// Package discovery finds cameras on the local network with mDNS, UPnP and
// SNMP. It only proposes new descriptors; stored cameras are never changed.
package discovery

import (
	"context"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/HerbHall/camlink/pkg/camera"
)

// Candidate is a camera seen on the network.
type Candidate struct {
	Source       string            `json:"source"`
	Name         string            `json:"name"`
	IPAddress    string            `json:"ip_address"`
	Port         int               `json:"port"`
	Type         string            `json:"type"`
	Manufacturer string            `json:"manufacturer,omitempty"`
	Model        string            `json:"model,omitempty"`
	Settings     map[string]string `json:"settings,omitempty"`
	// Known is set when a stored camera already uses this address.
	Known        bool      `json:"known"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// Address is the host:port the candidate was seen on.
func (c Candidate) Address() string {
	return net.JoinHostPort(c.IPAddress, strconv.Itoa(c.Port))
}

// Spec converts the candidate into a descriptor ready to be stored.
func (c Candidate) Spec() camera.DeviceSpec {
	cfg := make(map[string]string, len(c.Settings)+1)
	for k, v := range c.Settings {
		cfg[k] = v
	}
	if c.Manufacturer != "" {
		cfg[camera.SettingManufacturer] = c.Manufacturer
	}
	name := c.Name
	if name == "" {
		name = c.Type + " " + c.IPAddress
	}
	return camera.DeviceSpec{
		Name:      name,
		IPAddress: c.IPAddress,
		Port:      c.Port,
		Type:      c.Type,
		Config:    cfg,
	}
}

// Scanner finds candidates with one protocol.
type Scanner interface {
	Name() string
	Scan(ctx context.Context) ([]Candidate, error)
}

// vendors maps substrings of names, descriptions and URLs to the
// manufacturer keyword the strategies match on.
var vendors = []struct {
	needle, manufacturer string
}{
	{"hikvision", "hikvision"},
	{"hikdigital", "hikvision"},
	{"dahua", "dahua"},
	{"amcrest", "dahua"},
	{"lorex", "dahua"},
	{"axis", "axis"},
	{"reolink", "reolink"},
	{"foscam", "foscam"},
	{"hanwha", "hanwha"},
	{"wisenet", "hanwha"},
	{"uniview", "uniview"},
	{"vivotek", "vivotek"},
}

// ManufacturerHint returns the manufacturer named in any of texts.
func ManufacturerHint(texts ...string) string {
	for _, t := range texts {
		t = strings.ToLower(t)
		for _, v := range vendors {
			if strings.Contains(t, v.needle) {
				return v.manufacturer
			}
		}
	}
	return ""
}

var cameraWords = []string{"camera", "cam", "ipc", "nvr", "dvr", "video", "onvif", "rtsp", "webcam"}

// looksLikeCamera reports whether texts suggest a video device.
func looksLikeCamera(texts ...string) bool {
	if ManufacturerHint(texts...) != "" {
		return true
	}
	for _, t := range texts {
		t = strings.ToLower(t)
		for _, w := range cameraWords {
			if strings.Contains(t, w) {
				return true
			}
		}
	}
	return false
}

// typeFor picks the declared type for a candidate so the selector routes
// it to the right strategy.
func typeFor(manufacturer, protocol string) string {
	switch {
	case manufacturer == "hikvision":
		return "Hikvision IP Camera"
	case manufacturer == "dahua":
		return "Dahua IP Camera"
	case protocol == "onvif":
		return "ONVIF Camera"
	case protocol == "rtsp":
		return "RTSP Camera"
	}
	return "IP Camera"
}

// merge combines candidates seen on the same address, keeping the first
// non-empty value of each field. The result is sorted by address.
func merge(in []Candidate) []Candidate {
	byAddr := make(map[string]*Candidate)
	var order []string
	for _, c := range in {
		key := c.Address()
		cur, ok := byAddr[key]
		if !ok {
			c := c
			if c.Settings == nil {
				c.Settings = map[string]string{}
			}
			byAddr[key] = &c
			order = append(order, key)
			continue
		}
		if !strings.Contains(cur.Source, c.Source) {
			cur.Source += "," + c.Source
		}
		if cur.Name == "" {
			cur.Name = c.Name
		}
		if cur.Manufacturer == "" && c.Manufacturer != "" {
			cur.Manufacturer = c.Manufacturer
			cur.Type = c.Type
		}
		if cur.Model == "" {
			cur.Model = c.Model
		}
		for k, v := range c.Settings {
			if _, exists := cur.Settings[k]; !exists {
				cur.Settings[k] = v
			}
		}
	}

	out := make([]Candidate, 0, len(order))
	for _, k := range order {
		out = append(out, *byAddr[k])
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IPAddress != out[j].IPAddress {
			return out[i].IPAddress < out[j].IPAddress
		}
		return out[i].Port < out[j].Port
	})
	return out
}
