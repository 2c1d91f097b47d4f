package discovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"
)

const (
	oidSysDescr    = ".1.3.6.1.2.1.1.1.0"
	oidSysObjectID = ".1.3.6.1.2.1.1.2.0"
	oidSysName     = ".1.3.6.1.2.1.1.5.0"
)

// Identity is what a device reports about itself over SNMP.
type Identity struct {
	SysDescr     string `json:"sys_descr,omitempty"`
	SysObjectID  string `json:"sys_object_id,omitempty"`
	SysName      string `json:"sys_name,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty"`
}

// enterprise numbers under .1.3.6.1.4.1 of camera vendors.
var enterprises = map[string]string{
	"39165": "hikvision",
	"368":   "axis",
}

// SNMPIdentifier reads the system group of a device to learn its maker.
type SNMPIdentifier struct {
	community string
	port      uint16
	timeout   time.Duration
	get       func(ctx context.Context, target string, oids []string) (*gosnmp.SnmpPacket, error)
}

// NewSNMPIdentifier creates an SNMPv2c identifier.
func NewSNMPIdentifier(community string, port int, timeout time.Duration) *SNMPIdentifier {
	if community == "" {
		community = "public"
	}
	if port <= 0 || port > 65535 {
		port = 161
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	s := &SNMPIdentifier{community: community, port: uint16(port), timeout: timeout}
	s.get = s.snmpGet
	return s
}

func (s *SNMPIdentifier) snmpGet(ctx context.Context, target string, oids []string) (*gosnmp.SnmpPacket, error) {
	client := &gosnmp.GoSNMP{
		Target:    target,
		Port:      s.port,
		Community: s.community,
		Version:   gosnmp.Version2c,
		Timeout:   s.timeout,
		Retries:   1,
		Context:   ctx,
	}
	if err := client.Connect(); err != nil {
		return nil, fmt.Errorf("snmp connect %s: %w", target, err)
	}
	defer client.Conn.Close()
	return client.Get(oids)
}

// Identify queries sysDescr, sysObjectID and sysName of ip.
func (s *SNMPIdentifier) Identify(ctx context.Context, ip string) (*Identity, error) {
	result, err := s.get(ctx, ip, []string{oidSysDescr, oidSysObjectID, oidSysName})
	if err != nil {
		return nil, fmt.Errorf("SNMP Get failed: %w", err)
	}
	if result.Error != gosnmp.NoError {
		return nil, fmt.Errorf("SNMP error: %s", result.Error)
	}

	id := &Identity{}
	found := false
	for _, v := range result.Variables {
		if v.Type == gosnmp.NoSuchObject || v.Type == gosnmp.NoSuchInstance {
			continue
		}
		found = true
		switch v.Name {
		case oidSysDescr:
			if v.Type == gosnmp.OctetString {
				id.SysDescr = string(v.Value.([]byte))
			}
		case oidSysObjectID:
			if v.Type == gosnmp.ObjectIdentifier {
				id.SysObjectID = v.Value.(string)
			}
		case oidSysName:
			if v.Type == gosnmp.OctetString {
				id.SysName = string(v.Value.([]byte))
			}
		}
	}
	if !found {
		return nil, fmt.Errorf("no SNMP data returned")
	}

	id.Manufacturer = ManufacturerHint(id.SysDescr, id.SysName)
	if id.Manufacturer == "" {
		id.Manufacturer = enterpriseVendor(id.SysObjectID)
	}
	return id, nil
}

func enterpriseVendor(oid string) string {
	rest, ok := strings.CutPrefix(strings.TrimPrefix(oid, "."), "1.3.6.1.4.1.")
	if !ok {
		return ""
	}
	num, _, _ := strings.Cut(rest, ".")
	return enterprises[num]
}
