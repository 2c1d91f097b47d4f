package inventory

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/HerbHall/camlink/internal/services"
	"github.com/HerbHall/camlink/internal/testutil"
)

const sample = `
cameras:
  - name: lobby
    ip_address: 192.168.1.20
    port: 80
    type: Hikvision DS-2CD
    username: admin
    password: ${CAMLINK_TEST_LOBBY_PASSWORD}
    config:
      channel: "2"
  - name: desk
    port: 1
    type: USB Webcam
    config:
      device_path: /dev/video0
`

func TestParse(t *testing.T) {
	t.Setenv("CAMLINK_TEST_LOBBY_PASSWORD", "hunter2")

	specs, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(specs) != 2 {
		t.Fatalf("len = %d, want 2", len(specs))
	}
	if specs[0].Password != "hunter2" {
		t.Errorf("Password = %q, want expanded value", specs[0].Password)
	}
	if specs[0].Config["channel"] != "2" {
		t.Errorf("channel = %q, want 2", specs[0].Config["channel"])
	}
	if specs[1].IPAddress != "" {
		t.Errorf("IPAddress = %q, want empty for USB", specs[1].IPAddress)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"bad yaml", "cameras: [", "parse yaml"},
		{"missing name", "cameras:\n  - ip_address: 10.0.0.1\n    port: 554\n", "name is required"},
		{"bad port", "cameras:\n  - name: a\n    ip_address: 10.0.0.1\n    port: 0\n", "out of range"},
		{"missing ip", "cameras:\n  - name: a\n    port: 554\n", "ip address is required"},
		{"duplicate", "cameras:\n  - {name: a, ip_address: 10.0.0.1, port: 554}\n  - {name: a, ip_address: 10.0.0.2, port: 554}\n", "duplicate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Parse error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestImportFile_Idempotent(t *testing.T) {
	s := testutil.NewStore(t)
	ctx := context.Background()
	if err := services.Migrate(ctx, s); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	repo := services.NewSQLiteCameraRepository(s.DB())

	path := filepath.Join(t.TempDir(), "devices.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	first, err := ImportFile(ctx, repo, path, testutil.Logger())
	if err != nil {
		t.Fatalf("ImportFile: %v", err)
	}
	if first.Created != 2 || first.Updated != 0 {
		t.Errorf("first import = %+v, want 2 created", first)
	}

	second, err := ImportFile(ctx, repo, path, testutil.Logger())
	if err != nil {
		t.Fatalf("ImportFile again: %v", err)
	}
	if second.Created != 0 || second.Updated != 2 {
		t.Errorf("second import = %+v, want 2 updated", second)
	}

	list, _ := repo.List(ctx, services.CameraFilter{}, services.ListOptions{})
	if list.Total != 2 {
		t.Errorf("cameras = %d, want 2", list.Total)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("LoadFile on missing file returned nil error")
	}
}
