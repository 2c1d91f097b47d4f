package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/HerbHall/camlink/internal/services"
	"github.com/HerbHall/camlink/internal/store"
	"github.com/HerbHall/camlink/internal/testutil"
)

func TestBackupRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	src := testutil.NewStore(t)
	if err := services.Migrate(ctx, src); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	repo := services.NewSQLiteCameraRepository(src.DB())
	created, err := repo.Create(ctx, testutil.NewDeviceSpec(testutil.WithName("backyard")))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	cfgPath := filepath.Join(dir, "camlink.yaml")
	if err := os.WriteFile(cfgPath, []byte("server:\n  addr: :9000\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	archive := filepath.Join(dir, "backup.tar.gz")
	if err := Backup(ctx, src.DB(), cfgPath, archive); err != nil {
		t.Fatalf("Backup() error = %v", err)
	}

	restoreDir := filepath.Join(dir, "restore")
	if err := os.Mkdir(restoreDir, 0o755); err != nil {
		t.Fatal(err)
	}
	dbPath := filepath.Join(restoreDir, "restored.db")
	if err := Restore(ctx, archive, dbPath, false); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(restoreDir, "camlink.yaml")); err != nil {
		t.Errorf("config not restored: %v", err)
	}

	restored, err := store.New(dbPath)
	if err != nil {
		t.Fatalf("open restored: %v", err)
	}
	defer restored.Close()
	got, err := services.NewSQLiteCameraRepository(restored.DB()).Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get() on restored db error = %v", err)
	}
	if got.Name != "backyard" {
		t.Errorf("Name = %q, want backyard", got.Name)
	}

	if err := Restore(ctx, archive, dbPath, false); err == nil {
		t.Error("Restore() over existing file without force succeeded")
	}
	if err := Restore(ctx, archive, dbPath, true); err != nil {
		t.Errorf("Restore(force) error = %v", err)
	}
}

func TestRestoreMissingArchive(t *testing.T) {
	err := Restore(context.Background(), filepath.Join(t.TempDir(), "absent.tar.gz"), filepath.Join(t.TempDir(), "x.db"), false)
	if err == nil {
		t.Error("Restore(absent) error = nil, want error")
	}
}

func TestDefaultName(t *testing.T) {
	got := DefaultName(time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC))
	if want := "camlink-backup-20260304-050607.tar.gz"; got != want {
		t.Errorf("DefaultName() = %q, want %q", got, want)
	}
}
