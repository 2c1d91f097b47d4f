// Package backup writes and restores tar.gz archives of the CamLink
// database and configuration file.
package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// DatabaseEntry is the archive name of the database snapshot.
const DatabaseEntry = "camlink.db"

// maxEntrySize caps a restored file.
const maxEntrySize = 1 << 30

// Backup writes a tar.gz archive to outputPath holding a consistent
// snapshot of db and, if it exists, the config file at configPath. The
// snapshot is taken with VACUUM INTO, so the server may keep running.
func Backup(ctx context.Context, db *sql.DB, configPath, outputPath string) error {
	tmp, err := os.MkdirTemp("", "camlink-backup-")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	snapshot := filepath.Join(tmp, DatabaseEntry)
	if _, err := db.ExecContext(ctx, "VACUUM INTO ?", snapshot); err != nil {
		return fmt.Errorf("snapshot database: %w", err)
	}

	outFile, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	defer outFile.Close()

	gw := gzip.NewWriter(outFile)
	tw := tar.NewWriter(gw)

	if err := addFileToTar(tw, snapshot, DatabaseEntry); err != nil {
		return fmt.Errorf("adding database to archive: %w", err)
	}
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			if err := addFileToTar(tw, configPath, filepath.Base(configPath)); err != nil {
				return fmt.Errorf("adding config to archive: %w", err)
			}
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("closing archive: %w", err)
	}
	if err := gw.Close(); err != nil {
		return fmt.Errorf("closing archive: %w", err)
	}
	return outFile.Close()
}

// DefaultName returns camlink-backup-{timestamp}.tar.gz for t.
func DefaultName(t time.Time) string {
	return fmt.Sprintf("camlink-backup-%s.tar.gz", t.Format("20060102-150405"))
}

// Restore extracts the archive at input. The database snapshot is written
// to dbPath; any other entry lands next to it under its base name.
// Existing files are only replaced when force is set.
func Restore(_ context.Context, input, dbPath string, force bool) error {
	f, err := os.Open(input)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	gr, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("reading archive: %w", err)
	}
	defer gr.Close()

	dir := filepath.Dir(dbPath)
	tr := tar.NewReader(gr)
	foundDB := false
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("reading archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		target := filepath.Join(dir, filepath.Base(hdr.Name))
		if hdr.Name == DatabaseEntry {
			target = dbPath
			foundDB = true
		}
		if err := extract(tr, target, force); err != nil {
			return err
		}
		if target == dbPath {
			// A stale WAL would be replayed over the restored database.
			_ = os.Remove(dbPath + "-wal")
			_ = os.Remove(dbPath + "-shm")
		}
	}
	if !foundDB {
		return fmt.Errorf("archive %s has no %s entry", input, DatabaseEntry)
	}
	return nil
}

func extract(r io.Reader, target string, force bool) error {
	if !force {
		if _, err := os.Stat(target); err == nil {
			return fmt.Errorf("%s already exists (use force to overwrite)", target)
		}
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating %s: %w", target, err)
	}
	n, err := io.Copy(out, io.LimitReader(r, maxEntrySize+1))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("writing %s: %w", target, err)
	}
	if n > maxEntrySize {
		return fmt.Errorf("%s exceeds %d bytes", target, int64(maxEntrySize))
	}
	return nil
}

// addFileToTar adds a single file to the tar archive under the given name.
func addFileToTar(tw *tar.Writer, filePath, archiveName string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = archiveName

	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}

	_, err = io.Copy(tw, f)
	return err
}
