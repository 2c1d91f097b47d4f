// Package inventory loads camera descriptors from a YAML file and imports
// them into the camera repository.
package inventory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/HerbHall/camlink/internal/services"
	"github.com/HerbHall/camlink/pkg/camera"
)

// file is the top-level structure of an inventory document.
type file struct {
	Cameras []camera.DeviceSpec `yaml:"cameras"`
}

// Parse decodes a YAML inventory document and validates every entry.
// Usernames and passwords may reference environment variables as ${NAME}.
func Parse(data []byte) ([]camera.DeviceSpec, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("inventory: parse yaml: %w", err)
	}
	return validate(f.Cameras)
}

// validate expands credentials and checks names and descriptors.
func validate(specs []camera.DeviceSpec) ([]camera.DeviceSpec, error) {
	var errs []error
	seen := make(map[string]int, len(specs))
	for i := range specs {
		spec := &specs[i]
		spec.Username = os.ExpandEnv(spec.Username)
		spec.Password = os.ExpandEnv(spec.Password)

		label := fmt.Sprintf("cameras[%d]", i)
		name := strings.TrimSpace(spec.Name)
		if name == "" {
			errs = append(errs, fmt.Errorf("%s: name is required", label))
			continue
		}
		label += " (" + name + ")"
		if prev, dup := seen[name]; dup {
			errs = append(errs, fmt.Errorf("%s: duplicate of cameras[%d]", label, prev))
			continue
		}
		seen[name] = i
		if _, err := camera.NewDevice(*spec); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", label, err))
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return specs, nil
}

// LoadFile reads and parses the inventory at path. Files ending in .csv
// are read as CSV, everything else as YAML.
func LoadFile(path string) ([]camera.DeviceSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("inventory: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return ParseCSV(bytes.NewReader(data))
	}
	return Parse(data)
}

// Export lists every stored camera as a descriptor. Passwords are cleared
// unless withSecrets is set.
func Export(ctx context.Context, repo services.CameraRepository, withSecrets bool) ([]camera.DeviceSpec, error) {
	var specs []camera.DeviceSpec
	for offset := 0; ; {
		res, err := repo.List(ctx, services.CameraFilter{}, services.ListOptions{
			Limit: services.MaxPageSize, Offset: offset, SortBy: "name", SortOrder: "asc",
		})
		if err != nil {
			return nil, fmt.Errorf("inventory: export: %w", err)
		}
		for _, c := range res.Items {
			spec := c.DeviceSpec
			if !withSecrets {
				spec.Password = ""
			}
			specs = append(specs, spec)
		}
		offset += len(res.Items)
		if len(res.Items) == 0 || offset >= res.Total {
			return specs, nil
		}
	}
}

// MarshalYAML renders specs as an inventory document Parse accepts.
func MarshalYAML(specs []camera.DeviceSpec) ([]byte, error) {
	return yaml.Marshal(file{Cameras: specs})
}

// Result counts what Import did.
type Result struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
}

// Import upserts specs into repo, matching by ID or else by name. It stops
// at the first repository error.
func Import(ctx context.Context, repo services.CameraRepository, specs []camera.DeviceSpec, logger *zap.Logger) (Result, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var res Result
	for _, spec := range specs {
		keepPassword(ctx, repo, &spec)
		c, created, err := repo.Upsert(ctx, spec)
		if err != nil {
			return res, fmt.Errorf("import %q: %w", spec.Name, err)
		}
		if created {
			res.Created++
		} else {
			res.Updated++
		}
		logger.Debug("camera imported",
			zap.String("id", c.ID),
			zap.String("name", c.Name),
			zap.Bool("created", created),
		)
	}
	logger.Info("inventory imported", zap.Int("created", res.Created), zap.Int("updated", res.Updated))
	return res, nil
}

// keepPassword fills an empty password from the stored camera with the same
// ID or name when the username is unchanged, so exported inventories can
// be imported again.
func keepPassword(ctx context.Context, repo services.CameraRepository, spec *camera.DeviceSpec) {
	if spec.Password != "" || spec.Username == "" {
		return
	}
	var (
		old *services.Camera
		err error
	)
	if spec.ID != "" {
		old, err = repo.Get(ctx, spec.ID)
	}
	if old == nil || err != nil {
		old, err = repo.GetByName(ctx, strings.TrimSpace(spec.Name))
	}
	if err == nil && old != nil && old.Username == spec.Username {
		spec.Password = old.Password
	}
}

// ImportFile loads path and imports it into repo.
func ImportFile(ctx context.Context, repo services.CameraRepository, path string, logger *zap.Logger) (Result, error) {
	specs, err := LoadFile(path)
	if err != nil {
		return Result{}, err
	}
	return Import(ctx, repo, specs, logger)
}
