package inventory

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/HerbHall/camlink/pkg/camera"
)

// csvHeaders returns the CSV column headers.
func csvHeaders() []string {
	return []string{"id", "name", "ip_address", "port", "type", "username", "password", "config"}
}

// csvColumnCount is the number of columns in the CSV format.
const csvColumnCount = 8

// specToCSVRow converts a descriptor to a CSV row (matching csvHeaders
// order). Config is written as sorted key=value pairs joined by ";".
func specToCSVRow(s camera.DeviceSpec) []string {
	pairs := make([]string, 0, len(s.Config))
	for _, k := range slices.Sorted(maps.Keys(s.Config)) {
		pairs = append(pairs, k+"="+s.Config[k])
	}
	return []string{
		s.ID,
		s.Name,
		s.IPAddress,
		strconv.Itoa(s.Port),
		s.Type,
		s.Username,
		s.Password,
		strings.Join(pairs, ";"),
	}
}

// csvRowToSpec parses a CSV row into a descriptor.
func csvRowToSpec(row []string) (camera.DeviceSpec, error) {
	if len(row) < csvColumnCount {
		return camera.DeviceSpec{}, fmt.Errorf("expected %d columns, got %d", csvColumnCount, len(row))
	}
	r := row[:csvColumnCount]

	port, err := strconv.Atoi(strings.TrimSpace(r[3]))
	if err != nil {
		return camera.DeviceSpec{}, fmt.Errorf("invalid port %q", r[3])
	}
	s := camera.DeviceSpec{
		ID:        r[0],
		Name:      r[1],
		IPAddress: r[2],
		Port:      port,
		Type:      r[4],
		Username:  r[5],
		Password:  r[6],
	}
	if r[7] != "" {
		s.Config = make(map[string]string)
		for _, pair := range strings.Split(r[7], ";") {
			k, v, ok := strings.Cut(pair, "=")
			if !ok {
				return camera.DeviceSpec{}, fmt.Errorf("invalid config pair %q", pair)
			}
			s.Config[k] = v
		}
	}
	return s, nil
}

// WriteCSV writes specs with a header row.
func WriteCSV(w io.Writer, specs []camera.DeviceSpec) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeaders()); err != nil {
		return err
	}
	for _, s := range specs {
		if err := cw.Write(specToCSVRow(s)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ParseCSV reads a CSV inventory. The header row is required and skipped.
// Entries are validated the same way as YAML documents.
func ParseCSV(r io.Reader) ([]camera.DeviceSpec, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("inventory: parse csv: %w", err)
	}
	if len(records) == 0 {
		return nil, errors.New("inventory: csv has no header row")
	}

	specs := make([]camera.DeviceSpec, 0, len(records)-1)
	var errs []error
	for i, row := range records[1:] {
		s, err := csvRowToSpec(row)
		if err != nil {
			errs = append(errs, fmt.Errorf("line %d: %w", i+2, err))
			continue
		}
		specs = append(specs, s)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return validate(specs)
}
