// Package registry loads the facility registry from CSV or JSON.
package registry

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/stwalsh4118/reach/internal/models"
)

var (
	// ErrMissingColumn is returned when a required column is absent.
	ErrMissingColumn = errors.New("missing required column")
	// ErrInvalidRecord is returned for empty or duplicate identifiers.
	ErrInvalidRecord = errors.New("invalid registry record")
	// ErrUnsupportedFormat is returned for files that are neither CSV nor JSON.
	ErrUnsupportedFormat = errors.New("unsupported registry format")
)

// Columns names the registry fields. City, State and Zip are optional and are
// appended to Address when present.
type Columns struct {
	ID      string
	Name    string
	Address string
	City    string
	State   string
	Zip     string
	Status  string
}

// Options controls how rows become facilities.
type Options struct {
	Columns Columns
	// UnavailablePattern marks a facility unavailable when found in its status text.
	UnavailablePattern string
}

// Load reads the registry at path, choosing the format by extension.
func Load(path string, opts Options) ([]models.Facility, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open registry: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return ReadCSV(f, opts)
	case ".json":
		return ReadJSON(f, opts)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// ReadCSV parses a registry with a header row.
func ReadCSV(r io.Reader, opts Options) ([]models.Facility, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: registry has no header row", ErrMissingColumn)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read registry header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	if err := requireColumns(opts.Columns, func(col string) bool {
		_, ok := index[col]
		return ok
	}); err != nil {
		return nil, err
	}

	var rows []map[string]string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read registry row: %w", err)
		}
		row := make(map[string]string, len(index))
		for name, i := range index {
			if i < len(record) {
				row[name] = record[i]
			}
		}
		rows = append(rows, row)
	}

	return buildFacilities(rows, opts)
}

// ReadJSON parses a registry stored as an array of flat objects.
func ReadJSON(r io.Reader, opts Options) ([]models.Facility, error) {
	var records []map[string]interface{}
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("failed to decode registry: %w", err)
	}

	present := make(map[string]bool)
	rows := make([]map[string]string, 0, len(records))
	for _, record := range records {
		row := make(map[string]string, len(record))
		for key, value := range record {
			present[key] = true
			if value != nil {
				row[key] = fmt.Sprint(value)
			}
		}
		rows = append(rows, row)
	}

	if len(rows) > 0 {
		if err := requireColumns(opts.Columns, func(col string) bool { return present[col] }); err != nil {
			return nil, err
		}
	}

	return buildFacilities(rows, opts)
}

func requireColumns(cols Columns, has func(string) bool) error {
	var missing []string
	for _, col := range []string{cols.ID, cols.Name, cols.Address, cols.Status} {
		if !has(col) {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingColumn, strings.Join(missing, ", "))
	}
	return nil
}

func buildFacilities(rows []map[string]string, opts Options) ([]models.Facility, error) {
	now := time.Now().UTC()
	seen := make(map[string]int, len(rows))
	facilities := make([]models.Facility, 0, len(rows))

	for i, row := range rows {
		line := i + 1
		id := strings.TrimSpace(row[opts.Columns.ID])
		if id == "" {
			return nil, fmt.Errorf("%w: record %d has an empty %s", ErrInvalidRecord, line, opts.Columns.ID)
		}
		if first, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: identifier %q appears in records %d and %d", ErrInvalidRecord, id, first, line)
		}
		seen[id] = line

		status := strings.TrimSpace(row[opts.Columns.Status])
		facilities = append(facilities, models.Facility{
			UpdatedAt:  now,
			ID:         id,
			Name:       strings.TrimSpace(row[opts.Columns.Name]),
			Address:    joinAddress(row, opts.Columns),
			StatusNote: status,
			Available:  IsAvailable(status, opts.UnavailablePattern),
		})
	}
	return facilities, nil
}

// joinAddress concatenates the non-empty address parts as "street, city, state zip".
func joinAddress(row map[string]string, cols Columns) string {
	var parts []string
	if street := strings.TrimSpace(row[cols.Address]); street != "" {
		parts = append(parts, street)
	}
	if city := strings.TrimSpace(row[cols.City]); cols.City != "" && city != "" {
		parts = append(parts, city)
	}

	var tail []string
	if state := strings.TrimSpace(row[cols.State]); cols.State != "" && state != "" {
		tail = append(tail, state)
	}
	if zip := strings.TrimSpace(row[cols.Zip]); cols.Zip != "" && zip != "" {
		tail = append(tail, zip)
	}
	if len(tail) > 0 {
		parts = append(parts, strings.Join(tail, " "))
	}
	return strings.Join(parts, ", ")
}

// IsAvailable reports whether status does not contain pattern, ignoring case.
// An empty pattern marks every facility available.
func IsAvailable(status, pattern string) bool {
	if pattern == "" {
		return true
	}
	return !strings.Contains(strings.ToLower(status), strings.ToLower(pattern))
}

// Available returns the facilities whose availability flag is set.
func Available(facilities []models.Facility) []models.Facility {
	out := make([]models.Facility, 0, len(facilities))
	for _, f := range facilities {
		if f.Available {
			out = append(out, f)
		}
	}
	return out
}
