package source

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/settle-cli/api/schemas"
)

// fileRecord is one list entry. Value is kept as a node so that numbers,
// quoted strings and null all decode without losing precision.
type fileRecord struct {
	ID    string    `yaml:"id"`
	Label string    `yaml:"label"`
	Value yaml.Node `yaml:"value"`
}

type fileDocument struct {
	Units map[string][]fileRecord `yaml:"units"`
}

// FileSource serves record lists from a YAML (or JSON) document of the form
//
//	units:
//	  UNIT01:
//	    - {id: "4711", label: "Contract 4711", value: 1234.56}
type FileSource struct {
	units map[string][]schemas.Record
}

// LoadFile reads and parses a record file.
func LoadFile(path string) (*FileSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read record file: %w", err)
	}
	src, err := ParseRecords(data)
	if err != nil {
		return nil, fmt.Errorf("record file %s: %w", path, err)
	}
	return src, nil
}

// ParseRecords parses a record document.
func ParseRecords(data []byte) (*FileSource, error) {
	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse records: %w", err)
	}

	units := make(map[string][]schemas.Record, len(doc.Units))
	for unit, entries := range doc.Units {
		records := make([]schemas.Record, 0, len(entries))
		for i, e := range entries {
			id := strings.TrimSpace(e.ID)
			if id == "" {
				return nil, fmt.Errorf("unit %s entry %d: missing id", unit, i+1)
			}
			rec := schemas.Record{ID: id, Label: e.Label}
			if v, ok, err := nodeDecimal(e.Value); err != nil {
				return nil, fmt.Errorf("unit %s record %s: %w", unit, id, err)
			} else if ok {
				rec = rec.WithValue(v)
			}
			records = append(records, rec)
		}
		units[unit] = records
	}
	return &FileSource{units: units}, nil
}

func nodeDecimal(n yaml.Node) (decimal.Decimal, bool, error) {
	if n.Kind == 0 || n.Tag == "!!null" || strings.TrimSpace(n.Value) == "" {
		return decimal.Zero, false, nil
	}
	if n.Kind != yaml.ScalarNode {
		return decimal.Zero, false, fmt.Errorf("value must be a scalar")
	}
	d, err := decimal.NewFromString(strings.TrimSpace(n.Value))
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("value %q is not a decimal: %w", n.Value, err)
	}
	return d, true, nil
}

// Records implements RecordSource. The returned slice is a copy.
func (s *FileSource) Records(ctx context.Context, unitID string) ([]schemas.Record, error) {
	records, ok := s.units[unitID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUnit, unitID)
	}
	return append([]schemas.Record(nil), records...), nil
}

// Units implements RecordSource, in sorted order.
func (s *FileSource) Units(ctx context.Context) ([]string, error) {
	out := make([]string, 0, len(s.units))
	for u := range s.units {
		out = append(out, u)
	}
	sort.Strings(out)
	return out, nil
}
