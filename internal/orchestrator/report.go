package orchestrator

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/settle-cli/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// EncodeReport writes r as indented JSON.
func EncodeReport(w io.Writer, r *schemas.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}

// WriteReport saves r to path, creating its directory.
func WriteReport(path string, r *schemas.Report) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	if err := EncodeReport(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// efficiency is the share of records that were marked, in percent.
func efficiency(u *schemas.UnitReport) float64 {
	if u.RecordsTotal == 0 {
		return 0
	}
	return float64(u.RecordsMarked) * 100 / float64(u.RecordsTotal)
}
