// Package export writes collected records as one tabular file per source.
// Files are written to a temp file in the target directory and renamed
// into place, so readers never observe a partial artifact.
package export

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/profile-collector/internal/model"
)

// Format is an output file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatXLSX:
		return f, nil
	case "":
		return FormatCSV, nil
	default:
		return "", eris.Errorf("export: unknown format %q", s)
	}
}

// Ext returns the file extension including the dot.
func (f Format) Ext() string { return "." + string(f) }

// Options describes one output artifact.
type Options struct {
	Dir    string
	Name   string // base name without extension
	Format Format

	// Columns is the header written even when there are no records.
	Columns []string

	// BOM prefixes CSV output with a UTF-8 byte order mark so spreadsheet
	// tools detect the encoding.
	BOM bool
}

// Path returns the final path of the artifact.
func (o Options) Path() string {
	return filepath.Join(o.Dir, o.Name+o.Format.Ext())
}

// Write renders records and atomically places them at opts.Path().
func Write(opts Options, records []model.Record) (string, error) {
	if opts.Name == "" {
		return "", eris.New("export: output name is required")
	}
	if opts.Format == "" {
		opts.Format = FormatCSV
	}
	if len(opts.Columns) == 0 && len(records) > 0 {
		opts.Columns = records[0].Columns()
	}

	var render func(io.Writer) error
	switch opts.Format {
	case FormatCSV:
		render = func(w io.Writer) error { return writeCSV(w, opts.Columns, records, opts.BOM) }
	case FormatXLSX:
		render = func(w io.Writer) error { return writeXLSX(w, opts.Name, opts.Columns, records) }
	default:
		return "", eris.Errorf("export: unknown format %q", opts.Format)
	}

	path := opts.Path()
	if err := writeAtomic(path, render); err != nil {
		return "", err
	}

	zap.L().Info("export: wrote output",
		zap.String("path", path),
		zap.String("format", string(opts.Format)),
		zap.Int("rows", len(records)),
	)
	return path, nil
}

func writeAtomic(path string, render func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "export: create dir %s", dir)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return eris.Wrap(err, "export: create temp file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // no-op after a successful rename

	if err := render(tmp); err != nil {
		tmp.Close() //nolint:errcheck
		return err
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "export: close temp file")
	}
	if err := os.Rename(tmpName, path); err != nil {
		return eris.Wrapf(err, "export: rename to %s", path)
	}
	return nil
}
