// Package export renders execution records to files for offline analysis.
package export

import (
	"compress/gzip"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"time"

	"squad/internal/history"
	"squad/internal/shared/logging"
)

// csvCellLimit truncates long text cells so spreadsheets stay usable.
const csvCellLimit = 1024

// Format selects the output rendering.
type Format string

const (
	FormatJSON        Format = "json"         // pretty-printed array
	FormatJSONCompact Format = "json_compact" // single-line array
	FormatJSONL       Format = "jsonl"        // one record per line
	FormatCSV         Format = "csv"          // flattened scalars only
	FormatParquet     Format = "parquet"      // no columnar writer wired; falls back to JSON
)

// Options configures one export.
type Options struct {
	Format Format
	Path   string
	Gzip   bool
}

// Result describes a finished export.
type Result struct {
	Path     string        `json:"path"`
	Format   Format        `json:"format"`
	Bytes    int64         `json:"bytes"`
	Count    int           `json:"count"`
	Duration time.Duration `json:"duration"`
}

// Exporter selects records from the history store and writes them out.
type Exporter struct {
	store  history.Store
	logger logging.Logger
	now    func() time.Time
}

// NewExporter builds an exporter.
func NewExporter(store history.Store, logger logging.Logger) (*Exporter, error) {
	if store == nil {
		return nil, errors.New("exporter requires history store")
	}
	return &Exporter{
		store:  store,
		logger: logging.OrNop(logger),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Export selects records by filter and writes them to opts.Path.
func (e *Exporter) Export(ctx context.Context, filter history.Filter, opts Options) (*Result, error) {
	if opts.Path == "" {
		return nil, errors.New("export: path required")
	}
	format := opts.Format
	if format == "" {
		format = FormatJSON
	}
	if format == FormatParquet {
		e.logger.Warn("export: no parquet writer available, falling back to json")
		format = FormatJSON
	}
	started := e.now()
	records, err := e.store.Query(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}

	file, err := os.Create(opts.Path)
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	var out io.Writer = file
	var gz *gzip.Writer
	if opts.Gzip {
		gz = gzip.NewWriter(file)
		out = gz
	}

	renderErr := render(out, format, records)
	if gz != nil {
		if err := gz.Close(); err != nil && renderErr == nil {
			renderErr = err
		}
	}
	if err := file.Close(); err != nil && renderErr == nil {
		renderErr = err
	}
	if renderErr != nil {
		return nil, fmt.Errorf("export: %w", renderErr)
	}

	info, err := os.Stat(opts.Path)
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	return &Result{
		Path:     opts.Path,
		Format:   format,
		Bytes:    info.Size(),
		Count:    len(records),
		Duration: e.now().Sub(started),
	}, nil
}

func render(out io.Writer, format Format, records []*history.Record) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	case FormatJSONCompact:
		return json.NewEncoder(out).Encode(records)
	case FormatJSONL:
		enc := json.NewEncoder(out)
		for _, r := range records {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
		return nil
	case FormatCSV:
		return renderCSV(out, records)
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

// csvColumns is the fixed scalar projection of a record.
var csvColumns = []string{
	"id", "persona", "persona_version", "outcome", "started_at", "completed_at",
	"duration_ms", "input", "output_summary", "error", "correlation", "user",
	"tokens", "cost", "decisions", "events",
}

func renderCSV(out io.Writer, records []*history.Record) error {
	w := csv.NewWriter(out)
	if err := w.Write(csvColumns); err != nil {
		return err
	}
	for _, r := range records {
		completed := ""
		if r.CompletedAt != nil {
			completed = r.CompletedAt.Format(time.RFC3339)
		}
		row := []string{
			r.ID,
			r.Persona,
			r.PersonaVersion,
			string(r.Outcome),
			r.StartedAt.Format(time.RFC3339),
			completed,
			strconv.FormatInt(r.DurationMS, 10),
			truncate(r.Input),
			truncate(r.OutputSummary),
			truncate(r.Error),
			r.Context.Correlation,
			r.Context.User,
			strconv.Itoa(r.Tokens),
			strconv.FormatFloat(r.Cost, 'f', -1, 64),
			strconv.Itoa(len(r.Decisions)),
			strconv.Itoa(len(r.Events)),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func truncate(s string) string {
	if len(s) <= csvCellLimit {
		return s
	}
	return s[:csvCellLimit]
}

// Formats returns the supported format names, for CLI help and validation.
func Formats() []string {
	names := []string{string(FormatJSON), string(FormatJSONCompact), string(FormatJSONL), string(FormatCSV), string(FormatParquet)}
	sort.Strings(names)
	return names
}
