package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/nicktill/tinybeacon/pkg/analytics"
	"github.com/nicktill/tinybeacon/pkg/storage"
)

// Supported output formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// Version of the JSON export envelope.
const Version = "1.0"

// Exporter streams raw events out of a store.
type Exporter struct {
	store storage.Scanner
	clock analytics.Clock
}

// NewExporter creates a new exporter. clock stamps exported_at; nil means
// the system clock.
func NewExporter(store storage.Scanner, clock analytics.Clock) *Exporter {
	if clock == nil {
		clock = analytics.SystemClock{}
	}
	return &Exporter{store: store, clock: clock}
}

// ExportOptions configures the export operation
type ExportOptions struct {
	Kind     analytics.EventKind
	Interval analytics.Interval
	Format   string
}

// ExportResult contains stats about the export
type ExportResult struct {
	EventsExported int                 `json:"events_exported"`
	Kind           analytics.EventKind `json:"kind"`
	TimeRange      string              `json:"time_range"`
	Format         string              `json:"format"`
	ExportedAt     time.Time           `json:"exported_at"`
}

// Metadata heads a JSON export.
type Metadata struct {
	ExportedAt time.Time           `json:"exported_at"`
	Kind       analytics.EventKind `json:"kind"`
	From       time.Time           `json:"from"`
	To         time.Time           `json:"to"`
	Version    string              `json:"version"`
}

// Export writes the selected events to w in opts.Format. Events are
// collected from the store first; w is written only after the store has
// been released.
func (e *Exporter) Export(ctx context.Context, w io.Writer, opts ExportOptions) (*ExportResult, error) {
	if opts.Format != FormatJSON && opts.Format != FormatCSV {
		return nil, fmt.Errorf("unsupported format %q", opts.Format)
	}

	batch, err := e.collect(ctx, opts)
	if err != nil {
		return nil, err
	}

	if opts.Format == FormatJSON {
		err = e.writeJSON(ctx, w, opts, batch)
	} else {
		err = writeCSV(ctx, w, opts.Kind, batch)
	}
	if err != nil {
		return nil, err
	}

	return &ExportResult{
		EventsExported: batch.len(),
		Kind:           opts.Kind,
		TimeRange:      opts.Interval.String(),
		Format:         opts.Format,
		ExportedAt:     e.clock.Now().UTC(),
	}, nil
}

// events holds one kind of event read from the store.
type events struct {
	views     []analytics.PageView
	downloads []analytics.Download
}

func (ev events) len() int { return len(ev.views) + len(ev.downloads) }

// collect reads every event in the interval. The store holds its lock for
// the duration of the scan, so the callbacks only append.
func (e *Exporter) collect(ctx context.Context, opts ExportOptions) (events, error) {
	var ev events
	var err error
	switch opts.Kind {
	case analytics.KindPageView:
		err = e.store.ScanPageViews(ctx, opts.Interval, func(pv analytics.PageView) error {
			ev.views = append(ev.views, pv)
			return ctx.Err()
		})
	case analytics.KindDownload:
		err = e.store.ScanDownloads(ctx, opts.Interval, func(d analytics.Download) error {
			ev.downloads = append(ev.downloads, d)
			return ctx.Err()
		})
	default:
		return events{}, fmt.Errorf("unsupported kind %q", opts.Kind)
	}
	if err != nil {
		return events{}, err
	}
	return ev, nil
}

// writeJSON writes {"metadata": {...}, "events": [...]} one event at a
// time.
func (e *Exporter) writeJSON(ctx context.Context, w io.Writer, opts ExportOptions, ev events) error {
	meta, err := json.Marshal(Metadata{
		ExportedAt: e.clock.Now().UTC().Truncate(time.Second),
		Kind:       opts.Kind,
		From:       opts.Interval.From,
		To:         opts.Interval.To,
		Version:    Version,
	})
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	if _, err := fmt.Fprintf(w, `{"metadata":%s,"events":[`, meta); err != nil {
		return err
	}

	for i := 0; i < ev.len(); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		var v interface{}
		if i < len(ev.views) {
			v = ev.views[i]
		} else {
			v = ev.downloads[i-len(ev.views)]
		}
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
		if i > 0 {
			if _, err := io.WriteString(w, ","); err != nil {
				return err
			}
		}
		if _, err := w.Write(b); err != nil {
			return err
		}
	}

	_, err = io.WriteString(w, "]}\n")
	return err
}

var (
	pageViewHeader = []string{"id", "created_at", "domain", "path", "referrer", "browser", "os", "screen", "visitor_id"}
	downloadHeader = []string{"id", "created_at", "app_name", "version", "platform", "referrer"}
)

func writeCSV(ctx context.Context, w io.Writer, kind analytics.EventKind, ev events) error {
	writer := csv.NewWriter(w)

	header := pageViewHeader
	if kind == analytics.KindDownload {
		header = downloadHeader
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	write := func(row []string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
		return nil
	}

	for _, pv := range ev.views {
		if err := write([]string{
			strconv.FormatInt(pv.ID, 10),
			analytics.FormatTimestamp(pv.CreatedAt),
			pv.Domain, pv.Path, pv.Referrer, pv.Browser, pv.OS, pv.Screen, pv.VisitorID,
		}); err != nil {
			return err
		}
	}
	for _, d := range ev.downloads {
		if err := write([]string{
			strconv.FormatInt(d.ID, 10),
			analytics.FormatTimestamp(d.CreatedAt),
			d.AppName, d.Version, d.Platform, d.Referrer,
		}); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}
