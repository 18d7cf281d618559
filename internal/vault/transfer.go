package vault

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/starford/timedline/internal/apperr"
	"github.com/starford/timedline/internal/models"
)

// Export file names.
const (
	EntriesJSONFile = "timedline-entries.json"
	EntriesCSVFile  = "timedline-entries.csv"
)

var csvHeader = []string{"timestamp", "date", "content", "attachment_name", "attachment_type", "attachment_url"}

// ExportJSON writes the in-memory list as a pretty-printed JSON array.
func (m *Manager) ExportJSON(ctx context.Context, w io.Writer) error {
	entries := m.Entries()
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(entries); err != nil {
		return fmt.Errorf("vault: export json: %w", err)
	}
	m.logActivity(ctx, "Exported vault as JSON", models.KindExport)
	return nil
}

// ExportCSV writes the in-memory list as CSV with a header row.
func (m *Manager) ExportCSV(ctx context.Context, w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("vault: export csv: %w", err)
	}
	for _, e := range m.Entries() {
		var name, typ, url string
		if a := e.Attachment; a != nil {
			name, typ, url = a.Name, a.MimeType, a.URL
		}
		row := []string{strconv.FormatInt(e.Timestamp, 10), e.Date, e.Content, name, typ, url}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("vault: export csv: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("vault: export csv: %w", err)
	}
	m.logActivity(ctx, "Exported vault as CSV", models.KindExport)
	return nil
}

// ImportResult counts what an import did with each record.
type ImportResult struct {
	Accepted  int `json:"accepted"`
	Created   int `json:"created"`
	Malformed int `json:"malformed"`
	Failed    int `json:"failed"`
}

// Import reads a JSON array of entries and creates every well-formed
// record through the active driver, one at a time. Malformed records are
// skipped; a failing record does not stop the rest. The list is reloaded
// once at the end.
func (m *Manager) Import(ctx context.Context, r io.Reader) (ImportResult, error) {
	var res ImportResult
	data, err := io.ReadAll(r)
	if err != nil {
		return res, fmt.Errorf("vault: import: read: %w", err)
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return res, &apperr.Error{Kind: apperr.ErrInvalidImport, Err: err}
	}

	records := make([]models.Entry, 0, len(raw))
	for _, rec := range raw {
		e, err := ParseImportRecord(rec)
		if err != nil {
			res.Malformed++
			continue
		}
		records = append(records, e)
	}
	res.Accepted = len(records)
	if len(records) == 0 {
		return res, nil
	}

	b := m.sel.Current()
	for _, e := range records {
		if err := b.Driver.CreateEntry(ctx, e); err != nil {
			res.Failed++
			m.logger.Warn("vault: import create failed",
				slog.Int64("timestamp", e.Timestamp), slog.String("error", err.Error()))
			continue
		}
		res.Created++
	}

	if err := m.Load(ctx); err != nil {
		m.logger.Warn("vault: reload after import failed", slog.String("error", err.Error()))
	}
	m.logActivity(ctx, fmt.Sprintf("Imported %d entries", res.Accepted), models.KindSave)
	return res, nil
}

// ParseImportRecord validates one import record. It requires an integral
// numeric timestamp (key "timestamp", or legacy "ts"), a string date and a
// string content. An optional "file" object contributes whichever of
// path, name, type and url are strings.
func ParseImportRecord(raw json.RawMessage) (models.Entry, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return models.Entry{}, apperr.ErrMalformedImport
	}

	tsRaw, ok := fields["timestamp"]
	if !ok {
		tsRaw, ok = fields["ts"]
	}
	if !ok {
		return models.Entry{}, apperr.ErrMalformedImport
	}
	ts, ok := integral(tsRaw)
	if !ok {
		return models.Entry{}, apperr.ErrMalformedImport
	}

	var e models.Entry
	e.Timestamp = ts
	if !stringField(fields, "date", &e.Date) || !stringField(fields, "content", &e.Content) {
		return models.Entry{}, apperr.ErrMalformedImport
	}

	if fileRaw, ok := fields["file"]; ok {
		var file map[string]json.RawMessage
		if json.Unmarshal(fileRaw, &file) == nil && file != nil {
			a := &models.Attachment{}
			stringField(file, "path", &a.StorageKey)
			stringField(file, "name", &a.Name)
			stringField(file, "type", &a.MimeType)
			stringField(file, "url", &a.URL)
			if *a != (models.Attachment{}) {
				e.Attachment = a
			}
		}
	}
	return e, nil
}

func integral(raw json.RawMessage) (int64, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] == '"' {
		return 0, false
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, false
	}
	if i, err := n.Int64(); err == nil {
		return i, true
	}
	f, err := n.Float64()
	if err != nil || f != float64(int64(f)) {
		return 0, false
	}
	return int64(f), true
}

func stringField(fields map[string]json.RawMessage, key string, dst *string) bool {
	raw, ok := fields[key]
	if !ok || string(bytes.TrimSpace(raw)) == "null" {
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}
