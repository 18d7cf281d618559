package rowstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/starford/timedline/internal/models"
	"github.com/starford/timedline/internal/storage/remote"
)

var _ remote.Rows = (*DB)(nil)

// ErrDuplicate is returned when an entry with the same owner and timestamp exists.
var ErrDuplicate = errors.New("rowstore: duplicate entry timestamp")

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// InsertEntry inserts one entry row.
func (db *DB) InsertEntry(ctx context.Context, userID string, r remote.EntryRow) error {
	res, err := db.conn.ExecContext(ctx, `
		INSERT OR IGNORE INTO entries (user_id, ts, date, content, file_path, file_name, file_type)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, userID, r.Timestamp, r.Date, r.Content, nullable(r.FilePath), nullable(r.FileName), nullable(r.FileType))
	if err != nil {
		return fmt.Errorf("rowstore: insert entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDuplicate
	}
	return nil
}

// ListEntries returns the owner's entries, newest first.
func (db *DB) ListEntries(ctx context.Context, userID string) ([]remote.EntryRow, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT ts, date, content, file_path, file_name, file_type
		FROM entries WHERE user_id = ?
		ORDER BY ts DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("rowstore: list entries: %w", err)
	}
	defer rows.Close()

	out := []remote.EntryRow{}
	for rows.Next() {
		var r remote.EntryRow
		var path, name, typ sql.NullString
		if err := rows.Scan(&r.Timestamp, &r.Date, &r.Content, &path, &name, &typ); err != nil {
			return nil, fmt.Errorf("rowstore: scan entry: %w", err)
		}
		r.FilePath, r.FileName, r.FileType = path.String, name.String, typ.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteEntry removes the owner's entry with the given timestamp.
// Deleting a missing row is not an error.
func (db *DB) DeleteEntry(ctx context.Context, userID string, ts int64) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM entries WHERE user_id = ? AND ts = ?`, userID, ts); err != nil {
		return fmt.Errorf("rowstore: delete entry: %w", err)
	}
	return nil
}

// InsertActivity appends one activity row.
func (db *DB) InsertActivity(ctx context.Context, userID string, item models.ActivityItem) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO activity (user_id, ts, kind, text) VALUES (?, ?, ?, ?)
	`, userID, item.Timestamp, string(item.Kind), item.Text)
	if err != nil {
		return fmt.Errorf("rowstore: insert activity: %w", err)
	}
	return nil
}

// ListActivity returns the owner's activity, newest first.
func (db *DB) ListActivity(ctx context.Context, userID string) ([]models.ActivityItem, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT ts, kind, text FROM activity WHERE user_id = ?
		ORDER BY ts DESC, id DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("rowstore: list activity: %w", err)
	}
	defer rows.Close()

	out := []models.ActivityItem{}
	for rows.Next() {
		var item models.ActivityItem
		var kind string
		if err := rows.Scan(&item.Timestamp, &kind, &item.Text); err != nil {
			return nil, fmt.Errorf("rowstore: scan activity: %w", err)
		}
		if item.Kind, err = models.ParseActivityKind(kind); err != nil {
			item.Kind = models.KindMisc
		}
		out = append(out, item)
	}
	return out, rows.Err()
}
