package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dtnitsch/pagewatch/models"
)

// LogError records a failure. pageID 0 means a run-level error.
func (db *DB) LogError(ctx context.Context, pageID int64, kind, message, level string) error {
	if level == "" {
		level = "error"
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO errors (page_id, kind, message, level) VALUES (?, ?, ?, ?)
	`, NewNullInt64(pageID), kind, message, level)
	if err != nil {
		return fmt.Errorf("failed to log error: %w", err)
	}
	return nil
}

// ListErrors returns the most recent errors.
func (db *DB) ListErrors(ctx context.Context, limit int) ([]models.ErrorLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `
		SELECT error_id, page_id, kind, message, level, created_at
		FROM errors ORDER BY error_id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list errors: %w", err)
	}
	defer rows.Close()

	var entries []models.ErrorLogEntry
	for rows.Next() {
		var (
			e      models.ErrorLogEntry
			pageID sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &pageID, &e.Kind, &e.Message, &e.Level, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan error: %w", err)
		}
		if pageID.Valid {
			id := pageID.Int64
			e.PageID = &id
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// AppendChangeLog appends the validated findings of a significant change.
func (db *DB) AppendChangeLog(ctx context.Context, pageID int64, findingsJSON string) (int64, error) {
	result, err := db.ExecContext(ctx, `
		INSERT INTO changes_log (page_id, findings) VALUES (?, ?)
	`, pageID, findingsJSON)
	if err != nil {
		return 0, fmt.Errorf("failed to append change log: %w", err)
	}
	return result.LastInsertId()
}

// ListChanges returns the most recent change log entries for a page.
func (db *DB) ListChanges(ctx context.Context, pageID int64, limit int) ([]models.ChangeLogEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.QueryContext(ctx, `
		SELECT change_id, page_id, findings, created_at
		FROM changes_log WHERE page_id = ? ORDER BY change_id DESC LIMIT ?
	`, pageID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list changes: %w", err)
	}
	defer rows.Close()

	var entries []models.ChangeLogEntry
	for rows.Next() {
		var e models.ChangeLogEntry
		if err := rows.Scan(&e.ID, &e.PageID, &e.Findings, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan change: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// InsertTelemetry writes the row for one run.
func (db *DB) InsertTelemetry(ctx context.Context, t *models.Telemetry) error {
	result, err := db.ExecContext(ctx, `
		INSERT INTO telemetry (run_id, pages_checked, changes_found, extraction_calls, notifications_sent, errors, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, t.RunID, t.PagesChecked, t.ChangesFound, t.ExtractionCalls, t.NotificationsSent, t.Errors, t.DurationMs)
	if err != nil {
		return fmt.Errorf("failed to insert telemetry: %w", err)
	}
	if id, err := result.LastInsertId(); err == nil {
		t.ID = id
	}
	return nil
}

// ListTelemetry returns the most recent runs.
func (db *DB) ListTelemetry(ctx context.Context, limit int) ([]models.Telemetry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := db.QueryContext(ctx, `
		SELECT telemetry_id, run_id, pages_checked, changes_found, extraction_calls, notifications_sent, errors, duration_ms, created_at
		FROM telemetry ORDER BY telemetry_id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list telemetry: %w", err)
	}
	defer rows.Close()

	var runs []models.Telemetry
	for rows.Next() {
		var t models.Telemetry
		if err := rows.Scan(&t.ID, &t.RunID, &t.PagesChecked, &t.ChangesFound, &t.ExtractionCalls, &t.NotificationsSent, &t.Errors, &t.DurationMs, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan telemetry: %w", err)
		}
		runs = append(runs, t)
	}
	return runs, rows.Err()
}

// GetSetting returns the value stored under key, or def when unset.
func (db *DB) GetSetting(ctx context.Context, key, def string) (string, error) {
	var value string
	err := db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return def, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return value, nil
}

// SetSetting upserts a setting.
func (db *DB) SetSetting(ctx context.Context, key, value string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	return nil
}

// AddDiscoveredURL stores a suggested site. Already known URLs are ignored
// and reported as not inserted.
func (db *DB) AddDiscoveredURL(ctx context.Context, d models.DiscoveredURL) (bool, error) {
	result, err := db.ExecContext(ctx, `
		INSERT OR IGNORE INTO discovered_urls (source_page_id, url, title, reason)
		VALUES (?, ?, ?, ?)
	`, d.SourcePageID, d.URL, NewNullString(d.Title), NewNullString(d.Reason))
	if err != nil {
		return false, fmt.Errorf("failed to add discovered URL: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// ListDiscoveredURLs returns the most recent discoveries.
func (db *DB) ListDiscoveredURLs(ctx context.Context, limit int) ([]models.DiscoveredURL, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `
		SELECT discovery_id, source_page_id, url, title, reason, created_at
		FROM discovered_urls ORDER BY discovery_id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list discovered URLs: %w", err)
	}
	defer rows.Close()

	var out []models.DiscoveredURL
	for rows.Next() {
		var (
			d             models.DiscoveredURL
			title, reason sql.NullString
		)
		if err := rows.Scan(&d.ID, &d.SourcePageID, &d.URL, &title, &reason, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan discovered URL: %w", err)
		}
		d.Title = title.String
		d.Reason = reason.String
		out = append(out, d)
	}
	return out, rows.Err()
}
