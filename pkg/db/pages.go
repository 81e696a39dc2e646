package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dtnitsch/pagewatch/models"
)

const pageColumns = `page_id, url, title, last_fingerprint, last_segments, error_count, active, render_mode, created_at, last_checked_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPage(row rowScanner) (*models.TrackedPage, error) {
	var (
		p           models.TrackedPage
		title       sql.NullString
		fingerprint sql.NullString
		segments    sql.NullString
		mode        string
		lastChecked sql.NullTime
	)
	if err := row.Scan(&p.ID, &p.URL, &title, &fingerprint, &segments, &p.ErrorCount, &p.Active, &mode, &p.CreatedAt, &lastChecked); err != nil {
		return nil, err
	}
	p.Title = title.String
	p.LastFingerprint = fingerprint.String
	p.RenderMode = models.RenderMode(mode)
	if lastChecked.Valid {
		t := lastChecked.Time
		p.LastCheckedAt = &t
	}
	if segments.Valid && segments.String != "" {
		if err := json.Unmarshal([]byte(segments.String), &p.LastSegments); err != nil {
			return nil, fmt.Errorf("failed to decode segments for page %d: %w", p.ID, err)
		}
	}
	return &p, nil
}

// AddPage registers a URL, returning its page_id. If the URL is already
// tracked the existing page is reactivated and its id returned.
func (db *DB) AddPage(ctx context.Context, rawURL string, mode models.RenderMode) (int64, bool, error) {
	if mode == "" {
		mode = models.RenderStatic
	}

	var existingID int64
	err := db.QueryRowContext(ctx, "SELECT page_id FROM tracked_pages WHERE url = ?", rawURL).Scan(&existingID)
	if err == nil {
		if _, err := db.ExecContext(ctx, `
			UPDATE tracked_pages SET active = 1, render_mode = ?, updated_at = CURRENT_TIMESTAMP
			WHERE page_id = ?
		`, string(mode), existingID); err != nil {
			return 0, false, fmt.Errorf("failed to reactivate page: %w", err)
		}
		return existingID, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, false, fmt.Errorf("failed to check existing page: %w", err)
	}

	result, err := db.ExecContext(ctx, `
		INSERT INTO tracked_pages (url, render_mode) VALUES (?, ?)
	`, rawURL, string(mode))
	if err != nil {
		return 0, false, fmt.Errorf("failed to insert page: %w", err)
	}

	pageID, err := result.LastInsertId()
	if err != nil {
		return 0, false, fmt.Errorf("failed to get page ID: %w", err)
	}
	return pageID, true, nil
}

// GetPage returns one page by id, active or not.
func (db *DB) GetPage(ctx context.Context, pageID int64) (*models.TrackedPage, error) {
	row := db.QueryRowContext(ctx, `SELECT `+pageColumns+` FROM tracked_pages WHERE page_id = ?`, pageID)
	page, err := scanPage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("page %d: %w", pageID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get page: %w", err)
	}
	return page, nil
}

// GetPageByURL returns the page tracking rawURL.
func (db *DB) GetPageByURL(ctx context.Context, rawURL string) (*models.TrackedPage, error) {
	row := db.QueryRowContext(ctx, `SELECT `+pageColumns+` FROM tracked_pages WHERE url = ?`, rawURL)
	page, err := scanPage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("page %s: %w", rawURL, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get page: %w", err)
	}
	return page, nil
}

// ListPages returns tracked pages ordered by id.
func (db *DB) ListPages(ctx context.Context, activeOnly bool) ([]models.TrackedPage, error) {
	query := `SELECT ` + pageColumns + ` FROM tracked_pages`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY page_id`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list pages: %w", err)
	}
	defer rows.Close()

	var pages []models.TrackedPage
	for rows.Next() {
		page, err := scanPage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan page: %w", err)
		}
		pages = append(pages, *page)
	}
	return pages, rows.Err()
}

// SetPageActive activates or deactivates a page. Deactivated pages keep
// their history but are skipped by scheduled runs.
func (db *DB) SetPageActive(ctx context.Context, pageID int64, active bool) error {
	result, err := db.ExecContext(ctx, `
		UPDATE tracked_pages SET active = ?, updated_at = CURRENT_TIMESTAMP WHERE page_id = ?
	`, active, pageID)
	if err != nil {
		return fmt.Errorf("failed to update page: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("page %d: %w", pageID, ErrNotFound)
	}
	return nil
}

// UpdatePageSnapshot stores the fingerprint and segments of a successful
// fetch and resets the error counter.
func (db *DB) UpdatePageSnapshot(ctx context.Context, pageID int64, fingerprint string, segments []string, title string) error {
	if segments == nil {
		segments = []string{}
	}
	encoded, err := json.Marshal(segments)
	if err != nil {
		return fmt.Errorf("failed to encode segments: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		UPDATE tracked_pages
		SET last_fingerprint = ?, last_segments = ?, error_count = 0,
		    title = COALESCE(?, title),
		    last_checked_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE page_id = ?
	`, fingerprint, string(encoded), NewNullString(title), pageID)
	if err != nil {
		return fmt.Errorf("failed to update page snapshot: %w", err)
	}
	return nil
}

// IncrementErrorCount bumps the failure counter of a page.
func (db *DB) IncrementErrorCount(ctx context.Context, pageID int64) error {
	_, err := db.ExecContext(ctx, `
		UPDATE tracked_pages
		SET error_count = error_count + 1, last_checked_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE page_id = ?
	`, pageID)
	if err != nil {
		return fmt.Errorf("failed to increment error count: %w", err)
	}
	return nil
}

// AccessRecord represents a fetch attempt.
type AccessRecord struct {
	AccessID   int64     `json:"access_id" yaml:"access_id"`
	AccessedAt time.Time `json:"accessed_at" yaml:"accessed_at"`
	Method     string    `json:"method" yaml:"method"`
	StatusCode int       `json:"status_code" yaml:"status_code"`
	ErrorType  string    `json:"error_type,omitempty" yaml:"error_type,omitempty"`
	Success    bool      `json:"success" yaml:"success"`
}

// RecordAccess records a fetch attempt in url_accesses.
func (db *DB) RecordAccess(ctx context.Context, pageID int64, method string, statusCode int, errorType string, success bool) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO url_accesses (page_id, method, status_code, error_type, success)
		VALUES (?, ?, ?, ?, ?)
	`, pageID, method, statusCode, errorType, success)
	if err != nil {
		return fmt.Errorf("failed to record access: %w", err)
	}
	return nil
}

// GetLastAccess returns the most recent access record for a page, or nil.
func (db *DB) GetLastAccess(ctx context.Context, pageID int64) (*AccessRecord, error) {
	var (
		record    AccessRecord
		method    sql.NullString
		errorType sql.NullString
	)
	err := db.QueryRowContext(ctx, `
		SELECT access_id, accessed_at, method, status_code, error_type, success
		FROM url_accesses
		WHERE page_id = ?
		ORDER BY access_id DESC
		LIMIT 1
	`, pageID).Scan(&record.AccessID, &record.AccessedAt, &method, &record.StatusCode, &errorType, &record.Success)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last access: %w", err)
	}
	record.Method = method.String
	record.ErrorType = errorType.String
	return &record, nil
}
