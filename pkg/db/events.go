package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dtnitsch/pagewatch/models"
	"github.com/dtnitsch/pagewatch/pkg/textsim"
)

const eventColumns = `event_id, page_id, title, type, summary, date_iso, date_text, price, price_info, location, source_link, content_hash, is_future, created_at`

func scanEvent(row rowScanner) (*models.Event, error) {
	var (
		e                                                         models.Event
		summary, dateISO, dateText, price, priceInfo, loc, source sql.NullString
	)
	if err := row.Scan(&e.ID, &e.PageID, &e.Title, &e.Kind, &summary, &dateISO, &dateText, &price, &priceInfo, &loc, &source, &e.ContentHash, &e.IsFuture, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Summary = summary.String
	e.DateISO = dateISO.String
	e.DateText = dateText.String
	e.Price = price.String
	e.PriceInfo = priceInfo.String
	e.Location = loc.String
	e.SourceLink = source.String
	return &e, nil
}

// EventExists reports whether an event with this identity hash is stored.
func (db *DB) EventExists(ctx context.Context, contentHash string) (bool, error) {
	var one int
	err := db.QueryRowContext(ctx, "SELECT 1 FROM events WHERE content_hash = ?", contentHash).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check event hash: %w", err)
	}
	return true, nil
}

// FindSimilarEvent looks for an event on the same date whose title matches
// title by substring or normalized edit distance above threshold.
func (db *DB) FindSimilarEvent(ctx context.Context, dateISO, title string, threshold float64) (int64, bool, error) {
	if dateISO == "" || title == "" {
		return 0, false, nil
	}

	rows, err := db.QueryContext(ctx, "SELECT event_id, title FROM events WHERE date_iso = ? ORDER BY event_id", dateISO)
	if err != nil {
		return 0, false, fmt.Errorf("failed to query events by date: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id       int64
			existing string
		)
		if err := rows.Scan(&id, &existing); err != nil {
			return 0, false, fmt.Errorf("failed to scan event: %w", err)
		}
		if textsim.TitlesMatch(existing, title, threshold) {
			return id, true, nil
		}
	}
	return 0, false, rows.Err()
}

// InsertEvent stores an event. A row with the same content hash makes this
// a no-op that returns false.
func (db *DB) InsertEvent(ctx context.Context, e *models.Event) (bool, error) {
	result, err := db.ExecContext(ctx, `
		INSERT INTO events (page_id, title, type, summary, date_iso, date_text, price, price_info, location, source_link, content_hash, is_future)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(content_hash) DO NOTHING
	`, e.PageID, e.Title, e.Kind, e.Summary, NewNullString(e.DateISO), NewNullString(e.DateText),
		NewNullString(e.Price), NewNullString(e.PriceInfo), NewNullString(e.Location), NewNullString(e.SourceLink),
		e.ContentHash, e.IsFuture)
	if err != nil {
		return false, fmt.Errorf("failed to insert event: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	if id, err := result.LastInsertId(); err == nil {
		e.ID = id
	}
	return true, nil
}

// GetEvent returns one event by id.
func (db *DB) GetEvent(ctx context.Context, eventID int64) (*models.Event, error) {
	row := db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE event_id = ?`, eventID)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("event %d: %w", eventID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return e, nil
}

// ListPendingEvents returns future events dated on or after today, plus
// future events without a date, soonest first.
func (db *DB) ListPendingEvents(ctx context.Context, today string, limit int) ([]models.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	return db.queryEvents(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE is_future = 1 AND (date_iso IS NULL OR date_iso >= ?)
		ORDER BY date_iso IS NULL, date_iso, event_id
		LIMIT ?
	`, today, limit)
}

// ListEvents returns the most recent events, optionally for one page.
func (db *DB) ListEvents(ctx context.Context, pageID int64, limit int) ([]models.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	if pageID > 0 {
		return db.queryEvents(ctx, `SELECT `+eventColumns+` FROM events WHERE page_id = ? ORDER BY event_id DESC LIMIT ?`, pageID, limit)
	}
	return db.queryEvents(ctx, `SELECT `+eventColumns+` FROM events ORDER BY event_id DESC LIMIT ?`, limit)
}

func (db *DB) queryEvents(ctx context.Context, query string, args ...any) ([]models.Event, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

// DeleteEvent removes an event and its duplicate-suspect records.
func (db *DB) DeleteEvent(ctx context.Context, eventID int64) error {
	result, err := db.ExecContext(ctx, "DELETE FROM events WHERE event_id = ?", eventID)
	if err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("event %d: %w", eventID, ErrNotFound)
	}
	return nil
}

// RecordDuplicateSuspect notes that a finding was folded into eventID. When
// s.Similarity is unset it is scored against the stored event's title.
func (db *DB) RecordDuplicateSuspect(ctx context.Context, s models.DuplicateSuspect) error {
	if s.Similarity == 0 {
		var eventTitle string
		err := db.QueryRowContext(ctx, "SELECT title FROM events WHERE event_id = ?", s.EventID).Scan(&eventTitle)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("event %d: %w", s.EventID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to load suspect event: %w", err)
		}
		s.Similarity = textsim.TitleSimilarity(s.Title, eventTitle)
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO duplicate_suspects (page_id, event_id, title, date_iso, similarity)
		VALUES (?, ?, ?, ?, ?)
	`, s.PageID, s.EventID, s.Title, NewNullString(s.DateISO), s.Similarity)
	if err != nil {
		return fmt.Errorf("failed to record duplicate suspect: %w", err)
	}
	return nil
}

// ListDuplicateSuspects returns the most recent fuzzy-dedup decisions.
func (db *DB) ListDuplicateSuspects(ctx context.Context, limit int) ([]models.DuplicateSuspect, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `
		SELECT s.suspect_id, s.page_id, s.event_id, e.title, s.title, s.date_iso, s.similarity, s.created_at
		FROM duplicate_suspects s
		JOIN events e ON e.event_id = s.event_id
		ORDER BY s.suspect_id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list duplicate suspects: %w", err)
	}
	defer rows.Close()

	var suspects []models.DuplicateSuspect
	for rows.Next() {
		var (
			s       models.DuplicateSuspect
			dateISO sql.NullString
		)
		if err := rows.Scan(&s.ID, &s.PageID, &s.EventID, &s.EventTitle, &s.Title, &dateISO, &s.Similarity, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan duplicate suspect: %w", err)
		}
		s.DateISO = dateISO.String
		suspects = append(suspects, s)
	}
	return suspects, rows.Err()
}
