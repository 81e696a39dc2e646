package models

import "time"

// Event is a persisted, deduplicated finding. Rows are immutable once written.
type Event struct {
	ID          int64     `json:"id" yaml:"id"`
	PageID      int64     `json:"page_id" yaml:"page_id"`
	Title       string    `json:"title" yaml:"title"`
	Kind        string    `json:"type" yaml:"type"`
	Summary     string    `json:"summary" yaml:"summary"`
	DateISO     string    `json:"date_iso,omitempty" yaml:"date_iso,omitempty"`
	DateText    string    `json:"date_text,omitempty" yaml:"date_text,omitempty"`
	Price       string    `json:"price,omitempty" yaml:"price,omitempty"`
	PriceInfo   string    `json:"price_info" yaml:"price_info"`
	Location    string    `json:"location" yaml:"location"`
	SourceLink  string    `json:"source_link" yaml:"source_link"`
	ContentHash string    `json:"content_hash" yaml:"content_hash"`
	IsFuture    bool      `json:"is_future" yaml:"is_future"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
}

// DuplicateSuspect records a finding that fuzzy matching folded into an
// existing event, so the decision can be audited.
type DuplicateSuspect struct {
	ID         int64     `json:"id" yaml:"id"`
	PageID     int64     `json:"page_id" yaml:"page_id"`
	EventID    int64     `json:"event_id" yaml:"event_id"`
	EventTitle string    `json:"event_title" yaml:"event_title"`
	Title      string    `json:"title" yaml:"title"`
	DateISO    string    `json:"date_iso" yaml:"date_iso"`
	Similarity float64   `json:"similarity" yaml:"similarity"`
	CreatedAt  time.Time `json:"created_at" yaml:"created_at"`
}

// ChangeLogEntry is appended for every significant change that reached extraction.
type ChangeLogEntry struct {
	ID        int64     `json:"id"`
	PageID    int64     `json:"page_id"`
	Findings  string    `json:"findings"` // raw JSON of the validated analysis
	CreatedAt time.Time `json:"created_at"`
}

// ErrorLogEntry is one recorded failure.
type ErrorLogEntry struct {
	ID        int64     `json:"id"`
	PageID    *int64    `json:"page_id,omitempty"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Level     string    `json:"level"`
	CreatedAt time.Time `json:"created_at"`
}

// Telemetry is written once per run.
type Telemetry struct {
	ID                int64     `json:"id" yaml:"id"`
	RunID             string    `json:"run_id" yaml:"run_id"`
	PagesChecked      int       `json:"pages_checked" yaml:"pages_checked"`
	ChangesFound      int       `json:"changes_found" yaml:"changes_found"`
	ExtractionCalls   int       `json:"extraction_calls" yaml:"extraction_calls"`
	NotificationsSent int       `json:"notifications_sent" yaml:"notifications_sent"`
	Errors            int       `json:"errors" yaml:"errors"`
	DurationMs        int64     `json:"duration_ms" yaml:"duration_ms"`
	CreatedAt         time.Time `json:"created_at" yaml:"created_at"`
}

// DiscoveredURL is a related site suggested by link discovery.
type DiscoveredURL struct {
	ID           int64     `json:"id" yaml:"id"`
	SourcePageID int64     `json:"source_page_id" yaml:"source_page_id"`
	URL          string    `json:"url" yaml:"url"`
	Title        string    `json:"title,omitempty" yaml:"title,omitempty"`
	Reason       string    `json:"reason,omitempty" yaml:"reason,omitempty"`
	CreatedAt    time.Time `json:"created_at" yaml:"created_at"`
}

// SettingLanguage is the output-language preference key.
const SettingLanguage = "language"
