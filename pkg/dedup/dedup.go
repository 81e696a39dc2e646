// Package dedup decides which extracted findings are new events.
//
// A finding is a duplicate when its identity hash (title, date, price) is
// already stored, or when an event on the same date has a matching title.
// Only findings that survive both checks are persisted.
package dedup

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dtnitsch/pagewatch/models"
	"github.com/dtnitsch/pagewatch/pkg/fingerprint"
)

// DefaultTitleThreshold is the normalized title similarity above which two
// same-day events are the same event.
const DefaultTitleThreshold = 0.8

// Store is the persistence the index needs. *db.DB satisfies it.
type Store interface {
	EventExists(ctx context.Context, contentHash string) (bool, error)
	FindSimilarEvent(ctx context.Context, dateISO, title string, threshold float64) (int64, bool, error)
	InsertEvent(ctx context.Context, e *models.Event) (bool, error)
	RecordDuplicateSuspect(ctx context.Context, s models.DuplicateSuspect) error
}

// Outcome summarizes one Process call.
type Outcome struct {
	Created         []models.Event
	Notify          []models.Event // created and still in the future
	ExactDuplicates int
	FuzzyDuplicates int
	Past            int
}

type Index struct {
	store     Store
	threshold float64
	logger    *slog.Logger
}

func New(store Store, threshold float64, logger *slog.Logger) *Index {
	if threshold <= 0 {
		threshold = DefaultTitleThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{store: store, threshold: threshold, logger: logger}
}

// Process runs every finding through exact then fuzzy dedup, in order, and
// persists the new ones. runDate is today's date as YYYY-MM-DD; a finding
// dated before it is never stored as future.
func (x *Index) Process(ctx context.Context, page models.TrackedPage, findings []models.Finding, runDate string) (*Outcome, error) {
	out := &Outcome{}

	for _, f := range findings {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		hash := fingerprint.Identity(f.Title, f.DateISO, f.Price)

		exists, err := x.store.EventExists(ctx, hash)
		if err != nil {
			return out, fmt.Errorf("exact dedup for %q: %w", f.Title, err)
		}
		if exists {
			out.ExactDuplicates++
			continue
		}

		if f.DateISO != "" {
			eventID, found, err := x.store.FindSimilarEvent(ctx, f.DateISO, f.Title, x.threshold)
			if err != nil {
				return out, fmt.Errorf("fuzzy dedup for %q: %w", f.Title, err)
			}
			if found {
				out.FuzzyDuplicates++
				x.logger.Info("fuzzy duplicate", "page_id", page.ID, "title", f.Title, "date_iso", f.DateISO, "event_id", eventID)
				suspect := models.DuplicateSuspect{PageID: page.ID, EventID: eventID, Title: f.Title, DateISO: f.DateISO}
				if err := x.store.RecordDuplicateSuspect(ctx, suspect); err != nil {
					x.logger.Warn("failed to record duplicate suspect", "page_id", page.ID, "error", err)
				}
				continue
			}
		}

		event := toEvent(page, f, hash, runDate)
		inserted, err := x.store.InsertEvent(ctx, &event)
		if err != nil {
			return out, fmt.Errorf("insert event %q: %w", f.Title, err)
		}
		if !inserted {
			// Lost a race with another writer; the constraint already holds it.
			out.ExactDuplicates++
			continue
		}

		out.Created = append(out.Created, event)
		if event.IsFuture {
			out.Notify = append(out.Notify, event)
		} else {
			out.Past++
		}
	}

	return out, nil
}

func toEvent(page models.TrackedPage, f models.Finding, hash, runDate string) models.Event {
	isFuture := !f.IsPast
	if isFuture && f.DateISO != "" && runDate != "" && f.DateISO < runDate {
		isFuture = false
	}

	link := f.Link
	if link == "" {
		link = page.URL
	}

	return models.Event{
		PageID:      page.ID,
		Title:       f.Title,
		Kind:        f.Kind,
		Summary:     f.Summary,
		DateISO:     f.DateISO,
		DateText:    f.DateText,
		Price:       f.Price,
		PriceInfo:   f.PriceInfo,
		Location:    f.Location,
		SourceLink:  link,
		ContentHash: hash,
		IsFuture:    isFuture,
	}
}
