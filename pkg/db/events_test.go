package db

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/dtnitsch/pagewatch/models"
	"github.com/dtnitsch/pagewatch/pkg/fingerprint"
)

func testEvent(pageID int64, title, dateISO, price string, future bool) *models.Event {
	return &models.Event{
		PageID:      pageID,
		Title:       title,
		Kind:        models.KindEvent,
		DateISO:     dateISO,
		Price:       price,
		PriceInfo:   "Paid",
		Location:    "Helsinki",
		SourceLink:  "https://example.com",
		ContentHash: fingerprint.Identity(title, dateISO, price),
		IsFuture:    future,
	}
}

func TestInsertEvent(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()
	pageID := addTestPage(t, db, "https://example.com")

	e := testEvent(pageID, "Sauna Night", "2025-06-01", "€10", true)
	inserted, err := db.InsertEvent(ctx, e)
	if err != nil {
		t.Fatalf("InsertEvent() error = %v", err)
	}
	if !inserted || e.ID == 0 {
		t.Fatalf("InsertEvent() = %v id %d, want inserted", inserted, e.ID)
	}

	exists, err := db.EventExists(ctx, e.ContentHash)
	if err != nil || !exists {
		t.Fatalf("EventExists() = %v, %v, want true", exists, err)
	}

	// Same identity is a silent no-op.
	dup := testEvent(pageID, "Sauna Night", "2025-06-01", "€10", true)
	inserted, err = db.InsertEvent(ctx, dup)
	if err != nil {
		t.Fatalf("InsertEvent() duplicate error = %v", err)
	}
	if inserted {
		t.Error("InsertEvent() duplicate inserted = true, want false")
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM events").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("events count = %d, want 1", count)
	}

	got, err := db.GetEvent(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetEvent() error = %v", err)
	}
	if got.Title != "Sauna Night" || got.DateISO != "2025-06-01" || got.Price != "€10" || !got.IsFuture {
		t.Errorf("GetEvent() = %+v", got)
	}
}

func TestFindSimilarEvent(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()
	pageID := addTestPage(t, db, "https://example.com")

	existing := testEvent(pageID, "Sauna Night", "2025-06-01", "€10", true)
	if _, err := db.InsertEvent(ctx, existing); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		dateISO   string
		title     string
		wantFound bool
	}{
		{"substring same date", "2025-06-01", "Sauna Night 2025", true},
		{"case differs", "2025-06-01", "SAUNA NIGHT", true},
		{"small typo", "2025-06-01", "Sauna Nigth", true},
		{"other date", "2025-06-02", "Sauna Night", false},
		{"different title", "2025-06-01", "Winter Swim Meetup", false},
		{"no date", "", "Sauna Night", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, found, err := db.FindSimilarEvent(ctx, tt.dateISO, tt.title, 0.8)
			if err != nil {
				t.Fatalf("FindSimilarEvent() error = %v", err)
			}
			if found != tt.wantFound {
				t.Fatalf("FindSimilarEvent() found = %v, want %v", found, tt.wantFound)
			}
			if found && id != existing.ID {
				t.Errorf("FindSimilarEvent() id = %d, want %d", id, existing.ID)
			}
		})
	}
}

func TestListPendingEvents(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()
	pageID := addTestPage(t, db, "https://example.com")

	for _, e := range []*models.Event{
		testEvent(pageID, "Later", "2025-07-01", "", true),
		testEvent(pageID, "Sooner", "2025-06-15", "", true),
		testEvent(pageID, "Undated", "", "", true),
		testEvent(pageID, "Yesterday", "2025-06-09", "", true),
		testEvent(pageID, "Past", "2025-06-20", "", false),
	} {
		if _, err := db.InsertEvent(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	events, err := db.ListPendingEvents(ctx, "2025-06-10", 0)
	if err != nil {
		t.Fatalf("ListPendingEvents() error = %v", err)
	}

	var titles []string
	for _, e := range events {
		titles = append(titles, e.Title)
	}
	want := []string{"Sooner", "Later", "Undated"}
	if len(titles) != len(want) {
		t.Fatalf("ListPendingEvents() = %q, want %q", titles, want)
	}
	for i := range want {
		if titles[i] != want[i] {
			t.Errorf("ListPendingEvents()[%d] = %q, want %q", i, titles[i], want[i])
		}
	}
}

func TestDuplicateSuspects(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()
	pageID := addTestPage(t, db, "https://example.com")

	e := testEvent(pageID, "Sauna Night", "2025-06-01", "€10", true)
	if _, err := db.InsertEvent(ctx, e); err != nil {
		t.Fatal(err)
	}

	err := db.RecordDuplicateSuspect(ctx, models.DuplicateSuspect{
		PageID:  pageID,
		EventID: e.ID,
		Title:   "Sauna Night 2025",
		DateISO: "2025-06-01",
	})
	if err != nil {
		t.Fatalf("RecordDuplicateSuspect() error = %v", err)
	}

	suspects, err := db.ListDuplicateSuspects(ctx, 10)
	if err != nil {
		t.Fatalf("ListDuplicateSuspects() error = %v", err)
	}
	if len(suspects) != 1 {
		t.Fatalf("ListDuplicateSuspects() = %d rows, want 1", len(suspects))
	}
	if suspects[0].EventTitle != "Sauna Night" || suspects[0].Title != "Sauna Night 2025" {
		t.Errorf("suspect = %+v", suspects[0])
	}
	// levenshtein 5 over 16 characters
	if got := suspects[0].Similarity; math.Abs(got-0.6875) > 1e-9 {
		t.Errorf("Similarity = %v, want 0.6875", got)
	}

	err = db.RecordDuplicateSuspect(ctx, models.DuplicateSuspect{
		PageID:     pageID,
		EventID:    e.ID,
		Title:      "Sauna Nite",
		Similarity: 0.9,
	})
	if err != nil {
		t.Fatalf("RecordDuplicateSuspect() with score error = %v", err)
	}
	suspects, _ = db.ListDuplicateSuspects(ctx, 10)
	if len(suspects) != 2 || suspects[0].Similarity != 0.9 {
		t.Errorf("explicit similarity not kept: %+v", suspects)
	}

	err = db.RecordDuplicateSuspect(ctx, models.DuplicateSuspect{PageID: pageID, EventID: 9999, Title: "Ghost"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("RecordDuplicateSuspect() unknown event error = %v, want ErrNotFound", err)
	}

	// Deleting the event cascades to its suspects.
	if err := db.DeleteEvent(ctx, e.ID); err != nil {
		t.Fatalf("DeleteEvent() error = %v", err)
	}
	suspects, _ = db.ListDuplicateSuspects(ctx, 10)
	if len(suspects) != 0 {
		t.Errorf("suspects after delete = %d, want 0", len(suspects))
	}
	if err := db.DeleteEvent(ctx, e.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteEvent() twice error = %v, want ErrNotFound", err)
	}
}
