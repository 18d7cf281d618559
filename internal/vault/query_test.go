package vault

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/starford/timedline/internal/models"
)

func sampleEntries() []models.Entry {
	return []models.Entry{
		{Timestamp: 3, Date: "2025-01-02", Content: "Coffee with Ana"},
		{Timestamp: 2, Date: "2025-01-01", Content: "receipt", Attachment: &models.Attachment{Name: "Invoice-2025-01-01.PDF"}},
		{Timestamp: 1, Date: "2025-01-02", Content: "late import"},
	}
}

func TestSearch(t *testing.T) {
	entries := sampleEntries()

	if got := Search(entries, ""); !cmp.Equal(got, entries) {
		t.Errorf("blank term changed list: %v", got)
	}
	if got := Search(entries, "   "); len(got) != 3 {
		t.Errorf("whitespace term = %v", got)
	}

	tests := []struct {
		term string
		want []int64
	}{
		{"2025-01-01", []int64{2}},
		{"COFFEE", []int64{3}},
		{"invoice", []int64{2}},
		{"2025-01-02", []int64{3, 1}},
		{"nothing matches", nil},
	}
	for _, tt := range tests {
		t.Run(tt.term, func(t *testing.T) {
			var got []int64
			for _, e := range Search(entries, tt.term) {
				got = append(got, e.Timestamp)
			}
			if !cmp.Equal(got, tt.want) {
				t.Errorf("Search(%q) = %v, want %v", tt.term, got, tt.want)
			}
		})
	}
}

func TestGroupByDate(t *testing.T) {
	e1 := models.Entry{Timestamp: 30, Date: "2025-01-02", Content: "e1"}
	e2 := models.Entry{Timestamp: 20, Date: "2025-01-01", Content: "e2"}
	e3 := models.Entry{Timestamp: 10, Date: "2025-01-02", Content: "e3"}

	got := GroupByDate([]models.Entry{e1, e2, e3})
	want := []DateGroup{
		{Date: "2025-01-02", Entries: []models.Entry{e1, e3}},
		{Date: "2025-01-01", Entries: []models.Entry{e2}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("GroupByDate mismatch (-want +got):\n%s", diff)
	}
}

func TestGroupByDateUsesStoredDate(t *testing.T) {
	// Timestamp says 1970 but the stored date wins.
	e := models.Entry{Timestamp: 1, Date: "2030-06-01"}
	got := GroupByDate([]models.Entry{e})
	if len(got) != 1 || got[0].Date != "2030-06-01" {
		t.Errorf("groups = %+v", got)
	}
	if g := GroupByDate(nil); g == nil || len(g) != 0 {
		t.Errorf("empty groups = %#v", g)
	}
}

func TestTimeline(t *testing.T) {
	entries := []models.Entry{{Timestamp: 300}, {Timestamp: 200}, {Timestamp: 100}}
	got := Timeline(entries)
	wantPos := []float64{1, 0.5, 0}
	wantSide := []Side{SideLeft, SideRight, SideLeft}
	for i, p := range got {
		if p.Position != wantPos[i] || p.Side != wantSide[i] {
			t.Errorf("point %d = %+v", i, p)
		}
	}

	single := Timeline([]models.Entry{{Timestamp: 42}})
	if len(single) != 1 || single[0].Position != 0 {
		t.Errorf("single = %+v", single)
	}
	if empty := Timeline(nil); empty == nil || len(empty) != 0 {
		t.Errorf("empty = %#v", empty)
	}
}
