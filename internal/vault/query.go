package vault

import (
	"sort"
	"strings"

	"github.com/starford/timedline/internal/models"
)

// Search returns entries whose date, content or attachment name contains
// term, ignoring case. A blank term returns the whole list.
func (m *Manager) Search(term string) []models.Entry {
	return Search(m.Entries(), term)
}

// Search filters entries by term. See Manager.Search.
func Search(entries []models.Entry, term string) []models.Entry {
	q := strings.ToLower(strings.TrimSpace(term))
	if q == "" {
		return entries
	}
	out := []models.Entry{}
	for _, e := range entries {
		if strings.Contains(strings.ToLower(e.Date), q) ||
			strings.Contains(strings.ToLower(e.Content), q) ||
			strings.Contains(strings.ToLower(e.AttachmentName()), q) {
			out = append(out, e)
		}
	}
	return out
}

// DateGroup is the archive bucket for one date.
type DateGroup struct {
	Date    string         `json:"date"`
	Entries []models.Entry `json:"entries"`
}

// GroupByDate buckets the list by each entry's stored date.
func (m *Manager) GroupByDate() []DateGroup {
	return GroupByDate(m.Entries())
}

// GroupByDate buckets entries by their Date field, newest date first.
// Entries keep their input order inside a bucket. The stored date is used
// as-is even when it disagrees with the timestamp.
func GroupByDate(entries []models.Entry) []DateGroup {
	index := map[string]int{}
	groups := []DateGroup{}
	for _, e := range entries {
		i, ok := index[e.Date]
		if !ok {
			i = len(groups)
			index[e.Date] = i
			groups = append(groups, DateGroup{Date: e.Date})
		}
		groups[i].Entries = append(groups[i].Entries, e)
	}
	sort.SliceStable(groups, func(i, j int) bool { return groups[i].Date > groups[j].Date })
	return groups
}

// Side is the half of the timeline a point is drawn on.
type Side string

const (
	SideLeft  Side = "left"
	SideRight Side = "right"
)

// TimelinePoint places one entry on the visual timeline.
type TimelinePoint struct {
	Entry    models.Entry `json:"entry"`
	Position float64      `json:"position"`
	Side     Side         `json:"side"`
}

// Timeline lays out the list on the visual timeline.
func (m *Manager) Timeline() []TimelinePoint {
	return Timeline(m.Entries())
}

// Timeline places entries by relative time between the oldest (0) and
// newest (1) timestamp, alternating sides in list order.
func Timeline(entries []models.Entry) []TimelinePoint {
	points := make([]TimelinePoint, 0, len(entries))
	if len(entries) == 0 {
		return points
	}
	lo, hi := entries[0].Timestamp, entries[0].Timestamp
	for _, e := range entries[1:] {
		lo = min(lo, e.Timestamp)
		hi = max(hi, e.Timestamp)
	}
	span := float64(max(1, hi-lo))
	for i, e := range entries {
		side := SideLeft
		if i%2 == 1 {
			side = SideRight
		}
		points = append(points, TimelinePoint{
			Entry:    e,
			Position: float64(e.Timestamp-lo) / span,
			Side:     side,
		})
	}
	return points
}
