package obstetrics

import (
	"bytes"
	"sort"
)

// SortRecords orders records for display: past pregnancies ascending by year,
// undated ones after dated ones, the ongoing pregnancy last. Ties fall back to
// creation time and then id so the order never depends on storage order.
func SortRecords(records []*PregnancyRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return recordLess(records[i], records[j])
	})
}

func recordLess(a, b *PregnancyRecord) bool {
	if a.IsOngoing() != b.IsOngoing() {
		return b.IsOngoing()
	}
	switch {
	case a.Year != nil && b.Year == nil:
		return true
	case a.Year == nil && b.Year != nil:
		return false
	case a.Year != nil && b.Year != nil && *a.Year != *b.Year:
		return *a.Year < *b.Year
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return bytes.Compare(a.ID[:], b.ID[:]) < 0
}
