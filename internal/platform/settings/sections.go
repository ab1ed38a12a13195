package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// HistorySectionNames are the collapsible history sections of a case, in
// display order.
var HistorySectionNames = []string{
	"obstetric",
	"menstrual",
	"gynaecological",
	"medical",
	"surgical",
	"family",
	"personal",
	"contraceptive",
}

// UnknownSectionError names a section outside HistorySectionNames.
type UnknownSectionError struct {
	Section string
}

func (e *UnknownSectionError) Error() string {
	return fmt.Sprintf("unknown history section %q", e.Section)
}

// HistorySections maps a section name to whether it is shown.
type HistorySections map[string]bool

// DefaultHistorySections shows every section.
func DefaultHistorySections() HistorySections {
	s := make(HistorySections, len(HistorySectionNames))
	for _, name := range HistorySectionNames {
		s[name] = true
	}
	return s
}

func isKnownSection(name string) bool {
	for _, n := range HistorySectionNames {
		if n == name {
			return true
		}
	}
	return false
}

// Merge overlays update onto s. Section names are case-insensitive.
func (s HistorySections) Merge(update map[string]bool) (HistorySections, error) {
	out := make(HistorySections, len(s))
	for k, v := range s {
		out[k] = v
	}
	keys := make([]string, 0, len(update))
	for k := range update {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		name := strings.ToLower(strings.TrimSpace(k))
		if !isKnownSection(name) {
			return nil, &UnknownSectionError{Section: k}
		}
		out[name] = update[k]
	}
	return out, nil
}

// HistorySectionService persists HistorySections per user as JSON.
type HistorySectionService struct {
	store Store
}

func NewHistorySectionService(store Store) *HistorySectionService {
	return &HistorySectionService{store: store}
}

func historySectionsKey(userID string) string {
	return "history-sections:" + userID
}

// Get returns the user's sections; unset or unknown stored entries fall back
// to the defaults.
func (s *HistorySectionService) Get(ctx context.Context, userID string) (HistorySections, error) {
	raw, ok, err := s.store.Get(ctx, historySectionsKey(userID))
	if err != nil {
		return DefaultHistorySections(), err
	}
	return decodeHistorySections(userID, raw, ok)
}

func decodeHistorySections(userID, raw string, ok bool) (HistorySections, error) {
	out := DefaultHistorySections()
	if !ok {
		return out, nil
	}
	var stored map[string]bool
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return nil, fmt.Errorf("decode history sections for %s: %w", userID, err)
	}
	for k, v := range stored {
		if isKnownSection(k) {
			out[k] = v
		}
	}
	return out, nil
}

// Update merges update into the user's current sections and stores the
// result. Concurrent updates of one user are applied one after another.
func (s *HistorySectionService) Update(ctx context.Context, userID string, update map[string]bool) (HistorySections, error) {
	var merged HistorySections
	err := s.store.Update(ctx, historySectionsKey(userID), func(raw string, ok bool) (string, error) {
		current, err := decodeHistorySections(userID, raw, ok)
		if err != nil {
			return "", err
		}
		if merged, err = current.Merge(update); err != nil {
			return "", err
		}
		out, err := json.Marshal(merged)
		if err != nil {
			return "", err
		}
		return string(out), nil
	})
	if err != nil {
		return nil, err
	}
	return merged, nil
}
