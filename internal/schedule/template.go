package schedule

import (
	"fmt"

	"github.com/ayursutra/scheduler/internal/db"
)

// TemplateEntry is one planned session within a treatment program:
// which phase it belongs to, its display name, how many days after the
// program start it falls, and how long it runs.
type TemplateEntry struct {
	Phase           string
	SessionName     string
	DayOffset       int
	DurationMinutes int
}

// templates holds the fixed treatment programs, keyed by therapy type.
// Panchkarma is the canonical 15-day program: five days of Purvakarma
// preparation, five of Pradhanakarma main treatment, five of
// Paschatkarma recovery.
var templates = map[string][]TemplateEntry{
	"Panchkarma": buildPanchkarma(),
	"Abhyanga":   buildAbhyanga(),
	"Shirodhara": buildShirodhara(),
}

func buildPanchkarma() []TemplateEntry {
	var entries []TemplateEntry
	for i := 0; i < 5; i++ {
		entries = append(entries, TemplateEntry{
			Phase:           db.PhasePre,
			SessionName:     fmt.Sprintf("Purvakarma Session %d", i+1),
			DayOffset:       i,
			DurationMinutes: 60,
		})
	}
	for i := 0; i < 5; i++ {
		entries = append(entries, TemplateEntry{
			Phase:           db.PhaseMain,
			SessionName:     fmt.Sprintf("Pradhanakarma Session %d", i+1),
			DayOffset:       5 + i,
			DurationMinutes: 90,
		})
	}
	for i := 0; i < 5; i++ {
		entries = append(entries, TemplateEntry{
			Phase:           db.PhasePost,
			SessionName:     fmt.Sprintf("Paschatkarma Session %d", i+1),
			DayOffset:       10 + i,
			DurationMinutes: 60,
		})
	}
	return entries
}

func buildAbhyanga() []TemplateEntry {
	var entries []TemplateEntry
	for i := 0; i < 7; i++ {
		entries = append(entries, TemplateEntry{
			Phase:           db.PhaseMain,
			SessionName:     fmt.Sprintf("Abhyanga Massage Session %d", i+1),
			DayOffset:       i,
			DurationMinutes: 60,
		})
	}
	return entries
}

func buildShirodhara() []TemplateEntry {
	entries := []TemplateEntry{
		{Phase: db.PhasePre, SessionName: "Shirodhara Preparation 1", DayOffset: 0, DurationMinutes: 30},
		{Phase: db.PhasePre, SessionName: "Shirodhara Preparation 2", DayOffset: 1, DurationMinutes: 30},
	}
	for i := 0; i < 5; i++ {
		entries = append(entries, TemplateEntry{
			Phase:           db.PhaseMain,
			SessionName:     fmt.Sprintf("Shirodhara Session %d", i+1),
			DayOffset:       2 + i,
			DurationMinutes: 45,
		})
	}
	return entries
}

// Template returns the ordered entry list for a therapy type.
func Template(therapyType string) ([]TemplateEntry, bool) {
	t, ok := templates[therapyType]
	return t, ok
}

// TherapyTypes lists the known program names.
func TherapyTypes() []string {
	names := make([]string, 0, len(templates))
	for name := range templates {
		names = append(names, name)
	}
	return names
}
