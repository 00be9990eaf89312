// Package pulse defines the activity records pulse produces and the builder
// that turns one editor snapshot into a Pulse.
package pulse

import (
	"encoding/json"
	"fmt"
	"sort"
)

// EntityType identifies what a pulse's entity refers to.
type EntityType string

const (
	EntityFile   EntityType = "file"
	EntityApp    EntityType = "app"
	EntityDomain EntityType = "domain"
)

// State is the kind of activity observed.
type State string

const (
	StateCoding    State = "coding"
	StateDebugging State = "debugging"
)

// Pulse is one observation of editor activity. Pulses are never mutated after
// they are built.
type Pulse struct {
	Entity           string     `json:"entity"`
	Type             EntityType `json:"type"`
	State            State      `json:"state"`
	Time             int64      `json:"time"` // ms since epoch
	Project          string     `json:"project,omitempty"`
	ProjectRootCount int        `json:"project_root_count"`
	Branch           string     `json:"branch,omitempty"`
	Language         string     `json:"language,omitempty"`
	Dependencies     string     `json:"dependencies,omitempty"`
	Machine          string     `json:"machine,omitempty"`
	LineAdditions    int        `json:"line_additions"`
	LineDeletions    int        `json:"line_deletions"`
	Lines            int        `json:"lines"`
	LineNo           int        `json:"lineno"`
	CursorPos        int        `json:"cursorpos"`
	IsDirty          bool       `json:"is_dirty"`
	// Content is the file content at observation time. It only feeds the
	// next diff and is stripped before the pulse is persisted.
	Content string `json:"content,omitempty"`
}

// Stripped returns a copy of p without its content snapshot.
func (p Pulse) Stripped() Pulse {
	p.Content = ""
	return p
}

// AggregatedPulse folds a contiguous run of pulses for one entity.
type AggregatedPulse struct {
	Entity        string     `json:"entity"`
	Type          EntityType `json:"type"`
	State         State      `json:"state"`
	StartTime     int64      `json:"start_time"`
	EndTime       int64      `json:"end_time"`
	Project       string     `json:"project,omitempty"`
	Branch        string     `json:"branch,omitempty"`
	Language      string     `json:"language,omitempty"`
	Dependencies  string     `json:"dependencies,omitempty"`
	Machine       string     `json:"machine,omitempty"`
	LineAdditions int        `json:"line_additions"`
	LineDeletions int        `json:"line_deletions"`
	Lines         int        `json:"lines"`
	IsDirty       bool       `json:"is_dirty"`
}

// Entry holds exactly one of a raw Pulse or an AggregatedPulse. Summaries,
// exports and sync batches are lists of entries.
type Entry struct {
	Pulse      *Pulse
	Aggregated *AggregatedPulse
}

// RawEntry wraps a raw pulse.
func RawEntry(p Pulse) Entry {
	return Entry{Pulse: &p}
}

// AggregatedEntry wraps an aggregated pulse.
func AggregatedEntry(a AggregatedPulse) Entry {
	return Entry{Aggregated: &a}
}

// IsAggregated reports whether e wraps an aggregated pulse.
func (e Entry) IsAggregated() bool {
	return e.Aggregated != nil
}

// Key is the identity timestamp: time for raw pulses, start_time for
// aggregated ones.
func (e Entry) Key() int64 {
	switch {
	case e.Aggregated != nil:
		return e.Aggregated.StartTime
	case e.Pulse != nil:
		return e.Pulse.Time
	}
	return 0
}

// End returns the last timestamp the entry covers.
func (e Entry) End() int64 {
	if e.Aggregated != nil {
		return e.Aggregated.EndTime
	}
	return e.Key()
}

// Entity returns the wrapped record's entity.
func (e Entry) Entity() string {
	switch {
	case e.Aggregated != nil:
		return e.Aggregated.Entity
	case e.Pulse != nil:
		return e.Pulse.Entity
	}
	return ""
}

// Language returns the wrapped record's language.
func (e Entry) Language() string {
	switch {
	case e.Aggregated != nil:
		return e.Aggregated.Language
	case e.Pulse != nil:
		return e.Pulse.Language
	}
	return ""
}

// Project returns the wrapped record's project.
func (e Entry) Project() string {
	switch {
	case e.Aggregated != nil:
		return e.Aggregated.Project
	case e.Pulse != nil:
		return e.Pulse.Project
	}
	return ""
}

// MarshalJSON encodes the wrapped record directly.
func (e Entry) MarshalJSON() ([]byte, error) {
	switch {
	case e.Aggregated != nil:
		return json.Marshal(e.Aggregated)
	case e.Pulse != nil:
		return json.Marshal(e.Pulse)
	}
	return nil, fmt.Errorf("empty pulse entry")
}

// UnmarshalJSON decodes an aggregated pulse when start_time is present and a
// raw pulse otherwise.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var probe struct {
		StartTime *int64 `json:"start_time"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	if probe.StartTime != nil {
		var a AggregatedPulse
		if err := json.Unmarshal(data, &a); err != nil {
			return err
		}
		*e = Entry{Aggregated: &a}
		return nil
	}
	var p Pulse
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*e = Entry{Pulse: &p}
	return nil
}

// Merge combines raw and aggregated pulses into one list ordered by identity
// timestamp. The sort is stable so equal keys keep raw-before-aggregated order.
func Merge(raw []Pulse, aggregated []AggregatedPulse) []Entry {
	entries := make([]Entry, 0, len(raw)+len(aggregated))
	for _, p := range raw {
		entries = append(entries, RawEntry(p))
	}
	for _, a := range aggregated {
		entries = append(entries, AggregatedEntry(a))
	}
	SortEntries(entries)
	return entries
}

// SortEntries orders entries ascending by Key.
func SortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Key() < entries[j].Key()
	})
}

// Split separates entries back into raw and aggregated lists.
func Split(entries []Entry) ([]Pulse, []AggregatedPulse) {
	var raw []Pulse
	var aggregated []AggregatedPulse
	for _, e := range entries {
		switch {
		case e.Aggregated != nil:
			aggregated = append(aggregated, *e.Aggregated)
		case e.Pulse != nil:
			raw = append(raw, *e.Pulse)
		}
	}
	return raw, aggregated
}
