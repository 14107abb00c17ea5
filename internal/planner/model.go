// Package planner owns the itinerary data model: days of timed stops,
// per-place favorite/visited flags, and the normalizer every untrusted
// planner payload must pass through before it is treated as canonical.
package planner

import "encoding/json"

// Version is the current planner document schema version.
const Version = 2

// Item is a single stop within a day. StartTime and EndTime are either ""
// or a 24-hour "HH:MM" string; anything else is treated as absent.
type Item struct {
	ID        string `json:"id"`
	PlaceID   string `json:"placeId"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
	Memo      string `json:"memo"`
}

// Day holds an ordered list of items. Items are kept sorted by time on
// every normalization pass; the order is canonical, not a display concern.
type Day struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Items []Item `json:"items"`
}

// Planner is the itinerary document. Days is never empty after
// normalization, and ActiveDayID always names one of Days.
type Planner struct {
	Version     int    `json:"version"`
	ActiveDayID string `json:"activeDayId"`
	Days        []Day  `json:"days"`
}

// PlaceStatus carries the two per-place flags. Absence from the status map
// means both false; entries are flipped, never deleted.
type PlaceStatus struct {
	Favorite bool `json:"favorite"`
	Visited  bool `json:"visited"`
}

// Status maps place id to its flags.
type Status map[string]PlaceStatus

// Day returns the day with the given id, or nil.
func (p *Planner) Day(id string) *Day {
	for i := range p.Days {
		if p.Days[i].ID == id {
			return &p.Days[i]
		}
	}
	return nil
}

// ItemCount counts stops across all days.
func (p *Planner) ItemCount() int {
	n := 0
	for _, d := range p.Days {
		n += len(d.Items)
	}
	return n
}

// HasData reports whether the planner holds at least one stop or the status
// map has any flag set. This is the emptiness test the sync connect
// sequence uses on both sides of a conflict check.
func HasData(p Planner, s Status) bool {
	if p.ItemCount() > 0 {
		return true
	}
	for _, st := range s {
		if st.Favorite || st.Visited {
			return true
		}
	}
	return false
}

// Canonical returns the canonical serialization of a (planner, status)
// pair, used to decide whether local and remote actually differ.
func Canonical(p Planner, s Status) string {
	if s == nil {
		s = Status{}
	}
	payload := struct {
		Planner Planner `json:"planner"`
		Status  Status  `json:"status"`
	}{p, s}
	raw, _ := json.Marshal(payload)
	return string(raw)
}

// Clone returns a deep copy of the planner.
func (p Planner) Clone() Planner {
	out := p
	out.Days = make([]Day, len(p.Days))
	for i, d := range p.Days {
		out.Days[i] = d
		out.Days[i].Items = append([]Item(nil), d.Items...)
	}
	return out
}

// Clone returns a copy of the status map.
func (s Status) Clone() Status {
	out := make(Status, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
