package planner

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"tripmap/api/internal/util"
)

// Normalize parses raw JSON into a canonical Planner. It never fails: any
// malformed input degrades toward the nearest valid structure, bottoming
// out at a single default day. Every external planner payload (local blob,
// imported file, remote trip row) passes through here.
func Normalize(raw []byte) Planner {
	if len(raw) == 0 {
		return Default()
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return Default()
	}
	return NormalizeValue(v)
}

// NormalizeValue normalizes an already-decoded value.
func NormalizeValue(v any) Planner {
	obj, ok := v.(map[string]any)
	if !ok || obj == nil {
		return Default()
	}

	rawDays, _ := obj["days"].([]any)
	days := make([]Day, 0, len(rawDays))
	for _, entry := range rawDays {
		dayObj, ok := entry.(map[string]any)
		if !ok || dayObj == nil {
			continue
		}
		day := Day{
			ID:    stringField(dayObj, "id"),
			Title: stringField(dayObj, "title"),
			Items: normalizeItems(dayObj["items"]),
		}
		if day.ID == "" {
			day.ID = util.NewID("day")
		}
		if day.Title == "" {
			day.Title = fmt.Sprintf("Day %d", len(days)+1)
		}
		days = append(days, day)
	}
	if len(days) == 0 {
		return Default()
	}

	for i := range days {
		sortItems(days[i].Items)
	}

	active := stringField(obj, "activeDayId")
	if !dayExists(days, active) {
		active = days[0].ID
	}
	return Planner{Version: Version, ActiveDayID: active, Days: days}
}

// Default returns a fresh planner with one empty day.
func Default() Planner {
	day := Day{ID: util.NewID("day"), Title: "Day 1", Items: []Item{}}
	return Planner{Version: Version, ActiveDayID: day.ID, Days: []Day{day}}
}

// NormalizeStatus parses a raw status blob. Bad input yields an empty map.
func NormalizeStatus(raw []byte) Status {
	out := Status{}
	if len(raw) == 0 {
		return out
	}
	var v map[string]any
	if err := json.Unmarshal(raw, &v); err != nil {
		return out
	}
	for id, entry := range v {
		if id == "" {
			continue
		}
		flags, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		fav, _ := flags["favorite"].(bool)
		vis, _ := flags["visited"].(bool)
		out[id] = PlaceStatus{Favorite: fav, Visited: vis}
	}
	return out
}

func normalizeItems(v any) []Item {
	rawItems, _ := v.([]any)
	items := make([]Item, 0, len(rawItems))
	for _, entry := range rawItems {
		obj, ok := entry.(map[string]any)
		if !ok || obj == nil {
			continue
		}
		placeID := stringField(obj, "placeId")
		if placeID == "" {
			continue
		}
		item := Item{
			ID:        stringField(obj, "id"),
			PlaceID:   placeID,
			StartTime: firstStringField(obj, "startTime", "start"),
			EndTime:   firstStringField(obj, "endTime", "end"),
			Memo:      firstStringField(obj, "memo", "note"),
		}
		if item.ID == "" {
			item.ID = util.NewID("item")
		}
		items = append(items, item)
	}
	return items
}

// sortItems orders items by (effective start, effective end), keeping the
// incoming relative order for ties.
func sortItems(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		si, ei := sortKey(items[i])
		sj, ej := sortKey(items[j])
		if si != sj {
			return si < sj
		}
		return ei < ej
	})
}

func sortKey(item Item) (start, end float64) {
	end = math.Inf(1)
	if m, ok := ParseTime(item.EndTime); ok {
		end = float64(m)
	}
	start = math.Inf(1)
	if m, ok := ParseTime(item.StartTime); ok {
		start = float64(m)
	} else if m, ok := ParseTime(item.EndTime); ok {
		// An end-only stop sorts by its end time.
		start = float64(m)
	}
	return start, end
}

// ParseTime parses a "HH:MM" 24-hour string into minutes since midnight.
func ParseTime(s string) (int, bool) {
	if len(s) != 5 || s[2] != ':' {
		return 0, false
	}
	h, ok := twoDigits(s[0], s[1])
	if !ok || h > 23 {
		return 0, false
	}
	m, ok := twoDigits(s[3], s[4])
	if !ok || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

func twoDigits(a, b byte) (int, bool) {
	if a < '0' || a > '9' || b < '0' || b > '9' {
		return 0, false
	}
	return int(a-'0')*10 + int(b-'0'), true
}

func dayExists(days []Day, id string) bool {
	if id == "" {
		return false
	}
	for _, d := range days {
		if d.ID == id {
			return true
		}
	}
	return false
}

func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return s
}

func firstStringField(obj map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := obj[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
