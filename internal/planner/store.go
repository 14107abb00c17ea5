package planner

import (
	"fmt"
	"sync"

	"tripmap/api/internal/util"
)

// Persister receives the canonical state after every committed mutation.
// Implementations are expected to be best-effort; errors are not returned
// to the mutating caller.
type Persister interface {
	SavePlanner(p Planner)
	SaveStatus(s Status)
}

// DirtyKind tells the sync layer which field group a mutation touched.
type DirtyKind int

const (
	DirtyPlanner DirtyKind = iota
	DirtyStatus
)

// AddPlaceResult reports what AddPlace did.
type AddPlaceResult int

const (
	AddPlaceAdded AddPlaceResult = iota
	AddPlaceExists
	AddPlaceNoDay
)

// Store owns the planner document and the status map. All mutations go
// through commit semantics: mutate, normalize, persist, mark dirty, notify
// subscribers. Mutations referencing unknown day or item ids report false
// and leave state untouched.
type Store struct {
	mu        sync.Mutex
	planner   Planner
	status    Status
	persister Persister
	onDirty   func(DirtyKind)
	listeners []func()
}

// NewStore builds a store seeded with defaults. persister and onDirty may
// be nil.
func NewStore(persister Persister, onDirty func(DirtyKind)) *Store {
	return &Store{
		planner:   Default(),
		status:    Status{},
		persister: persister,
		onDirty:   onDirty,
	}
}

// Subscribe registers a listener invoked after every committed mutation.
func (s *Store) Subscribe(fn func()) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Planner returns a copy of the current planner.
func (s *Store) Planner() Planner {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.planner.Clone()
}

// Status returns a copy of the current status map.
func (s *Store) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status.Clone()
}

// Load seeds planner and status from durable storage without marking dirty
// or notifying. Meant for startup.
func (s *Store) Load(p Planner, st Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.planner = NormalizeValue(roundTrip(p))
	if st == nil {
		st = Status{}
	}
	s.status = st
}

// Replace adopts a remote snapshot wholesale (last-write-wins). It persists
// and notifies but does not mark dirty, so the adoption is not echoed back.
func (s *Store) Replace(p Planner, st Status) {
	s.mu.Lock()
	s.planner = NormalizeValue(roundTrip(p))
	if st == nil {
		st = Status{}
	}
	s.status = st.Clone()
	s.persist()
	s.persistStatus()
	s.mu.Unlock()
	s.notify()
}

// Reset drops planner and status back to empty defaults.
func (s *Store) Reset() {
	s.mu.Lock()
	s.planner = Default()
	s.status = Status{}
	s.persist()
	s.persistStatus()
	s.mu.Unlock()
	s.notify()
}

// AddDay appends a new day, makes it active, and returns its id.
func (s *Store) AddDay() string {
	s.mu.Lock()
	day := Day{
		ID:    util.NewID("day"),
		Title: fmt.Sprintf("Day %d", len(s.planner.Days)+1),
		Items: []Item{},
	}
	s.planner.Days = append(s.planner.Days, day)
	s.planner.ActiveDayID = day.ID
	s.commit()
	s.mu.Unlock()
	s.notify()
	return day.ID
}

// DeleteDay removes a day. Deleting the last remaining day resets to a
// fresh default planner (with a newly generated day id). Otherwise the
// adjacent day takes over as active: the previous index, or the new last
// day when the removed day was last.
func (s *Store) DeleteDay(dayID string) bool {
	s.mu.Lock()
	idx := -1
	for i, d := range s.planner.Days {
		if d.ID == dayID {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	if len(s.planner.Days) == 1 {
		s.planner = Default()
	} else {
		s.planner.Days = append(s.planner.Days[:idx], s.planner.Days[idx+1:]...)
		next := idx - 1
		if next < 0 {
			next = 0
		}
		if next >= len(s.planner.Days) {
			next = len(s.planner.Days) - 1
		}
		s.planner.ActiveDayID = s.planner.Days[next].ID
	}
	s.commit()
	s.mu.Unlock()
	s.notify()
	return true
}

// EnsureDay seeds a default day if none exist. Idempotent; called before
// any add-place operation.
func (s *Store) EnsureDay() {
	s.mu.Lock()
	if len(s.planner.Days) > 0 {
		s.mu.Unlock()
		return
	}
	s.planner = Default()
	s.commit()
	s.mu.Unlock()
	s.notify()
}

// SetActiveDay switches the active day.
func (s *Store) SetActiveDay(dayID string) bool {
	s.mu.Lock()
	if s.planner.Day(dayID) == nil {
		s.mu.Unlock()
		return false
	}
	s.planner.ActiveDayID = dayID
	s.commit()
	s.mu.Unlock()
	s.notify()
	return true
}

// AddPlace appends a stop for placeID to the given day. Duplicate place ids
// within a day are rejected with AddPlaceExists; the item's final position
// is decided by the time sort on the next normalization pass.
func (s *Store) AddPlace(dayID, placeID string) AddPlaceResult {
	s.mu.Lock()
	day := s.planner.Day(dayID)
	if day == nil || placeID == "" {
		s.mu.Unlock()
		return AddPlaceNoDay
	}
	for _, item := range day.Items {
		if item.PlaceID == placeID {
			s.mu.Unlock()
			return AddPlaceExists
		}
	}
	day.Items = append(day.Items, Item{
		ID:      util.NewID("item"),
		PlaceID: placeID,
	})
	s.commit()
	s.mu.Unlock()
	s.notify()
	return AddPlaceAdded
}

// ItemPatch carries the editable item fields. Nil pointers leave the field
// untouched.
type ItemPatch struct {
	StartTime *string
	EndTime   *string
	Memo      *string
}

// PatchItem merges the patch into the matching item. Time-field edits
// resort the day; a memo-only edit does not change ordering (memo is not
// part of the sort key).
func (s *Store) PatchItem(dayID, itemID string, patch ItemPatch) bool {
	s.mu.Lock()
	day := s.planner.Day(dayID)
	if day == nil {
		s.mu.Unlock()
		return false
	}
	idx := -1
	for i, item := range day.Items {
		if item.ID == itemID {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	timeEdit := false
	if patch.StartTime != nil {
		day.Items[idx].StartTime = *patch.StartTime
		timeEdit = true
	}
	if patch.EndTime != nil {
		day.Items[idx].EndTime = *patch.EndTime
		timeEdit = true
	}
	if patch.Memo != nil {
		day.Items[idx].Memo = *patch.Memo
	}
	if timeEdit {
		sortItems(day.Items)
	}
	s.commit()
	s.mu.Unlock()
	s.notify()
	return true
}

// RemoveItem deletes the matching item from the day.
func (s *Store) RemoveItem(dayID, itemID string) bool {
	s.mu.Lock()
	day := s.planner.Day(dayID)
	if day == nil {
		s.mu.Unlock()
		return false
	}
	kept := day.Items[:0]
	found := false
	for _, item := range day.Items {
		if item.ID == itemID {
			found = true
			continue
		}
		kept = append(kept, item)
	}
	if !found {
		s.mu.Unlock()
		return false
	}
	day.Items = kept
	s.commit()
	s.mu.Unlock()
	s.notify()
	return true
}

// ClearDay empties the day's item list.
func (s *Store) ClearDay(dayID string) bool {
	s.mu.Lock()
	day := s.planner.Day(dayID)
	if day == nil {
		s.mu.Unlock()
		return false
	}
	day.Items = []Item{}
	s.commit()
	s.mu.Unlock()
	s.notify()
	return true
}

// ToggleFavorite flips the favorite flag for a place and returns the new
// value.
func (s *Store) ToggleFavorite(placeID string) bool {
	return s.toggle(placeID, func(st *PlaceStatus) bool {
		st.Favorite = !st.Favorite
		return st.Favorite
	})
}

// ToggleVisited flips the visited flag for a place and returns the new
// value.
func (s *Store) ToggleVisited(placeID string) bool {
	return s.toggle(placeID, func(st *PlaceStatus) bool {
		st.Visited = !st.Visited
		return st.Visited
	})
}

func (s *Store) toggle(placeID string, flip func(*PlaceStatus) bool) bool {
	s.mu.Lock()
	st := s.status[placeID]
	result := flip(&st)
	s.status[placeID] = st
	s.persistStatus()
	if s.onDirty != nil {
		s.onDirty(DirtyStatus)
	}
	s.mu.Unlock()
	s.notify()
	return result
}

// commit repairs the structural invariants (non-empty days, valid active
// day), persists, and marks the planner field group dirty. It does not
// resort: ordering is re-derived on time-field edits and on every full
// normalization pass (load, import, remote merge), so a memo edit keeps
// its position until then. Callers hold s.mu.
func (s *Store) commit() {
	if len(s.planner.Days) == 0 {
		s.planner = Default()
	}
	if s.planner.Day(s.planner.ActiveDayID) == nil {
		s.planner.ActiveDayID = s.planner.Days[0].ID
	}
	s.planner.Version = Version
	s.persist()
	if s.onDirty != nil {
		s.onDirty(DirtyPlanner)
	}
}

func (s *Store) persist() {
	if s.persister != nil {
		s.persister.SavePlanner(s.planner.Clone())
	}
}

func (s *Store) persistStatus() {
	if s.persister != nil {
		s.persister.SaveStatus(s.status.Clone())
	}
}

func (s *Store) notify() {
	s.mu.Lock()
	listeners := append([]func(){}, s.listeners...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

// roundTrip shoves a typed planner through the generic representation so
// NormalizeValue can treat trusted and untrusted input identically.
func roundTrip(p Planner) any {
	return map[string]any{
		"version":     float64(p.Version),
		"activeDayId": p.ActiveDayID,
		"days":        daysToAny(p.Days),
	}
}

func daysToAny(days []Day) []any {
	out := make([]any, 0, len(days))
	for _, d := range days {
		items := make([]any, 0, len(d.Items))
		for _, item := range d.Items {
			items = append(items, map[string]any{
				"id":        item.ID,
				"placeId":   item.PlaceID,
				"startTime": item.StartTime,
				"endTime":   item.EndTime,
				"memo":      item.Memo,
			})
		}
		out = append(out, map[string]any{
			"id":    d.ID,
			"title": d.Title,
			"items": items,
		})
	}
	return out
}
