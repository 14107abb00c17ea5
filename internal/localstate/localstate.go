// Package localstate persists the client's three durable blobs (planner
// document, status map, sync connection descriptor) as JSON files. Reads
// are permissive: missing or corrupt blobs yield defaults, never errors.
// Writes are best-effort; failures are logged and swallowed so a full disk
// can never take down the itinerary.
package localstate

import (
	"encoding/json"
	"log"

	"github.com/peterbourgon/diskv/v3"

	"tripmap/api/internal/planner"
)

const (
	keyPlanner    = "planner"
	keyStatus     = "status"
	keyConnection = "connection"
)

// Connection is the stored sync descriptor. A zero TripID means not
// connected.
type Connection struct {
	TripID   string `json:"tripId"`
	JoinCode string `json:"joinCode"`
	UserID   string `json:"userId,omitempty"`
}

type Store struct {
	d *diskv.Diskv
}

// Open creates a file-backed store rooted at basePath.
func Open(basePath string) *Store {
	return &Store{d: diskv.New(diskv.Options{
		BasePath:     basePath,
		CacheSizeMax: 64 * 1024,
	})}
}

// LoadPlanner reads and normalizes the stored planner document.
func (s *Store) LoadPlanner() planner.Planner {
	raw, err := s.d.Read(keyPlanner)
	if err != nil {
		return planner.Default()
	}
	return planner.Normalize(raw)
}

func (s *Store) SavePlanner(p planner.Planner) {
	s.write(keyPlanner, p)
}

// LoadStatus reads the stored status map; corrupt data yields an empty map.
func (s *Store) LoadStatus() planner.Status {
	raw, err := s.d.Read(keyStatus)
	if err != nil {
		return planner.Status{}
	}
	return planner.NormalizeStatus(raw)
}

func (s *Store) SaveStatus(st planner.Status) {
	s.write(keyStatus, st)
}

// LoadConnection reads the stored sync descriptor. Missing or corrupt data
// yields the zero Connection.
func (s *Store) LoadConnection() Connection {
	raw, err := s.d.Read(keyConnection)
	if err != nil {
		return Connection{}
	}
	var conn Connection
	if err := json.Unmarshal(raw, &conn); err != nil {
		return Connection{}
	}
	return conn
}

func (s *Store) SaveConnection(conn Connection) {
	s.write(keyConnection, conn)
}

// ClearConnection removes the stored descriptor (on disconnect/sign-out).
func (s *Store) ClearConnection() {
	if err := s.d.Erase(keyConnection); err != nil {
		log.Printf("localstate: clear connection: %v", err)
	}
}

func (s *Store) write(key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		log.Printf("localstate: marshal %s: %v", key, err)
		return
	}
	if err := s.d.Write(key, raw); err != nil {
		log.Printf("localstate: write %s: %v", key, err)
	}
}
