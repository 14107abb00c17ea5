// Package catalog loads and queries the read-only place catalog. Places are
// externally supplied (data/places.json); the catalog never mutates them.
package catalog

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"tripmap/api/internal/planner"
)

// Place is one catalog record. Lat/Lon both present means the place is
// pinned on the map.
type Place struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Category string   `json:"category,omitempty"`
	Address  string   `json:"address,omitempty"`
	Lat      *float64 `json:"lat,omitempty"`
	Lon      *float64 `json:"lon,omitempty"`
	URL      string   `json:"url,omitempty"`
	Notes    []string `json:"notes,omitempty"`
	Source   string   `json:"source,omitempty"`
}

// Catalog holds the loaded places plus generation metadata.
type Catalog struct {
	GeneratedAt string  `json:"generatedAt,omitempty"`
	Places      []Place `json:"places"`
}

// CategoryCount pairs a category label with its place count.
type CategoryCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Stats is the header-line summary.
type Stats struct {
	Total     int `json:"total"`
	Pinned    int `json:"pinned"`
	Favorites int `json:"favorites"`
	Visited   int `json:"visited"`
}

// Load reads the catalog document. A missing or malformed file is a hard
// error: without places there is nothing to plan.
func Load(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var c Catalog
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if c.Places == nil {
		return nil, fmt.Errorf("catalog has no places array")
	}
	return &c, nil
}

// Get returns the place with the given id, or nil for a since-removed
// place (callers render those as "Unknown place").
func (c *Catalog) Get(id string) *Place {
	for i := range c.Places {
		if c.Places[i].ID == id {
			return &c.Places[i]
		}
	}
	return nil
}

// HasCoords reports whether both coordinates are present.
func (p Place) HasCoords() bool {
	return p.Lat != nil && p.Lon != nil
}

// CategoryLabel maps the empty category to "Uncategorized".
func CategoryLabel(category string) string {
	if category == "" {
		return "Uncategorized"
	}
	return category
}

// Categories counts places per category, ordered by count descending then
// name ascending.
func (c *Catalog) Categories() []CategoryCount {
	counts := map[string]int{}
	for _, p := range c.Places {
		counts[CategoryLabel(p.Category)]++
	}
	out := make([]CategoryCount, 0, len(counts))
	for name, count := range counts {
		out = append(out, CategoryCount{Name: name, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// AllCategories is the pseudo-category matching every place.
const AllCategories = "__all__"

// Filter returns the places matching the query substring (across name,
// address, and category) and the category chip.
func (c *Catalog) Filter(query, category string) []Place {
	q := NormalizeText(query)
	cat := ""
	if category != "" && category != AllCategories {
		cat = category
	}
	out := make([]Place, 0, len(c.Places))
	for _, p := range c.Places {
		if cat != "" && CategoryLabel(p.Category) != cat {
			continue
		}
		if q != "" {
			hay := NormalizeText(p.Name + " " + p.Address + " " + p.Category)
			if !strings.Contains(hay, q) {
				continue
			}
		}
		out = append(out, p)
	}
	return out
}

// Stats summarizes the catalog against the current status map.
func (c *Catalog) Stats(status planner.Status) Stats {
	s := Stats{Total: len(c.Places)}
	for _, p := range c.Places {
		if p.HasCoords() {
			s.Pinned++
		}
		if status[p.ID].Favorite {
			s.Favorites++
		}
		if status[p.ID].Visited {
			s.Visited++
		}
	}
	return s
}

// NormalizeText lowercases, NFKC-normalizes, and collapses whitespace for
// matching.
func NormalizeText(text string) string {
	folded := strings.ToLower(norm.NFKC.String(text))
	return strings.Join(strings.Fields(folded), " ")
}

const earthRadiusMeters = 6371000

// Distance returns the haversine distance in meters between two pinned
// places. Unpinned places report ok=false.
func Distance(a, b Place) (float64, bool) {
	if !a.HasCoords() || !b.HasCoords() {
		return 0, false
	}
	lat1 := *a.Lat * math.Pi / 180
	lat2 := *b.Lat * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (*b.Lon - *a.Lon) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(h)), true
}

// Nearest finds the closest pinned place to the given one, excluding
// itself. Returns nil when nothing qualifies.
func (c *Catalog) Nearest(from Place) (*Place, float64) {
	var best *Place
	bestDist := math.Inf(1)
	for i := range c.Places {
		p := &c.Places[i]
		if p.ID == from.ID {
			continue
		}
		d, ok := Distance(from, *p)
		if !ok {
			continue
		}
		if d < bestDist {
			best = p
			bestDist = d
		}
	}
	if best == nil {
		return nil, 0
	}
	return best, bestDist
}
