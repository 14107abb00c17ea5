// Package search provides place catalog search: Meilisearch when
// configured and healthy, with an in-memory fallback that matches the
// catalog's filter semantics.
package search

import "tripmap/api/internal/catalog"

// Query is a catalog search request.
type Query struct {
	Text     string
	Category string
	Limit    int
}

// Result is a matched place.
type Result struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Address  string `json:"address"`
	Pinned   bool   `json:"pinned"`
}

// Response is what the HTTP layer returns.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Memory searches the loaded catalog directly.
type Memory struct {
	catalog *catalog.Catalog
}

func NewMemory(c *catalog.Catalog) *Memory {
	return &Memory{catalog: c}
}

func (m *Memory) Search(q Query) ([]Result, int, error) {
	matched := m.catalog.Filter(q.Text, q.Category)
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	results := make([]Result, 0, limit)
	for _, p := range matched {
		if len(results) >= limit {
			break
		}
		results = append(results, placeResult(p))
	}
	return results, len(matched), nil
}

func placeResult(p catalog.Place) Result {
	return Result{
		ID:       p.ID,
		Name:     p.Name,
		Category: catalog.CategoryLabel(p.Category),
		Address:  p.Address,
		Pinned:   p.HasCoords(),
	}
}
