package search

import (
	"testing"

	"tripmap/api/internal/catalog"
)

func coord(v float64) *float64 { return &v }

func testService() *Service {
	c := &catalog.Catalog{Places: []catalog.Place{
		{ID: "p1", Name: "Gwangjang Market", Category: "Food", Address: "Jongno-gu", Lat: coord(37.57), Lon: coord(126.99)},
		{ID: "p2", Name: "Myeongdong Kyoja", Category: "Food"},
		{ID: "p3", Name: "N Seoul Tower", Category: "Sights", Lat: coord(37.55), Lon: coord(126.98)},
	}}
	return NewService(nil, NewMemory(c))
}

func TestMemoryFallbackSearch(t *testing.T) {
	svc := testService()

	resp := svc.Search(Query{Text: "tower"})
	if resp.Total != 1 || len(resp.Results) != 1 {
		t.Fatalf("tower: %+v", resp)
	}
	if resp.Results[0].ID != "p3" || !resp.Results[0].Pinned {
		t.Errorf("result = %+v", resp.Results[0])
	}

	resp = svc.Search(Query{Category: "Food"})
	if resp.Total != 2 {
		t.Errorf("Food total = %d, want 2", resp.Total)
	}

	resp = svc.Search(Query{Text: "nothing matches this"})
	if len(resp.Results) != 0 || resp.Results == nil {
		t.Errorf("no-match response must be empty but non-nil: %+v", resp.Results)
	}
}

func TestMemorySearchLimit(t *testing.T) {
	svc := testService()
	resp := svc.Search(Query{Category: "Food", Limit: 1})
	if len(resp.Results) != 1 {
		t.Errorf("limit not applied: %d results", len(resp.Results))
	}
	if resp.Total != 2 {
		t.Errorf("total should count all matches, got %d", resp.Total)
	}
}
