package sync

import "testing"

func TestShareLinkRoundTrip(t *testing.T) {
	link := EncodeShareLink("https://tripmap.example/plan", "trip_abc123", "QX7K2M")

	tripID, joinCode, ok := ParseShareLink(link)
	if !ok {
		t.Fatalf("expected parseable link, got %q", link)
	}
	if tripID != "trip_abc123" || joinCode != "QX7K2M" {
		t.Errorf("round trip lost values: %q %q", tripID, joinCode)
	}
}

func TestShareLinkKeepsExistingQuery(t *testing.T) {
	link := EncodeShareLink("https://tripmap.example/plan?lang=ko", "trip_abc123", "QX7K2M")
	if _, _, ok := ParseShareLink(link); !ok {
		t.Fatalf("expected parseable link, got %q", link)
	}
	if got := StripShareParams(link); got != "https://tripmap.example/plan?lang=ko" {
		t.Errorf("strip should keep unrelated params, got %q", got)
	}
}

func TestParseShareLinkRequiresBothParams(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"missing code", "https://tripmap.example/plan?trip=trip_abc123"},
		{"missing trip", "https://tripmap.example/plan?code=QX7K2M"},
		{"blank values", "https://tripmap.example/plan?trip=%20&code=%20"},
		{"no params", "https://tripmap.example/plan"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, ok := ParseShareLink(tc.raw); ok {
				t.Errorf("expected not ok for %q", tc.raw)
			}
		})
	}
}

func TestStripShareParamsOnCleanURL(t *testing.T) {
	raw := "https://tripmap.example/plan"
	if got := StripShareParams(raw); got != raw {
		t.Errorf("expected %q unchanged, got %q", raw, got)
	}
}
