package export

import (
	"strings"
	"testing"
	"time"
)

func TestSanitizeFilename(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Highlands and Islands", "Highlands-and-Islands"},
		{"Skye: 5 days / 4 nights", "Skye-5-days--4-nights"},
		{"", "itinerary"},
		{"///", "itinerary"},
		{strings.Repeat("a", 80), strings.Repeat("a", 50)},
	}
	for _, tc := range cases {
		if got := sanitizeFilename(tc.in); got != tc.want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	got := percentEncodeForDataURL("a b+c")
	if got != "a%20b%2Bc" {
		t.Errorf("got %q", got)
	}
	if strings.Contains(percentEncodeForDataURL("hello world"), "+") {
		t.Error("spaces must not encode to +")
	}
}

func TestSplitParagraphs(t *testing.T) {
	text := "Day 1: Edinburgh\nCastle and Royal Mile.\r\n\r\nDay 2: Glencoe\n\n\n"
	got := splitParagraphs(text)
	if len(got) != 2 {
		t.Fatalf("expected 2 paragraphs, got %d: %v", len(got), got)
	}
	if !strings.HasPrefix(got[0], "Day 1") || !strings.HasPrefix(got[1], "Day 2") {
		t.Errorf("unexpected paragraphs: %v", got)
	}
}

func TestRenderItineraryHTML(t *testing.T) {
	start := time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)
	html, err := RenderItineraryHTML(templateData{
		Doc: ItineraryDocument{
			Title:        "Highlands Explorer",
			CustomerName: "Rosa Gallagher",
			StartDate:    start,
			EndDate:      start.AddDate(0, 0, 4),
			Itinerary:    "Day 1: Edinburgh\n\nDay 2: Glencoe & Fort William",
		},
		Amount:      "450.00 GBP",
		GeneratedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	for _, want := range []string{
		"Highlands Explorer",
		"Rosa Gallagher",
		"Monday, 4 May 2026",
		"450.00 GBP",
		"Glencoe &amp; Fort William",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("rendered HTML missing %q", want)
		}
	}
}

func TestRenderItineraryHTMLNoDeposit(t *testing.T) {
	html, err := RenderItineraryHTML(templateData{
		Doc: ItineraryDocument{
			Title:     "Skye Weekender",
			StartDate: time.Now(),
			EndDate:   time.Now(),
		},
		GeneratedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if strings.Contains(html, "Deposit to confirm") {
		t.Error("deposit block should be omitted when no amount set")
	}
}
