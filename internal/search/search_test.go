package search

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

type fakeSource struct {
	sections []SectionRecord
	requests []RequestRecord
	err      error
}

func (f fakeSource) Sections(context.Context, string) ([]SectionRecord, error) {
	return f.sections, f.err
}

func (f fakeSource) Requests(context.Context, string) ([]RequestRecord, error) {
	return f.requests, f.err
}

func testSource() fakeSource {
	return fakeSource{
		sections: []SectionRecord{
			{ID: "s1", MissionID: "m1", Title: "Site Map", Content: "The substation sits north of the river.", Tags: []string{"map"}},
			{ID: "s2", MissionID: "m1", Title: "Radio", Content: "Channel 4 for the substation crew."},
		},
		requests: []RequestRecord{
			{ID: "r1", MissionID: "m1", Title: "Need access code", Description: "Gate to the substation is locked", Status: "new"},
		},
	}
}

func TestScannerRanksAndFilters(t *testing.T) {
	scanner := NewScanner(testSource())
	ctx := context.Background()

	results, total, err := scanner.Search(ctx, Query{MissionID: "m1", Text: "Substation"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if total != 3 || len(results) != 3 {
		t.Fatalf("expected 3 hits, got %d/%d", len(results), total)
	}

	results, _, _ = scanner.Search(ctx, Query{MissionID: "m1", Text: "site map"})
	if len(results) != 1 || results[0].ID != "s1" {
		t.Fatalf("expected only s1 to match every term, got %+v", results)
	}

	results, _, _ = scanner.Search(ctx, Query{MissionID: "m1", Text: "substation", FilterType: ResultRequest})
	if len(results) != 1 || results[0].Type != ResultRequest || results[0].Status != "new" {
		t.Fatalf("expected only the request, got %+v", results)
	}

	results, total, _ = scanner.Search(ctx, Query{MissionID: "m1", Text: "substation", Limit: 1, Offset: 1})
	if total != 3 || len(results) != 1 {
		t.Fatalf("pagination: got %d results of %d", len(results), total)
	}

	if results, _, _ := scanner.Search(ctx, Query{MissionID: "m1", Text: "   "}); len(results) != 0 {
		t.Fatal("blank queries match nothing")
	}
}

func TestServiceFallsBackWithoutMeili(t *testing.T) {
	svc := NewService(nil, NewScanner(testSource()))
	resp := svc.Search(context.Background(), Query{MissionID: "m1", Text: "radio"})
	if resp.Total != 1 || resp.Results[0].ID != "s2" || resp.Query != "radio" {
		t.Fatalf("unexpected response %+v", resp)
	}

	broken := NewService(nil, NewScanner(fakeSource{err: errors.New("store down")}))
	resp = broken.Search(context.Background(), Query{MissionID: "m1", Text: "radio"})
	if resp.Results == nil || len(resp.Results) != 0 {
		t.Fatalf("expected empty non-nil results, got %+v", resp)
	}

	none := NewService(nil, nil)
	if resp := none.Search(context.Background(), Query{MissionID: "m1", Text: "x"}); resp.Results == nil {
		t.Fatal("expected non-nil results")
	}
}

func TestExcerpt(t *testing.T) {
	long := strings.Repeat("a", 100) + " substation " + strings.Repeat("b", 100)
	out := excerpt(long, "substation")
	if !strings.Contains(out, "substation") || !strings.HasPrefix(out, "…") || !strings.HasSuffix(out, "…") {
		t.Fatalf("unexpected excerpt %q", out)
	}
	if excerpt("short", "x") != "short" {
		t.Fatal("short text returned unchanged")
	}
}

func TestMeiliHitPrefersHighlight(t *testing.T) {
	idx, ok := indexByUID(idxRequests)
	if !ok {
		t.Fatalf("requests index not registered")
	}
	hit := meili.Hit{
		"id":          json.RawMessage(`"fr_1"`),
		"missionId":   json.RawMessage(`"m1"`),
		"title":       json.RawMessage(`"Generator fuel"`),
		"description": json.RawMessage(`"Need diesel at the substation"`),
		"status":      json.RawMessage(`"pending"`),
		"_formatted":  json.RawMessage(`{"title":"<mark>Generator</mark> fuel"}`),
	}
	got := idx.result(hit)
	if got.Type != ResultRequest || got.ID != "fr_1" || got.MissionID != "m1" || got.Status != "pending" {
		t.Fatalf("unexpected result %+v", got)
	}
	if got.Title != "<mark>Generator</mark> fuel" {
		t.Fatalf("expected highlighted title, got %q", got.Title)
	}
	if got.Snippet != "Need diesel at the substation" {
		t.Fatalf("expected raw description as snippet, got %q", got.Snippet)
	}
	if _, ok := indexByUID("unknown"); ok {
		t.Fatalf("unknown index resolved")
	}
}

func TestMeiliIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	url := os.Getenv("TEST_MEILI_URL")
	if url == "" {
		t.Skip("TEST_MEILI_URL is not set")
	}
	m := NewMeili(url, os.Getenv("TEST_MEILI_KEY"))
	defer m.Close()
	if !m.Healthy() {
		t.Fatal("meilisearch not healthy")
	}
	if err := m.IndexSection(SectionRecord{ID: "it-s1", MissionID: "it-m1", Title: "Lighthouse", Content: "keeper notes"}); err != nil {
		t.Fatalf("IndexSection: %v", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		results, _, err := m.Search(context.Background(), Query{MissionID: "it-m1", Text: "lighthouse"})
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if len(results) > 0 {
			if results[0].ID != "it-s1" {
				t.Fatalf("unexpected hit %+v", results[0])
			}
			_ = m.DeleteSection("it-s1")
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatal("document never became searchable")
}
