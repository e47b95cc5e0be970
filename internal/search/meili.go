package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const (
	idxSections = "missionsync_kb"
	idxRequests = "missionsync_requests"
)

type meiliIndex struct {
	uid        string
	kind       ResultType
	filterable []string
	searchable []string
	snippet    string
}

var meiliIndexes = []meiliIndex{
	{
		uid:        idxSections,
		kind:       ResultSection,
		filterable: []string{"missionId", "tags"},
		searchable: []string{"title", "content", "tags"},
		snippet:    "content",
	},
	{
		uid:        idxRequests,
		kind:       ResultRequest,
		filterable: []string{"missionId", "status", "priority"},
		searchable: []string{"title", "description", "resolution"},
		snippet:    "description",
	},
}

// Meili indexes knowledge base sections and field requests in Meilisearch.
// While the server is unreachable every call fails fast and Service falls
// back to its secondary searcher.
type Meili struct {
	client   meili.ServiceManager
	interval time.Duration
	healthy  atomic.Bool
	done     chan struct{}
}

func NewMeili(url, apiKey string) *Meili {
	m := &Meili{
		client:   meili.New(url, meili.WithAPIKey(apiKey)),
		interval: 10 * time.Second,
		done:     make(chan struct{}),
	}
	if m.probe() {
		m.configureIndexes()
	} else {
		log.Printf("search: meilisearch unavailable at %s, using fallback until it recovers", url)
	}
	go m.watch()
	return m
}

func (m *Meili) probe() bool {
	_, err := m.client.Health()
	m.healthy.Store(err == nil)
	return err == nil
}

func (m *Meili) configureIndexes() {
	for _, idx := range meiliIndexes {
		if _, err := m.client.CreateIndex(&meili.IndexConfig{Uid: idx.uid, PrimaryKey: "id"}); err != nil {
			log.Printf("search: create index %s: %v", idx.uid, err)
		}
		index := m.client.Index(idx.uid)
		filterable := make([]interface{}, 0, len(idx.filterable))
		for _, attr := range idx.filterable {
			filterable = append(filterable, attr)
		}
		if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
			log.Printf("search: filterable attributes for %s: %v", idx.uid, err)
		}
		searchable := idx.searchable
		if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
			log.Printf("search: searchable attributes for %s: %v", idx.uid, err)
		}
	}
}

func (m *Meili) watch() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			wasHealthy := m.healthy.Load()
			if m.probe() && !wasHealthy {
				log.Println("search: meilisearch is back, reapplying index settings")
				m.configureIndexes()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries both indexes (or one, when filtered) scoped to the mission.
func (m *Meili) Search(_ context.Context, q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	var queries []*meili.SearchRequest
	for _, idx := range meiliIndexes {
		if q.FilterType != "" && q.FilterType != idx.kind {
			continue
		}
		queries = append(queries, &meili.SearchRequest{
			IndexUID:              idx.uid,
			Query:                 q.Text,
			Limit:                 int64(limitOf(q)),
			Offset:                int64(q.Offset),
			Filter:                fmt.Sprintf("missionId = %q", q.MissionID),
			AttributesToHighlight: []string{"*"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
		})
	}
	if len(queries) == 0 {
		return nil, 0, nil
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{Queries: queries})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var (
		results []Result
		total   int
	)
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		idx, ok := indexByUID(sr.IndexUID)
		if !ok {
			continue
		}
		for _, hit := range sr.Hits {
			results = append(results, idx.result(hit))
		}
	}
	return results, total, nil
}

func indexByUID(uid string) (meiliIndex, bool) {
	for _, idx := range meiliIndexes {
		if idx.uid == uid {
			return idx, true
		}
	}
	return meiliIndex{}, false
}

func (idx meiliIndex) result(hit meili.Hit) Result {
	r := Result{
		Type:      idx.kind,
		ID:        decodeString(hit, "id"),
		MissionID: decodeString(hit, "missionId"),
		Title:     highlighted(hit, "title"),
		Snippet:   highlighted(hit, idx.snippet),
	}
	if idx.kind == ResultRequest {
		r.Status = decodeString(hit, "status")
	}
	return r
}

// highlighted prefers the marked-up copy of key and falls back to the raw value.
func highlighted(hit meili.Hit, key string) string {
	if value := decodeFormattedString(hit, key); value != "" {
		return value
	}
	return decodeString(hit, key)
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]json.RawMessage
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(formatted[key], &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func (m *Meili) IndexSection(s SectionRecord) error {
	_, err := m.client.Index(idxSections).AddDocuments([]SectionRecord{s}, nil)
	return err
}

func (m *Meili) IndexRequest(r RequestRecord) error {
	_, err := m.client.Index(idxRequests).AddDocuments([]RequestRecord{r}, nil)
	return err
}

func (m *Meili) DeleteSection(id string) error {
	_, err := m.client.Index(idxSections).DeleteDocument(id, nil)
	return err
}
