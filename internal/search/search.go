package search

import "context"

// ResultType identifies the kind of mission record in a search result.
type ResultType string

const (
	ResultSection ResultType = "kb_section"
	ResultRequest ResultType = "field_request"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type      ResultType `json:"type"`
	ID        string     `json:"id"`
	MissionID string     `json:"missionId"`
	Title     string     `json:"title"`
	Snippet   string     `json:"snippet"`
	Status    string     `json:"status,omitempty"`
}

// Query describes a search request. MissionID is mandatory: parties only
// ever search their own mission.
type Query struct {
	MissionID  string
	Text       string
	FilterType ResultType // empty = all types
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push mission records into a search index.
type Indexer interface {
	IndexSection(s SectionRecord) error
	IndexRequest(r RequestRecord) error
	DeleteSection(id string) error
}

// SectionRecord is the data we index for a knowledge base section.
type SectionRecord struct {
	ID        string   `json:"id"`
	MissionID string   `json:"missionId"`
	Title     string   `json:"title"`
	Content   string   `json:"content"`
	Tags      []string `json:"tags"`
}

// RequestRecord is the data we index for a field request.
type RequestRecord struct {
	ID          string `json:"id"`
	MissionID   string `json:"missionId"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Resolution  string `json:"resolution"`
	Status      string `json:"status"`
	Priority    string `json:"priority"`
}

func limitOf(q Query) int {
	if q.Limit <= 0 {
		return 20
	}
	return q.Limit
}
