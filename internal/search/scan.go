package search

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Source supplies a mission's searchable records to the Scanner.
type Source interface {
	Sections(ctx context.Context, missionID string) ([]SectionRecord, error)
	Requests(ctx context.Context, missionID string) ([]RequestRecord, error)
}

// Scanner is a Searcher that loads the mission's records and matches every
// query term case-insensitively. Missions hold tens of records, so a scan is
// adequate when no index is available.
type Scanner struct {
	source Source
}

func NewScanner(source Source) *Scanner {
	return &Scanner{source: source}
}

func (s *Scanner) Healthy() bool {
	return true
}

func (s *Scanner) Search(ctx context.Context, q Query) ([]Result, int, error) {
	terms := strings.Fields(strings.ToLower(q.Text))
	if len(terms) == 0 {
		return nil, 0, nil
	}

	type scored struct {
		result Result
		score  int
	}
	var hits []scored

	if q.FilterType == "" || q.FilterType == ResultSection {
		sections, err := s.source.Sections(ctx, q.MissionID)
		if err != nil {
			return nil, 0, fmt.Errorf("scan sections: %w", err)
		}
		for _, section := range sections {
			score := matchScore(terms, section.Title, section.Content, strings.Join(section.Tags, " "))
			if score == 0 {
				continue
			}
			hits = append(hits, scored{score: score, result: Result{
				Type:      ResultSection,
				ID:        section.ID,
				MissionID: section.MissionID,
				Title:     section.Title,
				Snippet:   excerpt(section.Content, terms[0]),
			}})
		}
	}

	if q.FilterType == "" || q.FilterType == ResultRequest {
		requests, err := s.source.Requests(ctx, q.MissionID)
		if err != nil {
			return nil, 0, fmt.Errorf("scan requests: %w", err)
		}
		for _, request := range requests {
			score := matchScore(terms, request.Title, request.Description, request.Resolution)
			if score == 0 {
				continue
			}
			hits = append(hits, scored{score: score, result: Result{
				Type:      ResultRequest,
				ID:        request.ID,
				MissionID: request.MissionID,
				Title:     request.Title,
				Snippet:   excerpt(request.Description, terms[0]),
				Status:    request.Status,
			}})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })

	total := len(hits)
	start := q.Offset
	if start < 0 {
		start = 0
	}
	if start > total {
		start = total
	}
	end := start + limitOf(q)
	if end > total {
		end = total
	}
	results := make([]Result, 0, end-start)
	for _, hit := range hits[start:end] {
		results = append(results, hit.result)
	}
	return results, total, nil
}

// matchScore counts term occurrences; the title counts double. A field set
// that misses any term scores zero.
func matchScore(terms []string, title string, fields ...string) int {
	title = strings.ToLower(title)
	body := strings.ToLower(strings.Join(fields, " "))
	score := 0
	for _, term := range terms {
		inTitle := strings.Count(title, term)
		inBody := strings.Count(body, term)
		if inTitle+inBody == 0 {
			return 0
		}
		score += 2*inTitle + inBody
	}
	return score
}

func excerpt(text, term string) string {
	const width = 80
	lower := strings.ToLower(text)
	at := strings.Index(lower, term)
	if at < 0 || len(text) <= width {
		if len(text) > width {
			return text[:width] + "…"
		}
		return text
	}
	start := at - width/2
	if start < 0 {
		start = 0
	}
	end := start + width
	if end > len(text) {
		end = len(text)
	}
	out := text[start:end]
	if start > 0 {
		out = "…" + out
	}
	if end < len(text) {
		out += "…"
	}
	return out
}
