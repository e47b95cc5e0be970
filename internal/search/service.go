package search

import (
	"context"
	"log"
)

// Service is the facade that tries Meilisearch first and falls back to a
// local Searcher (Postgres FTS or a scan).
type Service struct {
	meili    *Meili
	fallback Searcher
}

// NewService creates a search service. meili may be nil if Meilisearch is not
// configured.
func NewService(meili *Meili, fallback Searcher) *Service {
	return &Service{meili: meili, fallback: fallback}
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back: %v", err)
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		log.Printf("search: fallback error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexSection indexes a knowledge base section (fire-and-forget).
func (s *Service) IndexSection(section SectionRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexSection(section); err != nil {
			log.Printf("search: index section %s: %v", section.ID, err)
		}
	}()
}

// IndexRequest indexes a field request (fire-and-forget).
func (s *Service) IndexRequest(request RequestRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexRequest(request); err != nil {
			log.Printf("search: index request %s: %v", request.ID, err)
		}
	}()
}

// Reindex pushes every record of a mission to Meilisearch.
func (s *Service) Reindex(ctx context.Context, source Source, missionID string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	sections, err := source.Sections(ctx, missionID)
	if err != nil {
		log.Printf("search: reindex load sections of %s: %v", missionID, err)
		return
	}
	for _, section := range sections {
		if err := s.meili.IndexSection(section); err != nil {
			log.Printf("search: reindex section %s: %v", section.ID, err)
		}
	}
	requests, err := source.Requests(ctx, missionID)
	if err != nil {
		log.Printf("search: reindex load requests of %s: %v", missionID, err)
		return
	}
	for _, request := range requests {
		if err := s.meili.IndexRequest(request); err != nil {
			log.Printf("search: reindex request %s: %v", request.ID, err)
		}
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
