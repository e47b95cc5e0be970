package app

import (
	"context"
	"errors"
	"strings"

	"missionsync/internal/ledger"
	"missionsync/internal/mission"
	"missionsync/internal/rbac"
	"missionsync/internal/search"
	"missionsync/internal/store"
)

type LogFilter struct {
	Types []mission.EntryType
	// Limit keeps only the newest entries; zero keeps all.
	Limit int
}

// GetLog returns the mission's audit entries, oldest first.
func (s *Service) GetLog(ctx context.Context, actor Actor, filter LogFilter) ([]mission.LogEntry, error) {
	binding, err := s.authorize(ctx, actor, rbac.ActionRead)
	if err != nil {
		return nil, err
	}
	current, err := s.loadLog(ctx, binding.MissionID)
	if err != nil {
		return nil, err
	}
	entries := current.Filter(filter.Types...)
	if filter.Limit > 0 && len(entries) > filter.Limit {
		entries = entries[len(entries)-filter.Limit:]
	}
	return entries, nil
}

func (s *Service) loadLog(ctx context.Context, missionID string) (mission.Log, error) {
	current, err := store.Load[mission.Log](ctx, s.repo, store.SingletonKey(missionID, store.TypeLog))
	if errors.Is(err, store.ErrNotFound) {
		return mission.Log{Entries: []mission.LogEntry{}}, nil
	}
	return current, err
}

// VerifyLedger compares the audit log with its git mirror, bringing the
// mirror up to date first.
func (s *Service) VerifyLedger(ctx context.Context, actor Actor) (ledger.Report, error) {
	binding, err := s.authorize(ctx, actor, rbac.ActionAudit)
	if err != nil {
		return ledger.Report{}, err
	}
	if s.ledger == nil {
		return ledger.Report{}, fail(ErrPreconditionNotMet, "audit mirror is not configured", nil)
	}
	current, err := s.loadLog(ctx, binding.MissionID)
	if err != nil {
		return ledger.Report{}, err
	}
	s.mirror(binding.MissionID, current.Entries)
	return s.ledger.Verify(binding.MissionID, current.Entries)
}

// LedgerHistory lists the newest mirror commits.
func (s *Service) LedgerHistory(ctx context.Context, actor Actor, limit int) ([]ledger.CommitInfo, error) {
	binding, err := s.authorize(ctx, actor, rbac.ActionAudit)
	if err != nil {
		return nil, err
	}
	if s.ledger == nil {
		return nil, fail(ErrPreconditionNotMet, "audit mirror is not configured", nil)
	}
	return s.ledger.History(binding.MissionID, limit)
}

// Search looks through the knowledge base and field requests of the actor's
// mission.
func (s *Service) Search(ctx context.Context, actor Actor, text, filterType string, limit, offset int) (search.Response, error) {
	binding, err := s.authorize(ctx, actor, rbac.ActionRead)
	if err != nil {
		return search.Response{}, err
	}
	query := search.Query{
		MissionID: binding.MissionID,
		Text:      strings.TrimSpace(text),
		Limit:     limit,
		Offset:    offset,
	}
	switch search.ResultType(filterType) {
	case "", search.ResultSection, search.ResultRequest:
		query.FilterType = search.ResultType(filterType)
	default:
		return search.Response{}, invalid("type must be kb_section or field_request")
	}
	if query.Limit > 100 {
		query.Limit = 100
	}
	return s.search.Search(ctx, query), nil
}

// Reindex pushes the actor's whole mission into the search index.
func (s *Service) Reindex(ctx context.Context, actor Actor) error {
	binding, err := s.authorize(ctx, actor, rbac.ActionPlan)
	if err != nil {
		return err
	}
	s.search.Reindex(ctx, s.Source(), binding.MissionID)
	return nil
}

// ReindexAll pushes every stored mission into the search index.
func (s *Service) ReindexAll(ctx context.Context) (int, error) {
	missions, err := s.repo.Backend().Missions(ctx)
	if err != nil {
		return 0, err
	}
	for _, missionID := range missions {
		s.search.Reindex(ctx, s.Source(), missionID)
	}
	return len(missions), nil
}

// Source exposes mission records to the search fallback.
func (s *Service) Source() search.Source {
	return MissionSource(s.repo)
}

// MissionSource reads knowledge base sections and field requests straight
// from the entity store.
func MissionSource(repo *store.Repository) search.Source {
	return missionSource{repo: repo}
}

type missionSource struct {
	repo *store.Repository
}

func (m missionSource) Sections(ctx context.Context, missionID string) ([]search.SectionRecord, error) {
	kb, err := store.Load[mission.KnowledgeBase](ctx, m.repo, store.SingletonKey(missionID, store.TypeKB))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	items := make([]search.SectionRecord, 0, len(kb.Sections))
	for _, section := range kb.Ordered() {
		items = append(items, sectionRecord(missionID, section))
	}
	return items, nil
}

func (m missionSource) Requests(ctx context.Context, missionID string) ([]search.RequestRecord, error) {
	requests, err := store.List[mission.FieldRequest](ctx, m.repo, missionID, store.ScopeShared, store.TypeRequests)
	if err != nil {
		return nil, err
	}
	items := make([]search.RequestRecord, 0, len(requests))
	for _, request := range requests {
		items = append(items, requestRecord(missionID, request))
	}
	return items, nil
}

func sectionRecord(missionID string, section mission.KBSection) search.SectionRecord {
	return search.SectionRecord{
		ID:        section.ID,
		MissionID: missionID,
		Title:     section.Title,
		Content:   section.Content,
		Tags:      section.Tags,
	}
}

func requestRecord(missionID string, request mission.FieldRequest) search.RequestRecord {
	return search.RequestRecord{
		ID:          request.ID,
		MissionID:   missionID,
		Title:       request.Title,
		Description: request.Description,
		Resolution:  request.Resolution,
		Status:      string(request.Status),
		Priority:    string(request.Priority),
	}
}

func (s *Service) indexSection(missionID string, section mission.KBSection) {
	s.search.IndexSection(sectionRecord(missionID, section))
}

func (s *Service) indexRequest(missionID string, request mission.FieldRequest) {
	s.search.IndexRequest(requestRecord(missionID, request))
}
