// Package mission holds the mission entities and the two state machines that
// govern them. Nothing here performs I/O.
package mission

import (
	"fmt"
	"strings"
	"time"
)

// Meta is embedded in every persisted entity.
type Meta struct {
	Version        int       `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	CreatedBy      string    `json:"created_by"`
	UpdatedBy      string    `json:"updated_by"`
	ConversationID string    `json:"conversation_id"`
}

func (m Meta) EntityVersion() int {
	return m.Version
}

// NewMeta returns the metadata of a first write.
func NewMeta(now time.Time, userID, conversationID string) Meta {
	return Meta{
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
		CreatedBy:      userID,
		UpdatedBy:      userID,
		ConversationID: conversationID,
	}
}

// Touch prepares m for the next write: the version advances by exactly one.
func (m *Meta) Touch(now time.Time, userID, conversationID string) {
	m.Version++
	m.UpdatedAt = now
	m.UpdatedBy = userID
	m.ConversationID = conversationID
}

type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// ParsePriority accepts the four priorities case-insensitively; empty means
// medium.
func ParsePriority(value string) (Priority, error) {
	switch p := Priority(strings.ToLower(strings.TrimSpace(value))); p {
	case "":
		return PriorityMedium, nil
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return p, nil
	default:
		return "", fmt.Errorf("unknown priority %q", value)
	}
}

// Blocking reports whether a request of this priority blocks the mission.
func (p Priority) Blocking() bool {
	return p == PriorityHigh || p == PriorityCritical
}

type SuccessCriterion struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CompletedBy string     `json:"completed_by,omitempty"`
}

type Goal struct {
	ID              string             `json:"id"`
	Name            string             `json:"name"`
	Description     string             `json:"description"`
	Priority        Priority           `json:"priority"`
	SuccessCriteria []SuccessCriterion `json:"success_criteria"`
}

type Briefing struct {
	Meta
	MissionName        string `json:"mission_name"`
	MissionDescription string `json:"mission_description"`
	Goals              []Goal `json:"goals"`
}

// Goal returns a pointer into b.Goals so callers can mutate it in place.
func (b *Briefing) Goal(id string) (*Goal, bool) {
	for i := range b.Goals {
		if b.Goals[i].ID == id {
			return &b.Goals[i], true
		}
	}
	return nil, false
}

func (g *Goal) Criterion(id string) (*SuccessCriterion, bool) {
	for i := range g.SuccessCriteria {
		if g.SuccessCriteria[i].ID == id {
			return &g.SuccessCriteria[i], true
		}
	}
	return nil, false
}

// CriteriaCounts sums completed and total criteria across all goals.
func (b Briefing) CriteriaCounts() (completed, total int) {
	for _, goal := range b.Goals {
		for _, criterion := range goal.SuccessCriteria {
			total++
			if criterion.Completed {
				completed++
			}
		}
	}
	return completed, total
}

// HasCriteria reports whether at least one goal owns a success criterion.
func (b Briefing) HasCriteria() bool {
	for _, goal := range b.Goals {
		if len(goal.SuccessCriteria) > 0 {
			return true
		}
	}
	return false
}

type KBSection struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Order   int      `json:"order"`
	Tags    []string `json:"tags"`
}

type KnowledgeBase struct {
	Meta
	Sections map[string]KBSection `json:"sections"`
}

// Validate rejects a knowledge base whose map keys disagree with the ids of
// the sections they hold.
func (kb KnowledgeBase) Validate() error {
	for key, section := range kb.Sections {
		if key != section.ID {
			return fmt.Errorf("knowledge base key %q does not match section id %q", key, section.ID)
		}
	}
	return nil
}

// Ordered returns the sections sorted by Order, then title.
func (kb KnowledgeBase) Ordered() []KBSection {
	items := make([]KBSection, 0, len(kb.Sections))
	for _, section := range kb.Sections {
		items = append(items, section)
	}
	sortSections(items)
	return items
}

// NextOrder is one past the largest order in use.
func (kb KnowledgeBase) NextOrder() int {
	next := 0
	for _, section := range kb.Sections {
		if section.Order >= next {
			next = section.Order + 1
		}
	}
	return next
}

type Status struct {
	Meta
	State              State             `json:"state"`
	ProgressPercentage int               `json:"progress_percentage"`
	Goals              []Goal            `json:"goals"`
	ActiveBlockers     []string          `json:"active_blockers"`
	CompletedCriteria  int               `json:"completed_criteria"`
	TotalCriteria      int               `json:"total_criteria"`
	StatusMessage      string            `json:"status_message"`
	NextActions        []string          `json:"next_actions"`
	Lifecycle          map[string]string `json:"lifecycle"`
}

// SetProgress clamps value into [0, 100].
func (s *Status) SetProgress(value int) {
	switch {
	case value < 0:
		value = 0
	case value > 100:
		value = 100
	}
	s.ProgressPercentage = value
}

// Recount refreshes the criteria counters and the derived progress from b.
func (s *Status) Recount(b Briefing) {
	s.CompletedCriteria, s.TotalCriteria = b.CriteriaCounts()
	if s.TotalCriteria == 0 {
		s.SetProgress(0)
		return
	}
	s.SetProgress(s.CompletedCriteria * 100 / s.TotalCriteria)
}

// Refresh replaces the goals snapshot with the briefing's current goals.
func (s *Status) Refresh(b Briefing) {
	s.Goals = append([]Goal(nil), b.Goals...)
	s.CompletedCriteria, s.TotalCriteria = b.CriteriaCounts()
}

func (s *Status) AddBlocker(requestID string) {
	for _, id := range s.ActiveBlockers {
		if id == requestID {
			return
		}
	}
	s.ActiveBlockers = append(s.ActiveBlockers, requestID)
}

// RemoveBlocker reports whether requestID was present.
func (s *Status) RemoveBlocker(requestID string) bool {
	kept := s.ActiveBlockers[:0]
	removed := false
	for _, id := range s.ActiveBlockers {
		if id == requestID {
			removed = true
			continue
		}
		kept = append(kept, id)
	}
	s.ActiveBlockers = kept
	return removed
}

// Stamp records a lifecycle gate in the metadata bag as name_at / name_by.
func (s *Status) Stamp(gate string, now time.Time, userID string) {
	if s.Lifecycle == nil {
		s.Lifecycle = map[string]string{}
	}
	s.Lifecycle[gate+"_at"] = now.UTC().Format(time.RFC3339)
	s.Lifecycle[gate+"_by"] = userID
}
