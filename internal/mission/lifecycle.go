package mission

import (
	"fmt"
	"sort"
)

// State is the mission lifecycle state.
type State string

const (
	StatePlanning      State = "planning"
	StateReadyForField State = "ready_for_field"
	StateInProgress    State = "in_progress"
	StateCompleted     State = "completed"
	StateAborted       State = "aborted"
)

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateAborted
}

// FieldActive reports whether field parties may report progress.
func (s State) FieldActive() bool {
	return s == StateReadyForField || s == StateInProgress
}

// CanTransition is the mission transition table. Transitions only move
// forward and nothing leaves a terminal state.
func CanTransition(from, to State) bool {
	switch from {
	case StatePlanning:
		return to == StateReadyForField || to == StateAborted
	case StateReadyForField:
		return to == StateInProgress || to == StateAborted
	case StateInProgress:
		return to == StateCompleted || to == StateAborted
	case StateCompleted, StateAborted:
		return false
	default:
		return false
	}
}

// Transition moves s to the target state or explains why it cannot.
func (s *Status) Transition(to State) error {
	if !CanTransition(s.State, to) {
		return fmt.Errorf("mission cannot move from %s to %s", s.State, to)
	}
	s.State = to
	return nil
}

// ReadinessGaps lists what is missing before a mission can be handed to the
// field, in the order it is checked. An empty result means ready.
func ReadinessGaps(briefing *Briefing, kb *KnowledgeBase) []string {
	gaps := make([]string, 0)
	if briefing == nil {
		gaps = append(gaps, "briefing")
	} else {
		if len(briefing.Goals) == 0 {
			gaps = append(gaps, "at least one goal")
		}
		if !briefing.HasCriteria() {
			gaps = append(gaps, "at least one success criterion")
		}
	}
	if kb == nil || len(kb.Sections) == 0 {
		gaps = append(gaps, "at least one knowledge base section")
	}
	return gaps
}

func sortSections(items []KBSection) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Order != items[j].Order {
			return items[i].Order < items[j].Order
		}
		return items[i].Title < items[j].Title
	})
}
