package mission

import (
	"fmt"
	"strings"
	"time"
)

// RequestStatus is the field request lifecycle state.
type RequestStatus string

const (
	RequestNew          RequestStatus = "new"
	RequestAcknowledged RequestStatus = "acknowledged"
	RequestInProgress   RequestStatus = "in_progress"
	RequestResolved     RequestStatus = "resolved"
	RequestDeferred     RequestStatus = "deferred"
	RequestCancelled    RequestStatus = "cancelled"
)

func ParseRequestStatus(value string) (RequestStatus, error) {
	switch s := RequestStatus(strings.ToLower(strings.TrimSpace(value))); s {
	case RequestNew, RequestAcknowledged, RequestInProgress, RequestResolved, RequestDeferred, RequestCancelled:
		return s, nil
	default:
		return "", fmt.Errorf("unknown request status %q", value)
	}
}

func (s RequestStatus) Terminal() bool {
	return s == RequestResolved || s == RequestCancelled
}

// rank orders the main chain new → acknowledged → in_progress → resolved.
func (s RequestStatus) rank() int {
	switch s {
	case RequestNew:
		return 0
	case RequestAcknowledged:
		return 1
	case RequestInProgress:
		return 2
	case RequestResolved:
		return 3
	default:
		return -1
	}
}

// CanTransitionRequest is the field request transition table. The main chain
// only moves forward, possibly skipping steps. Deferred and cancelled are
// reachable from every non-terminal state, and a deferred request may be
// picked up again anywhere past new.
func CanTransitionRequest(from, to RequestStatus) bool {
	if from.Terminal() || from == to {
		return false
	}
	switch to {
	case RequestDeferred, RequestCancelled:
		return true
	case RequestNew:
		return false
	}
	if from == RequestDeferred {
		return to.rank() > 0
	}
	return to.rank() > from.rank()
}

type RequestUpdate struct {
	Timestamp time.Time     `json:"timestamp"`
	UserID    string        `json:"user_id"`
	Message   string        `json:"message"`
	Status    RequestStatus `json:"status,omitempty"`
}

type FieldRequest struct {
	Meta
	ID             string          `json:"id"`
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	Priority       Priority        `json:"priority"`
	Status         RequestStatus   `json:"status"`
	RelatedGoalIDs []string        `json:"related_goal_ids"`
	Resolution     string          `json:"resolution,omitempty"`
	ResolvedAt     *time.Time      `json:"resolved_at,omitempty"`
	ResolvedBy     string          `json:"resolved_by,omitempty"`
	Updates        []RequestUpdate `json:"updates"`
}

// Move applies a transition and records it in the updates list.
func (r *FieldRequest) Move(to RequestStatus, now time.Time, userID, message string) error {
	if !CanTransitionRequest(r.Status, to) {
		return fmt.Errorf("request cannot move from %s to %s", r.Status, to)
	}
	r.Status = to
	r.Updates = append(r.Updates, RequestUpdate{Timestamp: now, UserID: userID, Message: message, Status: to})
	return nil
}

// Resolve moves r to resolved and stamps the resolution.
func (r *FieldRequest) Resolve(now time.Time, userID, resolution string) error {
	if err := r.Move(RequestResolved, now, userID, resolution); err != nil {
		return err
	}
	r.Resolution = resolution
	r.ResolvedAt = &now
	r.ResolvedBy = userID
	return nil
}

// Note appends a progress message without changing status.
func (r *FieldRequest) Note(now time.Time, userID, message string) {
	r.Updates = append(r.Updates, RequestUpdate{Timestamp: now, UserID: userID, Message: message})
}
