package mission

import "time"

type EntryType string

const (
	EntryMissionCreated    EntryType = "MISSION_CREATED"
	EntryBriefingUpdated   EntryType = "BRIEFING_UPDATED"
	EntryGoalAdded         EntryType = "GOAL_ADDED"
	EntryCriterionAdded    EntryType = "CRITERION_ADDED"
	EntryKBUpdated         EntryType = "KB_UPDATED"
	EntryMissionReady      EntryType = "MISSION_READY"
	EntryMissionStarted    EntryType = "MISSION_STARTED"
	EntryStatusUpdated     EntryType = "STATUS_UPDATED"
	EntryCriterionComplete EntryType = "CRITERION_COMPLETED"
	EntryMissionCompleted  EntryType = "MISSION_COMPLETED"
	EntryMissionAborted    EntryType = "MISSION_ABORTED"
	EntryRequestCreated    EntryType = "REQUEST_CREATED"
	EntryRequestUpdated    EntryType = "REQUEST_UPDATED"
	EntryRequestResolved   EntryType = "REQUEST_RESOLVED"
	EntryInvitationCreated EntryType = "INVITATION_CREATED"
	EntryInvitationRevoked EntryType = "INVITATION_REVOKED"
	EntryParticipantJoined EntryType = "PARTICIPANT_JOINED"
	EntryConversationBound EntryType = "CONVERSATION_BOUND"
)

type LogEntry struct {
	ID              string            `json:"id"`
	Timestamp       time.Time         `json:"timestamp"`
	EntryType       EntryType         `json:"entry_type"`
	Message         string            `json:"message"`
	UserID          string            `json:"user_id"`
	UserName        string            `json:"user_name"`
	RelatedEntityID string            `json:"related_entity_id,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// Log is the single append-only audit record of a mission.
type Log struct {
	Meta
	Entries []LogEntry `json:"entries"`
}

// Filter returns entries of the given types, newest last. With no types it
// returns every entry.
func (l Log) Filter(types ...EntryType) []LogEntry {
	if len(types) == 0 {
		return append([]LogEntry(nil), l.Entries...)
	}
	want := make(map[EntryType]bool, len(types))
	for _, t := range types {
		want[t] = true
	}
	items := make([]LogEntry, 0)
	for _, entry := range l.Entries {
		if want[entry.EntryType] {
			items = append(items, entry)
		}
	}
	return items
}
