package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"missionsync/internal/mission"
	"missionsync/internal/rbac"
	"missionsync/internal/registry"
	"missionsync/internal/store"
	"missionsync/internal/util"
)

type CreatedMission struct {
	MissionID string          `json:"missionId"`
	Binding   mission.Binding `json:"binding"`
	Status    mission.Status  `json:"status"`
	// JoinCode is the permanent invitation code, shown to HQ only.
	JoinCode string `json:"joinCode"`
}

type GoalInput struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Priority    string   `json:"priority"`
	Criteria    []string `json:"criteria"`
}

type KBSectionInput struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Tags    []string `json:"tags"`
	Order   *int     `json:"order"`
}

type StatusUpdate struct {
	Message     string   `json:"message"`
	Progress    *int     `json:"progress"`
	NextActions []string `json:"nextActions"`
}

type CriterionResult struct {
	Status mission.Status `json:"status"`
	// AllComplete asks the caller to prompt for ReportCompletion; the mission
	// does not complete on its own.
	AllComplete bool `json:"allComplete"`
}

// CreateMission starts a mission in planning with the caller's conversation
// bound as HQ, an empty log and a permanent join code.
func (s *Service) CreateMission(ctx context.Context, actor Actor) (CreatedMission, error) {
	if strings.TrimSpace(actor.UserID) == "" || strings.TrimSpace(actor.ConversationID) == "" {
		return CreatedMission{}, invalid("actor user and conversation are required")
	}
	if existing, err := s.registry.Lookup(ctx, actor.ConversationID); err == nil {
		return CreatedMission{}, fail(ErrConversationAlreadyBound, "conversation already belongs to a mission", map[string]any{"missionId": existing.MissionID})
	} else if !errors.Is(err, registry.ErrUnbound) {
		return CreatedMission{}, err
	}

	missionID := util.NewID("mission")
	binding, err := s.registry.Bind(ctx, actor.ConversationID, missionID, rbac.RoleHQ)
	if errors.Is(err, registry.ErrAlreadyBound) {
		return CreatedMission{}, fail(ErrConversationAlreadyBound, "conversation already belongs to a mission", nil)
	}
	if err != nil {
		return CreatedMission{}, err
	}

	now := s.now().UTC()
	status := mission.Status{
		Meta:           mission.NewMeta(now, actor.UserID, actor.ConversationID),
		State:          mission.StatePlanning,
		Goals:          []mission.Goal{},
		ActiveBlockers: []string{},
		NextActions:    []string{},
	}
	status.Stamp("created", now, actor.UserID)
	if err := s.repo.Save(ctx, store.SingletonKey(missionID, store.TypeStatus), status); err != nil {
		return CreatedMission{}, err
	}

	issued, err := s.issueInvitation(ctx, actor, missionID, "", s.cfg.PermanentInviteTTL, true)
	if err != nil {
		return CreatedMission{}, err
	}
	joinCode := mission.JoinCode{
		Meta:         mission.NewMeta(now, actor.UserID, actor.ConversationID),
		InvitationID: issued.Invitation.ID,
		Code:         issued.Code,
	}
	if err := s.repo.Save(ctx, joinCodeKey(missionID), joinCode); err != nil {
		return CreatedMission{}, err
	}

	if err := s.finish(ctx, actor, missionID,
		s.entry(ctx, actor, mission.EntryMissionCreated, "Mission created", missionID, nil),
	); err != nil {
		return CreatedMission{}, err
	}
	return CreatedMission{MissionID: missionID, Binding: binding, Status: status, JoinCode: issued.Code}, nil
}

// BindConversation links the caller's conversation to a mission with a fixed
// role. It is a trusted operator call; field parties normally join through
// RedeemInvitation.
func (s *Service) BindConversation(ctx context.Context, actor Actor, missionID string, role rbac.Role) (mission.Binding, error) {
	if !role.Valid() {
		return mission.Binding{}, invalid("role must be hq or field")
	}
	if strings.TrimSpace(actor.ConversationID) == "" {
		return mission.Binding{}, invalid("conversation is required")
	}
	status, err := s.loadStatus(ctx, missionID)
	if err != nil {
		return mission.Binding{}, err
	}
	if err := requireActive(status); err != nil {
		return mission.Binding{}, err
	}

	if existing, err := s.registry.Lookup(ctx, actor.ConversationID); err == nil {
		if existing.MissionID == missionID && existing.Role == role {
			return existing, nil
		}
		return existing, fail(ErrConversationAlreadyBound, "conversation already bound", map[string]any{"missionId": existing.MissionID, "role": existing.Role})
	} else if !errors.Is(err, registry.ErrUnbound) {
		return mission.Binding{}, err
	}

	binding, err := s.registry.Bind(ctx, actor.ConversationID, missionID, role)
	if errors.Is(err, registry.ErrAlreadyBound) {
		return binding, fail(ErrConversationAlreadyBound, "conversation already bound", nil)
	}
	if err != nil {
		return mission.Binding{}, err
	}
	if err := s.finish(ctx, actor, missionID,
		s.entry(ctx, actor, mission.EntryConversationBound, fmt.Sprintf("Conversation joined as %s", role), actor.ConversationID, map[string]string{"role": role.String()}),
	); err != nil {
		return mission.Binding{}, err
	}
	return binding, nil
}

func (s *Service) GetConversationBinding(ctx context.Context, actor Actor) (mission.Binding, error) {
	return s.binding(ctx, actor)
}

// CreateBriefing creates the mission briefing, or renames an existing one.
func (s *Service) CreateBriefing(ctx context.Context, actor Actor, name, description string) (mission.Briefing, error) {
	binding, err := s.authorize(ctx, actor, rbac.ActionPlan)
	if err != nil {
		return mission.Briefing{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return mission.Briefing{}, invalid("mission name is required")
	}
	status, err := s.loadStatus(ctx, binding.MissionID)
	if err != nil {
		return mission.Briefing{}, err
	}
	if err := requireActive(status); err != nil {
		return mission.Briefing{}, err
	}

	now := s.now().UTC()
	briefing, err := s.loadBriefing(ctx, binding.MissionID)
	if err != nil {
		return mission.Briefing{}, err
	}
	message := "Briefing created: " + name
	if briefing == nil {
		briefing = &mission.Briefing{Meta: mission.NewMeta(now, actor.UserID, actor.ConversationID), Goals: []mission.Goal{}}
	} else {
		briefing.Touch(now, actor.UserID, actor.ConversationID)
		message = "Briefing updated: " + name
	}
	briefing.MissionName = name
	briefing.MissionDescription = strings.TrimSpace(description)

	if err := s.repo.Save(ctx, store.SingletonKey(binding.MissionID, store.TypeBriefing), *briefing); err != nil {
		return mission.Briefing{}, err
	}
	if err := s.finish(ctx, actor, binding.MissionID,
		s.entry(ctx, actor, mission.EntryBriefingUpdated, message, "", nil),
	); err != nil {
		return mission.Briefing{}, err
	}
	return *briefing, nil
}

func (s *Service) AddGoal(ctx context.Context, actor Actor, input GoalInput) (mission.Goal, error) {
	binding, err := s.authorize(ctx, actor, rbac.ActionPlan)
	if err != nil {
		return mission.Goal{}, err
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return mission.Goal{}, invalid("goal name is required")
	}
	priority, err := mission.ParsePriority(input.Priority)
	if err != nil {
		return mission.Goal{}, invalid(err.Error())
	}
	status, err := s.loadStatus(ctx, binding.MissionID)
	if err != nil {
		return mission.Goal{}, err
	}
	if err := requireActive(status); err != nil {
		return mission.Goal{}, err
	}
	briefing, err := s.loadBriefing(ctx, binding.MissionID)
	if err != nil {
		return mission.Goal{}, err
	}
	if briefing == nil {
		return mission.Goal{}, fail(ErrPreconditionNotMet, "create the briefing before adding goals", map[string]any{"missing": []string{"briefing"}})
	}

	goal := mission.Goal{
		ID:              util.NewID("goal"),
		Name:            name,
		Description:     strings.TrimSpace(input.Description),
		Priority:        priority,
		SuccessCriteria: []mission.SuccessCriterion{},
	}
	for _, description := range input.Criteria {
		description = strings.TrimSpace(description)
		if description == "" {
			continue
		}
		goal.SuccessCriteria = append(goal.SuccessCriteria, mission.SuccessCriterion{ID: util.NewID("crit"), Description: description})
	}

	briefing.Touch(s.now().UTC(), actor.UserID, actor.ConversationID)
	briefing.Goals = append(briefing.Goals, goal)
	if err := s.repo.Save(ctx, store.SingletonKey(binding.MissionID, store.TypeBriefing), *briefing); err != nil {
		return mission.Goal{}, err
	}
	if err := s.finish(ctx, actor, binding.MissionID,
		s.entry(ctx, actor, mission.EntryGoalAdded, "Goal added: "+name, goal.ID, map[string]string{
			"criteria": fmt.Sprint(len(goal.SuccessCriteria)),
			"priority": string(priority),
		}),
	); err != nil {
		return mission.Goal{}, err
	}
	return goal, nil
}

func (s *Service) AddSuccessCriterion(ctx context.Context, actor Actor, goalID, description string) (mission.SuccessCriterion, error) {
	binding, err := s.authorize(ctx, actor, rbac.ActionPlan)
	if err != nil {
		return mission.SuccessCriterion{}, err
	}
	description = strings.TrimSpace(description)
	if description == "" {
		return mission.SuccessCriterion{}, invalid("criterion description is required")
	}
	status, err := s.loadStatus(ctx, binding.MissionID)
	if err != nil {
		return mission.SuccessCriterion{}, err
	}
	if err := requireActive(status); err != nil {
		return mission.SuccessCriterion{}, err
	}
	briefing, err := s.loadBriefing(ctx, binding.MissionID)
	if err != nil {
		return mission.SuccessCriterion{}, err
	}
	if briefing == nil {
		return mission.SuccessCriterion{}, notFound("goal")
	}
	goal, ok := briefing.Goal(goalID)
	if !ok {
		return mission.SuccessCriterion{}, notFound("goal")
	}

	criterion := mission.SuccessCriterion{ID: util.NewID("crit"), Description: description}
	goal.SuccessCriteria = append(goal.SuccessCriteria, criterion)
	briefing.Touch(s.now().UTC(), actor.UserID, actor.ConversationID)
	if err := s.repo.Save(ctx, store.SingletonKey(binding.MissionID, store.TypeBriefing), *briefing); err != nil {
		return mission.SuccessCriterion{}, err
	}
	if err := s.finish(ctx, actor, binding.MissionID,
		s.entry(ctx, actor, mission.EntryCriterionAdded, fmt.Sprintf("Success criterion added to %s: %s", goal.Name, description), criterion.ID, map[string]string{"goal_id": goalID}),
	); err != nil {
		return mission.SuccessCriterion{}, err
	}
	return criterion, nil
}

func (s *Service) AddKBSection(ctx context.Context, actor Actor, input KBSectionInput) (mission.KBSection, error) {
	binding, err := s.authorize(ctx, actor, rbac.ActionPlan)
	if err != nil {
		return mission.KBSection{}, err
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return mission.KBSection{}, invalid("section title is required")
	}
	status, err := s.loadStatus(ctx, binding.MissionID)
	if err != nil {
		return mission.KBSection{}, err
	}
	if err := requireActive(status); err != nil {
		return mission.KBSection{}, err
	}

	now := s.now().UTC()
	kb, err := s.loadKB(ctx, binding.MissionID)
	if err != nil {
		return mission.KBSection{}, err
	}
	if kb == nil {
		kb = &mission.KnowledgeBase{Meta: mission.NewMeta(now, actor.UserID, actor.ConversationID), Sections: map[string]mission.KBSection{}}
	} else {
		kb.Touch(now, actor.UserID, actor.ConversationID)
	}
	if kb.Sections == nil {
		kb.Sections = map[string]mission.KBSection{}
	}

	section := mission.KBSection{
		ID:      util.NewID("kb"),
		Title:   title,
		Content: input.Content,
		Order:   kb.NextOrder(),
		Tags:    cleanList(input.Tags),
	}
	if input.Order != nil {
		section.Order = *input.Order
	}
	kb.Sections[section.ID] = section
	if err := kb.Validate(); err != nil {
		return mission.KBSection{}, invalid(err.Error())
	}
	if err := s.repo.Save(ctx, store.SingletonKey(binding.MissionID, store.TypeKB), *kb); err != nil {
		return mission.KBSection{}, err
	}
	if err := s.finish(ctx, actor, binding.MissionID,
		s.entry(ctx, actor, mission.EntryKBUpdated, "Knowledge base section added: "+title, section.ID, nil),
	); err != nil {
		return mission.KBSection{}, err
	}
	s.indexSection(binding.MissionID, section)
	return section, nil
}

// UpdateStatus records a field progress report. The first report of a mission
// that is ready for the field starts it.
func (s *Service) UpdateStatus(ctx context.Context, actor Actor, update StatusUpdate) (mission.Status, error) {
	binding, err := s.authorize(ctx, actor, rbac.ActionReport)
	if err != nil {
		return mission.Status{}, err
	}
	status, err := s.loadStatus(ctx, binding.MissionID)
	if err != nil {
		return mission.Status{}, err
	}
	if err := requireFieldActive(status); err != nil {
		return mission.Status{}, err
	}
	briefing, err := s.loadBriefing(ctx, binding.MissionID)
	if err != nil {
		return mission.Status{}, err
	}

	now := s.now().UTC()
	status.Touch(now, actor.UserID, actor.ConversationID)
	var entries []mission.LogEntry
	if started, err := s.start(ctx, actor, &status); err != nil {
		return mission.Status{}, err
	} else if started != nil {
		entries = append(entries, *started)
	}
	if message := strings.TrimSpace(update.Message); message != "" {
		status.StatusMessage = message
	}
	if update.Progress != nil {
		status.SetProgress(*update.Progress)
	}
	if update.NextActions != nil {
		status.NextActions = cleanList(update.NextActions)
	}
	if briefing != nil {
		status.Refresh(*briefing)
	}
	if err := s.repo.Save(ctx, store.SingletonKey(binding.MissionID, store.TypeStatus), status); err != nil {
		return mission.Status{}, err
	}

	message := "Status updated"
	if status.StatusMessage != "" {
		message = "Status updated: " + status.StatusMessage
	}
	entries = append(entries, s.entry(ctx, actor, mission.EntryStatusUpdated, message, "", map[string]string{
		"progress": fmt.Sprint(status.ProgressPercentage),
	}))
	if err := s.finish(ctx, actor, binding.MissionID, entries...); err != nil {
		return mission.Status{}, err
	}
	return status, nil
}

// MarkCriterionCompleted flips one success criterion and recomputes progress
// across every goal. Marking a completed criterion again changes nothing,
// unless an earlier attempt stopped after the briefing write; then the status
// recount and its audit entry are finished here.
func (s *Service) MarkCriterionCompleted(ctx context.Context, actor Actor, goalID, criterionID string) (CriterionResult, error) {
	binding, err := s.authorize(ctx, actor, rbac.ActionReport)
	if err != nil {
		return CriterionResult{}, err
	}
	status, err := s.loadStatus(ctx, binding.MissionID)
	if err != nil {
		return CriterionResult{}, err
	}
	if err := requireFieldActive(status); err != nil {
		return CriterionResult{}, err
	}
	briefing, err := s.loadBriefing(ctx, binding.MissionID)
	if err != nil {
		return CriterionResult{}, err
	}
	if briefing == nil {
		return CriterionResult{}, notFound("goal")
	}
	goal, ok := briefing.Goal(goalID)
	if !ok {
		return CriterionResult{}, notFound("goal")
	}
	criterion, ok := goal.Criterion(criterionID)
	if !ok {
		return CriterionResult{}, notFound("success criterion")
	}
	description := criterion.Description

	if criterion.Completed {
		done, err := s.logged(ctx, binding.MissionID, criterionID, mission.EntryCriterionComplete)
		if err != nil {
			return CriterionResult{}, err
		}
		if done {
			status.Refresh(*briefing)
			return criterionResult(status), nil
		}
		return s.recordCriterion(ctx, actor, binding.MissionID, goalID, criterionID, description)
	}

	now := s.now().UTC()
	criterion.Completed = true
	criterion.CompletedAt = &now
	criterion.CompletedBy = actor.UserID
	briefing.Touch(now, actor.UserID, actor.ConversationID)
	if err := s.repo.Save(ctx, store.SingletonKey(binding.MissionID, store.TypeBriefing), *briefing); err != nil {
		return CriterionResult{}, err
	}
	return s.recordCriterion(ctx, actor, binding.MissionID, goalID, criterionID, description)
}

// recordCriterion brings the status counters in line with the stored
// briefing, starting the mission if it was only ready, and logs the
// completed criterion.
func (s *Service) recordCriterion(ctx context.Context, actor Actor, missionID, goalID, criterionID, description string) (CriterionResult, error) {
	var started *mission.LogEntry
	status, err := s.updateStatus(ctx, actor, missionID, func(status *mission.Status) (bool, error) {
		if err := requireFieldActive(*status); err != nil {
			return false, err
		}
		briefing, err := s.loadBriefing(ctx, missionID)
		if err != nil {
			return false, err
		}
		if briefing == nil {
			return false, notFound("goal")
		}
		if started, err = s.start(ctx, actor, status); err != nil {
			return false, err
		}
		status.Recount(*briefing)
		status.Refresh(*briefing)
		return true, nil
	})
	if err != nil {
		return CriterionResult{}, err
	}

	var entries []mission.LogEntry
	if started != nil {
		entries = append(entries, *started)
	}
	entries = append(entries, s.entry(ctx, actor, mission.EntryCriterionComplete, "Success criterion completed: "+description, criterionID, map[string]string{
		"goal_id":  goalID,
		"progress": fmt.Sprint(status.ProgressPercentage),
	}))
	if err := s.finish(ctx, actor, missionID, entries...); err != nil {
		return CriterionResult{}, err
	}
	return criterionResult(status), nil
}

func criterionResult(status mission.Status) CriterionResult {
	return CriterionResult{Status: status, AllComplete: status.TotalCriteria > 0 && status.CompletedCriteria == status.TotalCriteria}
}

// start moves a mission that is ready for the field into progress and returns
// the audit entry for it, or nil when the mission was already running.
func (s *Service) start(ctx context.Context, actor Actor, status *mission.Status) (*mission.LogEntry, error) {
	if status.State != mission.StateReadyForField {
		return nil, nil
	}
	if err := status.Transition(mission.StateInProgress); err != nil {
		return nil, fail(ErrPreconditionNotMet, err.Error(), nil)
	}
	status.Stamp("in_progress", s.now(), actor.UserID)
	entry := s.entry(ctx, actor, mission.EntryMissionStarted, "Mission started in the field", "", nil)
	return &entry, nil
}

// MarkReadyForField hands a planned mission to the field. Calling it again
// while the mission is already ready changes nothing.
func (s *Service) MarkReadyForField(ctx context.Context, actor Actor) (mission.Status, error) {
	binding, err := s.authorize(ctx, actor, rbac.ActionLaunch)
	if err != nil {
		return mission.Status{}, err
	}
	status, err := s.loadStatus(ctx, binding.MissionID)
	if err != nil {
		return mission.Status{}, err
	}
	switch status.State {
	case mission.StateReadyForField:
		return status, nil
	case mission.StatePlanning:
	default:
		return mission.Status{}, fail(ErrPreconditionNotMet, fmt.Sprintf("mission is already %s", status.State), map[string]any{"state": status.State})
	}

	briefing, err := s.loadBriefing(ctx, binding.MissionID)
	if err != nil {
		return mission.Status{}, err
	}
	kb, err := s.loadKB(ctx, binding.MissionID)
	if err != nil {
		return mission.Status{}, err
	}
	if gaps := mission.ReadinessGaps(briefing, kb); len(gaps) > 0 {
		return mission.Status{}, fail(ErrPreconditionNotMet, "mission needs "+gaps[0], map[string]any{"missing": gaps})
	}

	now := s.now().UTC()
	status.Touch(now, actor.UserID, actor.ConversationID)
	if err := status.Transition(mission.StateReadyForField); err != nil {
		return mission.Status{}, fail(ErrPreconditionNotMet, err.Error(), nil)
	}
	status.Stamp("ready_for_field", now, actor.UserID)
	status.Refresh(*briefing)
	if err := s.repo.Save(ctx, store.SingletonKey(binding.MissionID, store.TypeStatus), status); err != nil {
		return mission.Status{}, err
	}
	if err := s.finish(ctx, actor, binding.MissionID,
		s.entry(ctx, actor, mission.EntryMissionReady, "Mission ready for field: "+briefing.MissionName, "", nil),
	); err != nil {
		return mission.Status{}, err
	}
	return status, nil
}

// ReportCompletion completes an in-progress mission once every success
// criterion is done.
func (s *Service) ReportCompletion(ctx context.Context, actor Actor, summary string) (mission.Status, error) {
	binding, err := s.authorize(ctx, actor, rbac.ActionReport)
	if err != nil {
		return mission.Status{}, err
	}
	status, err := s.loadStatus(ctx, binding.MissionID)
	if err != nil {
		return mission.Status{}, err
	}
	if status.State != mission.StateInProgress {
		return mission.Status{}, fail(ErrPreconditionNotMet, fmt.Sprintf("mission is %s, not in progress", status.State), map[string]any{"state": status.State})
	}
	briefing, err := s.loadBriefing(ctx, binding.MissionID)
	if err != nil {
		return mission.Status{}, err
	}
	completed, total := 0, 0
	if briefing != nil {
		completed, total = briefing.CriteriaCounts()
	}
	if total == 0 || completed < total {
		return mission.Status{}, fail(ErrCriteriaIncomplete, fmt.Sprintf("%d success criteria remaining", total-completed), map[string]any{
			"remaining": total - completed,
			"total":     total,
		})
	}

	now := s.now().UTC()
	status.Touch(now, actor.UserID, actor.ConversationID)
	if err := status.Transition(mission.StateCompleted); err != nil {
		return mission.Status{}, fail(ErrPreconditionNotMet, err.Error(), nil)
	}
	status.SetProgress(100)
	status.Stamp("completed", now, actor.UserID)
	status.Refresh(*briefing)
	if summary = strings.TrimSpace(summary); summary != "" {
		status.StatusMessage = summary
	}
	if err := s.repo.Save(ctx, store.SingletonKey(binding.MissionID, store.TypeStatus), status); err != nil {
		return mission.Status{}, err
	}
	message := "Mission completed"
	if summary != "" {
		message += ": " + summary
	}
	if err := s.finish(ctx, actor, binding.MissionID,
		s.entry(ctx, actor, mission.EntryMissionCompleted, message, "", nil),
	); err != nil {
		return mission.Status{}, err
	}
	return status, nil
}

func (s *Service) AbortMission(ctx context.Context, actor Actor, reason string) (mission.Status, error) {
	binding, err := s.authorize(ctx, actor, rbac.ActionLaunch)
	if err != nil {
		return mission.Status{}, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return mission.Status{}, invalid("abort reason is required")
	}
	status, err := s.loadStatus(ctx, binding.MissionID)
	if err != nil {
		return mission.Status{}, err
	}
	if err := requireActive(status); err != nil {
		return mission.Status{}, err
	}

	now := s.now().UTC()
	status.Touch(now, actor.UserID, actor.ConversationID)
	if err := status.Transition(mission.StateAborted); err != nil {
		return mission.Status{}, fail(ErrPreconditionNotMet, err.Error(), nil)
	}
	status.Stamp("aborted", now, actor.UserID)
	status.Lifecycle["aborted_reason"] = reason
	status.StatusMessage = reason
	if err := s.repo.Save(ctx, store.SingletonKey(binding.MissionID, store.TypeStatus), status); err != nil {
		return mission.Status{}, err
	}
	if err := s.finish(ctx, actor, binding.MissionID,
		s.entry(ctx, actor, mission.EntryMissionAborted, "Mission aborted: "+reason, "", nil),
	); err != nil {
		return mission.Status{}, err
	}
	return status, nil
}

func (s *Service) GetBriefing(ctx context.Context, actor Actor) (mission.Briefing, error) {
	binding, err := s.authorize(ctx, actor, rbac.ActionRead)
	if err != nil {
		return mission.Briefing{}, err
	}
	briefing, err := s.loadBriefing(ctx, binding.MissionID)
	if err != nil {
		return mission.Briefing{}, err
	}
	if briefing == nil {
		return mission.Briefing{}, notFound("briefing")
	}
	return *briefing, nil
}

// GetStatus returns the status with its goals snapshot refreshed from the
// briefing. The refresh is never written back.
func (s *Service) GetStatus(ctx context.Context, actor Actor) (mission.Status, error) {
	binding, err := s.authorize(ctx, actor, rbac.ActionRead)
	if err != nil {
		return mission.Status{}, err
	}
	status, err := s.loadStatus(ctx, binding.MissionID)
	if err != nil {
		return mission.Status{}, err
	}
	briefing, err := s.loadBriefing(ctx, binding.MissionID)
	if err != nil {
		return mission.Status{}, err
	}
	if briefing != nil {
		status.Refresh(*briefing)
	}
	return status, nil
}

func (s *Service) GetKnowledgeBase(ctx context.Context, actor Actor) ([]mission.KBSection, error) {
	binding, err := s.authorize(ctx, actor, rbac.ActionRead)
	if err != nil {
		return nil, err
	}
	kb, err := s.loadKB(ctx, binding.MissionID)
	if err != nil {
		return nil, err
	}
	if kb == nil {
		return []mission.KBSection{}, nil
	}
	return kb.Ordered(), nil
}

// requireFieldActive rejects field progress outside ready_for_field and
// in_progress.
func requireFieldActive(status mission.Status) error {
	if status.State.FieldActive() {
		return nil
	}
	return fail(ErrPreconditionNotMet, fmt.Sprintf("mission is %s", status.State), map[string]any{"state": status.State})
}

func joinCodeKey(missionID string) store.Key {
	return store.HQKey(missionID, "join-code", "permanent")
}

func cleanList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			out = append(out, value)
		}
	}
	return out
}
