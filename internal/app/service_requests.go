package app

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"missionsync/internal/mission"
	"missionsync/internal/rbac"
	"missionsync/internal/store"
	"missionsync/internal/util"
)

type FieldRequestInput struct {
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Priority       string   `json:"priority"`
	RelatedGoalIDs []string `json:"relatedGoalIds"`
}

// CreateFieldRequest raises a request from the field. High and critical
// requests become active blockers on the mission status.
func (s *Service) CreateFieldRequest(ctx context.Context, actor Actor, input FieldRequestInput) (mission.FieldRequest, error) {
	binding, err := s.authorize(ctx, actor, rbac.ActionRequest)
	if err != nil {
		return mission.FieldRequest{}, err
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return mission.FieldRequest{}, invalid("request title is required")
	}
	priority, err := mission.ParsePriority(input.Priority)
	if err != nil {
		return mission.FieldRequest{}, invalid(err.Error())
	}
	status, err := s.loadStatus(ctx, binding.MissionID)
	if err != nil {
		return mission.FieldRequest{}, err
	}
	if err := requireActive(status); err != nil {
		return mission.FieldRequest{}, err
	}

	now := s.now().UTC()
	request := mission.FieldRequest{
		Meta:           mission.NewMeta(now, actor.UserID, actor.ConversationID),
		ID:             util.NewID("req"),
		Title:          title,
		Description:    strings.TrimSpace(input.Description),
		Priority:       priority,
		Status:         mission.RequestNew,
		RelatedGoalIDs: cleanList(input.RelatedGoalIDs),
		Updates:        []mission.RequestUpdate{},
	}
	if err := s.repo.Save(ctx, store.SharedKey(binding.MissionID, store.TypeRequests, request.ID), request); err != nil {
		return mission.FieldRequest{}, err
	}

	if priority.Blocking() {
		if _, err := s.updateStatus(ctx, actor, binding.MissionID, func(status *mission.Status) (bool, error) {
			before := len(status.ActiveBlockers)
			status.AddBlocker(request.ID)
			return len(status.ActiveBlockers) != before, nil
		}); err != nil {
			return mission.FieldRequest{}, err
		}
	}

	if err := s.finish(ctx, actor, binding.MissionID,
		s.entry(ctx, actor, mission.EntryRequestCreated, fmt.Sprintf("Field request (%s): %s", priority, title), request.ID, map[string]string{
			"priority": string(priority),
			"blocking": fmt.Sprint(priority.Blocking()),
		}),
	); err != nil {
		return mission.FieldRequest{}, err
	}
	s.indexRequest(binding.MissionID, request)
	return request, nil
}

// UpdateFieldRequest moves a request along its lifecycle or, with an empty
// status, adds a progress note. HQ acknowledges, starts and defers; a field
// party may cancel only the requests it raised. Resolution goes through
// ResolveFieldRequest.
func (s *Service) UpdateFieldRequest(ctx context.Context, actor Actor, requestID, status, message string) (mission.FieldRequest, error) {
	binding, err := s.binding(ctx, actor)
	if err != nil {
		return mission.FieldRequest{}, err
	}
	message = strings.TrimSpace(message)

	var target mission.RequestStatus
	if strings.TrimSpace(status) != "" {
		target, err = mission.ParseRequestStatus(status)
		if err != nil {
			return mission.FieldRequest{}, invalid(err.Error())
		}
	}
	if err := allowRequestUpdate(binding.Role, target); err != nil {
		return mission.FieldRequest{}, err
	}
	if target == "" && message == "" {
		return mission.FieldRequest{}, invalid("a status or a message is required")
	}

	request, err := s.loadRequest(ctx, binding.MissionID, requestID)
	if err != nil {
		return mission.FieldRequest{}, err
	}
	if target == mission.RequestCancelled && request.CreatedBy != actor.UserID {
		return mission.FieldRequest{}, fail(ErrRoleNotAuthorized, "only the party that raised a request can cancel it", map[string]any{"createdBy": request.CreatedBy})
	}
	now := s.now().UTC()
	request.Touch(now, actor.UserID, actor.ConversationID)
	if target == "" {
		if request.Status.Terminal() {
			return mission.FieldRequest{}, fail(ErrPreconditionNotMet, fmt.Sprintf("request is %s", request.Status), nil)
		}
		request.Note(now, actor.UserID, message)
	} else if err := request.Move(target, now, actor.UserID, message); err != nil {
		return mission.FieldRequest{}, fail(ErrPreconditionNotMet, err.Error(), map[string]any{"status": request.Status})
	}
	if err := s.repo.Save(ctx, store.SharedKey(binding.MissionID, store.TypeRequests, request.ID), request); err != nil {
		return mission.FieldRequest{}, err
	}
	if target == mission.RequestCancelled {
		if err := s.clearBlocker(ctx, actor, binding.MissionID, request.ID); err != nil {
			return mission.FieldRequest{}, err
		}
	}

	summary := "Field request note: " + request.Title
	metadata := map[string]string{}
	if target != "" {
		summary = fmt.Sprintf("Field request %s: %s", target, request.Title)
		metadata["status"] = string(target)
	}
	if err := s.finish(ctx, actor, binding.MissionID,
		s.entry(ctx, actor, mission.EntryRequestUpdated, summary, request.ID, metadata),
	); err != nil {
		return mission.FieldRequest{}, err
	}
	s.indexRequest(binding.MissionID, request)
	return request, nil
}

// allowRequestUpdate is the per-role table of request moves.
func allowRequestUpdate(role rbac.Role, target mission.RequestStatus) error {
	if target == mission.RequestResolved {
		return invalid("use resolve to resolve a request")
	}
	var allowed bool
	switch role {
	case rbac.RoleHQ:
		switch target {
		case "", mission.RequestAcknowledged, mission.RequestInProgress, mission.RequestDeferred:
			allowed = true
		}
	case rbac.RoleField:
		switch target {
		case "", mission.RequestCancelled:
			allowed = true
		}
	}
	if !allowed {
		return fail(ErrRoleNotAuthorized, fmt.Sprintf("%s role cannot move a request to %s", role, target), nil)
	}
	return nil
}

// ResolveFieldRequest resolves a request and lifts it from the blockers.
// Resolving twice returns the request together with ErrAlreadyResolved, unless
// the first attempt stopped before its blocker was lifted or its entry logged;
// then the second call finishes that work instead.
func (s *Service) ResolveFieldRequest(ctx context.Context, actor Actor, requestID, resolution string) (mission.FieldRequest, error) {
	binding, err := s.authorize(ctx, actor, rbac.ActionTriage)
	if err != nil {
		return mission.FieldRequest{}, err
	}
	resolution = strings.TrimSpace(resolution)
	if resolution == "" {
		return mission.FieldRequest{}, invalid("resolution is required")
	}
	request, err := s.loadRequest(ctx, binding.MissionID, requestID)
	if err != nil {
		return mission.FieldRequest{}, err
	}
	switch request.Status {
	case mission.RequestResolved:
		return s.finishResolution(ctx, actor, binding.MissionID, request)
	case mission.RequestCancelled:
		return mission.FieldRequest{}, fail(ErrPreconditionNotMet, "request was cancelled", map[string]any{"status": request.Status})
	}

	now := s.now().UTC()
	request.Touch(now, actor.UserID, actor.ConversationID)
	if err := request.Resolve(now, actor.UserID, resolution); err != nil {
		return mission.FieldRequest{}, fail(ErrPreconditionNotMet, err.Error(), nil)
	}
	if err := s.repo.Save(ctx, store.SharedKey(binding.MissionID, store.TypeRequests, request.ID), request); err != nil {
		return mission.FieldRequest{}, err
	}
	if err := s.clearBlocker(ctx, actor, binding.MissionID, request.ID); err != nil {
		return mission.FieldRequest{}, err
	}
	if err := s.finish(ctx, actor, binding.MissionID,
		s.entry(ctx, actor, mission.EntryRequestResolved, "Field request resolved: "+request.Title, request.ID, map[string]string{"resolution": resolution}),
	); err != nil {
		return mission.FieldRequest{}, err
	}
	s.indexRequest(binding.MissionID, request)
	return request, nil
}

// finishResolution handles a resolve of an already resolved request.
func (s *Service) finishResolution(ctx context.Context, actor Actor, missionID string, request mission.FieldRequest) (mission.FieldRequest, error) {
	if err := s.clearBlocker(ctx, actor, missionID, request.ID); err != nil {
		return mission.FieldRequest{}, err
	}
	done, err := s.logged(ctx, missionID, request.ID, mission.EntryRequestResolved)
	if err != nil {
		return mission.FieldRequest{}, err
	}
	if done {
		return request, ErrAlreadyResolved
	}
	if err := s.finish(ctx, actor, missionID,
		s.entry(ctx, actor, mission.EntryRequestResolved, "Field request resolved: "+request.Title, request.ID, map[string]string{"resolution": request.Resolution}),
	); err != nil {
		return mission.FieldRequest{}, err
	}
	s.indexRequest(missionID, request)
	return request, nil
}

// clearBlocker removes requestID from the active blockers if present.
func (s *Service) clearBlocker(ctx context.Context, actor Actor, missionID, requestID string) error {
	_, err := s.updateStatus(ctx, actor, missionID, func(status *mission.Status) (bool, error) {
		return status.RemoveBlocker(requestID), nil
	})
	return err
}

// ListFieldRequests returns the mission's requests, oldest first, optionally
// limited to one status.
func (s *Service) ListFieldRequests(ctx context.Context, actor Actor, status string) ([]mission.FieldRequest, error) {
	binding, err := s.authorize(ctx, actor, rbac.ActionRead)
	if err != nil {
		return nil, err
	}
	var want mission.RequestStatus
	if strings.TrimSpace(status) != "" {
		if want, err = mission.ParseRequestStatus(status); err != nil {
			return nil, invalid(err.Error())
		}
	}
	items, err := store.List[mission.FieldRequest](ctx, s.repo, binding.MissionID, store.ScopeShared, store.TypeRequests)
	if err != nil {
		return nil, err
	}
	filtered := make([]mission.FieldRequest, 0, len(items))
	for _, item := range items {
		if want == "" || item.Status == want {
			filtered = append(filtered, item)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].CreatedAt.Before(filtered[j].CreatedAt)
	})
	return filtered, nil
}

// GetFieldRequest returns one request of the actor's mission.
func (s *Service) GetFieldRequest(ctx context.Context, actor Actor, requestID string) (mission.FieldRequest, error) {
	binding, err := s.authorize(ctx, actor, rbac.ActionRead)
	if err != nil {
		return mission.FieldRequest{}, err
	}
	return s.loadRequest(ctx, binding.MissionID, requestID)
}
