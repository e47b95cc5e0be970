package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"missionsync/internal/invite"
	"missionsync/internal/mission"
	"missionsync/internal/rbac"
	"missionsync/internal/registry"
	"missionsync/internal/store"
	"missionsync/internal/util"
)

type InvitationInput struct {
	TargetUsername string        `json:"targetUsername"`
	TTL            time.Duration `json:"ttl"`
}

// IssuedInvitation carries the only copy of the plaintext code.
type IssuedInvitation struct {
	Invitation InvitationView `json:"invitation"`
	Code       string         `json:"code"`
}

// InvitationView is an invitation without its token hash.
type InvitationView struct {
	ID             string                   `json:"invitationId"`
	MissionID      string                   `json:"missionId"`
	CreatorID      string                   `json:"creatorId"`
	TargetUsername string                   `json:"targetUsername,omitempty"`
	Expires        time.Time                `json:"expires"`
	Permanent      bool                     `json:"permanent"`
	Status         mission.InvitationStatus `json:"status"`
	AcceptedBy     string                   `json:"acceptedBy,omitempty"`
	AcceptedAt     *time.Time               `json:"acceptedAt,omitempty"`
	Redemptions    int                      `json:"redemptions"`
	CreatedAt      time.Time                `json:"createdAt"`
}

func viewInvitation(inv mission.Invitation, now time.Time) InvitationView {
	return InvitationView{
		ID:             inv.ID,
		MissionID:      inv.MissionID,
		CreatorID:      inv.CreatorID,
		TargetUsername: inv.TargetUsername,
		Expires:        inv.Expires,
		Permanent:      inv.Permanent,
		Status:         inv.EffectiveStatus(now),
		AcceptedBy:     inv.AcceptedBy,
		AcceptedAt:     inv.AcceptedAt,
		Redemptions:    inv.Redemptions,
		CreatedAt:      inv.CreatedAt,
	}
}

// invitationRef is the index record that maps an invitation id to its mission.
type invitationRef struct {
	mission.Meta
	MissionID string `json:"mission_id"`
}

// CreateInvitation issues a single-use invitation. A zero TTL uses the
// configured default.
func (s *Service) CreateInvitation(ctx context.Context, actor Actor, input InvitationInput) (IssuedInvitation, error) {
	binding, err := s.authorize(ctx, actor, rbac.ActionInvite)
	if err != nil {
		return IssuedInvitation{}, err
	}
	if input.TTL < 0 {
		return IssuedInvitation{}, invalid("ttl must be positive")
	}
	status, err := s.loadStatus(ctx, binding.MissionID)
	if err != nil {
		return IssuedInvitation{}, err
	}
	if err := requireActive(status); err != nil {
		return IssuedInvitation{}, err
	}
	ttl := input.TTL
	if ttl == 0 {
		ttl = s.cfg.InviteTTL
	}
	target := strings.TrimSpace(input.TargetUsername)

	issued, err := s.issueInvitation(ctx, actor, binding.MissionID, target, ttl, false)
	if err != nil {
		return IssuedInvitation{}, err
	}
	metadata := map[string]string{"expires": issued.Invitation.Expires.Format(time.RFC3339)}
	message := "Invitation created"
	if target != "" {
		metadata["target_username"] = target
		message = "Invitation created for " + target
	}
	if err := s.finish(ctx, actor, binding.MissionID,
		s.entry(ctx, actor, mission.EntryInvitationCreated, message, issued.Invitation.ID, metadata),
	); err != nil {
		return IssuedInvitation{}, err
	}
	return issued, nil
}

func (s *Service) issueInvitation(ctx context.Context, actor Actor, missionID, target string, ttl time.Duration, permanent bool) (IssuedInvitation, error) {
	token, hash, err := s.hasher.Issue()
	if err != nil {
		return IssuedInvitation{}, err
	}
	now := s.now().UTC()
	inv := mission.Invitation{
		Meta:           mission.NewMeta(now, actor.UserID, actor.ConversationID),
		ID:             util.NewID("inv"),
		MissionID:      missionID,
		CreatorID:      actor.UserID,
		TokenHash:      hash,
		TargetUsername: target,
		Expires:        now.Add(ttl),
		Permanent:      permanent,
		Status:         mission.InvitationPending,
	}
	ref := invitationRef{Meta: mission.NewMeta(now, actor.UserID, actor.ConversationID), MissionID: missionID}
	if err := s.repo.Save(ctx, store.InvitationIndexKey(inv.ID), ref); err != nil {
		return IssuedInvitation{}, err
	}
	if err := s.repo.Save(ctx, store.InvitationKey(missionID, inv.ID), inv); err != nil {
		return IssuedInvitation{}, err
	}
	return IssuedInvitation{Invitation: viewInvitation(inv, now), Code: invite.FormatCode(inv.ID, token)}, nil
}

// RedeemInvitation binds the caller's conversation to the invitation's
// mission as a field party. The checks run in a fixed order and the first
// failure wins.
func (s *Service) RedeemInvitation(ctx context.Context, actor Actor, code string) (mission.Binding, error) {
	if strings.TrimSpace(actor.UserID) == "" || strings.TrimSpace(actor.ConversationID) == "" {
		return mission.Binding{}, invalid("actor user and conversation are required")
	}
	invitationID, token, err := invite.ParseCode(code)
	if err != nil {
		return mission.Binding{}, fail(ErrInvalidToken, "invitation code is malformed", nil)
	}

	inv, err := s.findInvitation(ctx, invitationID)
	if err != nil {
		return mission.Binding{}, err
	}
	if err := s.hasher.Verify(inv.TokenHash, token); err != nil {
		if errors.Is(err, invite.ErrTokenMismatch) {
			return mission.Binding{}, ErrInvalidToken
		}
		return mission.Binding{}, err
	}

	now := s.now().UTC()
	if inv.Status == mission.InvitationRevoked || inv.Status == mission.InvitationExpired || inv.Expired(now) {
		return mission.Binding{}, fail(ErrExpired, "invitation expired", map[string]any{"expires": inv.Expires})
	}
	if !inv.Permanent && inv.Status == mission.InvitationAccepted {
		if inv.AcceptedBy == actor.ConversationID {
			binding, err := s.bindField(ctx, actor, inv)
			if err != nil {
				return mission.Binding{}, err
			}
			return s.announce(ctx, actor, inv, binding, s.displayName(ctx, actor.UserID))
		}
		return mission.Binding{}, ErrAlreadyAccepted
	}
	displayName := s.displayName(ctx, actor.UserID)
	if inv.TargetUsername != "" && !strings.EqualFold(strings.TrimSpace(displayName), inv.TargetUsername) {
		return mission.Binding{}, ErrUsernameMismatch
	}

	existing, err := s.registry.Lookup(ctx, actor.ConversationID)
	switch {
	case err == nil && existing.MissionID == inv.MissionID && existing.Role == rbac.RoleField:
		return s.announce(ctx, actor, inv, existing, displayName)
	case err == nil && existing.MissionID == inv.MissionID:
		return existing, nil
	case err == nil:
		return mission.Binding{}, fail(ErrConversationAlreadyBound, "conversation already bound to another mission", map[string]any{"missionId": existing.MissionID})
	case !errors.Is(err, registry.ErrUnbound):
		return mission.Binding{}, err
	}

	status, err := s.loadStatus(ctx, inv.MissionID)
	if err != nil {
		return mission.Binding{}, err
	}
	if err := requireActive(status); err != nil {
		return mission.Binding{}, err
	}

	// A single-use invitation is consumed before the bind so that two
	// concurrent redemptions cannot both succeed.
	if err := s.consumeInvitation(ctx, actor, inv, now); err != nil {
		return mission.Binding{}, err
	}
	binding, err := s.bindField(ctx, actor, inv)
	if err != nil {
		s.releaseInvitation(ctx, actor, inv)
		return mission.Binding{}, err
	}
	return s.announce(ctx, actor, inv, binding, displayName)
}

func (s *Service) bindField(ctx context.Context, actor Actor, inv mission.Invitation) (mission.Binding, error) {
	binding, err := s.registry.Bind(ctx, actor.ConversationID, inv.MissionID, rbac.RoleField)
	switch {
	case errors.Is(err, registry.ErrAlreadyBound):
		return mission.Binding{}, fail(ErrConversationAlreadyBound, "conversation already bound to another mission", map[string]any{"missionId": binding.MissionID})
	case err != nil:
		return mission.Binding{}, fmt.Errorf("bind conversation: %w", err)
	}
	return binding, nil
}

// announce logs the arrival of a field party unless the conversation's join
// is already on record. A redemption that stopped after its bind is completed
// by redeeming again from the same conversation.
func (s *Service) announce(ctx context.Context, actor Actor, inv mission.Invitation, binding mission.Binding, displayName string) (mission.Binding, error) {
	joined, err := s.logged(ctx, inv.MissionID, actor.ConversationID, mission.EntryParticipantJoined, mission.EntryConversationBound)
	if err != nil {
		return mission.Binding{}, err
	}
	if joined {
		return binding, nil
	}
	if err := s.finish(ctx, actor, inv.MissionID,
		s.entry(ctx, actor, mission.EntryParticipantJoined, displayName+" joined the mission", actor.ConversationID, map[string]string{
			"invitation_id": inv.ID,
			"permanent":     fmt.Sprint(inv.Permanent),
			"role":          rbac.RoleField.String(),
		}),
	); err != nil {
		return mission.Binding{}, err
	}
	return binding, nil
}

// releaseInvitation undoes consumeInvitation after the bind failed, so the
// invitation is not spent on a conversation that never joined.
func (s *Service) releaseInvitation(ctx context.Context, actor Actor, inv mission.Invitation) {
	key := store.InvitationKey(inv.MissionID, inv.ID)
	for attempt := 0; attempt < s.cfg.LogAppendRetries; attempt++ {
		current, err := store.Load[mission.Invitation](ctx, s.repo, key)
		if err != nil {
			s.logger.Printf("invite: release %s: %v", inv.ID, err)
			return
		}
		switch {
		case current.Permanent && current.Redemptions > 0:
			current.Redemptions--
		case !current.Permanent && current.Status == mission.InvitationAccepted && current.AcceptedBy == actor.ConversationID:
			current.Status = mission.InvitationPending
			current.AcceptedBy = ""
			current.AcceptedAt = nil
		default:
			return
		}
		current.Touch(s.now().UTC(), actor.UserID, actor.ConversationID)
		err = s.repo.Save(ctx, key, current)
		if err == nil {
			return
		}
		if !errors.Is(err, store.ErrStale) {
			s.logger.Printf("invite: release %s: %v", inv.ID, err)
			return
		}
	}
	s.logger.Printf("invite: release %s not saved after %d attempts", inv.ID, s.cfg.LogAppendRetries)
}

func (s *Service) findInvitation(ctx context.Context, invitationID string) (mission.Invitation, error) {
	ref, err := store.Load[invitationRef](ctx, s.repo, store.InvitationIndexKey(invitationID))
	if errors.Is(err, store.ErrNotFound) {
		return mission.Invitation{}, notFound("invitation")
	}
	if err != nil {
		return mission.Invitation{}, err
	}
	inv, err := store.Load[mission.Invitation](ctx, s.repo, store.InvitationKey(ref.MissionID, invitationID))
	if errors.Is(err, store.ErrNotFound) {
		return mission.Invitation{}, notFound("invitation")
	}
	return inv, err
}

// consumeInvitation marks a single-use invitation accepted, or counts one
// more redemption of a permanent one. Counting retries on a stale write.
func (s *Service) consumeInvitation(ctx context.Context, actor Actor, inv mission.Invitation, now time.Time) error {
	key := store.InvitationKey(inv.MissionID, inv.ID)
	if !inv.Permanent {
		inv.Touch(now, actor.UserID, actor.ConversationID)
		inv.Status = mission.InvitationAccepted
		inv.AcceptedBy = actor.ConversationID
		inv.AcceptedAt = &now
		err := s.repo.Save(ctx, key, inv)
		if errors.Is(err, store.ErrStale) {
			return ErrAlreadyAccepted
		}
		return err
	}

	for attempt := 0; attempt < s.cfg.LogAppendRetries; attempt++ {
		inv.Touch(now, actor.UserID, actor.ConversationID)
		inv.Redemptions++
		err := s.repo.Save(ctx, key, inv)
		if !errors.Is(err, store.ErrStale) {
			return err
		}
		if inv, err = store.Load[mission.Invitation](ctx, s.repo, key); err != nil {
			return err
		}
	}
	s.logger.Printf("invite: redemption count of %s not updated after %d attempts", inv.ID, s.cfg.LogAppendRetries)
	return nil
}

func (s *Service) RevokeInvitation(ctx context.Context, actor Actor, invitationID string) (InvitationView, error) {
	binding, err := s.authorize(ctx, actor, rbac.ActionInvite)
	if err != nil {
		return InvitationView{}, err
	}
	key := store.InvitationKey(binding.MissionID, invitationID)
	inv, err := store.Load[mission.Invitation](ctx, s.repo, key)
	if errors.Is(err, store.ErrNotFound) {
		return InvitationView{}, notFound("invitation")
	}
	if err != nil {
		return InvitationView{}, err
	}
	now := s.now().UTC()
	switch {
	case inv.Permanent:
		return InvitationView{}, fail(ErrPreconditionNotMet, "the permanent join code cannot be revoked", nil)
	case inv.Status == mission.InvitationRevoked:
		return viewInvitation(inv, now), nil
	case inv.Status == mission.InvitationAccepted:
		return InvitationView{}, fail(ErrPreconditionNotMet, "invitation was already accepted", nil)
	}

	inv.Touch(now, actor.UserID, actor.ConversationID)
	inv.Status = mission.InvitationRevoked
	if err := s.repo.Save(ctx, key, inv); err != nil {
		return InvitationView{}, err
	}
	if err := s.finish(ctx, actor, binding.MissionID,
		s.entry(ctx, actor, mission.EntryInvitationRevoked, "Invitation revoked", inv.ID, nil),
	); err != nil {
		return InvitationView{}, err
	}
	return viewInvitation(inv, now), nil
}

// ListInvitations returns every invitation of the mission, newest first.
func (s *Service) ListInvitations(ctx context.Context, actor Actor) ([]InvitationView, error) {
	binding, err := s.authorize(ctx, actor, rbac.ActionInvite)
	if err != nil {
		return nil, err
	}
	invitations, err := store.List[mission.Invitation](ctx, s.repo, binding.MissionID, store.ScopeInvitations, "")
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	items := make([]InvitationView, 0, len(invitations))
	for _, inv := range invitations {
		items = append(items, viewInvitation(inv, now))
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	return items, nil
}

// GetJoinCode returns the mission's permanent invitation code.
func (s *Service) GetJoinCode(ctx context.Context, actor Actor) (string, error) {
	binding, err := s.authorize(ctx, actor, rbac.ActionInvite)
	if err != nil {
		return "", err
	}
	joinCode, err := store.Load[mission.JoinCode](ctx, s.repo, joinCodeKey(binding.MissionID))
	if errors.Is(err, store.ErrNotFound) {
		return "", notFound("join code")
	}
	if err != nil {
		return "", err
	}
	return joinCode.Code, nil
}
