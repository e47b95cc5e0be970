package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"missionsync/internal/config"
	"missionsync/internal/invite"
	"missionsync/internal/ledger"
	"missionsync/internal/mission"
	"missionsync/internal/propagate"
	"missionsync/internal/rbac"
	"missionsync/internal/registry"
	"missionsync/internal/search"
	"missionsync/internal/store"
	"missionsync/internal/util"
)

// Actor identifies who is calling and from which conversation. The mission
// and role are never taken from the caller; they come from the registry.
type Actor struct {
	UserID         string
	ConversationID string
}

type Deps struct {
	Repository *store.Repository
	Registry   registry.Registry
	Directory  Directory
	// Participants, when set, learns display names from authenticated calls.
	Participants ParticipantRecorder
	// Notifier delivers change notices; nil only logs them.
	Notifier propagate.Notifier
	// Ledger is optional. Without Search the service scans the store.
	Ledger *ledger.Service
	Search *search.Service
	Logger *log.Logger
}

type Service struct {
	cfg        config.Config
	repo       *store.Repository
	registry   registry.Registry
	directory  Directory
	recorder   ParticipantRecorder
	dispatcher *propagate.Dispatcher
	ledger     *ledger.Service
	search     *search.Service
	hasher     invite.Hasher
	logger     *log.Logger
	now        func() time.Time
}

func New(cfg config.Config, deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = log.Default()
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = propagate.LogNotifier{Logger: logger}
	}
	directory := deps.Directory
	if directory == nil {
		directory = StaticDirectory{}
	}
	if cfg.LogAppendRetries < 1 {
		cfg.LogAppendRetries = 1
	}
	searchService := deps.Search
	if searchService == nil {
		searchService = search.NewService(nil, search.NewScanner(missionSource{repo: deps.Repository}))
	}
	return &Service{
		cfg:        cfg,
		repo:       deps.Repository,
		registry:   deps.Registry,
		directory:  directory,
		recorder:   deps.Participants,
		dispatcher: propagate.NewDispatcher(deps.Registry, notifier, cfg.NotifyTimeout, logger),
		ledger:     deps.Ledger,
		search:     searchService,
		hasher:     invite.NewHasher(cfg.InviteHashCost),
		logger:     logger,
		now:        time.Now,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Backend().Ping(ctx)
}

// binding resolves the actor's conversation link.
func (s *Service) binding(ctx context.Context, actor Actor) (mission.Binding, error) {
	if strings.TrimSpace(actor.UserID) == "" || strings.TrimSpace(actor.ConversationID) == "" {
		return mission.Binding{}, invalid("actor user and conversation are required")
	}
	binding, err := s.registry.Lookup(ctx, actor.ConversationID)
	if errors.Is(err, registry.ErrUnbound) {
		return mission.Binding{}, ErrUnbound
	}
	if err != nil {
		return mission.Binding{}, err
	}
	return binding, nil
}

// authorize resolves the actor and checks that its role may perform action.
func (s *Service) authorize(ctx context.Context, actor Actor, action rbac.Action) (mission.Binding, error) {
	binding, err := s.binding(ctx, actor)
	if err != nil {
		return mission.Binding{}, err
	}
	if !rbac.Can(binding.Role, action) {
		return binding, fail(ErrRoleNotAuthorized, fmt.Sprintf("%s role cannot %s", binding.Role, action), map[string]any{
			"role":   binding.Role,
			"action": action,
		})
	}
	return binding, nil
}

func (s *Service) displayName(ctx context.Context, userID string) string {
	name, err := s.directory.DisplayName(ctx, userID)
	if err != nil || strings.TrimSpace(name) == "" {
		return userID
	}
	return name
}

func (s *Service) entry(ctx context.Context, actor Actor, entryType mission.EntryType, message, relatedID string, metadata map[string]string) mission.LogEntry {
	return mission.LogEntry{
		ID:              util.NewID("log"),
		Timestamp:       s.now().UTC(),
		EntryType:       entryType,
		Message:         message,
		UserID:          actor.UserID,
		UserName:        s.displayName(ctx, actor.UserID),
		RelatedEntityID: relatedID,
		Metadata:        metadata,
	}
}

// finish is the last step of every mutation: the entries are appended to the
// audit log and the other conversations are told to re-fetch. Only the log
// append can fail the operation.
func (s *Service) finish(ctx context.Context, actor Actor, missionID string, entries ...mission.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := s.appendLog(ctx, actor, missionID, entries...); err != nil {
		return err
	}
	s.publish(ctx, actor, missionID, entries[len(entries)-1].Message)
	return nil
}

// appendLog performs read, append, version bump, write on the mission log,
// retrying when another writer got there first.
func (s *Service) appendLog(ctx context.Context, actor Actor, missionID string, entries ...mission.LogEntry) error {
	key := store.SingletonKey(missionID, store.TypeLog)
	var lastErr error
	for attempt := 0; attempt < s.cfg.LogAppendRetries; attempt++ {
		current, err := store.Load[mission.Log](ctx, s.repo, key)
		switch {
		case errors.Is(err, store.ErrNotFound):
			current = mission.Log{Meta: mission.NewMeta(s.now().UTC(), actor.UserID, actor.ConversationID)}
		case err != nil:
			return fmt.Errorf("load mission log: %w", err)
		default:
			current.Touch(s.now().UTC(), actor.UserID, actor.ConversationID)
		}
		current.Entries = append(current.Entries, entries...)

		err = s.repo.Save(ctx, key, current)
		if errors.Is(err, store.ErrStale) {
			lastErr = err
			continue
		}
		if err != nil {
			return fmt.Errorf("append mission log: %w", err)
		}
		s.mirror(missionID, current.Entries)
		return nil
	}
	return fmt.Errorf("append mission log after %d attempts: %w", s.cfg.LogAppendRetries, lastErr)
}

// updateStatus re-reads the status record, applies change and saves it,
// retrying on a stale write. change runs against the fresh record on every
// attempt and reports whether it changed anything; nothing is written when it
// did not.
func (s *Service) updateStatus(ctx context.Context, actor Actor, missionID string, change func(*mission.Status) (bool, error)) (mission.Status, error) {
	key := store.SingletonKey(missionID, store.TypeStatus)
	var lastErr error
	for attempt := 0; attempt < s.cfg.LogAppendRetries; attempt++ {
		status, err := s.loadStatus(ctx, missionID)
		if err != nil {
			return mission.Status{}, err
		}
		changed, err := change(&status)
		if err != nil {
			return mission.Status{}, err
		}
		if !changed {
			return status, nil
		}
		status.Touch(s.now().UTC(), actor.UserID, actor.ConversationID)
		err = s.repo.Save(ctx, key, status)
		if errors.Is(err, store.ErrStale) {
			lastErr = err
			continue
		}
		if err != nil {
			return mission.Status{}, err
		}
		return status, nil
	}
	return mission.Status{}, fmt.Errorf("update mission status after %d attempts: %w", s.cfg.LogAppendRetries, lastErr)
}

// logged reports whether the mission log holds an entry of one of the given
// types about relatedID.
func (s *Service) logged(ctx context.Context, missionID, relatedID string, types ...mission.EntryType) (bool, error) {
	current, err := store.Load[mission.Log](ctx, s.repo, store.SingletonKey(missionID, store.TypeLog))
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load mission log: %w", err)
	}
	for _, entry := range current.Filter(types...) {
		if entry.RelatedEntityID == relatedID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Service) mirror(missionID string, entries []mission.LogEntry) {
	if s.ledger == nil {
		return
	}
	if _, err := s.ledger.Sync(missionID, entries); err != nil {
		s.logger.Printf("ledger: sync mission %s: %v", missionID, err)
	}
}

func (s *Service) publish(ctx context.Context, actor Actor, missionID, message string) {
	text := fmt.Sprintf("Mission %s changed: %s. Re-fetch shared mission state.", missionID, message)
	s.dispatcher.Broadcast(ctx, missionID, actor.ConversationID, text)
}

// loadStatus returns the status record, which exists for every mission.
func (s *Service) loadStatus(ctx context.Context, missionID string) (mission.Status, error) {
	status, err := store.Load[mission.Status](ctx, s.repo, store.SingletonKey(missionID, store.TypeStatus))
	if errors.Is(err, store.ErrNotFound) {
		return mission.Status{}, notFound("mission")
	}
	return status, err
}

// loadBriefing returns nil when no briefing was created yet.
func (s *Service) loadBriefing(ctx context.Context, missionID string) (*mission.Briefing, error) {
	briefing, err := store.Load[mission.Briefing](ctx, s.repo, store.SingletonKey(missionID, store.TypeBriefing))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &briefing, nil
}

// loadKB returns nil when no section was added yet.
func (s *Service) loadKB(ctx context.Context, missionID string) (*mission.KnowledgeBase, error) {
	kb, err := store.Load[mission.KnowledgeBase](ctx, s.repo, store.SingletonKey(missionID, store.TypeKB))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &kb, nil
}

func (s *Service) loadRequest(ctx context.Context, missionID, requestID string) (mission.FieldRequest, error) {
	request, err := store.Load[mission.FieldRequest](ctx, s.repo, store.SharedKey(missionID, store.TypeRequests, requestID))
	if errors.Is(err, store.ErrNotFound) {
		return mission.FieldRequest{}, notFound("field request")
	}
	return request, err
}

// requireActive rejects changes to a mission that reached a terminal state.
func requireActive(status mission.Status) error {
	if status.State.Terminal() {
		return fail(ErrPreconditionNotMet, fmt.Sprintf("mission is %s", status.State), map[string]any{"state": status.State})
	}
	return nil
}
