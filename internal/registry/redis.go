package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"missionsync/internal/mission"
	"missionsync/internal/rbac"
)

// RedisRegistry keeps links as conversation:{id} keys written with SETNX, so
// the first bind wins across processes, plus a per-mission member set.
type RedisRegistry struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisRegistry connects to redisURL and verifies the connection.
func NewRedisRegistry(redisURL string) (*RedisRegistry, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisRegistryWithClient(client), nil
}

func NewRedisRegistryWithClient(client *redis.Client) *RedisRegistry {
	return &RedisRegistry{client: client, prefix: "missionsync:", now: time.Now}
}

func (r *RedisRegistry) conversationKey(conversationID string) string {
	return r.prefix + "conversation:" + conversationID
}

func (r *RedisRegistry) membersKey(missionID string) string {
	return r.prefix + "mission:" + missionID + ":conversations"
}

func (r *RedisRegistry) Bind(ctx context.Context, conversationID, missionID string, role rbac.Role) (mission.Binding, error) {
	if !role.Valid() {
		return mission.Binding{}, fmt.Errorf("bind %s: invalid role", conversationID)
	}
	binding := mission.Binding{
		ConversationID: conversationID,
		MissionID:      missionID,
		Role:           role,
		BoundAt:        r.now().UTC(),
	}
	payload, err := json.Marshal(binding)
	if err != nil {
		return mission.Binding{}, fmt.Errorf("marshal binding: %w", err)
	}

	created, err := r.client.SetNX(ctx, r.conversationKey(conversationID), payload, 0).Result()
	if err != nil {
		return mission.Binding{}, fmt.Errorf("bind conversation: %w", err)
	}
	if !created {
		existing, err := r.Lookup(ctx, conversationID)
		if err != nil {
			return mission.Binding{}, err
		}
		if err := sameLink(existing, missionID, role); err != nil {
			return existing, err
		}
		binding = existing
	}

	// Repeated on rebind so the member set converges after a partial write.
	if err := r.client.SAdd(ctx, r.membersKey(missionID), conversationID).Err(); err != nil {
		return mission.Binding{}, fmt.Errorf("add mission member: %w", err)
	}
	return binding, nil
}

func (r *RedisRegistry) Lookup(ctx context.Context, conversationID string) (mission.Binding, error) {
	raw, err := r.client.Get(ctx, r.conversationKey(conversationID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return mission.Binding{}, ErrUnbound
	}
	if err != nil {
		return mission.Binding{}, fmt.Errorf("lookup conversation: %w", err)
	}
	var binding mission.Binding
	if err := json.Unmarshal(raw, &binding); err != nil {
		return mission.Binding{}, fmt.Errorf("decode binding: %w", err)
	}
	return binding, nil
}

func (r *RedisRegistry) Members(ctx context.Context, missionID string) ([]mission.Binding, error) {
	ids, err := r.client.SMembers(ctx, r.membersKey(missionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list mission members: %w", err)
	}
	sort.Strings(ids)

	items := make([]mission.Binding, 0, len(ids))
	for _, id := range ids {
		binding, err := r.Lookup(ctx, id)
		if errors.Is(err, ErrUnbound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if binding.MissionID == missionID {
			items = append(items, binding)
		}
	}
	return items, nil
}

func (r *RedisRegistry) Close() error {
	return r.client.Close()
}

func (r *RedisRegistry) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Client exposes the connection so change notices can share it.
func (r *RedisRegistry) Client() *redis.Client {
	return r.client
}
