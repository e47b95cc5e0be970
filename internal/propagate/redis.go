package propagate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Notice is the payload published for each delivery.
type Notice struct {
	ConversationID string    `json:"conversation_id"`
	Text           string    `json:"text"`
	SentAt         time.Time `json:"sent_at"`
}

// RedisNotifier publishes notices on conversation:{id}:notices. The gateway
// that owns the conversation subscribes and relays them.
type RedisNotifier struct {
	client *redis.Client
	prefix string
}

func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{client: client, prefix: "missionsync:"}
}

// Channel returns the pub/sub channel for a conversation.
func (n *RedisNotifier) Channel(conversationID string) string {
	return n.prefix + "conversation:" + conversationID + ":notices"
}

func (n *RedisNotifier) Notify(ctx context.Context, conversationID, text string) error {
	payload, err := json.Marshal(Notice{ConversationID: conversationID, Text: text, SentAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal notice: %w", err)
	}
	if err := n.client.Publish(ctx, n.Channel(conversationID), payload).Err(); err != nil {
		return fmt.Errorf("publish notice: %w", err)
	}
	return nil
}

// Subscribe returns the notices published for one conversation until ctx is
// done.
func (n *RedisNotifier) Subscribe(ctx context.Context, conversationID string) (<-chan Notice, error) {
	sub := n.client.Subscribe(ctx, n.Channel(conversationID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe notices: %w", err)
	}

	out := make(chan Notice)
	go func() {
		defer close(out)
		defer sub.Close()
		messages := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var notice Notice
				if err := json.Unmarshal([]byte(msg.Payload), &notice); err != nil {
					continue
				}
				select {
				case out <- notice:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
