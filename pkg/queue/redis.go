// Package queue delivers requester notifications to world servers
// through Redis. Each requester has a list the in-game bridge drains
// and turns into chat messages.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vyvo/worldsmith/pkg/plan"
)

type Kind string

const (
	KindPlanReady  Kind = "plan_ready"
	KindPlanFailed Kind = "plan_failed"
	KindProgress   Kind = "progress"
	KindCompleted  Kind = "completed"
)

// Notification is one message for a requester.
type Notification struct {
	Requester string `json:"requester"`
	Kind      Kind   `json:"kind"`
	RequestID uint64 `json:"request_id,omitempty"`
	RecordID  uint64 `json:"record_id,omitempty"`
	Commands  int    `json:"commands,omitempty"`
	Cost      int64  `json:"cost,omitempty"`
	Done      int    `json:"done,omitempty"`
	Total     int    `json:"total,omitempty"`
	Reason    string `json:"reason,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

// Queue pushes notifications onto per-requester Redis lists.
type Queue struct {
	redis *redis.Client
}

func NewQueue(redisURL string) (*Queue, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Queue{redis: client}, nil
}

// NewQueueWithClient wraps an existing Redis client.
func NewQueueWithClient(client *redis.Client) *Queue {
	return &Queue{redis: client}
}

func listKey(requester string) string {
	return fmt.Sprintf("worldsmith:notify:%s", requester)
}

// Push appends a notification and refreshes the list's TTL so stale
// mailboxes do not pile up for requesters who never come back.
func (q *Queue) Push(ctx context.Context, n Notification) error {
	n.CreatedAt = time.Now().Unix()
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}

	key := listKey(n.Requester)
	if err := q.redis.RPush(ctx, key, data).Err(); err != nil {
		return err
	}
	return q.redis.Expire(ctx, key, 24*time.Hour).Err()
}

// Pop blocks for up to timeout waiting for the requester's next
// notification. A nil result means the wait timed out.
func (q *Queue) Pop(ctx context.Context, requester string, timeout time.Duration) (*Notification, error) {
	result, err := q.redis.BLPop(ctx, timeout, listKey(requester)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var n Notification
	if err := json.Unmarshal([]byte(result[1]), &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// Len reports how many notifications are waiting for a requester.
func (q *Queue) Len(ctx context.Context, requester string) (int64, error) {
	return q.redis.LLen(ctx, listKey(requester)).Result()
}

func (q *Queue) Close() error {
	return q.redis.Close()
}

// Notifier adapts the queue to the orchestrator's notifier interface.
// Pushes are fire-and-forget; a failed push only costs the requester a
// chat message, never the build.
type Notifier struct {
	queue *Queue
}

func NewNotifier(queue *Queue) *Notifier {
	return &Notifier{queue: queue}
}

func (n *Notifier) push(notification Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := n.queue.Push(ctx, notification); err != nil {
		log.Printf("queue: push %s for %s: %v", notification.Kind, notification.Requester, err)
	}
}

func (n *Notifier) PlanReady(requester string, requestID uint64, blueprint plan.Blueprint) {
	n.push(Notification{
		Requester: requester,
		Kind:      KindPlanReady,
		RequestID: requestID,
		Commands:  len(blueprint.Commands),
		Cost:      blueprint.Cost,
	})
}

func (n *Notifier) PlanFailed(requester string, reason string) {
	n.push(Notification{Requester: requester, Kind: KindPlanFailed, Reason: reason})
}

func (n *Notifier) BuildProgress(requester string, recordID uint64, done, total int) {
	n.push(Notification{
		Requester: requester,
		Kind:      KindProgress,
		RecordID:  recordID,
		Done:      done,
		Total:     total,
	})
}

func (n *Notifier) BuildCompleted(requester string, recordID uint64) {
	n.push(Notification{Requester: requester, Kind: KindCompleted, RecordID: recordID})
}
