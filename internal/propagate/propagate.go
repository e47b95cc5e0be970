// Package propagate tells the other conversations of a mission that shared
// state changed and should be fetched again.
package propagate

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"missionsync/internal/mission"
)

// Notifier delivers a notice into one conversation.
type Notifier interface {
	Notify(ctx context.Context, conversationID, text string) error
}

type NotifierFunc func(ctx context.Context, conversationID, text string) error

func (f NotifierFunc) Notify(ctx context.Context, conversationID, text string) error {
	return f(ctx, conversationID, text)
}

// MemberLister is the slice of the conversation registry the dispatcher needs.
type MemberLister interface {
	Members(ctx context.Context, missionID string) ([]mission.Binding, error)
}

// Result summarises one broadcast. Failures never undo the change being
// announced.
type Result struct {
	Delivered int
	Failed    map[string]error
}

type Dispatcher struct {
	members  MemberLister
	notifier Notifier
	timeout  time.Duration
	logger   *log.Logger
}

// NewDispatcher returns a Dispatcher that gives each delivery at most timeout.
// A nil logger uses log.Default().
func NewDispatcher(members MemberLister, notifier Notifier, timeout time.Duration, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.Default()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{members: members, notifier: notifier, timeout: timeout, logger: logger}
}

// Broadcast sends text to every conversation bound to missionID except
// originConversationID. Each delivery runs on its own goroutine so a slow
// conversation does not hold up the rest; failures are logged and returned in
// the Result, never as an error.
func (d *Dispatcher) Broadcast(ctx context.Context, missionID, originConversationID, text string) Result {
	result := Result{Failed: map[string]error{}}
	members, err := d.members.Members(ctx, missionID)
	if err != nil {
		d.logger.Printf("propagate: list members of %s: %v", missionID, err)
		result.Failed["*"] = err
		return result
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, member := range members {
		if member.ConversationID == originConversationID {
			continue
		}
		wg.Add(1)
		go func(conversationID string) {
			defer wg.Done()
			err := d.deliver(ctx, conversationID, text)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed[conversationID] = err
				return
			}
			result.Delivered++
		}(member.ConversationID)
	}
	wg.Wait()

	for conversationID, err := range result.Failed {
		d.logger.Printf("propagate: notify %s of mission %s: %v", conversationID, missionID, err)
	}
	return result
}

func (d *Dispatcher) deliver(ctx context.Context, conversationID, text string) (err error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notifier panic: %v", r)
		}
	}()
	return d.notifier.Notify(ctx, conversationID, text)
}

// LogNotifier only records notices. It stands in when no delivery channel is
// configured.
type LogNotifier struct {
	Logger *log.Logger
}

func (n LogNotifier) Notify(_ context.Context, conversationID, text string) error {
	logger := n.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger.Printf("notice for %s: %s", conversationID, text)
	return nil
}
