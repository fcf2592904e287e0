package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"collab-service/internal/collab"
)

const defaultQueueSize = 1024

// Publisher writes one keyed record to the notification topic.
type Publisher interface {
	Publish(ctx context.Context, key, value []byte) error
	Close() error
}

// Notifier hands notifications to a Publisher from a background goroutine.
// Notify never blocks: when the queue is full the notification is dropped.
type Notifier struct {
	publisher Publisher
	queue     chan collab.Notification
	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	dropped int
}

func NewNotifier(publisher Publisher, queueSize int) *Notifier {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	n := &Notifier{
		publisher: publisher,
		queue:     make(chan collab.Notification, queueSize),
		done:      make(chan struct{}),
	}
	go n.run()
	return n
}

func (n *Notifier) Notify(_ context.Context, note collab.Notification) {
	select {
	case n.queue <- note:
	default:
		n.mu.Lock()
		n.dropped++
		n.mu.Unlock()
		slog.Warn("Notification queue full, dropping", "kind", note.Kind, "userID", note.UserID)
	}
}

func (n *Notifier) run() {
	defer close(n.done)
	for note := range n.queue {
		value, err := json.Marshal(note)
		if err != nil {
			slog.Error("Failed to marshal notification", "kind", note.Kind, "error", err)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := n.publisher.Publish(ctx, []byte(note.UserID), value); err != nil {
			slog.Error("Failed to publish notification", "kind", note.Kind, "userID", note.UserID, "error", err)
		}
		cancel()
	}
}

// Dropped returns how many notifications were discarded on a full queue.
func (n *Notifier) Dropped() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dropped
}

// Close drains queued notifications and closes the publisher.
func (n *Notifier) Close() error {
	var err error
	n.closeOnce.Do(func() {
		close(n.queue)
		<-n.done
		err = n.publisher.Close()
	})
	return err
}
