package collab

import (
	"sync"
	"time"
)

type scheduledTask struct {
	group string
	timer *time.Timer
	seq   uint64
}

// Scheduler runs at most one pending task per key. Scheduling a key again
// cancels the pending task; cancelling a group drops every key in it.
type Scheduler struct {
	mu    sync.Mutex
	tasks map[string]*scheduledTask
	seq   uint64
}

func NewScheduler() *Scheduler {
	return &Scheduler{tasks: make(map[string]*scheduledTask)}
}

// Reschedule replaces any pending task for key with fn after delay.
func (s *Scheduler) Reschedule(group, key string, delay time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.tasks[key]; ok {
		t.timer.Stop()
	}
	s.startLocked(group, key, delay, fn)
}

// ScheduleOnce starts fn after delay unless a task for key is already
// pending. It reports whether a new task was started.
func (s *Scheduler) ScheduleOnce(group, key string, delay time.Duration, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[key]; ok {
		return false
	}
	s.startLocked(group, key, delay, fn)
	return true
}

func (s *Scheduler) startLocked(group, key string, delay time.Duration, fn func()) {
	s.seq++
	task := &scheduledTask{group: group, seq: s.seq}
	seq := s.seq
	task.timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		cur, ok := s.tasks[key]
		// A stopped timer may still fire if it raced with Stop.
		if !ok || cur.seq != seq {
			s.mu.Unlock()
			return
		}
		delete(s.tasks, key)
		s.mu.Unlock()

		fn()
	})
	s.tasks[key] = task
}

// Cancel drops the pending task for key, if any.
func (s *Scheduler) Cancel(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.tasks[key]; ok {
		t.timer.Stop()
		delete(s.tasks, key)
	}
}

// CancelGroup drops every pending task in group and returns how many.
func (s *Scheduler) CancelGroup(group string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for key, t := range s.tasks {
		if t.group == group {
			t.timer.Stop()
			delete(s.tasks, key)
			n++
		}
	}
	return n
}

// Pending reports whether a task for key is waiting to run.
func (s *Scheduler) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[key]
	return ok
}

// Stop cancels everything.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, t := range s.tasks {
		t.timer.Stop()
		delete(s.tasks, key)
	}
}

func taskKey(kind, handleID, entryID string) string {
	return kind + ":" + handleID + ":" + entryID
}
