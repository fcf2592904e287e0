package collab

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"collab-service/internal/metrics"
)

// ReaperConfig controls liveness checks and session row pruning
type ReaperConfig struct {
	// How often heartbeats are sent and stale connections checked
	HeartbeatInterval time.Duration

	// Maximum time since the last heartbeat before a connection is closed
	HeartbeatTimeout time.Duration

	// How often stale session rows are pruned
	PruneInterval time.Duration

	// Age after which a session row is considered abandoned
	SessionStaleness time.Duration
}

// DefaultReaperConfig returns the default liveness configuration
func DefaultReaperConfig() ReaperConfig {
	return ReaperConfig{
		HeartbeatInterval: 30 * time.Second,
		HeartbeatTimeout:  2 * time.Minute,
		PruneInterval:     1 * time.Minute,
		SessionStaleness:  10 * time.Minute,
	}
}

// Reaper sends heartbeats, force-disconnects silent connections and prunes
// abandoned session rows.
type Reaper struct {
	config     ReaperConfig
	registry   *Registry
	sessions   SessionStore
	disconnect func(ctx context.Context, h Handle, reason string)
	metrics    *metrics.Metrics
	now        func() time.Time

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	running bool
}

func NewReaper(config ReaperConfig, registry *Registry, sessions SessionStore, disconnect func(ctx context.Context, h Handle, reason string), m *metrics.Metrics) *Reaper {
	def := DefaultReaperConfig()
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = def.HeartbeatInterval
	}
	if config.HeartbeatTimeout <= 0 {
		config.HeartbeatTimeout = def.HeartbeatTimeout
	}
	if config.PruneInterval <= 0 {
		config.PruneInterval = def.PruneInterval
	}
	if config.SessionStaleness <= 0 {
		config.SessionStaleness = def.SessionStaleness
	}
	return &Reaper{
		config:     config,
		registry:   registry,
		sessions:   sessions,
		disconnect: disconnect,
		metrics:    m,
		now:        time.Now,
	}
}

// Start launches the heartbeat and prune loops. It returns immediately; the
// loops stop on Stop or when ctx is done.
func (r *Reaper) Start(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	stop, done := r.stop, r.done
	r.mu.Unlock()

	slog.Info("Starting connection reaper",
		"heartbeatInterval", r.config.HeartbeatInterval,
		"heartbeatTimeout", r.config.HeartbeatTimeout,
		"pruneInterval", r.config.PruneInterval)

	go func() {
		defer close(done)

		heartbeat := time.NewTicker(r.config.HeartbeatInterval)
		defer heartbeat.Stop()
		prune := time.NewTicker(r.config.PruneInterval)
		defer prune.Stop()

		for {
			select {
			case <-heartbeat.C:
				r.Sweep(ctx)
			case <-prune.C:
				r.Prune(ctx)
			case <-stop:
				slog.Info("Stopping connection reaper")
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the loops and waits for them to exit.
func (r *Reaper) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stop)
	done := r.done
	r.mu.Unlock()

	<-done
}

func (r *Reaper) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Sweep closes connections that missed the heartbeat timeout and sends a
// heartbeat to the rest. It returns the number of connections reaped.
func (r *Reaper) Sweep(ctx context.Context) int {
	stale := r.registry.Stale(r.config.HeartbeatTimeout)
	staleIDs := make(map[string]struct{}, len(stale))

	for _, c := range stale {
		staleIDs[c.Handle.ID()] = struct{}{}
		slog.Warn("Reaping stale connection", "userID", c.UserID, "silentFor", r.now().Sub(c.LastHeartbeatAt))
		r.disconnect(ctx, c.Handle, "heartbeat_timeout")
		r.metrics.Reaped()
	}

	// Snapshot first, send outside the registry lock
	conns := r.registry.Connections()
	msg := NewHeartbeatMessage(r.now())
	sent, failed := 0, 0
	for _, c := range conns {
		if _, ok := staleIDs[c.Handle.ID()]; ok {
			continue
		}
		if err := c.Handle.Send(msg); err != nil {
			failed++
			slog.Debug("Heartbeat delivery failed", "userID", c.UserID, "error", err)
			continue
		}
		sent++
	}

	if len(stale) > 0 || failed > 0 {
		slog.Info("Heartbeat sweep complete", "sent", sent, "failed", failed, "reaped", len(stale))
	}
	return len(stale)
}

// Prune deletes session rows not refreshed within the staleness threshold.
func (r *Reaper) Prune(ctx context.Context) int64 {
	if r.sessions == nil {
		return 0
	}
	cutoff := r.now().Add(-r.config.SessionStaleness)
	n, err := r.sessions.PruneRoomSessions(ctx, cutoff)
	if err != nil {
		r.metrics.StoreFailure("prune_sessions")
		slog.Error("Failed to prune room sessions", "error", err)
		return 0
	}
	if n > 0 {
		slog.Info("Pruned stale room sessions", "count", n, "olderThan", cutoff)
	}
	return n
}
