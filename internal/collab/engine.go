package collab

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"collab-service/internal/metrics"

	"github.com/hashicorp/go-multierror"
)

// Config holds the engine's tunables.
type Config struct {
	RateLimit      int
	RateWindow     time.Duration
	CursorThrottle time.Duration
	EditDebounce   time.Duration
	ConflictWindow time.Duration
	SnapshotTTL    time.Duration
	Reaper         ReaperConfig
}

func DefaultConfig() Config {
	return Config{
		RateLimit:      DefaultRateLimit,
		RateWindow:     DefaultRateWindow,
		CursorThrottle: DefaultCursorThrottle,
		EditDebounce:   DefaultEditDebounce,
		ConflictWindow: DefaultConflictWindow,
		SnapshotTTL:    DefaultSnapshotTTL,
		Reaper:         DefaultReaperConfig(),
	}
}

// Stores bundles the engine's external collaborators. Any of them may be nil.
type Stores struct {
	Sessions SessionStore
	Friends  FriendStore
	Entries  EntryStore
	Presence PresenceStore
	Notifier Notifier
}

// Rejection reasons sent back in rejected events.
const (
	ReasonRateLimited    = "rate_limited"
	ReasonInvalidMessage = "invalid_message"
	ReasonInvalidPayload = "invalid_payload"
	ReasonNotMember      = "not_member"
)

// Engine routes inbound events to the session components and runs the
// disconnect cascade.
type Engine struct {
	config    Config
	metrics   *metrics.Metrics
	registry  *Registry
	rooms     *RoomManager
	cursors   *CursorRelay
	edits     *EditPipeline
	limiter   *RateLimiter
	scheduler *Scheduler
	reaper    *Reaper
}

func NewEngine(config Config, stores Stores, m *metrics.Metrics) *Engine {
	if stores.Notifier == nil {
		stores.Notifier = NopNotifier()
	}

	e := &Engine{
		config:    config,
		metrics:   m,
		scheduler: NewScheduler(),
		limiter:   NewRateLimiter(config.RateLimit, config.RateWindow),
	}
	e.registry = NewRegistry(stores.Presence, stores.Friends, stores.Notifier, m, config.SnapshotTTL)
	e.rooms = NewRoomManager(stores.Sessions, stores.Entries, e.registry, NewCursorStore(), m)
	e.cursors = NewCursorRelay(e.rooms, e.scheduler, config.CursorThrottle)
	e.edits = NewEditPipeline(e.rooms, e.registry, e.scheduler, stores.Notifier, m, config.EditDebounce, config.ConflictWindow)
	e.rooms.onEmpty = e.edits.ForgetEntry
	e.reaper = NewReaper(config.Reaper, e.registry, stores.Sessions, e.ForceDisconnect, m)

	return e
}

func (e *Engine) Registry() *Registry { return e.registry }
func (e *Engine) Rooms() *RoomManager { return e.rooms }
func (e *Engine) Edits() *EditPipeline { return e.edits }
func (e *Engine) Reaper() *Reaper { return e.reaper }
func (e *Engine) Scheduler() *Scheduler { return e.scheduler }
func (e *Engine) Limiter() *RateLimiter { return e.limiter }
func (e *Engine) Cursors() *CursorRelay { return e.cursors }

// Start clears stale presence and runs the background reaper.
func (e *Engine) Start(ctx context.Context) {
	e.registry.ResetPresence(ctx)
	e.reaper.Start(ctx)
}

// Shutdown stops background work and disconnects every connection.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.reaper.Stop()

	var result *multierror.Error
	for _, c := range e.registry.Connections() {
		if err := c.Handle.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close %s: %w", c.UserID, err))
		}
		if err := e.Disconnect(ctx, c.Handle); err != nil {
			result = multierror.Append(result, err)
		}
	}
	e.scheduler.Stop()
	return result.ErrorOrNil()
}

// Connect registers an authenticated handle. A previous handle for the same
// user is closed and its pending work dropped.
func (e *Engine) Connect(ctx context.Context, h Handle) {
	if old := e.registry.Register(ctx, h); old != nil {
		e.dropHandleWork(old.ID())
		if err := old.Close(); err != nil {
			slog.Debug("Closing superseded handle failed", "userID", h.UserID(), "error", err)
		}
		slog.Info("Connection superseded", "userID", h.UserID(), "oldHandleID", old.ID(), "handleID", h.ID())
	}

	snap, err := e.registry.Snapshot(ctx, h.UserID())
	if err != nil {
		slog.Error("Failed to build friends snapshot", "userID", h.UserID(), "error", err)
		return
	}
	if err := h.Send(NewFriendsSnapshotMessage(h.UserID(), snap)); err != nil {
		slog.Debug("Failed to send friends snapshot", "userID", h.UserID(), "error", err)
	}
}

// Disconnect runs the offline cascade for h: deregister, leave every room,
// clear cursors. It is a no-op for a handle that is no longer authoritative.
// Every step runs even if an earlier one fails.
func (e *Engine) Disconnect(ctx context.Context, h Handle) error {
	e.dropHandleWork(h.ID())

	userID := h.UserID()
	if !e.registry.Unregister(ctx, userID, h.ID()) {
		return nil
	}

	e.limiter.Forget(userID)

	if err := e.rooms.LeaveAll(ctx, userID); err != nil {
		slog.Warn("Disconnect completed with errors", "userID", userID, "error", err)
		return err
	}
	slog.Debug("Disconnect completed", "userID", userID)
	return nil
}

// Degraded reports whether the presence store has failed since the last reset.
func (e *Engine) Degraded() bool {
	return e.registry.Degraded()
}

func (e *Engine) ConnectionCount() int {
	return len(e.registry.Connections())
}

// Touch records transport-level liveness for h, such as a websocket pong.
func (e *Engine) Touch(h Handle) {
	e.registry.Touch(h.UserID())
}

// ForceDisconnect closes h and runs the cascade.
func (e *Engine) ForceDisconnect(ctx context.Context, h Handle, reason string) {
	slog.Warn("Force-disconnecting connection", "userID", h.UserID(), "handleID", h.ID(), "reason", reason)
	if err := h.Close(); err != nil {
		slog.Debug("Close failed during force disconnect", "userID", h.UserID(), "error", err)
	}
	if err := e.Disconnect(ctx, h); err != nil {
		slog.Error("Force disconnect cascade failed", "userID", h.UserID(), "error", err)
	}
}

func (e *Engine) dropHandleWork(handleID string) {
	if n := e.scheduler.CancelGroup(handleID); n > 0 {
		slog.Debug("Cancelled pending tasks", "handleID", handleID, "count", n)
	}
	e.edits.DropHandle(handleID)
}

// Dispatch handles one inbound message from h. It never panics; a failure
// inside a handler disconnects only h.
func (e *Engine) Dispatch(ctx context.Context, h Handle, msg *Message) {
	if msg == nil {
		e.reject(h, ReasonInvalidMessage)
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Event handler panicked", "userID", h.UserID(), "type", msg.Type, "panic", r, "stack", string(debug.Stack()))
			e.metrics.Rejected("fatal")
			e.ForceDisconnect(ctx, h, "fatal")
		}
	}()

	if err := msg.Validate(); err != nil {
		slog.Warn("Invalid message", "userID", h.UserID(), "error", err)
		e.reject(h, ReasonInvalidMessage)
		return
	}
	e.metrics.Event(msg.Type.String())

	if msg.Type == MessageTypeHeartbeatAck {
		e.registry.Touch(h.UserID())
		return
	}

	if !e.limiter.Admit(h.UserID()) {
		slog.Debug("Rate limited", "userID", h.UserID(), "type", msg.Type)
		e.reject(h, ReasonRateLimited)
		return
	}

	if err := e.route(ctx, h, msg); err != nil {
		switch {
		case errors.Is(err, ErrValidation):
			slog.Warn("Rejected invalid payload", "userID", h.UserID(), "type", msg.Type, "error", err)
			e.reject(h, ReasonInvalidPayload)
		case errors.Is(err, ErrNotMember):
			slog.Debug("Rejected event from non-member", "userID", h.UserID(), "type", msg.Type, "error", err)
			e.reject(h, ReasonNotMember)
		case errors.Is(err, ErrFatal):
			panic(err)
		default:
			slog.Error("Event handling failed", "userID", h.UserID(), "type", msg.Type, "error", err)
		}
	}
}

func (e *Engine) route(ctx context.Context, h Handle, msg *Message) error {
	userID := h.UserID()

	switch msg.Type {
	case MessageTypeJoinRoom:
		var d RoomData
		if err := msg.DecodeData(&d); err != nil {
			return err
		}
		viewers, err := e.rooms.Join(ctx, userID, d.EntryID)
		if err != nil {
			return err
		}
		return e.reply(h, NewViewerListMessage(d.EntryID, viewers))

	case MessageTypeLeaveRoom:
		var d RoomData
		if err := msg.DecodeData(&d); err != nil {
			return err
		}
		if d.EntryID == "" {
			return fmt.Errorf("%w: entry_id is required", ErrValidation)
		}
		e.scheduler.Cancel(taskKey("cursor", h.ID(), d.EntryID))
		e.edits.DropEntry(h.ID(), d.EntryID)
		_, err := e.rooms.Leave(ctx, userID, d.EntryID)
		return err

	case MessageTypeEdit:
		var d EditData
		if err := msg.DecodeData(&d); err != nil {
			return err
		}
		return e.edits.Submit(ctx, h, d)

	case MessageTypeCursorMove:
		var d CursorMoveData
		if err := msg.DecodeData(&d); err != nil {
			return err
		}
		return e.cursors.Move(h, d.EntryID, d.Position)

	case MessageTypeEditing, MessageTypeIdle:
		var d RoomData
		if err := msg.DecodeData(&d); err != nil {
			return err
		}
		var err error
		if msg.Type == MessageTypeEditing {
			_, err = e.rooms.MarkEditing(ctx, userID, d.EntryID)
		} else {
			_, err = e.rooms.MarkIdle(ctx, userID, d.EntryID)
		}
		return err

	case MessageTypeStateRequest:
		var d RoomData
		if err := msg.DecodeData(&d); err != nil {
			return err
		}
		content, viewers, err := e.rooms.CurrentState(ctx, d.EntryID)
		switch {
		case err == nil:
			return e.reply(h, NewStateResponseMessage(d.EntryID, content, viewers))
		case errors.Is(err, ErrEntryNotFound):
			return e.reply(h, NewStateErrorMessage(d.EntryID, ErrEntryNotFound.Error()))
		case errors.Is(err, ErrStoreUnavailable):
			slog.Error("State lookup failed", "userID", userID, "entryID", d.EntryID, "error", err)
			return e.reply(h, NewStateErrorMessage(d.EntryID, "unavailable"))
		default:
			return err
		}
	}

	return fmt.Errorf("%w: unhandled message type %q", ErrValidation, msg.Type)
}

func (e *Engine) reply(h Handle, msg *Message) error {
	if err := h.Send(msg); err != nil {
		slog.Debug("Reply delivery failed", "userID", h.UserID(), "type", msg.Type, "error", err)
	}
	return nil
}

func (e *Engine) reject(h Handle, reason string) {
	e.metrics.Rejected(reason)
	if err := h.Send(NewRejectedMessage(reason)); err != nil {
		slog.Debug("Rejection delivery failed", "userID", h.UserID(), "reason", reason, "error", err)
	}
}
