package showroom

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"showroom-recorder/internal/capture"
	"showroom-recorder/internal/platform/logger"
)

// SessionFactory builds a capture session for a room's manifest.
type SessionFactory func(owner, manifestURL string) (*capture.Session, error)

// Tracker is told about sessions as they start and finish.
type Tracker interface {
	Track(s *capture.Session)
	Untrack(s *capture.Session)
}

type nopTracker struct{}

func (nopTracker) Track(*capture.Session)   {}
func (nopTracker) Untrack(*capture.Session) {}

// Listener watches one room and records every broadcast it sees.
type Listener struct {
	room       string
	api        API
	interval   time.Duration
	newSession SessionFactory
	tracker    Tracker
	log        *slog.Logger

	mu       sync.Mutex
	stopping bool
	cancel   context.CancelFunc
	active   *capture.Session
}

// ListenerConfig holds the dependencies of a Listener.
type ListenerConfig struct {
	Room       string
	API        API
	Interval   time.Duration
	NewSession SessionFactory
	Tracker    Tracker
	Logger     *slog.Logger
}

func NewListener(cfg ListenerConfig) *Listener {
	if cfg.Tracker == nil {
		cfg.Tracker = nopTracker{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Discard()
	}
	return &Listener{
		room:       cfg.Room,
		api:        cfg.API,
		interval:   cfg.Interval,
		newSession: cfg.NewSession,
		tracker:    cfg.Tracker,
		log:        cfg.Logger.With("room", cfg.Room, "component", "listener"),
	}
}

func (l *Listener) Room() string { return l.room }

// Run resolves the room and polls its live status every interval until ctx
// is cancelled or Stop is called. An unknown room ends Run with
// ErrRoomNotFound.
func (l *Listener) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.stopping {
		l.mu.Unlock()
		return nil
	}
	ctx, l.cancel = context.WithCancel(ctx)
	l.mu.Unlock()
	defer l.cancel()

	l.log.Info("listening")

	id, err := l.resolve(ctx)
	if err != nil {
		return err
	}
	l.log.Debug("room resolved", "room_id", id)

	for {
		if l.isStopping() {
			return nil
		}
		live, err := l.api.IsLive(ctx, id)
		switch {
		case ctx.Err() != nil:
			return nil
		case err != nil:
			l.log.Warn("live status check failed", "err", err)
		case live:
			l.record(ctx, id)
		default:
			l.log.Debug("not live")
		}

		if !sleep(ctx, l.interval) {
			return nil
		}
	}
}

// resolve retries transient failures every interval.
func (l *Listener) resolve(ctx context.Context) (int64, error) {
	for {
		id, err := l.api.RoomID(ctx, l.room)
		if err == nil {
			return id, nil
		}
		if errors.Is(err, ErrRoomNotFound) {
			l.log.Warn("room not found")
			return 0, err
		}
		if ctx.Err() != nil {
			return 0, nil
		}
		l.log.Warn("room lookup failed", "err", err)
		if !sleep(ctx, l.interval) {
			return 0, nil
		}
	}
}

func (l *Listener) record(ctx context.Context, roomID int64) {
	manifest, err := l.api.StreamingURL(ctx, roomID)
	if errors.Is(err, ErrNotStreaming) {
		l.log.Debug("live but no stream yet")
		return
	}
	if err != nil {
		l.log.Warn("stream url lookup failed", "err", err)
		return
	}

	s, err := l.newSession(l.room, manifest)
	if err != nil {
		l.log.Error("cannot create capture session", "err", err)
		return
	}

	l.mu.Lock()
	if l.stopping {
		l.mu.Unlock()
		return
	}
	l.active = s
	l.mu.Unlock()

	l.log.Info("broadcast started", "manifest", manifest, "session_id", s.ID())
	l.tracker.Track(s)
	err = s.Start(ctx)
	l.tracker.Untrack(s)

	l.mu.Lock()
	l.active = nil
	l.mu.Unlock()

	if err != nil {
		l.log.Error("capture failed", "session_id", s.ID(), "err", err)
		return
	}
	l.log.Info("broadcast finished", "session_id", s.ID())
}

// Stop drains the active session, if any, then ends Run.
func (l *Listener) Stop(ctx context.Context) error {
	l.mu.Lock()
	l.stopping = true
	active := l.active
	cancel := l.cancel
	l.mu.Unlock()

	var err error
	if active != nil {
		if serr := active.Stop(ctx); serr != nil {
			err = fmt.Errorf("stop %s: %w", l.room, serr)
		}
	}
	if cancel != nil {
		cancel()
	}
	return err
}

func (l *Listener) isStopping() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopping
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
