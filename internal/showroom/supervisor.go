package showroom

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"showroom-recorder/internal/platform/config"
	"showroom-recorder/internal/platform/logger"
)

// Supervisor runs one Listener per configured room and applies room list
// changes as they arrive.
type Supervisor struct {
	api        API
	newSession SessionFactory
	tracker    Tracker
	log        *slog.Logger

	mu        sync.Mutex
	interval  time.Duration
	listeners map[string]*runningListener
	wg        sync.WaitGroup
}

type runningListener struct {
	l    *Listener
	done chan struct{}
}

// SupervisorConfig holds the dependencies shared by every Listener.
type SupervisorConfig struct {
	API        API
	Interval   time.Duration
	NewSession SessionFactory
	Tracker    Tracker
	Logger     *slog.Logger
}

func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	if cfg.Logger == nil {
		cfg.Logger = logger.Discard()
	}
	return &Supervisor{
		api:        cfg.API,
		newSession: cfg.NewSession,
		tracker:    cfg.Tracker,
		interval:   cfg.Interval,
		log:        cfg.Logger,
		listeners:  make(map[string]*runningListener),
	}
}

// Run applies rooms, then every config received on updates, until ctx is
// done. Listeners outlive ctx so their sessions can drain: on shutdown they
// are stopped gracefully within shutdownTimeout before being cancelled.
func (s *Supervisor) Run(ctx context.Context, rooms []string, updates <-chan *config.File, shutdownTimeout time.Duration) error {
	lctx, lcancel := context.WithCancel(context.WithoutCancel(ctx))
	defer lcancel()

	s.Apply(lctx, rooms)

	for {
		select {
		case <-ctx.Done():
			stopCtx, cancel := context.WithTimeout(lctx, shutdownTimeout)
			defer cancel()
			return s.StopAll(stopCtx)
		case cfg, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			s.setInterval(cfg.PollInterval())
			s.Apply(lctx, cfg.Users)
		}
	}
}

// Apply starts listeners for new rooms and stops listeners whose room is no
// longer listed. Listeners run under ctx.
func (s *Supervisor) Apply(ctx context.Context, rooms []string) {
	want := make(map[string]bool, len(rooms))
	for _, r := range rooms {
		if r != "" {
			want[r] = true
		}
	}

	s.mu.Lock()
	var removed []*runningListener
	for room, rl := range s.listeners {
		if !want[room] {
			removed = append(removed, rl)
			delete(s.listeners, room)
		}
	}
	for room := range want {
		if _, ok := s.listeners[room]; ok {
			continue
		}
		s.listeners[room] = s.startLocked(ctx, room)
	}
	s.mu.Unlock()

	for _, rl := range removed {
		s.log.Info("room removed from config", "room", rl.l.Room())
		go func() {
			if err := rl.l.Stop(context.WithoutCancel(ctx)); err != nil {
				s.log.Warn("stopping listener failed", "room", rl.l.Room(), "err", err)
			}
		}()
	}
}

func (s *Supervisor) startLocked(ctx context.Context, room string) *runningListener {
	l := NewListener(ListenerConfig{
		Room:       room,
		API:        s.api,
		Interval:   s.interval,
		NewSession: s.newSession,
		Tracker:    s.tracker,
		Logger:     s.log,
	})
	rl := &runningListener{l: l, done: make(chan struct{})}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(rl.done)
		if err := l.Run(ctx); err != nil {
			s.log.Warn("listener ended", "room", room, "err", err)
		}
	}()
	return rl
}

// StopAll stops every listener concurrently and waits for them to exit.
func (s *Supervisor) StopAll(ctx context.Context) error {
	s.mu.Lock()
	all := make([]*runningListener, 0, len(s.listeners))
	for _, rl := range s.listeners {
		all = append(all, rl)
	}
	s.listeners = make(map[string]*runningListener)
	s.mu.Unlock()

	var g errgroup.Group
	for _, rl := range all {
		g.Go(func() error { return rl.l.Stop(ctx) })
	}
	err := g.Wait()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		err = errors.Join(err, ctx.Err())
	}
	return err
}

// Rooms returns the watched rooms in sorted order.
func (s *Supervisor) Rooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	rooms := make([]string, 0, len(s.listeners))
	for r := range s.listeners {
		rooms = append(rooms, r)
	}
	slices.Sort(rooms)
	return rooms
}

func (s *Supervisor) setInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	s.interval = d
	s.mu.Unlock()
}
