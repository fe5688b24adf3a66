package usage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goodtune/kidswatch/internal/metrics"
	"github.com/goodtune/kidswatch/internal/policy"
	"github.com/goodtune/kidswatch/internal/storage"
	"github.com/rs/zerolog"
)

const (
	// DefaultQueueSize is the capacity of the event queue
	DefaultQueueSize = 64

	// DefaultTimeoutPage is the extension page shown when a site's time is up
	DefaultTimeoutPage = "html/timeout.html"

	shutdownFlushTimeout = 5 * time.Second
)

var (
	// ErrQueueFull is returned by Submit when the tracker is not keeping up
	ErrQueueFull = errors.New("tracker event queue is full")

	// ErrStopped is returned by Submit once the tracker has stopped
	ErrStopped = errors.New("tracker is stopped")
)

// Navigator moves a browser tab to another address.
type Navigator interface {
	Navigate(ctx context.Context, tabID int, url string) error
}

// Timer is a pending timeout.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f to run after d.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Config holds tracker configuration
type Config struct {
	TimeoutPage string
	QueueSize   int
	// Defaults apply until settings have been stored.
	Defaults storage.Settings
}

// Tracker owns the tracking state. Events are handled one at a time by the
// goroutine running Run.
type Tracker struct {
	settings  storage.SettingsStore
	usage     storage.UsageStore
	navigator Navigator
	matcher   *policy.Matcher
	clock     policy.Clock
	afterFunc AfterFunc
	config    Config
	logger    zerolog.Logger

	events chan Event
	done   chan struct{}
	once   sync.Once

	// mu guards state for Snapshot; timer is only touched by Handle.
	mu    sync.RWMutex
	state State
	timer Timer
}

// NewTracker creates a new activity tracker
func NewTracker(store storage.Store, navigator Navigator, matcher *policy.Matcher, config Config, logger zerolog.Logger) *Tracker {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultQueueSize
	}
	if config.TimeoutPage == "" {
		config.TimeoutPage = DefaultTimeoutPage
	}

	return &Tracker{
		settings:  store.Settings(),
		usage:     store.Usage(),
		navigator: navigator,
		matcher:   matcher,
		clock:     policy.RealClock{},
		afterFunc: realAfterFunc,
		config:    config,
		logger:    logger.With().Str("component", "usage-tracker").Logger(),
		events:    make(chan Event, config.QueueSize),
		done:      make(chan struct{}),
	}
}

// SetClock replaces the time source (for testing)
func (t *Tracker) SetClock(clock policy.Clock) {
	t.clock = clock
}

// SetAfterFunc replaces the timer implementation (for testing)
func (t *Tracker) SetAfterFunc(f AfterFunc) {
	t.afterFunc = f
}

// Submit enqueues an event without blocking.
func (t *Tracker) Submit(ev Event) error {
	select {
	case <-t.done:
		return ErrStopped
	default:
	}

	select {
	case t.events <- ev:
		metrics.TrackerQueueDepth.Set(float64(len(t.events)))
		return nil
	default:
		metrics.TrackerEventsTotal.WithLabelValues(string(ev.Type), "dropped").Inc()
		return ErrQueueFull
	}
}

// deliver enqueues an internally produced event, waiting for room.
func (t *Tracker) deliver(ev Event) {
	select {
	case t.events <- ev:
	case <-t.done:
	}
}

// Run handles events until ctx is cancelled, then flushes the active session.
func (t *Tracker) Run(ctx context.Context) error {
	t.logger.Info().Int("queue_size", t.config.QueueSize).Msg("Activity tracker started")

	for {
		select {
		case <-ctx.Done():
			t.stop()
			flushCtx, cancel := context.WithTimeout(context.Background(), shutdownFlushTimeout)
			err := t.Handle(flushCtx, Shutdown())
			cancel()
			t.logger.Info().Msg("Activity tracker stopped")
			return err

		case ev := <-t.events:
			metrics.TrackerQueueDepth.Set(float64(len(t.events)))
			if err := t.Handle(ctx, ev); err != nil {
				t.logger.Error().Err(err).Str("event", string(ev.Type)).Msg("Failed to handle event")
			}
		}
	}
}

func (t *Tracker) stop() {
	t.once.Do(func() { close(t.done) })
}

// Handle runs one event to completion. It must not be called concurrently.
func (t *Tracker) Handle(ctx context.Context, ev Event) error {
	env := Env{
		Now:         t.clock.Now(),
		TimeoutPage: t.config.TimeoutPage,
		Allowed:     t.matcher.Allowed,
	}

	if needsSettings(ev.Type) {
		settings, err := t.loadSettings(ctx)
		if err != nil {
			metrics.TrackerEventsTotal.WithLabelValues(string(ev.Type), "error").Inc()
			return fmt.Errorf("failed to load settings: %w", err)
		}
		env.Settings = settings
	}

	t.mu.RLock()
	prev := t.state
	t.mu.RUnlock()

	next, effects := Transition(prev, ev, env)

	// Usage is written before the state moves on; a failed write leaves the
	// session in place so its time is counted by a later flush.
	for _, effect := range effects {
		if f, ok := effect.(Flush); ok {
			if err := t.flush(ctx, f); err != nil {
				metrics.TrackerEventsTotal.WithLabelValues(string(ev.Type), "error").Inc()
				return fmt.Errorf("failed to save session usage: %w", err)
			}
		}
	}

	started := next.Session != nil && (prev.Session == nil || next.Session.ID != prev.Session.ID)
	t.mu.Lock()
	t.state = next
	t.mu.Unlock()

	metrics.TrackerEventsTotal.WithLabelValues(string(ev.Type), "ok").Inc()
	if started {
		metrics.TrackingSessionsTotal.Inc()
		t.logger.Debug().
			Str("session_id", next.Session.ID).
			Int("tab_id", next.Session.TabID).
			Str("domain", next.Session.Domain).
			Msg("Started tracking")
	}
	if next.Session != nil {
		metrics.ActiveSession.Set(1)
	} else {
		metrics.ActiveSession.Set(0)
	}

	for _, effect := range effects {
		if _, ok := effect.(Flush); ok {
			continue
		}
		t.apply(ctx, effect)
	}
	return nil
}

func needsSettings(typ EventType) bool {
	switch typ {
	case EventTabActivated, EventTabUpdated, EventWindowFocus:
		return true
	}
	return false
}

// loadSettings returns the stored settings, or the defaults when none
// have been saved yet.
func (t *Tracker) loadSettings(ctx context.Context) (storage.Settings, error) {
	settings, err := t.settings.Get(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return t.config.Defaults, nil
	}
	if err != nil {
		metrics.StoreErrors.WithLabelValues("get_settings").Inc()
		return storage.Settings{}, err
	}
	return *settings, nil
}

func (t *Tracker) apply(ctx context.Context, effect Effect) {
	switch e := effect.(type) {
	case CancelTimeout:
		t.cancelTimer()

	case ArmTimeout:
		t.cancelTimer()
		generation := e.Generation
		t.timer = t.afterFunc(e.Delay, func() {
			t.deliver(TimeoutFired(generation))
		})
		metrics.TimeoutsArmed.Inc()
		t.logger.Debug().
			Dur("delay", e.Delay).
			Uint64("generation", generation).
			Msg("Armed site timeout")

	case Navigate:
		t.timer = nil
		metrics.TimeoutsFired.WithLabelValues("redirect").Inc()
		if err := t.navigator.Navigate(ctx, e.TabID, e.URL); err != nil {
			metrics.RedirectsTotal.WithLabelValues("error").Inc()
			t.logger.Error().Err(err).Int("tab_id", e.TabID).Msg("Failed to redirect tab to timeout page")
			return
		}
		metrics.RedirectsTotal.WithLabelValues("ok").Inc()
		t.logger.Info().Int("tab_id", e.TabID).Str("url", e.URL).Msg("Site time limit reached, tab redirected")
	}
}

func (t *Tracker) cancelTimer() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// flush adds a finished session to the day's usage.
func (t *Tracker) flush(ctx context.Context, f Flush) error {
	elapsedMS := f.Elapsed.Milliseconds()
	if err := t.usage.AddUsage(ctx, f.Date, f.Session.Domain, elapsedMS); err != nil {
		metrics.StoreErrors.WithLabelValues("add_usage").Inc()
		t.logger.Error().
			Err(err).
			Str("session_id", f.Session.ID).
			Str("domain", f.Session.Domain).
			Int64("elapsed_ms", elapsedMS).
			Msg("Failed to save session usage")
		return err
	}

	metrics.TrackedSecondsTotal.Add(f.Elapsed.Seconds())
	t.logger.Debug().
		Str("session_id", f.Session.ID).
		Str("date", f.Date).
		Str("domain", f.Session.Domain).
		Int64("elapsed_ms", elapsedMS).
		Msg("Saved session usage")
	return nil
}

// Snapshot returns the current tracking status.
func (t *Tracker) Snapshot() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	status := Status{TimeoutArmed: t.state.Armed}
	if s := t.state.Session; s != nil {
		session := *s
		status.Session = &session
		if elapsed := t.clock.Now().Sub(s.StartTime); elapsed > 0 {
			status.ElapsedMS = elapsed.Milliseconds()
		}
	}
	return status
}
