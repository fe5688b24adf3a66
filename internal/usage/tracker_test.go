package usage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/goodtune/kidswatch/internal/metrics"
	"github.com/goodtune/kidswatch/internal/policy"
	"github.com/goodtune/kidswatch/internal/storage"
	"github.com/goodtune/kidswatch/internal/storage/bolt"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

type fakeTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
}

func (f *fakeTimer) Stop() bool {
	wasActive := !f.stopped
	f.stopped = true
	return wasActive
}

type fakeTimers struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (f *fakeTimers) afterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	timer := &fakeTimer{delay: d, fn: fn}
	f.timers = append(f.timers, timer)
	return timer
}

func (f *fakeTimers) last() *fakeTimer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.timers) == 0 {
		return nil
	}
	return f.timers[len(f.timers)-1]
}

type navigation struct {
	tabID int
	url   string
}

type fakeNavigator struct {
	mu    sync.Mutex
	calls []navigation
	err   error
}

func (f *fakeNavigator) Navigate(ctx context.Context, tabID int, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, navigation{tabID: tabID, url: url})
	return f.err
}

type trackerFixture struct {
	tracker   *Tracker
	store     storage.Store
	clock     *policy.TestClock
	timers    *fakeTimers
	navigator *fakeNavigator
}

func newTrackerFixture(t *testing.T) *trackerFixture {
	t.Helper()

	store, err := bolt.Open(filepath.Join(t.TempDir(), "kidswatch.bolt"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	matcher, err := policy.NewMatcher(64)
	if err != nil {
		t.Fatalf("new matcher: %v", err)
	}

	fx := &trackerFixture{
		store:     store,
		clock:     &policy.TestClock{CurrentTime: time.Date(2024, 3, 1, 10, 0, 0, 0, time.Local)},
		timers:    &fakeTimers{},
		navigator: &fakeNavigator{},
	}

	fx.tracker = NewTracker(store, fx.navigator, matcher, Config{
		QueueSize: 4,
		Defaults: storage.Settings{
			TimeoutMinutes: 5,
			Allowlist:      []string{"khanacademy.org"},
			IsEnabled:      true,
		},
	}, zerolog.Nop())
	fx.tracker.SetClock(fx.clock)
	fx.tracker.SetAfterFunc(fx.timers.afterFunc)

	return fx
}

func (fx *trackerFixture) handle(t *testing.T, ev Event) {
	t.Helper()
	if err := fx.tracker.Handle(context.Background(), ev); err != nil {
		t.Fatalf("handle %s: %v", ev.Type, err)
	}
}

// fire runs the timer callback and handles the event it queues.
func (fx *trackerFixture) fire(t *testing.T, timer *fakeTimer) {
	t.Helper()
	timer.fn()
	select {
	case ev := <-fx.tracker.events:
		fx.handle(t, ev)
	case <-time.After(time.Second):
		t.Fatal("timer did not queue an event")
	}
}

func (fx *trackerFixture) day(t *testing.T) storage.UsageRecord {
	t.Helper()
	day, err := fx.store.Usage().GetDay(context.Background(), "2024-03-01")
	if err != nil {
		t.Fatalf("get day: %v", err)
	}
	return day
}

func TestTracker_FlushOnSwitch(t *testing.T) {
	fx := newTrackerFixture(t)

	fx.handle(t, TabActivated(Tab{ID: 1, URL: "https://www.khanacademy.org/math"}))
	fx.clock.Advance(125 * time.Second)
	fx.handle(t, TabActivated(Tab{ID: 2, URL: "https://scratch.mit.edu/"}))

	got := fx.day(t)["www.khanacademy.org"]
	if got.TimeMS != 125000 || got.Visits != 1 {
		t.Fatalf("expected {125000 1}, got %+v", got)
	}
}

func TestTracker_TimeoutRedirects(t *testing.T) {
	fx := newTrackerFixture(t)

	fx.handle(t, TabActivated(Tab{ID: 42, URL: "https://www.youtube.com/"}))

	timer := fx.timers.last()
	if timer == nil {
		t.Fatal("expected a timer to be armed")
	}
	if timer.delay != 5*time.Minute {
		t.Errorf("expected 5m delay, got %v", timer.delay)
	}

	fx.clock.Advance(5 * time.Minute)
	fx.fire(t, timer)

	if len(fx.navigator.calls) != 1 {
		t.Fatalf("expected 1 navigation, got %d", len(fx.navigator.calls))
	}
	if call := fx.navigator.calls[0]; call.tabID != 42 || call.url != DefaultTimeoutPage {
		t.Errorf("unexpected navigation %+v", call)
	}

	status := fx.tracker.Snapshot()
	if status.Session == nil || status.TimeoutArmed {
		t.Errorf("expected session tracked with timer disarmed, got %+v", status)
	}
}

func TestTracker_StaleTimerIgnored(t *testing.T) {
	fx := newTrackerFixture(t)

	fx.handle(t, TabActivated(Tab{ID: 1, URL: "https://a.example/"}))
	first := fx.timers.last()

	fx.clock.Advance(time.Minute)
	fx.handle(t, TabActivated(Tab{ID: 2, URL: "https://b.example/"}))
	second := fx.timers.last()

	if !first.stopped {
		t.Error("expected first timer to be cancelled before re-arming")
	}
	if first == second {
		t.Fatal("expected a new timer")
	}

	// The first timer fired concurrently with its cancellation.
	fx.fire(t, first)
	if len(fx.navigator.calls) != 0 {
		t.Fatalf("expected stale timer to be ignored, got %v", fx.navigator.calls)
	}

	fx.fire(t, second)
	if len(fx.navigator.calls) != 1 || fx.navigator.calls[0].tabID != 2 {
		t.Errorf("expected redirect of tab 2, got %v", fx.navigator.calls)
	}
}

func TestTracker_AllowlistedSiteNeverArms(t *testing.T) {
	fx := newTrackerFixture(t)

	fx.handle(t, TabActivated(Tab{ID: 1, URL: "https://www.khanacademy.org/"}))
	if fx.timers.last() != nil {
		t.Error("expected no timer for allowlisted site")
	}
}

func TestTracker_UsesStoredSettings(t *testing.T) {
	fx := newTrackerFixture(t)

	err := fx.store.Settings().Put(context.Background(), storage.Settings{
		TimeoutMinutes: 1,
		Allowlist:      []string{"example.org"},
		IsEnabled:      true,
	})
	if err != nil {
		t.Fatalf("put settings: %v", err)
	}

	fx.handle(t, TabActivated(Tab{ID: 1, URL: "https://www.khanacademy.org/"}))
	timer := fx.timers.last()
	if timer == nil || timer.delay != time.Minute {
		t.Fatalf("expected 1m timer from stored settings, got %+v", timer)
	}
}

func TestTracker_NavigationFailureKeepsState(t *testing.T) {
	fx := newTrackerFixture(t)
	fx.navigator.err = errors.New("no extension connected")

	fx.handle(t, TabActivated(Tab{ID: 1, URL: "https://a.example/"}))
	fx.fire(t, fx.timers.last())

	status := fx.tracker.Snapshot()
	if status.Session == nil || status.Session.TabID != 1 {
		t.Errorf("expected session to survive failed redirect, got %+v", status)
	}
}

func TestTracker_RunFlushesOnShutdown(t *testing.T) {
	fx := newTrackerFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- fx.tracker.Run(ctx) }()

	if err := fx.tracker.Submit(TabActivated(Tab{ID: 1, URL: "https://www.khanacademy.org/"})); err != nil {
		t.Fatalf("submit: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for fx.tracker.Snapshot().Session == nil {
		if time.Now().After(deadline) {
			t.Fatal("tracker did not start a session")
		}
		time.Sleep(5 * time.Millisecond)
	}

	fx.clock.Advance(30 * time.Second)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("tracker did not stop")
	}

	got := fx.day(t)["www.khanacademy.org"]
	if got.TimeMS != 30000 || got.Visits != 1 {
		t.Errorf("expected flushed {30000 1}, got %+v", got)
	}

	if err := fx.tracker.Submit(Shutdown()); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped after run, got %v", err)
	}
}

func TestTracker_SubmitQueueFull(t *testing.T) {
	fx := newTrackerFixture(t)

	for i := 0; i < 4; i++ {
		if err := fx.tracker.Submit(Shutdown()); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	if err := fx.tracker.Submit(Shutdown()); !errors.Is(err, ErrQueueFull) {
		t.Errorf("expected ErrQueueFull, got %v", err)
	}
}

func TestTracker_SnapshotIdle(t *testing.T) {
	fx := newTrackerFixture(t)

	status := fx.tracker.Snapshot()
	if status.Session != nil || status.TimeoutArmed || status.ElapsedMS != 0 {
		t.Errorf("expected idle snapshot, got %+v", status)
	}
}

// failingUsage rejects writes while err is set.
type failingUsage struct {
	storage.UsageStore
	err error
}

func (f *failingUsage) AddUsage(ctx context.Context, date, domain string, elapsedMS int64) error {
	if f.err != nil {
		return f.err
	}
	return f.UsageStore.AddUsage(ctx, date, domain, elapsedMS)
}

func TestTracker_FailedFlushKeepsSession(t *testing.T) {
	fx := newTrackerFixture(t)
	usage := &failingUsage{UsageStore: fx.store.Usage(), err: errors.New("disk full")}
	fx.tracker.usage = usage

	fx.handle(t, TabActivated(Tab{ID: 1, URL: "https://a.example/"}))
	armed := fx.timers.last()

	fx.clock.Advance(90 * time.Second)
	err := fx.tracker.Handle(context.Background(), TabActivated(Tab{ID: 2, URL: "https://b.example/"}))
	if err == nil || !errors.Is(err, usage.err) {
		t.Fatalf("expected wrapped store error, got %v", err)
	}

	status := fx.tracker.Snapshot()
	if status.Session == nil || status.Session.Domain != "a.example" {
		t.Fatalf("expected a.example to stay tracked, got %+v", status.Session)
	}
	if !status.TimeoutArmed || armed.stopped || fx.timers.last() != armed {
		t.Error("expected the original timeout to stay armed")
	}

	usage.err = nil
	fx.clock.Advance(30 * time.Second)
	fx.handle(t, TabActivated(Tab{ID: 2, URL: "https://b.example/"}))

	got := fx.day(t)["a.example"]
	if got.TimeMS != 120000 || got.Visits != 1 {
		t.Errorf("expected {120000 1} for a.example, got %+v", got)
	}
}

func TestTracker_TrackedSecondsUnlabelled(t *testing.T) {
	fx := newTrackerFixture(t)
	before := testutil.ToFloat64(metrics.TrackedSecondsTotal)

	for i, host := range []string{"a.example", "b.example", "c.example"} {
		fx.handle(t, TabActivated(Tab{ID: i + 1, URL: "https://" + host + "/"}))
		fx.clock.Advance(10 * time.Second)
	}
	fx.handle(t, WindowFocusChanged(WindowNone, nil))

	if got := testutil.ToFloat64(metrics.TrackedSecondsTotal); got != before+30 {
		t.Errorf("expected %v tracked seconds, got %v", before+30, got)
	}
	if n := testutil.CollectAndCount(metrics.TrackedSecondsTotal); n != 1 {
		t.Errorf("expected a single series, got %d", n)
	}
}
