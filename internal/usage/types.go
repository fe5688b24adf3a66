package usage

import (
	"time"
)

// WindowNone is the window id reported when every browser window lost focus.
const WindowNone = -1

// StatusComplete is the tab status of a finished page load.
const StatusComplete = "complete"

// EventType identifies a tracker input.
type EventType string

const (
	EventTabActivated EventType = "tab_activated"
	EventTabUpdated   EventType = "tab_updated"
	EventWindowFocus  EventType = "window_focus"
	EventTimeoutFired EventType = "timeout_fired"
	EventShutdown     EventType = "shutdown"
)

// Tab identifies a browser tab and the address it shows.
type Tab struct {
	ID  int    `json:"tabId"`
	URL string `json:"url"`
}

// Event is one input to the tracker state machine.
type Event struct {
	Type EventType

	// Tab is the subject tab; for window focus it is the window's active tab.
	Tab *Tab

	// Tab update fields
	Status string
	Active bool

	WindowID   int
	Generation uint64
}

// TabActivated reports that tab became the active tab.
func TabActivated(tab Tab) Event {
	return Event{Type: EventTabActivated, Tab: &tab}
}

// TabUpdated reports a tab change. Only completed loads of the active tab
// are tracked.
func TabUpdated(tab Tab, status string, active bool) Event {
	return Event{Type: EventTabUpdated, Tab: &tab, Status: status, Active: active}
}

// WindowFocusChanged reports a focus change. activeTab is nil when the
// focused window has no active tab or windowID is WindowNone.
func WindowFocusChanged(windowID int, activeTab *Tab) Event {
	return Event{Type: EventWindowFocus, WindowID: windowID, Tab: activeTab}
}

// TimeoutFired is produced by the timer armed with generation.
func TimeoutFired(generation uint64) Event {
	return Event{Type: EventTimeoutFired, Generation: generation}
}

// Shutdown asks the tracker to flush and stop tracking.
func Shutdown() Event {
	return Event{Type: EventShutdown}
}

// Session is the currently tracked site visit.
type Session struct {
	ID        string    `json:"id"`
	TabID     int       `json:"tabId"`
	Domain    string    `json:"domain"`
	URL       string    `json:"url"`
	StartTime time.Time `json:"startTime"`
}

// State is the tracker state. A nil Session means Idle.
type State struct {
	Session    *Session
	Armed      bool
	Generation uint64
}

// Status is a point-in-time view of the tracker for the API.
type Status struct {
	Session      *Session `json:"session,omitempty"`
	ElapsedMS    int64    `json:"elapsedMs"`
	TimeoutArmed bool     `json:"timeoutArmed"`
}

// Effect is a side effect requested by Transition.
type Effect interface {
	isEffect()
}

// Flush persists the elapsed time of a finished session under Date.
type Flush struct {
	Session Session
	Elapsed time.Duration
	Date    string
}

// CancelTimeout cancels the pending timeout, if any.
type CancelTimeout struct{}

// ArmTimeout schedules a TimeoutFired event with Generation after Delay.
type ArmTimeout struct {
	Delay      time.Duration
	Generation uint64
}

// Navigate sends the tab to URL.
type Navigate struct {
	TabID int
	URL   string
}

func (Flush) isEffect()         {}
func (CancelTimeout) isEffect() {}
func (ArmTimeout) isEffect()    {}
func (Navigate) isEffect()      {}
