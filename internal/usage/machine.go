package usage

import (
	"time"

	"github.com/goodtune/kidswatch/internal/policy"
	"github.com/goodtune/kidswatch/internal/storage"
	"github.com/google/uuid"
)

// Env is the input Transition needs besides the state and the event.
type Env struct {
	Now         time.Time
	Settings    storage.Settings
	TimeoutPage string

	// Allowed defaults to policy.IsAllowed.
	Allowed func(domain string, allowlist []string) bool
	// NewID defaults to random UUIDs.
	NewID func() string
}

// Transition computes the next tracker state and the effects to perform.
// It never fails: events that cannot be acted on leave the state unchanged.
func Transition(state State, ev Event, env Env) (State, []Effect) {
	switch ev.Type {
	case EventTabActivated:
		if ev.Tab == nil {
			return state, nil
		}
		return startTracking(state, *ev.Tab, env)

	case EventTabUpdated:
		if ev.Tab == nil || ev.Status != StatusComplete || !ev.Active {
			return state, nil
		}
		return startTracking(state, *ev.Tab, env)

	case EventWindowFocus:
		if ev.WindowID == WindowNone {
			return stopTracking(state, env)
		}
		if ev.Tab == nil {
			return state, nil
		}
		return startTracking(state, *ev.Tab, env)

	case EventTimeoutFired:
		if !state.Armed || ev.Generation != state.Generation {
			// Stale timer that raced a cancel.
			return state, nil
		}
		state.Armed = false
		if state.Session == nil {
			return state, nil
		}
		return state, []Effect{Navigate{TabID: state.Session.TabID, URL: env.TimeoutPage}}

	case EventShutdown:
		return stopTracking(state, env)
	}

	return state, nil
}

func startTracking(state State, tab Tab, env Env) (State, []Effect) {
	domain, err := policy.DomainOf(tab.URL)
	if err != nil {
		return state, nil
	}

	state, effects := stopTracking(state, env)

	newID := env.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	state.Session = &Session{
		ID:        newID(),
		TabID:     tab.ID,
		Domain:    domain,
		URL:       tab.URL,
		StartTime: env.Now,
	}

	allowed := env.Allowed
	if allowed == nil {
		allowed = policy.IsAllowed
	}
	if env.Settings.IsEnabled && !allowed(domain, env.Settings.Allowlist) {
		state.Generation++
		state.Armed = true
		effects = append(effects, ArmTimeout{
			Delay:      env.Settings.TimeoutDuration(),
			Generation: state.Generation,
		})
	}

	return state, effects
}

func stopTracking(state State, env Env) (State, []Effect) {
	var effects []Effect

	if s := state.Session; s != nil {
		elapsed := env.Now.Sub(s.StartTime)
		if elapsed < 0 {
			elapsed = 0
		}
		effects = append(effects, Flush{Session: *s, Elapsed: elapsed, Date: storage.DateOf(env.Now)})
		state.Session = nil
	}

	if state.Armed {
		effects = append(effects, CancelTimeout{})
		state.Armed = false
	}

	return state, effects
}
