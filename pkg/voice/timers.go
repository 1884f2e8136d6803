package voice

import (
	"sync"
	"time"
)

// timerGroup owns every scheduled task for one session so they can be
// cancelled as a group on session end. Setting a name that already exists
// reschedules it.
type timerGroup struct {
	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
}

func newTimerGroup() *timerGroup {
	return &timerGroup{timers: make(map[string]*time.Timer)}
}

// set schedules fn after d under name, replacing any previous schedule for
// that name. No-op after stopAll.
func (g *timerGroup) set(name string, d time.Duration, fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped {
		return
	}
	if t, ok := g.timers[name]; ok {
		t.Stop()
	}
	g.timers[name] = time.AfterFunc(d, func() {
		g.mu.Lock()
		delete(g.timers, name)
		stopped := g.stopped
		g.mu.Unlock()
		if !stopped {
			fn()
		}
	})
}

// clear cancels one named schedule if present.
func (g *timerGroup) clear(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if t, ok := g.timers[name]; ok {
		t.Stop()
		delete(g.timers, name)
	}
}

// clearPrefix cancels every schedule whose name starts with prefix.
func (g *timerGroup) clearPrefix(prefix string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for name, t := range g.timers {
		if len(name) >= len(prefix) && name[:len(prefix)] == prefix {
			t.Stop()
			delete(g.timers, name)
		}
	}
}

// stopAll cancels everything and rejects future schedules.
func (g *timerGroup) stopAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopped = true
	for name, t := range g.timers {
		t.Stop()
		delete(g.timers, name)
	}
}
