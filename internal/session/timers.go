package session

import "time"

type timerKind int

const (
	timerRing timerKind = iota
	timerConnect
)

func (k timerKind) String() string {
	if k == timerRing {
		return "ring"
	}
	return "connect"
}

// timers holds every timer the session may have armed. cancelAll is called
// on every status change, and firings carry the generation they were armed
// in, so a firing that raced with cancellation is recognised and dropped.
type timers struct {
	ring    *time.Timer
	connect *time.Timer
	gen     uint64
}

func (t *timers) arm(kind timerKind, d time.Duration, fire func(kind timerKind, gen uint64)) {
	gen := t.gen
	tm := time.AfterFunc(d, func() { fire(kind, gen) })
	switch kind {
	case timerRing:
		t.ring = tm
	case timerConnect:
		t.connect = tm
	}
}

func (t *timers) cancelAll() {
	if t.ring != nil {
		t.ring.Stop()
		t.ring = nil
	}
	if t.connect != nil {
		t.connect.Stop()
		t.connect = nil
	}
	t.gen++
}

func (t *timers) current(gen uint64) bool {
	return gen == t.gen
}
