package session

import "time"

const (
	DefaultRingTimeout    = 30 * time.Second
	DefaultConnectTimeout = 45 * time.Second
	recentCallsKept       = 64
)

// Policy holds the timing rules shared by caller and callee sides. Both
// sides apply them independently; nothing synchronizes their timers.
type Policy struct {
	// RingTimeout bounds an unanswered ring and the age of ring-phase events.
	RingTimeout time.Duration
	// ConnectTimeout bounds the wait for a remote participant once connecting.
	ConnectTimeout time.Duration
}

func DefaultPolicy() Policy {
	return Policy{RingTimeout: DefaultRingTimeout, ConnectTimeout: DefaultConnectTimeout}
}

func (p Policy) withDefaults() Policy {
	if p.RingTimeout <= 0 {
		p.RingTimeout = DefaultRingTimeout
	}
	if p.ConnectTimeout <= 0 {
		p.ConnectTimeout = DefaultConnectTimeout
	}
	return p
}

// Stale reports whether an event sent at sentAt is too old to act on.
// Events without a timestamp and events from a clock ahead of ours are
// accepted.
func (p Policy) Stale(sentAt, now time.Time) bool {
	if sentAt.IsZero() {
		return false
	}
	return now.Sub(sentAt) > p.RingTimeout
}

// recentCalls remembers calls this session already finished so a
// redelivered ring for one of them is not presented again.
type recentCalls struct {
	order []string
	set   map[string]struct{}
	max   int
}

func newRecentCalls(max int) *recentCalls {
	return &recentCalls{set: make(map[string]struct{}, max), max: max}
}

func (r *recentCalls) add(id string) {
	if id == "" {
		return
	}
	if _, ok := r.set[id]; ok {
		return
	}
	if len(r.order) == r.max {
		delete(r.set, r.order[0])
		r.order = r.order[1:]
	}
	r.order = append(r.order, id)
	r.set[id] = struct{}{}
}

func (r *recentCalls) has(id string) bool {
	_, ok := r.set[id]
	return ok
}
