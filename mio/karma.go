package mio

import "time"

// Karma is a per-connection read-rate credit scheme: bytes read are
// charged against Val on every tick; once it goes negative the
// connection's reads are paused until a heartbeat restores it above
// Restore.
type Karma struct {
	Val        int
	Max        int
	Inc        int
	Dec        int
	Penalty    int
	Restore    int
	LastUpdate time.Time
	Bytes      int
}

// DefaultKarma matches jabberd14's c2s defaults: generous enough that a
// well-behaved client never notices it.
func DefaultKarma() Karma {
	return Karma{
		Val:     5,
		Max:     20,
		Inc:     1,
		Dec:     1,
		Penalty: -6,
		Restore: 0,
	}
}

// ReadBudget returns how many bytes this tick's read may consume:
// |karma| × 100, capped at bufCap (and bufCap itself when karma is 0).
func (k *Karma) ReadBudget(bufCap int) int {
	budget := k.Val * 100
	if budget < 0 {
		budget = -budget
	}
	if budget > bufCap {
		budget = bufCap
	}
	if budget == 0 {
		budget = bufCap
	}
	return budget
}

// Check charges n bytes against the karma window, applying Dec/Penalty
// when KARMA_READ_MAX is exceeded. Returns true if reads should pause.
func (k *Karma) Check(n, readMax int) (paused bool) {
	k.Bytes += n
	if k.Bytes <= readMax {
		return k.Val <= 0
	}
	k.Bytes = 0
	k.Val -= k.Dec
	if k.Val <= 0 {
		k.Val = k.Penalty
		return true
	}
	return false
}

// Heartbeat runs karma_increment: called periodically (2s by default) to
// let a paused connection recover. Returns true when karma just crossed
// back above Restore (reads may resume and the caller should wake the
// connection).
func (k *Karma) Heartbeat(now time.Time) (resumed bool) {
	wasPaused := k.Val <= k.Restore
	k.Val += k.Inc
	if k.Val > k.Max {
		k.Val = k.Max
	}
	k.LastUpdate = now
	return wasPaused && k.Val > k.Restore
}
