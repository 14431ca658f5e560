// Package throttle spaces out emissions per actor. It sits after the gate:
// a throttled action was allowed and recorded, it is only held back from
// proceeding until the actor's interval elapses.
package throttle

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/danielpatrickdp/trustgate/internal/gate"
)

// Outcome pairs the gate decision with the throttle verdict.
type Outcome struct {
	Decision  gate.EmitDecision `json:"decision"`
	Throttled bool              `json:"throttled"`
}

// Proceed reports whether the caller may act now.
func (o Outcome) Proceed() bool {
	return o.Decision.Allowed && !o.Throttled
}

type actor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Emitter tracks one limiter per actor.
type Emitter struct {
	interval time.Duration
	now      func() time.Time

	mu     sync.Mutex
	actors map[string]*actor
}

// NewEmitter allows at most one emission per interval per actor. A zero
// interval disables throttling.
func NewEmitter(interval time.Duration) *Emitter {
	return &Emitter{
		interval: interval,
		now:      time.Now,
		actors:   make(map[string]*actor),
	}
}

// Admit consumes a token only for allowed decisions. Denied decisions pass
// through untouched and do not reset the actor's interval.
func (e *Emitter) Admit(d gate.EmitDecision) Outcome {
	if !d.Allowed || e.interval <= 0 {
		return Outcome{Decision: d}
	}
	now := e.now()
	return Outcome{Decision: d, Throttled: !e.limiter(d.ActorID, now).AllowN(now, 1)}
}

// Forget drops limiters for actors not seen within idle. idle never drops
// below the emit interval: a limiter evicted earlier would come back with a
// full token and let the actor emit ahead of schedule.
func (e *Emitter) Forget(idle time.Duration) int {
	if idle < e.interval {
		idle = e.interval
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	cutoff := e.now().Add(-idle)
	n := 0
	for id, a := range e.actors {
		if a.lastSeen.Before(cutoff) {
			delete(e.actors, id)
			n++
		}
	}
	return n
}

func (e *Emitter) limiter(actorID string, now time.Time) *rate.Limiter {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.actors[actorID]
	if !ok {
		a = &actor{limiter: rate.NewLimiter(rate.Every(e.interval), 1)}
		e.actors[actorID] = a
	}
	a.lastSeen = now
	return a.limiter
}
