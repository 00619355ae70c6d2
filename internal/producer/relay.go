package producer

import (
	"github.com/ayusman/gesturedog/internal/gesture"
)

// relayBuffer is how many transitions may wait for slow listeners before new
// ones are dropped.
const relayBuffer = 64

// relay hands transitions to the session's listeners on its own goroutine, in
// order, so a slow store insert or broker publish never holds up a frame.
type relay struct {
	sess      *Session
	listeners []TransitionListener
	events    chan gesture.Transition
	done      chan struct{}
}

func newRelay(sess *Session, listeners []TransitionListener) *relay {
	r := &relay{
		sess:      sess,
		listeners: listeners,
		events:    make(chan gesture.Transition, relayBuffer),
		done:      make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *relay) run() {
	defer close(r.done)
	for t := range r.events {
		for _, l := range r.listeners {
			l(r.sess, t)
		}
	}
}

// send queues t without blocking. It returns false when the queue is full.
func (r *relay) send(t gesture.Transition) bool {
	select {
	case r.events <- t:
		return true
	default:
		return false
	}
}

// stop delivers what is already queued and waits for the listeners to
// return. send must not be called afterwards.
func (r *relay) stop() {
	close(r.events)
	<-r.done
}
