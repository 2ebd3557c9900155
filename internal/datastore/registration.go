package datastore

import (
	"sync"

	"go.uber.org/zap"
)

// registration delivers committed changes to one listener. Its queue is
// unbounded so a commit never waits for a slow listener: listeners commonly
// write back into a store themselves.
type registration struct {
	broker   *Broker
	prefix   string
	listener ChangeListener

	mu      sync.Mutex
	pending [][]Change
	wake    chan struct{}
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func newRegistration(b *Broker, prefix string, l ChangeListener) *registration {
	return &registration{
		broker:   b,
		prefix:   prefix,
		listener: l,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

func (r *registration) enqueue(changes []Change) {
	r.mu.Lock()
	r.pending = append(r.pending, changes)
	r.mu.Unlock()
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *registration) run() {
	defer close(r.stopped)
	for {
		select {
		case <-r.done:
			return
		case <-r.wake:
		}
		for {
			r.mu.Lock()
			if len(r.pending) == 0 {
				r.mu.Unlock()
				break
			}
			batch := r.pending[0]
			r.pending = r.pending[1:]
			r.mu.Unlock()

			select {
			case <-r.done:
				return
			default:
			}
			r.deliver(batch)
		}
	}
}

// deliver shields the registration from a panicking listener.
func (r *registration) deliver(batch []Change) {
	defer func() {
		if p := recover(); p != nil {
			r.broker.logger.Error("Change listener panicked",
				zap.String("prefix", r.prefix), zap.Any("panic", p))
		}
	}()
	r.listener.OnDataChanged(batch)
}

func (r *registration) stop() {
	r.once.Do(func() { close(r.done) })
	<-r.stopped
}

// Close ends the registration. Changes not yet delivered are dropped. It
// must not be called from inside the listener's own OnDataChanged.
func (r *registration) Close() {
	r.broker.unregister(r)
	r.stop()
}
