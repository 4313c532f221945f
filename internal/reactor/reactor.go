// Package reactor runs every callback on one goroutine, so the code it drives
// never needs its own locks.
package reactor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	rcron "github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var ErrStopped = errors.New("reactor stopped")

// specParser accepts standard five-field specs, an optional seconds field and
// descriptors such as "@every 1h".
var specParser = rcron.NewParser(rcron.SecondOptional | rcron.Minute | rcron.Hour | rcron.Dom | rcron.Month | rcron.Dow | rcron.Descriptor)

type Reactor struct {
	log   *zap.SugaredLogger
	queue chan func()
	cron  *rcron.Cron

	mu      sync.Mutex
	timers  map[string]*time.Timer // key -> pending one-shot timer
	entries map[string]rcron.EntryID
	done    chan struct{}
	stopped bool
}

func New(log *zap.SugaredLogger) *Reactor {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Reactor{
		log:     log,
		queue:   make(chan func(), 64),
		cron:    rcron.New(rcron.WithParser(specParser)),
		timers:  map[string]*time.Timer{},
		entries: map[string]rcron.EntryID{},
		done:    make(chan struct{}),
	}
}

// Run executes posted callbacks until ctx ends.
func (r *Reactor) Run(ctx context.Context) error {
	r.cron.Start()
	defer r.shutdown()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-r.queue:
			r.invoke(fn)
		}
	}
}

func (r *Reactor) invoke(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Errorw("reactor callback panicked", "panic", rec)
		}
	}()
	fn()
}

func (r *Reactor) shutdown() {
	stopCtx := r.cron.Stop()
	<-stopCtx.Done()
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, t := range r.timers {
		t.Stop()
		delete(r.timers, key)
	}
	if !r.stopped {
		r.stopped = true
		close(r.done)
	}
}

// Post queues fn for the loop. It returns ErrStopped once the loop has exited.
func (r *Reactor) Post(fn func()) error {
	select {
	case <-r.done:
		return ErrStopped
	default:
	}
	select {
	case r.queue <- fn:
		return nil
	case <-r.done:
		return ErrStopped
	}
}

const (
	callQueued int32 = iota
	callRunning
	callAbandoned
)

// Call runs fn on the loop and waits for it to return. If ctx ends or the loop
// stops before fn starts, fn is dropped and the error returned; once fn has
// started, Call waits for it and returns nil.
func (r *Reactor) Call(ctx context.Context, fn func()) error {
	var state atomic.Int32
	finished := make(chan struct{})
	if err := r.Post(func() {
		if !state.CompareAndSwap(callQueued, callRunning) {
			return
		}
		defer close(finished)
		fn()
	}); err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		if state.CompareAndSwap(callQueued, callAbandoned) {
			return ctx.Err()
		}
	case <-r.done:
		if state.CompareAndSwap(callQueued, callAbandoned) {
			return ErrStopped
		}
	}
	<-finished
	return nil
}

// Schedule arms a one-shot timer under key. An existing timer for the same key is
// replaced. fn receives the key and runs on the loop.
func (r *Reactor) Schedule(key string, at time.Time, fn func(key string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.timers[key]; ok {
		old.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(time.Until(at), func() {
		r.mu.Lock()
		if r.timers[key] != t {
			r.mu.Unlock()
			return
		}
		delete(r.timers, key)
		r.mu.Unlock()
		if err := r.Post(func() { fn(key) }); err != nil {
			r.log.Debugw("timer fired after stop", "key", key)
		}
	})
	r.timers[key] = t
}

// Pending lists keys with an armed timer.
func (r *Reactor) Pending() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.timers))
	for k := range r.timers {
		keys = append(keys, k)
	}
	return keys
}

// Every registers a cron job under name; each firing runs fn on the loop.
// Registering the same name again replaces the job.
func (r *Reactor) Every(name, spec string, fn func()) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.entries[name]; ok {
		r.cron.Remove(id)
		delete(r.entries, name)
	}
	id, err := r.cron.AddFunc(spec, func() {
		if err := r.Post(fn); err != nil {
			r.log.Debugw("cron job fired after stop", "job", name)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule %s (%s): %w", name, spec, err)
	}
	r.entries[name] = id
	return nil
}

// ValidateSpec reports whether spec is accepted by Every.
func ValidateSpec(spec string) error {
	_, err := specParser.Parse(spec)
	return err
}
