package poller

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Result is one observation of a watched job or version
type Result struct {
	Terminal bool
	Status   string
	Detail   string
}

// FetchFunc retrieves the current status of the watched resource. Errors
// are treated as transient: the watch advances its backoff and retries.
type FetchFunc func(ctx context.Context) (Result, error)

// Options configures the backoff schedule. Delays grow through the list
// and clamp at its last entry; AttemptCap bounds the counter, not the
// polling itself — only a terminal status stops a watch.
type Options struct {
	Delays     []time.Duration
	AttemptCap int
}

// DefaultOptions is the reference schedule: 3s, 5s, 8s clamped, counter
// capped at 10.
var DefaultOptions = Options{
	Delays:     []time.Duration{3 * time.Second, 5 * time.Second, 8 * time.Second},
	AttemptCap: 10,
}

var (
	ErrPollerStopped  = &PollError{"poller is stopped"}
	ErrAlreadyWatched = &PollError{"id is already being watched"}
)

// PollError represents a poller error
type PollError struct {
	msg string
}

func (e *PollError) Error() string {
	return e.msg
}

type watch struct {
	timer   *time.Timer
	fetch   FetchFunc
	onDone  func(Result)
	attempt int
}

// Poller watches jobs and versions until they reach a terminal status.
// Every watch owns its timer handle in the registry; Cancel and Stop
// clear handles so no orphaned timers outlive their watchers.
type Poller struct {
	mu      sync.Mutex
	watches map[string]*watch
	opts    Options
	ctx     context.Context
	cancel  context.CancelFunc
	stopped bool
}

// New creates a poller with the given schedule
func New(opts Options) *Poller {
	if len(opts.Delays) == 0 {
		opts.Delays = DefaultOptions.Delays
	}
	if opts.AttemptCap <= 0 {
		opts.AttemptCap = DefaultOptions.AttemptCap
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		watches: make(map[string]*watch),
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Watch starts polling fetch for id. onDone fires exactly once, on the
// first terminal result; after that no further polls are scheduled.
func (p *Poller) Watch(id string, fetch FetchFunc, onDone func(Result)) error {
	if fetch == nil {
		return fmt.Errorf("fetch func is required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return ErrPollerStopped
	}
	if _, exists := p.watches[id]; exists {
		return ErrAlreadyWatched
	}

	w := &watch{fetch: fetch, onDone: onDone}
	w.timer = time.AfterFunc(p.delayFor(0), func() { p.poll(id) })
	p.watches[id] = w

	return nil
}

// Cancel tears down a watch without waiting for a terminal status. The
// completion callback does not fire. Reports whether a watch existed.
func (p *Poller) Cancel(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	w, ok := p.watches[id]
	if !ok {
		return false
	}
	w.timer.Stop()
	delete(p.watches, id)
	return true
}

// Stop cancels every watch and rejects new ones
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return
	}
	p.stopped = true
	p.cancel()
	for id, w := range p.watches {
		w.timer.Stop()
		delete(p.watches, id)
	}
}

// Count returns the number of in-flight watches
func (p *Poller) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.watches)
}

// delayFor returns the wait before the poll following the given attempt
func (p *Poller) delayFor(attempt int) time.Duration {
	if attempt >= len(p.opts.Delays) {
		attempt = len(p.opts.Delays) - 1
	}
	return p.opts.Delays[attempt]
}

func (p *Poller) poll(id string) {
	p.mu.Lock()
	w, ok := p.watches[id]
	if !ok || p.stopped {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	res, err := w.fetch(p.ctx)

	if err == nil && res.Terminal {
		p.mu.Lock()
		// Whoever removes the watch owns the callback; Cancel may have
		// won the race, in which case the watcher asked for silence.
		_, still := p.watches[id]
		delete(p.watches, id)
		p.mu.Unlock()

		if still && w.onDone != nil {
			w.onDone(res)
		}
		return
	}

	// Transient errors and non-terminal results both advance the backoff
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, still := p.watches[id]; !still || p.stopped {
		return
	}
	if w.attempt < p.opts.AttemptCap {
		w.attempt++
	}
	w.timer = time.AfterFunc(p.delayFor(w.attempt), func() { p.poll(id) })
}
