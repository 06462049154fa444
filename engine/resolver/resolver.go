// Package resolver implements the async resolver: a dedicated worker
// goroutine performing blocking name resolution, decoupled from the event
// loop through request/result channels. The caller (engine wiring) is
// responsible for forwarding Results onto the event loop via Loop.Post, so
// host state is only ever touched on the loop goroutine.
package resolver

import (
	"context"
	"errors"
	"net"
	"time"
)

// ErrTimeout is reported when resolution succeeds with zero address
// records; an empty answer is a timeout, not a success.
var ErrTimeout = errors.New("resolver: no address records")

// Job is one outbound resolve request. Ref is an opaque handle (the engine
// passes a Host's identity) round-tripped back on the matching Result so
// the loop can find which Host to update without the resolver package
// knowing about Host at all.
type Job struct {
	Ref      interface{}
	Hostname string
	Port     uint16
}

// Result is one inbound resolve outcome, matched to its Job by Ref.
type Result struct {
	Ref  interface{}
	Addr *net.UDPAddr
	Err  error
}

// Resolver runs exactly one worker goroutine. Construct with New, Start it,
// Queue jobs, and Stop it once during engine teardown.
type Resolver struct {
	jobs    chan Job
	results chan Result
	quit    chan struct{}
	done    chan struct{}

	// lookup is overridable for tests; defaults to a real net.Resolver.
	lookup func(ctx context.Context, hostname string) ([]net.IP, error)

	// idlePoll bounds how long the worker blocks with an empty queue,
	// capping shutdown latency at 500ms.
	idlePoll time.Duration
}

// New creates a Resolver with the given queue depth.
func New(queueDepth int) *Resolver {
	r := &Resolver{
		jobs:     make(chan Job, queueDepth),
		results:  make(chan Result, queueDepth),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		idlePoll: 500 * time.Millisecond,
	}
	r.lookup = r.defaultLookup
	return r
}

func (r *Resolver) defaultLookup(ctx context.Context, hostname string) ([]net.IP, error) {
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, hostname)
	if err != nil {
		return nil, err
	}
	ips := make([]net.IP, len(addrs))
	for i, a := range addrs {
		ips[i] = a.IP
	}
	return ips, nil
}

// Start launches the worker goroutine.
func (r *Resolver) Start() {
	go r.run()
}

// Queue enqueues a resolve job and returns immediately. Never blocks the
// caller beyond the channel's buffer — a full queue is a configuration
// problem (too many hosts, too small a buffer), not a protocol condition
// this package is responsible for signalling.
func (r *Resolver) Queue(j Job) {
	select {
	case r.jobs <- j:
	case <-r.quit:
	}
}

// Results returns the channel the caller must drain (typically by
// forwarding each Result onto the event loop via Loop.Post). Results are
// delivered in completion order, not submission order.
func (r *Resolver) Results() <-chan Result { return r.results }

// Done returns a channel closed once the worker goroutine has exited
// (after Stop). The caller's Results-draining goroutine selects on this
// to know when to stop forwarding.
func (r *Resolver) Done() <-chan struct{} { return r.done }

// Stop signals the worker to quit, waits for it to exit, and then drains the
// outbound queue, discarding any jobs still in it. Safe to call once.
func (r *Resolver) Stop() {
	close(r.quit)
	<-r.done
	for {
		select {
		case <-r.jobs:
		default:
			return
		}
	}
}

func (r *Resolver) run() {
	defer close(r.done)
	for {
		select {
		case <-r.quit:
			return
		case j := <-r.jobs:
			r.resolve(j)
		case <-time.After(r.idlePoll):
		}
	}
}

func (r *Resolver) resolve(j Job) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	res := Result{Ref: j.Ref}

	if ip := net.ParseIP(j.Hostname); ip != nil {
		res.Addr = &net.UDPAddr{IP: ip, Port: int(j.Port)}
	} else {
		ips, err := r.lookup(ctx, j.Hostname)
		switch {
		case err != nil:
			res.Err = err
		case len(ips) == 0:
			res.Err = ErrTimeout
		default:
			res.Addr = &net.UDPAddr{IP: ips[0], Port: int(j.Port)}
		}
	}

	select {
	case r.results <- res:
	case <-r.quit:
	}
}
