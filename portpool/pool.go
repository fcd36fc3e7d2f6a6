package portpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/corviddb/corvid-go/corvidmetrics"
	"github.com/corviddb/corvid-go/internal/address"
	"github.com/corviddb/corvid-go/wireproto"
)

// Dialer opens a new wireproto.Port to addr. Supplied by the caller that
// owns the actual transport (the TCP socket and BDOC framing are external
// collaborators — see wireproto.Port).
type Dialer func(ctx context.Context, addr address.ServerAddress) (wireproto.Port, error)

// Options configures a Pool (and, via Registry, every Pool it creates).
type Options struct {
	// MaxSize bounds the number of ports a Pool will hold open at once,
	// including both idle and checked-out ports.
	MaxSize int

	// AcquireTimeout bounds how long Get will wait for a port to become
	// available once MaxSize is reached, on top of any deadline already
	// present on the caller's context.
	AcquireTimeout time.Duration

	// MaxLifetime evicts a port once it has been open this long, 0
	// disables the check.
	MaxLifetime time.Duration

	Dialer  Dialer
	Metrics corvidmetrics.Recorder
}

func (o Options) withDefaults() Options {
	if o.MaxSize <= 0 {
		o.MaxSize = 10
	}
	if o.AcquireTimeout <= 0 {
		o.AcquireTimeout = 30 * time.Second
	}
	if o.Metrics == nil {
		o.Metrics = corvidmetrics.NullRecorder()
	}
	return o
}

// Stats reports a Pool's current occupancy.
type Stats struct {
	Idle      int
	Active    int
	Total     int
	Waiting   int
	Exhausted int64
}

// Pool owns a bounded multiset of wireproto.Port connections to one
// address, handing out at most one reference per port at a time. Every
// port obtained from Get must eventually reach exactly one of Done (return
// to service) or Error (destroy); doing both, or neither, leaks pool
// bookkeeping.
//
// Safe for concurrent use. Grounded on the bounded-pool discipline of a
// multi-tenant database connection pool: blocking acquire via a
// sync.Cond, Signal (not Broadcast) on return to avoid a thundering herd,
// Broadcast reserved for Close and acquire-timeout wakeups.
type Pool struct {
	addr address.ServerAddress
	opts Options

	mu   sync.Mutex
	cond *sync.Cond

	idle      []*pooledPort
	active    map[*pooledPort]struct{}
	total     int
	waiting   int
	exhausted int64
	closed    bool
}

// New constructs a Pool for addr. Ports are created lazily by Get.
func New(addr address.ServerAddress, opts Options) *Pool {
	p := &Pool{
		addr:   addr,
		opts:   opts.withDefaults(),
		active: make(map[*pooledPort]struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Get returns a port bound to this pool's address, blocking if the pool is
// at capacity until one is returned, the acquire timeout elapses, or ctx is
// done.
func (p *Pool) Get(ctx context.Context) (wireproto.Port, error) {
	deadline := time.Now().Add(p.opts.AcquireTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	p.mu.Lock()
	for {
		select {
		case <-ctx.Done():
			p.mu.Unlock()
			return nil, ctx.Err()
		default:
		}

		if p.closed {
			p.mu.Unlock()
			return nil, fmt.Errorf("portpool: pool for %s is closed", p.addr)
		}

		for len(p.idle) > 0 {
			pc := p.idle[len(p.idle)-1]
			p.idle = p.idle[:len(p.idle)-1]

			if pc.expired(p.opts.MaxLifetime) {
				pc.Close()
				p.total--
				continue
			}

			p.active[pc] = struct{}{}
			pc.lastUsed = time.Now()
			p.recordGaugesLocked()
			p.mu.Unlock()
			return pc, nil
		}

		if p.total < p.opts.MaxSize {
			p.total++
			p.mu.Unlock()

			port, err := p.opts.Dialer(ctx, p.addr)
			if err != nil {
				p.mu.Lock()
				p.total--
				// The failed dial freed a capacity slot; wake a waiter so it
				// can try dialing itself instead of waiting out its timer.
				p.cond.Signal()
				p.mu.Unlock()
				return nil, fmt.Errorf("portpool: dialing %s: %w", p.addr, err)
			}

			pc := newPooledPort(port, p)
			p.mu.Lock()
			p.active[pc] = struct{}{}
			p.recordGaugesLocked()
			p.mu.Unlock()
			return pc, nil
		}

		p.waiting++
		p.exhausted++
		p.opts.Metrics.RecordPoolExhausted(p.addr.String())

		remaining := time.Until(deadline)
		if remaining <= 0 {
			p.waiting--
			p.mu.Unlock()
			return nil, fmt.Errorf("portpool: acquire timeout waiting for %s", p.addr)
		}

		timer := time.AfterFunc(remaining, p.cond.Broadcast)
		p.cond.Wait()
		timer.Stop()
		p.waiting--

		if p.closed {
			p.mu.Unlock()
			return nil, fmt.Errorf("portpool: pool for %s is closed", p.addr)
		}
		if time.Now().After(deadline) {
			p.mu.Unlock()
			return nil, fmt.Errorf("portpool: acquire timeout waiting for %s", p.addr)
		}
		// retry from the top, mu still held
	}
}

// Done returns a healthy port to the pool for reuse.
func (p *Pool) Done(port wireproto.Port) {
	pc, ok := port.(*pooledPort)
	if !ok {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.active, pc)

	if p.closed || pc.expired(p.opts.MaxLifetime) {
		pc.Close()
		p.total--
		p.cond.Signal()
		p.recordGaugesLocked()
		return
	}

	p.idle = append(p.idle, pc)
	p.recordGaugesLocked()
	// Signal, not Broadcast: at most one waiter can use the port that was
	// just returned, and Broadcast would wake every waiter only for all
	// but one to find the pool still exhausted.
	p.cond.Signal()
}

// Error destroys a port that suffered an unrecoverable failure, removing
// it from the pool permanently.
func (p *Pool) Error(port wireproto.Port) {
	pc, ok := port.(*pooledPort)
	if !ok {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.active, pc)
	pc.Close()
	p.total--
	p.recordGaugesLocked()
	p.cond.Signal()
}

// Close closes every idle port and marks the pool closed; further Get calls
// fail. Ports currently checked out are closed as they are returned via
// Done/Error.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for _, pc := range p.idle {
		pc.Close()
		p.total--
	}
	p.idle = nil
	p.recordGaugesLocked()
	p.cond.Broadcast()
}

// Stats reports current occupancy.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Idle:      len(p.idle),
		Active:    len(p.active),
		Total:     p.total,
		Waiting:   p.waiting,
		Exhausted: p.exhausted,
	}
}

func (p *Pool) recordGaugesLocked() {
	addr := p.addr.String()
	p.opts.Metrics.SetPortGauge(addr, corvidmetrics.PortStateIdle, len(p.idle))
	p.opts.Metrics.SetPortGauge(addr, corvidmetrics.PortStateActive, len(p.active))
}
