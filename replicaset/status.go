// Package replicaset tracks a Corvid cluster's topology: which candidate
// addresses exist, which one (if any) currently self-reports as primary,
// and which are reachable secondaries.
package replicaset

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/corviddb/corvid-go/internal/address"
)

// defaultStaleAfter mirrors a typical heartbeat period: a probe older than
// this is treated as unknown rather than trusted.
const defaultStaleAfter = 90 * time.Second

const defaultRefreshInterval = 10 * time.Second

// Prober probes one candidate address and reports its self-reported role.
// Implemented in terms of the same wireproto.Port contract the rest of the
// driver uses — probing is just a command call, not a distinct protocol.
type Prober interface {
	Probe(ctx context.Context, addr address.ServerAddress) (isPrimary bool, err error)
}

// Options configures a Status tracker.
type Options struct {
	Prober          Prober
	StaleAfter      time.Duration
	RefreshInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.StaleAfter <= 0 {
		o.StaleAfter = defaultStaleAfter
	}
	if o.RefreshInterval <= 0 {
		o.RefreshInterval = defaultRefreshInterval
	}
	return o
}

// Status is a background-refreshed view of replica-set topology. Construct
// with New and call Close when done to stop its refresh goroutine: a
// ticker-driven goroutine, a stopCh/doneCh pair for graceful shutdown, and a
// sync.Once-guarded Close.
type Status struct {
	opts Options

	mu         sync.Mutex
	candidates []address.ServerAddress
	nodes      map[address.ServerAddress]Node
	rrIndex    int

	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

// New constructs a Status tracker from a non-empty seed list and starts its
// background refresh goroutine immediately.
func New(seeds []address.ServerAddress, opts Options) (*Status, error) {
	if len(seeds) == 0 {
		return nil, fmt.Errorf("replicaset: seed list must not be empty")
	}
	opts = opts.withDefaults()
	if opts.Prober == nil {
		return nil, fmt.Errorf("replicaset: Options.Prober is required")
	}

	s := &Status{
		opts:       opts,
		candidates: append([]address.ServerAddress(nil), seeds...),
		nodes:      make(map[address.ServerAddress]Node, len(seeds)),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	for _, a := range seeds {
		s.nodes[a] = Node{Address: a}
	}

	go s.refreshLoop()
	return s, nil
}

func (s *Status) refreshLoop() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.opts.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.refreshOnce(context.Background())
		}
	}
}

// refreshOnce probes every candidate and updates the node table. Probe
// failures mark a node unreachable rather than removing it — a transiently
// unreachable node may come back on the next refresh.
func (s *Status) refreshOnce(ctx context.Context) {
	s.mu.Lock()
	candidates := append([]address.ServerAddress(nil), s.candidates...)
	s.mu.Unlock()

	now := time.Now()
	for _, addr := range candidates {
		isPrimary, err := s.opts.Prober.Probe(ctx, addr)

		s.mu.Lock()
		if err != nil {
			n := s.nodes[addr]
			n.Address = addr
			n.Reachable = false
			s.nodes[addr] = n
		} else {
			s.nodes[addr] = Node{
				Address:   addr,
				IsPrimary: isPrimary,
				Reachable: true,
				LastProbe: now,
			}
		}
		s.mu.Unlock()
	}
}

// EnsureMaster returns the current primary node, forcing a synchronous
// refresh first if the primary is unknown or its self-report has gone
// stale. It never returns a node whose most recent probe did not report
// primary.
func (s *Status) EnsureMaster(ctx context.Context) (*Node, error) {
	if n := s.currentPrimary(); n != nil {
		return n, nil
	}

	s.refreshOnce(ctx)

	if n := s.currentPrimary(); n != nil {
		return n, nil
	}
	return nil, fmt.Errorf("replicaset: no reachable primary")
}

func (s *Status) currentPrimary() *Node {
	s.mu.Lock()
	defer s.mu.Unlock()

	staleBefore := time.Now().Add(-s.opts.StaleAfter)
	for _, n := range s.nodes {
		if n.Reachable && n.IsPrimary && !n.stale(staleBefore) {
			node := n
			return &node
		}
	}
	return nil
}

// Invalidate discards addr's cached self-report, typically because the node
// answered "not master" or failed mid-call. The node stays a candidate, but
// its report is now treated as unknown: the next EnsureMaster re-probes
// instead of trusting an entry that may still look fresh within the
// staleness window.
func (s *Status) Invalidate(addr address.ServerAddress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.nodes[addr]; ok {
		n.IsPrimary = false
		n.LastProbe = time.Time{}
		s.nodes[addr] = n
	}
}

// ASecondary returns a believed-healthy secondary, round-robining across
// calls so repeated calls spread load rather than always favoring the same
// node. Returns false if no secondary is currently known healthy.
func (s *Status) ASecondary() (address.ServerAddress, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	staleBefore := time.Now().Add(-s.opts.StaleAfter)
	var healthy []address.ServerAddress
	for _, addr := range s.candidates {
		n, ok := s.nodes[addr]
		if ok && n.Reachable && !n.IsPrimary && !n.stale(staleBefore) {
			healthy = append(healthy, addr)
		}
	}
	if len(healthy) == 0 {
		return address.ServerAddress{}, false
	}

	s.rrIndex = (s.rrIndex + 1) % len(healthy)
	return healthy[s.rrIndex], true
}

// Close stops the background refresh goroutine. Idempotent.
func (s *Status) Close() {
	s.closeOnce.Do(func() {
		close(s.stopCh)
		<-s.doneCh
	})
}
