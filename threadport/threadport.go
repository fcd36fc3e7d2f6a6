// Package threadport implements the explicit per-request connection handle
// that stands in for thread-local "current connection" state. Go has no
// goroutine-local storage, so the handle is passed explicitly by the
// caller instead of being looked up implicitly.
package threadport

import (
	"context"
	"fmt"

	"github.com/corviddb/corvid-go/internal/address"
	"github.com/corviddb/corvid-go/portpool"
	"github.com/corviddb/corvid-go/wireproto"
)

// PoolSource resolves the pools a ThreadPort may acquire from. Implemented
// by connector.Connector; declared here (rather than imported from there)
// so threadport has no dependency on connector, avoiding an import cycle.
type PoolSource interface {
	// PrimaryPool returns the pool for the current primary address.
	PrimaryPool(ctx context.Context) (*portpool.Pool, address.ServerAddress, error)

	// SecondaryPool returns a pool for a believed-healthy secondary, if
	// one is known.
	SecondaryPool(ctx context.Context) (*portpool.Pool, address.ServerAddress, bool)
}

// ThreadPort is per-request connection-pinning state, exclusively owned by
// whichever goroutine holds it. Never share one ThreadPort across
// goroutines concurrently.
type ThreadPort struct {
	source PoolSource

	// port/pool hold the pinned port, if any: one that persists across
	// multiple Acquire calls rather than going back to its pool on Release.
	port wireproto.Port
	pool *portpool.Pool

	// active/activePool track whatever port the most recent Acquire
	// handed out, pinned or not, so Release/Fail know which pool to route
	// a one-shot (non-pinned) port back to.
	active     wireproto.Port
	activePool *portpool.Pool

	inRequest bool
}

// New constructs a ThreadPort bound to source. Callers obtain one via
// connector.Connector.NewThreadPort rather than calling this directly.
func New(source PoolSource) *ThreadPort {
	return &ThreadPort{source: source}
}

// Acquire returns a port to use for one operation.
//
// If slaveOK is set and source has a selectable secondary, a fresh port is
// taken from that secondary's pool and returned unpinned: it is always a
// one-shot port, even if keep is true and even if a primary port is
// already pinned on this handle, since routing a secondary-eligible read
// must not be blocked by or disturb an in-progress request's pin.
//
// Otherwise, an already-pinned port is reused as long as it still belongs
// to the current primary pool; if the primary has changed underneath it
// (failover), the stale port is returned to its old pool and a fresh one
// is drawn from the new primary pool. The newly drawn port is pinned on
// the handle — kept until the matching Release or Fail instead of
// returning to the pool immediately — when keep is true or a request is
// active, so that every operation within one request travels over the
// same connection.
func (t *ThreadPort) Acquire(ctx context.Context, keep bool, slaveOK bool) (wireproto.Port, error) {
	if slaveOK {
		if pool, _, ok := t.source.SecondaryPool(ctx); ok {
			port, err := pool.Get(ctx)
			if err != nil {
				return nil, err
			}
			t.active, t.activePool = port, pool
			return port, nil
		}
	}

	primary, _, err := t.source.PrimaryPool(ctx)
	if err != nil {
		return nil, err
	}

	if t.port != nil {
		if t.pool == primary {
			t.active, t.activePool = t.port, t.pool
			return t.port, nil
		}
		t.pool.Done(t.port)
		t.port, t.pool = nil, nil
	}

	port, err := primary.Get(ctx)
	if err != nil {
		return nil, err
	}

	t.active, t.activePool = port, primary
	if keep || t.inRequest {
		t.port, t.pool = port, primary
	}
	return port, nil
}

// Release returns port to its pool for reuse. If a request is active and
// port is the pinned port, it stays pinned on the handle instead (it is
// not returned to the pool until RequestDone or a stale-pool replacement
// in Acquire); otherwise it is unpinned and returned immediately, whether
// or not it was ever pinned.
func (t *ThreadPort) Release(port wireproto.Port) {
	if t.inRequest && t.port == port {
		t.active, t.activePool = nil, nil
		return
	}
	if t.active == port && t.activePool != nil {
		t.activePool.Done(port)
	}
	if t.port == port {
		t.port, t.pool = nil, nil
	}
	t.active, t.activePool = nil, nil
}

// Fail destroys port after an unrecoverable failure (cause), removing it
// from its pool permanently and clearing the pin if it was the pinned
// port. The next Acquire within an active request obtains a fresh port.
func (t *ThreadPort) Fail(port wireproto.Port, cause error) {
	switch {
	case t.port == port && t.pool != nil:
		t.pool.Error(port)
	case t.active == port && t.activePool != nil:
		t.activePool.Error(port)
	}
	if t.port == port {
		t.port, t.pool = nil, nil
	}
	if t.active == port {
		t.active, t.activePool = nil, nil
	}
}

// RequestStart begins a request: until the matching RequestDone, every
// Acquire served from the primary pool reuses the same pinned port, so
// operations within one request travel over the same connection and in
// order. slaveOK reads routed to a secondary, and a change of primary, are
// handled as Acquire describes.
func (t *ThreadPort) RequestStart() {
	t.inRequest = true
}

// RequestEnsureConnection pins a port for the active request if one is not
// already pinned, without performing a caller-visible operation on it.
func (t *ThreadPort) RequestEnsureConnection(ctx context.Context) error {
	if !t.inRequest {
		return fmt.Errorf("threadport: RequestEnsureConnection called without an active request")
	}
	if t.port != nil {
		return nil
	}
	_, err := t.Acquire(ctx, true, false)
	return err
}

// RequestDone ends the active request, returning any pinned port to its
// pool and clearing the pin.
func (t *ThreadPort) RequestDone() {
	if t.port != nil && t.pool != nil {
		t.pool.Done(t.port)
	}
	t.port, t.pool = nil, nil
	t.active, t.activePool = nil, nil
	t.inRequest = false
}

// InRequest reports whether a request is currently active on this handle.
func (t *ThreadPort) InRequest() bool {
	return t.inRequest
}
