// Package portpool manages bounded pools of wireproto.Port connections, one
// pool per server address, and a Registry mapping addresses to pools.
package portpool

import (
	"time"

	"github.com/corviddb/corvid-go/wireproto"
)

// pooledPort wraps a wireproto.Port with the bookkeeping a Pool needs:
// which pool it belongs to, and when it was created (for max-lifetime
// eviction).
type pooledPort struct {
	wireproto.Port

	pool      *Pool
	createdAt time.Time
	lastUsed  time.Time
}

func newPooledPort(p wireproto.Port, owner *Pool) *pooledPort {
	now := time.Now()
	return &pooledPort{Port: p, pool: owner, createdAt: now, lastUsed: now}
}

func (pc *pooledPort) expired(maxLifetime time.Duration) bool {
	if maxLifetime <= 0 {
		return false
	}
	return time.Since(pc.createdAt) > maxLifetime
}
