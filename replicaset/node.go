package replicaset

import (
	"time"

	"github.com/corviddb/corvid-go/internal/address"
)

// Node is one member of a replica set as last observed by a probe.
type Node struct {
	Address address.ServerAddress

	// IsPrimary is this node's self-reported role as of LastProbe.
	IsPrimary bool

	// Reachable reports whether the most recent probe succeeded at all.
	Reachable bool

	// LastProbe is when this node's state was last refreshed.
	LastProbe time.Time
}

// stale reports whether n's self-report is too old to trust, per the
// staleness window.
func (n Node) stale(staleAfter time.Time) bool {
	return n.LastProbe.Before(staleAfter)
}
