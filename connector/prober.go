package connector

import (
	"context"
	"fmt"

	"github.com/corviddb/corvid-go/internal/address"
	"github.com/corviddb/corvid-go/portpool"
	"github.com/corviddb/corvid-go/wireproto"
)

// defaultProber implements replicaset.Prober by round-tripping the same
// isMaster-style command a Connector uses for everything else — probing is
// just a command call against the same Port contract, not a distinct
// protocol.
type defaultProber struct {
	registry *portpool.Registry
}

func (p *defaultProber) Probe(ctx context.Context, addr address.ServerAddress) (bool, error) {
	pool, err := p.registry.Get(addr)
	if err != nil {
		return false, fmt.Errorf("connector: probing %s: %w", addr, err)
	}

	port, err := pool.Get(ctx)
	if err != nil {
		return false, fmt.Errorf("connector: probing %s: %w", addr, err)
	}

	result, err := port.RunCommand(ctx, "admin", wireproto.Document{"isMaster": int32(1)})
	if err != nil {
		pool.Error(port)
		return false, fmt.Errorf("connector: probing %s: %w", addr, err)
	}
	pool.Done(port)

	if !result.Ok() {
		return false, fmt.Errorf("connector: isMaster against %s did not report ok", addr)
	}
	isPrimary, _ := result.Document()["ismaster"].(bool)
	return isPrimary, nil
}
