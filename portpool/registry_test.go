package portpool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corviddb/corvid-go/internal/address"
	"github.com/corviddb/corvid-go/wireproto"
)

func TestRegistryGetCreatesLazilyAndIsIdempotent(t *testing.T) {
	dialer, _ := countingDialer()
	r := NewRegistry(Options{MaxSize: 2, Dialer: dialer})

	addr := address.New("db1", 27017)
	p1, err := r.Get(addr)
	require.NoError(t, err)
	p2, err := r.Get(addr)
	require.NoError(t, err)

	assert.Same(t, p1, p2)
	assert.Len(t, r.Addresses(), 1)
}

func TestRegistryDistinctAddressesGetDistinctPools(t *testing.T) {
	dialer, _ := countingDialer()
	r := NewRegistry(Options{MaxSize: 2, Dialer: dialer})

	p1, err := r.Get(address.New("db1", 27017))
	require.NoError(t, err)
	p2, err := r.Get(address.New("db2", 27017))
	require.NoError(t, err)

	assert.NotSame(t, p1, p2)
}

func TestRegistryCloseClosesPoolsAndRejectsGet(t *testing.T) {
	dialer, _ := countingDialer()
	r := NewRegistry(Options{MaxSize: 2, Dialer: dialer})

	addr := address.New("db1", 27017)
	p, err := r.Get(addr)
	require.NoError(t, err)
	port, err := p.Get(context.Background())
	require.NoError(t, err)
	p.Done(port)

	r.Close()

	_, err = r.Get(address.New("db2", 27017))
	require.Error(t, err)

	_, err = p.Get(context.Background())
	require.Error(t, err)
}

var _ wireproto.Port = (*fakePort)(nil)
