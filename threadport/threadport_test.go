package threadport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corviddb/corvid-go/internal/address"
	"github.com/corviddb/corvid-go/portpool"
	"github.com/corviddb/corvid-go/wireproto"
)

type stubPort struct{ id int }

func (s *stubPort) Send(ctx context.Context, m wireproto.Message) error { return nil }
func (s *stubPort) Call(ctx context.Context, m wireproto.Message, collection string) (wireproto.Response, error) {
	return nil, nil
}
func (s *stubPort) RunCommand(ctx context.Context, db string, cmd wireproto.Document) (wireproto.CommandResult, error) {
	return nil, nil
}
func (s *stubPort) CheckAuth(ctx context.Context, db string) error { return nil }
func (s *stubPort) Close() error                                   { return nil }

// fixedSource always resolves to one primary pool and an optional
// secondary pool, each backed by a fresh stubPort per dial.
type fixedSource struct {
	primaryPool   *portpool.Pool
	primaryAddr   address.ServerAddress
	secondaryPool *portpool.Pool
	secondaryAddr address.ServerAddress
	hasSecondary  bool
}

func (f *fixedSource) PrimaryPool(ctx context.Context) (*portpool.Pool, address.ServerAddress, error) {
	return f.primaryPool, f.primaryAddr, nil
}

func (f *fixedSource) SecondaryPool(ctx context.Context) (*portpool.Pool, address.ServerAddress, bool) {
	if !f.hasSecondary {
		return nil, address.ServerAddress{}, false
	}
	return f.secondaryPool, f.secondaryAddr, true
}

func newTestSource(hasSecondary bool) *fixedSource {
	var n int
	dialer := func(ctx context.Context, addr address.ServerAddress) (wireproto.Port, error) {
		n++
		return &stubPort{id: n}, nil
	}
	primaryAddr := address.New("primary", 27017)
	f := &fixedSource{
		primaryPool:  portpool.New(primaryAddr, portpool.Options{MaxSize: 4, Dialer: dialer}),
		primaryAddr:  primaryAddr,
		hasSecondary: hasSecondary,
	}
	if hasSecondary {
		secAddr := address.New("secondary", 27017)
		f.secondaryPool = portpool.New(secAddr, portpool.Options{MaxSize: 4, Dialer: dialer})
		f.secondaryAddr = secAddr
	}
	return f
}

func TestAcquireWithoutKeepDoesNotPin(t *testing.T) {
	src := newTestSource(false)
	tp := New(src)

	port, err := tp.Acquire(context.Background(), false, false)
	require.NoError(t, err)
	require.NotNil(t, port)
	assert.Nil(t, tp.port)
}

func TestAcquireWithKeepPinsUntilRelease(t *testing.T) {
	src := newTestSource(false)
	tp := New(src)

	port, err := tp.Acquire(context.Background(), true, false)
	require.NoError(t, err)
	assert.Same(t, port, tp.port)

	tp.Release(port)
	assert.Nil(t, tp.port)
}

func TestRequestStartPinsAcrossCalls(t *testing.T) {
	src := newTestSource(false)
	tp := New(src)

	tp.RequestStart()
	port1, err := tp.Acquire(context.Background(), false, false)
	require.NoError(t, err)
	port2, err := tp.Acquire(context.Background(), false, false)
	require.NoError(t, err)

	assert.Same(t, port1, port2, "every acquire within one request must return the same port")

	tp.RequestDone()
	assert.Nil(t, tp.port)
	assert.False(t, tp.InRequest())
}

func TestFailClearsPinAndDestroysPort(t *testing.T) {
	src := newTestSource(false)
	tp := New(src)

	tp.RequestStart()
	port, err := tp.Acquire(context.Background(), false, false)
	require.NoError(t, err)

	tp.Fail(port, assertErr)
	assert.Nil(t, tp.port)

	// A subsequent Acquire within the same request must obtain a fresh
	// port rather than reuse the destroyed one.
	port2, err := tp.Acquire(context.Background(), false, false)
	require.NoError(t, err)
	assert.NotSame(t, port, port2)
}

func TestRequestEnsureConnectionRequiresActiveRequest(t *testing.T) {
	src := newTestSource(false)
	tp := New(src)

	err := tp.RequestEnsureConnection(context.Background())
	require.Error(t, err)

	tp.RequestStart()
	err = tp.RequestEnsureConnection(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, tp.port)
}

func TestAcquireSlaveOKPrefersSecondaryPool(t *testing.T) {
	src := newTestSource(true)
	tp := New(src)

	port, err := tp.Acquire(context.Background(), true, true)
	require.NoError(t, err)
	assert.Equal(t, 1, src.secondaryPool.Stats().Active)
	assert.Equal(t, 0, src.primaryPool.Stats().Active)

	// keep=true must not pin a secondary port: it is always one-shot.
	assert.Nil(t, tp.port)
	assert.Nil(t, tp.pool)

	tp.Release(port)
	assert.Equal(t, 0, src.secondaryPool.Stats().Active)
}

func TestAcquireSlaveOKIgnoresExistingPinOnSecondaryRoute(t *testing.T) {
	src := newTestSource(true)
	tp := New(src)

	tp.RequestStart()
	primaryPort, err := tp.Acquire(context.Background(), false, false)
	require.NoError(t, err)
	require.Same(t, primaryPort, tp.port, "primary port should be pinned for the request")

	secondaryPort, err := tp.Acquire(context.Background(), false, true)
	require.NoError(t, err)
	assert.NotSame(t, primaryPort, secondaryPort, "a slaveOK read must route to the secondary even mid-request")
	assert.Same(t, primaryPort, tp.port, "the existing pin must survive an unrelated secondary read")

	tp.Release(secondaryPort)
	assert.Equal(t, 0, src.secondaryPool.Stats().Active)

	again, err := tp.Acquire(context.Background(), false, false)
	require.NoError(t, err)
	assert.Same(t, primaryPort, again, "the pinned primary port is still reused for non-slaveOK calls")
}

var assertErr = errDummy{}

type errDummy struct{}

func (errDummy) Error() string { return "dummy failure" }
