package connector

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corviddb/corvid-go/internal/address"
	"github.com/corviddb/corvid-go/wireproto"
)

type testMessage struct {
	flags wireproto.MessageFlag
	done  int32
}

func (m *testMessage) Flags() wireproto.MessageFlag { return m.flags }
func (m *testMessage) DoneWithMessage()             { atomic.AddInt32(&m.done, 1) }

type testResponse struct {
	err  *wireproto.ServerError
	docs []wireproto.Document
}

func (r *testResponse) GetError() (*wireproto.ServerError, bool) {
	if r.err == nil {
		return nil, false
	}
	return r.err, true
}
func (r *testResponse) Documents() []wireproto.Document { return r.docs }

type testCommandResult struct {
	ok  bool
	doc wireproto.Document
}

func (r *testCommandResult) Ok() bool                     { return r.ok }
func (r *testCommandResult) Document() wireproto.Document { return r.doc }

type testWriteConcern struct {
	ack          bool
	raiseNetwork bool
	cmd          wireproto.Document
}

func (w *testWriteConcern) CallGetLastError() bool      { return w.ack }
func (w *testWriteConcern) RaiseNetworkErrors() bool    { return w.raiseNetwork }
func (w *testWriteConcern) Command() wireproto.Document { return w.cmd }

// scriptedPort is a wireproto.Port test double whose Call/RunCommand/Send
// behavior is supplied per test via closures.
type scriptedPort struct {
	addr address.ServerAddress

	sendFn       func(ctx context.Context, m wireproto.Message) error
	callFn       func(ctx context.Context, m wireproto.Message, collection string) (wireproto.Response, error)
	runCommandFn func(ctx context.Context, db string, cmd wireproto.Document) (wireproto.CommandResult, error)

	closed int32
}

func (p *scriptedPort) Send(ctx context.Context, m wireproto.Message) error {
	if p.sendFn != nil {
		return p.sendFn(ctx, m)
	}
	return nil
}

func (p *scriptedPort) Call(ctx context.Context, m wireproto.Message, collection string) (wireproto.Response, error) {
	if p.callFn != nil {
		return p.callFn(ctx, m, collection)
	}
	return &testResponse{}, nil
}

func (p *scriptedPort) RunCommand(ctx context.Context, db string, cmd wireproto.Document) (wireproto.CommandResult, error) {
	if p.runCommandFn != nil {
		return p.runCommandFn(ctx, db, cmd)
	}
	return &testCommandResult{ok: true}, nil
}

func (p *scriptedPort) CheckAuth(ctx context.Context, db string) error { return nil }

func (p *scriptedPort) Close() error {
	atomic.StoreInt32(&p.closed, 1)
	return nil
}

func newSingleNodeConnector(t *testing.T, addr address.ServerAddress, factory func(addr address.ServerAddress) *scriptedPort) (*Connector, *int32) {
	t.Helper()
	var dials int32
	dialer := func(ctx context.Context, a address.ServerAddress) (wireproto.Port, error) {
		atomic.AddInt32(&dials, 1)
		return factory(a), nil
	}
	c, err := New([]address.ServerAddress{addr}, Options{
		Dialer:         dialer,
		PoolSize:       2,
		AcquireTimeout: time.Second,
	})
	require.NoError(t, err)
	return c, &dials
}

// Scenario 1: single-node call success; no pinned port remains afterward.
func TestScenarioSingleNodeCallSuccess(t *testing.T) {
	addr := address.New("127.0.0.1", 27017)
	c, _ := newSingleNodeConnector(t, addr, func(a address.ServerAddress) *scriptedPort {
		return &scriptedPort{addr: a}
	})
	defer c.Close()

	handle := c.NewThreadPort()
	msg := &testMessage{}
	resp, err := c.Call(context.Background(), handle, "t", "c", msg)
	require.NoError(t, err)
	require.NotNil(t, resp)
	_, ok := resp.GetError()
	assert.False(t, ok)

	assert.False(t, handle.InRequest())
	assert.Equal(t, 0, c.primaryPool.Stats().Active, "the port must have been released back to the pool")
	assert.Equal(t, int32(1), atomic.LoadInt32(&msg.done), "DoneWithMessage runs exactly once per Call")
}

// Scenario 2: duplicate key; port is returned to the pool, not fenced.
func TestScenarioDuplicateKeyDoesNotFencePort(t *testing.T) {
	addr := address.New("127.0.0.1", 27017)
	c, _ := newSingleNodeConnector(t, addr, func(a address.ServerAddress) *scriptedPort {
		return &scriptedPort{
			addr: a,
			runCommandFn: func(ctx context.Context, db string, cmd wireproto.Document) (wireproto.CommandResult, error) {
				return &testCommandResult{ok: true, doc: wireproto.Document{
					"err":  "E11000 duplicate key error collection: t.c index: a_1 dup key: { a: 1 }",
					"code": int32(11000),
				}}, nil
			},
		}
	})
	defer c.Close()

	handle := c.NewThreadPort()
	wc := &testWriteConcern{ack: true}
	_, err := c.Say(context.Background(), handle, "t", &testMessage{}, wc)
	require.Error(t, err)

	var dup *DuplicateKeyError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, int32(11000), dup.Code)
	assert.Contains(t, dup.Message, "E11000")

	stats := c.primaryPool.Stats()
	assert.Equal(t, 1, stats.Total, "the port must still be pooled, not destroyed")
	assert.Equal(t, 1, stats.Idle)
}

func TestSayUnacknowledgedReleasesPortWithoutAckRoundTrip(t *testing.T) {
	addr := address.New("127.0.0.1", 27017)
	var commands int32
	c, _ := newSingleNodeConnector(t, addr, func(a address.ServerAddress) *scriptedPort {
		return &scriptedPort{
			addr: a,
			runCommandFn: func(ctx context.Context, db string, cmd wireproto.Document) (wireproto.CommandResult, error) {
				atomic.AddInt32(&commands, 1)
				return &testCommandResult{ok: true}, nil
			},
		}
	})
	defer c.Close()

	handle := c.NewThreadPort()
	msg := &testMessage{}
	res, err := c.Say(context.Background(), handle, "t", msg, &testWriteConcern{ack: false})
	require.NoError(t, err)
	assert.False(t, res.Confirmed)
	assert.True(t, res.OK)
	assert.Equal(t, int32(0), atomic.LoadInt32(&commands), "no acknowledgement command without ack")
	assert.Equal(t, int32(1), atomic.LoadInt32(&msg.done))
	assert.Equal(t, 0, c.primaryPool.Stats().Active)
}

func TestSayNetworkFailureSuppressedByWriteConcern(t *testing.T) {
	addr := address.New("127.0.0.1", 27017)
	c, _ := newSingleNodeConnector(t, addr, func(a address.ServerAddress) *scriptedPort {
		return &scriptedPort{
			addr: a,
			sendFn: func(ctx context.Context, m wireproto.Message) error {
				return assertIOErr{}
			},
		}
	})
	defer c.Close()

	handle := c.NewThreadPort()
	res, err := c.Say(context.Background(), handle, "t", &testMessage{}, &testWriteConcern{ack: true, raiseNetwork: false})
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, "NETWORK ERROR", res.Message)

	assert.Equal(t, 0, c.primaryPool.Stats().Total, "the failed port must have been fenced, not pooled")
}

func TestSayNetworkFailureRaisedByWriteConcern(t *testing.T) {
	addr := address.New("127.0.0.1", 27017)
	c, _ := newSingleNodeConnector(t, addr, func(a address.ServerAddress) *scriptedPort {
		return &scriptedPort{
			addr: a,
			sendFn: func(ctx context.Context, m wireproto.Message) error {
				return assertIOErr{}
			},
		}
	})
	defer c.Close()

	handle := c.NewThreadPort()
	_, err := c.Say(context.Background(), handle, "t", &testMessage{}, &testWriteConcern{ack: true, raiseNetwork: true})
	require.Error(t, err)

	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, 0, c.primaryPool.Stats().Total)
}

func TestSayWriteFailureIsNotDuplicateKey(t *testing.T) {
	addr := address.New("127.0.0.1", 27017)
	c, _ := newSingleNodeConnector(t, addr, func(a address.ServerAddress) *scriptedPort {
		return &scriptedPort{
			addr: a,
			runCommandFn: func(ctx context.Context, db string, cmd wireproto.Document) (wireproto.CommandResult, error) {
				return &testCommandResult{ok: true, doc: wireproto.Document{
					"err":  "document too large",
					"code": int32(10334),
				}}, nil
			},
		}
	})
	defer c.Close()

	handle := c.NewThreadPort()
	_, err := c.Say(context.Background(), handle, "t", &testMessage{}, &testWriteConcern{ack: true})
	require.Error(t, err)

	var wf *WriteFailureError
	require.ErrorAs(t, err, &wf)
	assert.Equal(t, int32(10334), wf.Code)
}

// Scenario 3: not-master failover from hostA to hostB, through the real
// construction path. The replica set first discovers hostA as primary with
// a genuine probe, so its cached report is fresh when hostA steps down —
// only the not-master invalidation can make the retry re-probe and land on
// hostB instead of exhausting retries against the stale entry.
func TestScenarioNotMasterFailover(t *testing.T) {
	hostA := address.New("hostA", 27017)
	hostB := address.New("hostB", 27017)

	var mu sync.Mutex
	primary := hostA
	currentPrimary := func() address.ServerAddress {
		mu.Lock()
		defer mu.Unlock()
		return primary
	}

	dialer := func(ctx context.Context, a address.ServerAddress) (wireproto.Port, error) {
		return &scriptedPort{
			addr: a,
			runCommandFn: func(ctx context.Context, db string, cmd wireproto.Document) (wireproto.CommandResult, error) {
				return &testCommandResult{ok: true, doc: wireproto.Document{
					"ismaster": a == currentPrimary(),
				}}, nil
			},
			callFn: func(ctx context.Context, m wireproto.Message, collection string) (wireproto.Response, error) {
				if a != currentPrimary() {
					return &testResponse{err: &wireproto.ServerError{Code: 10107, Message: "not master"}}, nil
				}
				return &testResponse{}, nil
			},
		}, nil
	}

	c, err := New([]address.ServerAddress{hostA, hostB}, Options{
		Dialer:          dialer,
		PoolSize:        2,
		AcquireTimeout:  time.Second,
		RefreshInterval: time.Hour, // no background refresh runs during the test
	})
	require.NoError(t, err)
	defer c.Close()

	handle := c.NewThreadPort()

	// Prime the topology: the first call discovers hostA as primary.
	resp, err := c.Call(context.Background(), handle, "db", "coll", &testMessage{})
	require.NoError(t, err)
	_, hasErr := resp.GetError()
	assert.False(t, hasErr)
	assert.Equal(t, hostA, c.Address())

	// hostA steps down. Its cached probe report is still well within the
	// staleness window, so only the not-master response can force the
	// re-probe that flips the primary.
	mu.Lock()
	primary = hostB
	mu.Unlock()

	resp, err = c.Call(context.Background(), handle, "db", "coll", &testMessage{})
	require.NoError(t, err)
	_, hasErr = resp.GetError()
	assert.False(t, hasErr)
	assert.Equal(t, hostB, c.Address())
}

// Scenario 4: I/O retry is suppressed against the command pseudo-collection.
func TestScenarioCommandCollectionSuppressesRetry(t *testing.T) {
	addr := address.New("127.0.0.1", 27017)
	attempts := int32(0)
	c, dials := newSingleNodeConnector(t, addr, func(a address.ServerAddress) *scriptedPort {
		return &scriptedPort{
			addr: a,
			callFn: func(ctx context.Context, m wireproto.Message, collection string) (wireproto.Response, error) {
				atomic.AddInt32(&attempts, 1)
				return nil, assertIOErr{}
			},
		}
	})
	defer c.Close()

	handle := c.NewThreadPort()
	msg := &testMessage{}
	_, err := c.Call(context.Background(), handle, "admin", "$cmd", msg)
	require.Error(t, err)

	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts), "a $cmd I/O failure must not be retried")
	assert.Equal(t, int32(1), atomic.LoadInt32(dials))
	assert.Equal(t, int32(1), atomic.LoadInt32(&msg.done), "DoneWithMessage runs exactly once even on the error path")
}

type assertIOErr struct{}

func (assertIOErr) Error() string { return "simulated I/O error" }

// Scenario 5: request ordering pins every call in a request to one Port.
func TestScenarioRequestOrderingSharesOnePort(t *testing.T) {
	addr := address.New("127.0.0.1", 27017)
	c, dials := newSingleNodeConnector(t, addr, func(a address.ServerAddress) *scriptedPort {
		return &scriptedPort{addr: a}
	})
	defer c.Close()

	handle := c.NewThreadPort()
	handle.RequestStart()

	_, err := c.Call(context.Background(), handle, "t", "c", &testMessage{})
	require.NoError(t, err)
	_, err = c.Call(context.Background(), handle, "t", "c", &testMessage{})
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(dials), "both calls within one request must reuse the same dialed port")

	handle.RequestDone()
	assert.False(t, handle.InRequest())

	_, err = c.Call(context.Background(), handle, "t", "c", &testMessage{})
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(dials), "a call after RequestDone reuses a pooled port rather than dialing again")
}

func TestNewRejectsEmptyAddressList(t *testing.T) {
	_, err := New(nil, Options{Dialer: func(ctx context.Context, a address.ServerAddress) (wireproto.Port, error) {
		return &scriptedPort{}, nil
	}})
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestCloseRejectsFurtherCalls(t *testing.T) {
	addr := address.New("127.0.0.1", 27017)
	c, _ := newSingleNodeConnector(t, addr, func(a address.ServerAddress) *scriptedPort {
		return &scriptedPort{addr: a}
	})
	require.NoError(t, c.Close())

	handle := c.NewThreadPort()
	_, err := c.Call(context.Background(), handle, "t", "c", &testMessage{})
	require.ErrorIs(t, err, ErrClosed)
}
