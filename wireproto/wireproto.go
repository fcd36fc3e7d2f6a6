// Package wireproto declares the contracts a concrete wire connection and
// message must satisfy for connector and portpool to drive it. Nothing in
// this package dials a socket or encodes a message — those are external
// collaborators; this package only names the seam between them and the
// coordinator.
package wireproto

import "context"

// Document is a BDOC-shaped value: a decoded document, typically built by a
// wire.DocumentBuilder, or a value the caller constructs for an outbound
// command.
type Document = map[string]any

// MessageFlag is a bit in a Message's options bitset.
type MessageFlag uint32

// SlaveOK is the only flag bit the core interrogates directly: when set, a
// request is permitted to be served by a secondary rather than requiring
// the primary.
const SlaveOK MessageFlag = 1 << 2

// Message is one outbound wire request. Encoding is an external concern;
// Message only exposes what the core needs to route and release it.
type Message interface {
	// Flags returns the message's options bitset.
	Flags() MessageFlag

	// DoneWithMessage releases any resources (pooled buffers, pinned
	// memory) held by the message. Invoked exactly once after the message
	// has been sent or abandoned.
	DoneWithMessage()
}

// HasFlag reports whether f is set in the message's flag bitset.
func HasFlag(m Message, f MessageFlag) bool {
	return m.Flags()&f != 0
}

// ServerError is a structured error a server attached to a response.
type ServerError struct {
	Code    int32
	Message string
}

func (e *ServerError) Error() string {
	return e.Message
}

// IsNotMaster reports whether this error indicates the target server is no
// longer (or never was) the primary, the trigger for Connector failover.
func (e *ServerError) IsNotMaster() bool {
	switch e.Code {
	case 10107, 13435, 13436:
		return true
	default:
		return false
	}
}

// IsDuplicateKey reports whether this error indicates a unique-index
// violation, which Connector never retries.
func (e *ServerError) IsDuplicateKey() bool {
	return e.Code == 11000 || e.Code == 11001
}

// Response is the decoded result of a Call.
type Response interface {
	// GetError returns the server-reported error embedded in the
	// response, if any.
	GetError() (*ServerError, bool)

	// Documents returns the response's result documents.
	Documents() []Document
}

// CommandResult is the decoded result of RunCommand.
type CommandResult interface {
	// Ok reports whether the command's "ok" field is truthy.
	Ok() bool

	// Document returns the full decoded command reply.
	Document() Document
}

// WriteConcern governs whether Say waits for and interprets an
// acknowledgement after an outbound write.
type WriteConcern interface {
	// CallGetLastError reports whether Say must follow the write with an
	// acknowledgement command.
	CallGetLastError() bool

	// RaiseNetworkErrors reports whether a network failure while sending
	// the write or during the acknowledgement round trip should be
	// surfaced to the caller, as opposed to being treated as an
	// unconfirmed (but possibly successful) write.
	RaiseNetworkErrors() bool

	// Command returns the acknowledgement command document to send.
	Command() Document
}

// Port is one owned, stateful wire connection to a single server. A Port is
// never shared between concurrent callers: whoever acquires it from a pool
// holds it exclusively until Send/Call/RunCommand/CheckAuth return and the
// caller hands it back (via portpool.Pool.Done or .Error).
type Port interface {
	// Send transmits message without waiting for a response. Say uses it
	// for every write; an acknowledged write follows it with RunCommand.
	Send(ctx context.Context, message Message) error

	// Call transmits message and waits for its response.
	Call(ctx context.Context, message Message, collection string) (Response, error)

	// RunCommand sends command against db and waits for its reply.
	RunCommand(ctx context.Context, db string, command Document) (CommandResult, error)

	// CheckAuth verifies (and if necessary performs) authentication
	// against db. The handshake implementation itself is an external
	// collaborator; Port only exposes the seam.
	CheckAuth(ctx context.Context, db string) error

	// Close tears down the underlying connection. Called by a Pool when
	// a Port is destroyed rather than recycled.
	Close() error
}
