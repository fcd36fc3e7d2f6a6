// Package address defines ServerAddress, the value identity of a Corvid
// cluster node.
package address

import "fmt"

// ServerAddress identifies one server by host and port. Two addresses are
// equal when their fields are equal, never by pointer identity — this
// matters because candidate addresses frequently arrive from different
// sources (a static seed list vs. a replica-set member report) and must
// still compare equal to avoid spurious duplicate pool entries.
type ServerAddress struct {
	Host string
	Port int
}

// New builds a ServerAddress from host and port.
func New(host string, port int) ServerAddress {
	return ServerAddress{Host: host, Port: port}
}

// String renders "host:port", suitable for dialing and for log fields.
func (a ServerAddress) String() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// IsZero reports whether a is the zero value (no address set).
func (a ServerAddress) IsZero() bool {
	return a == ServerAddress{}
}
