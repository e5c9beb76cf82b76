package xio

// ConnectionStats holds the inline counters the original source bumps in
// its hot path (src/common/xio_connection.c). spec.md lists "logging and
// statistics aggregation" as an out-of-scope external sink, but the
// counters themselves are cheap, load-bearing bookkeeping the distillation
// dropped; SPEC_FULL.md reintroduces them as plain struct fields rather
// than wiring an external aggregator.
type ConnectionStats struct {
	MessagesSent     uint64
	MessagesReceived uint64
	BytesSent        uint64
	BytesReceived    uint64
	Cancellations    uint64
}

// Stats returns a snapshot of the connection's counters.
func (c *Connection) Stats() ConnectionStats { return c.stats }
