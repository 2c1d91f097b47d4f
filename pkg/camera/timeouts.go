package camera

import "time"

// OpType names an operation class with its own timeout.
type OpType string

const (
	OpPing     OpType = "ping"
	OpTCP      OpType = "tcp"
	OpHTTP     OpType = "http"
	OpSnapshot OpType = "snapshot"
	OpStream   OpType = "stream"
)

// Timeouts maps operation classes to per-call deadlines.
type Timeouts map[OpType]time.Duration

// DefaultTimeouts returns the stock timeout table.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		OpPing:     3 * time.Second,
		OpTCP:      5 * time.Second,
		OpHTTP:     10 * time.Second,
		OpSnapshot: 15 * time.Second,
		OpStream:   30 * time.Second,
	}
}

// For returns the timeout for op, falling back to the default table and
// finally to the HTTP timeout.
func (t Timeouts) For(op OpType) time.Duration {
	if d, ok := t[op]; ok && d > 0 {
		return d
	}
	def := DefaultTimeouts()
	if d, ok := def[op]; ok {
		return d
	}
	return def[OpHTTP]
}
