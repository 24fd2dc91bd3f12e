// Package signal models the hart's external net ports (spec.md §4.6,
// §6): NMI, the debugger's haltreq/resethaltreq lines, the basic-mode
// external-interrupt ID value ports, deferint, and the store-
// conditional reservation-valid input. There is no reset port; package
// hart's Reset reinitializes a hart directly. Each port is a small,
// independently testable value type; package hart wires them into the
// trap/interrupt/debug-mode machinery.
package signal

// Edge classifies a level transition.
type Edge int

const (
	// NoEdge means the line's value did not change.
	NoEdge Edge = iota
	// RisingEdge means the line went false -> true.
	RisingEdge
	// FallingEdge means the line went true -> false.
	FallingEdge
)

// Line is a level-sensitive external input: it remembers its current
// value and reports the edge, if any, produced by each new sample.
type Line struct {
	value bool
}

// Value returns the line's current level.
func (l *Line) Value() bool { return l.value }

// Set applies a new sample and reports the resulting edge.
func (l *Line) Set(v bool) Edge {
	switch {
	case v == l.value:
		return NoEdge
	case v:
		l.value = true
		return RisingEdge
	default:
		l.value = false
		return FallingEdge
	}
}

// NMILatch models the non-maskable-interrupt line: edge-triggered and
// sticky (the reference's doNMI). It writes no CSR; package hart's
// SetNMI mirrors the input line's live level into dcsr.nmip (spec.md
// SPEC_FULL §D.4). Unlike Line, once asserted it stays
// pending across further samples until the hart explicitly Acks it,
// even if the input line itself has since deasserted.
type NMILatch struct {
	line    Line
	pending bool
}

// Set applies a new sample of the NMI input line. A rising edge latches
// pending regardless of the line's later behavior.
func (n *NMILatch) Set(v bool) {
	if n.line.Set(v) == RisingEdge {
		n.pending = true
	}
}

// Pending reports whether an NMI is latched and awaiting delivery.
func (n *NMILatch) Pending() bool { return n.pending }

// Ack clears the latch once the hart has taken the NMI trap.
func (n *NMILatch) Ack() { n.pending = false }

// ExternalInterrupts holds the three basic-mode external-interrupt ID
// ports (U/S/M): a value port, not a level, that substitutes the
// reported exception code for the corresponding mode's external-
// interrupt range when nonzero (spec.md §4.6's net-port table,
// "<Mode>ExternalInterruptID | in | value | substitute reported code",
// the reference's extInt[] array indexed via
// except.ExternalInterruptRange). This is distinct from the generic
// per-interrupt pending lines, which feed mip instead of substituting
// the cause code.
type ExternalInterrupts struct {
	codes [3]uint32
}

// SetValue writes the substitution code for the port at offset (0=U,
// 1=S, 2=M, per except.ExternalInterruptRange). Zero means "no
// substitution": the original exception code is reported unchanged.
func (e *ExternalInterrupts) SetValue(offset int, code uint32) {
	e.codes[offset] = code
}

// Value returns the current substitution code for the port at offset.
func (e *ExternalInterrupts) Value(offset int) uint32 {
	return e.codes[offset]
}

// DebugRequests bundles the debugger-driven halt lines: haltreq and
// resethaltreq are level-held while the debugger wants the hart halted;
// resethaltreq additionally captures "halt immediately out of reset"
// (spec.md §4.3, §4.6).
type DebugRequests struct {
	Haltreq      Line
	Resethaltreq Line
}

// DeferInt is a level input that, while asserted, holds off interrupt
// delivery at the fetch boundary even though one is pending+enabled
// (spec.md §4.6, the reference's deferint net port) — used by a bus
// model to delay delivery until an in-flight access completes.
type DeferInt struct {
	line Line
}

// Set applies a new sample.
func (d *DeferInt) Set(v bool) Edge { return d.line.Set(v) }

// Asserted reports whether interrupt delivery should currently be held off.
func (d *DeferInt) Asserted() bool { return d.line.Value() }

// SCValid is the store-conditional reservation-valid input: an
// externally driven line the bus deasserts to revoke the hart's LR/SC
// reservation out from under it, independent of trap entry or return
// (spec.md §4.6, §6's net-port table, the reference's SC_valid net
// port).
type SCValid struct {
	line Line
}

// Set applies a new sample and reports the resulting edge.
func (s *SCValid) Set(v bool) Edge { return s.line.Set(v) }

// Value returns the current reservation-valid level.
func (s *SCValid) Value() bool { return s.line.Value() }
