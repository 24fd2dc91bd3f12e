// Package debugmode implements the Debug-mode entry/exit decisions
// (spec.md §4.3): which of several simultaneous halt requests wins,
// whether an EBREAK enters Debug mode or raises a Breakpoint exception,
// and the one-shot single-step timer. It does not own dcsr or dpc
// storage itself; package hart holds those and calls into here for the
// decisions.
package debugmode

import (
	"github.com/sarchlab/rvtrap/csr"
	"github.com/sarchlab/rvtrap/priv"
)

// Reasons is a bitmask of simultaneously-asserted halt requests
// (mirrors the reference's independent haltreq/resethaltreq/step/ebreak
// net ports, which can all be live in the same cycle).
type Reasons uint8

const (
	ReasonEbreak Reasons = 1 << iota
	ReasonTrigger
	ReasonHaltreq
	ReasonStep
	ReasonResethaltreq
)

// priorityOrder lists reasons from highest to lowest priority when more
// than one is asserted at once. resethaltreq and haltreq are debugger
// requests and outrank the hart's own trigger/ebreak/step causes;
// trigger outranks ebreak because a trigger match is detected before
// the EBREAK opcode itself would be acted on.
var priorityOrder = []struct {
	reason Reasons
	cause  csr.Cause
}{
	{ReasonResethaltreq, csr.CauseResethaltreq},
	{ReasonHaltreq, csr.CauseHaltreq},
	{ReasonTrigger, csr.CauseTrigger},
	{ReasonEbreak, csr.CauseEbreak},
	{ReasonStep, csr.CauseStep},
}

// SelectCause resolves a bitmask of simultaneous halt requests to the
// single dcsr.cause value Debug-mode entry should record, per the
// priority order above. It reports false if no reason is asserted.
func SelectCause(r Reasons) (csr.Cause, bool) {
	for _, p := range priorityOrder {
		if r&p.reason != 0 {
			return p.cause, true
		}
	}
	return csr.CauseNone, false
}

// Enter computes the dcsr value Debug-mode entry should latch: prv set
// to the mode being left, cause set to the resolved reason (spec.md
// §4.3, the reference's enterDM).
func Enter(dcsr csr.Dcsr, fromMode priv.Mode, cause csr.Cause) csr.Dcsr {
	dcsr.SetPrv(fromMode)
	dcsr.SetCause(cause)
	return dcsr
}

// Leave returns the mode Debug-mode exit (DRET) should resume in
// (spec.md §4.3, the reference's leaveDM): dcsr.prv, clamped to a mode
// the hart actually implements in case configuration changed while in
// Debug mode.
func Leave(dcsr csr.Dcsr, impl priv.Implemented) priv.Mode {
	return priv.Clamp(impl, dcsr.Prv())
}

// EbreakEntersDebug reports whether an EBREAK executed in mode should
// enter Debug mode (true) or raise a Breakpoint exception (false), per
// dcsr.{ebreakm,ebreaks,ebreaku} (spec.md §4.3, the reference's
// riscvEBREAK). It never enters Debug mode from within Debug mode
// itself — that case is handled by the caller re-halting directly.
func EbreakEntersDebug(dcsr csr.Dcsr, mode priv.Mode) bool {
	return dcsr.EbreakEnter(mode)
}

// StepTimer models dcsr.step's one-shot single-step trigger (spec.md
// §4.3, the reference's riscvSetStepBreakpoint): once armed, it fires
// exactly once, on the instruction boundary after the one that armed
// it, then disarms itself.
type StepTimer struct {
	armed  bool
	primed bool
}

// Arm enables the timer to fire after the next instruction retires.
// Calling Arm again before it fires restarts the count, so it fires after
// the instruction that follows the latest Arm.
func (t *StepTimer) Arm() {
	t.armed = true
	t.primed = false
}

// Disarm cancels a pending single-step, e.g. because dcsr.step was
// cleared or Debug mode was entered for an unrelated reason.
func (t *StepTimer) Disarm() {
	t.armed = false
	t.primed = false
}

// State returns the timer's internal armed/primed flags, for
// save/restore (spec.md §9).
func (t *StepTimer) State() (armed, primed bool) { return t.armed, t.primed }

// SetState restores the timer's internal flags from a prior State call.
func (t *StepTimer) SetState(armed, primed bool) { t.armed, t.primed = armed, primed }

// Retired notifies the timer that one instruction has retired. It
// primes the timer on the first retirement after Arm and reports true
// (meaning: halt for single-step) on the retirement after that,
// disarming itself in the process — this two-phase scheme lets the
// instruction that re-entered Running mode retire exactly once before
// halting again.
func (t *StepTimer) Retired() bool {
	if !t.armed {
		return false
	}
	if !t.primed {
		t.primed = true
		return false
	}
	t.armed = false
	t.primed = false
	return true
}
