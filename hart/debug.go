package hart

import (
	"github.com/sarchlab/rvtrap/clic"
	"github.com/sarchlab/rvtrap/csr"
	"github.com/sarchlab/rvtrap/debugmode"
	"github.com/sarchlab/rvtrap/except"
	"github.com/sarchlab/rvtrap/priv"
	"github.com/sarchlab/rvtrap/trap"
)

// enterDebug commits a Debug-mode entry: it resolves reasons to a
// single dcsr.cause, latches dpc/dcsr, and switches execution privilege
// to Machine, the way real implementations run Debug-mode program
// buffers with Machine-level CSR visibility (spec.md §4.3).
func (h *Hart) enterDebug(reasons debugmode.Reasons, pc uint64) {
	cause, ok := debugmode.SelectCause(reasons)
	if !ok {
		return
	}
	fromMode := h.Mode
	h.Dcsr = debugmode.Enter(h.Dcsr, fromMode, cause)
	h.Dpc = pc
	h.InDebug = true
	h.Mode = priv.Machine
	h.stepTimer.Disarm()
	h.Halted |= HaltDebug
	if h.logger != nil {
		h.logger.DebugEntered(cause, fromMode)
	}
}

// EBREAK executes the EBREAK instruction at pc: it enters Debug mode
// when the executing mode's dcsr.ebreak{m,s,u} bit is set, re-halts
// immediately if already in Debug mode, and otherwise raises a
// Breakpoint exception (spec.md §4.3, §4.1). It returns the PC to
// resume fetching from.
func (h *Hart) EBREAK(pc uint64) uint64 {
	if h.InDebug || debugmode.EbreakEntersDebug(h.Dcsr, h.Mode) {
		// The EBREAK itself always retires, but Debug-mode entry
		// diverts it away from the normal retirement call the host
		// makes after every instruction, and that call would then be
		// suppressed by dcsr.stopcount once h.InDebug is set below.
		// Count it directly here instead (SPEC_FULL §D.5, the
		// reference's riscvEBREAK stopcount adjustment).
		if h.retire != nil && h.Dcsr.Stopcount() {
			h.retire.Retire()
		}
		h.enterDebug(debugmode.ReasonEbreak, pc)
		return pc
	}
	tval := pc
	if h.cfg.Priv1p12OrLater {
		tval = 0
	}
	return h.TakeException(pc, except.Breakpoint, tval)
}

// DRET executes the DRET instruction at pc: legal only in Debug mode.
// Outside Debug mode it raises an Illegal Instruction exception instead
// of returning an error to an unspecified caller (spec.md §4.2, §8
// Scenario 6), mirroring the reference's riscvDRET. rawInstruction
// supplies mtval when the exception is taken.
func (h *Hart) DRET(pc uint64, rawInstruction uint64) uint64 {
	if !h.InDebug {
		_, tval := trap.IllegalInstruction(rawInstruction, h.cfg.TvalIICode, h.cfg.TvalZero)
		return h.TakeException(pc, except.IllegalInstruction, tval)
	}
	h.Mode = debugmode.Leave(h.Dcsr, h.impl())
	h.InDebug = false
	h.Halted &^= HaltDebug
	return h.Dpc
}

// takeExceptionInDebug aborts an exception raised while already halted
// in Debug mode instead of taking it architecturally: the repeated
// instruction (e.g. from program-buffer execution) is simply abandoned
// and Debug mode re-latches cause None, leaving dpc/prv untouched since
// the hart never left Debug in the first place (spec.md §4.1 step 1,
// invariant 5; the reference's riscvTakeException inDebugMode check,
// which calls vmirtAbortRepeat then enterDM(riscv, DMC_NONE)).
func (h *Hart) takeExceptionInDebug() {
	h.Dcsr.SetCause(csr.CauseNone)
	h.stepTimer.Disarm()
}

// SetNMI samples the NMI input line, live-mirroring it into dcsr.nmip
// (spec.md §4.6, §4.3) and waking the hart from WFI if it was halted.
func (h *Hart) SetNMI(v bool) {
	h.NMI.Set(v)
	h.Dcsr.SetNmip(v)
	h.wakeFromWFI()
}

// SetHaltreq samples the debugger's haltreq line.
func (h *Hart) SetHaltreq(v bool) { h.Debug.Haltreq.Set(v) }

// SetResethaltreq samples the debugger's resethaltreq line.
func (h *Hart) SetResethaltreq(v bool) { h.Debug.Resethaltreq.Set(v) }

// CheckHaltRequest halts the hart into Debug mode at pc if haltreq is
// currently asserted and the hart is not already in Debug mode. The host
// calls this at a fetch/retirement boundary (spec.md §4.3); it returns
// true if the hart just halted.
func (h *Hart) CheckHaltRequest(pc uint64) bool {
	if h.InDebug || !h.Debug.Haltreq.Value() {
		return false
	}
	h.enterDebug(debugmode.ReasonHaltreq, pc)
	return true
}

// Reset reinitializes the hart's architectural state, preserving its
// configuration and host collaborators. If resethaltreq is currently
// asserted, the hart halts directly into Debug mode instead of
// resuming normal execution, and Reset reports that with haltedInDebug.
func (h *Hart) Reset() (haltedInDebug bool) {
	resetHalt := h.Debug.Resethaltreq.Value()
	haltReq := h.Debug.Haltreq.Value()

	cfg, cliccfg, mem, log, ret := h.cfg, h.cliccfg, h.memory, h.logger, h.retire
	*h = Hart{cfg: cfg, cliccfg: cliccfg, memory: mem, logger: log, retire: ret, Mode: priv.Machine, Reservation: NoTag}
	if cfg.CLIC != nil {
		h.CLIC = clic.NewHart(*cfg.CLIC, cliccfg)
	}
	h.Debug.Resethaltreq.Set(resetHalt)
	h.Debug.Haltreq.Set(haltReq)

	if resetHalt {
		h.enterDebug(debugmode.ReasonResethaltreq, 0)
		return true
	}
	return false
}
