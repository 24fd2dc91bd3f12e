package hart

import (
	"context"

	"github.com/sarchlab/rvtrap/except"
	"github.com/sarchlab/rvtrap/priv"
	"github.com/sarchlab/rvtrap/trap"
)

// TakeException delivers a synchronous exception with the given code
// and tval, computing its target mode from {m,s}edeleg (spec.md §4.1).
// Synchronous exceptions are never vectored and never selective-
// hardware-vectored even under an active CLIC, so this never needs the
// Memory collaborator and never fails. While already halted in Debug
// mode, it never takes the exception architecturally at all (spec.md
// §4.1 step 1, invariant 5) — see takeExceptionInDebug.
func (h *Hart) TakeException(pc uint64, code except.Code, tval uint64) uint64 {
	if h.InDebug {
		h.takeExceptionInDebug()
		return pc
	}

	if !except.Retires(code, h.cfg.Priv1p12OrLater) && !h.CountinhibitIR && h.retire != nil {
		h.retire.Retire()
	}

	target := priv.Delegate(h.Medeleg, h.Sedeleg, uint32(code))
	target = priv.Max(target, h.Mode)

	req := trap.EnterRequest{
		IsInterrupt:       false,
		Code:              uint32(code),
		Tval:              tval,
		PC:                pc,
		CurrentMode:       h.Mode,
		TargetMode:        target,
		Impl:              h.impl(),
		Mstatus:           h.Mstatus,
		CLIC:              h.CLICActive(target),
		TvecBase:          h.Tvec[target].Base(),
		CompressedEnabled: h.cfg.CompressedEnabled,
		TvalZero:          h.cfg.TvalZero,
	}
	if req.CLIC {
		oldLevel := h.Mintstatus.Level(target)
		newLevel := oldLevel
		if target > h.Mode {
			// Vertical delegation into a higher privilege enters at
			// level 0; horizontal delegation keeps the current level
			// (spec.md §4.1 step 7).
			newLevel = 0
		}
		req.NewLevel, req.OldLevel = newLevel, oldLevel
	}

	newPC, _ := h.applyEnter(context.Background(), req)
	return newPC
}

// TakeMemoryException wraps TakeException with the vector unit's
// first-only-fault suppression hook (spec.md §3 invariant 7, §4.1's
// takeMemoryException). vstart is always zero-written first; if
// vFirstFault was set, it is cleared, and if vstart was nonzero before
// that write, the trap is suppressed entirely and vl is clamped to the
// old vstart instead of being taken (spec.md §8 Testable Scenario 4).
func (h *Hart) TakeMemoryException(pc uint64, code except.Code, tval uint64) uint64 {
	oldVStart := h.VStart
	h.VStart = 0

	if h.VFirstFault {
		h.VFirstFault = false
		if oldVStart != 0 {
			h.Vl = oldVStart
			return pc
		}
	}

	return h.TakeException(pc, code, tval)
}

// doReturn implements the common MRET/SRET/URET procedure for the mode
// the xRET instruction names (spec.md §4.2). The caller (typically the
// instruction-decode stage) is responsible for checking that executing
// that xRET from the current mode is legal. While the hart is halted in
// Debug mode, MRET/SRET/URET are NOPs (spec.md §4.2): pc is returned
// unchanged and no architectural state moves.
func (h *Hart) doReturn(pc uint64, mode priv.Mode) uint64 {
	if h.InDebug {
		return pc
	}

	req := trap.ReturnRequest{
		Mode:              mode,
		Impl:              h.impl(),
		Mstatus:           h.Mstatus,
		Xepc:              h.Epc[mode],
		CLIC:              h.CLICActive(mode),
		Xcause:            h.Cause[mode],
		CompressedEnabled: h.cfg.CompressedEnabled,
		Priv1p12OrLater:   h.cfg.Priv1p12OrLater,
	}
	res := trap.Return(req)

	h.Mode = res.NewMode
	h.Mstatus = res.Mstatus
	if req.CLIC {
		h.Mintstatus.SetLevel(mode, res.MintstatusLevel)
	}
	if !h.cfg.PreserveLROnReturn {
		h.ClearReservation()
	}
	h.reportReturn(res.NewMode, res.NewPC)
	return res.NewPC
}

// MRET executes the MRET instruction's common procedure from Machine
// mode. pc is the MRET instruction's own address, returned unchanged if
// the hart is halted in Debug mode (spec.md §4.2).
func (h *Hart) MRET(pc uint64) uint64 { return h.doReturn(pc, priv.Machine) }

// SRET executes the SRET instruction's common procedure from
// Supervisor mode. pc is the SRET instruction's own address, returned
// unchanged if the hart is halted in Debug mode (spec.md §4.2).
func (h *Hart) SRET(pc uint64) uint64 { return h.doReturn(pc, priv.Supervisor) }

// URET executes the URET instruction's common procedure from User
// mode ("N" extension). pc is the URET instruction's own address,
// returned unchanged if the hart is halted in Debug mode (spec.md
// §4.2).
func (h *Hart) URET(pc uint64) uint64 { return h.doReturn(pc, priv.User) }
