package hart

import (
	"context"

	"github.com/sarchlab/rvtrap/clic"
	"github.com/sarchlab/rvtrap/csr"
	"github.com/sarchlab/rvtrap/except"
	"github.com/sarchlab/rvtrap/interrupt"
	"github.com/sarchlab/rvtrap/priv"
	"github.com/sarchlab/rvtrap/trap"
)

// candidate is one fetch-boundary interrupt-taking option: either the
// basic selector's or the CLIC selector's pick, not yet committed.
type candidate struct {
	ok  bool
	req trap.EnterRequest
}

func (h *Hart) basicCandidate() candidate {
	id := h.selectBasic()
	if id == interrupt.NoInt {
		return candidate{}
	}
	mode := interrupt.TargetMode(interrupt.Delegation{Mideleg: h.Mideleg, Sideleg: h.Sideleg}, id)
	return candidate{
		ok: true,
		req: trap.EnterRequest{
			IsInterrupt:       true,
			Code:              uint32(id),
			CurrentMode:       h.Mode,
			TargetMode:        mode,
			Impl:              h.impl(),
			Mstatus:           h.Mstatus,
			Vectored:          h.effectiveMode(mode) == csr.TvecVectored,
			TvecBase:          h.Tvec[mode].Base(),
			CompressedEnabled: h.cfg.CompressedEnabled,
			TvalZero:          h.cfg.TvalZero,
		},
	}
}

func (h *Hart) clicCandidate() candidate {
	if h.CLIC == nil {
		return candidate{}
	}
	sel := h.CLIC.Select()
	if sel.ID == clic.NoInt {
		return candidate{}
	}

	basic := h.basicCandidate()
	basicPriv := priv.User
	if basic.ok {
		basicPriv = basic.req.TargetMode
	}

	ctx := clic.DeliveryContext{
		CLICActive: h.CLICActive(sel.Priv),
		XIE:        h.Mstatus.IE(sel.Priv),
		Level:      h.Mintstatus.Level(sel.Priv),
		Threshold:  h.Intthresh[sel.Priv].Threshold(),
	}
	if !clic.Promote(sel, h.Mode, basicPriv, basic.ok, ctx) {
		return candidate{}
	}

	return candidate{
		ok: true,
		req: trap.EnterRequest{
			IsInterrupt:       true,
			Code:              uint32(sel.ID),
			CurrentMode:       h.Mode,
			TargetMode:        sel.Priv,
			Impl:              h.impl(),
			Mstatus:           h.Mstatus,
			CLIC:              true,
			NewLevel:          sel.Level,
			OldLevel:          h.Mintstatus.Level(sel.Priv),
			SHV:               sel.SHV,
			TvecBase:          h.Tvec[sel.Priv].Base(),
			CompressedEnabled: h.cfg.CompressedEnabled,
			TvalZero:          h.cfg.TvalZero,
		},
	}
}

// TestInterrupt evaluates the fetch-boundary interrupt-delivery
// decision among the basic and CLIC candidates (spec.md §4.7), picking
// the higher destination privilege of the two. It changes no
// architectural state; it only refreshes the CLIC's cached selection.
// NMI delivery does not go through this path at all — it
// bypasses the mstatus interrupt-enable stack entirely and is handled
// directly by CheckAndTakeInterrupt (spec.md §4.6).
func (h *Hart) TestInterrupt() (bool, trap.EnterRequest) {
	if h.DeferInt.Asserted() {
		return false, trap.EnterRequest{}
	}

	basic := h.basicCandidate()
	clicCand := h.clicCandidate()

	switch {
	case basic.ok && clicCand.ok:
		if clicCand.req.TargetMode >= basic.req.TargetMode {
			return true, clicCand.req
		}
		return true, basic.req
	case clicCand.ok:
		return true, clicCand.req
	case basic.ok:
		return true, basic.req
	default:
		return false, trap.EnterRequest{}
	}
}

// CheckAndTakeInterrupt runs the fetch-boundary interrupt-delivery
// decision and, if one is pending and eligible, takes it: the host
// calls this once before fetching the next instruction (spec.md §4.7).
// NMI takes priority over everything else, is non-maskable, and is
// delivered through takeNMI rather than the ordinary basic/CLIC path.
// While halted in Debug mode, NMI delivery is withheld (nmip keeps
// mirroring the input line regardless) the same way the reference's
// doNMI only fires outside Debug mode. deferint holds off only the
// ordinary basic/CLIC path, never NMI. It returns the PC to fetch from
// next, which is either pc unchanged or the trap target.
func (h *Hart) CheckAndTakeInterrupt(ctx context.Context, pc uint64) (uint64, error) {
	if h.NMI.Pending() && !h.InDebug {
		h.NMI.Ack()
		return h.takeNMI(pc), nil
	}

	if h.DeferInt.Asserted() {
		return pc, nil
	}

	ok, req := h.TestInterrupt()
	if !ok {
		return pc, nil
	}
	req.PC = pc

	return h.applyEnter(ctx, req)
}

// takeNMI commits an NMI trap directly to Machine mode. Unlike a normal
// trap or interrupt, NMI entry does not push the mstatus
// interrupt-enable stack or touch mstatus at all — it only switches
// mode and writes mcause/mepc, then jumps to the dedicated NMI address
// (spec.md §4.6, the reference's doNMI).
func (h *Hart) takeNMI(pc uint64) uint64 {
	h.ClearReservation()
	h.Mode = priv.Machine
	h.Cause[priv.Machine] = csr.XcauseFromRaw(uint64(h.cfg.NMICode))
	h.Epc[priv.Machine] = pc & trap.XepcMask(h.cfg.CompressedEnabled)
	h.reportTrap(priv.Machine, true, h.cfg.NMICode, pc)
	return h.cfg.NMIAddress
}

// applyEnter commits a trap.Enter transition to hart state, substituting
// an externally-supplied extInt[] code for external-interrupt ranges
// (spec.md §4.1 step 6) and resolving a CLIC selective-hardware-vectored
// fetch through the Memory collaborator when required.
func (h *Hart) applyEnter(ctx context.Context, req trap.EnterRequest) (uint64, error) {
	if req.IsInterrupt {
		if offset, ok := except.ExternalInterruptRange(except.Code(req.Code)); ok {
			if sub := h.ExtInt.Value(offset); sub != 0 {
				req.Code = sub
			}
		}
	}

	res := trap.Enter(req)

	// Trap entry unconditionally drops any live LR/SC reservation
	// (spec.md §4.1 step 4), independent of trap return's conditional
	// clear.
	h.ClearReservation()

	if !req.IsInterrupt && except.AccessFault(except.Code(req.Code)) {
		h.AFErrorOut = h.AFErrorIn
	} else {
		h.AFErrorOut = false
	}

	h.Mode = res.NewMode
	h.Mstatus = res.Mstatus
	h.Cause[res.NewMode] = res.Xcause
	h.Epc[res.NewMode] = res.Xepc
	h.Tval[res.NewMode] = res.Xtval

	if req.CLIC {
		h.Mintstatus.SetLevel(res.NewMode, res.MintstatusLevel)
		if h.CLIC != nil && req.IsInterrupt && req.SHV {
			h.CLIC.Acknowledge(int(req.Code))
		}
	}

	pc := res.NewPC
	if res.NeedsVectorFetch {
		addr := h.Xtvt[res.NewMode] + h.ptrBytes()*uint64(res.VectorIndex)
		target, err := h.memory.FetchVector(ctx, addr)
		if err != nil {
			return 0, err
		}
		h.Cause[res.NewMode].SetInhv(false)
		pc = target &^ 1
	}

	h.reportTrap(res.NewMode, req.IsInterrupt, req.Code, req.PC)
	return pc, nil
}
