// Package trap implements the trap entry and trap return state
// transitions (spec.md §4.1, §4.2): computing the updated mstatus,
// xcause, xepc and mintstatus values and the new PC and privilege mode,
// without owning any hart state itself. The caller (package hart)
// resolves which mode and interrupt path applies — basic or CLIC — and
// hands trap.Enter/trap.Return a fully-described request.
package trap

import (
	"github.com/sarchlab/rvtrap/csr"
	"github.com/sarchlab/rvtrap/priv"
)

// EnterRequest describes one trap-entry transition (spec.md §4.1 steps
// 1-11). The caller has already resolved TargetMode (via priv.Delegate
// and priv.Max for the basic path, or from clic.Selection.Priv for the
// CLIC path) and, for CLIC entries, whether the target mode's CLIC is
// active and what level/SHV apply.
type EnterRequest struct {
	IsInterrupt bool
	Code        uint32
	Tval        uint64
	PC          uint64

	CurrentMode priv.Mode
	TargetMode  priv.Mode
	Impl        priv.Implemented
	Mstatus     csr.Mstatus

	// CLIC is true when the target mode's CLIC is active; the basic
	// mip/mie/mtvec path applies otherwise.
	CLIC bool
	// NewLevel is the selected interrupt's level (spec.md §4.5.6);
	// meaningful only when CLIC is true.
	NewLevel uint8
	// OldLevel is the target mode's mintstatus level before this trap,
	// stacked into xcause.pil (spec.md §4.1 step 8).
	OldLevel uint8
	// SHV requests selective hardware vectoring (spec.md §4.1 step 11);
	// meaningful only when CLIC is true and IsInterrupt is true.
	SHV bool
	// Vectored is tvec.mode == Vectored on the basic, non-CLIC path.
	Vectored bool
	TvecBase uint64

	// CompressedEnabled selects the xepc write mask (spec.md §4.1 step 9):
	// when false, the low two bits are cleared instead of just the low
	// bit, since an instruction boundary can only fall on a 4-byte
	// boundary without the C extension.
	CompressedEnabled bool

	// TvalZero forces xtval to zero regardless of Tval, overriding every
	// trap's tval computation uniformly (spec.md §4.1 step 8, "if
	// configuration requires zero tval, force zero").
	TvalZero bool
}

// EnterResult is the set of register updates and control-flow decisions
// a trap entry produces. When NeedsVectorFetch is true, the caller
// (package hart) must read the CLIC vector table at VectorIndex through
// its memory collaborator and use that value as the final PC instead of
// PC (spec.md §4.1 step 11, §4.7). Package hart returns a fault on that
// fetch to its caller as an error and takes no nested trap for it.
type EnterResult struct {
	NewMode priv.Mode
	NewPC   uint64

	Mstatus csr.Mstatus
	Xcause  csr.Xcause
	Xepc    uint64
	Xtval   uint64

	// MintstatusLevel is the value to write into mintstatus at NewMode;
	// only meaningful when the request was a CLIC entry.
	MintstatusLevel uint8

	NeedsVectorFetch bool
	VectorIndex      uint32
}

// Enter computes the trap-entry transition (spec.md §4.1 steps 5-11).
// Step 5 (resolving TargetMode itself) is the caller's job, since it
// differs between the basic path (priv.Delegate + priv.Max) and the
// CLIC path (clic.Selection.Priv, already clamped by clic.Promote).
func Enter(req EnterRequest) EnterResult {
	mstatus := req.Mstatus
	mstatus.SetPIE(req.TargetMode, mstatus.IE(req.TargetMode))
	mstatus.SetIE(req.TargetMode, false)

	switch req.TargetMode {
	case priv.Machine:
		mstatus.SetMPP(req.CurrentMode)
	case priv.Supervisor:
		mstatus.SetSPP(req.CurrentMode)
	}

	var cause csr.Xcause
	cause.SetInterrupt(req.IsInterrupt)
	cause.SetExceptionCode(req.Code)

	xtval := req.Tval
	if req.TvalZero {
		xtval = 0
	}

	res := EnterResult{
		NewMode: req.TargetMode,
		Mstatus: mstatus,
		Xepc:    req.PC & XepcMask(req.CompressedEnabled),
		Xtval:   xtval,
	}

	if !req.CLIC {
		cause.SetInhv(false)
		res.Xcause = cause
		res.NewPC = req.TvecBase
		if req.IsInterrupt && req.Vectored {
			res.NewPC += 4 * uint64(req.Code)
		}
		return res
	}

	cause.SetPIL(req.OldLevel)
	res.MintstatusLevel = req.NewLevel

	if req.IsInterrupt && req.SHV {
		cause.SetInhv(true)
		res.NeedsVectorFetch = true
		res.VectorIndex = req.Code
	} else {
		cause.SetInhv(false)
		res.NewPC = req.TvecBase
	}

	res.Xcause = cause
	return res
}

// XepcMask returns the mask applied to a value read from or written to
// xepc: bit 0 is never writable, and bit 1 is also cleared unless
// compressed instructions are enabled, since an instruction boundary
// can only fall on a 4-byte boundary without the C extension (spec.md
// §4.1 step 9, §4.2 step 6, the reference's setPCxRET). Exported so
// package hart can apply the same mask to an NMI's mepc, which bypasses
// Enter/Return entirely.
func XepcMask(compressedEnabled bool) uint64 {
	if compressedEnabled {
		return ^uint64(1)
	}
	return ^uint64(3)
}

// ReturnRequest describes one MRET/SRET/URET transition (spec.md §4.2
// steps 1-5): the common procedure shared by all three instructions,
// parameterized on which mode is returning.
type ReturnRequest struct {
	Mode    priv.Mode
	Impl    priv.Implemented
	Mstatus csr.Mstatus
	Xepc    uint64

	// CLIC is true when Mode's CLIC is active.
	CLIC   bool
	Xcause csr.Xcause

	// CompressedEnabled selects the PC mask applied to Xepc (spec.md
	// §4.2 step 6); see EnterRequest.CompressedEnabled.
	CompressedEnabled bool

	// Priv1p12OrLater gates whether MPRV is cleared on a mode-dropping
	// return (spec.md §4.2 step 5: "priv version > 2019-04-05"), the
	// reference's clearMPRV version check.
	Priv1p12OrLater bool
}

// ReturnResult is the set of register updates an xRET produces.
type ReturnResult struct {
	NewMode priv.Mode
	NewPC   uint64
	Mstatus csr.Mstatus

	// MintstatusLevel is the value to restore into mintstatus at Mode;
	// only meaningful when the request was a CLIC return.
	MintstatusLevel uint8
}

// Return computes the trap-return transition (spec.md §4.2). previousPP
// is mstatus.xPP for Mode, read before it gets reset to the minimum
// implemented mode.
func Return(req ReturnRequest) ReturnResult {
	mstatus := req.Mstatus

	var previousPP priv.Mode
	switch req.Mode {
	case priv.Machine:
		previousPP = mstatus.MPP()
		mstatus.SetMPP(priv.MinImplemented(req.Impl))
	case priv.Supervisor:
		previousPP = mstatus.SPP()
		mstatus.SetSPP(priv.MinImplemented(req.Impl))
	default:
		previousPP = priv.User
	}

	newMode := priv.Clamp(req.Impl, previousPP)

	mstatus.SetIE(req.Mode, mstatus.PIE(req.Mode))
	mstatus.SetPIE(req.Mode, true)

	if newMode != priv.Machine && req.Priv1p12OrLater {
		mstatus.SetMPRV(false)
	}

	res := ReturnResult{
		NewMode: newMode,
		NewPC:   req.Xepc & XepcMask(req.CompressedEnabled),
		Mstatus: mstatus,
	}

	if req.CLIC {
		res.MintstatusLevel = req.Xcause.PIL()
	}

	return res
}
