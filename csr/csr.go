// Package csr models the control/status registers whose bit layout the
// trap/interrupt core must interpret exactly: mstatus, xcause, xtvec,
// mintstatus, xintthresh, cliccfg, clicinfo, clicintattr and dcsr.
//
// Each register is a small bitfield value type with typed accessors plus
// Raw/FromRaw round-trip conversions, per the "Bit-field CSR register
// types" design note in spec.md §9: never an opaque integer, so the
// clamping and WPRI rules stay checkable in one place.
package csr

import "github.com/sarchlab/rvtrap/priv"

// Mstatus models the subset of mstatus this core reads and writes: the
// per-mode interrupt-enable/previous-enable bits, the previous-privilege
// fields, and MPRV. Higher/lower halves and unrelated fields (FS, VS, SD,
// ...) are out of scope (CSR file storage in general is an external
// collaborator; spec.md §1).
type Mstatus struct {
	raw uint64
}

const (
	mstatusUIE  = 1 << 0
	mstatusSIE  = 1 << 1
	mstatusMIE  = 1 << 3
	mstatusUPIE = 1 << 4
	mstatusSPIE = 1 << 5
	mstatusMPIE = 1 << 7
	mstatusSPPBit = 1 << 8
	mstatusMPPShift = 11
	mstatusMPPMask  = 0x3 << mstatusMPPShift
	mstatusMPRV     = 1 << 17
)

// MstatusFromRaw builds an Mstatus view over an existing raw value.
func MstatusFromRaw(raw uint64) Mstatus { return Mstatus{raw} }

// Raw returns the underlying bit pattern.
func (m Mstatus) Raw() uint64 { return m.raw }

// IE returns the interrupt-enable bit for the given mode.
func (m Mstatus) IE(mode priv.Mode) bool {
	switch mode {
	case priv.Machine:
		return m.raw&mstatusMIE != 0
	case priv.Supervisor:
		return m.raw&mstatusSIE != 0
	default:
		return m.raw&mstatusUIE != 0
	}
}

// SetIE sets the interrupt-enable bit for the given mode.
func (m *Mstatus) SetIE(mode priv.Mode, v bool) {
	m.raw = setBit(m.raw, ieMask(mode), v)
}

// PIE returns the previous-interrupt-enable bit for the given mode.
func (m Mstatus) PIE(mode priv.Mode) bool {
	switch mode {
	case priv.Machine:
		return m.raw&mstatusMPIE != 0
	case priv.Supervisor:
		return m.raw&mstatusSPIE != 0
	default:
		return m.raw&mstatusUPIE != 0
	}
}

// SetPIE sets the previous-interrupt-enable bit for the given mode.
func (m *Mstatus) SetPIE(mode priv.Mode, v bool) {
	m.raw = setBit(m.raw, pieMask(mode), v)
}

func ieMask(mode priv.Mode) uint64 {
	switch mode {
	case priv.Machine:
		return mstatusMIE
	case priv.Supervisor:
		return mstatusSIE
	default:
		return mstatusUIE
	}
}

func pieMask(mode priv.Mode) uint64 {
	switch mode {
	case priv.Machine:
		return mstatusMPIE
	case priv.Supervisor:
		return mstatusSPIE
	default:
		return mstatusUPIE
	}
}

func setBit(raw, mask uint64, v bool) uint64 {
	if v {
		return raw | mask
	}
	return raw &^ mask
}

// SPP returns the previous privilege mode saved by a trap into S-mode
// (a single bit: User or Supervisor).
func (m Mstatus) SPP() priv.Mode {
	if m.raw&mstatusSPPBit != 0 {
		return priv.Supervisor
	}
	return priv.User
}

// SetSPP sets mstatus.SPP. Only User/Supervisor are representable.
func (m *Mstatus) SetSPP(mode priv.Mode) {
	m.raw = setBit(m.raw, mstatusSPPBit, mode == priv.Supervisor)
}

// MPP returns the previous privilege mode saved by a trap into M-mode.
func (m Mstatus) MPP() priv.Mode {
	return priv.Mode((m.raw & mstatusMPPMask) >> mstatusMPPShift)
}

// SetMPP sets mstatus.MPP.
func (m *Mstatus) SetMPP(mode priv.Mode) {
	m.raw = (m.raw &^ mstatusMPPMask) | (uint64(mode) << mstatusMPPShift)
}

// MPRV returns mstatus.MPRV (loads/stores use MPP privilege when set).
func (m Mstatus) MPRV() bool { return m.raw&mstatusMPRV != 0 }

// SetMPRV sets mstatus.MPRV.
func (m *Mstatus) SetMPRV(v bool) { m.raw = setBit(m.raw, mstatusMPRV, v) }

// Xcause models one of {u,s,m}cause: the ExceptionCode, Interrupt, previous
// interrupt level (pil, CLIC mode only) and inhv (CLIC hardware-vectoring
// in-progress) fields.
type Xcause struct {
	raw uint64
}

const (
	xcauseCodeMask = 0xFFFFFF // generous field width; xlen-specific masking is the caller's job
	xcausePilShift = 24
	xcausePilMask  = 0xFF << xcausePilShift
	xcauseInhvBit  = uint64(1) << 32
	xcauseIntBit   = uint64(1) << 63
)

// XcauseFromRaw builds an Xcause view over an existing raw value.
func XcauseFromRaw(raw uint64) Xcause { return Xcause{raw} }

// Raw returns the underlying bit pattern.
func (x Xcause) Raw() uint64 { return x.raw }

// ExceptionCode returns the ExceptionCode field.
func (x Xcause) ExceptionCode() uint32 { return uint32(x.raw & xcauseCodeMask) }

// SetExceptionCode sets the ExceptionCode field.
func (x *Xcause) SetExceptionCode(code uint32) {
	x.raw = (x.raw &^ xcauseCodeMask) | uint64(code)&xcauseCodeMask
}

// Interrupt returns the Interrupt bit.
func (x Xcause) Interrupt() bool { return x.raw&xcauseIntBit != 0 }

// SetInterrupt sets the Interrupt bit.
func (x *Xcause) SetInterrupt(v bool) { x.raw = setBit(x.raw, xcauseIntBit, v) }

// PIL returns the previous interrupt level snapshot (CLIC mode only).
func (x Xcause) PIL() uint8 { return uint8((x.raw & xcausePilMask) >> xcausePilShift) }

// SetPIL sets the previous interrupt level snapshot.
func (x *Xcause) SetPIL(level uint8) {
	x.raw = (x.raw &^ xcausePilMask) | (uint64(level) << xcausePilShift)
}

// Inhv returns the CLIC "in hardware vectoring" bit.
func (x Xcause) Inhv() bool { return x.raw&xcauseInhvBit != 0 }

// SetInhv sets the CLIC "in hardware vectoring" bit.
func (x *Xcause) SetInhv(v bool) { x.raw = setBit(x.raw, xcauseInhvBit, v) }

// TvecMode is the interrupt-vectoring mode encoded in the low bits of
// {u,s,m}tvec.
type TvecMode uint8

const (
	// TvecCustom means "use the hart's IMode configuration" (pre-1.10
	// implementations did not encode mode in tvec at all).
	TvecCustom TvecMode = 0
	// TvecDirect: all traps set PC to BASE.
	TvecDirect TvecMode = 0
	// TvecVectored: interrupts set PC to BASE + 4*code.
	TvecVectored TvecMode = 1
	// TvecCLIC: BASE is CLIC-controlled; each interrupt's clicintattr.shv
	// bit selects non-vectored vs selective-hardware-vectored delivery
	// per spec.md §4.1 step 11.
	TvecCLIC TvecMode = 3
)

// Xtvec models {u,s,m}tvec: a BASE field and low-bits MODE field.
type Xtvec struct {
	raw uint64
}

// XtvecFromRaw builds an Xtvec view over an existing raw value.
func XtvecFromRaw(raw uint64) Xtvec { return Xtvec{raw} }

// Raw returns the underlying bit pattern.
func (x Xtvec) Raw() uint64 { return x.raw }

// Base returns the trap-vector base address (already shifted left 2, i.e.
// 4-byte aligned; the low 2 bits of xtvec are the MODE field).
func (x Xtvec) Base() uint64 { return x.raw &^ 0x3 }

// Mode returns the low-bits MODE field.
func (x Xtvec) Mode() TvecMode { return TvecMode(x.raw & 0x3) }

// EffectiveMode resolves the interrupt-vectoring mode: prior to privileged
// spec 1.10 there was no MODE field, so a per-hart custom mode configured
// out of band applies instead (spec.md §4.1, getIMode).
func EffectiveMode(customMode TvecMode, tvecMode TvecMode) TvecMode {
	if tvecMode != TvecDirect {
		return tvecMode
	}
	return customMode
}

// Mintstatus models mintstatus: the CLIC current interrupt level per mode
// (mil/sil/uil); trap entry stacks the previous level into xcause.pil.
type Mintstatus struct {
	raw uint32
}

// MintstatusFromRaw builds a Mintstatus view over an existing raw value.
func MintstatusFromRaw(raw uint32) Mintstatus { return Mintstatus{raw} }

// Raw returns the underlying bit pattern.
func (m Mintstatus) Raw() uint32 { return m.raw }

// Level returns the interrupt level field for the given mode.
func (m Mintstatus) Level(mode priv.Mode) uint8 {
	switch mode {
	case priv.Machine:
		return uint8(m.raw)
	case priv.Supervisor:
		return uint8(m.raw >> 8)
	default:
		return uint8(m.raw >> 16)
	}
}

// SetLevel sets the interrupt level field for the given mode.
func (m *Mintstatus) SetLevel(mode priv.Mode, level uint8) {
	switch mode {
	case priv.Machine:
		m.raw = (m.raw &^ 0xFF) | uint32(level)
	case priv.Supervisor:
		m.raw = (m.raw &^ (0xFF << 8)) | (uint32(level) << 8)
	default:
		m.raw = (m.raw &^ (0xFF << 16)) | (uint32(level) << 16)
	}
}

// Xintthresh models {u,s,m}intthresh: a single interrupt-level threshold
// field (spec.md §4.5.7's `level > xintthresh.th`).
type Xintthresh struct {
	raw uint8
}

// XintthreshFromRaw builds an Xintthresh view over an existing raw value.
func XintthreshFromRaw(raw uint8) Xintthresh { return Xintthresh{raw} }

// Raw returns the underlying bit pattern.
func (x Xintthresh) Raw() uint8 { return x.raw }

// Threshold returns the th field.
func (x Xintthresh) Threshold() uint8 { return x.raw }

// Dcsr models the Debug Control and Status register.
type Dcsr struct {
	raw uint32
}

const (
	dcsrPrvShift  = 0
	dcsrPrvMask   = 0x3
	dcsrStep      = 1 << 2
	dcsrCauseShift = 6
	dcsrCauseMask  = 0x7 << dcsrCauseShift
	dcsrStopcount = 1 << 10
	dcsrEbreaku   = 1 << 12
	dcsrEbreaks   = 1 << 13
	dcsrEbreakm   = 1 << 15
	dcsrNmip      = 1 << 3
)

// DcsrFromRaw builds a Dcsr view over an existing raw value.
func DcsrFromRaw(raw uint32) Dcsr { return Dcsr{raw} }

// Raw returns the underlying bit pattern.
func (d Dcsr) Raw() uint32 { return d.raw }

// Prv returns the privilege mode Debug mode was entered from.
func (d Dcsr) Prv() priv.Mode { return priv.Mode(d.raw & dcsrPrvMask) }

// SetPrv sets dcsr.prv.
func (d *Dcsr) SetPrv(mode priv.Mode) {
	d.raw = (d.raw &^ dcsrPrvMask) | (uint32(mode) & dcsrPrvMask)
}

// Cause is the reason Debug mode was most recently entered.
type Cause uint8

// Debug-entry causes (dcsr.cause encoding).
const (
	CauseNone         Cause = 0
	CauseEbreak       Cause = 1
	CauseTrigger      Cause = 2
	CauseHaltreq      Cause = 3
	CauseStep         Cause = 4
	CauseResethaltreq Cause = 5
)

// Cause returns dcsr.cause.
func (d Dcsr) Cause() Cause { return Cause((d.raw & dcsrCauseMask) >> dcsrCauseShift) }

// SetCause sets dcsr.cause.
func (d *Dcsr) SetCause(c Cause) {
	d.raw = (d.raw &^ dcsrCauseMask) | (uint32(c) << dcsrCauseShift)
}

// Step returns dcsr.step (single-step enable).
func (d Dcsr) Step() bool { return d.raw&dcsrStep != 0 }

// Stopcount returns dcsr.stopcount.
func (d Dcsr) Stopcount() bool { return d.raw&dcsrStopcount != 0 }

// Nmip returns dcsr.nmip, the live-mirrored NMI pending indication.
func (d Dcsr) Nmip() bool { return d.raw&dcsrNmip != 0 }

// SetNmip sets dcsr.nmip.
func (d *Dcsr) SetNmip(v bool) { d.raw = uint32(setBit(uint64(d.raw), dcsrNmip, v)) }

// EbreakEnter reports whether EBREAK in the given mode should enter Debug
// mode rather than raise a Breakpoint exception (dcsr.{ebreakm,ebreaks,ebreaku}).
func (d Dcsr) EbreakEnter(mode priv.Mode) bool {
	switch mode {
	case priv.Machine:
		return d.raw&dcsrEbreakm != 0
	case priv.Supervisor:
		return d.raw&dcsrEbreaks != 0
	default:
		return d.raw&dcsrEbreaku != 0
	}
}
