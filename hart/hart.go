// Package hart aggregates one hart's exception/interrupt-relevant
// state — CSRs, CLIC, basic-mode delegation, debug mode, and external
// signals — into a single object and provides the operations a host
// simulator drives it with: the fetch-boundary interrupt test, trap
// entry, trap return, Debug-mode entry/exit, and save/restore.
//
// The aggregate lives here, in the teacher's emu.Emulator style,
// rather than as thin wrappers spread across trap/clic/debugmode: those
// packages hold the pure algorithms, and Hart is where they get wired
// against real, mutable register state (mirrors emu.Emulator composing
// RegFile, Memory and SyscallHandler).
package hart

import (
	"context"

	"github.com/sarchlab/rvtrap/clic"
	"github.com/sarchlab/rvtrap/csr"
	"github.com/sarchlab/rvtrap/debugmode"
	"github.com/sarchlab/rvtrap/except"
	"github.com/sarchlab/rvtrap/interrupt"
	"github.com/sarchlab/rvtrap/priv"
	"github.com/sarchlab/rvtrap/signal"
)

// Memory is the host collaborator used to fetch a CLIC vector-table
// entry for a selectively-hardware-vectored interrupt (spec.md §4.1
// step 11, §4.7). A fetch fault is returned to the caller of
// CheckAndTakeInterrupt as an error; no nested trap is taken for it, and
// the outer trap's register updates have already been applied.
type Memory interface {
	FetchVector(ctx context.Context, addr uint64) (target uint64, err error)
}

// Logger is an optional host collaborator that observes trap-taken and
// trap-returned events, for narration and debugging (SPEC_FULL §D.1).
// A Hart with no Logger set simply skips these calls.
type Logger interface {
	TrapTaken(mode priv.Mode, isInterrupt bool, code uint32, pc uint64)
	TrapReturned(mode priv.Mode, pc uint64)
	DebugEntered(cause csr.Cause, fromMode priv.Mode)
}

// RetireCounter is an optional host collaborator notified once per
// retired instruction (SPEC_FULL §D.5, the reference's
// baseInstructions accounting), gated by dcsr.stopcount while in Debug
// mode.
type RetireCounter interface {
	Retire()
}

// Config is the immutable, per-hart configuration.
type Config struct {
	Impl       priv.Implemented
	Extensions except.Extension

	// CLIC, if non-nil, enables the CLIC interrupt path for this hart.
	// A nil CLIC means the hart is basic-mode only.
	CLIC *clic.Config

	// Priv1p12OrLater selects whether EBREAK/ECALL retire the faulting
	// instruction (spec.md except.Retires).
	Priv1p12OrLater bool

	// TvecCustomMode is the pre-1.10 fallback vectoring mode per
	// privilege level, used when {u,s,m}tvec.mode reads as Direct on a
	// hart old enough not to encode mode in tvec at all.
	TvecCustomMode [4]csr.TvecMode

	// XLEN is the hart's register width in bits (32 or 64), used to
	// derive the pointer size of a CLIC vector-table entry. Zero
	// defaults to 32.
	XLEN uint8

	// PreserveLROnReturn selects whether MRET/SRET/URET leave a live
	// LR/SC reservation intact instead of clearing it (spec.md §4.2
	// step 1, §5).
	PreserveLROnReturn bool

	// CompressedEnabled selects the xepc/PC mask trap entry and return
	// apply (spec.md §4.1 step 9, §4.2 step 6): with the C extension
	// disabled, the low two bits are always cleared instead of just the
	// low bit.
	CompressedEnabled bool

	// NMIAddress is the PC an NMI jumps to (spec.md §4.6, the
	// reference's configInfo.nmi_address).
	NMIAddress uint64

	// NMICode is the raw value written into mcause on NMI entry
	// (spec.md §4.6, the reference's configInfo.ecode_nmi). The base
	// privileged spec does not standardize an NMI cause encoding; the
	// reference defaults this to 0.
	NMICode uint32

	// TvalZero forces xtval to zero on every trap, overriding every
	// exception and interrupt's own tval computation uniformly (spec.md
	// §4.1 step 8).
	TvalZero bool

	// TvalIICode selects whether an Illegal Instruction exception's
	// tval carries the raw instruction encoding at all; it only takes
	// effect when TvalZero is not also set (spec.md §4.1's illegal-
	// instruction tval rule).
	TvalIICode bool
}

// Option configures a Hart at construction time.
type Option func(*Hart)

// WithMemory sets the memory collaborator used for CLIC vector fetches.
func WithMemory(m Memory) Option { return func(h *Hart) { h.memory = m } }

// WithLogger sets the trap/debug event observer.
func WithLogger(l Logger) Option { return func(h *Hart) { h.logger = l } }

// WithRetireCounter sets the instruction-retirement observer.
func WithRetireCounter(c RetireCounter) Option { return func(h *Hart) { h.retire = c } }

// Tag identifies an LR/SC exclusive-access reservation (spec.md §3's
// exclusiveTag). NoTag is a sentinel distinct from interrupt.NoInt/
// clic.NoInt (spec.md §9's "Dual sentinel" note).
type Tag uint64

// NoTag means no exclusive reservation is currently held.
const NoTag Tag = ^Tag(0)

// HaltReason is one bit of Hart.Halted, the coexisting reasons the hart
// is not currently fetching instructions (spec.md §3's disable bitmask,
// §4.3's halt/restart states). More than one reason can be asserted at
// once; the hart restarts only once all bits clear.
type HaltReason uint8

const (
	// HaltWFI means the hart halted on a WFI instruction and no
	// interrupt has arrived since.
	HaltWFI HaltReason = 1 << iota
	// HaltReset means the hart is held halted out of reset. No operation
	// in this package sets it: Reset with resethaltreq asserted halts the
	// hart into Debug mode and sets HaltDebug.
	HaltReset
	// HaltDebug means the hart is halted in Debug mode.
	HaltDebug
)

// Hart is one hart's exception/interrupt-relevant architectural state.
type Hart struct {
	cfg Config

	Mode priv.Mode

	Mstatus csr.Mstatus
	Cause   [4]csr.Xcause
	Epc     [4]uint64
	Tval    [4]uint64
	Tvec    [4]csr.Xtvec
	// Xtvt is the CLIC vector-table base register per mode, distinct
	// from Tvec's non-vectored/vectored base (spec.md §4.1 step 11).
	Xtvt [4]uint64

	Mintstatus csr.Mintstatus
	Intthresh  [4]csr.Xintthresh

	Mie, Mip         uint64
	Mideleg, Sideleg uint64
	Medeleg, Sedeleg uint64

	Dcsr    csr.Dcsr
	Dpc     uint64
	InDebug bool

	// Halted is the bitmask of coexisting halt reasons (spec.md §3's
	// disable, §4.3). A zero value means the hart is running.
	Halted HaltReason

	// CountinhibitIR mirrors mcountinhibit.IR: while set, trap entry
	// does not adjust the retired-instruction counter (spec.md §4.1
	// step 2).
	CountinhibitIR bool

	// ip is the externally-asserted basic-mode pending bitmap and swip
	// the software-asserted companion; Mip is always their OR (spec.md
	// §3's ip[]/swip, §4.6's generic per-interrupt input, the
	// reference's riscvUpdatePending).
	ip, swip uint64

	// Reservation is the hart's live LR/SC reservation tag, or NoTag.
	Reservation Tag

	// AFErrorIn is the host-supplied access-fault sub-cause input
	// (device vs. plain); AFErrorOut is the latched value trap entry
	// exposes to downstream observers (spec.md §3, §4.1 step 3).
	AFErrorIn  bool
	AFErrorOut bool

	// VFirstFault/VStart/Vl model the vector first-only-fault
	// suppression hook consumed by TakeMemoryException (spec.md §3
	// invariant 7, §4.1's takeMemoryException).
	VFirstFault bool
	VStart      uint8
	Vl          uint8

	CLIC    *clic.Hart
	cliccfg *csr.Cliccfg

	NMI       signal.NMILatch
	Debug     signal.DebugRequests
	ExtInt    signal.ExternalInterrupts
	DeferInt  signal.DeferInt
	SCValid   signal.SCValid
	stepTimer debugmode.StepTimer

	memory Memory
	logger Logger
	retire RetireCounter
}

// New allocates a Hart from cfg. cliccfg is the cluster-shared cliccfg
// cell; pass nil when cfg.CLIC is nil.
func New(cfg Config, cliccfg *csr.Cliccfg, opts ...Option) *Hart {
	h := &Hart{cfg: cfg, cliccfg: cliccfg, Mode: priv.Machine, Reservation: NoTag}
	if cfg.CLIC != nil {
		h.CLIC = clic.NewHart(*cfg.CLIC, cliccfg)
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ptrBytes is the byte width of one CLIC vector-table entry, derived
// from the hart's configured register width (spec.md §4.1 step 11's
// "xlen/8-byte entry"). Config.XLEN of zero defaults to 32-bit.
func (h *Hart) ptrBytes() uint64 {
	xlen := h.cfg.XLEN
	if xlen == 0 {
		xlen = 32
	}
	return uint64(xlen) / 8
}

// SetReservation records a new LR/SC exclusive-access reservation,
// replacing any previous one.
func (h *Hart) SetReservation(tag Tag) { h.Reservation = tag }

// ClearReservation drops any live LR/SC reservation.
func (h *Hart) ClearReservation() { h.Reservation = NoTag }

// SetAFErrorIn samples the host-supplied access-fault sub-cause input,
// latched into AFErrorOut the next time an access-fault exception is
// taken (spec.md §3, §4.1 step 3).
func (h *Hart) SetAFErrorIn(v bool) { h.AFErrorIn = v }

// SetSCValid samples the externally driven SC_valid input; the bus
// deasserting it revokes any live reservation independent of trap
// entry or return (spec.md §4.6, §5).
func (h *Hart) SetSCValid(v bool) {
	if h.SCValid.Set(v) == signal.FallingEdge {
		h.ClearReservation()
	}
}

// CLICActive reports whether mode's trap-vectoring is CLIC-controlled
// (its {u,s,m}tvec.mode reads as CLIC), per spec.md §4.5.
func (h *Hart) CLICActive(mode priv.Mode) bool {
	return h.CLIC != nil && h.Tvec[mode].Mode() == csr.TvecCLIC
}

// effectiveMode resolves mode's tvec vectoring mode, falling back to
// the pre-1.10 custom mode when tvec reads Direct (csr.EffectiveMode).
func (h *Hart) effectiveMode(mode priv.Mode) csr.TvecMode {
	return csr.EffectiveMode(h.cfg.TvecCustomMode[mode], h.Tvec[mode].Mode())
}

func (h *Hart) impl() priv.Implemented { return h.cfg.Impl }

func (h *Hart) reportTrap(mode priv.Mode, isInterrupt bool, code uint32, pc uint64) {
	if h.logger != nil {
		h.logger.TrapTaken(mode, isInterrupt, code, pc)
	}
}

func (h *Hart) reportReturn(mode priv.Mode, pc uint64) {
	if h.logger != nil {
		h.logger.TrapReturned(mode, pc)
	}
}

// Retire notifies the hart that one instruction retired at pc,
// honoring dcsr.stopcount while halted in Debug mode (SPEC_FULL §D.5),
// and fires a pending single-step halt (spec.md §4.3). The host calls
// this once per retired instruction, passing the PC of the
// instruction that will execute next.
func (h *Hart) Retire(nextPC uint64) {
	if h.retire != nil && !(h.InDebug && h.Dcsr.Stopcount()) {
		h.retire.Retire()
	}
	if h.stepTimer.Retired() {
		h.enterDebug(debugmode.ReasonStep, nextPC)
	}
}

// interruptMask returns which basic mip bits are actually enabled by
// the extension set implemented (an unimplemented mode's interrupt bit
// never contributes).
func (h *Hart) interruptMask() uint64 {
	var mask uint64 = 1<<except.MSWInterrupt | 1<<except.MTimerInterrupt | 1<<except.MExternalInterrupt
	if except.Supported(except.ExtS, h.cfg.Extensions) {
		mask |= 1<<except.SSWInterrupt | 1<<except.STimerInterrupt | 1<<except.SExternalInterrupt
	}
	if except.Supported(except.ExtN, h.cfg.Extensions) {
		mask |= 1<<except.USWInterrupt | 1<<except.UTimerInterrupt | 1<<except.UExternalInterrupt
	}
	return mask
}

// selectBasic runs the basic mip/mie/delegation selector (spec.md
// §4.4), gating each mode's contribution by whether that mode is
// currently CLIC-active.
func (h *Hart) selectBasic() int32 {
	enable := interrupt.ModeEnable{
		M: interrupt.EffectiveEnable(h.Mode, priv.Machine, h.Mstatus.IE(priv.Machine), h.CLICActive(priv.Machine)),
		S: interrupt.EffectiveEnable(h.Mode, priv.Supervisor, h.Mstatus.IE(priv.Supervisor), h.CLICActive(priv.Supervisor)),
		U: interrupt.EffectiveEnable(h.Mode, priv.User, h.Mstatus.IE(priv.User), h.CLICActive(priv.User)),
	}
	deleg := interrupt.Delegation{Mideleg: h.Mideleg, Sideleg: h.Sideleg}
	pending := h.Mip & h.Mie & h.interruptMask()
	return interrupt.Select(pending, enable, deleg)
}

// anyPending reports whether any interrupt is pending+enabled, ignoring
// the current mode's global enable bit: the raw test WFI uses, and a
// basic or CLIC interrupt arriving uses to decide whether to restart a
// WFI-halted hart (spec.md §4.7).
func (h *Hart) anyPending() bool {
	if h.NMI.Pending() {
		return true
	}
	if h.Mip&h.Mie&h.interruptMask() != 0 {
		return true
	}
	return h.CLIC != nil && h.CLIC.AnyPending()
}

// wakeFromWFI clears HaltWFI once something becomes pending, mirroring
// the reference's restartProcessor call from inside the net-change
// callbacks that assert an interrupt (spec.md §4.7's "pending-arrival
// restarts from WFI").
func (h *Hart) wakeFromWFI() {
	if h.anyPending() {
		h.Halted &^= HaltWFI
	}
}

// IsHalted reports whether the hart is currently prevented from
// fetching for any reason (spec.md §3's disable bitmask, §4.3: "the
// hart is restarted only when all bits clear").
func (h *Hart) IsHalted() bool { return h.Halted != 0 }

// WFI executes the Wait-For-Interrupt instruction: it halts the hart
// with reason HaltWFI unless an interrupt is already pending+enabled,
// in which case it is a no-op (spec.md §4.7).
func (h *Hart) WFI() {
	if h.anyPending() {
		return
	}
	h.Halted |= HaltWFI
}

func setBitU64(bits uint64, i int, v bool) uint64 {
	mask := uint64(1) << uint(i)
	if v {
		return bits | mask
	}
	return bits &^ mask
}

// SetInterruptLine applies an external sample to interrupt line i's
// externally-asserted pending bit: it updates the basic-mode ip
// bitmap, drives the CLIC per-interrupt input updater when CLIC is
// present, and recomputes mip as ip | swip, then restarts a
// WFI-halted hart if this made something pending (spec.md §4.6's
// generic per-interrupt input, the reference's interruptPortCB and
// riscvUpdatePending).
func (h *Hart) SetInterruptLine(i int, v bool) {
	h.ip = setBitU64(h.ip, i, v)
	if h.CLIC != nil {
		h.CLIC.UpdateInput(i, v)
	}
	h.Mip = h.ip | h.swip
	h.wakeFromWFI()
}

// SetSoftwarePending writes bit i of the software-asserted pending
// bitmap (e.g. a CSR write to a writable mip bit such as MSIP), and
// recomputes mip the same way as SetInterruptLine.
func (h *Hart) SetSoftwarePending(i int, v bool) {
	h.swip = setBitU64(h.swip, i, v)
	h.Mip = h.ip | h.swip
	h.wakeFromWFI()
}
