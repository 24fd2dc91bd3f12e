package trap

import (
	"github.com/sarchlab/rvtrap/except"
	"github.com/sarchlab/rvtrap/priv"
)

// IllegalInstruction returns the (code, tval) pair for an illegal
// instruction exception: tval carries the raw instruction bits only
// when tvalIICode is configured and tvalZero is not — otherwise it's
// zero (spec.md §4.1's tval policy, "tval is the instruction encoding
// iff tval_ii_code configured and tval_zero not configured, else 0",
// mirroring riscvIllegalInstruction's conditional mtval write).
func IllegalInstruction(rawInstruction uint64, tvalIICode, tvalZero bool) (except.Code, uint64) {
	if tvalIICode && !tvalZero {
		return except.IllegalInstruction, rawInstruction
	}
	return except.IllegalInstruction, 0
}

// InstructionAddressMisaligned returns the (code, tval) pair for a
// misaligned instruction fetch: tval carries the faulting address
// (mirrors riscvInstructionAddressMisaligned).
func InstructionAddressMisaligned(addr uint64) (except.Code, uint64) {
	return except.InstructionAddressMisaligned, addr
}

// ECALL returns the (code, tval) pair for an environment call from the
// given mode: tval is always zero (mirrors riscvECALL's per-mode
// ECALL_FROM_x codes).
func ECALL(mode priv.Mode) (except.Code, uint64) {
	switch mode {
	case priv.Machine:
		return except.EnvironmentCallFromMMode, 0
	case priv.Supervisor:
		return except.EnvironmentCallFromSMode, 0
	default:
		return except.EnvironmentCallFromUMode, 0
	}
}

// MemoryFault identifies the three memory-access exception kinds a
// memory operation may raise.
type MemoryFault int

const (
	// FaultAccess is a physical/PMP access violation.
	FaultAccess MemoryFault = iota
	// FaultMisaligned is a natural-alignment violation.
	FaultMisaligned
	// FaultPageFault is an MMU page-table walk failure.
	FaultPageFault
)

// MemoryException identifies the direction of a faulting memory access.
type MemoryException int

const (
	MemoryLoad MemoryException = iota
	MemoryStore
	MemoryFetch
)

// TakeMemoryException returns the (code, tval) pair for a faulting
// memory access, given its direction and fault kind (mirrors
// riscvTakeMemoryException's exception-code lookup table). tval is the
// faulting virtual address in every case this core models.
func TakeMemoryException(dir MemoryException, fault MemoryFault, addr uint64) (except.Code, uint64) {
	var code except.Code
	switch dir {
	case MemoryFetch:
		switch fault {
		case FaultMisaligned:
			code = except.InstructionAddressMisaligned
		case FaultPageFault:
			code = except.InstructionPageFault
		default:
			code = except.InstructionAccessFault
		}
	case MemoryStore:
		switch fault {
		case FaultMisaligned:
			code = except.StoreAMOAddressMisaligned
		case FaultPageFault:
			code = except.StoreAMOPageFault
		default:
			code = except.StoreAMOAccessFault
		}
	default:
		switch fault {
		case FaultMisaligned:
			code = except.LoadAddressMisaligned
		case FaultPageFault:
			code = except.LoadPageFault
		default:
			code = except.LoadAccessFault
		}
	}
	return code, addr
}
