// Package except holds the static catalogue of RISC-V standard exceptions
// and interrupts, grounded on the exceptions[] table in the reference
// implementation's riscvExceptions.c. It is read-only and indexed by
// numeric code; nothing in this package mutates hart state.
package except

// Extension is a bitmask of ISA extensions that must be present for an
// exception/interrupt code to be valid on a given hart.
type Extension uint32

const (
	// ExtNone means the code is always valid.
	ExtNone Extension = 0
	// ExtS requires the Supervisor-mode extension.
	ExtS Extension = 1 << iota
	// ExtN requires the User-mode traps ("N") extension.
	ExtN
)

// Code is a RISC-V exception or interrupt code, as it appears in the
// ExceptionCode field of xcause (without the Interrupt bit).
type Code uint32

// Standard synchronous exception codes (Table 3.6 of the privileged spec).
const (
	InstructionAddressMisaligned Code = 0
	InstructionAccessFault       Code = 1
	IllegalInstruction           Code = 2
	Breakpoint                   Code = 3
	LoadAddressMisaligned        Code = 4
	LoadAccessFault              Code = 5
	StoreAMOAddressMisaligned    Code = 6
	StoreAMOAccessFault          Code = 7
	EnvironmentCallFromUMode     Code = 8
	EnvironmentCallFromSMode     Code = 9
	EnvironmentCallFromMMode     Code = 11
	InstructionPageFault         Code = 12
	LoadPageFault                Code = 13
	StoreAMOPageFault            Code = 15
)

// Standard interrupt codes, as they appear in the ExceptionCode field when
// xcause.Interrupt is set.
const (
	USWInterrupt      Code = 0
	SSWInterrupt      Code = 1
	MSWInterrupt      Code = 3
	UTimerInterrupt   Code = 4
	STimerInterrupt   Code = 5
	MTimerInterrupt   Code = 7
	UExternalInterrupt Code = 8
	SExternalInterrupt Code = 9
	MExternalInterrupt Code = 11
)

// CSIP is the CLIC software-interrupt code (only meaningful when CLIC is
// present; it has no basic-mode mip bit).
const CSIP Code = 12

// FirstLocal is the first index used for local/custom CLIC-only interrupts
// (spec.md SPEC_FULL §D.3).
const FirstLocal Code = 16

// Desc describes one catalogued exception or interrupt.
type Desc struct {
	Name        string
	Code        Code
	IsInterrupt bool
	Requires    Extension
	Description string
}

// exceptions is the static descriptor table, one entry per standard
// exception/interrupt. Order matches the reference's exceptions[] table.
var exceptions = []Desc{
	{"InstructionAddressMisaligned", InstructionAddressMisaligned, false, ExtNone, "Fetch from unaligned address"},
	{"InstructionAccessFault", InstructionAccessFault, false, ExtNone, "No access permission for fetch"},
	{"IllegalInstruction", IllegalInstruction, false, ExtNone, "Undecoded, unimplemented or disabled instruction"},
	{"Breakpoint", Breakpoint, false, ExtNone, "EBREAK instruction executed"},
	{"LoadAddressMisaligned", LoadAddressMisaligned, false, ExtNone, "Load from unaligned address"},
	{"LoadAccessFault", LoadAccessFault, false, ExtNone, "No access permission for load"},
	{"StoreAMOAddressMisaligned", StoreAMOAddressMisaligned, false, ExtNone, "Store/AMO at unaligned address"},
	{"StoreAMOAccessFault", StoreAMOAccessFault, false, ExtNone, "No access permission for store/AMO"},
	{"EnvironmentCallFromUMode", EnvironmentCallFromUMode, false, ExtN, "ECALL executed in User mode"},
	{"EnvironmentCallFromSMode", EnvironmentCallFromSMode, false, ExtS, "ECALL executed in Supervisor mode"},
	{"EnvironmentCallFromMMode", EnvironmentCallFromMMode, false, ExtNone, "ECALL executed in Machine mode"},
	{"InstructionPageFault", InstructionPageFault, false, ExtNone, "Page fault at fetch address"},
	{"LoadPageFault", LoadPageFault, false, ExtNone, "Page fault at load address"},
	{"StoreAMOPageFault", StoreAMOPageFault, false, ExtNone, "Page fault at store/AMO address"},

	{"USWInterrupt", USWInterrupt, true, ExtN, "User software interrupt"},
	{"SSWInterrupt", SSWInterrupt, true, ExtS, "Supervisor software interrupt"},
	{"MSWInterrupt", MSWInterrupt, true, ExtNone, "Machine software interrupt"},
	{"UTimerInterrupt", UTimerInterrupt, true, ExtN, "User timer interrupt"},
	{"STimerInterrupt", STimerInterrupt, true, ExtS, "Supervisor timer interrupt"},
	{"MTimerInterrupt", MTimerInterrupt, true, ExtNone, "Machine timer interrupt"},
	{"UExternalInterrupt", UExternalInterrupt, true, ExtN, "User external interrupt"},
	{"SExternalInterrupt", SExternalInterrupt, true, ExtS, "Supervisor external interrupt"},
	{"MExternalInterrupt", MExternalInterrupt, true, ExtNone, "Machine external interrupt"},

	{"CSIP", CSIP, true, ExtNone, "CLIC software interrupt"},
}

// byCode indexes exceptions by (isInterrupt, code) for O(1) lookup.
var byCode = func() map[[2]uint32]Desc {
	m := make(map[[2]uint32]Desc, len(exceptions))
	for _, d := range exceptions {
		key := [2]uint32{boolToU32(d.IsInterrupt), uint32(d.Code)}
		m[key] = d
	}
	return m
}()

func boolToU32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// Lookup returns the descriptor for a standard exception/interrupt code, or
// false if the code is not in the static table (e.g. it is a local
// interrupt, whose description is synthesized by the caller).
func Lookup(isInterrupt bool, code Code) (Desc, bool) {
	d, ok := byCode[[2]uint32{boolToU32(isInterrupt), uint32(code)}]
	return d, ok
}

// Describe returns a human-readable description of an exception/interrupt
// code, synthesizing one for local interrupts the way the reference's
// getExceptionDesc does.
func Describe(isInterrupt bool, code Code) string {
	if isInterrupt && code >= FirstLocal {
		return "Local interrupt"
	}
	if d, ok := Lookup(isInterrupt, code); ok {
		return d.Description
	}
	return "Unknown exception"
}

// Supported reports whether the given extension requirement is satisfied by
// the hart's implemented extension set.
func Supported(requires Extension, have Extension) bool {
	return requires&^have == 0
}

// AccessFault reports whether code is one of the three access-fault
// exceptions that latch the AFErrorIn/AFErrorOut side channel (spec.md
// §4.1 step 3).
func AccessFault(code Code) bool {
	switch code {
	case InstructionAccessFault, LoadAccessFault, StoreAMOAccessFault:
		return true
	default:
		return false
	}
}

// ExternalInterruptRange reports whether code (as an interrupt) falls in
// the [U,S,M]ExternalInterrupt range eligible for extInt[] code
// substitution (spec.md §4.1 step 6), and if so its 0-based offset within
// that range (U=0, S=1, M=2).
func ExternalInterruptRange(code Code) (offset int, ok bool) {
	switch code {
	case UExternalInterrupt:
		return 0, true
	case SExternalInterrupt:
		return 1, true
	case MExternalInterrupt:
		return 2, true
	default:
		return 0, false
	}
}

// Retires reports whether an exception with this code retires the
// instruction it interrupted (spec.md §4.1 step 2): EBREAK and ECALL did,
// in privileged-ISA versions before 1.12.
func Retires(code Code, priv1p12OrLater bool) bool {
	switch code {
	case Breakpoint, EnvironmentCallFromUMode, EnvironmentCallFromSMode, EnvironmentCallFromMMode:
		return !priv1p12OrLater
	default:
		return false
	}
}
