// Package interrupt implements the "basic" CLINT-style interrupt
// selector: the highest-priority pending-and-enabled interrupt computed
// from mip/mie/delegation and the global interrupt-enable bits
// (spec.md §4.4).
package interrupt

import "github.com/sarchlab/rvtrap/priv"

// NoInt is the sentinel meaning "no interrupt selected" (RV_NO_INT in the
// reference; spec.md §9's dual-sentinel note).
const NoInt int32 = -1

// fixedPriority is the mandatory tie-break order among simultaneously
// pending-and-enabled interrupts targeting the same privilege mode
// (spec.md §4.4 step 4): M-external > M-software > M-timer > S-external >
// S-software > S-timer > U-external > U-software > U-timer; anything else
// (local/custom) defaults to priority 0, the lowest.
var fixedPriority = map[int32]uint8{
	4:  1, // UTimerInterrupt
	0:  2, // USWInterrupt
	8:  3, // UExternalInterrupt
	5:  4, // STimerInterrupt
	1:  5, // SSWInterrupt
	9:  6, // SExternalInterrupt
	7:  7, // MTimerInterrupt
	3:  8, // MSWInterrupt
	11: 9, // MExternalInterrupt
}

func priority(id int32) uint8 { return fixedPriority[id] }

// ModeEnable bundles the effective per-mode interrupt-enable inputs the
// selector needs after CLIC-active gating has already been applied
// (spec.md §4.4 step 2): CLIC-active modes always contribute false here.
type ModeEnable struct {
	M, S, U bool
}

// EffectiveEnable computes the effective mstatus.xIE the selector should
// use for privilege mode relative to currentMode, per spec.md §4.4 step 2:
// false while that mode's CLIC is active; true while current < mode;
// false while current > mode; otherwise the raw xIE bit.
func EffectiveEnable(currentMode, mode priv.Mode, xIE bool, clicActive bool) bool {
	if clicActive {
		return false
	}
	switch {
	case currentMode < mode:
		return true
	case currentMode > mode:
		return false
	default:
		return xIE
	}
}

// Delegation bundles the raw delegation register values used to partition
// pending interrupts by target mode (spec.md §4.4 step 3).
type Delegation struct {
	Mideleg uint64
	Sideleg uint64
}

// TargetMode returns the mode a given interrupt id is delegated to, given
// mideleg/sideleg (mirrors the reference's getModeX for interrupts, spec.md
// §4.1 step 5's basic-path branch).
func TargetMode(d Delegation, id int32) priv.Mode {
	return priv.Delegate(d.Mideleg, d.Sideleg, uint32(id))
}

// Select computes the highest-priority pending-and-enabled interrupt from
// a bitmask of candidates (mip & mie), the effective per-mode enables, and
// delegation, per spec.md §4.4.
//
// pending is scanned starting from bit 0; ids above 63 (local interrupts)
// never appear here — they exist only in the CLIC path (SPEC_FULL §D.3).
func Select(pending uint64, enable ModeEnable, deleg Delegation) int32 {
	mMask := ^deleg.Mideleg
	sMask := deleg.Mideleg &^ deleg.Sideleg
	uMask := deleg.Sideleg

	masked := pending
	if !enable.M {
		masked &^= mMask
	}
	if !enable.S {
		masked &^= sMask
	}
	if !enable.U {
		masked &^= uMask
	}

	if masked == 0 {
		return NoInt
	}

	selectedID := NoInt
	var selectedPriv priv.Mode

	for id := int32(0); masked != 0; id, masked = id+1, masked>>1 {
		if masked&1 == 0 {
			continue
		}

		candPriv := TargetMode(deleg, id)

		switch {
		case selectedID == NoInt:
			selectedID, selectedPriv = id, candPriv
		case selectedPriv < candPriv:
			selectedID, selectedPriv = id, candPriv
		case selectedPriv > candPriv:
			// lower destination privilege: keep current selection
		case priority(selectedID) <= priority(id):
			selectedID, selectedPriv = id, candPriv
		}
	}

	return selectedID
}
