package csr

import "github.com/sarchlab/rvtrap/priv"

// Cliccfg models the cluster-wide cliccfg register: the number of mode
// bits, level bits, and the read-only hardware-vectoring-enabled bit
// (spec.md §3, §4.5.8).
type Cliccfg struct {
	raw uint8
}

const (
	cliccfgNmbitsMask = 0x3
	cliccfgNlbitsShift = 2
	cliccfgNlbitsMask  = 0xF << cliccfgNlbitsShift
	cliccfgNvbitsBit   = 1 << 6
)

// CliccfgFromRaw builds a Cliccfg view over an existing raw value.
func CliccfgFromRaw(raw uint8) Cliccfg { return Cliccfg{raw} }

// Raw returns the underlying bit pattern.
func (c Cliccfg) Raw() uint8 { return c.raw }

// Nmbits is the number of clicintattr.mode bits interpreted (0, 1 or 2).
func (c Cliccfg) Nmbits() uint8 { return c.raw & cliccfgNmbitsMask }

// Nlbits is the number of clicintctl bits interpreted as level (0-8).
func (c Cliccfg) Nlbits() uint8 { return (c.raw & cliccfgNlbitsMask) >> cliccfgNlbitsShift }

// Nvbits is the read-only "selective hardware vectoring implemented" bit.
func (c Cliccfg) Nvbits() bool { return c.raw&cliccfgNvbitsBit != 0 }

// WriteCliccfg computes the value cliccfg should take after a write of
// newValue, given the cluster's configured maxima (spec.md §4.5.8):
// WPRI bits cleared, nmbits/nlbits clamped, nvbits preserved as read-only.
func WriteCliccfg(current Cliccfg, newValue uint8, maxNmbits uint8, nvbitsConfigured bool) Cliccfg {
	nmbits := newValue & cliccfgNmbitsMask
	if nmbits > maxNmbits {
		nmbits = maxNmbits
	}

	nlbits := (newValue & cliccfgNlbitsMask) >> cliccfgNlbitsShift
	if nlbits > 8 {
		nlbits = 8
	}

	raw := nmbits | (nlbits << cliccfgNlbitsShift)
	if nvbitsConfigured {
		raw |= cliccfgNvbitsBit
	}

	return Cliccfg{raw}
}

// Clicinfo is the cluster's read-only CLIC identification register.
type Clicinfo struct {
	NumInterrupt    uint16
	Version         uint8
	ClicintctlBits  uint8
}

// Clicintattr models the per-interrupt clicintattr byte: shv[0],
// trig[2:1], reserved[5:3], mode[7:6] (the RISC-V CLIC spec's layout).
type Clicintattr struct {
	raw uint8
}

const (
	clicintattrShvBit    = 1 << 0
	clicintattrTrigShift = 1
	clicintattrTrigMask  = 0x3 << clicintattrTrigShift
	clicintattrModeShift = 6
	clicintattrModeMask  = 0x3 << clicintattrModeShift
)

// ClicintattrFromRaw builds a Clicintattr view over an existing raw value.
func ClicintattrFromRaw(raw uint8) Clicintattr { return Clicintattr{raw} }

// Raw returns the underlying bit pattern.
func (a Clicintattr) Raw() uint8 { return a.raw }

// Mode returns the raw 2-bit mode field (interpretation depends on
// cliccfg.nmbits; see InterruptMode).
func (a Clicintattr) Mode() priv.Mode {
	return priv.Mode((a.raw & clicintattrModeMask) >> clicintattrModeShift)
}

// Shv returns the selective-hardware-vectoring bit.
func (a Clicintattr) Shv() bool { return a.raw&clicintattrShvBit != 0 }

// Trig returns the trigger-type field: bit 0 = edge (vs level), bit 1 =
// active-low (vs active-high).
func (a Clicintattr) Trig() uint8 { return (a.raw & clicintattrTrigMask) >> clicintattrTrigShift }

// Edge reports whether the interrupt is edge-triggered.
func (a Clicintattr) Edge() bool { return a.Trig()&0x1 != 0 }

// ActiveLow reports whether the interrupt is active-low.
func (a Clicintattr) ActiveLow() bool { return a.Trig()&0x2 != 0 }

// ClampParams bundles the legality constraints WriteClicintattr applies
// (spec.md §4.5.4's write-clamp rule).
type ClampParams struct {
	// PageMode is the privilege mode of the memory-mapped page the write
	// arrived through; attr.mode may never exceed it.
	PageMode priv.Mode
	// CLICCFGMBITS is the cluster's configured maximum for cliccfg.nmbits;
	// zero means the hart cannot leave Machine mode at all.
	CLICCFGMBITS uint8
	// NvbitsImplemented gates whether shv may be set.
	NvbitsImplemented bool
	// UserImplemented gates whether attr.mode may select User (needs the
	// N extension).
	UserImplemented bool
}

// WriteClicintattr computes the clamped value clicintattr should take
// after a write of newValue (spec.md §4.5.4, and the reference's
// writeCLICInterruptAttr).
func WriteClicintattr(newValue uint8, p ClampParams) Clicintattr {
	a := Clicintattr{newValue}

	if !p.NvbitsImplemented {
		a.raw &^= clicintattrShvBit
	}

	mode := a.Mode()
	illegal := mode > p.PageMode ||
		p.CLICCFGMBITS == 0 ||
		mode == priv.Reserved ||
		(p.CLICCFGMBITS < 2 && mode == priv.Supervisor) ||
		(mode == priv.User && !p.UserImplemented)

	if illegal {
		mode = p.PageMode
	}

	a.raw = (a.raw &^ clicintattrModeMask) | (uint8(mode) << clicintattrModeShift)

	return a
}

// InterruptMode resolves a per-interrupt effective target privilege mode
// from clicintattr.mode and cliccfg.nmbits/CLICCFGMBITS, per the table in
// spec.md §4.5.4.
func InterruptMode(attrMode priv.Mode, nmbits uint8, cliccfgmbits uint8) priv.Mode {
	raw := uint8(attrMode)

	switch {
	case nmbits == 0:
		return priv.Machine
	case cliccfgmbits == 1:
		if raw&0x2 != 0 {
			return priv.Machine
		}
		return priv.User
	default:
		// M/S/U, nmbits 1 or 2: mode | (nmbits==1) mirrors the reference's
		// `attr_mode | (nmbits==1)` which folds the single-bit S/M table
		// into the two-bit encoding by forcing bit 0 to 1.
		if nmbits == 1 {
			raw |= 0x1
		}
		return priv.Mode(raw & 0x3)
	}
}

// WriteClicintctl computes the value clicintctl should take after a write
// of newValue: the low, unconfigurable bits always read as 1 (spec.md §3
// invariant 3, §4.5.1).
func WriteClicintctl(newValue uint8, clicintctlBits uint8) uint8 {
	alwaysOne := uint8((1 << (8 - clicintctlBits)) - 1)
	return newValue | alwaysOne
}

// LevelFromCtl derives an interrupt's priority level from its clicintctl
// value and cliccfg.nlbits: the top nlbits bits of ctl, with the
// remaining low bits forced to 1 (spec.md §4.5.6).
func LevelFromCtl(ctl uint8, nlbits uint8) uint8 {
	nlbitsMask := ^uint8((1 << (8 - nlbits)) - 1)
	return (ctl & nlbitsMask) | ^nlbitsMask
}
