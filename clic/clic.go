// Package clic implements the Core-Local Interrupt Controller: per-hart
// pending/enable/attribute/control state, the pending+enabled summary
// bitmap, the memory-mapped register file, and the level/privilege/
// hardware-vectoring selection algorithm (spec.md §4.5).
package clic

import (
	"github.com/pkg/errors"

	"github.com/sarchlab/rvtrap/csr"
	"github.com/sarchlab/rvtrap/priv"
)

// NoInt is the sentinel meaning "no interrupt selected" (spec.md §9,
// "Dual sentinel": distinct from the exclusive-reservation NO_TAG).
const NoInt int32 = -1

// Config is the cluster-wide, immutable CLIC configuration.
type Config struct {
	// NumHarts is the number of harts sharing this cluster's CLIC.
	NumHarts int
	// NumInterrupt is the total number of interrupt sources implemented
	// per hart, including the 16 standard slots (spec.md §4.5.1's
	// clicinfo.num_interrupt).
	NumInterrupt int
	// ClicintctlBits is the number of writable top bits in clicintctl.
	ClicintctlBits uint8
	// Version is the CLIC specification version reported in clicinfo.
	Version uint8
	// CLICCFGMBITS is the maximum value cliccfg.nmbits may take.
	CLICCFGMBITS uint8
	// SelHVEC reports whether selective hardware vectoring is
	// implemented (cliccfg.nvbits is read-only-1 iff true).
	SelHVEC bool
	// UserImplemented gates whether an interrupt's attr.mode may select
	// User mode (requires the N extension).
	UserImplemented bool
}

// Validate checks the configuration for internal consistency, returning a
// wrapped error describing the first problem found.
func (c Config) Validate() error {
	if c.NumHarts <= 0 {
		return errors.New("clic: NumHarts must be positive")
	}
	if c.NumInterrupt < 16 {
		return errors.New("clic: NumInterrupt must be at least 16 (the standard sources)")
	}
	if c.NumInterrupt > pagesPerHart*interruptsPerPage {
		return errors.Errorf("clic: NumInterrupt must be at most %d, got %d",
			pagesPerHart*interruptsPerPage, c.NumInterrupt)
	}
	if c.ClicintctlBits == 0 || c.ClicintctlBits > 8 {
		return errors.Errorf("clic: ClicintctlBits must be in [1,8], got %d", c.ClicintctlBits)
	}
	if c.CLICCFGMBITS > 2 {
		return errors.Errorf("clic: CLICCFGMBITS must be in [0,2], got %d", c.CLICCFGMBITS)
	}
	return nil
}

// Clicinfo returns the read-only clicinfo register value for this config.
func (c Config) Clicinfo() csr.Clicinfo {
	return csr.Clicinfo{
		NumInterrupt:   uint16(c.NumInterrupt),
		Version:        c.Version,
		ClicintctlBits: c.ClicintctlBits,
	}
}

// IntState holds the four byte-sized fields of one interrupt's
// memory-mapped state (spec.md §3, §4.5.1).
type IntState struct {
	IP   bool
	IE   bool
	Attr csr.Clicintattr
	Ctl  uint8
}

// Selection is the CLIC selector's cached result for one hart (spec.md
// §3 clic.sel).
type Selection struct {
	ID    int32
	Priv  priv.Mode
	Level uint8
	SHV   bool
}

// None is the zero-value selection meaning nothing is pending+enabled.
var None = Selection{ID: NoInt}

// Hart holds one hart's CLIC-visible state: per-interrupt registers, the
// pending+enabled summary bitmap, and the cached selection.
type Hart struct {
	cfg   Config
	ints  []IntState
	ipe   []uint64
	sel   Selection
	cliccfg *csr.Cliccfg // shared pointer into the owning Cluster
}

// NewHart allocates CLIC state for one hart, sized per cfg.NumInterrupt.
// cliccfg is a pointer to the cluster-shared cliccfg register: all harts
// in a cluster observe the same mode-interpretation configuration
// (spec.md §3, cluster state).
func NewHart(cfg Config, cliccfg *csr.Cliccfg) *Hart {
	words := (cfg.NumInterrupt + 63) / 64
	return &Hart{
		cfg:     cfg,
		ints:    make([]IntState, cfg.NumInterrupt),
		ipe:     make([]uint64, words),
		sel:     None,
		cliccfg: cliccfg,
	}
}

// NumInterrupt returns the number of interrupt sources implemented.
func (h *Hart) NumInterrupt() int { return h.cfg.NumInterrupt }

// State returns the raw per-interrupt state (for save/restore and tests).
func (h *Hart) State(index int) IntState { return h.ints[index] }

// Selection returns the hart's cached CLIC selection.
func (h *Hart) Selection() Selection { return h.sel }

// IPE returns the pending+enabled summary bitmap word at the given index.
func (h *Hart) IPE(word int) uint64 { return h.ipe[word] }

// AnyPending reports whether any interrupt is currently pending+enabled,
// used by WFI's halt-unless-pending test (spec.md §4.7).
func (h *Hart) AnyPending() bool {
	for _, word := range h.ipe {
		if word != 0 {
			return true
		}
	}
	return false
}

// interruptMode resolves interrupt i's effective target privilege from its
// clicintattr.mode and the cluster's cliccfg (spec.md §4.5.4).
func (h *Hart) interruptMode(i int) priv.Mode {
	return csr.InterruptMode(h.ints[i].Attr.Mode(), h.cliccfg.Nmbits(), h.cfg.CLICCFGMBITS)
}

// setIPE updates the pending+enabled summary bit for interrupt i.
func (h *Hart) setIPE(i int, v bool) {
	word, bit := i/64, uint(i%64)
	if v {
		h.ipe[word] |= 1 << bit
	} else {
		h.ipe[word] &^= 1 << bit
	}
}

// WriteIP writes clicintip for interrupt i, recomputing ip∧ie and
// mirroring it into the summary bitmap (spec.md invariant 2, §4.5.5).
// It returns true if the pending+enabled state changed, so the caller can
// re-run the selector exactly once per net effect.
func (h *Hart) WriteIP(i int, newIP bool) bool {
	s := &h.ints[i]
	oldIPE := s.IP && s.IE
	s.IP = newIP
	newIPE := s.IP && s.IE
	if oldIPE != newIPE {
		h.setIPE(i, newIPE)
		return true
	}
	return false
}

// WriteIE writes clicintie for interrupt i, mirroring the WriteIP logic.
func (h *Hart) WriteIE(i int, newIE bool) bool {
	s := &h.ints[i]
	oldIPE := s.IP && s.IE
	s.IE = newIE
	newIPE := s.IP && s.IE
	if oldIPE != newIPE {
		h.setIPE(i, newIPE)
		return true
	}
	return false
}

// WriteAttr writes clicintattr for interrupt i, clamping per spec.md
// §4.5.4 against the mode the access arrived through.
func (h *Hart) WriteAttr(i int, newValue uint8, pageMode priv.Mode) {
	h.ints[i].Attr = csr.WriteClicintattr(newValue, csr.ClampParams{
		PageMode:          pageMode,
		CLICCFGMBITS:      h.cfg.CLICCFGMBITS,
		NvbitsImplemented: h.cliccfg.Nvbits(),
		UserImplemented:   h.cfg.UserImplemented,
	})
}

// WriteCtl writes clicintctl for interrupt i, OR-ing in the
// always-one mask (spec.md invariant 3).
func (h *Hart) WriteCtl(i int, newValue uint8) {
	h.ints[i].Ctl = csr.WriteClicintctl(newValue, h.cfg.ClicintctlBits)
}

// Acknowledge handles automatic SHV acknowledgement of interrupt i
// (spec.md §4.1 step 11): edge-triggered sources deassert; level-triggered
// sources are left for the selector to re-evaluate.
func (h *Hart) Acknowledge(i int) {
	if h.ints[i].Attr.Edge() {
		h.WriteIP(i, false)
	}
}

// UpdateInput applies an external interrupt-line transition to interrupt
// i, honoring edge/level and active-low semantics (spec.md §4.6).
func (h *Hart) UpdateInput(i int, newValue bool) {
	attr := h.ints[i].Attr
	if attr.ActiveLow() {
		newValue = !newValue
	}
	if !attr.Edge() || newValue {
		h.WriteIP(i, newValue)
	}
}

// RestoreState overwrites all per-interrupt state from a prior save
// (spec.md §9, save/restore), bypassing the write-side clamps since the
// values were already valid when captured, then rebuilds the summary
// bitmap.
func (h *Hart) RestoreState(states []IntState) {
	copy(h.ints, states)
	h.RefreshIPE()
}

// RefreshIPE rebuilds the pending+enabled summary bitmap from scratch from
// per-interrupt IP/IE state. Used after restore (spec.md §6, save/restore).
func (h *Hart) RefreshIPE() {
	for i := range h.ipe {
		h.ipe[i] = 0
	}
	for i := 0; i < h.cfg.NumInterrupt; i++ {
		if h.ints[i].IP && h.ints[i].IE {
			h.setIPE(i, true)
		}
	}
}
