package clic

import (
	"github.com/sarchlab/rvtrap/csr"
	"github.com/sarchlab/rvtrap/priv"
)

// Select scans the pending+enabled summary bitmap and picks the
// highest-rank interrupt: rank is (effectiveMode<<8)|clicintctl, ties
// broken in favor of the higher-numbered interrupt id (spec.md §4.5.6).
// It updates and returns h.sel.
func (h *Hart) Select() Selection {
	var (
		maxRank uint32
		id      = NoInt
	)

	for word, bits := range h.ipe {
		if bits == 0 {
			continue
		}
		for i := 0; i < 64; i++ {
			if bits&(1<<uint(i)) == 0 {
				continue
			}
			intIndex := word*64 + i
			if intIndex >= h.cfg.NumInterrupt {
				break
			}

			mode := h.interruptMode(intIndex)
			ctl := h.ints[intIndex].Ctl
			rank := (uint32(mode) << 8) | uint32(ctl)

			if id == NoInt || maxRank <= rank {
				maxRank = rank
				id = int32(intIndex)
			}
		}
	}

	if id == NoInt {
		h.sel = None
		return h.sel
	}

	nlbits := h.cliccfg.Nlbits()
	level := csr.LevelFromCtl(h.ints[id].Ctl, nlbits)

	h.sel = Selection{
		ID:    id,
		Priv:  h.interruptMode(int(id)),
		Level: level,
		SHV:   h.ints[id].Attr.Shv(),
	}
	return h.sel
}

// DeliveryContext bundles the per-mode execution state the delivery gate
// (spec.md §4.5.7) needs: whether that mode's CLIC is active, its
// mstatus.xIE, its mintstatus level, and its xintthresh threshold.
type DeliveryContext struct {
	CLICActive bool
	XIE        bool
	Level      uint8
	Threshold  uint8
}

// Promote reports whether the hart's cached CLIC selection should be
// promoted into pendEnab, given the current execution privilege, the
// basic selector's chosen privilege (or User with no selection, since
// User is the lowest), and the per-mode delivery context for the CLIC
// selection's target privilege (spec.md §4.5.7).
func Promote(sel Selection, currentMode priv.Mode, basicPriv priv.Mode, basicSelected bool, ctx DeliveryContext) bool {
	if sel.ID == NoInt {
		return false
	}
	if basicSelected && basicPriv > sel.Priv {
		return false
	}
	if currentMode > sel.Priv {
		return false
	}
	if !ctx.CLICActive {
		return false
	}
	if !(ctx.XIE || currentMode < sel.Priv) {
		return false
	}
	if !(sel.Level > ctx.Level) {
		return false
	}
	if !(sel.Level > ctx.Threshold) {
		return false
	}
	return true
}
