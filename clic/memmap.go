package clic

import (
	"github.com/sarchlab/rvtrap/csr"
	"github.com/sarchlab/rvtrap/priv"
)

// pageSize is the size, in bytes, of one CLIC memory-mapped page.
const pageSize = 4096

// fieldSize is the size, in bytes, of one interrupt's memory-mapped word
// (ip, ie, attr, ctl - one byte each).
const fieldSize = 4

// interruptsPerPage is how many interrupts one 4 KiB page holds.
const interruptsPerPage = pageSize / fieldSize

// pagesPerHart is how many consecutive pages one hart's interrupts for
// a single mode occupy, supporting up to pagesPerHart*interruptsPerPage
// (4096) interrupts per hart/mode (spec.md §4.5.2, the reference's
// get4kIntPage dividing the page number by 4 before taking mode/hart).
const pagesPerHart = 4

// field identifies one of the four bytes of an interrupt's mapped word.
type field int

const (
	fieldIP field = iota
	fieldIE
	fieldAttr
	fieldCtl
)

// MemMap exposes the cluster's CLIC register file as a byte-addressable
// memory-mapped region: 1 control page followed by 3 sets (M, S, U) of
// pagesPerHart·NumHarts interrupt pages (spec.md §4.5.2).
type MemMap struct {
	cfg     Config
	cliccfg *csr.Cliccfg
	harts   []*Hart
}

// NewMemMap builds a register-file view over the given per-hart CLIC
// state. harts must be indexed 0..NumHarts-1 within this cluster, and
// cliccfg must be the same shared cell passed to each Hart via NewHart.
func NewMemMap(cfg Config, cliccfg *csr.Cliccfg, harts []*Hart) *MemMap {
	return &MemMap{cfg: cfg, cliccfg: cliccfg, harts: harts}
}

// pageOf returns which page number (0 = control) offset falls in.
func (m *MemMap) pageOf(offset uint32) uint32 { return offset / pageSize }

// pageMode returns the privilege mode of an interrupt page (1-based
// numbering: pages 1..4N are Machine, 4N+1..8N are Supervisor,
// 8N+1..12N are User, four physical pages grouped per hart per mode).
func (m *MemMap) pageMode(page uint32) priv.Mode {
	n := uint32(m.cfg.NumHarts)
	set := (page - 1) / (pagesPerHart * n)
	switch set {
	case 0:
		return priv.Machine
	case 1:
		return priv.Supervisor
	default:
		return priv.User
	}
}

// hartIndex returns which hart an interrupt page belongs to.
func (m *MemMap) hartIndex(page uint32) int {
	n := uint32(m.cfg.NumHarts)
	return int(((page - 1) / pagesPerHart) % n)
}

// pageInHart returns which of a hart's pagesPerHart pages page is,
// within its mode's section.
func (m *MemMap) pageInHart(page uint32) uint32 {
	return (page - 1) % pagesPerHart
}

// decode splits a byte offset into (hart, interrupt index, field), or
// reports ok=false for the control page.
func (m *MemMap) decode(offset uint32) (hart *Hart, intIndex int, f field, ok bool) {
	page := m.pageOf(offset)
	if page == 0 {
		return nil, 0, 0, false
	}

	within := offset % pageSize
	word := within / fieldSize
	byteIdx := within % fieldSize

	h := m.hartIndex(page)
	if h >= len(m.harts) || m.harts[h] == nil {
		return nil, 0, 0, false
	}

	idx := m.pageInHart(page)*interruptsPerPage + word

	return m.harts[h], int(idx), field(byteIdx), true
}

// visible reports whether an interrupt access through the given page
// mode is allowed: the interrupt's effective mode may not exceed the
// page's mode, and the interrupt must be implemented (spec.md §4.5.3).
func (m *MemMap) visible(h *Hart, intIndex int, pageMode priv.Mode) bool {
	if intIndex >= h.cfg.NumInterrupt {
		return false
	}
	return h.interruptMode(intIndex) <= pageMode
}

// ReadByte reads one byte from the CLIC memory-mapped region. Reads to
// the control page's unimplemented bytes, or to an invisible interrupt,
// return 0 (spec.md §4.5.3).
func (m *MemMap) ReadByte(offset uint32) uint8 {
	if m.pageOf(offset) == 0 {
		return m.readControl(offset % pageSize)
	}

	h, idx, f, ok := m.decode(offset)
	if !ok || idx >= h.cfg.NumInterrupt {
		return 0
	}

	pageMode := m.pageMode(m.pageOf(offset))
	if !m.visible(h, idx, pageMode) {
		return 0
	}

	s := h.ints[idx]
	switch f {
	case fieldIP:
		return boolToByte(s.IP)
	case fieldIE:
		return boolToByte(s.IE)
	case fieldAttr:
		return s.Attr.Raw()
	case fieldCtl:
		return s.Ctl
	default:
		return 0
	}
}

// WriteByte writes one byte to the CLIC memory-mapped region. Writes to
// the control page's unimplemented bytes, or to an invisible interrupt,
// are silently dropped (spec.md §4.5.3).
func (m *MemMap) WriteByte(offset uint32, value uint8) {
	if m.pageOf(offset) == 0 {
		m.writeControl(offset%pageSize, value)
		return
	}

	h, idx, f, ok := m.decode(offset)
	if !ok || idx >= h.cfg.NumInterrupt {
		return
	}

	mode := m.pageMode(m.pageOf(offset))
	if !m.visible(h, idx, mode) {
		return
	}

	switch f {
	case fieldIP:
		h.WriteIP(idx, value&1 != 0)
	case fieldIE:
		h.WriteIE(idx, value&1 != 0)
	case fieldAttr:
		h.WriteAttr(idx, value, mode)
	case fieldCtl:
		h.WriteCtl(idx, value)
	}
	h.Select()
}

// control-page layout: cliccfg at byte 0, clicinfo as 4 little-endian
// bytes starting at byte 4 (num_interrupt:16, version:8, ctlbits:8).
func (m *MemMap) readControl(off uint32) uint8 {
	switch {
	case off == 0:
		return m.cliccfg.Raw()
	case off >= 4 && off < 8:
		info := m.cfg.Clicinfo()
		raw := uint32(info.NumInterrupt) | uint32(info.Version)<<16 | uint32(info.ClicintctlBits)<<24
		return byte(raw >> ((off - 4) * 8))
	default:
		return 0
	}
}

func (m *MemMap) writeControl(off uint32, value uint8) {
	if off == 0 {
		*m.cliccfg = csr.WriteCliccfg(*m.cliccfg, value, m.cfg.CLICCFGMBITS, m.cfg.SelHVEC)
		for _, h := range m.harts {
			if h != nil {
				h.Select()
			}
		}
	}
	// clicinfo is read-only; writes to it are dropped.
}

func boolToByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
