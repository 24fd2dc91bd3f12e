package hart

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/sarchlab/rvtrap/clic"
	"github.com/sarchlab/rvtrap/csr"
	"github.com/sarchlab/rvtrap/priv"
)

// saveMagic and saveVersion identify the blob format Save/Restore use,
// so a mismatched or corrupt blob is rejected up front rather than
// producing silently wrong architectural state (spec.md §9,
// save/restore).
const (
	saveMagic   uint32 = 0x52565452 // "RVTR"
	saveVersion uint16 = 1
)

// Snapshot is the decoded form of a saved hart image (spec.md §9): all
// architectural state needed to resume execution exactly where it left
// off, independent of the host's memory image.
type Snapshot struct {
	Mode priv.Mode

	Mstatus    uint64
	Cause      [4]uint64
	Epc        [4]uint64
	Tval       [4]uint64
	Tvec       [4]uint64
	Mintstatus uint32
	Intthresh  [4]uint8

	Mie, Mip         uint64
	Mideleg, Sideleg uint64
	Medeleg, Sedeleg uint64

	Dcsr    uint32
	Dpc     uint64
	InDebug bool

	NMIPending       bool
	Haltreq          bool
	Resethaltreq     bool
	DeferIntAsserted bool
	SCValid          bool
	ExtInt           [3]uint32

	// Ip/Swip are the generic per-interrupt pending bits fed by
	// SetInterruptLine/SetSoftwarePending (spec.md §4.6), composed into
	// Mip but tracked separately. Restore copies Mip as saved and
	// restores this split, so later SetInterruptLine/SetSoftwarePending
	// calls recompose Mip from it.
	Ip, Swip uint64

	// Halted mirrors Hart.Halted, the WFI/Debug halt-reason bitmask
	// (spec.md §4.7).
	Halted uint8

	// CountinhibitIR mirrors mcountinhibit.IR, suppressing retirement
	// accounting (spec.md SPEC_FULL §D.5).
	CountinhibitIR bool

	StepArmed, StepPrimed bool

	// Reservation is the hart's live LR/SC exclusive-access tag (hart.Tag).
	Reservation uint64

	// AFErrorIn/AFErrorOut mirror Hart's access-fault latch (spec.md §3).
	AFErrorIn, AFErrorOut bool

	// VFirstFault/VStart/Vl mirror Hart's first-only-fault hook state
	// (spec.md §3 invariant 7).
	VFirstFault bool
	VStart, Vl  uint8

	// Xtvt is the CLIC vector-table base register per mode (spec.md
	// §4.1 step 11).
	Xtvt [4]uint64

	CLICStates []clic.IntState
}

// Save captures the hart's full architectural state.
func (h *Hart) Save() Snapshot {
	s := Snapshot{
		Mode:             h.Mode,
		Mstatus:          h.Mstatus.Raw(),
		Mintstatus:       h.Mintstatus.Raw(),
		Mie:              h.Mie,
		Mip:              h.Mip,
		Mideleg:          h.Mideleg,
		Sideleg:          h.Sideleg,
		Medeleg:          h.Medeleg,
		Sedeleg:          h.Sedeleg,
		Dcsr:             h.Dcsr.Raw(),
		Dpc:              h.Dpc,
		InDebug:          h.InDebug,
		NMIPending:       h.NMI.Pending(),
		Haltreq:          h.Debug.Haltreq.Value(),
		Resethaltreq:     h.Debug.Resethaltreq.Value(),
		DeferIntAsserted: h.DeferInt.Asserted(),
		SCValid:          h.SCValid.Value(),
		Reservation:      uint64(h.Reservation),
		AFErrorIn:        h.AFErrorIn,
		AFErrorOut:       h.AFErrorOut,
		VFirstFault:      h.VFirstFault,
		VStart:           h.VStart,
		Vl:               h.Vl,
		Xtvt:             h.Xtvt,
		Ip:               h.ip,
		Swip:             h.swip,
		Halted:           uint8(h.Halted),
		CountinhibitIR:   h.CountinhibitIR,
	}
	for i := 0; i < 4; i++ {
		s.Cause[i] = h.Cause[i].Raw()
		s.Epc[i] = h.Epc[i]
		s.Tval[i] = h.Tval[i]
		s.Tvec[i] = h.Tvec[i].Raw()
		s.Intthresh[i] = h.Intthresh[i].Raw()
	}
	for i := 0; i < 3; i++ {
		s.ExtInt[i] = h.ExtInt.Value(i)
	}
	s.StepArmed, s.StepPrimed = h.stepTimer.State()

	if h.CLIC != nil {
		s.CLICStates = make([]clic.IntState, h.CLIC.NumInterrupt())
		for i := range s.CLICStates {
			s.CLICStates[i] = h.CLIC.State(i)
		}
	}

	return s
}

// Restore overwrites the hart's architectural state from a snapshot
// produced by Save. It does not validate that the snapshot came from a
// hart with a compatible Config; callers restoring across
// configuration changes are responsible for that.
func (h *Hart) Restore(s Snapshot) {
	h.Mode = s.Mode
	h.Mstatus = csr.MstatusFromRaw(s.Mstatus)
	h.Mintstatus = csr.MintstatusFromRaw(s.Mintstatus)
	h.Mie, h.Mip = s.Mie, s.Mip
	h.Mideleg, h.Sideleg = s.Mideleg, s.Sideleg
	h.Medeleg, h.Sedeleg = s.Medeleg, s.Sedeleg
	h.Dcsr = csr.DcsrFromRaw(s.Dcsr)
	h.Dpc = s.Dpc
	h.InDebug = s.InDebug

	h.NMI.Ack()
	if s.NMIPending {
		h.NMI.Set(false)
		h.NMI.Set(true)
	}
	h.Debug.Haltreq.Set(s.Haltreq)
	h.Debug.Resethaltreq.Set(s.Resethaltreq)
	h.DeferInt.Set(s.DeferIntAsserted)
	h.SCValid.Set(s.SCValid)
	for i := 0; i < 3; i++ {
		h.ExtInt.SetValue(i, s.ExtInt[i])
	}
	h.stepTimer.SetState(s.StepArmed, s.StepPrimed)

	h.Reservation = Tag(s.Reservation)
	h.AFErrorIn, h.AFErrorOut = s.AFErrorIn, s.AFErrorOut
	h.VFirstFault, h.VStart, h.Vl = s.VFirstFault, s.VStart, s.Vl
	h.Xtvt = s.Xtvt
	h.ip, h.swip = s.Ip, s.Swip
	h.Halted = HaltReason(s.Halted)
	h.CountinhibitIR = s.CountinhibitIR

	for i := 0; i < 4; i++ {
		h.Cause[i] = csr.XcauseFromRaw(s.Cause[i])
		h.Epc[i] = s.Epc[i]
		h.Tval[i] = s.Tval[i]
		h.Tvec[i] = csr.XtvecFromRaw(s.Tvec[i])
		h.Intthresh[i] = csr.XintthreshFromRaw(s.Intthresh[i])
	}

	if h.CLIC != nil && len(s.CLICStates) == h.CLIC.NumInterrupt() {
		h.CLIC.RestoreState(s.CLICStates)
	}
}

// Encode serializes a Snapshot to its wire format: a fixed-size scalar
// header, a uint32 count of CLIC interrupt sources, then one 3-byte
// record per source (ip/ie flags byte, clicintattr, clicintctl).
func (s Snapshot) Encode() []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, saveMagic)
	binary.Write(&buf, binary.LittleEndian, saveVersion)
	binary.Write(&buf, binary.LittleEndian, uint8(s.Mode))
	binary.Write(&buf, binary.LittleEndian, s.Mstatus)
	binary.Write(&buf, binary.LittleEndian, s.Cause)
	binary.Write(&buf, binary.LittleEndian, s.Epc)
	binary.Write(&buf, binary.LittleEndian, s.Tval)
	binary.Write(&buf, binary.LittleEndian, s.Tvec)
	binary.Write(&buf, binary.LittleEndian, s.Mintstatus)
	binary.Write(&buf, binary.LittleEndian, s.Intthresh)
	binary.Write(&buf, binary.LittleEndian, s.Mie)
	binary.Write(&buf, binary.LittleEndian, s.Mip)
	binary.Write(&buf, binary.LittleEndian, s.Mideleg)
	binary.Write(&buf, binary.LittleEndian, s.Sideleg)
	binary.Write(&buf, binary.LittleEndian, s.Medeleg)
	binary.Write(&buf, binary.LittleEndian, s.Sedeleg)
	binary.Write(&buf, binary.LittleEndian, s.Dcsr)
	binary.Write(&buf, binary.LittleEndian, s.Dpc)
	binary.Write(&buf, binary.LittleEndian, packBools(s.InDebug, s.NMIPending, s.Haltreq, s.Resethaltreq,
		s.DeferIntAsserted, s.SCValid, s.StepArmed, s.StepPrimed,
		s.AFErrorIn, s.AFErrorOut, s.VFirstFault, s.CountinhibitIR))
	binary.Write(&buf, binary.LittleEndian, s.Reservation)
	binary.Write(&buf, binary.LittleEndian, s.VStart)
	binary.Write(&buf, binary.LittleEndian, s.Vl)
	binary.Write(&buf, binary.LittleEndian, s.Xtvt)
	binary.Write(&buf, binary.LittleEndian, s.ExtInt)
	binary.Write(&buf, binary.LittleEndian, s.Ip)
	binary.Write(&buf, binary.LittleEndian, s.Swip)
	binary.Write(&buf, binary.LittleEndian, s.Halted)

	binary.Write(&buf, binary.LittleEndian, uint32(len(s.CLICStates)))
	for _, st := range s.CLICStates {
		binary.Write(&buf, binary.LittleEndian, packBoolsByte(st.IP, st.IE))
		binary.Write(&buf, binary.LittleEndian, st.Attr.Raw())
		binary.Write(&buf, binary.LittleEndian, st.Ctl)
	}

	return buf.Bytes()
}

// Decode parses a blob written by Snapshot.Encode, rejecting a
// truncated, corrupt, or version-mismatched blob with a wrapped error
// rather than panicking on a short read.
func Decode(blob []byte) (Snapshot, error) {
	r := bytes.NewReader(blob)
	var s Snapshot

	var magic uint32
	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return s, errors.Wrap(err, "hart: reading snapshot magic")
	}
	if magic != saveMagic {
		return s, errors.Errorf("hart: bad snapshot magic %#x", magic)
	}

	var version uint16
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return s, errors.Wrap(err, "hart: reading snapshot version")
	}
	if version != saveVersion {
		return s, errors.Errorf("hart: unsupported snapshot version %d", version)
	}

	var mode uint8
	fields := []any{
		&mode, &s.Mstatus, &s.Cause, &s.Epc, &s.Tval, &s.Tvec, &s.Mintstatus, &s.Intthresh,
		&s.Mie, &s.Mip, &s.Mideleg, &s.Sideleg, &s.Medeleg, &s.Sedeleg, &s.Dcsr, &s.Dpc,
	}
	for _, f := range fields {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return Snapshot{}, errors.Wrap(err, "hart: reading snapshot body")
		}
	}
	s.Mode = priv.Mode(mode)

	var flags uint16
	if err := binary.Read(r, binary.LittleEndian, &flags); err != nil {
		return Snapshot{}, errors.Wrap(err, "hart: reading snapshot flags")
	}
	bits := unpackBools(uint64(flags), 12)
	s.InDebug, s.NMIPending, s.Haltreq, s.Resethaltreq, s.DeferIntAsserted, s.SCValid,
		s.StepArmed, s.StepPrimed, s.AFErrorIn, s.AFErrorOut, s.VFirstFault, s.CountinhibitIR =
		bits[0], bits[1], bits[2], bits[3], bits[4], bits[5], bits[6], bits[7], bits[8], bits[9], bits[10], bits[11]

	tailFields := []any{&s.Reservation, &s.VStart, &s.Vl, &s.Xtvt, &s.ExtInt, &s.Ip, &s.Swip, &s.Halted}
	for _, f := range tailFields {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return Snapshot{}, errors.Wrap(err, "hart: reading snapshot tail")
		}
	}

	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return Snapshot{}, errors.Wrap(err, "hart: reading CLIC interrupt count")
	}
	s.CLICStates = make([]clic.IntState, count)
	for i := range s.CLICStates {
		var ipie uint8
		var attr, ctl uint8
		if err := binary.Read(r, binary.LittleEndian, &ipie); err != nil {
			return Snapshot{}, errors.Wrapf(err, "hart: reading CLIC interrupt %d ip/ie", i)
		}
		if err := binary.Read(r, binary.LittleEndian, &attr); err != nil {
			return Snapshot{}, errors.Wrapf(err, "hart: reading CLIC interrupt %d attr", i)
		}
		if err := binary.Read(r, binary.LittleEndian, &ctl); err != nil {
			return Snapshot{}, errors.Wrapf(err, "hart: reading CLIC interrupt %d ctl", i)
		}
		ipieBits := unpackBools(uint64(ipie), 2)
		s.CLICStates[i] = clic.IntState{IP: ipieBits[0], IE: ipieBits[1], Attr: csr.ClicintattrFromRaw(attr), Ctl: ctl}
	}

	return s, nil
}

func packBoolsByte(bs ...bool) uint8 {
	var v uint8
	for i, b := range bs {
		if b {
			v |= 1 << uint(i)
		}
	}
	return v
}

func packBools(bs ...bool) uint16 {
	var v uint16
	for i, b := range bs {
		if b {
			v |= 1 << uint(i)
		}
	}
	return v
}

// unpackBools splits the low n bits of v into individual flags, the
// inverse of packBools.
func unpackBools(v uint64, n int) []bool {
	bits := make([]bool, n)
	for idx := range bits {
		bits[idx] = v&(1<<uint(idx)) != 0
	}
	return bits
}
