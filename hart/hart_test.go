package hart_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/rvtrap/clic"
	"github.com/sarchlab/rvtrap/csr"
	"github.com/sarchlab/rvtrap/except"
	"github.com/sarchlab/rvtrap/hart"
	"github.com/sarchlab/rvtrap/priv"
)

// fixedVectorMemory is a hart.Memory stub that returns one fixed target
// for every FetchVector call, recording the address it was asked for.
type fixedVectorMemory struct {
	target  uint64
	lastReq uint64
}

func (m *fixedVectorMemory) FetchVector(_ context.Context, addr uint64) (uint64, error) {
	m.lastReq = addr
	return m.target, nil
}

// countingRetire is a hart.RetireCounter stub that just counts calls.
type countingRetire struct{ count int }

func (c *countingRetire) Retire() { c.count++ }

var _ = Describe("TakeException", func() {
	It("delivers an undelegated exception to Machine mode and stacks mstatus", func() {
		h := hart.New(hart.Config{Impl: priv.Implemented{Supervisor: true}}, nil)
		h.Mode = priv.Supervisor
		h.Mstatus.SetIE(priv.Machine, true)
		h.Tvec[priv.Machine] = csr.XtvecFromRaw(0x8000_0000)

		pc := h.TakeException(0x1000, except.IllegalInstruction, 0xDEADBEEF)

		Expect(pc).To(BeEquivalentTo(0x8000_0000))
		Expect(h.Mode).To(Equal(priv.Machine))
		Expect(h.Mstatus.IE(priv.Machine)).To(BeFalse())
		Expect(h.Mstatus.MPP()).To(Equal(priv.Supervisor))
		Expect(h.Cause[priv.Machine].ExceptionCode()).To(BeEquivalentTo(except.IllegalInstruction))
		Expect(h.Tval[priv.Machine]).To(BeEquivalentTo(0xDEADBEEF))
		Expect(h.Epc[priv.Machine]).To(BeEquivalentTo(0x1000))
	})

	It("delivers a delegated exception to Supervisor mode", func() {
		h := hart.New(hart.Config{Impl: priv.Implemented{Supervisor: true}}, nil)
		h.Mode = priv.User
		h.Medeleg = 1 << uint(except.Breakpoint)
		h.Tvec[priv.Supervisor] = csr.XtvecFromRaw(0x9000_0000)

		pc := h.TakeException(0x2000, except.Breakpoint, 0)

		Expect(pc).To(BeEquivalentTo(0x9000_0000))
		Expect(h.Mode).To(Equal(priv.Supervisor))
	})

	It("aborts and re-latches cause None instead of trapping while halted in Debug mode", func() {
		h := hart.New(hart.Config{Impl: priv.Implemented{Supervisor: true}}, nil)
		var dcsr csr.Dcsr
		dcsr.SetPrv(priv.Machine)
		h.Dcsr = csr.DcsrFromRaw(dcsr.Raw() | 1<<15) // ebreakm
		h.Mstatus.SetMPP(priv.Supervisor)
		h.Tvec[priv.Machine] = csr.XtvecFromRaw(0x8000_0000)
		h.EBREAK(0x4000)
		h.Dpc = 0x4000

		pc := h.TakeException(0x4010, except.IllegalInstruction, 0xDEADBEEF)

		Expect(pc).To(BeEquivalentTo(0x4010))
		Expect(h.InDebug).To(BeTrue())
		Expect(h.Mode).To(Equal(priv.Machine))
		Expect(h.Dcsr.Cause()).To(Equal(csr.CauseNone))
		Expect(h.Dpc).To(BeEquivalentTo(0x4000))
		Expect(h.Mstatus.MPP()).To(Equal(priv.Supervisor))
		Expect(h.Epc[priv.Machine]).To(BeEquivalentTo(0))
		Expect(h.Cause[priv.Machine].ExceptionCode()).To(BeEquivalentTo(0))
	})
})

var _ = Describe("CheckAndTakeInterrupt", func() {
	It("takes the highest-priority pending-and-enabled basic interrupt", func() {
		h := hart.New(hart.Config{}, nil)
		h.Mstatus.SetIE(priv.Machine, true)
		h.Mie = 1<<except.MExternalInterrupt | 1<<except.MTimerInterrupt
		h.Mip = 1<<except.MExternalInterrupt | 1<<except.MTimerInterrupt
		h.Tvec[priv.Machine] = csr.XtvecFromRaw(0x8000_0000)

		pc, err := h.CheckAndTakeInterrupt(context.Background(), 0x100)

		Expect(err).NotTo(HaveOccurred())
		Expect(pc).To(BeEquivalentTo(0x8000_0000))
		Expect(h.Cause[priv.Machine].Interrupt()).To(BeTrue())
		Expect(h.Cause[priv.Machine].ExceptionCode()).To(BeEquivalentTo(except.MExternalInterrupt))
	})

	It("does nothing when no interrupt is pending", func() {
		h := hart.New(hart.Config{}, nil)
		pc, err := h.CheckAndTakeInterrupt(context.Background(), 0x100)
		Expect(err).NotTo(HaveOccurred())
		Expect(pc).To(BeEquivalentTo(0x100))
	})

	It("holds off delivery while deferint is asserted", func() {
		h := hart.New(hart.Config{}, nil)
		h.Mstatus.SetIE(priv.Machine, true)
		h.Mie = 1 << except.MTimerInterrupt
		h.Mip = 1 << except.MTimerInterrupt
		h.DeferInt.Set(true)

		pc, err := h.CheckAndTakeInterrupt(context.Background(), 0x100)
		Expect(err).NotTo(HaveOccurred())
		Expect(pc).To(BeEquivalentTo(0x100))
	})
})

var _ = Describe("MRET", func() {
	It("restores mode and re-enables interrupts", func() {
		h := hart.New(hart.Config{Impl: priv.Implemented{Supervisor: true}}, nil)
		h.Mstatus.SetMPP(priv.Supervisor)
		h.Mstatus.SetPIE(priv.Machine, true)
		h.Epc[priv.Machine] = 0x3000

		pc := h.MRET(0x0)

		Expect(pc).To(BeEquivalentTo(0x3000))
		Expect(h.Mode).To(Equal(priv.Supervisor))
		Expect(h.Mstatus.IE(priv.Machine)).To(BeTrue())
	})

	It("is a NOP while halted in Debug mode", func() {
		h := hart.New(hart.Config{Impl: priv.Implemented{Supervisor: true}}, nil)
		h.Mstatus.SetMPP(priv.Supervisor)
		h.Epc[priv.Machine] = 0x3000
		var dcsr csr.Dcsr
		dcsr.SetPrv(priv.Machine)
		h.Dcsr = csr.DcsrFromRaw(dcsr.Raw() | 1<<15)
		h.EBREAK(0x4000)

		pc := h.MRET(0x4004)

		Expect(pc).To(BeEquivalentTo(0x4004))
		Expect(h.Mode).To(Equal(priv.Machine))
		Expect(h.InDebug).To(BeTrue())
	})
})

var _ = Describe("EBREAK and DRET", func() {
	It("enters Debug mode when dcsr.ebreakm is set", func() {
		h := hart.New(hart.Config{}, nil)
		var dcsr csr.Dcsr
		dcsr.SetPrv(priv.Machine)
		h.Dcsr = csr.DcsrFromRaw(dcsr.Raw() | 1<<15) // ebreakm

		pc := h.EBREAK(0x4000)

		Expect(pc).To(BeEquivalentTo(0x4000))
		Expect(h.InDebug).To(BeTrue())
		Expect(h.Dcsr.Cause()).To(Equal(csr.CauseEbreak))
	})

	It("raises a Breakpoint exception when ebreakm is clear", func() {
		h := hart.New(hart.Config{}, nil)
		h.Tvec[priv.Machine] = csr.XtvecFromRaw(0x8000_0000)

		pc := h.EBREAK(0x4000)

		Expect(pc).To(BeEquivalentTo(0x8000_0000))
		Expect(h.InDebug).To(BeFalse())
		Expect(h.Cause[priv.Machine].ExceptionCode()).To(BeEquivalentTo(except.Breakpoint))
	})

	It("raises Illegal Instruction when DRET executes outside Debug mode", func() {
		h := hart.New(hart.Config{TvalIICode: true}, nil)
		h.Tvec[priv.Machine] = csr.XtvecFromRaw(0x8000_0000)

		pc := h.DRET(0x5000, 0x7b200073)

		Expect(pc).To(BeEquivalentTo(0x8000_0000))
		Expect(h.InDebug).To(BeFalse())
		Expect(h.Cause[priv.Machine].ExceptionCode()).To(BeEquivalentTo(except.IllegalInstruction))
		Expect(h.Tval[priv.Machine]).To(BeEquivalentTo(0x7b200073))
	})

	It("defaults Illegal Instruction's tval to zero without tval_ii_code configured", func() {
		h := hart.New(hart.Config{}, nil)
		h.Tvec[priv.Machine] = csr.XtvecFromRaw(0x8000_0000)

		h.DRET(0x5000, 0x7b200073)

		Expect(h.Tval[priv.Machine]).To(BeEquivalentTo(0))
	})

	It("forces tval to zero when tval_zero overrides tval_ii_code", func() {
		h := hart.New(hart.Config{TvalIICode: true, TvalZero: true}, nil)
		h.Tvec[priv.Machine] = csr.XtvecFromRaw(0x8000_0000)

		h.DRET(0x5000, 0x7b200073)

		Expect(h.Tval[priv.Machine]).To(BeEquivalentTo(0))
	})

	It("resumes at dpc after EBREAK then DRET", func() {
		h := hart.New(hart.Config{}, nil)
		var dcsr csr.Dcsr
		dcsr.SetPrv(priv.Machine)
		h.Dcsr = csr.DcsrFromRaw(dcsr.Raw() | 1<<15)

		h.EBREAK(0x4000)
		pc := h.DRET(0x4000, 0x7b200073)

		Expect(pc).To(BeEquivalentTo(0x4000))
		Expect(h.InDebug).To(BeFalse())
	})

	It("clamps mtval to zero for a normal Breakpoint trap in privilege >= 1.12", func() {
		h := hart.New(hart.Config{Priv1p12OrLater: true}, nil)
		h.Tvec[priv.Machine] = csr.XtvecFromRaw(0x8000_0000)

		h.EBREAK(0x4000)

		Expect(h.Tval[priv.Machine]).To(BeEquivalentTo(0))
	})
})

var _ = Describe("Save and Restore", func() {
	It("round-trips architectural state through a snapshot", func() {
		h := hart.New(hart.Config{}, nil)
		h.Mie = 0x55
		h.Mip = 0x11
		h.Dpc = 0x7000
		h.SetReservation(0xABCD)
		h.AFErrorIn, h.AFErrorOut = true, true
		h.VFirstFault, h.VStart, h.Vl = true, 3, 3
		h.Xtvt[priv.Machine] = 0xC000_0000

		snap := h.Save()
		blob := snap.Encode()

		decoded, err := hart.Decode(blob)
		Expect(err).NotTo(HaveOccurred())

		h2 := hart.New(hart.Config{}, nil)
		h2.Restore(decoded)

		Expect(h2.Mie).To(Equal(h.Mie))
		Expect(h2.Mip).To(Equal(h.Mip))
		Expect(h2.Dpc).To(Equal(h.Dpc))
		Expect(h2.Reservation).To(Equal(h.Reservation))
		Expect(h2.AFErrorIn).To(BeTrue())
		Expect(h2.AFErrorOut).To(BeTrue())
		Expect(h2.VFirstFault).To(BeTrue())
		Expect(h2.VStart).To(BeEquivalentTo(3))
		Expect(h2.Vl).To(BeEquivalentTo(3))
		Expect(h2.Xtvt[priv.Machine]).To(BeEquivalentTo(0xC000_0000))
	})

	It("rejects a corrupt magic", func() {
		_, err := hart.Decode([]byte{0, 1, 2, 3})
		Expect(err).To(HaveOccurred())
	})

	It("defaults a fresh hart's reservation to NoTag", func() {
		h := hart.New(hart.Config{}, nil)
		Expect(h.Reservation).To(Equal(hart.NoTag))
	})
})

var _ = Describe("exclusive reservation", func() {
	It("is cleared unconditionally on trap entry", func() {
		h := hart.New(hart.Config{}, nil)
		h.Tvec[priv.Machine] = csr.XtvecFromRaw(0x8000_0000)
		h.SetReservation(0x1234)

		h.TakeException(0x1000, except.IllegalInstruction, 0)

		Expect(h.Reservation).To(Equal(hart.NoTag))
	})

	It("is cleared on xret by default", func() {
		h := hart.New(hart.Config{Impl: priv.Implemented{Supervisor: true}}, nil)
		h.Mstatus.SetMPP(priv.Supervisor)
		h.SetReservation(0x1234)

		h.MRET(0x0)

		Expect(h.Reservation).To(Equal(hart.NoTag))
	})

	It("survives xret when PreserveLROnReturn is configured", func() {
		h := hart.New(hart.Config{Impl: priv.Implemented{Supervisor: true}, PreserveLROnReturn: true}, nil)
		h.Mstatus.SetMPP(priv.Supervisor)
		h.SetReservation(0x1234)

		h.MRET(0x0)

		Expect(h.Reservation).To(Equal(hart.Tag(0x1234)))
	})

	It("is cleared when SC_valid deasserts", func() {
		h := hart.New(hart.Config{}, nil)
		h.SetSCValid(true)
		h.SetReservation(0x1234)

		h.SetSCValid(false)

		Expect(h.Reservation).To(Equal(hart.NoTag))
	})
})

var _ = Describe("access-fault latching", func() {
	It("latches AFErrorIn into AFErrorOut on an access-fault exception", func() {
		h := hart.New(hart.Config{}, nil)
		h.Tvec[priv.Machine] = csr.XtvecFromRaw(0x8000_0000)
		h.SetAFErrorIn(true)

		h.TakeException(0x1000, except.LoadAccessFault, 0)

		Expect(h.AFErrorOut).To(BeTrue())
	})

	It("clears AFErrorOut on a non-access-fault exception", func() {
		h := hart.New(hart.Config{}, nil)
		h.Tvec[priv.Machine] = csr.XtvecFromRaw(0x8000_0000)
		h.SetAFErrorIn(true)
		h.AFErrorOut = true

		h.TakeException(0x1000, except.IllegalInstruction, 0)

		Expect(h.AFErrorOut).To(BeFalse())
	})
})

var _ = Describe("CLIC selective-hardware-vectored fetch", func() {
	It("fetches through xtvt with an xlen/8 stride and masks the LSB of the target", func() {
		clicCfg := clic.Config{
			NumHarts:       1,
			NumInterrupt:   32,
			ClicintctlBits: 8,
			CLICCFGMBITS:   2,
			SelHVEC:        true,
		}
		cliccfg := csr.WriteCliccfg(csr.CliccfgFromRaw(0), 2, 2, true) // nmbits=2, nvbits implemented
		mem := &fixedVectorMemory{target: 0x1000_0001}
		h := hart.New(hart.Config{CLIC: &clicCfg, XLEN: 64}, &cliccfg, hart.WithMemory(mem))
		h.Tvec[priv.Machine] = csr.XtvecFromRaw(0x8000_0000 | 3) // CLIC mode
		h.Xtvt[priv.Machine] = 0x9000_0000
		h.Mstatus.SetIE(priv.Machine, true)

		h.CLIC.WriteAttr(5, uint8(priv.Machine)<<6|1, priv.Machine) // shv=1, mode=Machine
		h.CLIC.WriteCtl(5, 0x80)
		h.CLIC.WriteIE(5, true)
		h.CLIC.WriteIP(5, true)

		pc, err := h.CheckAndTakeInterrupt(context.Background(), 0x100)

		Expect(err).NotTo(HaveOccurred())
		Expect(mem.lastReq).To(BeEquivalentTo(0x9000_0000 + 8*5))
		Expect(pc).To(BeEquivalentTo(0x1000_0000))
	})
})

var _ = Describe("TakeMemoryException", func() {
	It("suppresses the trap and clamps vl when first-only-fault and vstart are both set", func() {
		h := hart.New(hart.Config{}, nil)
		h.Tvec[priv.Machine] = csr.XtvecFromRaw(0x8000_0000)
		h.VFirstFault = true
		h.VStart = 3

		pc := h.TakeMemoryException(0x1000, except.LoadPageFault, 0)

		Expect(pc).To(BeEquivalentTo(0x1000))
		Expect(h.Mode).To(Equal(priv.Machine))
		Expect(h.VFirstFault).To(BeFalse())
		Expect(h.VStart).To(BeEquivalentTo(0))
		Expect(h.Vl).To(BeEquivalentTo(3))
		Expect(h.Cause[priv.Machine].ExceptionCode()).NotTo(BeEquivalentTo(except.LoadPageFault))
	})

	It("takes the trap normally when vstart is already zero", func() {
		h := hart.New(hart.Config{}, nil)
		h.Tvec[priv.Machine] = csr.XtvecFromRaw(0x8000_0000)
		h.VFirstFault = true

		pc := h.TakeMemoryException(0x1000, except.LoadPageFault, 0)

		Expect(pc).To(BeEquivalentTo(0x8000_0000))
		Expect(h.VFirstFault).To(BeFalse())
		Expect(h.Cause[priv.Machine].ExceptionCode()).To(BeEquivalentTo(except.LoadPageFault))
	})
})

var _ = Describe("WFI", func() {
	It("halts the hart when nothing is pending+enabled", func() {
		h := hart.New(hart.Config{}, nil)

		h.WFI()

		Expect(h.IsHalted()).To(BeTrue())
	})

	It("is a no-op when an interrupt is already pending+enabled", func() {
		h := hart.New(hart.Config{}, nil)
		h.Mie = 1 << except.MTimerInterrupt
		h.Mip = 1 << except.MTimerInterrupt

		h.WFI()

		Expect(h.IsHalted()).To(BeFalse())
	})

	It("wakes once SetInterruptLine makes something pending+enabled", func() {
		h := hart.New(hart.Config{}, nil)
		h.Mie = 1 << except.MExternalInterrupt
		h.WFI()
		Expect(h.IsHalted()).To(BeTrue())

		h.SetInterruptLine(int(except.MExternalInterrupt), true)

		Expect(h.IsHalted()).To(BeFalse())
		Expect(h.Mip & (1 << except.MExternalInterrupt)).NotTo(BeZero())
	})

	It("wakes on an arriving NMI", func() {
		h := hart.New(hart.Config{}, nil)
		h.WFI()
		Expect(h.IsHalted()).To(BeTrue())

		h.SetNMI(true)

		Expect(h.IsHalted()).To(BeFalse())
	})
})

var _ = Describe("generic per-interrupt pending lines", func() {
	It("composes ip and swip into mip independently", func() {
		h := hart.New(hart.Config{}, nil)

		h.SetInterruptLine(int(except.MExternalInterrupt), true)
		h.SetSoftwarePending(int(except.MSWInterrupt), true)

		Expect(h.Mip & (1 << except.MExternalInterrupt)).NotTo(BeZero())
		Expect(h.Mip & (1 << except.MSWInterrupt)).NotTo(BeZero())

		h.SetInterruptLine(int(except.MExternalInterrupt), false)

		Expect(h.Mip & (1 << except.MExternalInterrupt)).To(BeZero())
		Expect(h.Mip & (1 << except.MSWInterrupt)).NotTo(BeZero())
	})
})

var _ = Describe("NMI delivery", func() {
	It("does not stack mstatus and jumps to the dedicated NMI address", func() {
		h := hart.New(hart.Config{NMIAddress: 0xF000_0000, NMICode: 0x3FF}, nil)
		h.Mode = priv.User
		h.Mstatus.SetIE(priv.Machine, true)
		h.SetNMI(true)

		pc, err := h.CheckAndTakeInterrupt(context.Background(), 0x1000)

		Expect(err).NotTo(HaveOccurred())
		Expect(pc).To(BeEquivalentTo(0xF000_0000))
		Expect(h.Mode).To(Equal(priv.Machine))
		Expect(h.Mstatus.IE(priv.Machine)).To(BeTrue())
		Expect(h.Mstatus.MPP()).To(Equal(priv.User)) // NMI never stacks MPP, unlike an ordinary trap
		Expect(h.Cause[priv.Machine].Raw()).To(BeEquivalentTo(0x3FF))
		Expect(h.Epc[priv.Machine]).To(BeEquivalentTo(0x1000))
	})

	It("takes priority over an ordinary pending basic interrupt", func() {
		h := hart.New(hart.Config{NMIAddress: 0xF000_0000}, nil)
		h.Mstatus.SetIE(priv.Machine, true)
		h.Mie = 1 << except.MTimerInterrupt
		h.Mip = 1 << except.MTimerInterrupt
		h.Tvec[priv.Machine] = csr.XtvecFromRaw(0x8000_0000)
		h.SetNMI(true)

		pc, err := h.CheckAndTakeInterrupt(context.Background(), 0x1000)

		Expect(err).NotTo(HaveOccurred())
		Expect(pc).To(BeEquivalentTo(0xF000_0000))
	})

	It("is withheld while halted in Debug mode, though nmip keeps mirroring", func() {
		h := hart.New(hart.Config{NMIAddress: 0xF000_0000}, nil)
		var dcsr csr.Dcsr
		dcsr.SetPrv(priv.Machine)
		h.Dcsr = csr.DcsrFromRaw(dcsr.Raw() | 1<<15) // ebreakm
		h.EBREAK(0x4000)
		h.SetNMI(true)

		pc, err := h.CheckAndTakeInterrupt(context.Background(), 0x4004)

		Expect(err).NotTo(HaveOccurred())
		Expect(pc).To(BeEquivalentTo(0x4004))
		Expect(h.InDebug).To(BeTrue())
		Expect(h.Dcsr.Nmip()).To(BeTrue())
	})
})

var _ = Describe("external-interrupt code substitution", func() {
	It("substitutes the extInt value for the target mode's external-interrupt code", func() {
		h := hart.New(hart.Config{}, nil)
		h.Mstatus.SetIE(priv.Machine, true)
		h.Mie = 1 << except.MExternalInterrupt
		h.Mip = 1 << except.MExternalInterrupt
		h.Tvec[priv.Machine] = csr.XtvecFromRaw(0x8000_0000)
		h.ExtInt.SetValue(2, 77) // offset 2 = MExternalInterrupt

		_, err := h.CheckAndTakeInterrupt(context.Background(), 0x100)

		Expect(err).NotTo(HaveOccurred())
		Expect(h.Cause[priv.Machine].ExceptionCode()).To(BeEquivalentTo(77))
	})

	It("leaves a synchronous ECALL's code untouched despite the numeric collision", func() {
		h := hart.New(hart.Config{}, nil)
		h.Tvec[priv.Machine] = csr.XtvecFromRaw(0x8000_0000)
		h.ExtInt.SetValue(2, 77) // would collide with EnvironmentCallFromMMode=11 if ungated

		h.TakeException(0x1000, except.EnvironmentCallFromMMode, 0)

		Expect(h.Cause[priv.Machine].ExceptionCode()).To(BeEquivalentTo(except.EnvironmentCallFromMMode))
	})
})

var _ = Describe("retirement accounting", func() {
	It("counts a trapping exception that does not otherwise retire", func() {
		counter := &countingRetire{}
		h := hart.New(hart.Config{Priv1p12OrLater: true}, nil, hart.WithRetireCounter(counter))
		h.Tvec[priv.Machine] = csr.XtvecFromRaw(0x8000_0000)

		h.TakeException(0x1000, except.IllegalInstruction, 0)

		Expect(counter.count).To(Equal(1))
	})

	It("does not double-count ECALL before privilege 1.12", func() {
		counter := &countingRetire{}
		h := hart.New(hart.Config{Priv1p12OrLater: false}, nil, hart.WithRetireCounter(counter))
		h.Tvec[priv.Machine] = csr.XtvecFromRaw(0x8000_0000)

		h.TakeException(0x1000, except.EnvironmentCallFromMMode, 0)

		Expect(counter.count).To(Equal(0))
	})

	It("honors mcountinhibit.IR", func() {
		counter := &countingRetire{}
		h := hart.New(hart.Config{Priv1p12OrLater: true}, nil, hart.WithRetireCounter(counter))
		h.Tvec[priv.Machine] = csr.XtvecFromRaw(0x8000_0000)
		h.CountinhibitIR = true

		h.TakeException(0x1000, except.IllegalInstruction, 0)

		Expect(counter.count).To(Equal(0))
	})
})
