package signal_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/rvtrap/signal"
)

var _ = Describe("Line", func() {
	It("reports NoEdge when the value repeats", func() {
		var l signal.Line
		Expect(l.Set(false)).To(Equal(signal.NoEdge))
	})

	It("reports RisingEdge and FallingEdge on transitions", func() {
		var l signal.Line
		Expect(l.Set(true)).To(Equal(signal.RisingEdge))
		Expect(l.Value()).To(BeTrue())
		Expect(l.Set(false)).To(Equal(signal.FallingEdge))
	})
})

var _ = Describe("NMILatch", func() {
	It("latches pending on a rising edge and stays pending after the line falls", func() {
		var n signal.NMILatch
		n.Set(true)
		Expect(n.Pending()).To(BeTrue())
		n.Set(false)
		Expect(n.Pending()).To(BeTrue())
	})

	It("clears on Ack", func() {
		var n signal.NMILatch
		n.Set(true)
		n.Ack()
		Expect(n.Pending()).To(BeFalse())
	})
})

var _ = Describe("ExternalInterrupts", func() {
	It("tracks each offset's substitution code independently", func() {
		var e signal.ExternalInterrupts
		e.SetValue(0, 42)
		Expect(e.Value(0)).To(Equal(uint32(42)))
		Expect(e.Value(1)).To(Equal(uint32(0)))
	})
})

var _ = Describe("SCValid", func() {
	It("reports the edge produced by each sample", func() {
		var s signal.SCValid
		Expect(s.Set(true)).To(Equal(signal.RisingEdge))
		Expect(s.Set(true)).To(Equal(signal.NoEdge))
		Expect(s.Value()).To(BeTrue())
		Expect(s.Set(false)).To(Equal(signal.FallingEdge))
	})
})
