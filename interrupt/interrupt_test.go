package interrupt_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/rvtrap/interrupt"
	"github.com/sarchlab/rvtrap/priv"
)

var _ = Describe("EffectiveEnable", func() {
	It("is always false while the mode's CLIC is active", func() {
		Expect(interrupt.EffectiveEnable(priv.Machine, priv.Machine, true, true)).To(BeFalse())
	})

	It("is true when the current mode is less privileged than the target", func() {
		Expect(interrupt.EffectiveEnable(priv.User, priv.Machine, false, false)).To(BeTrue())
	})

	It("is false when the current mode is more privileged than the target", func() {
		Expect(interrupt.EffectiveEnable(priv.Machine, priv.User, true, false)).To(BeFalse())
	})

	It("falls back to the raw xIE bit when modes match", func() {
		Expect(interrupt.EffectiveEnable(priv.Machine, priv.Machine, true, false)).To(BeTrue())
		Expect(interrupt.EffectiveEnable(priv.Machine, priv.Machine, false, false)).To(BeFalse())
	})
})

var _ = Describe("TargetMode", func() {
	It("delegates through mideleg then sideleg", func() {
		d := interrupt.Delegation{Mideleg: 1 << 9, Sideleg: 0}
		Expect(interrupt.TargetMode(d, 9)).To(Equal(priv.Supervisor))

		d = interrupt.Delegation{Mideleg: 0, Sideleg: 0}
		Expect(interrupt.TargetMode(d, 9)).To(Equal(priv.Machine))
	})
})

var _ = Describe("Select", func() {
	It("returns NoInt when nothing survives masking", func() {
		Expect(interrupt.Select(0, interrupt.ModeEnable{}, interrupt.Delegation{})).To(Equal(interrupt.NoInt))
	})

	It("masks off a mode whose enable bit is false", func() {
		pending := uint64(1) << 11 // MExternalInterrupt
		got := interrupt.Select(pending, interrupt.ModeEnable{M: false}, interrupt.Delegation{})
		Expect(got).To(Equal(interrupt.NoInt))
	})

	It("picks the higher target privilege over fixed priority", func() {
		pending := (uint64(1) << 1) | (uint64(1) << 11) // SSWInterrupt, MExternalInterrupt
		d := interrupt.Delegation{Mideleg: 1 << 1}       // SSW delegated to Supervisor
		got := interrupt.Select(pending, interrupt.ModeEnable{M: true, S: true}, d)
		Expect(got).To(BeEquivalentTo(11))
	})

	It("breaks ties among same-mode candidates by fixed priority", func() {
		pending := (uint64(1) << 3) | (uint64(1) << 7) | (uint64(1) << 11)
		got := interrupt.Select(pending, interrupt.ModeEnable{M: true}, interrupt.Delegation{})
		Expect(got).To(BeEquivalentTo(11)) // MExternal outranks MSW and MTimer
	})
})
