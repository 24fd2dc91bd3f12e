package priv_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/rvtrap/priv"
)

var _ = Describe("Clamp", func() {
	DescribeTable("clamping an unimplemented mode down to the minimum implemented mode",
		func(impl priv.Implemented, mode priv.Mode, want priv.Mode) {
			Expect(priv.Clamp(impl, mode)).To(Equal(want))
		},
		Entry("Supervisor requested, only Machine implemented", priv.Implemented{}, priv.Supervisor, priv.Machine),
		Entry("User requested, Supervisor and User implemented", priv.Implemented{Supervisor: true, User: true}, priv.User, priv.User),
		Entry("User requested, only Supervisor implemented", priv.Implemented{Supervisor: true}, priv.User, priv.Supervisor),
	)
})

var _ = Describe("Delegate", func() {
	It("stays at Machine when the code is not delegated", func() {
		Expect(priv.Delegate(0, 0, 5)).To(Equal(priv.Machine))
	})

	It("delegates to Supervisor when medeleg is set but sedeleg is not", func() {
		Expect(priv.Delegate(1<<5, 0, 5)).To(Equal(priv.Supervisor))
	})

	It("delegates to User when both medeleg and sedeleg are set", func() {
		Expect(priv.Delegate(1<<5, 1<<5, 5)).To(Equal(priv.User))
	})
})

var _ = Describe("Max", func() {
	It("never lowers privilege", func() {
		Expect(priv.Max(priv.User, priv.Machine)).To(Equal(priv.Machine))
		Expect(priv.Max(priv.Supervisor, priv.User)).To(Equal(priv.Supervisor))
	})
})

var _ = Describe("MinImplemented", func() {
	It("prefers User, then Supervisor, then Machine", func() {
		Expect(priv.MinImplemented(priv.Implemented{Supervisor: true, User: true})).To(Equal(priv.User))
		Expect(priv.MinImplemented(priv.Implemented{Supervisor: true})).To(Equal(priv.Supervisor))
		Expect(priv.MinImplemented(priv.Implemented{})).To(Equal(priv.Machine))
	})
})
