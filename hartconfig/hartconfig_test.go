package hartconfig_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/rvtrap/hartconfig"
)

const sampleYAML = `
harts:
  - supervisor: true
    user: true
  - supervisor: true
    user: false
clic:
  num_interrupt: 64
  clicintctl_bits: 4
  cliccfgmbits: 2
  selective_hardware_vectoring: true
`

var _ = Describe("Load", func() {
	It("parses a two-hart cluster with CLIC", func() {
		c, err := hartconfig.Load([]byte(sampleYAML))
		Expect(err).NotTo(HaveOccurred())
		Expect(c.Harts).To(HaveLen(2))
		Expect(c.CLIC.NumInterrupt).To(Equal(64))

		configs, clicCfg := c.HartConfigs()
		Expect(configs).To(HaveLen(2))
		Expect(clicCfg).NotTo(BeNil())
		Expect(clicCfg.NumHarts).To(Equal(2))
	})

	It("rejects an empty harts list", func() {
		_, err := hartconfig.Load([]byte("harts: []\n"))
		Expect(err).To(HaveOccurred())
	})

	It("rejects malformed YAML", func() {
		_, err := hartconfig.Load([]byte("harts: [\n"))
		Expect(err).To(HaveOccurred())
	})

	It("defaults to a basic-mode cluster with no CLIC section", func() {
		c, err := hartconfig.Load([]byte("harts:\n  - supervisor: false\n"))
		Expect(err).NotTo(HaveOccurred())
		_, clicCfg := c.HartConfigs()
		Expect(clicCfg).To(BeNil())
	})
})
