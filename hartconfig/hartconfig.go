// Package hartconfig loads a cluster's hart/CLIC configuration from
// YAML, the way tinyrange-cc's example harnesses load their test
// configuration: plain structs with yaml tags, unmarshaled directly by
// gopkg.in/yaml.v3, with defaults filled in and cross-field
// consistency checked afterward.
package hartconfig

import (
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/sarchlab/rvtrap/clic"
	"github.com/sarchlab/rvtrap/except"
	"github.com/sarchlab/rvtrap/hart"
	"github.com/sarchlab/rvtrap/priv"
)

// CLIC is the YAML shape of a cluster's CLIC configuration. A nil CLIC
// section in the parent Cluster means the cluster is basic-mode only.
type CLIC struct {
	NumInterrupt    int  `yaml:"num_interrupt"`
	ClicintctlBits  uint8 `yaml:"clicintctl_bits"`
	Version         uint8 `yaml:"version"`
	CLICCFGMBITS    uint8 `yaml:"cliccfgmbits"`
	SelHVEC         bool  `yaml:"selective_hardware_vectoring"`
	UserImplemented bool  `yaml:"user_mode_interrupts"`
}

// Hart is the YAML shape of one hart's configuration.
type Hart struct {
	Supervisor         bool   `yaml:"supervisor"`
	User               bool   `yaml:"user"`
	Priv1p12OrLater    bool   `yaml:"priv_1_12_or_later"`
	XLEN               uint8  `yaml:"xlen"`
	PreserveLROnReturn bool   `yaml:"preserve_lr_on_return"`
	CompressedEnabled  bool   `yaml:"compressed_enabled"`
	NMIAddress         uint64 `yaml:"nmi_address"`
	NMICode            uint32 `yaml:"nmi_code"`
	TvalZero           bool   `yaml:"tval_zero"`
	TvalIICode         bool   `yaml:"tval_ii_code"`
}

// Cluster is the YAML shape of a cluster of harts sharing one CLIC.
type Cluster struct {
	Harts []Hart `yaml:"harts"`
	CLIC  *CLIC  `yaml:"clic"`
}

// Load parses YAML cluster configuration from data.
func Load(data []byte) (Cluster, error) {
	var c Cluster
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Cluster{}, errors.Wrap(err, "hartconfig: parsing YAML")
	}
	if err := c.Validate(); err != nil {
		return Cluster{}, err
	}
	return c, nil
}

// Validate checks the cluster configuration for internal consistency.
func (c Cluster) Validate() error {
	if len(c.Harts) == 0 {
		return errors.New("hartconfig: cluster must define at least one hart")
	}
	if c.CLIC != nil {
		if err := c.clicConfig().Validate(); err != nil {
			return errors.Wrap(err, "hartconfig: clic section")
		}
	}
	return nil
}

func (c Cluster) clicConfig() clic.Config {
	cc := c.CLIC
	numInterrupt := cc.NumInterrupt
	if numInterrupt == 0 {
		numInterrupt = 16
	}
	ctlBits := cc.ClicintctlBits
	if ctlBits == 0 {
		ctlBits = 8
	}
	return clic.Config{
		NumHarts:        len(c.Harts),
		NumInterrupt:    numInterrupt,
		ClicintctlBits:  ctlBits,
		Version:         cc.Version,
		CLICCFGMBITS:    cc.CLICCFGMBITS,
		SelHVEC:         cc.SelHVEC,
		UserImplemented: cc.UserImplemented,
	}
}

// HartConfigs builds one hart.Config per configured hart, and the
// cluster-shared CLIC config to pass to clic.NewMemMap (nil if the
// cluster has no CLIC section).
func (c Cluster) HartConfigs() ([]hart.Config, *clic.Config) {
	var clicCfg *clic.Config
	if c.CLIC != nil {
		cfg := c.clicConfig()
		clicCfg = &cfg
	}

	configs := make([]hart.Config, len(c.Harts))
	for i, h := range c.Harts {
		exts := except.ExtNone
		if h.Supervisor {
			exts |= except.ExtS
		}
		if h.User {
			exts |= except.ExtN
		}
		configs[i] = hart.Config{
			Impl:               priv.Implemented{Supervisor: h.Supervisor, User: h.User},
			Extensions:         exts,
			CLIC:               clicCfg,
			Priv1p12OrLater:    h.Priv1p12OrLater,
			XLEN:               h.XLEN,
			PreserveLROnReturn: h.PreserveLROnReturn,
			CompressedEnabled:  h.CompressedEnabled,
			NMIAddress:         h.NMIAddress,
			NMICode:            h.NMICode,
			TvalZero:           h.TvalZero,
			TvalIICode:         h.TvalIICode,
		}
	}
	return configs, clicCfg
}
