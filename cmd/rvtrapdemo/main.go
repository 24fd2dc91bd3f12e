// Package main provides rvtrapdemo, a small driver that loads a
// cluster configuration and narrates a scripted trap/interrupt
// scenario against it.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/sarchlab/rvtrap/csr"
	"github.com/sarchlab/rvtrap/except"
	"github.com/sarchlab/rvtrap/hart"
	"github.com/sarchlab/rvtrap/hartconfig"
	"github.com/sarchlab/rvtrap/priv"
)

var (
	configPath = flag.String("config", "", "Path to a cluster YAML configuration file")
	verbose    = flag.Bool("v", false, "Verbose output")
)

const defaultConfig = `
harts:
  - supervisor: true
    user: true
clic:
  num_interrupt: 32
  clicintctl_bits: 4
  cliccfgmbits: 2
`

func main() {
	flag.Parse()

	data := []byte(defaultConfig)
	if *configPath != "" {
		read, err := os.ReadFile(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading config: %v\n", err)
			os.Exit(1)
		}
		data = read
	}

	cluster, err := hartconfig.Load(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing config: %v\n", err)
		os.Exit(1)
	}

	configs, _ := cluster.HartConfigs()
	var cliccfg *csr.Cliccfg
	if configs[0].CLIC != nil {
		cliccfg = &csr.Cliccfg{}
	}
	h := hart.New(configs[0], cliccfg, hart.WithLogger(narrator{}))
	h.Tvec[priv.Machine] = csr.XtvecFromRaw(0x8000_0000)
	h.Tvec[priv.Supervisor] = csr.XtvecFromRaw(0x8000_1000)

	fmt.Println("rvtrapdemo: scripted trap/interrupt scenario")

	pc := runECALL(h)
	pc = runMRET(h, pc)
	pc = runDelegatedException(h)
	runBasicInterrupt(h)
	runEBREAK(h)

	_ = pc
}

func runECALL(h *hart.Hart) uint64 {
	fmt.Println("\n-- ECALL from User mode --")
	h.Mode = priv.User
	return h.TakeException(0x1000, except.EnvironmentCallFromUMode, 0)
}

func runMRET(h *hart.Hart, faultPC uint64) uint64 {
	fmt.Println("\n-- MRET back to the interrupted mode --")
	h.Epc[priv.Machine] = faultPC
	return h.MRET(faultPC)
}

func runDelegatedException(h *hart.Hart) uint64 {
	fmt.Println("\n-- delegated Breakpoint exception --")
	h.Medeleg = 1 << uint(except.Breakpoint)
	h.Mode = priv.User
	return h.TakeException(0x2000, except.Breakpoint, 0x2000)
}

func runBasicInterrupt(h *hart.Hart) {
	fmt.Println("\n-- Machine-timer interrupt --")
	h.Mode = priv.Machine
	h.Mstatus.SetIE(priv.Machine, true)
	h.Mie = 1 << except.MTimerInterrupt
	h.Mip = 1 << except.MTimerInterrupt
	if _, err := h.CheckAndTakeInterrupt(context.Background(), 0x3000); err != nil {
		fmt.Fprintf(os.Stderr, "interrupt delivery failed: %v\n", err)
	}
}

func runEBREAK(h *hart.Hart) {
	fmt.Println("\n-- EBREAK into Debug mode --")
	var dcsr csr.Dcsr
	dcsr.SetPrv(priv.Machine)
	h.Dcsr = csr.DcsrFromRaw(dcsr.Raw() | 1<<15) // ebreakm
	h.EBREAK(0x4000)
	h.DRET(0x4000, 0x7b200073)
}

// narrator is a hart.Logger that prints trap/debug events to stdout.
type narrator struct{}

func (n narrator) TrapTaken(mode priv.Mode, isInterrupt bool, code uint32, pc uint64) {
	kind := "exception"
	if isInterrupt {
		kind = "interrupt"
	}
	fmt.Printf("  trap: %s code=%d target=%s pc=%#x (%s)\n", kind, code, mode, pc, except.Describe(isInterrupt, except.Code(code)))
}

func (n narrator) TrapReturned(mode priv.Mode, pc uint64) {
	fmt.Printf("  return: now in %s at pc=%#x\n", mode, pc)
}

func (n narrator) DebugEntered(cause csr.Cause, fromMode priv.Mode) {
	fmt.Printf("  debug: entered from %s, cause=%d\n", fromMode, cause)
}
