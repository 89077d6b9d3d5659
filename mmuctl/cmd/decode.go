// Copyright 2025 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/subcommands"

	"github.com/armkit/artos/pkg/abi/arm64"
	"github.com/armkit/artos/pkg/hostarch"
)

// Decode implements subcommands.Command for the "decode" command.
type Decode struct {
	level int
	reg   string
}

// Name implements subcommands.Command.Name.
func (*Decode) Name() string {
	return "decode"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Decode) Synopsis() string {
	return "decode raw descriptors or translation registers"
}

// Usage implements subcommands.Command.Usage.
func (*Decode) Usage() string {
	return `decode [-level N | -reg NAME] <value>... - print the fields of each value.

Values are descriptors found in a table at -level, or, with -reg, values of
SCTLR_EL1, TTBR0_EL1, TTBR1_EL1 or TCR_EL1.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (d *Decode) SetFlags(f *flag.FlagSet) {
	f.IntVar(&d.level, "level", 3, "table level (0-3) the descriptors were read from.")
	f.StringVar(&d.reg, "reg", "", "decode values as this system register instead of descriptors.")
}

// Execute implements subcommands.Command.Execute.
func (d *Decode) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	if err := d.run(os.Stdout, f.Args()); err != nil {
		return Errorf("decode: %v", err)
	}
	return subcommands.ExitSuccess
}

// lookupSysReg finds a register by name. The _EL1 suffix is optional.
func lookupSysReg(name string) (arm64.SysReg, bool) {
	for r := arm64.SCTLR_EL1; r <= arm64.TCR_EL1; r++ {
		if strings.EqualFold(name, r.String()) || strings.EqualFold(name+"_EL1", r.String()) {
			return r, true
		}
	}
	return 0, false
}

// describeRegister renders the fields of a register value.
func describeRegister(reg arm64.SysReg, v uint64) string {
	switch reg {
	case arm64.SCTLR_EL1:
		return fmt.Sprintf("mmu=%t", arm64.DecodeSCTLR(v).MMU)
	case arm64.TTBR0_EL1, arm64.TTBR1_EL1:
		return arm64.DecodeTTBR(v).String()
	case arm64.TCR_EL1:
		return arm64.DecodeTCR(v).String()
	default:
		return "unknown register"
	}
}

func (d *Decode) run(w io.Writer, values []string) error {
	var reg arm64.SysReg
	if d.reg != "" {
		var ok bool
		if reg, ok = lookupSysReg(d.reg); !ok {
			return fmt.Errorf("unknown register %q", d.reg)
		}
	} else if d.level < int(arm64.L0) || d.level > int(arm64.L3) {
		return fmt.Errorf("level %d out of range [0, 3]", d.level)
	}

	for _, s := range values {
		v, err := parseAddr(s)
		if err != nil {
			return err
		}
		if d.reg != "" {
			fmt.Fprintf(w, "%#016x: %s\n", v, describeRegister(reg, v))
			continue
		}
		level := arm64.Level(d.level)
		desc := arm64.Descriptor(v)
		fmt.Fprintf(w, "%#016x: %s\n", v, desc.Format(level))
		var mt hostarch.MemoryType
		switch desc.Kind(level) {
		case arm64.KindBlock:
			mt = hostarch.MemoryType(desc.Block().AttrIndex)
		case arm64.KindPage:
			mt = hostarch.MemoryType(desc.Page().AttrIndex)
		default:
			continue
		}
		fmt.Fprintf(w, "  memory type %v (%s)\n", mt, mt.ShortString())
	}
	return nil
}
