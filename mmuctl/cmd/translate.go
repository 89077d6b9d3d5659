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

	"github.com/armkit/artos/mmuctl/config"
	"github.com/armkit/artos/pkg/hostarch"
)

// mapping is one -map argument.
type mapping struct {
	va hostarch.Addr
	pa uintptr
}

// mappingList implements flag.Value for a repeated va=pa flag.
type mappingList []mapping

// String implements flag.Value.String.
func (l *mappingList) String() string {
	var parts []string
	for _, m := range *l {
		parts = append(parts, fmt.Sprintf("%v=%#x", m.va, m.pa))
	}
	return strings.Join(parts, ",")
}

// Set implements flag.Value.Set.
func (l *mappingList) Set(s string) error {
	vaStr, paStr, ok := strings.Cut(s, "=")
	if !ok {
		return fmt.Errorf("mapping %q is not of the form va=pa", s)
	}
	va, err := parseAddr(vaStr)
	if err != nil {
		return err
	}
	pa, err := parseAddr(paStr)
	if err != nil {
		return err
	}
	*l = append(*l, mapping{va: hostarch.Addr(va), pa: uintptr(pa)})
	return nil
}

// Translate implements subcommands.Command for the "translate" command.
type Translate struct {
	mappings mappingList
	verbose  bool
}

// Name implements subcommands.Command.Name.
func (*Translate) Name() string {
	return "translate"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Translate) Synopsis() string {
	return "translate virtual addresses through the emulated MMU"
}

// Usage implements subcommands.Command.Usage.
func (*Translate) Usage() string {
	return `translate [-map va=pa]... [-v] <va>... - install the given high half mappings, then translate each address as the MMU would.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (t *Translate) SetFlags(f *flag.FlagSet) {
	f.Var(&t.mappings, "map", "map the page containing va to the page containing pa before translating; may be repeated.")
	f.BoolVar(&t.verbose, "v", false, "print every table entry visited.")
}

// Execute implements subcommands.Command.Execute.
func (t *Translate) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	if err := t.run(conf, os.Stdout, f.Args()); err != nil {
		return Errorf("translate: %v", err)
	}
	return subcommands.ExitSuccess
}

func (t *Translate) run(conf *config.Config, w io.Writer, addrs []string) error {
	vas := make([]hostarch.Addr, 0, len(addrs))
	for _, s := range addrs {
		va, err := parseAddr(s)
		if err != nil {
			return err
		}
		vas = append(vas, hostarch.Addr(va))
	}

	m, err := newMachine(conf)
	if err != nil {
		return err
	}
	defer m.Close()

	for _, mp := range t.mappings {
		got, err := m.kernel.Set(mp.va, mp.pa)
		if err != nil {
			return fmt.Errorf("mapping %v: %w", mp.va, err)
		}
		if want := mp.pa &^ (hostarch.PageSize - 1); got != want {
			fmt.Fprintf(w, "%v already mapped to %#x, not %#x\n", mp.va.RoundDown(), got, want)
		}
	}

	faults := 0
	for _, va := range vas {
		pa, err := m.cpu.Translate(va)
		if err != nil {
			faults++
			fmt.Fprintf(w, "%v: %v\n", va, err)
		} else {
			fmt.Fprintf(w, "%v -> %#x\n", va, pa)
		}
		if t.verbose && va.IsCanonical() {
			for _, e := range m.walk(va) {
				fmt.Fprintf(w, "  %v\n", e)
			}
		}
	}
	if faults > 0 {
		return fmt.Errorf("%d of %d addresses did not translate", faults, len(vas))
	}
	return nil
}
