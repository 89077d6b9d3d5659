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

	"github.com/google/subcommands"

	"github.com/armkit/artos/mmuctl/config"
	"github.com/armkit/artos/pkg/ring0"
)

// Sequence implements subcommands.Command for the "sequence" command.
type Sequence struct {
	decode bool
}

// Name implements subcommands.Command.Name.
func (*Sequence) Name() string {
	return "sequence"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Sequence) Synopsis() string {
	return "print the instructions that enable the MMU"
}

// Usage implements subcommands.Command.Usage.
func (*Sequence) Usage() string {
	return `sequence [-decode] - bring up translation on the emulated CPU and print every register write, barrier and TLB invalidation it executed.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Sequence) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&s.decode, "decode", false, "annotate register writes with their fields.")
}

// Execute implements subcommands.Command.Execute.
func (s *Sequence) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	if err := s.run(conf, os.Stdout); err != nil {
		return Errorf("sequence: %v", err)
	}
	return subcommands.ExitSuccess
}

func (s *Sequence) run(conf *config.Config, w io.Writer) error {
	m, err := newMachine(conf)
	if err != nil {
		return err
	}
	defer m.Close()

	for _, op := range m.cpu.Trace() {
		if s.decode && op.Kind == ring0.OpWrite {
			fmt.Fprintf(w, "%v\t// %s\n", op, describeRegister(op.Reg, op.Value))
			continue
		}
		fmt.Fprintln(w, op)
	}
	return nil
}
