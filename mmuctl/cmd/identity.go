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
	"github.com/armkit/artos/pkg/ring0/pagetables"
)

// Identity implements subcommands.Command for the "identity" command.
type Identity struct {
	dump bool
}

// Name implements subcommands.Command.Name.
func (*Identity) Name() string {
	return "identity"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Identity) Synopsis() string {
	return "build the low half identity map and describe it"
}

// Usage implements subcommands.Command.Usage.
func (*Identity) Usage() string {
	return `identity [-dump] - build the identity map up to --last-physical-address, verify it and print a summary.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (i *Identity) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&i.dump, "dump", false, "print every valid entry of the map.")
}

// Execute implements subcommands.Command.Execute.
func (i *Identity) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	if err := i.run(conf, os.Stdout); err != nil {
		return Errorf("identity: %v", err)
	}
	return subcommands.ExitSuccess
}

func (i *Identity) run(conf *config.Config, w io.Writer) error {
	m, err := newMachine(conf)
	if err != nil {
		return err
	}
	defer m.Close()

	id := m.kernel.Identity()
	if err := id.CheckInvariants(); err != nil {
		return err
	}
	fmt.Fprintf(w, "root:   %#x\n", id.RootPhysical())
	fmt.Fprintf(w, "bound:  %#x\n", id.Last())
	fmt.Fprintf(w, "blocks: %d\n", id.Blocks())
	fmt.Fprintf(w, "tables: %d\n", pagetables.IdentityTables(id.Last()))
	if i.dump {
		return id.Dump(w)
	}
	return nil
}
