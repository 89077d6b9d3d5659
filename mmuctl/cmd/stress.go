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
	"time"

	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"

	"github.com/armkit/artos/mmuctl/config"
	"github.com/armkit/artos/pkg/log"
)

// Stress implements subcommands.Command for the "stress" command.
type Stress struct {
	workers  int
	opts     workloadOpts
	interval time.Duration
}

// Name implements subcommands.Command.Name.
func (*Stress) Name() string {
	return "stress"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Stress) Synopsis() string {
	return "run concurrent random mappings and check the tables afterwards"
}

// Usage implements subcommands.Command.Usage.
func (*Stress) Usage() string {
	return `stress [flags] - run workers that Set, Get and Del random high half pages, then verify that every table was freed and the table invariants hold.

Use --frame-limit to exercise allocation failures.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Stress) SetFlags(f *flag.FlagSet) {
	f.IntVar(&s.workers, "workers", 4, "number of concurrent workers, at most 512.")
	f.IntVar(&s.opts.ops, "ops", 10000, "operations per worker.")
	f.IntVar(&s.opts.pages, "pages", 256, "distinct pages per worker.")
	f.Int64Var(&s.opts.seed, "seed", 1, "random seed.")
	f.DurationVar(&s.interval, "progress", time.Second, "minimum interval between progress messages.")
}

// Execute implements subcommands.Command.Execute.
func (s *Stress) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	if err := s.run(conf, os.Stdout); err != nil {
		return Errorf("stress: %v", err)
	}
	return subcommands.ExitSuccess
}

func (s *Stress) run(conf *config.Config, w io.Writer) error {
	if s.workers <= 0 || s.workers > 512 {
		return fmt.Errorf("workers must be in [1, 512], got %d", s.workers)
	}
	if s.opts.pages <= 0 {
		return fmt.Errorf("pages must be positive, got %d", s.opts.pages)
	}

	m, err := newMachine(conf)
	if err != nil {
		return err
	}
	defer m.Close()

	var (
		stats  workloadStats
		g      errgroup.Group
		logger = log.BasicRateLimitedLogger(s.interval)
		start  = time.Now()
	)
	for i := 0; i < s.workers; i++ {
		i := i
		g.Go(func() error {
			return worker(m.kernel, i, s.opts, &stats, logger)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := m.kernel.Tables().CheckInvariants(); err != nil {
		return err
	}
	if n := m.kernel.Tables().Tables(); n != 1 {
		return fmt.Errorf("%d tables remain after cleanup, want only the root", n)
	}
	if leaked := m.frames.Allocated(); len(leaked) > 0 {
		return fmt.Errorf("%d frames still allocated after every page was unmapped: %#x", len(leaked), leaked)
	}

	fmt.Fprintf(w, "%d workers, %d operations in %v\n", s.workers, s.workers*s.opts.ops, time.Since(start).Round(time.Millisecond))
	fmt.Fprintf(w, "set %d (collisions %d, out of memory %d), get %d, del %d, misses %d\n",
		stats.sets.Load(), stats.collisions.Load(), stats.oom.Load(), stats.gets.Load(), stats.dels.Load(), stats.misses.Load())
	fmt.Fprintf(w, "tables after cleanup: 1 (root only)\n")
	return nil
}
