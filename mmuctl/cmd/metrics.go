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
	"io"
	"os"
	"time"

	"github.com/google/subcommands"

	"github.com/armkit/artos/mmuctl/config"
	"github.com/armkit/artos/pkg/log"
	"github.com/armkit/artos/pkg/metric"
)

// Metrics implements subcommands.Command for the "metrics" command.
type Metrics struct {
	opts workloadOpts
}

// Name implements subcommands.Command.Name.
func (*Metrics) Name() string {
	return "metrics"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Metrics) Synopsis() string {
	return "print translation metrics in Prometheus text format"
}

// Usage implements subcommands.Command.Usage.
func (*Metrics) Usage() string {
	return `metrics [-ops N] - bring up translation, optionally run a random workload and print every metric.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (m *Metrics) SetFlags(f *flag.FlagSet) {
	f.IntVar(&m.opts.ops, "ops", 0, "random operations to run before printing.")
	f.IntVar(&m.opts.pages, "pages", 64, "distinct pages touched by the workload.")
	f.Int64Var(&m.opts.seed, "seed", 1, "random seed.")
}

// Execute implements subcommands.Command.Execute.
func (m *Metrics) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	if err := m.run(conf, os.Stdout); err != nil {
		return Errorf("metrics: %v", err)
	}
	return subcommands.ExitSuccess
}

func (m *Metrics) run(conf *config.Config, w io.Writer) error {
	mach, err := newMachine(conf)
	if err != nil {
		return err
	}
	defer mach.Close()

	if m.opts.ops > 0 && m.opts.pages > 0 {
		var stats workloadStats
		if err := worker(mach.kernel, 0, m.opts, &stats, log.BasicRateLimitedLogger(time.Second)); err != nil {
			return err
		}
	}
	return metric.WritePrometheus(w)
}
