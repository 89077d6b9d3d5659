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
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"

	"github.com/armkit/artos/pkg/hostarch"
	"github.com/armkit/artos/pkg/log"
	"github.com/armkit/artos/pkg/ring0"
	"github.com/armkit/artos/pkg/ring0/pagetables"
)

// workloadBase is the first address workers map.
const workloadBase = hostarch.Addr(0xffff_0000_0000_0000)

// workloadOpts describe a random Set/Get/Del workload.
type workloadOpts struct {
	// ops is the number of operations per worker.
	ops int

	// pages is the number of distinct pages each worker touches.
	pages int

	// seed seeds worker i with seed+i.
	seed int64
}

// workloadStats are totals over every worker.
type workloadStats struct {
	sets, gets, dels, collisions, misses, oom atomic.Uint64
}

// worker runs one worker's share of the workload against k and checks every
// result against its own record of what it mapped. Workers use disjoint 1 GiB
// regions so their records never overlap, while still sharing the L0 and L1
// tables. Everything the worker mapped is removed before it returns.
func worker(k *ring0.Kernel, id int, opts workloadOpts, stats *workloadStats, logger log.Logger) error {
	rng := rand.New(rand.NewSource(opts.seed + int64(id)))
	region := workloadBase + hostarch.Addr(id)<<hostarch.HugePageShift
	owned := make(map[hostarch.Addr]uintptr)

	// Spread pages over several L3 tables.
	pageAddr := func(n int) hostarch.Addr {
		return region + hostarch.Addr(n/16)<<21 + hostarch.Addr(n%16)<<hostarch.PageShift
	}

	for n := 0; n < opts.ops; n++ {
		va := pageAddr(rng.Intn(opts.pages))
		switch rng.Intn(3) {
		case 0:
			pa := uintptr(rng.Intn(1<<24)) << hostarch.PageShift
			got, err := k.Set(va, pa)
			if errors.Is(err, pagetables.ErrOutOfMemory) {
				stats.oom.Add(1)
				continue
			}
			if err != nil {
				return fmt.Errorf("worker %d: Set(%v): %w", id, va, err)
			}
			want, ok := owned[va]
			if ok {
				stats.collisions.Add(1)
			} else {
				want = pa
			}
			if got != want {
				return fmt.Errorf("worker %d: Set(%v) = %#x, want %#x", id, va, got, want)
			}
			owned[va] = got
			stats.sets.Add(1)
		case 1:
			got, err := k.Get(va)
			want, ok := owned[va]
			if !ok {
				if !errors.Is(err, pagetables.ErrNotMapped) {
					return fmt.Errorf("worker %d: Get(%v) of unmapped page = (%#x, %v)", id, va, got, err)
				}
				stats.misses.Add(1)
			} else if err != nil || got != want {
				return fmt.Errorf("worker %d: Get(%v) = (%#x, %v), want %#x", id, va, got, err, want)
			}
			stats.gets.Add(1)
		case 2:
			got, err := k.Del(va)
			want, ok := owned[va]
			if !ok {
				if !errors.Is(err, pagetables.ErrNotMapped) {
					return fmt.Errorf("worker %d: Del(%v) of unmapped page = (%#x, %v)", id, va, got, err)
				}
				stats.misses.Add(1)
			} else if err != nil || got != want {
				return fmt.Errorf("worker %d: Del(%v) = (%#x, %v), want %#x", id, va, got, err, want)
			}
			delete(owned, va)
			stats.dels.Add(1)
		}
		logger.Infof("worker %d: %d/%d operations, %d pages mapped", id, n+1, opts.ops, len(owned))
	}

	for va := range owned {
		if _, err := k.Del(va); err != nil {
			return fmt.Errorf("worker %d: cleanup Del(%v): %w", id, va, err)
		}
	}
	return nil
}
