package main

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// op runs one timed operation against a randomly chosen session.
type op func(r *rand.Rand) error

type phaseResult struct {
	name     string
	wall     time.Duration
	samples  []time.Duration
	failures int64
}

// runPhase spreads n calls of fn over workers goroutines. Each worker keeps
// its own latency slice; they are merged once all workers finish.
func runPhase(name string, n, workers int, fn op) phaseResult {
	var (
		next     atomic.Int64
		failures atomic.Int64
		wg       sync.WaitGroup
		perW     = make([][]time.Duration, workers)
	)

	start := time.Now()
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(w)))
			local := make([]time.Duration, 0, n/workers+1)
			for next.Add(1) <= int64(n) {
				t0 := time.Now()
				if err := fn(r); err != nil {
					failures.Add(1)
				}
				local = append(local, time.Since(t0))
			}
			perW[w] = local
		}()
	}
	wg.Wait()

	res := phaseResult{name: name, wall: time.Since(start), failures: failures.Load()}
	for _, l := range perW {
		res.samples = append(res.samples, l...)
	}
	slices.Sort(res.samples)
	return res
}

// quantile reads q (0..1) from sorted samples by nearest rank.
func quantile(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	i := int(q * float64(len(sorted)-1))
	return sorted[min(max(i, 0), len(sorted)-1)]
}

func (p phaseResult) String() string {
	rate := 0.0
	if p.wall > 0 {
		rate = float64(len(p.samples)) / p.wall.Seconds()
	}
	return fmt.Sprintf("%-9s ops=%d failures=%d wall=%s ops/sec=%.0f p50=%s p95=%s p99=%s max=%s",
		p.name, len(p.samples), p.failures,
		p.wall.Round(time.Millisecond), rate,
		quantile(p.samples, 0.50).Round(time.Microsecond),
		quantile(p.samples, 0.95).Round(time.Microsecond),
		quantile(p.samples, 0.99).Round(time.Microsecond),
		quantile(p.samples, 1).Round(time.Microsecond),
	)
}
