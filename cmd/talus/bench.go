// Copyright 2025 The LevelDB-Go and Talus Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync/atomic"
	"time"

	hdrhistogram "github.com/HdrHistogram/hdrhistogram-go"
	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"
	"github.com/talusdb/talus/db"
	"golang.org/x/sync/errgroup"
)

var (
	benchWriters   int
	benchDuration  time.Duration
	benchValueSize int
	benchSync      bool
)

const (
	benchMinLatency = 10 * time.Microsecond
	benchMaxLatency = 10 * time.Second
)

var benchCmd = &cobra.Command{
	Use:   "bench <dir>",
	Short: "run a concurrent write benchmark",
	Long:  ``,
	Args:  cobra.ExactArgs(1),
	Run:   runBench,
}

func init() {
	benchCmd.Flags().IntVar(
		&benchWriters, "writers", 1, "number of concurrent writers")
	benchCmd.Flags().DurationVarP(
		&benchDuration, "duration", "d", 10*time.Second, "the duration to run")
	benchCmd.Flags().IntVar(
		&benchValueSize, "value-size", 8, "size of each value in bytes")
	benchCmd.Flags().BoolVar(
		&benchSync, "sync", false, "sync the WAL on every write")
}

func runBench(cmd *cobra.Command, args []string) {
	d := openStore(args[0], false)
	defer d.Close()

	wo := db.NoSync
	if benchSync {
		wo = db.Sync
	}

	var ops int64
	hists := make([]*hdrhistogram.Histogram, benchWriters)

	ctx, cancel := context.WithTimeout(context.Background(), benchDuration)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < benchWriters; i++ {
		i := i
		hists[i] = hdrhistogram.New(
			benchMinLatency.Nanoseconds(), benchMaxLatency.Nanoseconds(), 1)
		g.Go(func() error {
			rng := rand.New(rand.NewSource(int64(i)))
			key := make([]byte, 0, 24)
			value := make([]byte, benchValueSize)
			for {
				select {
				case <-ctx.Done():
					return nil
				default:
				}
				key = key[:0]
				key = append(key, "bench-"...)
				key = append(key, fmt.Sprintf("%08d", rng.Intn(1e8))...)
				rng.Read(value)

				start := time.Now()
				if err := d.Set(key, value, wo); err != nil {
					return err
				}
				elapsed := time.Since(start).Nanoseconds()
				if err := hists[i].RecordValue(clampLatency(elapsed)); err != nil {
					return err
				}
				atomic.AddInt64(&ops, 1)
			}
		})
	}

	// Sample the op counter once a second for the throughput graph.
	var samples []float64
	g.Go(func() error {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		var last int64
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				cur := atomic.LoadInt64(&ops)
				samples = append(samples, float64(cur-last))
				last = cur
			}
		}
	})

	if err := g.Wait(); err != nil {
		log.Fatal(err)
	}

	merged := hists[0]
	for _, h := range hists[1:] {
		merged.Merge(h)
	}

	fmt.Printf("writers: %d, duration: %s, ops: %d (%.1f/sec)\n",
		benchWriters, benchDuration, merged.TotalCount(),
		float64(merged.TotalCount())/benchDuration.Seconds())
	fmt.Printf("latency: p50=%s p95=%s p99=%s max=%s\n",
		time.Duration(merged.ValueAtQuantile(50)),
		time.Duration(merged.ValueAtQuantile(95)),
		time.Duration(merged.ValueAtQuantile(99)),
		time.Duration(merged.Max()))
	if len(samples) > 1 {
		fmt.Println(asciigraph.Plot(samples,
			asciigraph.Height(10), asciigraph.Caption("ops/sec")))
	}
}

func clampLatency(ns int64) int64 {
	if ns < benchMinLatency.Nanoseconds() {
		return benchMinLatency.Nanoseconds()
	}
	if ns > benchMaxLatency.Nanoseconds() {
		return benchMaxLatency.Nanoseconds()
	}
	return ns
}
