package main

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"mindfry/client"
	"mindfry/transport"
)

type benchOptions struct {
	Concurrency int
	Requests    int
	Warmup      int
}

var benchOpts benchOptions

// benchCmd measures pipelined ping latency over a single connection.
var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Send concurrent pings over one pipelined connection",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if benchOpts.Concurrency <= 0 || benchOpts.Requests <= 0 {
			return fmt.Errorf("--concurrency and --requests must be positive")
		}
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			fmt.Printf("Benchmark: %d pings, %d concurrent senders, 1 connection\n",
				benchOpts.Requests, benchOpts.Concurrency)
			fmt.Printf("Target: %s (%s)\n", cfg.Addr, cfg.Network)

			start := time.Now()
			st, err := runBench(ctx, c, benchOpts)
			if err != nil {
				return err
			}
			printReport(time.Since(start), st, benchOpts.Warmup)
			return nil
		})
	},
}

func init() {
	f := benchCmd.Flags()
	f.IntVarP(&benchOpts.Concurrency, "concurrency", "p", 50, "number of concurrent senders")
	f.IntVarP(&benchOpts.Requests, "requests", "n", 10000, "total number of requests")
	f.IntVar(&benchOpts.Warmup, "warmup", 100, "requests to discard from latency stats")
}

type benchStats struct {
	mu           sync.Mutex
	latencies    []time.Duration
	errors       int
	backpressure int
}

// runBench splits opts.Requests across opts.Concurrency senders. Backpressure
// rejections are counted separately; any other failure ends the run.
func runBench(ctx context.Context, c *client.Client, opts benchOptions) (*benchStats, error) {
	st := &benchStats{latencies: make([]time.Duration, 0, opts.Requests)}
	per := opts.Requests / opts.Concurrency

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < opts.Concurrency; i++ {
		n := per
		if i == opts.Concurrency-1 {
			n = opts.Requests - per*(opts.Concurrency-1)
		}
		g.Go(func() error {
			lats := make([]time.Duration, 0, n)
			errs, bp := 0, 0
			for j := 0; j < n; j++ {
				t0 := time.Now()
				err := c.System.Ping(ctx)
				switch {
				case err == nil:
					lats = append(lats, time.Since(t0))
				case isBackpressure(err):
					bp++
				case ctx.Err() != nil:
					return ctx.Err()
				default:
					errs++
					if !c.Connected() {
						return err
					}
				}
			}
			st.mu.Lock()
			st.latencies = append(st.latencies, lats...)
			st.errors += errs
			st.backpressure += bp
			st.mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return st, nil
}

func isBackpressure(err error) bool { return errors.Is(err, transport.ErrBackpressure) }

func printReport(d time.Duration, st *benchStats, warmup int) {
	slices.Sort(st.latencies)

	total := len(st.latencies)
	if total == 0 {
		fmt.Println("\nNo successful requests.")
		fmt.Printf("Errors: %d (backpressure: %d)\n", st.errors, st.backpressure)
		return
	}

	if warmup >= total {
		warmup = 0
	}
	lats := st.latencies[warmup:]
	n := len(lats)

	var sum time.Duration
	for _, l := range lats {
		sum += l
	}

	fmt.Println("\n--- Benchmark Results ---")
	fmt.Printf("Successful:     %d (warmup: %d discarded)\n", total, warmup)
	fmt.Printf("Errors:         %d\n", st.errors)
	fmt.Printf("Backpressure:   %d\n", st.backpressure)
	fmt.Printf("Duration:       %v\n", d)
	fmt.Printf("Throughput:     %.2f req/s\n", float64(total)/d.Seconds())
	fmt.Println("\nLatency (excluding warmup):")
	fmt.Printf("  Min:   %v\n", lats[0])
	fmt.Printf("  Avg:   %v\n", sum/time.Duration(n))
	fmt.Printf("  Max:   %v\n", lats[n-1])
	fmt.Printf("  P50:   %v\n", percentile(lats, 0.50))
	fmt.Printf("  P99:   %v\n", percentile(lats, 0.99))
	fmt.Printf("  P99.9: %v\n", percentile(lats, 0.999))
}

// percentile expects sorted input.
func percentile(sorted []time.Duration, p float64) time.Duration {
	i := int(float64(len(sorted)) * p)
	return sorted[min(i, len(sorted)-1)]
}
