//go:build ignore

// loadgen.go fires concurrent transfers from the genesis mint account at a
// running accountant and reports how they fared. Most submissions race for
// the same chain head, so the stale count shows how contended the head is.
//
// Run with: go run scripts/loadgen.go -mnemonic "<genesis.mint_mnemonic>"
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/jmerrifield20/accountant/pkg/client"
	"github.com/jmerrifield20/accountant/pkg/keys"
)

type result struct {
	outcome string
	latency time.Duration
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "applied"
	case errors.Is(err, client.ErrStaleReference):
		return "stale_reference"
	case errors.Is(err, client.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, client.ErrBadSignature):
		return "bad_signature"
	case errors.Is(err, client.ErrTimeout):
		return "timeout"
	default:
		return "error"
	}
}

func main() {
	server := flag.String("server", "127.0.0.1:8000", "accountant UDP address")
	mnemonic := flag.String("mnemonic", "", "mint account mnemonic (genesis.mint_mnemonic)")
	total := flag.Int("n", 200, "transfers to submit")
	workers := flag.Int("workers", 16, "concurrent senders")
	attempts := flag.Int("attempts", 5, "resubmissions per transfer on a stale head")
	flag.Parse()

	if *mnemonic == "" {
		fmt.Fprintln(os.Stderr, "-mnemonic is required")
		os.Exit(2)
	}
	mint, err := keys.FromMnemonic(*mnemonic, "")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// Recipients are throwaway keys; the mint pays one token to each in turn.
	recipients := make([]*keys.Keypair, *workers)
	for i := range recipients {
		if recipients[i], err = keys.Generate(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	jobs := make(chan int, *total)
	results := make(chan result, *total)

	var wg sync.WaitGroup
	for w := range *workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := client.New(*server, client.WithTimeout(time.Second))
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				return
			}
			defer c.Close()
			to := recipients[w].Identity
			for range jobs {
				start := time.Now()
				_, err := c.TransferLatest(context.Background(), mint, to, 1, *attempts)
				results <- result{outcome: outcomeOf(err), latency: time.Since(start)}
			}
		}()
	}

	for i := range *total {
		jobs <- i
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	counts := map[string]int{}
	var latencies []time.Duration
	done := 0
	for r := range results {
		done++
		fmt.Printf("\r  submitting... %d/%d", done, *total)
		counts[r.outcome]++
		if r.outcome == "applied" {
			latencies = append(latencies, r.latency)
		}
	}
	fmt.Printf("\r  done: %d transfers submitted\n\n", done)

	// ── Report ────────────────────────────────────────────────────────────────
	outcomes := make([]string, 0, len(counts))
	for o := range counts {
		outcomes = append(outcomes, o)
	}
	sort.Strings(outcomes)
	for _, o := range outcomes {
		fmt.Printf("  %-20s %d\n", o, counts[o])
	}

	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
		fmt.Printf("\n  applied latency  p50=%s  p99=%s\n",
			latencies[len(latencies)/2], latencies[len(latencies)*99/100])
	}
}
