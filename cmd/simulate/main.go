// Simulate drives the address selector in-process against endpoints that
// fail at configurable rates, and reports how traffic and weights settle.
//
// Usage:
//
//	go run ./cmd/simulate --endpoint 10.0.0.1:80=0.01 --endpoint 10.0.0.2:80=0.6 --requests 5000
//	go run ./cmd/simulate -c config/config.yaml --endpoint 10.0.0.1:80 --out summary.json
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/angeloszaimis/addrselect/config"
	"github.com/angeloszaimis/addrselect/pkg/logger"
)

func main() {
	flags := config.Flags()
	endpoints := flags.StringArray("endpoint", nil, "simulated endpoint as host:port=fail_rate (repeatable)")
	requests := flags.Int("requests", 1000, "total number of calls")
	concurrency := flags.Int("concurrency", 10, "calls per simulated tick")
	attempts := flags.Int("attempts", 3, "endpoints tried per call")
	tick := flags.Duration("tick", time.Second, "simulated time between ticks")
	seed := flags.Uint64("seed", 1, "pseudorandom seed")
	outJSON := flags.String("out", "", "write the JSON summary to this file")

	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "failed to parse flags: %v\n", err)
		os.Exit(2)
	}

	cfg, err := config.Load("", flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, _ := logger.New(cfg.Logging.Level, false, cfg.Server.Environment)

	sim := simulation{
		algorithm:   cfg.Selector.Algorithm,
		options:     cfg.Selector.Options(),
		requests:    *requests,
		concurrency: max(*concurrency, 1),
		attempts:    *attempts,
		tick:        *tick,
		seed:        *seed,
	}
	for _, s := range *endpoints {
		spec, err := parseEndpoint(s)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		sim.endpoints = append(sim.endpoints, spec)
	}
	if len(sim.endpoints) == 0 {
		for _, a := range cfg.Addresses() {
			sim.endpoints = append(sim.endpoints, endpointSpec{addr: a})
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rep, err := run(ctx, log, sim)
	if err != nil {
		log.Error("Simulation failed", slog.Any("err", err))
		os.Exit(1)
	}

	printReport(os.Stdout, rep)

	if *outJSON != "" {
		if err := writeJSON(*outJSON, rep); err != nil {
			log.Error("Failed to write summary", slog.Any("err", err))
			os.Exit(1)
		}
		fmt.Printf("\nWrote JSON summary to %s\n", *outJSON)
	}

	if rep.Failure > 0 {
		os.Exit(3)
	}
}

func printReport(w io.Writer, rep *report) {
	fmt.Fprintln(w, "--- Simulation Summary ---")
	fmt.Fprintf(w, "Algorithm: %s\n", rep.Algorithm)
	fmt.Fprintf(w, "Requests: %d  Success: %d  Failure: %d\n", rep.Requests, rep.Success, rep.Failure)
	fmt.Fprintf(w, "Simulated time: %v\n", rep.Simulated)

	keys := make([]string, 0, len(rep.Endpoints))
	for k := range rep.Endpoints {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintln(w, "\nEndpoints:")
	for _, k := range keys {
		er := rep.Endpoints[k]
		fmt.Fprintf(w, "  %s -> fail_rate=%.2f calls=%d failures=%d", k, er.FailRate, er.Calls, er.Failures)
		if er.Weight != nil {
			fmt.Fprintf(w, " weight=%d", *er.Weight)
		}
		if er.Dead {
			fmt.Fprint(w, " dead")
		}
		fmt.Fprintln(w)
	}
}

func writeJSON(path string, rep *report) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}
