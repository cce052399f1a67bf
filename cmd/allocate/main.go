// Command allocate packs a contract export into vessel loads and writes the
// freight manifest.
//
//	allocate -contracts contracts.csv -fuel-price 750 [-strategy exact] [-xlsx out.xlsx]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"

	"freightalloc/internal/buildinfo"
	"freightalloc/internal/capacity"
	"freightalloc/internal/engine"
	"freightalloc/internal/integrations/csvfile"
	"freightalloc/internal/manifest"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("load .env: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		log.Fatal(err)
	}
}

type options struct {
	contracts string
	config    string
	price     float64
	strategy  string
	maxBins   int
	budget    time.Duration
	out       string
	xlsx      string
	json      string
}

func parseFlags(args []string, stderr io.Writer) (options, bool, error) {
	var o options
	fs := flag.NewFlagSet("allocate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.contracts, "contracts", "", "contract export CSV (required)")
	fs.StringVar(&o.config, "config", os.Getenv("CAPACITY_CONFIG"), "capacity YAML; built-in defaults when empty")
	fs.Float64Var(&o.price, "fuel-price", 0, "ISK per fuel unit (required, > 0)")
	fs.StringVar(&o.strategy, "strategy", os.Getenv("ALLOCATION_STRATEGY"), "heuristic or exact")
	fs.IntVar(&o.maxBins, "max-bins", 0, "vessels available per direction; 0 is unlimited")
	fs.DurationVar(&o.budget, "budget", 0, "exact solver time budget (default 2s)")
	fs.StringVar(&o.out, "out", "-", "text manifest path, - for stdout")
	fs.StringVar(&o.xlsx, "xlsx", "", "also write an XLSX workbook to this path")
	fs.StringVar(&o.json, "json", "", "also write the allocation as JSON to this path")
	version := fs.Bool("version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return o, false, err
	}
	if *version {
		return o, true, nil
	}
	if o.contracts == "" {
		return o, false, errors.New("-contracts is required")
	}
	if !(o.price > 0) {
		return o, false, errors.New("-fuel-price must be > 0")
	}
	return o, false, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	o, version, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	if version {
		fmt.Fprintln(stdout, buildinfo.String())
		return nil
	}

	m := capacity.Default()
	if o.config != "" {
		if m, err = capacity.Load(o.config); err != nil {
			return err
		}
	}

	src := csvfile.Adapter{Path: o.contracts, Hubs: m.Hubs()}
	batch, err := src.FetchContracts(ctx)
	if err != nil {
		return err
	}
	for _, rj := range batch.Rejected {
		fmt.Fprintf(stderr, "skipped line %d contract %s: %s\n", rj.Line, rj.ContractID, rj.Reason)
	}

	a, err := engine.New(m).Run(ctx, engine.Request{
		Contracts:           batch.Contracts,
		FuelUnitPrice:       o.price,
		Strategy:            o.strategy,
		MaxBinsPerDirection: o.maxBins,
		SolverTimeBudget:    o.budget,
	})
	if err != nil {
		return err
	}

	if err := writeTo(o.out, stdout, func(w io.Writer) error { return manifest.WriteText(w, a) }); err != nil {
		return err
	}
	if o.xlsx != "" {
		if err := writeTo(o.xlsx, stdout, func(w io.Writer) error { return manifest.WriteXLSX(w, a) }); err != nil {
			return err
		}
	}
	if o.json != "" {
		if err := writeTo(o.json, stdout, func(w io.Writer) error {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(a)
		}); err != nil {
			return err
		}
	}
	return nil
}

func writeTo(path string, stdout io.Writer, write func(io.Writer) error) error {
	if path == "-" {
		return write(stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
