package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/Mindburn-Labs/dissonance/pkg/config"
	"github.com/Mindburn-Labs/dissonance/pkg/contracts"
	"github.com/Mindburn-Labs/dissonance/pkg/store"
	"github.com/Mindburn-Labs/dissonance/pkg/store/providers"
)

func runBaseline(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "Usage: dissonance baseline <put|get|list|delete> [flags]")
		return exitFatal
	}

	switch args[0] {
	case "put":
		return runBaselinePut(args[1:], stdout, stderr)
	case "get":
		return runBaselineGet(args[1:], stdout, stderr)
	case "list":
		return runBaselineList(args[1:], stdout, stderr)
	case "delete":
		return runBaselineDelete(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown baseline subcommand: %s\n", args[0])
		return exitFatal
	}
}

// baselineFlags parses the flags shared by all baseline subcommands and
// returns the storage adapter.
func baselineFlags(name string, args []string, stderr io.Writer, needID bool) (store.BaselineStorage, string, error) {
	cmd := flag.NewFlagSet("baseline "+name, flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		id      string
		dataDir string
	)
	if needID {
		cmd.StringVar(&id, "id", "", "Baseline identifier (REQUIRED)")
	}
	cmd.StringVar(&dataDir, "data-dir", "", "Local adapter data directory")
	if err := cmd.Parse(args); err != nil {
		return nil, "", err
	}
	if needID && id == "" {
		return nil, "", contracts.NewCodedError(contracts.CodeInvalidInput, "--id is required")
	}

	cfg := config.Load()
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	adapters, err := providers.New(context.Background(), cfg)
	if err != nil {
		return nil, "", err
	}
	return adapters.Baselines, id, nil
}

func runBaselinePut(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("baseline put", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		id      string
		file    string
		dataDir string
	)
	cmd.StringVar(&id, "id", "", "Baseline identifier (REQUIRED)")
	cmd.StringVar(&file, "file", "", "Baseline payload file (REQUIRED)")
	cmd.StringVar(&dataDir, "data-dir", "", "Local adapter data directory")
	if err := cmd.Parse(args); err != nil {
		return exitFatal
	}
	if id == "" || file == "" {
		fmt.Fprintln(stderr, "Error: --id and --file are required")
		return exitFatal
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return fatal(stderr, contracts.WrapCoded(contracts.CodeInvalidInput, err, "read %s", file))
	}

	cfg := config.Load()
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	ctx := context.Background()
	adapters, err := providers.New(ctx, cfg)
	if err != nil {
		return fatal(stderr, err)
	}

	if err := adapters.Baselines.Put(ctx, id, data, store.BaselineMeta{"source": file}); err != nil {
		return fatal(stderr, err)
	}
	fmt.Fprintf(stdout, "stored: %s (%d bytes)\n", id, len(data))
	return exitOK
}

func runBaselineGet(args []string, stdout, stderr io.Writer) int {
	baselines, id, err := baselineFlags("get", args, stderr, true)
	if err != nil {
		return fatal(stderr, err)
	}

	b, err := baselines.Get(context.Background(), id)
	if err != nil {
		return fatal(stderr, err)
	}
	if b == nil {
		fmt.Fprintf(stderr, "not found: %s\n", id)
		return exitBlock
	}
	_, _ = stdout.Write(b.Data)
	return exitOK
}

func runBaselineList(args []string, stdout, stderr io.Writer) int {
	baselines, _, err := baselineFlags("list", args, stderr, false)
	if err != nil {
		return fatal(stderr, err)
	}

	ids, err := baselines.List(context.Background())
	if err != nil {
		return fatal(stderr, err)
	}
	for _, id := range ids {
		fmt.Fprintln(stdout, id)
	}
	return exitOK
}

func runBaselineDelete(args []string, stdout, stderr io.Writer) int {
	baselines, id, err := baselineFlags("delete", args, stderr, true)
	if err != nil {
		return fatal(stderr, err)
	}

	if err := baselines.Delete(context.Background(), id); err != nil {
		return fatal(stderr, err)
	}
	fmt.Fprintf(stdout, "deleted: %s\n", id)
	return exitOK
}
