package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"io"

	"github.com/Mindburn-Labs/dissonance/pkg/config"
	"github.com/Mindburn-Labs/dissonance/pkg/store/providers"
)

// runRotateNonce installs a fresh random nonce version in the configured
// secret store. Prior versions stay valid for late label batches.
func runRotateNonce(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("rotate-nonce", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var dataDir string
	cmd.StringVar(&dataDir, "data-dir", "", "Local adapter data directory")
	if err := cmd.Parse(args); err != nil {
		return exitFatal
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

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return fatal(stderr, err)
	}

	version, err := adapters.Secrets.Rotate(ctx, hex.EncodeToString(raw))
	if err != nil {
		return fatal(stderr, err)
	}

	fmt.Fprintf(stdout, "rotated: version %d active\n", version)
	return exitOK
}
