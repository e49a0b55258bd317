// Package providers wires the configured provider to its adapter quintuple.
// It sits above pkg/store and the backend packages so the interfaces stay
// import-cycle free.
package providers

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/Mindburn-Labs/dissonance/pkg/config"
	"github.com/Mindburn-Labs/dissonance/pkg/contracts"
	"github.com/Mindburn-Labs/dissonance/pkg/store"
	"github.com/Mindburn-Labs/dissonance/pkg/store/local"
)

// New resolves the provider from config, validates its required backend
// names, and constructs the adapter quintuple. Unknown providers and missing
// required config fail here, before any request is served.
func New(ctx context.Context, cfg *config.Config) (*store.Adapters, error) {
	switch cfg.Provider {
	case config.ProviderLocal:
		return newLocal(cfg)
	case config.ProviderAWS:
		if err := requireBackendNames(cfg); err != nil {
			return nil, err
		}
		return newAWS(ctx, cfg)
	case config.ProviderGCP:
		if err := requireBackendNames(cfg); err != nil {
			return nil, err
		}
		return newGCP(ctx, cfg)
	default:
		return nil, contracts.NewCodedError(contracts.CodeInvalidInput, "unknown provider %q", cfg.Provider)
	}
}

func newLocal(cfg *config.Config) (*store.Adapters, error) {
	root := cfg.DataDir

	fp, err := local.NewFPStore(filepath.Join(root, "fp_events"), cfg.FPBatchWindow())
	if err != nil {
		return nil, fmt.Errorf("local fp store: %w", err)
	}
	consent, err := local.NewConsentStore(filepath.Join(root, "consent"))
	if err != nil {
		return nil, fmt.Errorf("local consent store: %w", err)
	}
	blocks, err := local.NewBlockCounter(filepath.Join(root, "block_counter"))
	if err != nil {
		return nil, fmt.Errorf("local block counter: %w", err)
	}
	secrets, err := local.NewSecretStore(filepath.Join(root, "secrets"))
	if err != nil {
		return nil, fmt.Errorf("local secret store: %w", err)
	}
	baselines, err := local.NewBaselineStore(filepath.Join(root, "baselines"))
	if err != nil {
		return nil, fmt.Errorf("local baseline store: %w", err)
	}

	return &store.Adapters{
		Provider:  config.ProviderLocal,
		FP:        fp,
		Consent:   consent,
		Blocks:    blocks,
		Secrets:   secrets,
		Baselines: baselines,
	}, nil
}

func requireBackendNames(cfg *config.Config) error {
	required := []struct {
		value string
		key   string
	}{
		{cfg.FPTableName, "DISSONANCE_FP_TABLE"},
		{cfg.ConsentTableName, "DISSONANCE_CONSENT_TABLE"},
		{cfg.BlockCounterTableName, "DISSONANCE_BLOCK_COUNTER_TABLE"},
		{cfg.NonceParameterName, "DISSONANCE_NONCE_PARAMETER"},
		{cfg.BaselineBucket, "DISSONANCE_BASELINE_BUCKET"},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%s is required for provider %s", r.key, cfg.Provider)
		}
	}
	return nil
}
