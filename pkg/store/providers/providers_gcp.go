//go:build gcp

package providers

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	gcstorage "cloud.google.com/go/storage"

	"github.com/Mindburn-Labs/dissonance/pkg/config"
	"github.com/Mindburn-Labs/dissonance/pkg/store"
	gcpstore "github.com/Mindburn-Labs/dissonance/pkg/store/gcp"
)

func newGCP(ctx context.Context, cfg *config.Config) (*store.Adapters, error) {
	projectID := gcpstore.ProjectIDFromEnv()
	if projectID == "" {
		return nil, fmt.Errorf("GOOGLE_CLOUD_PROJECT is required for provider gcp")
	}

	fsClient, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create Firestore client: %w", err)
	}
	smClient, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create Secret Manager client: %w", err)
	}
	gcsClient, err := gcstorage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}

	return &store.Adapters{
		Provider:  config.ProviderGCP,
		FP:        gcpstore.NewFPStore(fsClient, cfg.FPTableName, cfg.FPBatchWindow()),
		Consent:   gcpstore.NewConsentStore(fsClient, cfg.ConsentTableName),
		Blocks:    gcpstore.NewBlockCounter(fsClient, cfg.BlockCounterTableName),
		Secrets:   gcpstore.NewSecretStore(smClient, projectID, cfg.NonceParameterName),
		Baselines: gcpstore.NewBaselineStore(gcsClient, cfg.BaselineBucket),
	}, nil
}
