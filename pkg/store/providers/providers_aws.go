package providers

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/Mindburn-Labs/dissonance/pkg/config"
	"github.com/Mindburn-Labs/dissonance/pkg/store"
	awsstore "github.com/Mindburn-Labs/dissonance/pkg/store/aws"
)

func newAWS(ctx context.Context, cfg *config.Config) (*store.Adapters, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	ddb := dynamodb.NewFromConfig(awsCfg)
	ssmClient := ssm.NewFromConfig(awsCfg)
	s3Client := s3.NewFromConfig(awsCfg)

	return &store.Adapters{
		Provider:  config.ProviderAWS,
		FP:        awsstore.NewFPStore(ddb, cfg.FPTableName, cfg.FPBatchWindow()),
		Consent:   awsstore.NewConsentStore(ddb, cfg.ConsentTableName),
		Blocks:    awsstore.NewBlockCounter(ddb, cfg.BlockCounterTableName),
		Secrets:   awsstore.NewSecretStore(ssmClient, cfg.NonceParameterName),
		Baselines: awsstore.NewBaselineStore(s3Client, cfg.BaselineBucket),
	}, nil
}
