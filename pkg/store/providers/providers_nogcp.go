//go:build !gcp

package providers

import (
	"context"
	"fmt"

	"github.com/Mindburn-Labs/dissonance/pkg/config"
	"github.com/Mindburn-Labs/dissonance/pkg/store"
)

func newGCP(ctx context.Context, cfg *config.Config) (*store.Adapters, error) {
	return nil, fmt.Errorf("gcp provider is not enabled in this build (use -tags gcp)")
}
