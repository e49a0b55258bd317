package main

import (
	"context"

	"github.com/Mindburn-Labs/dissonance/pkg/calibration"
	"github.com/Mindburn-Labs/dissonance/pkg/config"
	"github.com/Mindburn-Labs/dissonance/pkg/contracts"
	"github.com/Mindburn-Labs/dissonance/pkg/observability"
	"github.com/Mindburn-Labs/dissonance/pkg/oracle"
	"github.com/Mindburn-Labs/dissonance/pkg/ratelimit"
)

// Ingress admission defaults for the CLI surface.
const (
	limiterRPS   = 10.0
	limiterBurst = 20
)

// runtimeDeps is the config-selected infrastructure behind one oracle: the
// rate limiter backend, the telemetry provider, and the Tier B promotion
// source. close releases whatever buildDeps opened.
type runtimeDeps struct {
	limiter ratelimit.Limiter
	obs     *observability.Provider
	promote oracle.PromotionSource
	closers []func(context.Context)
}

func (d *runtimeDeps) options() []oracle.Option {
	opts := []oracle.Option{
		oracle.WithLimiter(d.limiter),
		oracle.WithObservability(d.obs),
	}
	if d.promote != nil {
		opts = append(opts, oracle.WithPromotionSource(d.promote))
	}
	return opts
}

func (d *runtimeDeps) close(ctx context.Context) {
	for _, c := range d.closers {
		c(ctx)
	}
}

// buildDeps materializes the optional surfaces the config names: the shared
// Redis limiter when an address is set, OTLP export when enabled, and the
// calibration store as promotion source when a DSN is configured. Each
// absent setting falls back to the local default.
func buildDeps(ctx context.Context, cfg *config.Config) (*runtimeDeps, error) {
	d := &runtimeDeps{}

	if cfg.RedisAddr != "" {
		rl := ratelimit.NewRedisLimiter(cfg.RedisAddr, limiterRPS, limiterBurst)
		d.limiter = rl
		d.closers = append(d.closers, func(context.Context) { _ = rl.Close() })
	} else {
		ll := ratelimit.NewLocalLimiter(limiterRPS, limiterBurst)
		d.limiter = ll
		d.closers = append(d.closers, func(context.Context) { ll.Close() })
	}

	obsCfg := observability.DefaultConfig()
	obsCfg.ServiceVersion = version
	obsCfg.Environment = string(cfg.Environment)
	obsCfg.Enabled = cfg.OTLPEnabled
	if cfg.OTLPEndpoint != "" {
		obsCfg.OTLPEndpoint = cfg.OTLPEndpoint
	}
	obs, err := observability.New(ctx, obsCfg)
	if err != nil {
		d.close(ctx)
		return nil, err
	}
	d.obs = obs
	d.closers = append(d.closers, func(ctx context.Context) { _ = obs.Shutdown(ctx) })

	if cfg.CalibrationDSN != "" {
		store, err := calibration.Open(ctx, cfg.CalibrationDriver, cfg.CalibrationDSN)
		if err != nil {
			d.close(ctx)
			return nil, err
		}
		d.closers = append(d.closers, func(context.Context) { _ = store.Close() })

		k := cfg.KAnonymity
		d.promote = func(ctx context.Context, def contracts.RuleDefinition) (calibration.PromotionStats, bool) {
			return store.Stats(ctx, def.ID, k)
		}
	}

	return d, nil
}
