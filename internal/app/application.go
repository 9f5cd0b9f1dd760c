package app

import (
	"context"
	"fmt"

	"github.com/marbledao/market-layer/internal/app/domain/market"
	"github.com/marbledao/market-layer/internal/app/domain/staking"
	"github.com/marbledao/market-layer/internal/app/gateway"
	marketsvc "github.com/marbledao/market-layer/internal/app/services/market"
	stakingsvc "github.com/marbledao/market-layer/internal/app/services/staking"
	"github.com/marbledao/market-layer/internal/app/storage"
	"github.com/marbledao/market-layer/internal/app/storage/memory"
	"github.com/marbledao/market-layer/pkg/logger"
)

// Stores groups the persistence dependencies. Nil fields fall back to a
// shared in-memory store.
type Stores struct {
	Sales   storage.SaleStore
	Staking storage.StakingStore
	Configs storage.ConfigStore
	Intents storage.IntentStore
}

// Application wires the ledger services together.
type Application struct {
	Market  *marketsvc.Service
	Staking *stakingsvc.Service

	configs storage.ConfigStore
}

// New builds the application. pool answers reward pool balance queries
// and may be nil, which disables the pool guard.
func New(stores Stores, pool gateway.BalanceReader, log *logger.Logger) *Application {
	var fallback *memory.Store
	mem := func() *memory.Store {
		if fallback == nil {
			fallback = memory.New()
		}
		return fallback
	}
	if stores.Sales == nil {
		stores.Sales = mem()
	}
	if stores.Staking == nil {
		stores.Staking = mem()
	}
	if stores.Configs == nil {
		stores.Configs = mem()
	}
	if stores.Intents == nil {
		stores.Intents = mem()
	}
	if log == nil {
		log = logger.NewDefault("app")
	}

	return &Application{
		Market:  marketsvc.New(stores.Sales, stores.Configs, stores.Intents, log.WithField("service", "market")),
		Staking: stakingsvc.New(stores.Staking, stores.Configs, stores.Intents, pool, log.WithField("service", "staking")),
		configs: stores.Configs,
	}
}

// Seed writes the configuration singletons when the store does not hold
// them yet. Existing values win so runtime admin changes survive
// restarts.
func (a *Application) Seed(ctx context.Context, marketCfg market.Config, stakingCfg staking.Config) error {
	if _, err := a.configs.GetMarketConfig(ctx); err != nil {
		if err := marketCfg.Validate(); err != nil {
			return fmt.Errorf("seed market config: %w", err)
		}
		if err := a.configs.SaveMarketConfig(ctx, marketCfg); err != nil {
			return fmt.Errorf("seed market config: %w", err)
		}
	}
	if _, err := a.configs.GetStakingConfig(ctx); err != nil {
		if err := a.configs.SaveStakingConfig(ctx, stakingCfg); err != nil {
			return fmt.Errorf("seed staking config: %w", err)
		}
	}
	return nil
}
