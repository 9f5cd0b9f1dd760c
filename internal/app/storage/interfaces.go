// Package storage defines the persistence interfaces consumed by the
// ledger services. Implementations live in storage/memory and
// storage/postgres.
package storage

import (
	"context"

	"github.com/marbledao/market-layer/internal/app/domain/market"
	"github.com/marbledao/market-layer/internal/app/domain/staking"
	"github.com/marbledao/market-layer/internal/app/gateway"
)

// SaleStore persists sale records keyed by item id.
type SaleStore interface {
	CreateSale(ctx context.Context, rec market.SaleRecord) (market.SaleRecord, error)
	UpdateSale(ctx context.Context, rec market.SaleRecord) (market.SaleRecord, error)
	GetSale(ctx context.Context, itemID uint64) (market.SaleRecord, error)
	DeleteSale(ctx context.Context, itemID uint64) error
	// ListSales returns records ordered by ascending item id, starting
	// strictly after startAfter. A startAfter of zero starts from the
	// beginning.
	ListSales(ctx context.Context, startAfter uint64, limit int) ([]market.SaleRecord, error)
}

// StakingStore persists staking records keyed by staker account.
type StakingStore interface {
	CreateStaking(ctx context.Context, rec staking.Record) (staking.Record, error)
	UpdateStaking(ctx context.Context, rec staking.Record) (staking.Record, error)
	GetStaking(ctx context.Context, staker string) (staking.Record, error)
	DeleteStaking(ctx context.Context, staker string) error
}

// ConfigStore persists the marketplace and staking configuration
// singletons.
type ConfigStore interface {
	GetMarketConfig(ctx context.Context) (market.Config, error)
	SaveMarketConfig(ctx context.Context, cfg market.Config) error
	GetStakingConfig(ctx context.Context) (staking.Config, error)
	SaveStakingConfig(ctx context.Context, cfg staking.Config) error
}

// IntentStore journals emitted intent batches until a dispatcher
// delivers them.
type IntentStore interface {
	QueueIntentBatch(ctx context.Context, batch gateway.Batch) (gateway.Batch, error)
	ListPendingIntentBatches(ctx context.Context, limit int) ([]gateway.Batch, error)
	MarkIntentBatchDelivered(ctx context.Context, id string) error
}
