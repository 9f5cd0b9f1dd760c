// Package staking implements the item staking engine: lazy reward
// accrual, claims against the reward pool, and the two-phase unstake
// with a lock period.
package staking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/marbledao/market-layer/internal/app/domain/staking"
	"github.com/marbledao/market-layer/internal/app/gateway"
	"github.com/marbledao/market-layer/internal/app/storage"
	"github.com/marbledao/market-layer/pkg/logger"
)

var (
	ErrDisabled            = errors.New("staking is disabled")
	ErrNotStaked           = errors.New("no staking record")
	ErrNoReward            = errors.New("no reward to claim")
	ErrInsufficientFunds   = errors.New("reward pool balance is insufficient")
	ErrUnstakeNotRequested = errors.New("no unstake request")
	ErrStillInLock         = errors.New("unstake is still in the lock period")
	ErrUnauthorized        = errors.New("unauthorized")
)

// Service mediates every mutation of the staking ledger. Rewards accrue
// lazily: nothing runs in the background, each operation settles the
// record's accrual up to the current time before acting.
type Service struct {
	stakes  storage.StakingStore
	configs storage.ConfigStore
	journal storage.IntentStore
	pool    gateway.BalanceReader
	log     *logger.Logger
	now     func() time.Time
}

// New creates the staking service. pool answers reward pool balance
// queries; journal may be nil when no dispatcher runs.
func New(stakes storage.StakingStore, configs storage.ConfigStore, journal storage.IntentStore, pool gateway.BalanceReader, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("staking")
	}
	return &Service{
		stakes:  stakes,
		configs: configs,
		journal: journal,
		pool:    pool,
		log:     log,
		now:     time.Now,
	}
}

// Stake adds an item to the caller's staking record, creating the record
// on first use. Existing accrual is settled before the item count
// changes so the new item only earns from now on.
func (s *Service) Stake(ctx context.Context, staker string, itemID uint64) (staking.Record, error) {
	cfg, err := s.enabledConfig(ctx)
	if err != nil {
		return staking.Record{}, err
	}
	now := uint64(s.now().Unix())

	rec, err := s.stakes.GetStaking(ctx, staker)
	if err != nil {
		rec = staking.Record{
			Staker:      staker,
			ItemIDs:     []uint64{itemID},
			LastAccrual: now,
		}
		created, err := s.stakes.CreateStaking(ctx, rec)
		if err != nil {
			return staking.Record{}, fmt.Errorf("create staking record: %w", err)
		}
		s.log.WithField("staker", staker).WithField("item", itemID).Info("staking record created")
		return created, nil
	}

	s.settleAccrual(&rec, now, cfg)
	rec.ItemIDs = append(rec.ItemIDs, itemID)
	updated, err := s.stakes.UpdateStaking(ctx, rec)
	if err != nil {
		return staking.Record{}, fmt.Errorf("update staking record: %w", err)
	}
	s.log.WithField("staker", staker).WithField("item", itemID).Debug("item staked")
	return updated, nil
}

// Claim pays out the staker's unclaimed reward from the pool.
func (s *Service) Claim(ctx context.Context, staker string) (staking.Record, []gateway.Intent, error) {
	cfg, err := s.enabledConfig(ctx)
	if err != nil {
		return staking.Record{}, nil, err
	}
	rec, err := s.stakes.GetStaking(ctx, staker)
	if err != nil {
		return staking.Record{}, nil, ErrNotStaked
	}
	now := uint64(s.now().Unix())
	s.settleAccrual(&rec, now, cfg)
	if rec.Unclaimed == 0 {
		return staking.Record{}, nil, ErrNoReward
	}
	if err := s.checkPool(ctx, cfg, rec.Unclaimed); err != nil {
		return staking.Record{}, nil, err
	}

	amount := rec.Unclaimed
	rec.Claimed += amount
	rec.Unclaimed = 0
	rec.ClaimedAt = now
	updated, err := s.stakes.UpdateStaking(ctx, rec)
	if err != nil {
		return staking.Record{}, nil, fmt.Errorf("update staking record: %w", err)
	}

	intents := []gateway.Intent{gateway.FundsIntent(staker, cfg.RewardDenom, amount)}
	s.queueIntents(ctx, "staking.claim", intents)
	s.log.WithField("staker", staker).Infof("claimed %d reward", amount)
	return updated, intents, nil
}

// CreateUnstake starts the unstake lock. Accrual is settled one last
// time and then frozen; a repeated request simply restarts the lock.
func (s *Service) CreateUnstake(ctx context.Context, staker string) (staking.Record, error) {
	cfg, err := s.enabledConfig(ctx)
	if err != nil {
		return staking.Record{}, err
	}
	rec, err := s.stakes.GetStaking(ctx, staker)
	if err != nil {
		return staking.Record{}, ErrNotStaked
	}
	now := uint64(s.now().Unix())
	s.settleAccrual(&rec, now, cfg)
	rec.UnstakeRequestedAt = now
	updated, err := s.stakes.UpdateStaking(ctx, rec)
	if err != nil {
		return staking.Record{}, fmt.Errorf("update staking record: %w", err)
	}
	s.log.WithField("staker", staker).Info("unstake requested")
	return updated, nil
}

// FetchUnstake completes an unstake once the lock period has passed. Any
// remaining reward is paid out, every staked item is returned, and the
// record is removed. The boundary instant itself is allowed.
func (s *Service) FetchUnstake(ctx context.Context, staker string) ([]gateway.Intent, error) {
	cfg, err := s.enabledConfig(ctx)
	if err != nil {
		return nil, err
	}
	rec, err := s.stakes.GetStaking(ctx, staker)
	if err != nil {
		return nil, ErrNotStaked
	}
	if rec.UnstakeRequestedAt == 0 {
		return nil, ErrUnstakeNotRequested
	}
	now := uint64(s.now().Unix())
	if now < rec.UnstakeRequestedAt+cfg.LockTime {
		return nil, ErrStillInLock
	}

	var intents []gateway.Intent
	if rec.Unclaimed > 0 {
		if err := s.checkPool(ctx, cfg, rec.Unclaimed); err != nil {
			return nil, err
		}
		intents = append(intents, gateway.FundsIntent(staker, cfg.RewardDenom, rec.Unclaimed))
	}
	for _, itemID := range rec.ItemIDs {
		intents = append(intents, gateway.ItemIntent(staker, itemID))
	}

	if err := s.stakes.DeleteStaking(ctx, staker); err != nil {
		return nil, fmt.Errorf("remove staking record: %w", err)
	}
	s.queueIntents(ctx, "staking.unstake", intents)
	s.log.WithField("staker", staker).WithField("items", len(rec.ItemIDs)).Info("unstake completed")
	return intents, nil
}

// GetStaking returns the staker's record with accrual projected up to
// now. The projection is not persisted.
func (s *Service) GetStaking(ctx context.Context, staker string) (staking.Record, error) {
	cfg, err := s.configs.GetStakingConfig(ctx)
	if err != nil {
		return staking.Record{}, fmt.Errorf("load staking config: %w", err)
	}
	rec, err := s.stakes.GetStaking(ctx, staker)
	if err != nil {
		return staking.Record{}, ErrNotStaked
	}
	now := uint64(s.now().Unix())
	s.settleAccrual(&rec, now, cfg)
	return rec, nil
}

// Config returns the current staking configuration.
func (s *Service) Config(ctx context.Context) (staking.Config, error) {
	cfg, err := s.configs.GetStakingConfig(ctx)
	if err != nil {
		return staking.Config{}, fmt.Errorf("load staking config: %w", err)
	}
	return cfg, nil
}

// UpdateRewards replaces the reward parameters. Owner only.
func (s *Service) UpdateRewards(ctx context.Context, caller string, rewardPerInterval, interval, lockTime uint64) (staking.Config, error) {
	cfg, err := s.configs.GetStakingConfig(ctx)
	if err != nil {
		return staking.Config{}, fmt.Errorf("load staking config: %w", err)
	}
	if caller != cfg.Owner {
		return staking.Config{}, ErrUnauthorized
	}
	cfg.RewardPerInterval = rewardPerInterval
	cfg.Interval = interval
	cfg.LockTime = lockTime
	if err := s.configs.SaveStakingConfig(ctx, cfg); err != nil {
		return staking.Config{}, fmt.Errorf("save staking config: %w", err)
	}
	s.log.Infof("staking rewards updated: %d per interval of %ds", rewardPerInterval, interval)
	return cfg, nil
}

// SetEnabled toggles the staking pool. Owner only.
func (s *Service) SetEnabled(ctx context.Context, caller string, enabled bool) (staking.Config, error) {
	cfg, err := s.configs.GetStakingConfig(ctx)
	if err != nil {
		return staking.Config{}, fmt.Errorf("load staking config: %w", err)
	}
	if caller != cfg.Owner {
		return staking.Config{}, ErrUnauthorized
	}
	cfg.Enabled = enabled
	if err := s.configs.SaveStakingConfig(ctx, cfg); err != nil {
		return staking.Config{}, fmt.Errorf("save staking config: %w", err)
	}
	s.log.Infof("staking enabled set to %t", enabled)
	return cfg, nil
}

// settleAccrual folds the pending accrual into the record and advances
// the accrual point. Frozen records (unstake requested) are untouched.
func (s *Service) settleAccrual(rec *staking.Record, now uint64, cfg staking.Config) {
	if rec.UnstakeRequestedAt != 0 || cfg.Interval == 0 || now < rec.LastAccrual {
		return
	}
	rec.Unclaimed += rec.Accrued(now, cfg.Interval, cfg.RewardPerInterval)
	rec.LastAccrual = now
}

// checkPool verifies the reward pool can cover a payout.
func (s *Service) checkPool(ctx context.Context, cfg staking.Config, amount uint64) error {
	if s.pool == nil {
		return nil
	}
	balance, err := s.pool.Balance(ctx, cfg.PoolAccount, cfg.RewardDenom)
	if err != nil {
		return fmt.Errorf("query reward pool balance: %w", err)
	}
	if balance < amount {
		return ErrInsufficientFunds
	}
	return nil
}

func (s *Service) enabledConfig(ctx context.Context) (staking.Config, error) {
	cfg, err := s.configs.GetStakingConfig(ctx)
	if err != nil {
		return staking.Config{}, fmt.Errorf("load staking config: %w", err)
	}
	if !cfg.Enabled {
		return staking.Config{}, ErrDisabled
	}
	return cfg, nil
}

func (s *Service) queueIntents(ctx context.Context, source string, intents []gateway.Intent) {
	if s.journal == nil || len(intents) == 0 {
		return
	}
	batch := gateway.Batch{
		ID:      uuid.NewString(),
		Source:  source,
		Intents: intents,
	}
	if _, err := s.journal.QueueIntentBatch(ctx, batch); err != nil {
		s.log.WithError(err).WithField("source", source).Warn("queue intent batch")
	}
}
