// Package staking holds the staking ledger data model.
package staking

import (
	"time"

	"github.com/marbledao/market-layer/internal/app/domain/asset"
)

// Record is the staking ledger entry for one staker. All timestamps are
// unix seconds; a zero UnstakeRequestedAt means no unstake is pending.
type Record struct {
	Staker             string    `json:"staker"`
	ItemIDs            []uint64  `json:"item_ids"`
	Claimed            uint64    `json:"claimed"`
	Unclaimed          uint64    `json:"unclaimed"`
	ClaimedAt          uint64    `json:"claimed_at"`
	LastAccrual        uint64    `json:"last_accrual"`
	UnstakeRequestedAt uint64    `json:"unstake_requested_at"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Accrued returns the reward earned since the last accrual point without
// mutating the record. Rewards accrue per whole interval boundary crossed
// and freeze entirely once an unstake request exists.
func (r Record) Accrued(now, interval, rewardPerInterval uint64) uint64 {
	if r.UnstakeRequestedAt != 0 || interval == 0 || now < r.LastAccrual {
		return 0
	}
	elapsed := now/interval - r.LastAccrual/interval
	return elapsed * uint64(len(r.ItemIDs)) * rewardPerInterval
}

// Config is the staking-pool configuration singleton. Interval and
// LockTime are in seconds; RewardPerInterval is paid per staked item per
// elapsed interval.
type Config struct {
	Owner             string      `json:"owner"`
	RewardDenom       asset.Denom `json:"reward_denom"`
	RewardPerInterval uint64      `json:"reward_per_interval"`
	Interval          uint64      `json:"interval"`
	LockTime          uint64      `json:"lock_time"`
	PoolAccount       string      `json:"pool_account"`
	Enabled           bool        `json:"enabled"`
}
