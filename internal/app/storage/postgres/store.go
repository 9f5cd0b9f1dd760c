// Package postgres implements the storage interfaces on PostgreSQL.
// Nested document fields (offers, royalty tables, intents) are stored as
// JSONB columns; scalar fields get their own columns so listings can be
// paged by item id in SQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/marbledao/market-layer/internal/app/domain/market"
	"github.com/marbledao/market-layer/internal/app/domain/staking"
	"github.com/marbledao/market-layer/internal/app/gateway"
	"github.com/marbledao/market-layer/internal/app/storage"
)

// Store implements every storage interface on one *sql.DB.
type Store struct {
	db *sql.DB
}

var (
	_ storage.SaleStore    = (*Store)(nil)
	_ storage.StakingStore = (*Store)(nil)
	_ storage.ConfigStore  = (*Store)(nil)
	_ storage.IntentStore  = (*Store)(nil)
)

// New wraps an open database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the tables when they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS sales (
			item_id        BIGINT PRIMARY KEY,
			provider       TEXT NOT NULL,
			sale_type      TEXT NOT NULL,
			duration       JSONB NOT NULL,
			initial_price  BIGINT NOT NULL,
			reserve_price  BIGINT NOT NULL,
			denom          JSONB NOT NULL,
			offers         JSONB NOT NULL,
			can_accept     BOOLEAN NOT NULL DEFAULT FALSE,
			created_at     TIMESTAMPTZ NOT NULL,
			updated_at     TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS staking_records (
			staker               TEXT PRIMARY KEY,
			item_ids             JSONB NOT NULL,
			claimed              BIGINT NOT NULL,
			unclaimed            BIGINT NOT NULL,
			claimed_at           BIGINT NOT NULL,
			last_accrual         BIGINT NOT NULL,
			unstake_requested_at BIGINT NOT NULL,
			created_at           TIMESTAMPTZ NOT NULL,
			updated_at           TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS configs (
			name       TEXT PRIMARY KEY,
			payload    JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS intent_batches (
			id         TEXT PRIMARY KEY,
			source     TEXT NOT NULL,
			intents    JSONB NOT NULL,
			delivered  BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

const (
	marketConfigName  = "market"
	stakingConfigName = "staking"
)

func (s *Store) CreateSale(ctx context.Context, rec market.SaleRecord) (market.SaleRecord, error) {
	duration, denom, offers, err := encodeSaleDocs(rec)
	if err != nil {
		return market.SaleRecord{}, err
	}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sales (item_id, provider, sale_type, duration, initial_price, reserve_price, denom, offers, can_accept, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		int64(rec.ItemID), rec.Provider, string(rec.SaleType), duration,
		int64(rec.InitialPrice), int64(rec.ReservePrice), denom, offers,
		rec.CanAccept, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return market.SaleRecord{}, fmt.Errorf("insert sale: %w", err)
	}
	return rec, nil
}

func (s *Store) UpdateSale(ctx context.Context, rec market.SaleRecord) (market.SaleRecord, error) {
	duration, denom, offers, err := encodeSaleDocs(rec)
	if err != nil {
		return market.SaleRecord{}, err
	}
	rec.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE sales SET provider = $2, sale_type = $3, duration = $4, initial_price = $5,
		        reserve_price = $6, denom = $7, offers = $8, can_accept = $9, updated_at = $10
		 WHERE item_id = $1`,
		int64(rec.ItemID), rec.Provider, string(rec.SaleType), duration,
		int64(rec.InitialPrice), int64(rec.ReservePrice), denom, offers,
		rec.CanAccept, rec.UpdatedAt)
	if err != nil {
		return market.SaleRecord{}, fmt.Errorf("update sale: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return market.SaleRecord{}, sql.ErrNoRows
	}
	return rec, nil
}

func (s *Store) GetSale(ctx context.Context, itemID uint64) (market.SaleRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT item_id, provider, sale_type, duration, initial_price, reserve_price, denom, offers, can_accept, created_at, updated_at
		 FROM sales WHERE item_id = $1`, int64(itemID))
	return scanSale(row)
}

func (s *Store) DeleteSale(ctx context.Context, itemID uint64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sales WHERE item_id = $1`, int64(itemID))
	if err != nil {
		return fmt.Errorf("delete sale: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Store) ListSales(ctx context.Context, startAfter uint64, limit int) ([]market.SaleRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT item_id, provider, sale_type, duration, initial_price, reserve_price, denom, offers, can_accept, created_at, updated_at
		 FROM sales WHERE item_id > $1 ORDER BY item_id ASC LIMIT $2`,
		int64(startAfter), limit)
	if err != nil {
		return nil, fmt.Errorf("list sales: %w", err)
	}
	defer rows.Close()

	out := make([]market.SaleRecord, 0)
	for rows.Next() {
		rec, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSale(row rowScanner) (market.SaleRecord, error) {
	var (
		rec                      market.SaleRecord
		itemID, initial, reserve int64
		saleType                 string
		duration, denom, offers  []byte
	)
	err := row.Scan(&itemID, &rec.Provider, &saleType, &duration, &initial, &reserve, &denom, &offers, &rec.CanAccept, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return market.SaleRecord{}, err
	}
	rec.ItemID = uint64(itemID)
	rec.SaleType = market.SaleType(saleType)
	rec.InitialPrice = uint64(initial)
	rec.ReservePrice = uint64(reserve)
	if err := json.Unmarshal(duration, &rec.Duration); err != nil {
		return market.SaleRecord{}, fmt.Errorf("decode duration: %w", err)
	}
	if err := json.Unmarshal(denom, &rec.Denom); err != nil {
		return market.SaleRecord{}, fmt.Errorf("decode denom: %w", err)
	}
	if err := json.Unmarshal(offers, &rec.Offers); err != nil {
		return market.SaleRecord{}, fmt.Errorf("decode offers: %w", err)
	}
	return rec, nil
}

func encodeSaleDocs(rec market.SaleRecord) (duration, denom, offers []byte, err error) {
	if duration, err = json.Marshal(rec.Duration); err != nil {
		return nil, nil, nil, fmt.Errorf("encode duration: %w", err)
	}
	if denom, err = json.Marshal(rec.Denom); err != nil {
		return nil, nil, nil, fmt.Errorf("encode denom: %w", err)
	}
	if rec.Offers == nil {
		rec.Offers = []market.Offer{}
	}
	if offers, err = json.Marshal(rec.Offers); err != nil {
		return nil, nil, nil, fmt.Errorf("encode offers: %w", err)
	}
	return duration, denom, offers, nil
}

func (s *Store) CreateStaking(ctx context.Context, rec staking.Record) (staking.Record, error) {
	items, err := encodeItemIDs(rec.ItemIDs)
	if err != nil {
		return staking.Record{}, err
	}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO staking_records (staker, item_ids, claimed, unclaimed, claimed_at, last_accrual, unstake_requested_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.Staker, items, int64(rec.Claimed), int64(rec.Unclaimed),
		int64(rec.ClaimedAt), int64(rec.LastAccrual), int64(rec.UnstakeRequestedAt),
		rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return staking.Record{}, fmt.Errorf("insert staking record: %w", err)
	}
	return rec, nil
}

func (s *Store) UpdateStaking(ctx context.Context, rec staking.Record) (staking.Record, error) {
	items, err := encodeItemIDs(rec.ItemIDs)
	if err != nil {
		return staking.Record{}, err
	}
	rec.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE staking_records SET item_ids = $2, claimed = $3, unclaimed = $4, claimed_at = $5,
		        last_accrual = $6, unstake_requested_at = $7, updated_at = $8
		 WHERE staker = $1`,
		rec.Staker, items, int64(rec.Claimed), int64(rec.Unclaimed),
		int64(rec.ClaimedAt), int64(rec.LastAccrual), int64(rec.UnstakeRequestedAt),
		rec.UpdatedAt)
	if err != nil {
		return staking.Record{}, fmt.Errorf("update staking record: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return staking.Record{}, sql.ErrNoRows
	}
	return rec, nil
}

func (s *Store) GetStaking(ctx context.Context, staker string) (staking.Record, error) {
	var (
		rec                                          staking.Record
		items                                        []byte
		claimed, unclaimed, claimedAt, last, unstake int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT staker, item_ids, claimed, unclaimed, claimed_at, last_accrual, unstake_requested_at, created_at, updated_at
		 FROM staking_records WHERE staker = $1`, staker).
		Scan(&rec.Staker, &items, &claimed, &unclaimed, &claimedAt, &last, &unstake, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return staking.Record{}, err
	}
	if err := json.Unmarshal(items, &rec.ItemIDs); err != nil {
		return staking.Record{}, fmt.Errorf("decode item ids: %w", err)
	}
	rec.Claimed = uint64(claimed)
	rec.Unclaimed = uint64(unclaimed)
	rec.ClaimedAt = uint64(claimedAt)
	rec.LastAccrual = uint64(last)
	rec.UnstakeRequestedAt = uint64(unstake)
	return rec, nil
}

func (s *Store) DeleteStaking(ctx context.Context, staker string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM staking_records WHERE staker = $1`, staker)
	if err != nil {
		return fmt.Errorf("delete staking record: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func encodeItemIDs(ids []uint64) ([]byte, error) {
	if ids == nil {
		ids = []uint64{}
	}
	out, err := json.Marshal(ids)
	if err != nil {
		return nil, fmt.Errorf("encode item ids: %w", err)
	}
	return out, nil
}

func (s *Store) GetMarketConfig(ctx context.Context) (market.Config, error) {
	var cfg market.Config
	if err := s.getConfig(ctx, marketConfigName, &cfg); err != nil {
		return market.Config{}, err
	}
	return cfg, nil
}

func (s *Store) SaveMarketConfig(ctx context.Context, cfg market.Config) error {
	return s.saveConfig(ctx, marketConfigName, cfg)
}

func (s *Store) GetStakingConfig(ctx context.Context) (staking.Config, error) {
	var cfg staking.Config
	if err := s.getConfig(ctx, stakingConfigName, &cfg); err != nil {
		return staking.Config{}, err
	}
	return cfg, nil
}

func (s *Store) SaveStakingConfig(ctx context.Context, cfg staking.Config) error {
	return s.saveConfig(ctx, stakingConfigName, cfg)
}

func (s *Store) getConfig(ctx context.Context, name string, dst interface{}) error {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM configs WHERE name = $1`, name).Scan(&payload)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		return fmt.Errorf("decode %s config: %w", name, err)
	}
	return nil
}

func (s *Store) saveConfig(ctx context.Context, name string, cfg interface{}) error {
	payload, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode %s config: %w", name, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO configs (name, payload, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (name) DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`,
		name, payload, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save %s config: %w", name, err)
	}
	return nil
}

func (s *Store) QueueIntentBatch(ctx context.Context, batch gateway.Batch) (gateway.Batch, error) {
	if batch.ID == "" {
		return gateway.Batch{}, fmt.Errorf("intent batch requires an id")
	}
	intents, err := json.Marshal(batch.Intents)
	if err != nil {
		return gateway.Batch{}, fmt.Errorf("encode intents: %w", err)
	}
	now := time.Now().UTC()
	batch.CreatedAt = now
	batch.UpdatedAt = now
	batch.Delivered = false
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO intent_batches (id, source, intents, delivered, created_at, updated_at)
		 VALUES ($1, $2, $3, FALSE, $4, $5)`,
		batch.ID, batch.Source, intents, batch.CreatedAt, batch.UpdatedAt)
	if err != nil {
		return gateway.Batch{}, fmt.Errorf("insert intent batch: %w", err)
	}
	return batch, nil
}

func (s *Store) ListPendingIntentBatches(ctx context.Context, limit int) ([]gateway.Batch, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, intents, delivered, created_at, updated_at
		 FROM intent_batches WHERE NOT delivered ORDER BY created_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending intent batches: %w", err)
	}
	defer rows.Close()

	out := make([]gateway.Batch, 0)
	for rows.Next() {
		var (
			batch   gateway.Batch
			intents []byte
		)
		if err := rows.Scan(&batch.ID, &batch.Source, &intents, &batch.Delivered, &batch.CreatedAt, &batch.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan intent batch: %w", err)
		}
		if err := json.Unmarshal(intents, &batch.Intents); err != nil {
			return nil, fmt.Errorf("decode intents: %w", err)
		}
		out = append(out, batch)
	}
	return out, rows.Err()
}

func (s *Store) MarkIntentBatchDelivered(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE intent_batches SET delivered = TRUE, updated_at = $2 WHERE id = $1`,
		id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark intent batch delivered: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
