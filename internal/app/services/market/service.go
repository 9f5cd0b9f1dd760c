// Package market implements the sale ledger: listing, bidding,
// acceptance, cancellation and settlement of item sales.
package market

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/marbledao/market-layer/internal/app/domain/asset"
	"github.com/marbledao/market-layer/internal/app/domain/market"
	"github.com/marbledao/market-layer/internal/app/gateway"
	"github.com/marbledao/market-layer/internal/app/royalty"
	"github.com/marbledao/market-layer/internal/app/storage"
	"github.com/marbledao/market-layer/pkg/logger"
)

var (
	ErrDisabled          = errors.New("marketplace is disabled")
	ErrAlreadyOnSale     = errors.New("item is already on sale")
	ErrNotOnSale         = errors.New("item is not on sale")
	ErrInvalidSaleType   = errors.New("invalid sale type")
	ErrDurationIncorrect = errors.New("sale duration is incorrect")
	ErrAlreadyExpired    = errors.New("sale already expired")
	ErrNotStarted        = errors.New("sale has not started")
	ErrLowerPrice        = errors.New("price is lower than the sale price")
	ErrLowerThanPrevious = errors.New("price does not exceed the previous offer")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrNoBids            = errors.New("sale has no bids")
	ErrCannotCancelSale  = errors.New("sale can no longer be cancelled")
	ErrDenomMismatch     = errors.New("offer denom does not match the sale denom")
	ErrZeroAmount        = errors.New("offer amount must not be zero")
)

const (
	defaultPageSize = 20
	maxPageSize     = 30
)

// Service mediates every mutation of the sale ledger. Each operation
// validates fully before touching the store and finishes in exactly one
// store mutation, so a failed call leaves no observable change.
type Service struct {
	sales   storage.SaleStore
	configs storage.ConfigStore
	journal storage.IntentStore
	log     *logger.Logger
	now     func() time.Time
}

// New creates the market service. journal may be nil when no dispatcher
// runs; emitted intents are then only returned to the caller.
func New(sales storage.SaleStore, configs storage.ConfigStore, journal storage.IntentStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("market")
	}
	return &Service{
		sales:   sales,
		configs: configs,
		journal: journal,
		log:     log,
		now:     time.Now,
	}
}

// ListSale places an item on sale.
func (s *Service) ListSale(ctx context.Context, provider string, itemID uint64, saleType market.SaleType, duration market.DurationPolicy, initialPrice, reservePrice uint64, denom asset.Denom) (market.SaleRecord, error) {
	if _, err := s.enabledConfig(ctx); err != nil {
		return market.SaleRecord{}, err
	}
	if provider == "" {
		return market.SaleRecord{}, fmt.Errorf("%w: provider must not be empty", ErrUnauthorized)
	}
	if err := denom.Validate(); err != nil {
		return market.SaleRecord{}, fmt.Errorf("invalid sale denom: %w", err)
	}
	if err := validateListing(saleType, duration); err != nil {
		return market.SaleRecord{}, err
	}
	if _, err := s.sales.GetSale(ctx, itemID); err == nil {
		return market.SaleRecord{}, ErrAlreadyOnSale
	}

	rec := market.SaleRecord{
		ItemID:       itemID,
		Provider:     provider,
		SaleType:     saleType,
		Duration:     duration,
		InitialPrice: initialPrice,
		ReservePrice: reservePrice,
		Denom:        denom,
		Offers:       []market.Offer{},
	}
	created, err := s.sales.CreateSale(ctx, rec)
	if err != nil {
		return market.SaleRecord{}, fmt.Errorf("create sale: %w", err)
	}
	s.log.WithField("item", itemID).WithField("provider", provider).Infof("item listed for %s sale", saleType)
	return created, nil
}

// Propose places an offer on a sale. Fixed sales settle immediately and
// the returned intents carry the settlement; auction offers are recorded
// and return no intents.
func (s *Service) Propose(ctx context.Context, bidder string, itemID, amount uint64, denom asset.Denom) (market.SaleRecord, []gateway.Intent, error) {
	cfg, err := s.enabledConfig(ctx)
	if err != nil {
		return market.SaleRecord{}, nil, err
	}
	if bidder == "" {
		return market.SaleRecord{}, nil, fmt.Errorf("%w: bidder must not be empty", ErrUnauthorized)
	}
	if amount == 0 {
		return market.SaleRecord{}, nil, ErrZeroAmount
	}
	rec, err := s.sales.GetSale(ctx, itemID)
	if err != nil {
		return market.SaleRecord{}, nil, ErrNotOnSale
	}
	if !denom.Equal(rec.Denom) {
		return market.SaleRecord{}, nil, ErrDenomMismatch
	}
	if err := s.checkDuration(rec); err != nil {
		return market.SaleRecord{}, nil, err
	}

	switch rec.SaleType {
	case market.SaleFixed:
		if amount < rec.InitialPrice {
			return market.SaleRecord{}, nil, ErrLowerPrice
		}
		rec.Offers = append(rec.Offers, market.Offer{Bidder: bidder, Amount: amount})
		intents := settlementIntents(rec, cfg.Royalties)
		if err := s.sales.DeleteSale(ctx, itemID); err != nil {
			return market.SaleRecord{}, nil, fmt.Errorf("settle fixed sale: %w", err)
		}
		s.queueIntents(ctx, "market.settle", intents)
		s.log.WithField("item", itemID).WithField("winner", bidder).Info("fixed sale settled")
		return rec, intents, nil

	case market.SaleAuction:
		if best, ok := rec.BestOffer(); ok {
			if best.Amount >= amount {
				return market.SaleRecord{}, nil, ErrLowerThanPrevious
			}
		} else if amount < rec.InitialPrice {
			return market.SaleRecord{}, nil, ErrLowerThanPrevious
		}
		rec.Offers = append(rec.Offers, market.Offer{Bidder: bidder, Amount: amount})
		if amount >= rec.ReservePrice {
			rec.CanAccept = true
		}
		updated, err := s.sales.UpdateSale(ctx, rec)
		if err != nil {
			return market.SaleRecord{}, nil, fmt.Errorf("record offer: %w", err)
		}
		s.log.WithField("item", itemID).WithField("bidder", bidder).Debugf("offer recorded at %d", amount)
		return updated, nil, nil

	default:
		return market.SaleRecord{}, nil, fmt.Errorf("%w: %q", ErrInvalidSaleType, rec.SaleType)
	}
}

// AcceptSale settles an auction against its highest offer. Only the
// provider may accept; every losing offer is refunded.
func (s *Service) AcceptSale(ctx context.Context, caller string, itemID uint64) ([]gateway.Intent, error) {
	cfg, err := s.enabledConfig(ctx)
	if err != nil {
		return nil, err
	}
	rec, err := s.sales.GetSale(ctx, itemID)
	if err != nil {
		return nil, ErrNotOnSale
	}
	if rec.Provider != caller {
		return nil, ErrUnauthorized
	}
	if len(rec.Offers) == 0 {
		return nil, ErrNoBids
	}

	intents := settlementIntents(rec, cfg.Royalties)
	if err := s.sales.DeleteSale(ctx, itemID); err != nil {
		return nil, fmt.Errorf("settle sale: %w", err)
	}
	s.queueIntents(ctx, "market.settle", intents)
	winner, _ := rec.BestOffer()
	s.log.WithField("item", itemID).WithField("winner", winner.Bidder).Info("sale accepted")
	return intents, nil
}

// CancelSale withdraws a listing. Once an offer has met the reserve the
// sale is committed and can no longer be cancelled.
func (s *Service) CancelSale(ctx context.Context, caller string, itemID uint64) ([]gateway.Intent, error) {
	if _, err := s.enabledConfig(ctx); err != nil {
		return nil, err
	}
	rec, err := s.sales.GetSale(ctx, itemID)
	if err != nil {
		return nil, ErrNotOnSale
	}
	if rec.Provider != caller {
		return nil, ErrUnauthorized
	}
	if rec.CanAccept {
		return nil, ErrCannotCancelSale
	}

	intents := []gateway.Intent{gateway.ItemIntent(rec.Provider, rec.ItemID)}
	for _, offer := range rec.Offers {
		intents = append(intents, gateway.FundsIntent(offer.Bidder, rec.Denom, offer.Amount))
	}
	if err := s.sales.DeleteSale(ctx, itemID); err != nil {
		return nil, fmt.Errorf("cancel sale: %w", err)
	}
	s.queueIntents(ctx, "market.cancel", intents)
	s.log.WithField("item", itemID).Info("sale cancelled")
	return intents, nil
}

// CancelProposal withdraws the caller's offers from a sale and refunds
// them. Other offers keep their order. Calling with no recorded offer is
// a no-op.
func (s *Service) CancelProposal(ctx context.Context, caller string, itemID uint64) (market.SaleRecord, []gateway.Intent, error) {
	if _, err := s.enabledConfig(ctx); err != nil {
		return market.SaleRecord{}, nil, err
	}
	rec, err := s.sales.GetSale(ctx, itemID)
	if err != nil {
		return market.SaleRecord{}, nil, ErrNotOnSale
	}

	kept := rec.Offers[:0:0]
	var intents []gateway.Intent
	for _, offer := range rec.Offers {
		if offer.Bidder == caller {
			intents = append(intents, gateway.FundsIntent(offer.Bidder, rec.Denom, offer.Amount))
			continue
		}
		kept = append(kept, offer)
	}
	if len(intents) == 0 {
		return rec, nil, nil
	}

	rec.Offers = kept
	updated, err := s.sales.UpdateSale(ctx, rec)
	if err != nil {
		return market.SaleRecord{}, nil, fmt.Errorf("withdraw offer: %w", err)
	}
	s.queueIntents(ctx, "market.refund", intents)
	s.log.WithField("item", itemID).WithField("bidder", caller).Info("offer withdrawn")
	return updated, intents, nil
}

// EditSale replaces the terms of a listing. Only the provider may edit,
// and only while no offers exist.
func (s *Service) EditSale(ctx context.Context, caller string, itemID uint64, saleType market.SaleType, duration market.DurationPolicy, initialPrice, reservePrice uint64, denom asset.Denom) (market.SaleRecord, error) {
	if _, err := s.enabledConfig(ctx); err != nil {
		return market.SaleRecord{}, err
	}
	rec, err := s.sales.GetSale(ctx, itemID)
	if err != nil {
		return market.SaleRecord{}, ErrNotOnSale
	}
	if rec.Provider != caller {
		return market.SaleRecord{}, ErrUnauthorized
	}
	if len(rec.Offers) > 0 {
		return market.SaleRecord{}, ErrAlreadyOnSale
	}
	if err := denom.Validate(); err != nil {
		return market.SaleRecord{}, fmt.Errorf("invalid sale denom: %w", err)
	}
	if err := validateListing(saleType, duration); err != nil {
		return market.SaleRecord{}, err
	}

	rec.SaleType = saleType
	rec.Duration = duration
	rec.InitialPrice = initialPrice
	rec.ReservePrice = reservePrice
	rec.Denom = denom
	updated, err := s.sales.UpdateSale(ctx, rec)
	if err != nil {
		return market.SaleRecord{}, fmt.Errorf("edit sale: %w", err)
	}
	s.log.WithField("item", itemID).Info("sale edited")
	return updated, nil
}

// GetSale returns one sale record.
func (s *Service) GetSale(ctx context.Context, itemID uint64) (market.SaleRecord, error) {
	rec, err := s.sales.GetSale(ctx, itemID)
	if err != nil {
		return market.SaleRecord{}, ErrNotOnSale
	}
	return rec, nil
}

// ListSales pages through sale records in ascending item id order.
// cursor is an exclusive lower bound, zero meaning the beginning.
func (s *Service) ListSales(ctx context.Context, cursor uint64, limit int) ([]market.SaleRecord, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	recs, err := s.sales.ListSales(ctx, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("list sales: %w", err)
	}
	return recs, nil
}

// Config returns the current marketplace configuration.
func (s *Service) Config(ctx context.Context) (market.Config, error) {
	cfg, err := s.configs.GetMarketConfig(ctx)
	if err != nil {
		return market.Config{}, fmt.Errorf("load market config: %w", err)
	}
	return cfg, nil
}

// UpdateRoyalties replaces the royalty table and its ceiling. Owner only.
func (s *Service) UpdateRoyalties(ctx context.Context, caller string, ceilingPPM uint64, entries []royalty.Entry) (market.Config, error) {
	cfg, err := s.configs.GetMarketConfig(ctx)
	if err != nil {
		return market.Config{}, fmt.Errorf("load market config: %w", err)
	}
	if caller != cfg.Owner {
		return market.Config{}, ErrUnauthorized
	}
	if err := royalty.ValidateTable(entries, cfg.Owner, ceilingPPM); err != nil {
		return market.Config{}, err
	}
	cfg.RoyaltyCeilingPPM = ceilingPPM
	cfg.Royalties = entries
	if err := s.configs.SaveMarketConfig(ctx, cfg); err != nil {
		return market.Config{}, fmt.Errorf("save market config: %w", err)
	}
	s.log.WithField("entries", len(entries)).Info("royalty table updated")
	return cfg, nil
}

// SetEnabled toggles the marketplace. Owner only.
func (s *Service) SetEnabled(ctx context.Context, caller string, enabled bool) (market.Config, error) {
	cfg, err := s.configs.GetMarketConfig(ctx)
	if err != nil {
		return market.Config{}, fmt.Errorf("load market config: %w", err)
	}
	if caller != cfg.Owner {
		return market.Config{}, ErrUnauthorized
	}
	cfg.Enabled = enabled
	if err := s.configs.SaveMarketConfig(ctx, cfg); err != nil {
		return market.Config{}, fmt.Errorf("save market config: %w", err)
	}
	s.log.Infof("marketplace enabled set to %t", enabled)
	return cfg, nil
}

// enabledConfig loads the config and rejects the operation when the
// marketplace is disabled.
func (s *Service) enabledConfig(ctx context.Context) (market.Config, error) {
	cfg, err := s.configs.GetMarketConfig(ctx)
	if err != nil {
		return market.Config{}, fmt.Errorf("load market config: %w", err)
	}
	if !cfg.Enabled {
		return market.Config{}, ErrDisabled
	}
	return cfg, nil
}

// checkDuration gates an incoming offer by the listing's admission
// window.
func (s *Service) checkDuration(rec market.SaleRecord) error {
	switch rec.Duration.Kind {
	case market.DurationFixed:
		return nil
	case market.DurationTimeWindow:
		now := uint64(s.now().Unix())
		if now > rec.Duration.End {
			return ErrAlreadyExpired
		}
		if now < rec.Duration.Start {
			return ErrNotStarted
		}
		return nil
	case market.DurationBidCap:
		if uint32(len(rec.Offers)) > rec.Duration.Cap {
			return ErrAlreadyExpired
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown duration policy %q", ErrDurationIncorrect, rec.Duration.Kind)
	}
}

// queueIntents journals a batch for the background dispatcher. Failure
// to journal never fails the operation; the intents were already
// returned to the caller.
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

// validateListing checks the sale type and duration policy combination.
func validateListing(saleType market.SaleType, duration market.DurationPolicy) error {
	switch saleType {
	case market.SaleFixed:
		if duration.Kind != market.DurationFixed {
			return ErrInvalidSaleType
		}
	case market.SaleAuction:
	default:
		return ErrInvalidSaleType
	}

	switch duration.Kind {
	case market.DurationFixed:
		return nil
	case market.DurationTimeWindow:
		if duration.Start >= duration.End {
			return ErrDurationIncorrect
		}
		return nil
	case market.DurationBidCap:
		return nil
	default:
		return ErrDurationIncorrect
	}
}
