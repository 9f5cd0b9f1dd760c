package market

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/marbledao/market-layer/internal/app/domain/asset"
	"github.com/marbledao/market-layer/internal/app/domain/market"
	"github.com/marbledao/market-layer/internal/app/gateway"
	"github.com/marbledao/market-layer/internal/app/royalty"
	"github.com/marbledao/market-layer/internal/app/storage/memory"
)

var umarble = asset.Denom{Kind: asset.Native, Value: "umarble"}

func newService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	cfg := market.Config{
		Owner:             "collection-owner",
		Royalties:         []royalty.Entry{{Address: "collection-owner", RatePPM: 25_000}},
		RoyaltyCeilingPPM: 500_000,
		Enabled:           true,
	}
	if err := store.SaveMarketConfig(context.Background(), cfg); err != nil {
		t.Fatalf("seed market config: %v", err)
	}
	svc := New(store, store, store, nil)
	return svc, store
}

func fixedDuration() market.DurationPolicy {
	return market.DurationPolicy{Kind: market.DurationFixed}
}

func TestListSaleValidation(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	_, err := svc.ListSale(ctx, "seller", 1, market.SaleFixed, market.DurationPolicy{Kind: market.DurationBidCap, Cap: 3}, 100, 0, umarble)
	if !errors.Is(err, ErrInvalidSaleType) {
		t.Fatalf("expected ErrInvalidSaleType, got %v", err)
	}

	_, err = svc.ListSale(ctx, "seller", 1, market.SaleAuction, market.DurationPolicy{Kind: market.DurationTimeWindow, Start: 50, End: 50}, 100, 0, umarble)
	if !errors.Is(err, ErrDurationIncorrect) {
		t.Fatalf("expected ErrDurationIncorrect, got %v", err)
	}

	_, err = svc.ListSale(ctx, "seller", 1, market.SaleType("raffle"), fixedDuration(), 100, 0, umarble)
	if !errors.Is(err, ErrInvalidSaleType) {
		t.Fatalf("expected ErrInvalidSaleType for unknown type, got %v", err)
	}

	if _, err := svc.ListSale(ctx, "seller", 1, market.SaleFixed, fixedDuration(), 100, 0, umarble); err != nil {
		t.Fatalf("ListSale: %v", err)
	}
	_, err = svc.ListSale(ctx, "seller", 1, market.SaleFixed, fixedDuration(), 100, 0, umarble)
	if !errors.Is(err, ErrAlreadyOnSale) {
		t.Fatalf("expected ErrAlreadyOnSale, got %v", err)
	}

	cfg, _ := store.GetMarketConfig(ctx)
	cfg.Enabled = false
	_ = store.SaveMarketConfig(ctx, cfg)
	_, err = svc.ListSale(ctx, "seller", 2, market.SaleFixed, fixedDuration(), 100, 0, umarble)
	if !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
}

func TestFixedSaleSettlesImmediately(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	if _, err := svc.ListSale(ctx, "seller", 7, market.SaleFixed, fixedDuration(), 100, 0, umarble); err != nil {
		t.Fatalf("ListSale: %v", err)
	}

	_, _, err := svc.Propose(ctx, "buyer", 7, 99, umarble)
	if !errors.Is(err, ErrLowerPrice) {
		t.Fatalf("expected ErrLowerPrice, got %v", err)
	}

	_, intents, err := svc.Propose(ctx, "buyer", 7, 100, umarble)
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}

	want := []gateway.Intent{
		gateway.ItemIntent("buyer", 7),
		gateway.FundsIntent("collection-owner", umarble, 2),
		gateway.FundsIntent("seller", umarble, 98),
	}
	assertIntents(t, intents, want)

	if _, err := svc.GetSale(ctx, 7); !errors.Is(err, ErrNotOnSale) {
		t.Fatalf("expected record removal, got %v", err)
	}

	pending, err := store.ListPendingIntentBatches(ctx, 10)
	if err != nil {
		t.Fatalf("ListPendingIntentBatches: %v", err)
	}
	if len(pending) != 1 || len(pending[0].Intents) != 3 {
		t.Fatalf("expected one journaled batch of 3 intents, got %+v", pending)
	}
}

func TestAuctionFlow(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	if _, err := svc.ListSale(ctx, "seller", 9, market.SaleAuction, fixedDuration(), 50, 250, umarble); err != nil {
		t.Fatalf("ListSale: %v", err)
	}

	_, _, err := svc.Propose(ctx, "alice", 9, 49, umarble)
	if !errors.Is(err, ErrLowerThanPrevious) {
		t.Fatalf("expected first bid below initial to fail, got %v", err)
	}

	rec, intents, err := svc.Propose(ctx, "alice", 9, 50, umarble)
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if intents != nil {
		t.Fatalf("auction offer must not settle, got intents %+v", intents)
	}
	if rec.CanAccept {
		t.Fatal("reserve not met, CanAccept must stay false")
	}

	_, _, err = svc.Propose(ctx, "bob", 9, 50, umarble)
	if !errors.Is(err, ErrLowerThanPrevious) {
		t.Fatalf("expected tie to be rejected, got %v", err)
	}

	if _, _, err := svc.Propose(ctx, "bob", 9, 80, umarble); err != nil {
		t.Fatalf("Propose: %v", err)
	}
	rec, _, err = svc.Propose(ctx, "carol", 9, 250, umarble)
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if !rec.CanAccept {
		t.Fatal("reserve met, CanAccept must be true")
	}

	if _, err := svc.AcceptSale(ctx, "mallory", 9); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	intents, err = svc.AcceptSale(ctx, "seller", 9)
	if err != nil {
		t.Fatalf("AcceptSale: %v", err)
	}
	// 250 splits into 6 royalty (2.5% floored) and 244 to the seller,
	// then the losing offers come back in order.
	want := []gateway.Intent{
		gateway.ItemIntent("carol", 9),
		gateway.FundsIntent("collection-owner", umarble, 6),
		gateway.FundsIntent("seller", umarble, 244),
		gateway.FundsIntent("alice", umarble, 50),
		gateway.FundsIntent("bob", umarble, 80),
	}
	assertIntents(t, intents, want)

	if _, err := svc.GetSale(ctx, 9); !errors.Is(err, ErrNotOnSale) {
		t.Fatalf("expected record removal, got %v", err)
	}
}

func TestAcceptSaleWithoutBids(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	if _, err := svc.ListSale(ctx, "seller", 3, market.SaleAuction, fixedDuration(), 50, 0, umarble); err != nil {
		t.Fatalf("ListSale: %v", err)
	}
	if _, err := svc.AcceptSale(ctx, "seller", 3); !errors.Is(err, ErrNoBids) {
		t.Fatalf("expected ErrNoBids, got %v", err)
	}
	if _, err := svc.AcceptSale(ctx, "seller", 4); !errors.Is(err, ErrNotOnSale) {
		t.Fatalf("expected ErrNotOnSale, got %v", err)
	}
}

func TestCancelSale(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	if _, err := svc.ListSale(ctx, "seller", 5, market.SaleAuction, fixedDuration(), 50, 200, umarble); err != nil {
		t.Fatalf("ListSale: %v", err)
	}
	if _, _, err := svc.Propose(ctx, "alice", 5, 60, umarble); err != nil {
		t.Fatalf("Propose: %v", err)
	}

	if _, err := svc.CancelSale(ctx, "mallory", 5); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	intents, err := svc.CancelSale(ctx, "seller", 5)
	if err != nil {
		t.Fatalf("CancelSale: %v", err)
	}
	want := []gateway.Intent{
		gateway.ItemIntent("seller", 5),
		gateway.FundsIntent("alice", umarble, 60),
	}
	assertIntents(t, intents, want)
	if _, err := svc.GetSale(ctx, 5); !errors.Is(err, ErrNotOnSale) {
		t.Fatalf("expected record removal, got %v", err)
	}
}

func TestCancelSaleBlockedOnceCommitted(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	if _, err := svc.ListSale(ctx, "seller", 5, market.SaleAuction, fixedDuration(), 50, 200, umarble); err != nil {
		t.Fatalf("ListSale: %v", err)
	}
	if _, _, err := svc.Propose(ctx, "alice", 5, 200, umarble); err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if _, err := svc.CancelSale(ctx, "seller", 5); !errors.Is(err, ErrCannotCancelSale) {
		t.Fatalf("expected ErrCannotCancelSale, got %v", err)
	}
}

func TestCancelProposal(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	if _, err := svc.ListSale(ctx, "seller", 6, market.SaleAuction, fixedDuration(), 10, 1000, umarble); err != nil {
		t.Fatalf("ListSale: %v", err)
	}
	for _, bid := range []struct {
		bidder string
		amount uint64
	}{{"alice", 10}, {"bob", 20}, {"alice", 30}, {"carol", 40}} {
		if _, _, err := svc.Propose(ctx, bid.bidder, 6, bid.amount, umarble); err != nil {
			t.Fatalf("Propose(%s, %d): %v", bid.bidder, bid.amount, err)
		}
	}

	rec, intents, err := svc.CancelProposal(ctx, "alice", 6)
	if err != nil {
		t.Fatalf("CancelProposal: %v", err)
	}
	want := []gateway.Intent{
		gateway.FundsIntent("alice", umarble, 10),
		gateway.FundsIntent("alice", umarble, 30),
	}
	assertIntents(t, intents, want)
	if len(rec.Offers) != 2 || rec.Offers[0].Bidder != "bob" || rec.Offers[1].Bidder != "carol" {
		t.Fatalf("remaining offers out of order: %+v", rec.Offers)
	}

	// A bidder without offers withdraws nothing.
	rec, intents, err = svc.CancelProposal(ctx, "dave", 6)
	if err != nil {
		t.Fatalf("CancelProposal: %v", err)
	}
	if len(intents) != 0 || len(rec.Offers) != 2 {
		t.Fatalf("expected no-op, got intents %+v offers %+v", intents, rec.Offers)
	}
}

func TestEditSale(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	if _, err := svc.ListSale(ctx, "seller", 8, market.SaleAuction, fixedDuration(), 50, 200, umarble); err != nil {
		t.Fatalf("ListSale: %v", err)
	}

	if _, err := svc.EditSale(ctx, "mallory", 8, market.SaleFixed, fixedDuration(), 75, 0, umarble); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	rec, err := svc.EditSale(ctx, "seller", 8, market.SaleFixed, fixedDuration(), 75, 0, umarble)
	if err != nil {
		t.Fatalf("EditSale: %v", err)
	}
	if rec.SaleType != market.SaleFixed || rec.InitialPrice != 75 {
		t.Fatalf("terms not replaced: %+v", rec)
	}

	if _, _, err := svc.Propose(ctx, "alice", 8, 75, umarble); err != nil {
		t.Fatalf("Propose: %v", err)
	}
	// The fixed sale settled, so the record is gone.
	if _, err := svc.EditSale(ctx, "seller", 8, market.SaleFixed, fixedDuration(), 80, 0, umarble); !errors.Is(err, ErrNotOnSale) {
		t.Fatalf("expected ErrNotOnSale, got %v", err)
	}

	if _, err := svc.ListSale(ctx, "seller", 10, market.SaleAuction, fixedDuration(), 50, 200, umarble); err != nil {
		t.Fatalf("ListSale: %v", err)
	}
	if _, _, err := svc.Propose(ctx, "alice", 10, 60, umarble); err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if _, err := svc.EditSale(ctx, "seller", 10, market.SaleAuction, fixedDuration(), 80, 200, umarble); !errors.Is(err, ErrAlreadyOnSale) {
		t.Fatalf("expected ErrAlreadyOnSale with live offers, got %v", err)
	}
}

func TestTimeWindowGating(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	window := market.DurationPolicy{Kind: market.DurationTimeWindow, Start: 1000, End: 2000}
	if _, err := svc.ListSale(ctx, "seller", 11, market.SaleAuction, window, 50, 0, umarble); err != nil {
		t.Fatalf("ListSale: %v", err)
	}

	svc.now = func() time.Time { return time.Unix(999, 0) }
	if _, _, err := svc.Propose(ctx, "alice", 11, 50, umarble); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}

	svc.now = func() time.Time { return time.Unix(2001, 0) }
	if _, _, err := svc.Propose(ctx, "alice", 11, 50, umarble); !errors.Is(err, ErrAlreadyExpired) {
		t.Fatalf("expected ErrAlreadyExpired, got %v", err)
	}

	// Both window edges admit offers.
	svc.now = func() time.Time { return time.Unix(1000, 0) }
	if _, _, err := svc.Propose(ctx, "alice", 11, 50, umarble); err != nil {
		t.Fatalf("Propose at start edge: %v", err)
	}
	svc.now = func() time.Time { return time.Unix(2000, 0) }
	if _, _, err := svc.Propose(ctx, "bob", 11, 60, umarble); err != nil {
		t.Fatalf("Propose at end edge: %v", err)
	}
}

func TestBidCapGating(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	cap := market.DurationPolicy{Kind: market.DurationBidCap, Cap: 1}
	if _, err := svc.ListSale(ctx, "seller", 12, market.SaleAuction, cap, 10, 0, umarble); err != nil {
		t.Fatalf("ListSale: %v", err)
	}

	if _, _, err := svc.Propose(ctx, "alice", 12, 10, umarble); err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if _, _, err := svc.Propose(ctx, "bob", 12, 20, umarble); err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if _, _, err := svc.Propose(ctx, "carol", 12, 30, umarble); !errors.Is(err, ErrAlreadyExpired) {
		t.Fatalf("expected ErrAlreadyExpired past the cap, got %v", err)
	}
}

func TestProposeValidation(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	if _, _, err := svc.Propose(ctx, "alice", 99, 10, umarble); !errors.Is(err, ErrNotOnSale) {
		t.Fatalf("expected ErrNotOnSale, got %v", err)
	}

	if _, err := svc.ListSale(ctx, "seller", 13, market.SaleAuction, fixedDuration(), 10, 0, umarble); err != nil {
		t.Fatalf("ListSale: %v", err)
	}
	if _, _, err := svc.Propose(ctx, "alice", 13, 0, umarble); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("expected ErrZeroAmount, got %v", err)
	}
	other := asset.Denom{Kind: asset.Token, Value: "0xABCD"}
	if _, _, err := svc.Propose(ctx, "alice", 13, 10, other); !errors.Is(err, ErrDenomMismatch) {
		t.Fatalf("expected ErrDenomMismatch, got %v", err)
	}
}

func TestListSalesPaging(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	for id := uint64(1); id <= 35; id++ {
		if _, err := svc.ListSale(ctx, "seller", id, market.SaleAuction, fixedDuration(), 10, 0, umarble); err != nil {
			t.Fatalf("ListSale(%d): %v", id, err)
		}
	}

	page, err := svc.ListSales(ctx, 0, 0)
	if err != nil {
		t.Fatalf("ListSales: %v", err)
	}
	if len(page) != 20 {
		t.Fatalf("expected default page of 20, got %d", len(page))
	}

	page, err = svc.ListSales(ctx, 0, 100)
	if err != nil {
		t.Fatalf("ListSales: %v", err)
	}
	if len(page) != 30 {
		t.Fatalf("expected page capped at 30, got %d", len(page))
	}

	page, err = svc.ListSales(ctx, 30, 10)
	if err != nil {
		t.Fatalf("ListSales: %v", err)
	}
	if len(page) != 5 || page[0].ItemID != 31 {
		t.Fatalf("expected items 31..35, got %+v", page)
	}
}

func TestAdminOperations(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	entries := []royalty.Entry{
		{Address: "collection-owner", RatePPM: 20_000},
		{Address: "artist", RatePPM: 15_000},
	}

	if _, err := svc.UpdateRoyalties(ctx, "mallory", 100_000, entries); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := svc.UpdateRoyalties(ctx, "collection-owner", 30_000, entries); !errors.Is(err, royalty.ErrRateCeiling) {
		t.Fatalf("expected ceiling violation, got %v", err)
	}
	cfg, err := svc.UpdateRoyalties(ctx, "collection-owner", 100_000, entries)
	if err != nil {
		t.Fatalf("UpdateRoyalties: %v", err)
	}
	if len(cfg.Royalties) != 2 || cfg.RoyaltyCeilingPPM != 100_000 {
		t.Fatalf("unexpected config: %+v", cfg)
	}

	if _, err := svc.SetEnabled(ctx, "mallory", false); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := svc.SetEnabled(ctx, "collection-owner", false); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
	if _, err := svc.ListSale(ctx, "seller", 1, market.SaleFixed, fixedDuration(), 10, 0, umarble); !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
}

func assertIntents(t *testing.T, got, want []gateway.Intent) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %d intents, got %d: %+v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("intent %d: expected %+v, got %+v", i, want[i], got[i])
		}
	}
}
