// Package market holds the sale ledger data model.
package market

import (
	"time"

	"github.com/marbledao/market-layer/internal/app/domain/asset"
	"github.com/marbledao/market-layer/internal/app/royalty"
)

// SaleType selects the settlement semantics of a listing.
type SaleType string

const (
	// SaleFixed settles immediately on the first offer meeting the price.
	SaleFixed SaleType = "fixed"
	// SaleAuction collects strictly increasing offers until the provider
	// accepts.
	SaleAuction SaleType = "auction"
)

// DurationKind tags the admission window variant of a listing. The set is
// closed: code switching on it handles every variant explicitly.
type DurationKind string

const (
	// DurationFixed admits offers at any time.
	DurationFixed DurationKind = "fixed"
	// DurationTimeWindow admits offers between Start and End inclusive.
	DurationTimeWindow DurationKind = "time_window"
	// DurationBidCap admits offers until the listing already holds more
	// than Cap of them.
	DurationBidCap DurationKind = "bid_cap"
)

// DurationPolicy is a tagged variant: Kind selects which of the other
// fields are meaningful. Start and End are unix seconds.
type DurationPolicy struct {
	Kind  DurationKind `json:"kind"`
	Start uint64       `json:"start,omitempty"`
	End   uint64       `json:"end,omitempty"`
	Cap   uint32       `json:"cap,omitempty"`
}

// Offer is one recorded bid. Offers are stored in arrival order, which
// for auctions is also ascending price order.
type Offer struct {
	Bidder string `json:"bidder"`
	Amount uint64 `json:"amount"`
}

// SaleRecord is the ledger entry for one item on sale.
type SaleRecord struct {
	ItemID       uint64         `json:"item_id"`
	Provider     string         `json:"provider"`
	SaleType     SaleType       `json:"sale_type"`
	Duration     DurationPolicy `json:"duration"`
	InitialPrice uint64         `json:"initial_price"`
	ReservePrice uint64         `json:"reserve_price"`
	Denom        asset.Denom    `json:"denom"`
	Offers       []Offer        `json:"offers"`
	CanAccept    bool           `json:"can_accept"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// BestOffer returns the highest offer, which is always the most recent
// one, and false when the record has none.
func (r SaleRecord) BestOffer() (Offer, bool) {
	if len(r.Offers) == 0 {
		return Offer{}, false
	}
	return r.Offers[len(r.Offers)-1], true
}

// Config is the marketplace-wide configuration singleton.
type Config struct {
	Owner             string          `json:"owner"`
	Royalties         []royalty.Entry `json:"royalties"`
	RoyaltyCeilingPPM uint64          `json:"royalty_ceiling_ppm"`
	Enabled           bool            `json:"enabled"`
}

// Validate checks the royalty table against the owner and ceiling.
func (c Config) Validate() error {
	return royalty.ValidateTable(c.Royalties, c.Owner, c.RoyaltyCeilingPPM)
}
