package market

import (
	"github.com/marbledao/market-layer/internal/app/domain/market"
	"github.com/marbledao/market-layer/internal/app/gateway"
	"github.com/marbledao/market-layer/internal/app/royalty"
)

// settlementIntents builds the transfer batch for a settled sale: the
// item to the winner, the winning amount split between the royalty table
// and the provider, and a full refund for every losing offer. The record
// must hold at least one offer; the last one wins. Fund amounts sum to
// exactly the winning price plus the refunded offers, and zero-amount
// transfers are never emitted.
func settlementIntents(rec market.SaleRecord, royalties []royalty.Entry) []gateway.Intent {
	winner := rec.Offers[len(rec.Offers)-1]

	intents := []gateway.Intent{gateway.ItemIntent(winner.Bidder, rec.ItemID)}
	for _, payment := range royalty.Split(winner.Amount, royalties, rec.Provider) {
		intents = append(intents, gateway.FundsIntent(payment.Address, rec.Denom, payment.Amount))
	}
	for _, offer := range rec.Offers[:len(rec.Offers)-1] {
		if offer.Amount == 0 {
			continue
		}
		intents = append(intents, gateway.FundsIntent(offer.Bidder, rec.Denom, offer.Amount))
	}
	return intents
}
