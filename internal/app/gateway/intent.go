// Package gateway carries settlement side effects out of the ledger
// services. Services never move value themselves; they emit transfer
// intents, and a gateway (in-memory for tests, HTTP for a real asset
// custodian) applies each batch all-or-nothing.
package gateway

import (
	"context"
	"time"

	"github.com/marbledao/market-layer/internal/app/domain/asset"
)

// IntentKind tags the transfer variant.
type IntentKind string

const (
	// IntentTransferFunds moves a fungible amount to a recipient.
	IntentTransferFunds IntentKind = "transfer_funds"
	// IntentTransferItem moves a unique item to a recipient.
	IntentTransferItem IntentKind = "transfer_item"
)

// Intent is one requested transfer. Denom and Amount are meaningful for
// fund transfers, ItemID for item transfers.
type Intent struct {
	Kind   IntentKind  `json:"kind"`
	To     string      `json:"to"`
	Denom  asset.Denom `json:"denom,omitempty"`
	Amount uint64      `json:"amount,omitempty"`
	ItemID uint64      `json:"item_id,omitempty"`
}

// FundsIntent builds a fungible transfer intent.
func FundsIntent(to string, denom asset.Denom, amount uint64) Intent {
	return Intent{Kind: IntentTransferFunds, To: to, Denom: denom, Amount: amount}
}

// ItemIntent builds a unique-item transfer intent.
func ItemIntent(to string, itemID uint64) Intent {
	return Intent{Kind: IntentTransferItem, To: to, ItemID: itemID}
}

// Batch groups the intents emitted by one ledger operation. A batch is
// delivered as a unit.
type Batch struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Intents   []Intent  `json:"intents"`
	Delivered bool      `json:"delivered"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Deliverer applies a batch of intents atomically: either every intent
// takes effect or none does.
type Deliverer interface {
	Deliver(ctx context.Context, batch Batch) error
}

// BalanceReader reports the fungible balance held by an account.
type BalanceReader interface {
	Balance(ctx context.Context, holder string, denom asset.Denom) (uint64, error)
}
