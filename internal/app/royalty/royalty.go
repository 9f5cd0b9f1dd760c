// Package royalty implements proportional fee splitting for sale
// settlement. Rates are expressed in parts per million and shares are
// floored, with any rounding remainder paid to the seller so that the
// emitted amounts always sum exactly to the sale price.
package royalty

import (
	"errors"
	"fmt"
	"math/bits"
)

// Denominator is the rate base: a rate of 1_000_000 is 100%.
const Denominator = 1_000_000

var (
	ErrEmptyTable        = errors.New("royalty table must not be empty")
	ErrFirstEntryOwner   = errors.New("first royalty entry must be the collection owner")
	ErrRateCeiling       = errors.New("royalty rates exceed the configured ceiling")
	ErrEmptyBeneficiary  = errors.New("royalty beneficiary must not be empty")
	ErrCeilingOutOfRange = errors.New("royalty ceiling exceeds the rate denominator")
)

// Entry is one royalty beneficiary with its rate in parts per million.
type Entry struct {
	Address string `json:"address" yaml:"address"`
	RatePPM uint64 `json:"rate_ppm" yaml:"rate_ppm"`
}

// Payment is one computed payout.
type Payment struct {
	Address string
	Amount  uint64
}

// ValidateTable checks a royalty table against the collection owner and
// the rate ceiling. The first entry must name the owner and the summed
// rates must stay within ceilingPPM.
func ValidateTable(entries []Entry, owner string, ceilingPPM uint64) error {
	if ceilingPPM > Denominator {
		return ErrCeilingOutOfRange
	}
	if len(entries) == 0 {
		return ErrEmptyTable
	}
	if entries[0].Address != owner {
		return ErrFirstEntryOwner
	}
	var total uint64
	for i, e := range entries {
		if e.Address == "" {
			return fmt.Errorf("entry %d: %w", i, ErrEmptyBeneficiary)
		}
		total += e.RatePPM
	}
	if total > ceilingPPM {
		return ErrRateCeiling
	}
	return nil
}

// Split divides price between the royalty entries and the seller. Each
// entry receives floor(price * rate / Denominator); the seller receives
// the remainder. Zero-amount payouts are omitted. The summed rates must
// not exceed Denominator, which ValidateTable guarantees.
func Split(price uint64, entries []Entry, seller string) []Payment {
	payments := make([]Payment, 0, len(entries)+1)
	var distributed uint64
	for _, e := range entries {
		share := proportion(price, e.RatePPM)
		distributed += share
		if share == 0 {
			continue
		}
		payments = append(payments, Payment{Address: e.Address, Amount: share})
	}
	if remainder := price - distributed; remainder > 0 {
		payments = append(payments, Payment{Address: seller, Amount: remainder})
	}
	return payments
}

// proportion computes amount*ratePPM/Denominator through a 128-bit
// intermediate so large prices cannot overflow.
func proportion(amount, ratePPM uint64) uint64 {
	hi, lo := bits.Mul64(amount, ratePPM)
	quo, _ := bits.Div64(hi, lo, Denominator)
	return quo
}
