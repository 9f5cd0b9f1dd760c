// Package asset defines the denomination model shared by the sale ledger,
// the staking engine and the transfer gateway.
package asset

import "errors"

// DenomKind distinguishes native coins from fungible token contracts.
type DenomKind string

const (
	// Native is a chain-native coin identified by its denomination string.
	Native DenomKind = "native"
	// Token is a fungible token identified by its contract address.
	Token DenomKind = "token"
)

var (
	ErrUnknownDenomKind = errors.New("unknown denom kind")
	ErrEmptyDenomValue  = errors.New("denom value must not be empty")
)

// Denom names a fungible asset: a native coin denomination or a token
// contract address, depending on Kind.
type Denom struct {
	Kind  DenomKind `json:"kind" yaml:"kind"`
	Value string    `json:"value" yaml:"value"`
}

// Validate reports whether the denom is well formed.
func (d Denom) Validate() error {
	switch d.Kind {
	case Native, Token:
	default:
		return ErrUnknownDenomKind
	}
	if d.Value == "" {
		return ErrEmptyDenomValue
	}
	return nil
}

// Equal reports whether two denoms name the same asset.
func (d Denom) Equal(other Denom) bool {
	return d.Kind == other.Kind && d.Value == other.Value
}

func (d Denom) String() string {
	return string(d.Kind) + ":" + d.Value
}
