// Package app composes the marketplace service layer.
//
// The layer has three moving parts. The sale ledger (services/market)
// runs the listing state machine: fixed-price sales settle on the first
// qualifying offer, auctions collect strictly increasing offers until
// the provider accepts, and settlement splits the winning price between
// the royalty table and the provider. The staking engine
// (services/staking) accrues rewards lazily per interval boundary and
// handles the two-phase unstake with its lock period. Neither service
// moves value itself; both emit transfer intents that the gateway
// package journals and delivers to an asset custodian.
//
// Storage is interface-driven (storage), with an in-memory
// implementation for tests and a PostgreSQL implementation for
// deployments. The httpapi package exposes the services over JSON REST,
// and internal/app/runtime assembles everything from configuration.
package app
