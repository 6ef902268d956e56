// Package ledger defines the boundary to the platform purchase ledger:
// the store-side authority for what was actually paid for. Implementations
// wrap a concrete store backend; tests use the fake in enttest.
package ledger

import (
	"context"
	"time"
)

// Product is a purchasable item as the platform describes it.
type Product struct {
	ID           string
	DisplayName  string
	DisplayPrice string
}

// SignedRecord is one raw signed transaction record from the platform.
// The payload is a compact JWS; nothing in it is trusted until it has
// passed through a verifier.
type SignedRecord struct {
	JWS string
}

// PurchaseOutcome classifies the result of a purchase flow.
type PurchaseOutcome int

const (
	// OutcomeSuccess means the flow completed and Record carries the
	// signed transaction.
	OutcomeSuccess PurchaseOutcome = iota
	// OutcomeUserCancelled means the user abandoned the flow. Not an error.
	OutcomeUserCancelled
	// OutcomePending means the platform deferred approval (e.g. ask-to-buy).
	// A transaction update arrives later with the terminal result.
	OutcomePending
)

// PurchaseResult is what a purchase flow returns.
type PurchaseResult struct {
	Outcome PurchaseOutcome
	Record  *SignedRecord
}

// Ledger is the platform purchase ledger. All calls may block for a
// network round trip and honor ctx cancellation.
//
// Updates returns the platform's ordered transaction-update feed. The
// channel is owned by the implementation and stays open for the process
// lifetime; reconnect semantics are the platform's responsibility.
// Finish acknowledges a transaction and is safe to call more than once
// for the same id.
type Ledger interface {
	Products(ctx context.Context, ids []string) ([]Product, error)
	CurrentEntitlements(ctx context.Context) ([]SignedRecord, error)
	Purchase(ctx context.Context, productID string) (PurchaseResult, error)
	Restore(ctx context.Context) error
	Updates() <-chan SignedRecord
	Finish(ctx context.Context, transactionID string) error
}

// Entitlement mirrors the fields of a verified ledger entry that the
// rest of the system cares about. ExpiresAt is nil for non-expiring
// purchases; RevokedAt is non-nil when the platform clawed the purchase
// back (refund, family-sharing revocation).
type Entitlement struct {
	ProductID     string
	TransactionID string
	PurchasedAt   time.Time
	ExpiresAt     *time.Time
	RevokedAt     *time.Time
}
