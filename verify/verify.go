// Package verifykit checks the signature on raw purchase-transaction
// records and extracts the fields the reconciliation engine consumes.
package verifykit

import (
	"errors"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/open-rails/entitlementkit/ledger"
)

// VerificationError reports why a record was rejected. A failed
// verification is permanent for that record; the platform redelivers
// if it disagrees.
type VerificationError struct {
	Reason string
	Err    error
}

func (e *VerificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("verify: %s: %v", e.Reason, e.Err)
	}
	return "verify: " + e.Reason
}

func (e *VerificationError) Unwrap() error { return e.Err }

// VerifiedTransaction is an immutable trusted view of one ledger entry.
// It is constructed here and discarded after the engine folds it in.
type VerifiedTransaction struct {
	ProductID             string
	TransactionID         string
	OriginalTransactionID string
	PurchasedAt           time.Time
	ExpiresAt             *time.Time
	RevokedAt             *time.Time
}

// Entitlement converts the transaction into the ledger's entry view.
func (t *VerifiedTransaction) Entitlement() ledger.Entitlement {
	return ledger.Entitlement{
		ProductID:     t.ProductID,
		TransactionID: t.TransactionID,
		PurchasedAt:   t.PurchasedAt,
		ExpiresAt:     t.ExpiresAt,
		RevokedAt:     t.RevokedAt,
	}
}

// Verifier validates signed transaction records against the platform's
// signing keys.
type Verifier struct {
	keys jwk.Set
}

// New builds a verifier over the given key set.
func New(keys jwk.Set) *Verifier {
	return &Verifier{keys: keys}
}

// Verify checks the record's signature and extracts the transaction
// fields. Pure: no side effects, no retries.
//
// Validation of registered claims is disabled on purpose: a subscription
// transaction stays signature-valid after its expiration date; expiry is
// the engine's concern, not the verifier's.
func (v *Verifier) Verify(rec ledger.SignedRecord) (*VerifiedTransaction, error) {
	if v == nil || v.keys == nil {
		return nil, &VerificationError{Reason: "missing key set"}
	}
	if rec.JWS == "" {
		return nil, &VerificationError{Reason: "empty record"}
	}
	token, err := jwt.ParseString(
		rec.JWS,
		jwt.WithKeySet(v.keys),
		jwt.WithValidate(false),
	)
	if err != nil {
		return nil, &VerificationError{Reason: "signature check failed", Err: err}
	}

	out := &VerifiedTransaction{}
	if s, ok := stringClaim(token, "productId"); ok {
		out.ProductID = s
	}
	if out.ProductID == "" {
		return nil, &VerificationError{Reason: "missing productId"}
	}
	if s, ok := stringClaim(token, "transactionId"); ok {
		out.TransactionID = s
	}
	if out.TransactionID == "" {
		return nil, &VerificationError{Reason: "missing transactionId"}
	}
	if s, ok := stringClaim(token, "originalTransactionId"); ok {
		out.OriginalTransactionID = s
	} else {
		out.OriginalTransactionID = out.TransactionID
	}
	if ms, ok := millisClaim(token, "purchaseDate"); ok {
		out.PurchasedAt = time.UnixMilli(ms)
	}
	if ms, ok := millisClaim(token, "expiresDate"); ok {
		t := time.UnixMilli(ms)
		out.ExpiresAt = &t
	}
	if ms, ok := millisClaim(token, "revocationDate"); ok {
		t := time.UnixMilli(ms)
		out.RevokedAt = &t
	}
	return out, nil
}

// IsVerificationError reports whether err is a verification rejection.
func IsVerificationError(err error) bool {
	var ve *VerificationError
	return errors.As(err, &ve)
}

func stringClaim(token jwt.Token, name string) (string, bool) {
	raw, ok := token.Get(name)
	if !ok {
		return "", false
	}
	s, ok := raw.(string)
	return s, ok && s != ""
}

// millisClaim reads an epoch-milliseconds claim. JSON numbers arrive as
// float64; issuers occasionally send them as int64 or string-free ints.
func millisClaim(token jwt.Token, name string) (int64, bool) {
	raw, ok := token.Get(name)
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	}
	return 0, false
}
