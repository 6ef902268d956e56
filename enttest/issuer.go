// Package enttest provides test doubles for applications built on
// entitlementkit: a transaction issuer that signs records which
// validate against its own key set, plus fakes for the platform
// ledger, the identity provider, and the remote account service.
//
// Example usage:
//
//	issuer := enttest.NewIssuer()
//	led := enttest.NewFakeLedger()
//	led.SetEntitlements(issuer.ActiveSubscription("premium.monthly", time.Now().Add(30*24*time.Hour)))
//	eng, _ := entitlement.New(cfg, entitlement.Deps{
//		Ledger:   led,
//		Verifier: verifykit.New(issuer.KeySet()),
//		Identity: enttest.NewFakeIdentity(),
//	})
package enttest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"

	"github.com/open-rails/entitlementkit/ledger"
)

// TxSpec describes a transaction to sign.
type TxSpec struct {
	ProductID             string
	TransactionID         string
	OriginalTransactionID string
	PurchasedAt           time.Time
	ExpiresAt             *time.Time
	RevokedAt             *time.Time
}

// Issuer signs transaction records with a generated ES256 key, the
// algorithm platform ledgers use for signed transactions.
type Issuer struct {
	key  *ecdsa.PrivateKey
	kid  string
	next int
}

// NewIssuer generates a fresh signing key.
func NewIssuer() *Issuer {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		panic("enttest: failed to generate ES256 key: " + err.Error())
	}
	return &Issuer{key: key, kid: "enttest-key-1"}
}

// KeySet returns the public key set records signed by this issuer
// validate against.
func (i *Issuer) KeySet() jwk.Set {
	pub, err := jwk.FromRaw(&i.key.PublicKey)
	if err != nil {
		panic("enttest: failed to build jwk: " + err.Error())
	}
	_ = pub.Set(jwk.KeyIDKey, i.kid)
	_ = pub.Set(jwk.AlgorithmKey, jwa.ES256)
	set := jwk.NewSet()
	_ = set.AddKey(pub)
	return set
}

// Sign produces one signed record. Zero TxSpec fields get usable
// defaults (unique transaction id, purchase time now).
func (i *Issuer) Sign(spec TxSpec) ledger.SignedRecord {
	if spec.TransactionID == "" {
		i.next++
		spec.TransactionID = "tx-" + itoa(i.next)
	}
	if spec.OriginalTransactionID == "" {
		spec.OriginalTransactionID = spec.TransactionID
	}
	if spec.PurchasedAt.IsZero() {
		spec.PurchasedAt = time.Now()
	}

	claims := jwt.MapClaims{
		"productId":             spec.ProductID,
		"transactionId":         spec.TransactionID,
		"originalTransactionId": spec.OriginalTransactionID,
		"purchaseDate":          spec.PurchasedAt.UnixMilli(),
	}
	if spec.ExpiresAt != nil {
		claims["expiresDate"] = spec.ExpiresAt.UnixMilli()
	}
	if spec.RevokedAt != nil {
		claims["revocationDate"] = spec.RevokedAt.UnixMilli()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = i.kid
	signed, err := token.SignedString(i.key)
	if err != nil {
		panic("enttest: failed to sign transaction: " + err.Error())
	}
	return ledger.SignedRecord{JWS: signed}
}

// ActiveSubscription signs a currently valid subscription record.
func (i *Issuer) ActiveSubscription(productID string, expires time.Time) ledger.SignedRecord {
	return i.Sign(TxSpec{ProductID: productID, ExpiresAt: &expires})
}

// ExpiredSubscription signs a record whose expiration already passed.
func (i *Issuer) ExpiredSubscription(productID string, expired time.Time) ledger.SignedRecord {
	return i.Sign(TxSpec{ProductID: productID, ExpiresAt: &expired})
}

// RevokedSubscription signs a record the platform clawed back.
func (i *Issuer) RevokedSubscription(productID string, revoked time.Time) ledger.SignedRecord {
	expires := revoked.Add(30 * 24 * time.Hour)
	return i.Sign(TxSpec{ProductID: productID, ExpiresAt: &expires, RevokedAt: &revoked})
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	pos := len(buf)
	for n > 0 {
		pos--
		buf[pos] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[pos:])
}
