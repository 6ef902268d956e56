// Package device derives the stable, device-scoped identifier used to
// throttle trial and account abuse. The identifier is tied to hardware
// (a persisted random seed), not to any account, and survives identity
// changes.
package device

import (
	"crypto/sha256"
	"errors"
	"io"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/hkdf"
)

// idLen is the derived identifier length in bytes before encoding.
const idLen = 16

// NewSeed generates a fresh device seed. The caller persists it for the
// device's lifetime; regenerating the seed resets the device identity
// and with it the trial gate, so treat the persisted copy as durable.
func NewSeed() ([]byte, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return nil, err
	}
	return u[:], nil
}

// DeriveID derives the device identifier from the persisted seed.
// The scope string separates identifier namespaces (e.g. per app) so
// one seed never yields the same id for two products.
func DeriveID(seed []byte, scope string) (string, error) {
	if len(seed) == 0 {
		return "", errors.New("device: empty seed")
	}
	r := hkdf.New(sha256.New, seed, nil, []byte("device-id:"+scope))
	id := make([]byte, idLen)
	if _, err := io.ReadFull(r, id); err != nil {
		return "", err
	}
	return base58.Encode(id), nil
}
