// Package trial gates the one-time anonymous free trial per device.
// Consumption is recorded against the device identifier and never
// deleted, so a second trial on the same hardware is refused even
// across reinstalls of the account.
package trial

import (
	"context"
	"errors"
	"time"
)

// ErrAlreadyUsed is returned when the device has consumed its trial.
var ErrAlreadyUsed = errors.New("trial: already used on this device")

// Record is the per-device trial state.
type Record struct {
	Consumed bool
	EndsAt   time.Time
}

// Store persists trial records keyed by device identifier.
type Store interface {
	TrialRecord(ctx context.Context, deviceID string) (Record, bool, error)
	PutTrialRecord(ctx context.Context, deviceID string, rec Record) error
}

// Gate enforces the one-shot trial policy.
type Gate struct {
	store  Store
	length time.Duration
	now    func() time.Time
}

// NewGate builds a gate. If length <= 0, a default of 3 days is used.
func NewGate(store Store, length time.Duration) *Gate {
	if length <= 0 {
		length = 3 * 24 * time.Hour
	}
	return &Gate{store: store, length: length, now: time.Now}
}

// Begin consumes the trial for deviceID and returns the stored record.
// A device that already consumed its trial gets ErrAlreadyUsed; storage
// failures surface to the caller since granting an uncheckable trial
// would defeat the gate.
func (g *Gate) Begin(ctx context.Context, deviceID string) (Record, error) {
	if deviceID == "" {
		return Record{}, errors.New("trial: missing device id")
	}
	rec, ok, err := g.store.TrialRecord(ctx, deviceID)
	if err != nil {
		return Record{}, err
	}
	if ok && rec.Consumed {
		return Record{}, ErrAlreadyUsed
	}
	rec = Record{Consumed: true, EndsAt: g.now().Add(g.length)}
	if err := g.store.PutTrialRecord(ctx, deviceID, rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Peek reports the stored record without consuming anything.
func (g *Gate) Peek(ctx context.Context, deviceID string) (Record, bool, error) {
	return g.store.TrialRecord(ctx, deviceID)
}
