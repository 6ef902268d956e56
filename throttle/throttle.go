// Package throttle registers the device with the remote account service
// at sign-in and enforces the backend's account-per-device quota. The
// gate runs before entitlement evaluation: a blocked sign-in never
// reaches Entitled regardless of any valid purchase in the session.
package throttle

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/open-rails/entitlementkit/account"
)

// ErrDeviceBlocked means the backend refused the sign-in for this
// device. It is a distinguished, user-actionable condition: the caller
// must sign the identity back out, not retry.
var ErrDeviceBlocked = errors.New("throttle: device blocked")

// Store persists the block verdict so a relaunch still reflects it.
type Store interface {
	DeviceBlocked(ctx context.Context, deviceID string) (bool, error)
	SetDeviceBlocked(ctx context.Context, deviceID string, blocked bool) error
}

// Gate is the sign-in side of the device quota.
type Gate struct {
	reg   account.DeviceRegistrar
	store Store
	log   logrus.FieldLogger
}

// NewGate builds a gate. store may be nil when the caller does not need
// the verdict persisted; log defaults to the logrus standard logger.
func NewGate(reg account.DeviceRegistrar, store Store, log logrus.FieldLogger) *Gate {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Gate{reg: reg, store: store, log: log}
}

// OnSignIn registers deviceID against the freshly signed-in account.
// Returns ErrDeviceBlocked when the backend blocks the device.
//
// Registration failures (network, backend outage) are deliberately
// fail-open: the user proceeds unregistered rather than being locked
// out by a transient error. Logged at Warn so operators can count how
// often the gate is bypassed.
func (g *Gate) OnSignIn(ctx context.Context, deviceID, userID string) error {
	if g == nil || g.reg == nil {
		return nil
	}
	res, err := g.reg.RegisterDevice(ctx, deviceID, userID)
	if err != nil {
		g.log.WithError(err).WithField("device_id", deviceID).
			Warn("device registration failed; proceeding unregistered")
		return nil
	}
	if err := g.setBlocked(ctx, deviceID, res.IsBlocked); err != nil {
		g.log.WithError(err).Warn("failed to persist device block verdict")
	}
	if res.IsBlocked {
		return ErrDeviceBlocked
	}
	return nil
}

// Blocked reports the last persisted verdict for deviceID.
func (g *Gate) Blocked(ctx context.Context, deviceID string) bool {
	if g == nil || g.store == nil {
		return false
	}
	blocked, err := g.store.DeviceBlocked(ctx, deviceID)
	if err != nil {
		g.log.WithError(err).Warn("failed to read device block verdict")
		return false
	}
	return blocked
}

// ClearBlocked resets the persisted verdict, called after the required
// sign-out completes.
func (g *Gate) ClearBlocked(ctx context.Context, deviceID string) error {
	return g.setBlocked(ctx, deviceID, false)
}

func (g *Gate) setBlocked(ctx context.Context, deviceID string, blocked bool) error {
	if g.store == nil {
		return nil
	}
	return g.store.SetDeviceBlocked(ctx, deviceID, blocked)
}
