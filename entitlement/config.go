package entitlement

import (
	"context"
	"time"

	"github.com/open-rails/entitlementkit/account"
)

// Config carries the engine's policy knobs. The windows encode business
// policy, not structural constraints, so they are configurable with the
// product's shipped values as defaults.
type Config struct {
	// ProductID is the tracked subscription product. Default "premium.monthly".
	ProductID string
	// DeviceID is the stable device identifier (see the device package).
	// Required.
	DeviceID string
	// GraceWindow bounds how long a remote premium plan is honored
	// without local ledger confirmation. Default 3 days.
	GraceWindow time.Duration
	// QuarantineWindow suppresses entitlement recognition after an
	// account deletion, so stale platform receipts cannot re-grant
	// access to the deleted account's successor. Default 24h.
	QuarantineWindow time.Duration
	// TrialTokens is the trial plan's token allotment. Default 1000.
	TrialTokens int
	// SignupTokens is the free plan's daily token allotment. Default 2500.
	SignupTokens int
	// RescanSchedule is an optional cron spec for periodic ledger
	// re-scans in long-running deployments. Empty disables it;
	// foreground and transaction events still trigger re-scans.
	RescanSchedule string
}

func (c *Config) applyDefaults() {
	if c.ProductID == "" {
		c.ProductID = "premium.monthly"
	}
	if c.GraceWindow <= 0 {
		c.GraceWindow = 3 * 24 * time.Hour
	}
	if c.QuarantineWindow <= 0 {
		c.QuarantineWindow = 24 * time.Hour
	}
	if c.TrialTokens <= 0 {
		c.TrialTokens = 1000
	}
	if c.SignupTokens <= 0 {
		c.SignupTokens = 2500
	}
}

// StateStore persists the engine's durable device-scoped state: the
// deletion quarantine and the last known user. Implementations live
// under storage/.
type StateStore interface {
	Quarantine(ctx context.Context, deviceID string) (time.Time, bool, error)
	SetQuarantine(ctx context.Context, deviceID string, at time.Time) error
	ClearQuarantine(ctx context.Context, deviceID string) error
	LastUserID(ctx context.Context, deviceID string) (string, error)
	SetLastUserID(ctx context.Context, deviceID, userID string) error
}

// PlanPusher schedules a fire-and-forget plan push. Implementations
// must not block the caller and must swallow delivery failures; local
// status is ledger-derived and authoritative regardless of sync
// success. Implementations live under sync/.
type PlanPusher interface {
	Push(ctx context.Context, userID string, snap account.PlanSnapshot)
}
