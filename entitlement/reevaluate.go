package entitlement

import (
	"context"
	"time"

	"github.com/open-rails/entitlementkit/account"
	verifykit "github.com/open-rails/entitlementkit/verify"
)

// Reevaluate re-derives the status from the platform ledger's current
// verified entitlements. It is a full re-scan, not an incremental
// apply: running it twice with unchanged inputs yields the same status
// and no duplicate divergent sync push, so concurrent triggers
// (listener events, identity changes, foregrounds) are safe.
func (e *Engine) Reevaluate(ctx context.Context) {
	e.evalMu.Lock()
	defer e.evalMu.Unlock()

	id, ok := e.ids.Current(ctx)
	if !ok {
		e.setSnapshot(StatusNotEntitled, nil)
		return
	}

	// Policy guards run before the ledger scan: a guard-excluded
	// identity must not become Entitled no matter what the ledger says.
	if id.Anonymous {
		e.setSnapshot(StatusNotEntitled, nil)
		return
	}
	if e.isSessionBlocked() {
		e.setSnapshot(StatusNotEntitled, nil)
		return
	}
	if e.inQuarantine(ctx) {
		e.setSnapshot(StatusNotEntitled, nil)
		return
	}

	records, err := e.ledger.CurrentEntitlements(ctx)
	if err != nil {
		// Absorbed: worst case is a stale status until the next
		// successful re-scan. Never show a raw error for a blip.
		e.log.WithError(err).Warn("ledger scan failed; keeping current status")
		return
	}

	now := e.now()
	var match *verifykit.VerifiedTransaction
	var sawExpired, sawRevoked bool
	for _, rec := range records {
		vt, err := e.verifier.Verify(rec)
		if err != nil {
			e.log.WithError(err).Warn("skipping unverifiable ledger entry")
			continue
		}
		if vt.ProductID != e.cfg.ProductID {
			continue
		}
		if vt.RevokedAt != nil {
			sawRevoked = true
			continue
		}
		if vt.ExpiresAt != nil && !vt.ExpiresAt.After(now) {
			sawExpired = true
			continue
		}
		match = vt
		break
	}

	if match != nil {
		e.setSnapshot(StatusEntitled, match.ExpiresAt)
		e.schedulePush(ctx, id.UserID, true, match.ExpiresAt)
		return
	}

	if e.graceApplies(ctx, id.UserID, now) {
		// The remote still says premium and the discrepancy is young;
		// hold entitled-equivalent access instead of demoting on what
		// may be an offline ledger. No push: nothing resolved yet.
		e.setSnapshot(StatusGracePeriod, nil)
		return
	}

	next := StatusNotEntitled
	if prev := e.Snapshot().Status; prev == StatusEntitled {
		// Surface why access ended before settling at NotEntitled on
		// the following re-scan.
		if sawRevoked {
			next = StatusRevoked
		} else if sawExpired {
			next = StatusExpired
		}
	}
	e.setSnapshot(next, nil)
	e.schedulePush(ctx, id.UserID, false, nil)
}

// inQuarantine reports whether the fresh-account window is active,
// clearing the flag once it lapses.
func (e *Engine) inQuarantine(ctx context.Context) bool {
	if e.store == nil {
		return false
	}
	setAt, ok, err := e.store.Quarantine(ctx, e.cfg.DeviceID)
	if err != nil {
		e.log.WithError(err).Warn("quarantine read failed")
		return false
	}
	if !ok {
		return false
	}
	if e.now().Sub(setAt) >= e.cfg.QuarantineWindow {
		if err := e.store.ClearQuarantine(ctx, e.cfg.DeviceID); err != nil {
			e.log.WithError(err).Warn("quarantine clear failed")
		}
		return false
	}
	return true
}

// graceApplies consults the remote plan document when the local ledger
// has no confirmation. Read failures are absorbed (no grace).
func (e *Engine) graceApplies(ctx context.Context, userID string, now time.Time) bool {
	if e.plans == nil {
		return false
	}
	doc, err := e.plans.Plan(ctx, userID)
	if err != nil {
		e.log.WithError(err).Warn("remote plan read failed")
		return false
	}
	if doc.Plan != "premium" || doc.LastSyncDate.IsZero() {
		return false
	}
	return now.Sub(doc.LastSyncDate) < e.cfg.GraceWindow
}

// schedulePush hands a snapshot to the sync bridge, at most once per
// distinct (user, premium, expiration) value. Callers hold evalMu.
func (e *Engine) schedulePush(ctx context.Context, userID string, isPremium bool, expiration *time.Time) {
	if e.pusher == nil || userID == "" {
		return
	}
	key := pushKey{userID: userID, isPremium: isPremium}
	var ms *int64
	if expiration != nil {
		v := expiration.UnixMilli()
		ms = &v
		key.expiresMs = v
	}
	if e.lastPush != nil && *e.lastPush == key {
		return
	}
	e.lastPush = &key
	e.pusher.Push(ctx, userID, account.PlanSnapshot{
		IsPremium:             isPremium,
		ExpirationEpochMillis: ms,
	})
}
