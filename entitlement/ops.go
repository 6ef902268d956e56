package entitlement

import (
	"context"
	"errors"
	"time"

	"github.com/open-rails/entitlementkit/account"
	"github.com/open-rails/entitlementkit/ledger"
	"github.com/open-rails/entitlementkit/throttle"
	"github.com/open-rails/entitlementkit/trial"
)

// Purchase runs the platform purchase flow for the tracked product.
// Cancellation by the user is surfaced as KindUserCancelled; a deferred
// platform approval moves the status to Pending and returns nil (the
// terminal result arrives as a transaction update).
func (e *Engine) Purchase(ctx context.Context) error {
	if e.isSessionBlocked() {
		return opErr(KindDeviceBlocked, nil)
	}
	product := e.currentProduct()
	if product == nil {
		return opErr(KindProductNotFound, nil)
	}

	res, err := e.ledger.Purchase(ctx, product.ID)
	if err != nil {
		return opErr(classifyLedgerErr(err), err)
	}
	switch res.Outcome {
	case ledger.OutcomeUserCancelled:
		// Status unchanged; abandonment is not an error condition.
		return opErr(KindUserCancelled, nil)
	case ledger.OutcomePending:
		e.evalMu.Lock()
		e.setSnapshot(StatusPending, nil)
		e.evalMu.Unlock()
		return nil
	}

	if res.Record == nil {
		return opErr(KindUnknown, errors.New("purchase succeeded without a record"))
	}
	vt, err := e.verifier.Verify(*res.Record)
	if err != nil {
		return opErr(KindVerificationFailed, err)
	}
	if err := e.ledger.Finish(ctx, vt.TransactionID); err != nil {
		e.log.WithError(err).Warn("transaction finish failed after purchase")
	}
	e.Reevaluate(ctx)
	return nil
}

// Restore resynchronizes the platform ledger from the store account and
// re-evaluates.
func (e *Engine) Restore(ctx context.Context) error {
	if err := e.ledger.Restore(ctx); err != nil {
		return opErr(classifyLedgerErr(err), err)
	}
	e.Reevaluate(ctx)
	return nil
}

// StartAnonymousTrial consumes the device's one-time trial, signs in an
// anonymous identity, and seeds the remote profile with the trial plan
// and token allotment. The trial identity can never reach Entitled
// through the paid path; its access is a remote-tracked allotment.
func (e *Engine) StartAnonymousTrial(ctx context.Context) (trial.Record, error) {
	if e.trials == nil {
		return trial.Record{}, opErr(KindUnknown, errors.New("trial gate not configured"))
	}
	if rec, ok, err := e.trials.Peek(ctx, e.cfg.DeviceID); err != nil {
		return trial.Record{}, opErr(KindUnknown, err)
	} else if ok && rec.Consumed {
		return trial.Record{}, opErr(KindTrialAlreadyUsed, trial.ErrAlreadyUsed)
	}

	id, err := e.ids.SignInAnonymously(ctx)
	if err != nil {
		return trial.Record{}, opErr(KindNetworkError, err)
	}

	rec, err := e.trials.Begin(ctx, e.cfg.DeviceID)
	if err != nil {
		if errors.Is(err, trial.ErrAlreadyUsed) {
			return trial.Record{}, opErr(KindTrialAlreadyUsed, err)
		}
		return trial.Record{}, opErr(KindUnknown, err)
	}

	if e.profiles != nil {
		end := rec.EndsAt
		p := account.Profile{
			UserID:          id.UserID,
			AuthMethod:      "anonymous",
			DeviceID:        e.cfg.DeviceID,
			Plan:            "trial",
			TokensRemaining: e.cfg.TrialTokens,
			ResetAt:         end,
			IsAnonymous:     true,
			TrialEndDate:    &end,
		}
		if err := e.profiles.PutProfile(ctx, p); err != nil {
			e.log.WithError(err).Warn("trial profile write failed")
		}
	}

	e.Reevaluate(ctx)
	return rec, nil
}

// OnSignIn runs the device-throttle gate for a freshly signed-in
// identity and, when admitted, seeds the remote profile and
// re-evaluates. On a block the identity is signed back out and
// KindDeviceBlocked is returned; the status stays out of Entitled for
// the whole session even if a valid purchase exists.
func (e *Engine) OnSignIn(ctx context.Context) error {
	id, ok := e.ids.Current(ctx)
	if !ok {
		return opErr(KindUnknown, errors.New("no active identity"))
	}

	if err := e.throttle.OnSignIn(ctx, e.cfg.DeviceID, id.UserID); err != nil {
		if errors.Is(err, throttle.ErrDeviceBlocked) {
			e.setSessionBlocked(true)
			e.evalMu.Lock()
			e.setSnapshot(StatusNotEntitled, nil)
			e.evalMu.Unlock()
			if err := e.ids.SignOut(ctx); err != nil {
				e.log.WithError(err).Warn("sign-out after device block failed")
			}
			return opErr(KindDeviceBlocked, err)
		}
		return opErr(KindUnknown, err)
	}

	if e.store != nil {
		if err := e.store.SetLastUserID(ctx, e.cfg.DeviceID, id.UserID); err != nil {
			e.log.WithError(err).Warn("failed to record last user")
		}
	}
	if e.profiles != nil && !id.Anonymous {
		if err := e.profiles.PutProfile(ctx, account.Profile{
			UserID:          id.UserID,
			AuthMethod:      "provider",
			DeviceID:        e.cfg.DeviceID,
			Plan:            "free",
			TokensRemaining: e.cfg.SignupTokens,
			ResetAt:         nextMidnight(e.now()),
		}); err != nil {
			e.log.WithError(err).Warn("profile write failed")
		}
	}
	e.Reevaluate(ctx)
	return nil
}

// NoteAccountDeleted arms the fresh-account quarantine so stale
// platform receipts cannot re-grant access to the deleted account's
// successor. The flag self-clears after the configured window.
func (e *Engine) NoteAccountDeleted(ctx context.Context) {
	if e.store != nil {
		if err := e.store.SetQuarantine(ctx, e.cfg.DeviceID, e.now()); err != nil {
			e.log.WithError(err).Warn("failed to arm deletion quarantine")
		}
	}
	e.Reevaluate(ctx)
}

// DebugState is a diagnostic view of the engine and the ledger's
// current verified entitlements.
type DebugState struct {
	Snapshot     Snapshot
	Entitlements []ledger.Entitlement
}

// DebugSnapshot lists everything the ledger currently grants, verified.
// Diagnostic only; gating decisions go through Snapshot.
func (e *Engine) DebugSnapshot(ctx context.Context) DebugState {
	out := DebugState{Snapshot: e.Snapshot()}
	records, err := e.ledger.CurrentEntitlements(ctx)
	if err != nil {
		e.log.WithError(err).Warn("ledger scan failed")
		return out
	}
	for _, rec := range records {
		vt, err := e.verifier.Verify(rec)
		if err != nil {
			continue
		}
		out.Entitlements = append(out.Entitlements, vt.Entitlement())
	}
	return out
}

func classifyLedgerErr(err error) Kind {
	switch {
	case errors.Is(err, ledger.ErrProductNotFound):
		return KindProductNotFound
	case errors.Is(err, ledger.ErrPaymentNotAllowed):
		return KindPaymentNotAllowed
	case errors.Is(err, ledger.ErrNetwork):
		return KindNetworkError
	default:
		return KindUnknown
	}
}

func nextMidnight(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, now.Location()).Add(24 * time.Hour)
}
