package entitlement

import "context"

// runListener drains the platform's transaction-update feed for the
// engine's lifetime. One bad record never stops the loop: verification
// failures are logged and skipped, and the platform redelivers anything
// it still considers outstanding.
func (e *Engine) runListener(ctx context.Context) {
	defer e.wg.Done()
	updates := e.ledger.Updates()
	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-updates:
			if !ok {
				return
			}
			vt, err := e.verifier.Verify(rec)
			if err != nil {
				e.log.WithError(err).Warn("dropping unverifiable transaction update")
				continue
			}
			// Finish is idempotent; a duplicate delivery acks twice
			// harmlessly and the re-scan below is order-independent.
			if err := e.ledger.Finish(ctx, vt.TransactionID); err != nil {
				e.log.WithError(err).WithField("transaction_id", vt.TransactionID).
					Warn("transaction finish failed")
			}
			e.Reevaluate(ctx)
		}
	}
}

// runIdentityWatcher resets and re-drives the state machine on every
// identity change.
func (e *Engine) runIdentityWatcher(ctx context.Context) {
	defer e.wg.Done()
	changes := e.ids.Changes()
	for {
		select {
		case <-ctx.Done():
			return
		case id, ok := <-changes:
			if !ok {
				return
			}
			if id.UserID == "" {
				// Signed out: nothing to resolve, nobody to sync for.
				e.evalMu.Lock()
				e.lastPush = nil
				e.setSessionBlocked(false)
				e.setSnapshot(StatusNotEntitled, nil)
				e.evalMu.Unlock()
				continue
			}
			e.resetForIdentity(ctx, id.UserID)
		}
	}
}

// resetForIdentity re-enters Loading and re-resolves for the new user.
// The push dedupe key is cleared so the new user gets their own first
// push even if the derived snapshot matches the previous user's.
func (e *Engine) resetForIdentity(ctx context.Context, userID string) {
	e.evalMu.Lock()
	e.lastPush = nil
	e.setSessionBlocked(false)
	e.setSnapshot(StatusLoading, nil)
	e.evalMu.Unlock()

	if e.store != nil {
		if err := e.store.SetLastUserID(ctx, e.cfg.DeviceID, userID); err != nil {
			e.log.WithError(err).Warn("failed to record last user")
		}
	}
	e.Reevaluate(ctx)
}
