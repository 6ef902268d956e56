package entitlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/open-rails/entitlementkit/enttest"
	"github.com/open-rails/entitlementkit/ledger"
	"github.com/open-rails/entitlementkit/trial"
	verifykit "github.com/open-rails/entitlementkit/verify"
)

func scriptPurchase(f *fixture, rec ledger.SignedRecord) {
	f.ledger.SetPurchase(func(_ context.Context, productID string) (ledger.PurchaseResult, error) {
		return ledger.PurchaseResult{Outcome: ledger.OutcomeSuccess, Record: &rec}, nil
	})
}

func startEngine(t *testing.T, f *fixture) {
	t.Helper()
	if err := f.engine.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { f.engine.Close() })
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestPurchaseSuccess(t *testing.T) {
	f := newFixture(t)
	f.signIn("user-a")
	startEngine(t, f)

	expires := time.Now().Add(30 * 24 * time.Hour)
	rec := f.issuer.Sign(enttest.TxSpec{ProductID: f.product, TransactionID: "tx-buy", ExpiresAt: &expires})
	scriptPurchase(f, rec)
	f.ledger.SetEntitlements(rec)

	if err := f.engine.Purchase(context.Background()); err != nil {
		t.Fatalf("Purchase: %v", err)
	}
	if got := f.engine.Snapshot().Status; got != StatusEntitled {
		t.Errorf("status = %v, want %v", got, StatusEntitled)
	}
	if got := f.ledger.FinishCount("tx-buy"); got != 1 {
		t.Errorf("finish count = %d, want 1", got)
	}
}

func TestPurchaseUserCancelled(t *testing.T) {
	f := newFixture(t)
	f.signIn("user-a")
	f.engine.Reevaluate(context.Background())
	before := f.engine.Snapshot()

	f.ledger.SetPurchase(func(_ context.Context, _ string) (ledger.PurchaseResult, error) {
		return ledger.PurchaseResult{Outcome: ledger.OutcomeUserCancelled}, nil
	})
	startEngine(t, f)

	err := f.engine.Purchase(context.Background())
	if KindOf(err) != KindUserCancelled {
		t.Fatalf("error kind = %v, want %v", KindOf(err), KindUserCancelled)
	}
	if got := f.engine.Snapshot(); got != before {
		t.Errorf("snapshot changed on cancellation: %+v -> %+v", before, got)
	}
}

func TestPurchasePending(t *testing.T) {
	f := newFixture(t)
	f.signIn("user-a")
	f.ledger.SetPurchase(func(_ context.Context, _ string) (ledger.PurchaseResult, error) {
		return ledger.PurchaseResult{Outcome: ledger.OutcomePending}, nil
	})
	startEngine(t, f)

	if err := f.engine.Purchase(context.Background()); err != nil {
		t.Fatalf("Purchase: %v", err)
	}
	if got := f.engine.Snapshot().Status; got != StatusPending {
		t.Errorf("status = %v, want %v", got, StatusPending)
	}
}

func TestPurchaseErrorClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"payment not allowed", ledger.ErrPaymentNotAllowed, KindPaymentNotAllowed},
		{"network", ledger.ErrNetwork, KindNetworkError},
		{"unknown", errors.New("boom"), KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.signIn("user-a")
			f.ledger.SetPurchase(func(_ context.Context, _ string) (ledger.PurchaseResult, error) {
				return ledger.PurchaseResult{}, tt.err
			})
			startEngine(t, f)

			if got := KindOf(f.engine.Purchase(context.Background())); got != tt.want {
				t.Errorf("error kind = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPurchaseWithoutLoadedProduct(t *testing.T) {
	f := newFixture(t)
	f.signIn("user-a")
	// Never started, so the catalog was never loaded.
	if got := KindOf(f.engine.Purchase(context.Background())); got != KindProductNotFound {
		t.Errorf("error kind = %v, want %v", got, KindProductNotFound)
	}
}

func TestRestoreTriggersReevaluation(t *testing.T) {
	f := newFixture(t)
	f.signIn("user-a")
	expires := time.Now().Add(30 * 24 * time.Hour)
	f.ledger.SetEntitlements(f.issuer.ActiveSubscription(f.product, expires))

	if err := f.engine.Restore(context.Background()); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if got := f.engine.Snapshot().Status; got != StatusEntitled {
		t.Errorf("status = %v, want %v", got, StatusEntitled)
	}
}

func TestStartAnonymousTrial(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.engine.StartAnonymousTrial(ctx)
	if err != nil {
		t.Fatalf("StartAnonymousTrial: %v", err)
	}
	if !rec.Consumed || rec.EndsAt.Before(time.Now()) {
		t.Errorf("record = %+v, want consumed with future end", rec)
	}
	id, ok := f.ids.Current(ctx)
	if !ok || !id.Anonymous {
		t.Fatalf("identity = %+v signedIn=%v, want anonymous", id, ok)
	}
	// Anonymous identity is gated by allotment, not entitlement.
	if got := f.engine.Snapshot().Status; got != StatusNotEntitled {
		t.Errorf("status = %v, want %v", got, StatusNotEntitled)
	}
	profiles := f.remote.Profiles()
	if len(profiles) != 1 {
		t.Fatalf("profiles = %d, want 1", len(profiles))
	}
	p := profiles[0]
	if p.Plan != "trial" || p.TokensRemaining != 1000 || !p.IsAnonymous {
		t.Errorf("profile = %+v, want trial plan with 1000 tokens", p)
	}
}

func TestSecondTrialRefusedAcrossSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.engine.StartAnonymousTrial(ctx); err != nil {
		t.Fatalf("first trial: %v", err)
	}
	if err := f.ids.SignOut(ctx); err != nil {
		t.Fatalf("SignOut: %v", err)
	}

	// A relaunch builds a fresh engine over the same device store.
	eng, err := rebuildWithStore(f)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	_, err = eng.StartAnonymousTrial(ctx)
	if KindOf(err) != KindTrialAlreadyUsed {
		t.Errorf("second trial kind = %v, want %v", KindOf(err), KindTrialAlreadyUsed)
	}
}

func TestOnSignInSeedsFreeProfile(t *testing.T) {
	f := newFixture(t)
	f.signIn("user-a")

	if err := f.engine.OnSignIn(context.Background()); err != nil {
		t.Fatalf("OnSignIn: %v", err)
	}
	regs := f.remote.Registrations()
	if len(regs) != 1 || regs[0] != testDeviceID+":user-a" {
		t.Errorf("registrations = %v, want [%s:user-a]", regs, testDeviceID)
	}
	profiles := f.remote.Profiles()
	if len(profiles) != 1 {
		t.Fatalf("profiles = %d, want 1", len(profiles))
	}
	p := profiles[0]
	if p.Plan != "free" || p.TokensRemaining != 2500 {
		t.Errorf("profile = %+v, want free plan with 2500 tokens", p)
	}
	if got := p.ResetAt; !got.After(time.Now()) {
		t.Errorf("reset at %v, want a future midnight", got)
	}
}

func TestListenerAppliesTransactionUpdates(t *testing.T) {
	f := newFixture(t)
	f.signIn("user-a")
	startEngine(t, f)

	// A record signed by a different key is dropped without killing the
	// listener.
	rogue := enttest.NewIssuer()
	badExpires := time.Now().Add(time.Hour)
	f.ledger.PushUpdate(rogue.Sign(enttest.TxSpec{ProductID: f.product, TransactionID: "tx-rogue", ExpiresAt: &badExpires}))

	expires := time.Now().Add(30 * 24 * time.Hour)
	rec := f.issuer.Sign(enttest.TxSpec{ProductID: f.product, TransactionID: "tx-update", ExpiresAt: &expires})
	f.ledger.SetEntitlements(rec)
	f.ledger.PushUpdate(rec)

	waitFor(t, "entitled status", func() bool {
		return f.engine.Snapshot().Status == StatusEntitled
	})
	if got := f.ledger.FinishCount("tx-update"); got != 1 {
		t.Errorf("finish count = %d, want 1", got)
	}
	if got := f.ledger.FinishCount("tx-rogue"); got != 0 {
		t.Errorf("rogue record was finished")
	}
}

func TestIdentityWatcherHandlesSignOut(t *testing.T) {
	f := newFixture(t)
	f.signIn("user-a")
	expires := time.Now().Add(30 * 24 * time.Hour)
	f.ledger.SetEntitlements(f.issuer.ActiveSubscription(f.product, expires))
	startEngine(t, f)

	waitFor(t, "entitled status", func() bool {
		return f.engine.Snapshot().Status == StatusEntitled
	})

	if err := f.ids.SignOut(context.Background()); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	waitFor(t, "signed-out status", func() bool {
		return f.engine.Snapshot().Status == StatusNotEntitled
	})
}

func TestDebugSnapshotListsVerifiedEntitlements(t *testing.T) {
	f := newFixture(t)
	f.signIn("user-a")
	expires := time.Now().Add(30 * 24 * time.Hour)
	f.ledger.SetEntitlements(
		f.issuer.ActiveSubscription(f.product, expires),
		enttest.NewIssuer().ActiveSubscription("rogue.product", expires),
	)
	f.engine.Reevaluate(context.Background())

	state := f.engine.DebugSnapshot(context.Background())
	if state.Snapshot.Status != StatusEntitled {
		t.Errorf("status = %v, want %v", state.Snapshot.Status, StatusEntitled)
	}
	if len(state.Entitlements) != 1 || state.Entitlements[0].ProductID != f.product {
		t.Errorf("entitlements = %+v, want only the verifiable record", state.Entitlements)
	}
}

// rebuildWithStore builds a second engine over f's store and remote, the
// shape of an app relaunch on the same device.
func rebuildWithStore(f *fixture) (*Engine, error) {
	return New(Config{DeviceID: testDeviceID}, Deps{
		Ledger:   f.ledger,
		Verifier: verifykit.New(f.issuer.KeySet()),
		Identity: enttest.NewFakeIdentity(),
		Store:    f.store,
		Trials:   trial.NewGate(f.store, 0),
	})
}
