package entgin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/open-rails/entitlementkit/entitlement"
	"github.com/open-rails/entitlementkit/enttest"
	"github.com/open-rails/entitlementkit/identity"
	"github.com/open-rails/entitlementkit/ledger"
	memorystore "github.com/open-rails/entitlementkit/storage/memory"
	"github.com/open-rails/entitlementkit/trial"
	verifykit "github.com/open-rails/entitlementkit/verify"
)

func newTestRouter(t *testing.T) (*gin.Engine, *entitlement.Engine, *enttest.FakeLedger, *enttest.Issuer, *enttest.FakeIdentity) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	issuer := enttest.NewIssuer()
	led := enttest.NewFakeLedger()
	ids := enttest.NewFakeIdentity()
	store := memorystore.New()
	eng, err := entitlement.New(entitlement.Config{DeviceID: "dev-1"}, entitlement.Deps{
		Ledger:   led,
		Verifier: verifykit.New(issuer.KeySet()),
		Identity: ids,
		Store:    store,
		Trials:   trial.NewGate(store, 0),
	})
	if err != nil {
		t.Fatalf("entitlement.New: %v", err)
	}

	r := gin.New()
	Routes(r, eng)
	return r, eng, led, issuer, ids
}

func doJSON(t *testing.T, r *gin.Engine, method, path string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("response not JSON: %v (%s)", err, w.Body.String())
	}
	return w.Code, body
}

func TestStatusEndpoint(t *testing.T) {
	r, eng, led, issuer, ids := newTestRouter(t)
	ids.SetUser(identity.Identity{UserID: "user-a"})
	expires := time.Now().Add(30 * 24 * time.Hour)
	led.SetEntitlements(issuer.ActiveSubscription("premium.monthly", expires))
	eng.Reevaluate(context.Background())

	code, body := doJSON(t, r, http.MethodGet, "/entitlement")
	if code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", code)
	}
	if body["status"] != string(entitlement.StatusEntitled) {
		t.Errorf("status = %v, want %v", body["status"], entitlement.StatusEntitled)
	}
	if body["is_entitled"] != true {
		t.Errorf("is_entitled = %v, want true", body["is_entitled"])
	}
	if body["expiration_date"] == nil {
		t.Error("expiration_date missing")
	}
}

func TestPurchaseEndpointSuccess(t *testing.T) {
	r, eng, led, issuer, ids := newTestRouter(t)
	ids.SetUser(identity.Identity{UserID: "user-a"})
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { eng.Close() })

	expires := time.Now().Add(30 * 24 * time.Hour)
	rec := issuer.ActiveSubscription("premium.monthly", expires)
	led.SetPurchase(func(_ context.Context, _ string) (ledger.PurchaseResult, error) {
		return ledger.PurchaseResult{Outcome: ledger.OutcomeSuccess, Record: &rec}, nil
	})
	led.SetEntitlements(rec)

	code, body := doJSON(t, r, http.MethodPost, "/entitlement/purchase")
	if code != http.StatusOK {
		t.Fatalf("status code = %d, want 200 (%v)", code, body)
	}
	snap, _ := body["snapshot"].(map[string]any)
	if snap["status"] != string(entitlement.StatusEntitled) {
		t.Errorf("snapshot = %v, want entitled", snap)
	}
}

func TestPurchaseEndpointErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantErr  string
	}{
		{"payment not allowed", ledger.ErrPaymentNotAllowed, http.StatusForbidden, "payment_not_allowed"},
		{"network", ledger.ErrNetwork, http.StatusBadGateway, "network_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, eng, led, _, ids := newTestRouter(t)
			ids.SetUser(identity.Identity{UserID: "user-a"})
			if err := eng.Start(context.Background()); err != nil {
				t.Fatalf("Start: %v", err)
			}
			t.Cleanup(func() { eng.Close() })
			led.SetPurchase(func(_ context.Context, _ string) (ledger.PurchaseResult, error) {
				return ledger.PurchaseResult{}, tt.err
			})

			code, body := doJSON(t, r, http.MethodPost, "/entitlement/purchase")
			if code != tt.wantCode {
				t.Errorf("status code = %d, want %d", code, tt.wantCode)
			}
			if body["error"] != tt.wantErr {
				t.Errorf("error = %v, want %q", body["error"], tt.wantErr)
			}
		})
	}
}

func TestPurchaseEndpointUserCancelled(t *testing.T) {
	r, eng, led, _, ids := newTestRouter(t)
	ids.SetUser(identity.Identity{UserID: "user-a"})
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { eng.Close() })
	led.SetPurchase(func(_ context.Context, _ string) (ledger.PurchaseResult, error) {
		return ledger.PurchaseResult{Outcome: ledger.OutcomeUserCancelled}, nil
	})

	code, body := doJSON(t, r, http.MethodPost, "/entitlement/purchase")
	if code != http.StatusOK {
		t.Errorf("status code = %d, want 200 for a cancellation", code)
	}
	if body["error"] != "user_cancelled" {
		t.Errorf("error = %v, want user_cancelled", body["error"])
	}
}

func TestTrialEndpoint(t *testing.T) {
	r, _, _, _, _ := newTestRouter(t)

	code, body := doJSON(t, r, http.MethodPost, "/entitlement/trial")
	if code != http.StatusOK {
		t.Fatalf("status code = %d, want 200 (%v)", code, body)
	}
	if body["trial_ends_at"] == nil {
		t.Error("trial_ends_at missing")
	}

	code, body = doJSON(t, r, http.MethodPost, "/entitlement/trial")
	if code != http.StatusConflict {
		t.Errorf("second trial status code = %d, want 409", code)
	}
	if body["error"] != "trial_already_used" {
		t.Errorf("error = %v, want trial_already_used", body["error"])
	}
}
