package account

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRegisterDevice(t *testing.T) {
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/registerDevice" || r.Method != http.MethodPost {
			t.Errorf("request = %s %s, want POST /registerDevice", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]bool{"isBlocked": true})
	}))
	defer srv.Close()

	res, err := NewClient(srv.URL).RegisterDevice(context.Background(), "dev-1", "user-a")
	if err != nil {
		t.Fatalf("RegisterDevice: %v", err)
	}
	if !res.IsBlocked {
		t.Error("IsBlocked = false, want true")
	}
	if gotBody["deviceID"] != "dev-1" || gotBody["userID"] != "user-a" {
		t.Errorf("body = %v, want deviceID/userID pair", gotBody)
	}
}

func TestRegisterDeviceServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, err := NewClient(srv.URL).RegisterDevice(context.Background(), "dev-1", "user-a"); err == nil {
		t.Error("RegisterDevice swallowed a 500")
	}
}

func TestSyncPlan(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/syncUserPlan" {
			t.Errorf("path = %s, want /syncUserPlan", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]bool{"success": true})
	}))
	defer srv.Close()

	ms := time.Now().Add(30 * 24 * time.Hour).UnixMilli()
	err := NewClient(srv.URL).SyncPlan(context.Background(), "user-a", PlanSnapshot{
		IsPremium:             true,
		ExpirationEpochMillis: &ms,
	})
	if err != nil {
		t.Fatalf("SyncPlan: %v", err)
	}
	if gotBody["userID"] != "user-a" || gotBody["isPremium"] != true {
		t.Errorf("body = %v", gotBody)
	}
	if got, ok := gotBody["expirationDate"].(float64); !ok || int64(got) != ms {
		t.Errorf("expirationDate = %v, want %d", gotBody["expirationDate"], ms)
	}
}

func TestSyncPlanBackendFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]bool{"success": false})
	}))
	defer srv.Close()

	// success=false must error so queue workers retry.
	if err := NewClient(srv.URL).SyncPlan(context.Background(), "user-a", PlanSnapshot{}); err == nil {
		t.Error("SyncPlan accepted success=false")
	}
}

func TestPlan(t *testing.T) {
	lastSync := time.Now().Add(-2 * 24 * time.Hour).UTC().Truncate(time.Second)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/user-a/plan" {
			t.Errorf("path = %s, want /users/user-a/plan", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"plan":         "premium",
			"lastSyncDate": lastSync.Format(time.RFC3339),
		})
	}))
	defer srv.Close()

	doc, err := NewClient(srv.URL).Plan(context.Background(), "user-a")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if doc.Plan != "premium" {
		t.Errorf("plan = %q, want %q", doc.Plan, "premium")
	}
	if !doc.LastSyncDate.Equal(lastSync) {
		t.Errorf("lastSyncDate = %v, want %v", doc.LastSyncDate, lastSync)
	}
}

func TestPlanNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	if _, err := NewClient(srv.URL).Plan(context.Background(), "ghost"); err == nil {
		t.Error("Plan swallowed a 404")
	}
}

func TestPutProfile(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.Method + " " + r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
	}))
	defer srv.Close()

	err := NewClient(srv.URL).PutProfile(context.Background(), Profile{
		UserID:          "user-a",
		Plan:            "free",
		TokensRemaining: 2500,
	})
	if err != nil {
		t.Fatalf("PutProfile: %v", err)
	}
	if gotPath != "PUT /users/user-a" {
		t.Errorf("request = %q, want PUT /users/user-a", gotPath)
	}
	if gotBody["plan"] != "free" {
		t.Errorf("body = %v", gotBody)
	}
}

func TestWithAuthToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]bool{"isBlocked": false})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithAuthToken("tok-123"), WithTimeout(time.Second))
	if _, err := c.RegisterDevice(context.Background(), "dev-1", "user-a"); err != nil {
		t.Fatalf("RegisterDevice: %v", err)
	}
	if gotAuth != "Bearer tok-123" {
		t.Errorf("Authorization = %q, want Bearer tok-123", gotAuth)
	}
}
