package account

import (
	"context"
	"time"
)

// RegisterResult is the backend's verdict on a device registration.
type RegisterResult struct {
	IsBlocked bool `json:"isBlocked"`
}

// PlanSnapshot is the push-only projection of local entitlement truth.
// The backend is told, not negotiated with.
type PlanSnapshot struct {
	IsPremium             bool   `json:"isPremium"`
	ExpirationEpochMillis *int64 `json:"expirationDate,omitempty"`
}

// PlanDoc is the backend's recorded view of a user's plan, read only
// for grace-period evaluation.
type PlanDoc struct {
	Plan         string    `json:"plan"`
	LastSyncDate time.Time `json:"lastSyncDate"`
}

// Profile initializes the backend's user document at sign-in or trial
// start. Field names match the backend's callable contract.
type Profile struct {
	UserID          string     `json:"id"`
	Email           string     `json:"email,omitempty"`
	AuthMethod      string     `json:"authMethod"`
	DeviceID        string     `json:"deviceID"`
	Plan            string     `json:"plan"`
	TokensRemaining int        `json:"tokensRemaining"`
	ResetAt         time.Time  `json:"resetAt"`
	IsAnonymous     bool       `json:"isAnonymous"`
	TrialEndDate    *time.Time `json:"trialEndDate,omitempty"`
}

// DeviceRegistrar registers a device against the active account.
type DeviceRegistrar interface {
	RegisterDevice(ctx context.Context, deviceID, userID string) (RegisterResult, error)
}

// PlanSyncer pushes a plan snapshot for a user.
type PlanSyncer interface {
	SyncPlan(ctx context.Context, userID string, snap PlanSnapshot) error
}

// PlanReader reads back the recorded plan for grace-period evaluation.
type PlanReader interface {
	Plan(ctx context.Context, userID string) (PlanDoc, error)
}

// ProfileWriter creates or merges the backend user document.
type ProfileWriter interface {
	PutProfile(ctx context.Context, p Profile) error
}
