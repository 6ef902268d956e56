// Package account is the client side of the remote account service:
// callable endpoints for device registration, plan sync, and the plan
// document read. All calls carry bounded timeouts; callers decide
// whether a failure is fatal (it usually is not).
package account

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

// Client talks to the remote account service.
type Client struct {
	http *resty.Client
	log  logrus.FieldLogger
}

// Opt configures a Client.
type Opt func(*Client)

// WithTimeout bounds each call. Default 10s.
func WithTimeout(d time.Duration) Opt {
	return func(c *Client) {
		if d > 0 {
			c.http.SetTimeout(d)
		}
	}
}

// WithLogger sets the logger. Default is the logrus standard logger.
func WithLogger(log logrus.FieldLogger) Opt {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// WithAuthToken attaches a bearer token to every call.
func WithAuthToken(token string) Opt {
	return func(c *Client) {
		if token != "" {
			c.http.SetAuthToken(token)
		}
	}
}

// NewClient builds a client for the service at baseURL.
func NewClient(baseURL string, opts ...Opt) *Client {
	c := &Client{
		http: resty.New().SetBaseURL(baseURL).SetTimeout(10 * time.Second),
		log:  logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RegisterDevice registers the device against the active account and
// returns the backend's block verdict.
func (c *Client) RegisterDevice(ctx context.Context, deviceID, userID string) (RegisterResult, error) {
	var out RegisterResult
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"deviceID": deviceID, "userID": userID}).
		SetResult(&out).
		Post("/registerDevice")
	if err != nil {
		return RegisterResult{}, fmt.Errorf("account: registerDevice: %w", err)
	}
	if resp.IsError() {
		return RegisterResult{}, fmt.Errorf("account: registerDevice: status %d", resp.StatusCode())
	}
	return out, nil
}

type syncPlanResponse struct {
	Success bool `json:"success"`
}

// SyncPlan pushes the plan snapshot for userID. A response with
// success=false is reported as an error so queue workers retry it.
func (c *Client) SyncPlan(ctx context.Context, userID string, snap PlanSnapshot) error {
	var out syncPlanResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"userID":         userID,
			"isPremium":      snap.IsPremium,
			"expirationDate": snap.ExpirationEpochMillis,
		}).
		SetResult(&out).
		Post("/syncUserPlan")
	if err != nil {
		return fmt.Errorf("account: syncUserPlan: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("account: syncUserPlan: status %d", resp.StatusCode())
	}
	if !out.Success {
		return fmt.Errorf("account: syncUserPlan: backend reported failure")
	}
	return nil
}

// Plan reads the backend's recorded plan for userID.
func (c *Client) Plan(ctx context.Context, userID string) (PlanDoc, error) {
	var out PlanDoc
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("userID", userID).
		SetResult(&out).
		Get("/users/{userID}/plan")
	if err != nil {
		return PlanDoc{}, fmt.Errorf("account: plan read: %w", err)
	}
	if resp.IsError() {
		return PlanDoc{}, fmt.Errorf("account: plan read: status %d", resp.StatusCode())
	}
	return out, nil
}

// PutProfile creates or merges the user document.
func (c *Client) PutProfile(ctx context.Context, p Profile) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(p).
		SetPathParam("userID", p.UserID).
		Put("/users/{userID}")
	if err != nil {
		return fmt.Errorf("account: put profile: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("account: put profile: status %d", resp.StatusCode())
	}
	return nil
}

var (
	_ DeviceRegistrar = (*Client)(nil)
	_ PlanSyncer      = (*Client)(nil)
	_ PlanReader      = (*Client)(nil)
	_ ProfileWriter   = (*Client)(nil)
)
