package enttest

import (
	"context"
	"errors"
	"sync"

	"github.com/open-rails/entitlementkit/account"
	"github.com/open-rails/entitlementkit/identity"
	"github.com/open-rails/entitlementkit/ledger"
)

// FakeLedger is a scriptable platform purchase ledger.
type FakeLedger struct {
	mu           sync.Mutex
	products     []ledger.Product
	entitlements []ledger.SignedRecord
	scanErr      error
	purchaseFn   func(ctx context.Context, productID string) (ledger.PurchaseResult, error)
	restoreErr   error
	finished     map[string]int
	updates      chan ledger.SignedRecord
}

// NewFakeLedger starts with one product, "premium.monthly", and no
// entitlements.
func NewFakeLedger() *FakeLedger {
	return &FakeLedger{
		products: []ledger.Product{{
			ID:           "premium.monthly",
			DisplayName:  "Premium Monthly",
			DisplayPrice: "$9.99",
		}},
		finished: make(map[string]int),
		updates:  make(chan ledger.SignedRecord, 16),
	}
}

// SetEntitlements replaces the current verified-entitlement scan result.
func (f *FakeLedger) SetEntitlements(recs ...ledger.SignedRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entitlements = recs
}

// SetScanErr makes CurrentEntitlements fail until cleared.
func (f *FakeLedger) SetScanErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scanErr = err
}

// SetPurchase scripts the purchase flow.
func (f *FakeLedger) SetPurchase(fn func(ctx context.Context, productID string) (ledger.PurchaseResult, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purchaseFn = fn
}

// SetRestoreErr makes Restore fail until cleared.
func (f *FakeLedger) SetRestoreErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restoreErr = err
}

// PushUpdate delivers a record on the transaction-update feed.
func (f *FakeLedger) PushUpdate(rec ledger.SignedRecord) { f.updates <- rec }

// FinishCount reports how many times id was finished.
func (f *FakeLedger) FinishCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.finished[id]
}

func (f *FakeLedger) Products(_ context.Context, ids []string) ([]ledger.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ledger.Product
	for _, p := range f.products {
		for _, id := range ids {
			if p.ID == id {
				out = append(out, p)
			}
		}
	}
	return out, nil
}

func (f *FakeLedger) CurrentEntitlements(_ context.Context) ([]ledger.SignedRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.scanErr != nil {
		return nil, f.scanErr
	}
	out := make([]ledger.SignedRecord, len(f.entitlements))
	copy(out, f.entitlements)
	return out, nil
}

func (f *FakeLedger) Purchase(ctx context.Context, productID string) (ledger.PurchaseResult, error) {
	f.mu.Lock()
	fn := f.purchaseFn
	f.mu.Unlock()
	if fn == nil {
		return ledger.PurchaseResult{}, ledger.ErrProductNotFound
	}
	return fn(ctx, productID)
}

func (f *FakeLedger) Restore(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.restoreErr
}

func (f *FakeLedger) Updates() <-chan ledger.SignedRecord { return f.updates }

func (f *FakeLedger) Finish(_ context.Context, transactionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished[transactionID]++
	return nil
}

var _ ledger.Ledger = (*FakeLedger)(nil)

// FakeIdentity is a scriptable identity provider.
type FakeIdentity struct {
	mu       sync.Mutex
	cur      identity.Identity
	signedIn bool
	nextAnon int
	changes  chan identity.Identity
}

func NewFakeIdentity() *FakeIdentity {
	return &FakeIdentity{changes: make(chan identity.Identity, 16)}
}

// SetUser signs in the given identity and emits a change.
func (f *FakeIdentity) SetUser(id identity.Identity) {
	f.mu.Lock()
	f.cur = id
	f.signedIn = id.UserID != ""
	f.mu.Unlock()
	f.emit(id)
}

func (f *FakeIdentity) Current(_ context.Context) (identity.Identity, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cur, f.signedIn
}

func (f *FakeIdentity) Changes() <-chan identity.Identity { return f.changes }

func (f *FakeIdentity) SignInAnonymously(_ context.Context) (identity.Identity, error) {
	f.mu.Lock()
	f.nextAnon++
	id := identity.Identity{UserID: "anon-" + itoa(f.nextAnon), Anonymous: true}
	f.cur = id
	f.signedIn = true
	f.mu.Unlock()
	f.emit(id)
	return id, nil
}

func (f *FakeIdentity) SignOut(_ context.Context) error {
	f.mu.Lock()
	f.cur = identity.Identity{}
	f.signedIn = false
	f.mu.Unlock()
	f.emit(identity.Identity{})
	return nil
}

func (f *FakeIdentity) emit(id identity.Identity) {
	select {
	case f.changes <- id:
	default:
	}
}

var _ identity.Provider = (*FakeIdentity)(nil)

// ErrNoPlan is returned by FakeAccount.Plan for unknown users.
var ErrNoPlan = errors.New("enttest: no plan recorded")

// Push is one recorded plan push.
type Push struct {
	UserID string
	Snap   account.PlanSnapshot
}

// FakeAccount is a scriptable remote account service.
type FakeAccount struct {
	mu            sync.Mutex
	Blocked       bool
	RegisterErr   error
	SyncErr       error
	plans         map[string]account.PlanDoc
	syncs         []Push
	profiles      []account.Profile
	registrations []string
}

func NewFakeAccount() *FakeAccount {
	return &FakeAccount{plans: make(map[string]account.PlanDoc)}
}

func (f *FakeAccount) RegisterDevice(_ context.Context, deviceID, userID string) (account.RegisterResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.RegisterErr != nil {
		return account.RegisterResult{}, f.RegisterErr
	}
	f.registrations = append(f.registrations, deviceID+":"+userID)
	return account.RegisterResult{IsBlocked: f.Blocked}, nil
}

func (f *FakeAccount) SyncPlan(_ context.Context, userID string, snap account.PlanSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SyncErr != nil {
		return f.SyncErr
	}
	f.syncs = append(f.syncs, Push{UserID: userID, Snap: snap})
	return nil
}

func (f *FakeAccount) Plan(_ context.Context, userID string) (account.PlanDoc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.plans[userID]
	if !ok {
		return account.PlanDoc{}, ErrNoPlan
	}
	return doc, nil
}

func (f *FakeAccount) PutProfile(_ context.Context, p account.Profile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles = append(f.profiles, p)
	return nil
}

// SetPlan scripts the plan document read for userID.
func (f *FakeAccount) SetPlan(userID string, doc account.PlanDoc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plans[userID] = doc
}

// Syncs returns the recorded plan pushes.
func (f *FakeAccount) Syncs() []Push {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Push, len(f.syncs))
	copy(out, f.syncs)
	return out
}

// Profiles returns the recorded profile writes.
func (f *FakeAccount) Profiles() []account.Profile {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]account.Profile, len(f.profiles))
	copy(out, f.profiles)
	return out
}

// Registrations returns "device:user" pairs in call order.
func (f *FakeAccount) Registrations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.registrations))
	copy(out, f.registrations)
	return out
}

var (
	_ account.DeviceRegistrar = (*FakeAccount)(nil)
	_ account.PlanSyncer      = (*FakeAccount)(nil)
	_ account.PlanReader      = (*FakeAccount)(nil)
	_ account.ProfileWriter   = (*FakeAccount)(nil)
)

// SyncPusher adapts a PlanSyncer into a synchronous pusher for tests:
// pushes deliver inline, so assertions see them immediately.
type SyncPusher struct {
	Syncer account.PlanSyncer
}

func (p *SyncPusher) Push(ctx context.Context, userID string, snap account.PlanSnapshot) {
	_ = p.Syncer.SyncPlan(ctx, userID, snap)
}
