// Package entitlement owns the entitlement state machine: the single
// authoritative status, the transaction-update listener that feeds it,
// identity resets, and the operations the UI layer invokes. It
// reconciles the platform purchase ledger (authority for what was
// paid), the remote account service (authority for what the rest of
// the product honors), and the active identity.
package entitlement

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/open-rails/entitlementkit/account"
	"github.com/open-rails/entitlementkit/identity"
	"github.com/open-rails/entitlementkit/ledger"
	"github.com/open-rails/entitlementkit/throttle"
	"github.com/open-rails/entitlementkit/trial"
	verifykit "github.com/open-rails/entitlementkit/verify"
)

// Deps are the engine's collaborators. Ledger, Verifier, and Identity
// are required; everything else degrades gracefully when nil (no sync
// pushes, no grace reads, no trial gate, no throttle).
type Deps struct {
	Ledger   ledger.Ledger
	Verifier *verifykit.Verifier
	Identity identity.Provider

	Store    StateStore
	Pusher   PlanPusher
	Plans    account.PlanReader
	Profiles account.ProfileWriter
	Throttle *throttle.Gate
	Trials   *trial.Gate

	Log logrus.FieldLogger
}

type pushKey struct {
	userID    string
	isPremium bool
	expiresMs int64
}

// Engine is the reconciliation engine. Create with New, start with
// Start, and Close on teardown to join the background tasks.
type Engine struct {
	cfg Config

	ledger   ledger.Ledger
	verifier *verifykit.Verifier
	ids      identity.Provider
	store    StateStore
	pusher   PlanPusher
	plans    account.PlanReader
	profiles account.ProfileWriter
	throttle *throttle.Gate
	trials   *trial.Gate
	log      logrus.FieldLogger
	now      func() time.Time

	// evalMu is the single-writer funnel: every status mutation happens
	// under it, so concurrent re-evaluation triggers serialize and the
	// last full re-scan wins.
	evalMu   sync.Mutex
	lastPush *pushKey

	stateMu        sync.RWMutex
	snap           Snapshot
	sessionBlocked bool
	product        *ledger.Product
	subs           map[int]chan Snapshot
	nextSub        int

	cron   *cron.Cron
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds an engine. It does not start background work.
func New(cfg Config, deps Deps) (*Engine, error) {
	cfg.applyDefaults()
	if cfg.DeviceID == "" {
		return nil, errors.New("entitlement: missing device id")
	}
	if deps.Ledger == nil {
		return nil, errors.New("entitlement: missing ledger")
	}
	if deps.Verifier == nil {
		return nil, errors.New("entitlement: missing verifier")
	}
	if deps.Identity == nil {
		return nil, errors.New("entitlement: missing identity provider")
	}
	log := deps.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Engine{
		cfg:      cfg,
		ledger:   deps.Ledger,
		verifier: deps.Verifier,
		ids:      deps.Identity,
		store:    deps.Store,
		pusher:   deps.Pusher,
		plans:    deps.Plans,
		profiles: deps.Profiles,
		throttle: deps.Throttle,
		trials:   deps.Trials,
		log:      log,
		now:      time.Now,
		snap:     Snapshot{Status: StatusLoading},
		subs:     make(map[int]chan Snapshot),
	}, nil
}

// Start loads the product catalog, starts the transaction listener and
// identity watcher, and runs the initial re-evaluation. The background
// tasks live until Close (or until ctx is cancelled).
func (e *Engine) Start(ctx context.Context) error {
	if ps, err := e.ledger.Products(ctx, []string{e.cfg.ProductID}); err != nil {
		// Absorbed: purchase() fails fast with ProductNotFound until a
		// later load succeeds.
		e.log.WithError(err).Warn("product load failed")
	} else if len(ps) > 0 {
		e.stateMu.Lock()
		e.product = &ps[0]
		e.stateMu.Unlock()
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.wg.Add(2)
	go e.runListener(runCtx)
	go e.runIdentityWatcher(runCtx)

	if e.cfg.RescanSchedule != "" {
		c := cron.New()
		if _, err := c.AddFunc(e.cfg.RescanSchedule, func() {
			e.Reevaluate(context.Background())
		}); err != nil {
			cancel()
			e.wg.Wait()
			return err
		}
		c.Start()
		e.cron = c
	}

	e.Reevaluate(ctx)
	return nil
}

// Close cancels and joins the background tasks.
func (e *Engine) Close() error {
	if e.cancel != nil {
		e.cancel()
	}
	if e.cron != nil {
		<-e.cron.Stop().Done()
	}
	e.wg.Wait()
	return nil
}

// Snapshot returns the current status and expiration as one consistent
// read. Safe from any goroutine.
func (e *Engine) Snapshot() Snapshot {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.snap
}

// IsEntitled reports whether paid features should be gated open.
func (e *Engine) IsEntitled() bool { return e.Snapshot().Entitled() }

// Subscribe registers an observer. The channel is primed with the
// current snapshot and then receives the latest snapshot after each
// change; intermediate values may be dropped (latest wins). The
// returned cancel func must be called to release the subscription.
func (e *Engine) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	e.stateMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch
	ch <- e.snap
	e.stateMu.Unlock()

	cancel := func() {
		e.stateMu.Lock()
		if c, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(c)
		}
		e.stateMu.Unlock()
	}
	return ch, cancel
}

// setSnapshot publishes a new state. Callers hold evalMu.
func (e *Engine) setSnapshot(status Status, expiration *time.Time) {
	e.stateMu.Lock()
	prev := e.snap.Status
	if !CanTransition(prev, status) {
		e.log.WithFields(logrus.Fields{"from": prev, "to": status}).
			Warn("unexpected status transition")
	}
	e.snap = Snapshot{Status: status, ExpirationDate: expiration}
	snap := e.snap
	for _, ch := range e.subs {
		// Replace a stale pending value rather than blocking.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
	e.stateMu.Unlock()
}

func (e *Engine) setSessionBlocked(blocked bool) {
	e.stateMu.Lock()
	e.sessionBlocked = blocked
	e.stateMu.Unlock()
}

func (e *Engine) isSessionBlocked() bool {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.sessionBlocked
}

func (e *Engine) currentProduct() *ledger.Product {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.product
}
