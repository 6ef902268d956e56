// Package memoryqueue is the in-process remote-sync bridge: a bounded
// work queue with a single worker that retries on a backoff schedule
// but never blocks the caller and never fails the caller's operation.
package memoryqueue

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/open-rails/entitlementkit/account"
)

// Config tunes the queue. Zero values get defaults.
type Config struct {
	// Capacity bounds the queue. When full the oldest pending job is
	// dropped: a newer snapshot for the same user supersedes it anyway,
	// and the next ledger re-scan bounds the staleness. Default 32.
	Capacity int
	// MaxAttempts per job. Default 5.
	MaxAttempts int
	// BaseBackoff is doubled per failed attempt. Default 2s.
	BaseBackoff time.Duration
	// CallTimeout bounds one delivery attempt. Default 10s.
	CallTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Capacity <= 0 {
		c.Capacity = 32
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 2 * time.Second
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 10 * time.Second
	}
}

type job struct {
	userID string
	snap   account.PlanSnapshot
}

// Queue delivers plan snapshots to the account service, best-effort,
// at-least-once per accepted job.
type Queue struct {
	cfg    Config
	syncer account.PlanSyncer
	log    logrus.FieldLogger

	mu      sync.Mutex
	pending []job
	wake    chan struct{}
	closed  bool

	done chan struct{}
	wg   sync.WaitGroup
}

// New builds and starts a queue delivering through syncer.
func New(syncer account.PlanSyncer, cfg Config, log logrus.FieldLogger) *Queue {
	cfg.applyDefaults()
	if log == nil {
		log = logrus.StandardLogger()
	}
	q := &Queue{
		cfg:    cfg,
		syncer: syncer,
		log:    log,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	q.wg.Add(1)
	go q.run()
	return q
}

// Push enqueues a snapshot. Never blocks; a full queue sheds its oldest
// entry. Pushes after Close are dropped with a log line.
func (q *Queue) Push(_ context.Context, userID string, snap account.PlanSnapshot) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.log.WithField("user_id", userID).Warn("sync queue closed; dropping push")
		return
	}
	if len(q.pending) >= q.cfg.Capacity {
		dropped := q.pending[0]
		q.pending = q.pending[1:]
		q.log.WithField("user_id", dropped.userID).Warn("sync queue full; dropping oldest push")
	}
	q.pending = append(q.pending, job{userID: userID, snap: snap})
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Close stops the worker after the in-flight attempt. Queued jobs that
// were never attempted are dropped; the next re-scan regenerates them.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()
	close(q.done)
	q.wg.Wait()
	return nil
}

func (q *Queue) run() {
	defer q.wg.Done()
	for {
		j, ok := q.next()
		if !ok {
			select {
			case <-q.wake:
				continue
			case <-q.done:
				return
			}
		}
		q.deliver(j)
	}
}

func (q *Queue) next() (job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return job{}, false
	}
	j := q.pending[0]
	q.pending = q.pending[1:]
	return j, true
}

// deliver tries one job to exhaustion. Failure after the last attempt
// is swallowed: sync is an advisory side channel, and the staleness
// window is bounded by the next ledger re-scan.
func (q *Queue) deliver(j job) {
	backoff := q.cfg.BaseBackoff
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), q.cfg.CallTimeout)
		err := q.syncer.SyncPlan(ctx, j.userID, j.snap)
		cancel()
		if err == nil {
			return
		}
		if attempt >= q.cfg.MaxAttempts {
			q.log.WithError(err).WithField("user_id", j.userID).
				Warn("plan sync abandoned after retries")
			return
		}
		q.log.WithError(err).WithField("attempt", attempt).Debug("plan sync retry")
		select {
		case <-time.After(backoff):
		case <-q.done:
			return
		}
		backoff *= 2
	}
}
