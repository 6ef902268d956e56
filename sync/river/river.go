// Package riversync is the durable remote-sync bridge for server
// deployments: plan pushes become river jobs in Postgres, so retries
// survive process restarts and backoff is handled by the queue.
package riversync

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/sirupsen/logrus"

	"github.com/open-rails/entitlementkit/account"
)

// QueueName is the river queue plan pushes run on.
const QueueName = "plan_sync"

// PlanSyncArgs is the job payload.
type PlanSyncArgs struct {
	UserID   string               `json:"user_id"`
	Snapshot account.PlanSnapshot `json:"snapshot"`
}

func (PlanSyncArgs) Kind() string { return "entitlement_plan_sync" }

func (PlanSyncArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{Queue: QueueName, MaxAttempts: 8}
}

// PlanSyncWorker delivers one push. River owns the retry/backoff
// schedule; a returned error means "retry later".
type PlanSyncWorker struct {
	river.WorkerDefaults[PlanSyncArgs]
	Syncer account.PlanSyncer
}

func (w *PlanSyncWorker) Work(ctx context.Context, job *river.Job[PlanSyncArgs]) error {
	return w.Syncer.SyncPlan(ctx, job.Args.UserID, job.Args.Snapshot)
}

// NewClient builds a river client wired with the plan-sync worker. The
// caller starts and stops it alongside the rest of the process.
func NewClient(pool *pgxpool.Pool, syncer account.PlanSyncer) (*river.Client[pgx.Tx], error) {
	workers := river.NewWorkers()
	river.AddWorker(workers, &PlanSyncWorker{Syncer: syncer})
	return river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			QueueName: {MaxWorkers: 2},
		},
		Workers: workers,
	})
}

// Pusher inserts plan-sync jobs. Insert failures are logged and
// swallowed: sync is advisory and never fails the caller's operation.
type Pusher struct {
	client *river.Client[pgx.Tx]
	log    logrus.FieldLogger
}

// NewPusher wraps a started river client.
func NewPusher(client *river.Client[pgx.Tx], log logrus.FieldLogger) *Pusher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Pusher{client: client, log: log}
}

// Push enqueues one plan push.
func (p *Pusher) Push(ctx context.Context, userID string, snap account.PlanSnapshot) {
	if p == nil || p.client == nil {
		return
	}
	if _, err := p.client.Insert(ctx, PlanSyncArgs{UserID: userID, Snapshot: snap}, nil); err != nil {
		p.log.WithError(err).WithField("user_id", userID).Warn("failed to enqueue plan sync")
	}
}
