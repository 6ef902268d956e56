// Package pgstore persists device state in Postgres. One row per
// device; see migrations/postgres for the schema.
package pgstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/open-rails/entitlementkit/trial"
)

// Store provides device-state reads/mutations against the
// entitlements schema.
type Store struct {
	pg     *pgxpool.Pool
	schema string
}

// New builds a store. schema defaults to "entitlements".
func New(pg *pgxpool.Pool, schema string) *Store {
	s := strings.TrimSpace(schema)
	if s == "" {
		s = "entitlements"
	}
	return &Store{pg: pg, schema: s}
}

func (s *Store) table() string { return s.schema + ".device_state" }

// ensure upserts the device row so later partial updates always have a
// target.
func (s *Store) ensure(ctx context.Context, deviceID string) error {
	_, err := s.pg.Exec(ctx, `INSERT INTO `+s.table()+` (device_id) VALUES ($1) ON CONFLICT (device_id) DO NOTHING`, deviceID)
	return err
}

func (s *Store) TrialRecord(ctx context.Context, deviceID string) (trial.Record, bool, error) {
	if s.pg == nil {
		return trial.Record{}, false, nil
	}
	var consumed bool
	var endsAt *time.Time
	err := s.pg.QueryRow(ctx, `SELECT trial_consumed, trial_ends_at FROM `+s.table()+` WHERE device_id=$1`, deviceID).
		Scan(&consumed, &endsAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return trial.Record{}, false, nil
	}
	if err != nil {
		return trial.Record{}, false, err
	}
	if !consumed {
		return trial.Record{}, false, nil
	}
	rec := trial.Record{Consumed: true}
	if endsAt != nil {
		rec.EndsAt = *endsAt
	}
	return rec, true, nil
}

func (s *Store) PutTrialRecord(ctx context.Context, deviceID string, rec trial.Record) error {
	if s.pg == nil {
		return nil
	}
	if err := s.ensure(ctx, deviceID); err != nil {
		return err
	}
	_, err := s.pg.Exec(ctx, `UPDATE `+s.table()+` SET trial_consumed=$2, trial_ends_at=$3, updated_at=NOW() WHERE device_id=$1`,
		deviceID, rec.Consumed, rec.EndsAt)
	return err
}

func (s *Store) Quarantine(ctx context.Context, deviceID string) (time.Time, bool, error) {
	if s.pg == nil {
		return time.Time{}, false, nil
	}
	var at *time.Time
	err := s.pg.QueryRow(ctx, `SELECT quarantined_at FROM `+s.table()+` WHERE device_id=$1`, deviceID).Scan(&at)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && at == nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return *at, true, nil
}

func (s *Store) SetQuarantine(ctx context.Context, deviceID string, at time.Time) error {
	if s.pg == nil {
		return nil
	}
	if err := s.ensure(ctx, deviceID); err != nil {
		return err
	}
	_, err := s.pg.Exec(ctx, `UPDATE `+s.table()+` SET quarantined_at=$2, updated_at=NOW() WHERE device_id=$1`, deviceID, at)
	return err
}

func (s *Store) ClearQuarantine(ctx context.Context, deviceID string) error {
	if s.pg == nil {
		return nil
	}
	_, err := s.pg.Exec(ctx, `UPDATE `+s.table()+` SET quarantined_at=NULL, updated_at=NOW() WHERE device_id=$1`, deviceID)
	return err
}

func (s *Store) LastUserID(ctx context.Context, deviceID string) (string, error) {
	if s.pg == nil {
		return "", nil
	}
	var userID *string
	err := s.pg.QueryRow(ctx, `SELECT last_user_id FROM `+s.table()+` WHERE device_id=$1`, deviceID).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if userID == nil {
		return "", nil
	}
	return *userID, nil
}

func (s *Store) SetLastUserID(ctx context.Context, deviceID, userID string) error {
	if s.pg == nil {
		return nil
	}
	if err := s.ensure(ctx, deviceID); err != nil {
		return err
	}
	_, err := s.pg.Exec(ctx, `UPDATE `+s.table()+` SET last_user_id=$2, updated_at=NOW() WHERE device_id=$1`, deviceID, userID)
	return err
}

func (s *Store) DeviceBlocked(ctx context.Context, deviceID string) (bool, error) {
	if s.pg == nil {
		return false, nil
	}
	var blocked bool
	err := s.pg.QueryRow(ctx, `SELECT blocked FROM `+s.table()+` WHERE device_id=$1`, deviceID).Scan(&blocked)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return blocked, nil
}

func (s *Store) SetDeviceBlocked(ctx context.Context, deviceID string, blocked bool) error {
	if s.pg == nil {
		return nil
	}
	if err := s.ensure(ctx, deviceID); err != nil {
		return err
	}
	_, err := s.pg.Exec(ctx, `UPDATE `+s.table()+` SET blocked=$2, updated_at=NOW() WHERE device_id=$1`, deviceID, blocked)
	return err
}
