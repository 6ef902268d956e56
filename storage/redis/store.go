// Package redisstore persists device state in Redis, one hash per
// device. Suited to fleets where engine instances share nothing but a
// cache tier; entries carry no TTL because trial consumption must
// outlive everything else on the device.
package redisstore

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/open-rails/entitlementkit/trial"
)

const (
	fieldTrialConsumed = "trial_consumed"
	fieldTrialEndsAt   = "trial_ends_at"
	fieldQuarantinedAt = "quarantined_at"
	fieldLastUserID    = "last_user_id"
	fieldBlocked       = "blocked"
)

// Store keeps device state in Redis hashes.
type Store struct {
	rdb   *redis.Client
	keyNS string
}

// New builds a store. keyPrefix defaults to "entitlement:device:".
func New(rdb *redis.Client, keyPrefix string) *Store {
	if keyPrefix == "" {
		keyPrefix = "entitlement:device:"
	}
	return &Store{rdb: rdb, keyNS: keyPrefix}
}

func (s *Store) key(deviceID string) string { return s.keyNS + deviceID }

func (s *Store) TrialRecord(ctx context.Context, deviceID string) (trial.Record, bool, error) {
	vals, err := s.rdb.HMGet(ctx, s.key(deviceID), fieldTrialConsumed, fieldTrialEndsAt).Result()
	if err != nil {
		return trial.Record{}, false, err
	}
	consumed, ok := vals[0].(string)
	if !ok || consumed != "1" {
		return trial.Record{}, false, nil
	}
	rec := trial.Record{Consumed: true}
	if raw, ok := vals[1].(string); ok {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
			rec.EndsAt = time.UnixMilli(ms)
		}
	}
	return rec, true, nil
}

func (s *Store) PutTrialRecord(ctx context.Context, deviceID string, rec trial.Record) error {
	consumed := "0"
	if rec.Consumed {
		consumed = "1"
	}
	return s.rdb.HSet(ctx, s.key(deviceID),
		fieldTrialConsumed, consumed,
		fieldTrialEndsAt, strconv.FormatInt(rec.EndsAt.UnixMilli(), 10),
	).Err()
}

func (s *Store) Quarantine(ctx context.Context, deviceID string) (time.Time, bool, error) {
	raw, err := s.rdb.HGet(ctx, s.key(deviceID), fieldQuarantinedAt).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

func (s *Store) SetQuarantine(ctx context.Context, deviceID string, at time.Time) error {
	return s.rdb.HSet(ctx, s.key(deviceID), fieldQuarantinedAt, strconv.FormatInt(at.UnixMilli(), 10)).Err()
}

func (s *Store) ClearQuarantine(ctx context.Context, deviceID string) error {
	return s.rdb.HDel(ctx, s.key(deviceID), fieldQuarantinedAt).Err()
}

func (s *Store) LastUserID(ctx context.Context, deviceID string) (string, error) {
	raw, err := s.rdb.HGet(ctx, s.key(deviceID), fieldLastUserID).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return raw, nil
}

func (s *Store) SetLastUserID(ctx context.Context, deviceID, userID string) error {
	return s.rdb.HSet(ctx, s.key(deviceID), fieldLastUserID, userID).Err()
}

func (s *Store) DeviceBlocked(ctx context.Context, deviceID string) (bool, error) {
	raw, err := s.rdb.HGet(ctx, s.key(deviceID), fieldBlocked).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return raw == "1", nil
}

func (s *Store) SetDeviceBlocked(ctx context.Context, deviceID string, blocked bool) error {
	v := "0"
	if blocked {
		v = "1"
	}
	return s.rdb.HSet(ctx, s.key(deviceID), fieldBlocked, v).Err()
}
