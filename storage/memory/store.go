// Package memorystore is an in-memory device-state store for tests and
// single-process use. State does not survive a restart; production
// deployments use the postgres or redis store.
package memorystore

import (
	"context"
	"sync"
	"time"

	"github.com/open-rails/entitlementkit/trial"
)

type deviceState struct {
	trialRec      trial.Record
	trialSet      bool
	quarantinedAt time.Time
	quarantined   bool
	lastUserID    string
	blocked       bool
}

// Store keeps all device state in a map.
type Store struct {
	mu      sync.Mutex
	devices map[string]*deviceState
}

// New creates an empty store.
func New() *Store {
	return &Store{devices: make(map[string]*deviceState)}
}

func (s *Store) get(deviceID string) *deviceState {
	d, ok := s.devices[deviceID]
	if !ok {
		d = &deviceState{}
		s.devices[deviceID] = d
	}
	return d
}

func (s *Store) TrialRecord(_ context.Context, deviceID string) (trial.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[deviceID]
	if !ok || !d.trialSet {
		return trial.Record{}, false, nil
	}
	return d.trialRec, true, nil
}

func (s *Store) PutTrialRecord(_ context.Context, deviceID string, rec trial.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.get(deviceID)
	d.trialRec = rec
	d.trialSet = true
	return nil
}

func (s *Store) Quarantine(_ context.Context, deviceID string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[deviceID]
	if !ok || !d.quarantined {
		return time.Time{}, false, nil
	}
	return d.quarantinedAt, true, nil
}

func (s *Store) SetQuarantine(_ context.Context, deviceID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.get(deviceID)
	d.quarantinedAt = at
	d.quarantined = true
	return nil
}

func (s *Store) ClearQuarantine(_ context.Context, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.devices[deviceID]; ok {
		d.quarantined = false
		d.quarantinedAt = time.Time{}
	}
	return nil
}

func (s *Store) LastUserID(_ context.Context, deviceID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.devices[deviceID]; ok {
		return d.lastUserID, nil
	}
	return "", nil
}

func (s *Store) SetLastUserID(_ context.Context, deviceID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.get(deviceID).lastUserID = userID
	return nil
}

func (s *Store) DeviceBlocked(_ context.Context, deviceID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.devices[deviceID]; ok {
		return d.blocked, nil
	}
	return false, nil
}

func (s *Store) SetDeviceBlocked(_ context.Context, deviceID string, blocked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.get(deviceID).blocked = blocked
	return nil
}
