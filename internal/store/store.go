// Package store is the durable pulse queue. It owns the persisted copies of
// raw and aggregated pulses, today's total and the sync status record, and
// applies the merge rules that let several pulse processes share one
// backing kv.Store: identity-keyed clearing, a high-water mark for today's
// total and a day-marker reset on every access.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/coder/quartz"

	"github.com/fakeyudi/pulse/internal/idle"
	"github.com/fakeyudi/pulse/internal/kv"
	"github.com/fakeyudi/pulse/internal/pulse"
)

// Keys in the backing store.
const (
	KeyPendingPulses    = "pending-pulses"
	KeyAggregatedPulses = "aggregated-pulses"
	KeyTodayTotal       = "today-total"
	KeyTodayDate        = "today-date"
	KeyLastSyncTime     = "last-sync-time"
	KeySyncStatus       = "sync-status"
	KeyCredential       = "credential"
)

var allKeys = []string{
	KeyPendingPulses, KeyAggregatedPulses, KeyTodayTotal, KeyTodayDate,
	KeyLastSyncTime, KeySyncStatus, KeyCredential,
}

// APIStatus is the health of the remote backend as last observed.
type APIStatus string

const (
	APIStatusUnknown APIStatus = "unknown"
	APIStatusOK      APIStatus = "ok"
	APIStatusError   APIStatus = "error"
)

// SyncStatus is the persisted record of sync health. Every field is present
// after a read; older shapes missing fields decode to zero values.
type SyncStatus struct {
	LastSyncTime  int64     `json:"lastSyncTime"`
	NextSyncTime  int64     `json:"nextSyncTime"`
	SyncCount     int       `json:"syncCount"`
	IsOnline      bool      `json:"isOnline"`
	APIStatus     APIStatus `json:"apiStatus"`
	PendingPulses int       `json:"pendingPulses"`
	LastError     string    `json:"lastError,omitempty"`
}

// Queue is the durable queue over a kv.Store.
type Queue struct {
	kv    kv.Store
	clock quartz.Clock
}

// New returns a Queue over backend. A nil clock selects the real clock.
func New(backend kv.Store, clock quartz.Clock) *Queue {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Queue{kv: backend, clock: clock}
}

// SavePulses appends pulses to the raw queue with content stripped.
func (q *Queue) SavePulses(ctx context.Context, pulses []pulse.Pulse) error {
	if len(pulses) == 0 {
		return nil
	}
	return q.kv.Update(ctx, func(tx kv.Tx) error {
		var current []pulse.Pulse
		if err := getJSON(tx, KeyPendingPulses, &current); err != nil {
			return err
		}
		next := make([]pulse.Pulse, 0, len(current)+len(pulses))
		next = append(next, current...)
		for _, p := range pulses {
			next = append(next, p.Stripped())
		}
		return setJSON(tx, KeyPendingPulses, next)
	})
}

// SaveAggregatedPulses appends aggregated records to the aggregated queue.
func (q *Queue) SaveAggregatedPulses(ctx context.Context, aggs []pulse.AggregatedPulse) error {
	if len(aggs) == 0 {
		return nil
	}
	return q.kv.Update(ctx, func(tx kv.Tx) error {
		var current []pulse.AggregatedPulse
		if err := getJSON(tx, KeyAggregatedPulses, &current); err != nil {
			return err
		}
		next := make([]pulse.AggregatedPulse, 0, len(current)+len(aggs))
		next = append(next, current...)
		next = append(next, aggs...)
		return setJSON(tx, KeyAggregatedPulses, next)
	})
}

// PendingPulses returns the raw queue, or an empty list.
func (q *Queue) PendingPulses(ctx context.Context) ([]pulse.Pulse, error) {
	out := []pulse.Pulse{}
	if err := q.read(ctx, KeyPendingPulses, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AggregatedPulses returns the aggregated queue, or an empty list.
func (q *Queue) AggregatedPulses(ctx context.Context) ([]pulse.AggregatedPulse, error) {
	out := []pulse.AggregatedPulse{}
	if err := q.read(ctx, KeyAggregatedPulses, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PendingCount is the number of unsynced items across both queues.
func (q *Queue) PendingCount(ctx context.Context) (int, error) {
	raw, err := q.PendingPulses(ctx)
	if err != nil {
		return 0, err
	}
	aggs, err := q.AggregatedPulses(ctx)
	if err != nil {
		return 0, err
	}
	return len(raw) + len(aggs), nil
}

// ClearSyncedPulses removes every queued pulse whose time matches one in
// synced. Matching is by identity, not value.
func (q *Queue) ClearSyncedPulses(ctx context.Context, synced []pulse.Pulse) error {
	if len(synced) == 0 {
		return nil
	}
	keys := make(map[int64]struct{}, len(synced))
	for _, p := range synced {
		keys[p.Time] = struct{}{}
	}
	return q.kv.Update(ctx, func(tx kv.Tx) error {
		var current []pulse.Pulse
		if err := getJSON(tx, KeyPendingPulses, &current); err != nil {
			return err
		}
		kept := make([]pulse.Pulse, 0, len(current))
		for _, p := range current {
			if _, ok := keys[p.Time]; !ok {
				kept = append(kept, p)
			}
		}
		return setJSON(tx, KeyPendingPulses, kept)
	})
}

// ClearSyncedAggregatedPulses removes every aggregated record whose
// start_time matches one in synced.
func (q *Queue) ClearSyncedAggregatedPulses(ctx context.Context, synced []pulse.AggregatedPulse) error {
	if len(synced) == 0 {
		return nil
	}
	keys := make(map[int64]struct{}, len(synced))
	for _, a := range synced {
		keys[a.StartTime] = struct{}{}
	}
	return q.kv.Update(ctx, func(tx kv.Tx) error {
		var current []pulse.AggregatedPulse
		if err := getJSON(tx, KeyAggregatedPulses, &current); err != nil {
			return err
		}
		kept := make([]pulse.AggregatedPulse, 0, len(current))
		for _, a := range current {
			if _, ok := keys[a.StartTime]; !ok {
				kept = append(kept, a)
			}
		}
		return setJSON(tx, KeyAggregatedPulses, kept)
	})
}

// ClearEntries removes the given mixed entries from whichever queue holds
// them.
func (q *Queue) ClearEntries(ctx context.Context, entries []pulse.Entry) error {
	raw, aggs := pulse.Split(entries)
	if err := q.ClearSyncedPulses(ctx, raw); err != nil {
		return fmt.Errorf("clearing synced pulses: %w", err)
	}
	if err := q.ClearSyncedAggregatedPulses(ctx, aggs); err != nil {
		return fmt.Errorf("clearing synced aggregated pulses: %w", err)
	}
	return nil
}

// TodayTotal returns today's stored total, resetting it first if the stored
// day marker is not today.
func (q *Queue) TodayTotal(ctx context.Context) (int64, error) {
	var total int64
	err := q.kv.Update(ctx, func(tx kv.Tx) error {
		var err error
		total, err = q.rollover(tx)
		return err
	})
	return total, err
}

// SaveTodayTotal stores total only if it is strictly greater than the stored
// value, after the day-marker check.
func (q *Queue) SaveTodayTotal(ctx context.Context, total int64) error {
	return q.kv.Update(ctx, func(tx kv.Tx) error {
		current, err := q.rollover(tx)
		if err != nil {
			return err
		}
		if total <= current {
			return nil
		}
		return setJSON(tx, KeyTodayTotal, total)
	})
}

// rollover resets the total when the day marker differs from today and
// returns the (possibly reset) total.
func (q *Queue) rollover(tx kv.Tx) (int64, error) {
	today := idle.Day(q.clock.Now())
	var marker string
	if err := getJSON(tx, KeyTodayDate, &marker); err != nil {
		return 0, err
	}
	if marker != today {
		if err := setJSON(tx, KeyTodayDate, today); err != nil {
			return 0, err
		}
		if err := setJSON(tx, KeyTodayTotal, int64(0)); err != nil {
			return 0, err
		}
		return 0, nil
	}
	var total int64
	if err := getJSON(tx, KeyTodayTotal, &total); err != nil {
		return 0, err
	}
	return total, nil
}

// SyncStatus returns the stored status. A missing record reads as offline
// with an unknown API status.
func (q *Queue) SyncStatus(ctx context.Context) (SyncStatus, error) {
	status := SyncStatus{APIStatus: APIStatusUnknown}
	if err := q.read(ctx, KeySyncStatus, &status); err != nil {
		return SyncStatus{}, err
	}
	if status.APIStatus == "" {
		status.APIStatus = APIStatusUnknown
	}
	return status, nil
}

// UpdateSyncStatus applies fn to the stored status and writes the result.
func (q *Queue) UpdateSyncStatus(ctx context.Context, fn func(*SyncStatus)) error {
	return q.kv.Update(ctx, func(tx kv.Tx) error {
		status := SyncStatus{APIStatus: APIStatusUnknown}
		if err := getJSON(tx, KeySyncStatus, &status); err != nil {
			return err
		}
		before := status.LastSyncTime
		fn(&status)
		if status.APIStatus == "" {
			status.APIStatus = APIStatusUnknown
		}
		if status.LastSyncTime != before {
			if err := setJSON(tx, KeyLastSyncTime, status.LastSyncTime); err != nil {
				return err
			}
		}
		return setJSON(tx, KeySyncStatus, status)
	})
}

// LastSyncTime returns the last successful sync in ms epoch, or 0.
func (q *Queue) LastSyncTime(ctx context.Context) (int64, error) {
	var t int64
	if err := q.read(ctx, KeyLastSyncTime, &t); err != nil {
		return 0, err
	}
	return t, nil
}

// Credential returns the stored credential, or "" if none.
func (q *Queue) Credential(ctx context.Context) (string, error) {
	var c string
	if err := q.read(ctx, KeyCredential, &c); err != nil {
		return "", err
	}
	return c, nil
}

// SaveCredential stores credential.
func (q *Queue) SaveCredential(ctx context.Context, credential string) error {
	raw, err := json.Marshal(credential)
	if err != nil {
		return fmt.Errorf("encoding credential: %w", err)
	}
	return q.kv.Set(ctx, KeyCredential, raw)
}

// ClearAll removes every key pulse owns, including the credential.
func (q *Queue) ClearAll(ctx context.Context) error {
	return q.kv.Update(ctx, func(tx kv.Tx) error {
		for _, k := range allKeys {
			tx.Delete(k)
		}
		return nil
	})
}

func (q *Queue) read(ctx context.Context, key string, v any) error {
	raw, err := q.kv.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decoding %s: %w", key, err)
	}
	return nil
}

func getJSON(tx kv.Tx, key string, v any) error {
	raw, err := tx.Get(key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decoding %s: %w", key, err)
	}
	return nil
}

func setJSON(tx kv.Tx, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	tx.Set(key, raw)
	return nil
}
