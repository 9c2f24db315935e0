// Package session provides thin accessors over the local store for
// session-scoped client settings. Absent values always yield defaults,
// never errors.
package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Local-storage keys owned by this package.
const (
	keySessionID    = "session:id"
	keyPWADismissed = "pwa:dismissed_at"
	keyLastLocation = "location:last"
)

// KV is the slice of the local store this package needs.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
}

// Location is the last known device location.
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Manager reads and writes session settings.
type Manager struct {
	kv  KV
	log *slog.Logger
}

// NewManager creates a session manager.
func NewManager(kv KV, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{kv: kv, log: log.With("component", "session.Manager")}
}

// ID returns the persisted session id, creating one on first use. A
// persistence failure still yields a usable (unpersisted) id.
func (m *Manager) ID(ctx context.Context) string {
	blob, ok, err := m.kv.Get(ctx, keySessionID)
	if err == nil && ok {
		var id string
		if json.Unmarshal(blob, &id) == nil && id != "" {
			return id
		}
	}

	id := uuid.NewString()
	if blob, err := json.Marshal(id); err == nil {
		if err := m.kv.Set(ctx, keySessionID, blob); err != nil {
			m.log.Warn("persisting session id", "error", err)
		}
	}
	return id
}

// DismissPWA records that the user dismissed the install prompt.
func (m *Manager) DismissPWA(ctx context.Context) {
	blob, _ := json.Marshal(time.Now())
	if err := m.kv.Set(ctx, keyPWADismissed, blob); err != nil {
		m.log.Warn("persisting pwa dismissal", "error", err)
	}
}

// PWADismissedAt returns when the install prompt was dismissed, if ever.
func (m *Manager) PWADismissedAt(ctx context.Context) (time.Time, bool) {
	blob, ok, err := m.kv.Get(ctx, keyPWADismissed)
	if err != nil || !ok {
		return time.Time{}, false
	}
	var t time.Time
	if json.Unmarshal(blob, &t) != nil || t.IsZero() {
		return time.Time{}, false
	}
	return t, true
}

// SetLastLocation persists the last known device location.
func (m *Manager) SetLastLocation(ctx context.Context, loc Location) {
	blob, _ := json.Marshal(loc)
	if err := m.kv.Set(ctx, keyLastLocation, blob); err != nil {
		m.log.Warn("persisting last location", "error", err)
	}
}

// LastLocation returns the last known device location, if any.
func (m *Manager) LastLocation(ctx context.Context) (Location, bool) {
	blob, ok, err := m.kv.Get(ctx, keyLastLocation)
	if err != nil || !ok {
		return Location{}, false
	}
	var loc Location
	if json.Unmarshal(blob, &loc) != nil {
		return Location{}, false
	}
	return loc, true
}
