// Package devices tracks which room devices are present, fed by live and
// retained messages on devices/+/status.
package devices

import (
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cuebox/cuebox/pkg/jsontime"
)

// Device status values carried on devices/<id>/status.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// DefaultTimeout is how long a device may go without refreshing its online
// status before the registry forces it offline.
const DefaultTimeout = 180 * time.Second

// Device is one presence record.
type Device struct {
	ID          string         `json:"id"`
	Status      string         `json:"status"`
	LastUpdated jsontime.Milli `json:"last_updated"`
}

// Registry keeps device presence with staleness expiry. All methods are safe
// for concurrent use.
type Registry struct {
	timeout time.Duration
	log     *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	records map[string]*Device
}

// NewRegistry returns a registry that forces devices offline after timeout
// without a refresh. A timeout of zero or less means DefaultTimeout.
func NewRegistry(timeout time.Duration, log *slog.Logger) *Registry {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		timeout: timeout,
		log:     log,
		now:     time.Now,
		records: make(map[string]*Device),
	}
}

// UpdateStatus applies a message from a device status topic. A retained
// online is not trusted as presence: it only registers an unknown device as
// offline, so the device shows up in snapshots without counting as
// connected until it reports live. Transitions in either direction are
// logged; refreshes are silent.
func (r *Registry) UpdateStatus(id, status string, retained bool) {
	status = strings.ToLower(strings.TrimSpace(status))
	if status != StatusOnline && status != StatusOffline {
		r.log.Debug("unrecognized device status", "device", id, "status", status)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()

	rec := r.records[id]
	if retained && status == StatusOnline {
		if rec == nil {
			r.records[id] = &Device{ID: id, Status: StatusOffline, LastUpdated: jsontime.Milli(now)}
		}
		return
	}

	if rec == nil {
		rec = &Device{ID: id, Status: StatusOffline}
		r.records[id] = rec
	}
	prev := rec.Status
	rec.Status = status
	rec.LastUpdated = jsontime.Milli(now)

	switch {
	case prev != StatusOnline && status == StatusOnline:
		r.log.Warn("Device connected", "device", id)
	case prev == StatusOnline && status == StatusOffline:
		r.log.Warn("Device disconnected", "device", id)
	}
}

// Connected expires stale records, then returns the online device ids in
// sorted order.
func (r *Registry) Connected() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleanupLocked()

	var ids []string
	for id, rec := range r.records {
		if rec.Status == StatusOnline {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// Cleanup forces devices offline whose online status is older than the
// registry timeout. Each expiry is reported once.
func (r *Registry) Cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleanupLocked()
}

// Snapshot returns a copy of every record, sorted by device id.
func (r *Registry) Snapshot() []Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleanupLocked()

	out := make([]Device, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, *rec)
	}
	slices.SortFunc(out, func(a, b Device) int { return strings.Compare(a.ID, b.ID) })
	return out
}

func (r *Registry) cleanupLocked() {
	now := r.now()
	for id, rec := range r.records {
		if rec.Status != StatusOnline {
			continue
		}
		age := now.Sub(time.Time(rec.LastUpdated))
		if age >= r.timeout {
			rec.Status = StatusOffline
			r.log.Warn("Device timed out", "device", id, "age", age)
		}
	}
}
