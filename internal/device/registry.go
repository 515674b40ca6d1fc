package device

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-roborock/internal/infrastructure/config"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry provides device lookup with caching and thread safety.
// It wraps a Repository and adds an in-memory cache keyed by duid.
//
// The cache is populated on startup via RefreshCache() and kept in sync
// by every write operation.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	cache   map[string]*Device
	cacheMu sync.RWMutex
	logger  Logger
}

// NewRegistry creates a new device registry.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]*Device),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads all devices from the repository into the cache.
func (r *Registry) RefreshCache(ctx context.Context) error {
	devices, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.cache = make(map[string]*Device, len(devices))
	for i := range devices {
		r.cache[devices[i].DUID] = devices[i].DeepCopy()
	}

	r.logger.Info("device cache refreshed", "count", len(devices))
	return nil
}

// Seed validates and upserts the configured devices, then refreshes the
// cache. Invalid seeds abort the whole call before anything is written.
func (r *Registry) Seed(ctx context.Context, seeds []config.DeviceConfig) error {
	devices := make([]*Device, 0, len(seeds))
	for _, s := range seeds {
		d := FromConfig(s)
		if err := ValidateDevice(d); err != nil {
			return fmt.Errorf("seeding %s: %w", s.DUID, err)
		}
		devices = append(devices, d)
	}

	for _, d := range devices {
		if err := r.repo.Upsert(ctx, d); err != nil {
			return fmt.Errorf("seeding %s: %w", d.DUID, err)
		}
	}

	r.logger.Info("devices seeded from config", "count", len(devices))
	return r.RefreshCache(ctx)
}

// GetDevice retrieves a device by duid.
// The returned device is a deep copy; callers can safely modify it.
func (r *Registry) GetDevice(ctx context.Context, duid string) (*Device, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[duid]
	r.cacheMu.RUnlock()
	if ok {
		return cached.DeepCopy(), nil
	}

	d, err := r.repo.GetByDUID(ctx, duid)
	if err != nil {
		return nil, err
	}

	r.cacheMu.Lock()
	r.cache[duid] = d.DeepCopy()
	r.cacheMu.Unlock()

	return d, nil
}

// ListDevices returns all devices sorted by duid.
// The returned devices are deep copies.
func (r *Registry) ListDevices(ctx context.Context) ([]Device, error) {
	r.cacheMu.RLock()
	if len(r.cache) == 0 {
		r.cacheMu.RUnlock()
		return r.repo.List(ctx)
	}
	devices := make([]Device, 0, len(r.cache))
	for _, d := range r.cache {
		devices = append(devices, *d.DeepCopy())
	}
	r.cacheMu.RUnlock()

	sort.Slice(devices, func(i, j int) bool { return devices[i].DUID < devices[j].DUID })
	return devices, nil
}

// RecordNonce persists a handshake nonce and updates the cache.
func (r *Registry) RecordNonce(ctx context.Context, duid string, nonce uint32) error {
	if err := r.repo.UpdateNonce(ctx, duid, nonce); err != nil {
		return err
	}

	r.cacheMu.Lock()
	if d, ok := r.cache[duid]; ok {
		n := nonce
		d.Nonce = &n
	}
	r.cacheMu.Unlock()

	r.logger.Debug("device nonce recorded", "duid", duid)
	return nil
}

// MarkSeen records that a frame was received from a device.
func (r *Registry) MarkSeen(ctx context.Context, duid string, seen time.Time) error {
	if err := r.repo.UpdateLastSeen(ctx, duid, seen); err != nil {
		return err
	}

	r.cacheMu.Lock()
	if d, ok := r.cache[duid]; ok {
		t := seen.UTC()
		d.LastSeen = &t
	}
	r.cacheMu.Unlock()
	return nil
}

// DeleteDevice removes a device from storage and the cache.
func (r *Registry) DeleteDevice(ctx context.Context, duid string) error {
	if err := r.repo.Delete(ctx, duid); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.cache, duid)
	r.cacheMu.Unlock()

	r.logger.Info("device deleted", "duid", duid)
	return nil
}

// GetDeviceCount returns the number of cached devices.
func (r *Registry) GetDeviceCount() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}
