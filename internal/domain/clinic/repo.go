package clinic

import (
	"context"
	"fmt"
	"sync"

	"github.com/goccy/go-json"
)

// ConfigSource returns the raw settings document of a clinic.
type ConfigSource interface {
	GetClinicSettings(ctx context.Context, clinicID int64) ([]byte, error)
}

// MemorySource is an in-memory ConfigSource used by tests, the CLI and the
// memory store driver.
type MemorySource struct {
	mu       sync.RWMutex
	settings map[int64][]byte
}

func NewMemorySource() *MemorySource {
	return &MemorySource{settings: make(map[int64][]byte)}
}

// Put stores typed settings for a clinic.
func (m *MemorySource) Put(clinicID int64, st Settings) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	m.PutRaw(clinicID, raw)
	return nil
}

// PutRaw stores a settings document as-is, including malformed ones.
func (m *MemorySource) PutRaw(clinicID int64, raw []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[clinicID] = append([]byte(nil), raw...)
}

func (m *MemorySource) GetClinicSettings(_ context.Context, clinicID int64) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	raw, ok := m.settings[clinicID]
	if !ok {
		return nil, ErrNotFound
	}
	return raw, nil
}
