package store

import (
	"context"
	"sync"

	"github.com/adamwoolhether/forge/auth"
)

// Memory keeps everything in process memory. Values are lost when the
// process exits, which makes it suitable for tests and short-lived tools.
type Memory struct {
	mu    sync.RWMutex
	items map[string][]byte
}

// NewMemory builds an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{items: make(map[string][]byte)}
}

func (m *Memory) LoadAuth(context.Context) (*auth.Record, error) {
	return decode[auth.Record](m.get(keyAuth))
}

func (m *Memory) SaveAuth(_ context.Context, rec *auth.Record) error {
	data, err := encode(rec)
	if err != nil {
		return err
	}
	m.set(keyAuth, data)
	return nil
}

func (m *Memory) LoadIdentity(context.Context) (string, error) {
	return string(m.get(keyIdentity)), nil
}

func (m *Memory) SaveIdentity(_ context.Context, identity string) error {
	m.set(keyIdentity, []byte(identity))
	return nil
}

func (m *Memory) LoadProfile(context.Context) (*auth.Profile, error) {
	return decode[auth.Profile](m.get(keyProfile))
}

func (m *Memory) SaveProfile(_ context.Context, p *auth.Profile) error {
	data, err := encode(p)
	if err != nil {
		return err
	}
	m.set(keyProfile, data)
	return nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

func (m *Memory) get(key string) []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.items[key]
}

func (m *Memory) set(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(data) == 0 {
		delete(m.items, key)
		return
	}
	m.items[key] = data
}
