package store

import "sync"

// Memory is an in-process Store for tests and host shells that cannot
// touch disk. Contents do not survive a restart.
type Memory struct {
	mu   sync.RWMutex
	data map[string]string
}

var _ Store = &Memory{}

func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

func (m *Memory) Get(key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.data[key]
	if !ok {
		return "", &ErrKeyNotFound{Key: key}
	}
	return value, nil
}

func (m *Memory) Set(key string, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *Memory) Close() error {
	return nil
}
