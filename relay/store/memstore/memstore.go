// Package memstore is an in-process Store used by unit tests in place of a
// live Redis instance, mirroring the way klaytn keeps a MemDatabase
// alongside its on-disk backends (storage/database.DBManager.GetMemDB).
package memstore

import (
	"context"
	"sync"

	"github.com/klaytn/relayer/relay"
	"github.com/klaytn/relayer/relay/store"
)

type entry struct {
	value   *relay.RelayState
	version uint64
}

// MemStore is a mutex-guarded map satisfying store.Store.
type MemStore struct {
	mu     sync.Mutex
	values map[string]entry
	queues map[string][]relay.MessageID

	subMu sync.Mutex
	subs  []chan string
}

// New returns an empty MemStore.
func New() *MemStore {
	return &MemStore{
		values: make(map[string]entry),
		queues: make(map[string][]relay.MessageID),
	}
}

func (m *MemStore) Get(_ context.Context, key string) (*relay.RelayState, uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.values[key]
	if !ok {
		return nil, 0, store.ErrNotFound
	}
	cp := *e.value
	return &cp, e.version, nil
}

func (m *MemStore) SetIfVersion(_ context.Context, key string, expectedVersion uint64, value *relay.RelayState) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.values[key]
	if expectedVersion == 0 {
		if ok {
			return 0, store.ErrVersionConflict
		}
	} else if !ok || e.version != expectedVersion {
		return 0, store.ErrVersionConflict
	}

	newVersion := expectedVersion + 1
	cp := *value
	cp.Version = newVersion
	m.values[key] = entry{value: &cp, version: newVersion}
	m.notify(key)
	return newVersion, nil
}

func (m *MemStore) Push(_ context.Context, queueKey string, id relay.MessageID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queues[queueKey] = append(m.queues[queueKey], id)
	m.notify(queueKey)
	return nil
}

func (m *MemStore) PopN(_ context.Context, queueKey string, n int) ([]relay.MessageID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.queues[queueKey]
	if len(q) < n {
		n = len(q)
	}
	popped := append([]relay.MessageID(nil), q[:n]...)
	m.queues[queueKey] = q[n:]
	return popped, nil
}

func (m *MemStore) Subscribe(ctx context.Context, _ string) (<-chan string, error) {
	ch := make(chan string, 64)
	m.subMu.Lock()
	m.subs = append(m.subs, ch)
	m.subMu.Unlock()

	go func() {
		<-ctx.Done()
		m.subMu.Lock()
		defer m.subMu.Unlock()
		for i, c := range m.subs {
			if c == ch {
				m.subs = append(m.subs[:i], m.subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()

	return ch, nil
}

func (m *MemStore) notify(key string) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, c := range m.subs {
		select {
		case c <- key:
		default:
		}
	}
}

func (m *MemStore) Close() error { return nil }
