package storage

import (
	"sync"

	dbm "github.com/cometbft/cometbft-db"
)

// KV is the pluggable key-value interface the joint store and data-feed
// index are built on, generalized from the teacher's pkg/ledger.KV (which
// only needed Get/Set for ABCI state) to also support Has/Delete for
// archival and catchup bookkeeping.
type KV interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Has(key []byte) (bool, error)
	Delete(key []byte) error
}

// KVAdapter wraps a CometBFT dbm.DB and exposes KV, the same way the
// teacher's pkg/kvdb.KVAdapter wraps dbm.DB for ledger.KV — repurposed here
// as the embedded joint-blob store instead of ABCI application state.
type KVAdapter struct {
	db dbm.DB
}

// NewKVAdapter wraps db as a KV.
func NewKVAdapter(db dbm.DB) *KVAdapter {
	return &KVAdapter{db: db}
}

// Get implements KV.
func (a *KVAdapter) Get(key []byte) ([]byte, error) {
	if a.db == nil {
		return nil, nil
	}
	v, err := a.db.Get(key)
	if err != nil {
		return nil, err
	}
	// v may be nil if key not found; the joint store treats nil as "not
	// present" rather than an error.
	return v, nil
}

// Set implements KV, using SetSync for durable writes at commit time.
func (a *KVAdapter) Set(key, value []byte) error {
	if a.db == nil {
		return nil
	}
	return a.db.SetSync(key, value)
}

// Has implements KV.
func (a *KVAdapter) Has(key []byte) (bool, error) {
	if a.db == nil {
		return false, nil
	}
	return a.db.Has(key)
}

// Delete implements KV, using DeleteSync so archival is durable immediately.
func (a *KVAdapter) Delete(key []byte) error {
	if a.db == nil {
		return nil
	}
	return a.db.DeleteSync(key)
}

// MemKV is an in-memory KV for tests and for a single-node development
// instance that doesn't need cometbft-db's durability.
type MemKV struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemKV returns an empty in-memory KV.
func NewMemKV() *MemKV {
	return &MemKV{data: make(map[string][]byte)}
}

// Get implements KV.
func (m *MemKV) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[string(key)]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Set implements KV.
func (m *MemKV) Set(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	m.data[string(key)] = v
	return nil
}

// Has implements KV.
func (m *MemKV) Has(key []byte) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[string(key)]
	return ok, nil
}

// Delete implements KV.
func (m *MemKV) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, string(key))
	return nil
}
