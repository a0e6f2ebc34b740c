package checkpoint

import (
	"sync"

	"github.com/Milix-M/DeepReSearch/pkg/schema"
)

// Keyring serializes advances per thread: two concurrent advances of one
// thread must never interleave, while different threads proceed in parallel.
// Acquisition is non-blocking; a busy key is a caller error, not a queue.
type Keyring struct {
	mu   sync.Mutex
	busy map[string]bool
}

// NewKeyring returns an empty keyring.
func NewKeyring() *Keyring {
	return &Keyring{busy: make(map[string]bool)}
}

// TryAcquire claims the key and returns its release func. A key already held
// fails with CONFLICT.
func (k *Keyring) TryAcquire(key string) (func(), error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.busy[key] {
		return nil, schema.NewErrorf(schema.ErrCodeConflict, "thread %q is already advancing", key)
	}
	k.busy[key] = true
	return func() {
		k.mu.Lock()
		delete(k.busy, key)
		k.mu.Unlock()
	}, nil
}

// Held reports whether the key is currently claimed.
func (k *Keyring) Held(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.busy[key]
}
