// Package connmgr keeps the live connections of a transport adapter, keyed by
// an adapter specific key.
//
// A Registry is a value owned by the adapter the caller creates; there is no
// package level state. GetOrCreate is atomic, so a second connect for a key
// whose connection is still being established returns the same connection.
package connmgr

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// State is the lifecycle state of a connection.
type State int32

const (
	Connecting State = iota
	Open
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is an atomically updated State. The zero value is Connecting.
type Status struct {
	v atomic.Int32
}

// Load returns the current state.
func (s *Status) Load() State {
	return State(s.v.Load())
}

// Open moves Connecting to Open. It reports false if the connection was
// already closed.
func (s *Status) Open() bool {
	return s.v.CompareAndSwap(int32(Connecting), int32(Open))
}

// Close moves any state to Closed and reports whether this call did it.
func (s *Status) Close() bool {
	return State(s.v.Swap(int32(Closed))) != Closed
}

// Conn is a registered connection.
type Conn interface {
	State() State
	Close() error
}

// Subscriber is implemented by connections that multiplex topics.
type Subscriber interface {
	Topics() []string
}

// Info describes one registered connection.
type Info struct {
	Key           string   `json:"key" yaml:"key"`
	State         State    `json:"state" yaml:"state"`
	Subscriptions []string `json:"subscriptions,omitempty" yaml:"subscriptions,omitempty"`
}

// Registry maps keys to live connections.
type Registry[K comparable, V Conn] struct {
	mu    sync.Mutex
	conns map[K]V
}

// GetOrCreate returns the connection registered for key if it is connecting
// or open. Otherwise it calls create, registers the result and reports
// created. create runs with the registry locked and must not block.
func (r *Registry[K, V]) GetOrCreate(key K, create func() V) (v V, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.conns[key]; ok && cur.State() != Closed {
		return cur, false
	}
	if r.conns == nil {
		r.conns = make(map[K]V)
	}
	v = create()
	r.conns[key] = v
	return v, true
}

// Get returns the connection registered for key.
func (r *Registry[K, V]) Get(key K) (V, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.conns[key]
	return v, ok
}

// Remove unregisters key if it still maps to v. A connection replaced by a
// newer one for the same key is left alone.
func (r *Registry[K, V]) Remove(key K, v V) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.conns[key]
	if !ok || any(cur) != any(v) {
		return false
	}
	delete(r.conns, key)
	return true
}

// Len returns the number of registered connections.
func (r *Registry[K, V]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Range calls fn for every registered connection until fn returns false. fn
// runs on a copy, so it may call back into the registry.
func (r *Registry[K, V]) Range(fn func(K, V) bool) {
	r.mu.Lock()
	keys := make([]K, 0, len(r.conns))
	vals := make([]V, 0, len(r.conns))
	for k, v := range r.conns {
		keys = append(keys, k)
		vals = append(vals, v)
	}
	r.mu.Unlock()
	for i := range keys {
		if !fn(keys[i], vals[i]) {
			return
		}
	}
}

// Snapshot describes every registered connection, sorted by key.
func (r *Registry[K, V]) Snapshot() []Info {
	var out []Info
	r.Range(func(k K, v V) bool {
		info := Info{Key: fmt.Sprint(k), State: v.State()}
		if s, ok := any(v).(Subscriber); ok {
			info.Subscriptions = s.Topics()
		}
		out = append(out, info)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// CloseAll closes and unregisters every connection.
func (r *Registry[K, V]) CloseAll() error {
	r.mu.Lock()
	conns := r.conns
	r.conns = nil
	r.mu.Unlock()

	var errs []error
	for k, v := range conns {
		if err := v.Close(); err != nil {
			errs = append(errs, fmt.Errorf("connmgr: close %v: %w", k, err))
		}
	}
	return errors.Join(errs...)
}
