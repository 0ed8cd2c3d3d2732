// Package registry provides the process-wide CallRegistry: an index of
// active calls keyed by the telephony provider's call-control identifier,
// plus a bridged-call set (MarkBridged/IsBridged).
//
// Grounded on the per-call state map + RWMutex shape used by
// other_examples' agentplexus-agentcall callmanager, generalized to a
// sharded map so IsBridged stays wait-free under concurrent media-frame
// reads (spec.md §5).
package registry

import (
	"hash/fnv"
	"sync"
)

const shardCount = 16

type shard struct {
	mu      sync.RWMutex
	calls   map[string]CallHandle
	bridged map[string]struct{}
}

// CallHandle is the minimal surface the registry needs from a call. The
// concrete *call.Call satisfies this without an import cycle (pkg/call
// imports pkg/registry, not the other way around).
type CallHandle interface {
	ID() string
}

// Shutdowner is the subset of CallHandle that owns cleanup-on-exit work
// (timers, STT/media sockets, its own registry entry). *call.Controller
// satisfies this; a bare CallHandle inserted before a controller attaches
// does not, and is skipped by TeardownAll.
type Shutdowner interface {
	CallHandle
	Cleanup()
}

// Registry is the process-wide CallRegistry.
type Registry struct {
	shards [shardCount]*shard
}

// New creates an empty, ready-to-use Registry.
func New() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i] = &shard{
			calls:   make(map[string]CallHandle),
			bridged: make(map[string]struct{}),
		}
	}
	return r
}

func (r *Registry) shardFor(callID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(callID))
	return r.shards[h.Sum32()%shardCount]
}

// Insert adds a call on its first control event. Returns false if a call
// with the same ID is already registered (insert is not an overwrite).
func (r *Registry) Insert(call CallHandle) bool {
	s := r.shardFor(call.ID())
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.calls[call.ID()]; exists {
		return false
	}
	s.calls[call.ID()] = call
	return true
}

// Get returns the registered call for callID, if any.
func (r *Registry) Get(callID string) (CallHandle, bool) {
	s := r.shardFor(callID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.calls[callID]
	return c, ok
}

// Remove deletes callID from the registry and its bridged set. Safe to
// call more than once for the same callID (cleanup idempotence, spec.md §5).
func (r *Registry) Remove(callID string) {
	s := r.shardFor(callID)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.calls, callID)
	delete(s.bridged, callID)
}

// MarkBridged flags callID as bridged to a human agent; IsBridged will
// return true for it until Remove is called.
func (r *Registry) MarkBridged(callID string) {
	s := r.shardFor(callID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bridged[callID] = struct{}{}
}

// IsBridged reports whether callID is currently bridged, under a shard
// read lock. CallController does not mark calls here; its inbound media
// path checks the call's own Bridged flag instead.
func (r *Registry) IsBridged(callID string) bool {
	s := r.shardFor(callID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.bridged[callID]
	return ok
}

// TeardownAll runs Cleanup on every registered call that implements
// Shutdowner, for process shutdown (spec.md §9 "registry torn down at
// shutdown"). Each call's own Cleanup is responsible for disconnecting
// its STT session, aborting in-flight TTS, closing its media socket, and
// removing itself from the registry — so the shard locks are released
// before any Cleanup runs, avoiding reentrant locking through Remove.
func (r *Registry) TeardownAll() {
	for _, s := range r.shards {
		s.mu.RLock()
		handles := make([]CallHandle, 0, len(s.calls))
		for _, c := range s.calls {
			handles = append(handles, c)
		}
		s.mu.RUnlock()

		for _, h := range handles {
			if sd, ok := h.(Shutdowner); ok {
				sd.Cleanup()
			}
		}
	}
}

// Len returns the total number of registered calls across all shards.
// Intended for diagnostics, not the hot path.
func (r *Registry) Len() int {
	total := 0
	for _, s := range r.shards {
		s.mu.RLock()
		total += len(s.calls)
		s.mu.RUnlock()
	}
	return total
}
