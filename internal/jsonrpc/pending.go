package jsonrpc

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Callback receives the outcome of an outbound request: the raw result, or
// the error the peer replied with.
type Callback func(result json.RawMessage, err error)

type pendingEntry struct {
	method string
	cb     Callback
}

// Pending tracks outbound requests awaiting a reply. Every entry is removed
// exactly once: by Resolve for its id or by EvictAll.
type Pending struct {
	mu      sync.Mutex
	entries map[int64]pendingEntry
}

func NewPending() *Pending {
	return &Pending{entries: make(map[int64]pendingEntry)}
}

// Add records id as outstanding. It refuses duplicates so at most one entry
// exists per id.
func (p *Pending) Add(id int64, method string, cb Callback) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.entries[id]; exists {
		return fmt.Errorf("request id %d already pending", id)
	}
	p.entries[id] = pendingEntry{method: method, cb: cb}
	return nil
}

// Remove deletes id without invoking its callback.
func (p *Pending) Remove(id int64) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[id]
	if ok {
		delete(p.entries, id)
	}
	return e.method, ok
}

// Resolve removes id and invokes its callback with the outcome. It returns
// the method the request was issued for; an unknown id is a no-op that
// reports false.
func (p *Pending) Resolve(id int64, result json.RawMessage, err error) (string, bool) {
	p.mu.Lock()
	e, ok := p.entries[id]
	if ok {
		delete(p.entries, id)
	}
	p.mu.Unlock()

	if !ok {
		return "", false
	}
	if e.cb != nil {
		e.cb(result, err)
	}
	return e.method, true
}

// Has reports whether id is outstanding.
func (p *Pending) Has(id int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.entries[id]
	return ok
}

// Len returns the number of outstanding requests.
func (p *Pending) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Snapshot returns a copy of the table as id to method.
func (p *Pending) Snapshot() map[int64]string {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[int64]string, len(p.entries))
	for id, e := range p.entries {
		out[id] = e.method
	}
	return out
}

// EvictAll empties the table and resolves every callback with err, in id
// order. It returns the evicted requests as id to method, taken in the same
// critical section that emptied the table.
func (p *Pending) EvictAll(err error) map[int64]string {
	p.mu.Lock()
	entries := p.entries
	p.entries = make(map[int64]pendingEntry)
	p.mu.Unlock()

	evicted := make(map[int64]string, len(entries))
	ids := make([]int64, 0, len(entries))
	for id, e := range entries {
		ids = append(ids, id)
		evicted[id] = e.method
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		if cb := entries[id].cb; cb != nil {
			cb(nil, err)
		}
	}
	return evicted
}
