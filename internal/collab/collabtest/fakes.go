// Package collabtest provides scripted collaborator fakes for kernel
// tests.
package collabtest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/loopkit/quadra/internal/collab"
)

// Response is one scripted reasoner reply.
type Response struct {
	Payload json.RawMessage
	Err     error
}

// ScriptedReasoner replays responses keyed by request purpose, recording
// every call. Responses for a purpose are consumed in order; the last one
// repeats once its queue is exhausted.
type ScriptedReasoner struct {
	mu     sync.Mutex
	script map[string][]Response
	served map[string]int

	// Calls records every request in arrival order.
	Calls []collab.Request
}

// NewScriptedReasoner creates an empty scripted reasoner.
func NewScriptedReasoner() *ScriptedReasoner {
	return &ScriptedReasoner{
		script: make(map[string][]Response),
		served: make(map[string]int),
	}
}

// On queues responses for the given purpose.
func (r *ScriptedReasoner) On(purpose string, responses ...Response) *ScriptedReasoner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.script[purpose] = append(r.script[purpose], responses...)
	return r
}

// OnJSON queues a single successful response with the given JSON payload.
func (r *ScriptedReasoner) OnJSON(purpose, payload string) *ScriptedReasoner {
	return r.On(purpose, Response{Payload: json.RawMessage(payload)})
}

// Call implements collab.Reasoner.
func (r *ScriptedReasoner) Call(_ context.Context, req collab.Request) (json.RawMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Calls = append(r.Calls, req)

	queue := r.script[req.Purpose]
	if len(queue) == 0 {
		return nil, fmt.Errorf("no scripted response for purpose %q", req.Purpose)
	}
	i := r.served[req.Purpose]
	if i >= len(queue) {
		i = len(queue) - 1
	}
	r.served[req.Purpose]++
	resp := queue[i]
	return resp.Payload, resp.Err
}

// CallCount returns how many calls were made, optionally filtered by
// purpose.
func (r *ScriptedReasoner) CallCount(purpose string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if purpose == "" {
		return len(r.Calls)
	}
	n := 0
	for _, c := range r.Calls {
		if c.Purpose == purpose {
			n++
		}
	}
	return n
}

// RecordingMemory is an in-memory collab.Memory that counts writes per
// key.
type RecordingMemory struct {
	mu     sync.Mutex
	data   map[string][]byte
	writes map[string]int
}

// NewRecordingMemory creates an empty recording memory.
func NewRecordingMemory() *RecordingMemory {
	return &RecordingMemory{
		data:   make(map[string][]byte),
		writes: make(map[string]int),
	}
}

// Write implements collab.Memory.
func (m *RecordingMemory) Write(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	m.writes[key]++
	return nil
}

// Read implements collab.Memory.
func (m *RecordingMemory) Read(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

// Search implements collab.Memory.
func (m *RecordingMemory) Search(_ context.Context, prefix string) ([]collab.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var entries []collab.Entry
	for k, v := range m.data {
		if strings.HasPrefix(k, prefix) {
			entries = append(entries, collab.Entry{Key: k, Value: v})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

// WriteCount returns the number of writes recorded, either for one key or,
// with a trailing "*", for all keys matching the prefix.
func (m *RecordingMemory) WriteCount(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prefix, ok := strings.CutSuffix(key, "*"); ok {
		n := 0
		for k, c := range m.writes {
			if strings.HasPrefix(k, prefix) {
				n += c
			}
		}
		return n
	}
	return m.writes[key]
}
