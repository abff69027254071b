// Package state implements the engine's variable store: a global map plus a
// stack of lexical scopes, with path-based access and snapshot/restore.
package state

import (
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/flowmesh/engine/internal/engineerr"
)

// Metadata tracks per-name bookkeeping for each stored variable.
type Metadata struct {
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	AccessCount int       `json:"accessCount"`
	Scope       int       `json:"scope"` // 0 = globals, >0 = scope depth
}

type scope struct {
	values   map[string]interface{}
	metadata map[string]*Metadata
}

func newScope() *scope {
	return &scope{values: make(map[string]interface{}), metadata: make(map[string]*Metadata)}
}

// Computed is a thunk invoked on Get, re-computing its value every access.
type Computed func() (interface{}, error)

// State is the per-flow variable store. Not safe for concurrent mutation
// from multiple owners at once — it is expected to be accessed by a single
// owner at a time; the mutex exists only to keep Snapshot/GetAll reads
// consistent against a concurrently running tool call.
type State struct {
	mu       sync.Mutex
	globals  *scope
	scopes   []*scope
	computed map[string]Computed
}

func New() *State {
	return &State{globals: newScope(), computed: make(map[string]Computed)}
}

func (s *State) top() *scope {
	if len(s.scopes) > 0 {
		return s.scopes[len(s.scopes)-1]
	}
	return nil
}

// Set writes into the top scope if one exists, else into globals.
func (s *State) Set(name string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	target := s.top()
	depth := len(s.scopes)
	if target == nil {
		target = s.globals
		depth = 0
	}
	s.write(target, depth, name, value)
}

func (s *State) write(target *scope, depth int, name string, value interface{}) {
	target.values[name] = value
	if md, ok := target.metadata[name]; ok {
		md.UpdatedAt = time.Now()
	} else {
		now := time.Now()
		target.metadata[name] = &Metadata{CreatedAt: now, UpdatedAt: now, Scope: depth}
	}
}

// Has reports whether name resolves via Get without invoking a computed
// thunk.
func (s *State) Has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lookup(name); ok {
		return true
	}
	_, ok := s.computed[name]
	return ok
}

// lookup searches scopes top-down, then globals, without touching computed
// entries.
func (s *State) lookup(name string) (interface{}, bool) {
	for i := len(s.scopes) - 1; i >= 0; i-- {
		if v, ok := s.scopes[i].values[name]; ok {
			s.touch(s.scopes[i], name)
			return v, true
		}
	}
	if v, ok := s.globals.values[name]; ok {
		s.touch(s.globals, name)
		return v, true
	}
	return nil, false
}

func (s *State) touch(sc *scope, name string) {
	if md, ok := sc.metadata[name]; ok {
		md.AccessCount++
	}
}

// Get searches top-of-stack down, then globals, then computed thunks.
func (s *State) Get(name string) (interface{}, error) {
	s.mu.Lock()
	if v, ok := s.lookup(name); ok {
		s.mu.Unlock()
		return v, nil
	}
	thunk, ok := s.computed[name]
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return thunk()
}

// SetComputed registers a thunk invoked on every Get of name.
func (s *State) SetComputed(name string, thunk Computed) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.computed[name] = thunk
}

// Delete removes name from whichever scope currently holds it (top-down),
// then globals.
func (s *State) Delete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.scopes) - 1; i >= 0; i-- {
		if _, ok := s.scopes[i].values[name]; ok {
			delete(s.scopes[i].values, name)
			delete(s.scopes[i].metadata, name)
			return
		}
	}
	delete(s.globals.values, name)
	delete(s.globals.metadata, name)
}

// Clear removes all globals, scopes, and computed entries.
func (s *State) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.globals = newScope()
	s.scopes = nil
	s.computed = make(map[string]Computed)
}

// PushScope opens a new lexical frame.
func (s *State) PushScope() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scopes = append(s.scopes, newScope())
}

// PopScope closes the innermost frame and discards its bindings.
func (s *State) PopScope() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.scopes) == 0 {
		return engineerr.Validation("scope", "cannot pop scope: stack is empty")
	}
	s.scopes = s.scopes[:len(s.scopes)-1]
	return nil
}

func (s *State) GetScopeDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.scopes)
}

// GetPath resolves name then indexes into it via dotted path segments
// (numeric segments index arrays); bracket syntax is not translated.
func (s *State) GetPath(name, path string) (interface{}, error) {
	root, err := s.Get(name)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return root, nil
	}
	raw, err := json.Marshal(root)
	if err != nil {
		return nil, engineerr.Validation("path", "value for %q is not path-addressable: %v", name, err)
	}
	result := gjson.GetBytes(raw, gjsonPath(path))
	if !result.Exists() {
		return nil, engineerr.Validation("path", "path %q.%s does not resolve", name, path)
	}
	return result.Value(), nil
}

// SetPath clones the root value, mutates the clone at path, and writes the
// clone back, so external references to the original are unaffected.
func (s *State) SetPath(name, path string, value interface{}) error {
	root, err := s.Get(name)
	if err != nil {
		return err
	}
	if root == nil {
		root = map[string]interface{}{}
	}
	cloned, err := deepClone(root)
	if err != nil {
		return engineerr.Validation("path", "cannot clone %q: %v", name, err)
	}
	if err := setAtPath(cloned, splitPath(path), value); err != nil {
		return err
	}
	s.Set(name, cloned)
	return nil
}

// Snapshot captures a plain, serialisable view: globals, scopes, metadata,
// and the names (not functions) of computed entries. Metadata is keyed by
// "<depth>:<name>" (depth 0 is globals, depth i+1 is scopes[i]) so a name
// shadowed across globals and a scope round-trips without the two
// occurrences colliding on a single bare-name entry.
type Snapshot struct {
	Globals       map[string]interface{}   `json:"globals"`
	Scopes        []map[string]interface{} `json:"scopes"`
	Metadata      map[string]*Metadata      `json:"metadata"`
	ComputedNames []string                  `json:"computedNames"`
}

func metaKey(depth int, name string) string {
	return strconv.Itoa(depth) + ":" + name
}

func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	globals := cloneValues(s.globals.values)
	metadata := make(map[string]*Metadata, len(s.globals.metadata))
	for k, v := range s.globals.metadata {
		cp := *v
		metadata[metaKey(0, k)] = &cp
	}

	scopes := make([]map[string]interface{}, len(s.scopes))
	for i, sc := range s.scopes {
		scopes[i] = cloneValues(sc.values)
		for k, v := range sc.metadata {
			cp := *v
			metadata[metaKey(i+1, k)] = &cp
		}
	}

	names := make([]string, 0, len(s.computed))
	for name := range s.computed {
		names = append(names, name)
	}

	return Snapshot{Globals: globals, Scopes: scopes, Metadata: metadata, ComputedNames: names}
}

// Restore replaces the store's contents with a previously captured
// Snapshot. Computed thunks are NOT restored — a function value cannot
// survive serialization, so callers must re-register them via SetComputed
// before the first Get of that name.
func (s *State) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.globals = newScope()
	for k, v := range snap.Globals {
		s.globals.values[k] = v
		if md, ok := snap.Metadata[metaKey(0, k)]; ok {
			cp := *md
			s.globals.metadata[k] = &cp
		}
	}

	s.scopes = make([]*scope, len(snap.Scopes))
	for i, vals := range snap.Scopes {
		sc := newScope()
		for k, v := range vals {
			sc.values[k] = v
			if md, ok := snap.Metadata[metaKey(i+1, k)]; ok {
				cp := *md
				sc.metadata[k] = &cp
			}
		}
		s.scopes[i] = sc
	}

	s.computed = make(map[string]Computed)
}

// GetAll returns a flattened overlay of globals covered by each scope, from
// oldest to newest.
func (s *State) GetAll() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := cloneValues(s.globals.values)
	for _, sc := range s.scopes {
		for k, v := range sc.values {
			out[k] = v
		}
	}
	return out
}

// ToJSON serialises globals only.
func (s *State) ToJSON() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return json.Marshal(s.globals.values)
}

// FromJSON replaces globals with the decoded object. Malformed JSON fails
// with a StateError (VALIDATION code).
func (s *State) FromJSON(data []byte) error {
	var vals map[string]interface{}
	if err := json.Unmarshal(data, &vals); err != nil {
		return engineerr.Validation("json", "malformed state JSON: %v", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sc := newScope()
	now := time.Now()
	for k, v := range vals {
		sc.values[k] = v
		sc.metadata[k] = &Metadata{CreatedAt: now, UpdatedAt: now}
	}
	s.globals = sc
	return nil
}

func cloneValues(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func deepClone(v interface{}) (interface{}, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func gjsonPath(path string) string {
	return path
}

func splitPath(path string) []string {
	var segs []string
	cur := ""
	for _, r := range path {
		if r == '.' {
			if cur != "" {
				segs = append(segs, cur)
				cur = ""
			}
			continue
		}
		cur += string(r)
	}
	if cur != "" {
		segs = append(segs, cur)
	}
	return segs
}

func setAtPath(root interface{}, segs []string, value interface{}) error {
	if len(segs) == 0 {
		return engineerr.Validation("path", "empty path")
	}
	return setAtPathRec(root, segs, value)
}

func setAtPathRec(node interface{}, segs []string, value interface{}) error {
	seg := segs[0]
	last := len(segs) == 1

	if idx, err := strconv.Atoi(seg); err == nil {
		arr, ok := node.([]interface{})
		if !ok {
			return engineerr.Validation("path", "expected array at %q, got %T", seg, node)
		}
		if idx < 0 || idx >= len(arr) {
			return engineerr.Validation("path", "array index %d out of bounds (len %d)", idx, len(arr))
		}
		if last {
			arr[idx] = value
			return nil
		}
		return setAtPathRec(arr[idx], segs[1:], value)
	}

	obj, ok := node.(map[string]interface{})
	if !ok {
		return engineerr.Validation("path", "expected object at %q, got %T", seg, node)
	}
	if last {
		obj[seg] = value
		return nil
	}
	child, ok := obj[seg]
	if !ok {
		child = map[string]interface{}{}
		obj[seg] = child
	}
	return setAtPathRec(child, segs[1:], value)
}
